// Package graph builds the derived Knowledge Graph described in §3: nodes
// grouped as {app, time-bucket, keyword} joined by weighted {occurs-at,
// contains} edges, rebuilt from activity_logs and cached with a TTL.
//
// Unlike a primary store, this graph is disposable -- it is recomputed
// wholesale from the activity log rather than maintained incrementally, so
// a corrupt or stale cache is never a correctness problem, only a staleness
// one bounded by the TTL.
package graph

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/False-Maker/memflow/internal/store"
)

// cacheTTL is how long a snapshot is served before being considered stale,
// per §3.
const cacheTTL = 300 * time.Second

// rebuildWindow caps how many recent activities feed a rebuild, so the
// graph doesn't grow unbounded memory on a multi-year corpus.
const rebuildWindow = 20000

// maxKeywordsPerActivity bounds how many keyword nodes one window title or
// OCR text can contribute, keeping a single chatty document from dominating
// the graph.
const maxKeywordsPerActivity = 8

// minKeywordLen is the shortest token considered a keyword.
const minKeywordLen = 4

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// stopwords are common filler words excluded from keyword extraction.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "have": true, "your": true, "you": true,
	"are": true, "was": true, "will": true, "about": true, "into": true,
	"file": true, "edit": true, "view": true, "window": true, "help": true,
}

// Graph serves TTL-cached snapshots of the knowledge graph, rebuilding from
// activity_logs when the cache expires or the activity count has changed.
type Graph struct {
	db *store.DB

	mu          sync.Mutex
	builtAt     time.Time
	builtCount  int64
	nodes       []store.KGNode
	edges       []store.KGEdge
}

// New constructs a Graph over db.
func New(db *store.DB) *Graph {
	return &Graph{db: db}
}

// Snapshot returns the current nodes and edges, rebuilding first if the
// cache is older than the TTL or the activity count has moved since the
// last build.
func (g *Graph) Snapshot(ctx context.Context) ([]store.KGNode, []store.KGEdge, error) {
	count, err := g.db.CountActivities()
	if err != nil {
		return nil, nil, err
	}

	g.mu.Lock()
	fresh := time.Since(g.builtAt) < cacheTTL && g.builtCount == count && !g.builtAt.IsZero()
	if fresh {
		nodes, edges := g.nodes, g.edges
		g.mu.Unlock()
		return nodes, edges, nil
	}
	g.mu.Unlock()

	if err := g.rebuild(ctx, count); err != nil {
		return nil, nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes, g.edges, nil
}

// rebuild recomputes the graph from the most recent activities and persists
// it via the knowledge_nodes/knowledge_edges tables, then refreshes the
// in-memory cache.
func (g *Graph) rebuild(ctx context.Context, activityCount int64) error {
	rows, err := g.db.ActivitiesInWindow(0, time.Now().Unix(), rebuildWindow)
	if err != nil {
		return err
	}

	// Start from empty tables so edge weights count this rebuild's
	// activities only, not every earlier rebuild's as well.
	for _, table := range []string{"knowledge_edges", "knowledge_nodes"} {
		if _, err := g.db.Conn().Exec("DELETE FROM " + table); err != nil {
			return err
		}
	}

	for _, a := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		appID, err := g.db.UpsertKGNode(store.KGNodeApp, a.AppName)
		if err != nil {
			return err
		}
		bucketID, err := g.db.UpsertKGNode(store.KGNodeTimeBucket, timeBucket(a.Timestamp))
		if err != nil {
			return err
		}
		if err := g.db.UpsertKGEdge(appID, bucketID, store.KGRelOccursAt, 1); err != nil {
			return err
		}

		for _, kw := range extractKeywords(a.WindowTitle, a.OCRText.String) {
			kwID, err := g.db.UpsertKGNode(store.KGNodeKeyword, kw)
			if err != nil {
				return err
			}
			if err := g.db.UpsertKGEdge(bucketID, kwID, store.KGRelContains, 1); err != nil {
				return err
			}
		}
	}

	nodes, edges, err := g.db.KGSnapshot()
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.nodes, g.edges = nodes, edges
	g.builtAt = time.Now()
	g.builtCount = activityCount
	g.mu.Unlock()
	return nil
}

// Neighbors returns nodes reachable from a keyword, app, or time-bucket
// label, for a UI or the agent to surface related context.
func (g *Graph) Neighbors(nodeType, label string, relationship string) ([]store.KGNode, error) {
	nodes, _, err := g.Snapshot(context.Background())
	if err != nil {
		return nil, err
	}
	var nodeID int64
	found := false
	for _, n := range nodes {
		if n.Type == nodeType && n.Label == label {
			nodeID = n.ID
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}
	return g.db.KGNeighbors(nodeID, relationship)
}

// timeBucket groups a timestamp into an hour-resolution bucket label.
func timeBucket(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02T15")
}

// extractKeywords tokenizes title and ocrText, lowercases, drops stopwords
// and short tokens, dedupes, and caps the result.
func extractKeywords(title, ocrText string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, src := range []string{title, ocrText} {
		for _, tok := range tokenPattern.FindAllString(src, -1) {
			if len(out) >= maxKeywordsPerActivity {
				return out
			}
			kw := strings.ToLower(tok)
			if len(kw) < minKeywordLen || stopwords[kw] || seen[kw] {
				continue
			}
			seen[kw] = true
			out = append(out, kw)
		}
	}
	return out
}
