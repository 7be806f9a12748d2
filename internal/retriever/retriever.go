// Package retriever implements the Hybrid Retriever (§4.8): BM25-via-FTS
// coarse filter, vector rerank restricted to the candidate set, then time
// decay fusion. Grounded on the teacher's two-stage coarse-then-rerank
// shape in internal/store/search.go and ranking.go, generalized from
// vector-primary + keyword-supplement to BM25-primary + vector-rerank.
package retriever

import (
	"database/sql"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/False-Maker/memflow/internal/embedding"
	"github.com/False-Maker/memflow/internal/store"
)

// Result is one ranked hit.
type Result struct {
	ActivityID int64
	Score      float64
}

// Retriever combines the store's FTS/vector search with the fusion
// algorithm from §4.8.
type Retriever struct {
	db       *store.DB
	provider embedding.Provider
}

// New constructs a Retriever. provider may be nil, in which case query
// embeddings fall back to the deterministic placeholder.
func New(db *store.DB, provider embedding.Provider) *Retriever {
	return &Retriever{db: db, provider: provider}
}

// Search runs the full algorithm for queryText and returns up to L results,
// sorted by fused+decayed score descending.
func (r *Retriever) Search(queryText string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}

	candidateSize := 4 * limit
	if candidateSize < 50 {
		candidateSize = 50
	}

	// Step 1: BM25 coarse filter via FTS MATCH, query split on whitespace
	// joined with OR.
	matchExpr := toMatchExpr(queryText)
	var candidateIDs []int64
	var bm25Scores map[int64]float64
	if matchExpr != "" {
		var err error
		candidateIDs, bm25Scores, err = r.bm25Candidates(matchExpr, queryText, candidateSize)
		if err != nil {
			return nil, err
		}
	}

	// Step 2: query embedding.
	queryVec := embedding.Embed(r.provider, queryText, "query")

	// Step 3: vector search restricted to the candidate set; fall back to
	// unrestricted search over top 2L if candidates are empty.
	var vecResults []store.ScoredActivity
	var err error
	if len(candidateIDs) > 0 {
		vecResults, err = r.db.VectorSearch(queryVec, candidateIDs, candidateSize)
	} else {
		vecResults, err = r.db.VectorSearch(queryVec, nil, 2*limit)
	}
	if err != nil {
		return nil, err
	}

	// Step 4: fuse per-id.
	fused := make(map[int64]float64, len(vecResults))
	for _, v := range vecResults {
		bm25 := bm25Scores[v.ActivityID] // 0 if absent
		fused[v.ActivityID] = 0.6*v.Score + 0.4*bm25
	}
	// Candidates that matched BM25 but fell out of the vector-search top-N
	// still deserve a (vector-less) fused score so lexical-only hits aren't
	// silently dropped.
	for id, bm25 := range bm25Scores {
		if _, ok := fused[id]; !ok {
			fused[id] = 0.4 * bm25
		}
	}

	if len(fused) == 0 {
		return nil, nil
	}

	// Step 5: time decay.
	ids := make([]int64, 0, len(fused))
	for id := range fused {
		ids = append(ids, id)
	}
	timestamps, err := r.batchTimestamps(ids)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	results := make([]Result, 0, len(fused))
	for id, score := range fused {
		decayed := applyTimeDecay(score, timestamps[id], now)
		results = append(results, Result{ActivityID: id, Score: decayed})
	}

	// Step 6: sort descending, truncate.
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// applyTimeDecay multiplies score by 0.9^(age_days/30); missing timestamp
// -> x0.5 penalty; future timestamps -> no decay. Monotonic: for equal base
// scores, older timestamps never rank above newer ones.
func applyTimeDecay(score float64, ts int64, now int64) float64 {
	if ts == 0 {
		return score * 0.5
	}
	ageDays := float64(now-ts) / 86400
	if ageDays <= 0 {
		return score
	}
	return score * math.Pow(0.9, ageDays/30)
}

func (r *Retriever) batchTimestamps(ids []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := make([]any, len(ids))
	q := "SELECT id, timestamp FROM activity_logs WHERE id IN ("
	for i, id := range ids {
		if i > 0 {
			q += ","
		}
		q += "?"
		placeholders[i] = id
	}
	q += ")"
	rows, err := r.db.Conn().Query(q, placeholders...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, ts int64
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, err
		}
		out[id] = ts
	}
	return out, rows.Err()
}

// bm25Candidates runs the FTS MATCH query and computes a simplified
// BM25-flavored score per §4.8: TF x (1 + ln(doc_len/(tf+1))) over matching
// tokens. This is deliberately cheap since MATCH already did the heavy
// lifting of candidate selection.
func (r *Retriever) bm25Candidates(matchExpr, queryText string, limit int) ([]int64, map[int64]float64, error) {
	rows, err := r.db.Conn().Query(
		`SELECT al.id, al.ocr_text FROM activity_logs_fts fts
		 JOIN activity_logs al ON al.id = fts.rowid
		 WHERE activity_logs_fts MATCH ? LIMIT ?`, matchExpr, limit,
	)
	if err != nil {
		// FTS5 unavailable on this build; caller falls back to unrestricted
		// vector search.
		return nil, map[int64]float64{}, nil
	}
	defer rows.Close()

	// Use the original query terms, not the quoted/OR-joined MATCH
	// expression -- the latter's literal quotes and "or" joiner never
	// appear in indexed text and would make every term count zero.
	terms := strings.Fields(strings.ToLower(queryText))
	ids := make([]int64, 0, limit)
	scores := make(map[int64]float64, limit)
	for rows.Next() {
		var id int64
		var text sql.NullString
		if err := rows.Scan(&id, &text); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		scores[id] = simplifiedBM25(text.String, terms)
	}
	return ids, scores, rows.Err()
}

func simplifiedBM25(doc string, terms []string) float64 {
	docLower := strings.ToLower(doc)
	docLen := len(strings.Fields(docLower))
	if docLen == 0 {
		docLen = 1
	}
	var score float64
	for _, term := range terms {
		tf := strings.Count(docLower, term)
		if tf == 0 {
			continue
		}
		score += float64(tf) * (1 + math.Log(float64(docLen)/float64(tf+1)))
	}
	return score
}

// toMatchExpr splits the query on whitespace and joins with " OR " for the
// FTS MATCH predicate, per §4.8 step 1. Bare FTS operator characters are
// stripped from each token to avoid malformed MATCH syntax on user input.
func toMatchExpr(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	cleaned := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `"*^-`)
		if f != "" {
			cleaned = append(cleaned, `"`+f+`"`)
		}
	}
	if len(cleaned) == 0 {
		return ""
	}
	return strings.Join(cleaned, " OR ")
}
