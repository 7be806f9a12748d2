// Package scheduler hosts the two background duties of C11: periodic
// retention GC and the proactive-context trigger, grounded respectively on
// the original implementation's scheduler.rs (retention timing) and
// proactive_context.rs (Levenshtein-gated trigger + rate limiting).
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/False-Maker/memflow/internal/agent"
	"github.com/False-Maker/memflow/internal/retriever"
	"github.com/False-Maker/memflow/internal/store"
)

// retentionStartDelay matches the original's 30s post-boot delay, giving the
// database time to finish initializing before the first GC pass.
const retentionStartDelay = 30 * time.Second

const retentionInterval = 24 * time.Hour

const (
	minTriggerInterval        = 3 * time.Second
	titleDistanceThreshold    = 12
	titleDistanceRatioThresh  = 0.25
)

// Publisher is the subset of runtimectx.EventPublisher the scheduler uses to
// announce proactive suggestions.
type Publisher interface {
	PublishEvent(name string, payload any)
}

// SuggestedAction is one actionable suggestion surfaced by the proactive
// trigger, mirroring the original's SuggestedAction payload shape.
type SuggestedAction struct {
	Label  string `json:"label"`
	Action string `json:"action"` // "open_url" | "search" | "copy"
	Value  string `json:"value"`
}

// RelatedMemory is one retrieved activity shown alongside a suggestion.
type RelatedMemory struct {
	ID          int64   `json:"id"`
	Timestamp   int64   `json:"timestamp"`
	AppName     string  `json:"app_name"`
	WindowTitle string  `json:"window_title"`
	Score       float64 `json:"score"`
}

// ContextSuggestion is the event payload published on a successful trigger.
type ContextSuggestion struct {
	TriggeredAt      int64             `json:"triggered_at"`
	AppName          string            `json:"app_name"`
	WindowTitle      string            `json:"window_title"`
	RelatedMemories  []RelatedMemory   `json:"related_memories"`
	SuggestedActions []SuggestedAction `json:"suggested_actions"`
}

type contextKey struct {
	appName string
	title   string
}

// Scheduler runs the retention GC loop and the proactive-context trigger.
type Scheduler struct {
	db        *store.DB
	retriever *retriever.Retriever
	llm       agent.LLMClient
	pub       Publisher
	logger    *zap.Logger

	retentionDays func() int
	enabled       func() bool // gates the proactive trigger: ai_enabled && proactive_assistant && !privacy_mode

	mu            sync.Mutex
	lastKey       *contextKey
	lastTriggerAt time.Time
}

// New constructs a Scheduler. enabled and retentionDays are read live on
// every check so config changes (including hot-reloads) take effect without
// restarting the loop.
func New(db *store.DB, ret *retriever.Retriever, llm agent.LLMClient, pub Publisher, retentionDays func() int, enabled func() bool, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		db: db, retriever: ret, llm: llm, pub: pub, logger: logger,
		retentionDays: retentionDays, enabled: enabled,
	}
}

// RunRetention drives the retention GC loop until ctx is cancelled: a single
// run 30s after boot, then every 24h, per §4.11.
func (s *Scheduler) RunRetention(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(retentionStartDelay):
	}
	s.runCleanup()

	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

func (s *Scheduler) runCleanup() {
	days := 90
	if s.retentionDays != nil {
		if d := s.retentionDays(); d > 0 {
			days = d
		}
	}
	result, err := s.db.CleanupOlderThanDays(days, false)
	if err != nil {
		s.logger.Error("retention cleanup failed", zap.Error(err))
		return
	}
	s.logger.Info("retention cleanup complete",
		zap.Int("deleted_activities", result.RowsDeleted),
		zap.Int64("freed_bytes", result.BytesFreed))
}

// NotifyActivity evaluates the proactive-context trigger for a freshly
// captured activity and, if it fires, spawns the background suggestion
// job. Safe to call from the capture event loop on every new activity.
func (s *Scheduler) NotifyActivity(ctx context.Context, a store.Activity) {
	trigger := s.evaluateAndUpdate(a)
	if !trigger {
		return
	}
	go s.buildAndPublish(ctx, a)
}

func (s *Scheduler) evaluateAndUpdate(a store.Activity) bool {
	next := contextKey{appName: strings.TrimSpace(a.AppName), title: strings.TrimSpace(a.WindowTitle)}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.lastKey
	should := shouldTrigger(prev, next)
	s.lastKey = &next

	if !should {
		return false
	}
	if !s.lastTriggerAt.IsZero() && time.Since(s.lastTriggerAt) < minTriggerInterval {
		return false
	}
	s.lastTriggerAt = time.Now()
	return true
}

func shouldTrigger(prev *contextKey, next contextKey) bool {
	if prev == nil {
		return false
	}
	if prev.appName != next.appName {
		return true
	}
	return significantTitleChange(prev.title, next.title)
}

func significantTitleChange(a, b string) bool {
	if a == "" || b == "" || a == b {
		return false
	}
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return false
	}
	dist := levenshtein(ra, rb)
	ratio := float64(dist) / float64(maxLen)
	return dist >= titleDistanceThreshold && ratio >= titleDistanceRatioThresh
}

// levenshtein computes edit distance with a two-row DP, ported from the
// original's proactive_context.rs.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i, ca := range a {
		curr[0] = i + 1
		for j, cb := range b {
			cost := 1
			if ca == cb {
				cost = 0
			}
			insert := curr[j] + 1
			del := prev[j+1] + 1
			replace := prev[j] + cost
			curr[j+1] = min3(insert, del, replace)
		}
		copy(prev, curr)
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// buildAndPublish retrieves related memories and asks the LLM for up to 3
// actionable suggestions, publishing the result as a "context-suggestion"
// event. Any failure degrades silently -- a missed suggestion is never
// worth surfacing an error for.
func (s *Scheduler) buildAndPublish(ctx context.Context, a store.Activity) {
	if s.enabled != nil && !s.enabled() {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	query := strings.TrimSpace(a.AppName + " " + a.WindowTitle)
	related, err := s.loadRelated(query)
	if err != nil {
		s.logger.Debug("proactive trigger: related memory search failed", zap.Error(err))
		return
	}

	actions := s.buildSuggestedActions(callCtx, a, related)

	payload := ContextSuggestion{
		TriggeredAt:      time.Now().Unix(),
		AppName:          a.AppName,
		WindowTitle:      a.WindowTitle,
		RelatedMemories:  related,
		SuggestedActions: actions,
	}
	if s.pub != nil {
		s.pub.PublishEvent("context-suggestion", payload)
	}
}

func (s *Scheduler) loadRelated(query string) ([]RelatedMemory, error) {
	if s.retriever == nil {
		return nil, nil
	}
	results, err := s.retriever.Search(query, 5)
	if err != nil {
		return nil, err
	}
	out := make([]RelatedMemory, 0, len(results))
	for _, r := range results {
		act, err := s.db.GetActivity(r.ActivityID)
		if err != nil {
			continue
		}
		out = append(out, RelatedMemory{
			ID: act.ID, Timestamp: act.Timestamp, AppName: act.AppName,
			WindowTitle: act.WindowTitle, Score: r.Score,
		})
	}
	return out, nil
}

const systemPrompt = `You are a proactive personal work assistant. Given the current window ` +
	`context and related memories, provide up to 3 "suggested actions". Return a strict JSON ` +
	`array where each element has "label" (short description), "action" (one of "open_url", ` +
	`"search", "copy"), and "value" (the corresponding URL, search query, or text to copy).`

func (s *Scheduler) buildSuggestedActions(ctx context.Context, a store.Activity, related []RelatedMemory) []SuggestedAction {
	if s.llm == nil {
		return nil
	}
	var b strings.Builder
	for _, r := range related {
		fmt.Fprintf(&b, "app: %s | window: %s\n", r.AppName, r.WindowTitle)
	}
	prompt := fmt.Sprintf("%s\n\nCurrent window: %s | %s\n\n%s", systemPrompt, a.AppName, a.WindowTitle, b.String())

	raw, err := s.llm.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil
	}
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var actions []SuggestedAction
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		return nil
	}
	if len(actions) > 3 {
		actions = actions[:3]
	}
	return actions
}
