package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mdombrov-33/go-promptguard/detector"

	"github.com/False-Maker/memflow/internal/store"
)

// ocrGuard screens OCR'd screen content for prompt-injection attempts
// before it is folded into the summarization prompt. Unlike a user's own
// query, OCR text comes from whatever was on screen -- a web page, a PDF,
// someone else's message -- so it's treated the same as untrusted
// retrieved content, not trusted user input.
var ocrGuard = detector.New(
	detector.WithThreshold(0.6),
	detector.WithAllDetectors(),
	detector.WithMaxInputLength(2000),
)

// Config holds the tunable parameters referenced by propose(), per §4.10
// and §3's options table.
type Config struct {
	SessionGapMinutes int64
	ContextMaxItems   int
	CharsPerOCR       int
	PromptTemplate    string // must contain {{context}} and {{time}}
	OwnBinaryName     string // excluded from open_app steps
}

// DefaultConfig mirrors the teacher's defaults-first config philosophy.
func DefaultConfig() Config {
	return Config{
		SessionGapMinutes: 20,
		ContextMaxItems:   40,
		CharsPerOCR:       200,
		PromptTemplate: "Recent desktop activity:\n{{context}}\n\n" +
			"Current time: {{time}}\n\n" +
			"Summarize into actionable tasks as strict JSON: " +
			`{"tasks":[{"title":"","summary":"","related_urls":[],"related_files":[],"related_apps":[]}]}`,
		OwnBinaryName: "memflow",
	}
}

// LLMClient is the subset of internal/llm.Client the propose step needs.
type LLMClient interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// task is the LLM's JSON output shape, per §4.10 step 5.
type task struct {
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	RelatedURLs  []string `json:"related_urls"`
	RelatedFiles []string `json:"related_files"`
	RelatedApps  []string `json:"related_apps"`
}

type taskResponse struct {
	Tasks []task `json:"tasks"`
}

var systemShells = map[string]bool{
	"explorer.exe":  true,
	"cmd.exe":       true,
	"powershell.exe": true,
}

// Propose implements §4.10's Propose operation.
func Propose(ctx context.Context, db *store.DB, llm LLMClient, cfg Config, timeWindowHours int, limit int) ([]store.Proposal, error) {
	if timeWindowHours < 1 {
		timeWindowHours = 1
	}
	if timeWindowHours > 720 {
		timeWindowHours = 720
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 50 {
		limit = 50
	}

	now := time.Now().Unix()
	since := now - int64(timeWindowHours)*3600

	rows, err := db.ActivitiesInWindow(since, now, 500)
	if err != nil {
		return nil, fmt.Errorf("read activities: %w", err)
	}

	proposals := buildProposals(ctx, db, llm, cfg, rows, since, now)

	if len(proposals) == 0 {
		fallback, err := ruleBasedFallback(db, since, now, timeWindowHours)
		if err != nil {
			return nil, err
		}
		proposals = []store.Proposal{fallback}
	}

	persisted := make([]store.Proposal, 0, len(proposals))
	for _, p := range proposals {
		id, err := db.InsertProposal(p)
		if err != nil {
			return nil, fmt.Errorf("persist proposal: %w", err)
		}
		p.ID = id
		persisted = append(persisted, p)
		if len(persisted) >= limit {
			break
		}
	}
	return persisted, nil
}

func buildProposals(ctx context.Context, db *store.DB, llm LLMClient, cfg Config, rows []store.Activity, since, now int64) []store.Proposal {
	if llm == nil || len(rows) == 0 {
		return nil
	}

	sessions := splitIntoSessions(rows, cfg.SessionGapMinutes)
	contextRows := selectContextRows(sessions, cfg.ContextMaxItems)
	contextText := buildContextText(contextRows, cfg.CharsPerOCR)

	prompt := strings.ReplaceAll(cfg.PromptTemplate, "{{context}}", contextText)
	prompt = strings.ReplaceAll(prompt, "{{time}}", time.Unix(now, 0).Format(time.RFC3339))

	callCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	raw, err := llm.GenerateJSON(callCtx, prompt)
	if err != nil {
		return nil
	}

	var resp taskResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		return nil
	}
	if len(resp.Tasks) == 0 {
		return nil
	}

	out := make([]store.Proposal, 0, len(resp.Tasks))
	for _, t := range resp.Tasks {
		out = append(out, synthesizeProposal(t, cfg))
	}
	return out
}

// buildContextText renders one line per row: "[HH:MM] app: title | 内容: <ocr>".
func buildContextText(rows []store.Activity, charsPerOCR int) string {
	var b strings.Builder
	for _, r := range rows {
		ts := time.Unix(r.Timestamp, 0).Format("15:04")
		ocr := truncateChars(strings.ReplaceAll(r.OCRText.String, "\n", " "), charsPerOCR)
		if ocr != "" && !ocrGuard.Detect(context.Background(), ocr).Safe {
			ocr = "[redacted: possible prompt injection in captured text]"
		}
		fmt.Fprintf(&b, "[%s] %s: %s | 内容: %s\n", ts, r.AppName, r.WindowTitle, ocr)
	}
	return b.String()
}

func truncateChars(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

// synthesizeProposal builds the ordered step list for one LLM task, per
// §4.10 step 6: create_note, then <=5 open_url, then <=5 open_file (for
// absolute-looking paths), then <=3 open_app excluding own binary/shells.
func synthesizeProposal(t task, cfg Config) store.Proposal {
	var steps []store.AutomationStep

	noteContent := formatNote(t)
	steps = append(steps, store.AutomationStep{Type: store.StepCreateNote, Content: noteContent})

	urlCount := 0
	for _, u := range t.RelatedURLs {
		if urlCount >= 5 {
			break
		}
		if u == "" {
			continue
		}
		steps = append(steps, store.AutomationStep{Type: store.StepOpenURL, URL: u})
		urlCount++
	}

	fileCount := 0
	for _, f := range t.RelatedFiles {
		if fileCount >= 5 {
			break
		}
		if !looksAbsolute(f) {
			continue
		}
		steps = append(steps, store.AutomationStep{Type: store.StepOpenFile, Path: f})
		fileCount++
	}

	appCount := 0
	for _, a := range t.RelatedApps {
		if appCount >= 3 {
			break
		}
		if a == "" || isExcludedApp(a, cfg.OwnBinaryName) {
			continue
		}
		steps = append(steps, store.AutomationStep{Type: store.StepOpenApp, Path: a})
		appCount++
	}

	return store.Proposal{
		Title:       t.Title,
		Description: t.Summary,
		Confidence:  0.85,
		RiskLevel:   store.RiskLow,
		Steps:       steps,
	}
}

func formatNote(t task) string {
	var b strings.Builder
	b.WriteString(t.Summary)
	for _, u := range t.RelatedURLs {
		fmt.Fprintf(&b, "\n- %s", u)
	}
	return b.String()
}

func looksAbsolute(p string) bool {
	return strings.Contains(p, ":/") || strings.Contains(p, `:\`) || strings.HasPrefix(p, "/")
}

func isExcludedApp(app, ownBinary string) bool {
	lower := strings.ToLower(app)
	if ownBinary != "" && strings.Contains(lower, strings.ToLower(ownBinary)) {
		return true
	}
	return systemShells[lower]
}

// ruleBasedFallback builds the single fallback proposal from top-app and
// top-title counts, per §4.10 step 7 and the scenario in §8.5.
func ruleBasedFallback(db *store.DB, since, until int64, windowHours int) (store.Proposal, error) {
	apps, err := db.AppUsageSummary(since, until, 3)
	if err != nil {
		return store.Proposal{}, err
	}
	titles, err := db.TitleUsageSummary(since, until, 3)
	if err != nil {
		return store.Proposal{}, err
	}

	var b strings.Builder
	b.WriteString("Top apps: ")
	for i, a := range apps {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s(%d)", a.AppName, a.Count)
	}
	b.WriteString("\nTop titles: ")
	for i, t := range titles {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s(%d)", t.WindowTitle, t.Count)
	}

	title := fmt.Sprintf("生成最近 %d 小时活动摘要（规则）", windowHours)
	return store.Proposal{
		Title:       title,
		Description: "rule-based fallback: LLM unavailable, timed out, or returned no tasks",
		Confidence:  0.85,
		RiskLevel:   store.RiskLow,
		Steps: []store.AutomationStep{
			{Type: store.StepCreateNote, Content: b.String()},
		},
	}, nil
}
