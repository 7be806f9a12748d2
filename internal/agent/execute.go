package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/False-Maker/memflow/internal/store"
)

// cancelFlags is the process-wide cancel-flag map keyed by execution id,
// ported from original_source's EXECUTION_CANCEL_FLAGS static (Lazy<Mutex<
// HashMap<i64, Arc<AtomicBool>>>>). Flags are removed on completion so the
// map never accumulates across the process lifetime (§5's resource-
// exhaustion guarantee).
var (
	cancelMu    sync.Mutex
	cancelFlags = make(map[int64]*atomic.Bool)
)

func registerCancelFlag(executionID int64) *atomic.Bool {
	flag := &atomic.Bool{}
	cancelMu.Lock()
	cancelFlags[executionID] = flag
	cancelMu.Unlock()
	return flag
}

func removeCancelFlag(executionID int64) {
	cancelMu.Lock()
	delete(cancelFlags, executionID)
	cancelMu.Unlock()
}

// Cancel sets the cancel flag for a running execution. No-op if the
// execution already finished (its flag was already removed). Observation
// happens at the next step boundary, not immediately.
func Cancel(executionID int64) {
	cancelMu.Lock()
	flag, ok := cancelFlags[executionID]
	cancelMu.Unlock()
	if ok {
		flag.Store(true)
	}
}

// stepArgs converts an AutomationStep's populated fields into the generic
// arg map the tool registry expects.
func stepArgs(s store.AutomationStep) map[string]string {
	args := make(map[string]string)
	if s.URL != "" {
		args["url"] = s.URL
	}
	if s.Path != "" {
		args["path"] = s.Path
	}
	if s.Text != "" {
		args["text"] = s.Text
	}
	if s.Content != "" {
		args["content"] = s.Content
	}
	return args
}

// validateStep rejects a step whose required field (per its type) is
// empty, per §4.10 step 1 / §6.
func validateStep(s store.AutomationStep) error {
	var required string
	switch s.Type {
	case store.StepOpenURL:
		required = s.URL
	case store.StepOpenFile:
		required = s.Path
	case store.StepOpenApp:
		required = s.Path
	case store.StepCopyToClipboard:
		required = s.Text
	case store.StepCreateNote:
		required = s.Content
	default:
		return fmt.Errorf("AGENT_STEP_NOT_ALLOWED: unknown step type %q", s.Type)
	}
	if required == "" {
		return fmt.Errorf("AGENT_STEP_NOT_ALLOWED: %s missing required field", s.Type)
	}
	return nil
}

func actionSummary(steps []store.AutomationStep) string {
	summary := ""
	for i, s := range steps {
		if i > 0 {
			summary += " + "
		}
		summary += s.Type
	}
	return summary
}

// Execute implements §4.10's Execute operation: only low-risk proposals may
// auto-execute; steps are validated up front; execution runs in the
// background and the caller gets {execution_id, status:"running"}
// immediately after registration.
func Execute(ctx context.Context, db *store.DB, registry *ToolRegistry, proposalID int64) (int64, error) {
	p, err := db.GetProposal(proposalID)
	if err != nil {
		return 0, err
	}
	if p.RiskLevel != store.RiskLow {
		return 0, fmt.Errorf("AGENT_RISK_BLOCKED: proposal %d risk_level=%s", proposalID, p.RiskLevel)
	}
	for _, s := range p.Steps {
		if err := validateStep(s); err != nil {
			return 0, err
		}
	}

	execID, err := db.InsertExecution(proposalID, actionSummary(p.Steps))
	if err != nil {
		return 0, fmt.Errorf("insert execution: %w", err)
	}

	flag := registerCancelFlag(execID)
	createdAt := time.Now()

	go runSteps(ctx, db, registry, execID, p.Steps, flag, createdAt)

	return execID, nil
}

func runSteps(ctx context.Context, db *store.DB, registry *ToolRegistry, execID int64, steps []store.AutomationStep, flag *atomic.Bool, createdAt time.Time) {
	defer removeCancelFlag(execID)

	successCount := 0
	status := store.ExecSuccess
	var execErr error

	for _, s := range steps {
		if flag.Load() {
			status = store.ExecCancelled
			execErr = fmt.Errorf("AGENT_EXECUTION_CANCELLED")
			break
		}

		tool, ok := registry.Get(s.Type)
		if !ok {
			status = store.ExecFailed
			execErr = fmt.Errorf("AGENT_STEP_NOT_ALLOWED: no tool registered for %q", s.Type)
			break
		}
		if err := tool.Execute(ctx, stepArgs(s)); err != nil {
			status = store.ExecFailed
			execErr = err
			break
		}
		successCount++
	}

	finishedAt := time.Now()
	duration := finishedAt.Sub(createdAt).Seconds()
	if duration < 0 {
		duration = 0
	}

	meta := store.ExecutionMetadata{
		StepsTotal:   len(steps),
		StepsSuccess: successCount,
		DurationS:    duration,
	}

	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	}
	_ = db.FinishExecution(execID, status, meta, errMsg)
}
