package agent

import (
	"context"
	"testing"
	"time"

	"github.com/False-Maker/memflow/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSplitIntoSessionsBreaksOnGap(t *testing.T) {
	base := int64(1_000_000)
	rows := []store.Activity{
		{Timestamp: base + 300}, // newest first
		{Timestamp: base + 240},
		{Timestamp: base - 1200}, // gap > 20min from previous
	}
	sessions := splitIntoSessions(rows, 20)
	require.Len(t, sessions, 2)
	assert.Len(t, sessions[0], 2)
	assert.Len(t, sessions[1], 1)
}

func TestSelectContextRowsRespectsMaxItemsAndFloor(t *testing.T) {
	big := make([]store.Activity, 30)
	small := make([]store.Activity, 2)
	sessions := [][]store.Activity{big, small}
	selected := selectContextRows(sessions, 10)
	assert.LessOrEqual(t, len(selected), 10)
	assert.NotEmpty(t, selected)
}

func TestRuleBasedFallbackTitleAndStepShape(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().Unix()
	_, err := db.InsertActivity(store.Activity{Timestamp: now, AppName: "code", WindowTitle: "main.go", ImagePath: "a.webp"})
	require.NoError(t, err)
	_, err = db.InsertActivity(store.Activity{Timestamp: now, AppName: "code", WindowTitle: "main.go", ImagePath: "b.webp"})
	require.NoError(t, err)

	p, err := ruleBasedFallback(db, now-86400, now, 24)
	require.NoError(t, err)
	assert.Equal(t, "生成最近 24 小时活动摘要（规则）", p.Title)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, store.StepCreateNote, p.Steps[0].Type)
}

func TestProposeFallsBackWithoutLLM(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().Unix()
	_, err := db.InsertActivity(store.Activity{Timestamp: now, AppName: "code", WindowTitle: "main.go", ImagePath: "c.webp"})
	require.NoError(t, err)

	proposals, err := Propose(context.Background(), db, nil, DefaultConfig(), 24, 5)
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, "生成最近 24 小时活动摘要（规则）", proposals[0].Title)
}

func TestExecuteBlocksNonLowRisk(t *testing.T) {
	db := newTestDB(t)
	id, err := db.InsertProposal(store.Proposal{
		Title: "t", RiskLevel: store.RiskMedium, Steps: []store.AutomationStep{
			{Type: store.StepCreateNote, Content: "x"},
		},
	})
	require.NoError(t, err)

	registry := DefaultRegistry(noopPublisher{}, nil)
	_, err = Execute(context.Background(), db, registry, id)
	assert.ErrorContains(t, err, "AGENT_RISK_BLOCKED")
}

func TestExecuteRejectsStepMissingField(t *testing.T) {
	db := newTestDB(t)
	id, err := db.InsertProposal(store.Proposal{
		Title: "t", RiskLevel: store.RiskLow, Steps: []store.AutomationStep{
			{Type: store.StepOpenURL, URL: ""},
		},
	})
	require.NoError(t, err)

	registry := DefaultRegistry(noopPublisher{}, nil)
	_, err = Execute(context.Background(), db, registry, id)
	assert.ErrorContains(t, err, "AGENT_STEP_NOT_ALLOWED")
}

func TestExecuteCancelMidExecutionRecordsPartialSuccess(t *testing.T) {
	db := newTestDB(t)
	steps := []store.AutomationStep{
		{Type: store.StepCreateNote, Content: "1"},
		{Type: store.StepCreateNote, Content: "2"},
		{Type: store.StepCreateNote, Content: "3"},
		{Type: store.StepCreateNote, Content: "4"},
		{Type: store.StepCreateNote, Content: "5"},
	}
	id, err := db.InsertProposal(store.Proposal{Title: "t", RiskLevel: store.RiskLow, Steps: steps})
	require.NoError(t, err)

	blockUntilStep := make(chan struct{})
	completed := 0
	registry := NewToolRegistry()
	registry.Register(&blockingNoteTool{onExecute: func() {
		completed++
		if completed == 2 {
			close(blockUntilStep)
		}
	}})

	execID, err := Execute(context.Background(), db, registry, id)
	require.NoError(t, err)

	<-blockUntilStep
	Cancel(execID)

	require.Eventually(t, func() bool {
		e, err := db.GetExecution(execID)
		return err == nil && e.Status != store.ExecRunning
	}, 2*time.Second, 10*time.Millisecond)

	e, err := db.GetExecution(execID)
	require.NoError(t, err)
	assert.Equal(t, store.ExecCancelled, e.Status)
	require.NotNil(t, e.Metadata)
	assert.Equal(t, 5, e.Metadata.StepsTotal)
	assert.LessOrEqual(t, e.Metadata.StepsSuccess, 3)
}

type noopPublisher struct{}

func (noopPublisher) PublishEvent(string, any) {}

// blockingNoteTool simulates slow steps so the test can cancel mid-run.
type blockingNoteTool struct {
	onExecute func()
}

func (t *blockingNoteTool) Name() string        { return store.StepCreateNote }
func (t *blockingNoteTool) Description() string { return "test note tool" }
func (t *blockingNoteTool) Execute(ctx context.Context, args map[string]string) error {
	time.Sleep(20 * time.Millisecond)
	t.onExecute()
	return nil
}
