package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertAndGetActivity(t *testing.T) {
	db := newTestDB(t)
	id, err := db.InsertActivity(Activity{
		Timestamp: 1000, AppName: "code", WindowTitle: "main.go", ImagePath: "1000_abc.webp",
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	a, err := db.GetActivity(id)
	require.NoError(t, err)
	assert.Equal(t, "code", a.AppName)
}

func TestInsertActivityDuplicateImagePathFails(t *testing.T) {
	db := newTestDB(t)
	_, err := db.InsertActivity(Activity{Timestamp: 1, AppName: "a", WindowTitle: "t", ImagePath: "same.webp"})
	require.NoError(t, err)
	_, err = db.InsertActivity(Activity{Timestamp: 2, AppName: "a", WindowTitle: "t", ImagePath: "same.webp"})
	assert.Error(t, err)
}

func TestOCRQueueEnqueueIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	id, err := db.InsertActivity(Activity{Timestamp: 1, AppName: "a", WindowTitle: "t", ImagePath: "x.webp"})
	require.NoError(t, err)

	require.NoError(t, db.EnqueueOCR(id))
	require.NoError(t, db.EnqueueOCR(id)) // no-op, unique index on activity_id

	jobs, err := db.PollOCRJobs(10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestOCRRetryThenDLQ(t *testing.T) {
	db := newTestDB(t)
	actID, err := db.InsertActivity(Activity{Timestamp: 1, AppName: "a", WindowTitle: "t", ImagePath: "y.webp"})
	require.NoError(t, err)
	require.NoError(t, db.EnqueueOCR(actID))

	jobs, err := db.PollOCRJobs(10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	jobID := jobs[0].ID

	for i := 1; i <= 3; i++ {
		require.NoError(t, db.MarkOCRProcessing(jobID))
		require.NoError(t, db.MarkOCRFailure(jobID, "transient error"))
		e, err := db.GetOCRQueueEntry(jobID)
		require.NoError(t, err)
		assert.Equal(t, OCRPending, e.Status)
		assert.Equal(t, i, e.RetryCount)
	}

	// fourth failure: retry_count is already 3 (MaxOCRRetries) -> DLQ
	require.NoError(t, db.MarkOCRProcessing(jobID))
	require.NoError(t, db.MarkOCRFailure(jobID, "final error"))
	e, err := db.GetOCRQueueEntry(jobID)
	require.NoError(t, err)
	assert.Equal(t, OCRFailed, e.Status)
}

func TestUpsertEmbeddingKeepsOneRow(t *testing.T) {
	db := newTestDB(t)
	actID, err := db.InsertActivity(Activity{Timestamp: 1, AppName: "a", WindowTitle: "t", ImagePath: "z.webp"})
	require.NoError(t, err)

	vec1 := make([]float32, 384)
	vec1[0] = 1
	require.NoError(t, db.UpsertEmbedding(actID, vec1))

	vec2 := make([]float32, 384)
	vec2[1] = 1
	require.NoError(t, db.UpsertEmbedding(actID, vec2))

	var count int
	require.NoError(t, db.conn.QueryRow(`SELECT COUNT(*) FROM vector_embeddings WHERE activity_id = ?`, actID).Scan(&count))
	assert.Equal(t, 1, count)

	got, err := db.GetEmbedding(actID)
	require.NoError(t, err)
	assert.Equal(t, float32(1), got[1])
	assert.Equal(t, float32(0), got[0])
}

func TestCleanupOlderThanDaysDryRun(t *testing.T) {
	db := newTestDB(t)
	_, err := db.InsertActivity(Activity{Timestamp: 1, AppName: "a", WindowTitle: "t", ImagePath: "old.webp"})
	require.NoError(t, err)

	result, err := db.CleanupOlderThanDays(0, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowsDeleted)

	// dry run must not delete
	var count int
	require.NoError(t, db.conn.QueryRow(`SELECT COUNT(*) FROM activity_logs`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSkipStatsFlush(t *testing.T) {
	db := newTestDB(t)
	db.IncrementSkip("duplicate_frame")
	db.IncrementSkip("duplicate_frame")
	db.IncrementSkip("blocklist")

	require.NoError(t, db.FlushSkipStats())

	today := "2026-07-29"
	_ = today // date key is derived from time.Now(), just assert totals via the buffer path instead
	var total int
	require.NoError(t, db.conn.QueryRow(`SELECT COALESCE(SUM(count), 0) FROM recording_stats WHERE reason = 'duplicate_frame'`).Scan(&total))
	assert.Equal(t, 2, total)
}

func TestProposalRoundTripPreservesStepOrder(t *testing.T) {
	db := newTestDB(t)
	steps := []AutomationStep{
		{Type: StepCreateNote, Content: "summary"},
		{Type: StepOpenURL, URL: "https://example.com"},
		{Type: StepOpenFile, Path: "/tmp/a.txt"},
	}
	id, err := db.InsertProposal(Proposal{
		Title: "t", Description: "d", Confidence: 0.85, RiskLevel: RiskLow, Steps: steps,
	})
	require.NoError(t, err)

	got, err := db.GetProposal(id)
	require.NoError(t, err)
	require.Len(t, got.Steps, 3)
	assert.Equal(t, StepCreateNote, got.Steps[0].Type)
	assert.Equal(t, StepOpenURL, got.Steps[1].Type)
	assert.Equal(t, StepOpenFile, got.Steps[2].Type)
	assert.Equal(t, "https://example.com", got.Steps[1].URL)
}

func TestChatSessionCascadeDelete(t *testing.T) {
	db := newTestDB(t)
	_, err := db.conn.Exec(`PRAGMA foreign_keys = ON`)
	require.NoError(t, err)

	sessID, err := db.CreateChatSession("test session")
	require.NoError(t, err)
	_, err = db.AddChatMessage(sessID, "user", "hello", nil)
	require.NoError(t, err)

	require.NoError(t, db.DeleteChatSession(sessID))

	msgs, err := db.ListChatMessages(sessID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
