package store

import (
	"database/sql"
	"fmt"
	"time"
)

// OCR queue entry statuses, per §3.
const (
	OCRPending    = "pending"
	OCRProcessing = "processing"
	OCRDone       = "done"
	OCRFailed     = "failed"
)

// MaxOCRRetries is the retry ceiling before an entry becomes a dead letter.
const MaxOCRRetries = 3

// StaleProcessingThreshold is how long an entry may sit in "processing"
// before it is reclaimable as "pending" (a worker crashed mid-job).
const StaleProcessingThreshold = 5 * time.Minute

// OCRQueueEntry mirrors the ocr_queue table.
type OCRQueueEntry struct {
	ID           int64
	ActivityID   int64
	Status       string
	RetryCount   int
	CreatedAt    int64
	UpdatedAt    int64
	ErrorMessage sql.NullString
}

// EnqueueOCR inserts a pending OCR job for an activity. Idempotent: the
// unique index on activity_id makes duplicate enqueues no-ops.
func (db *DB) EnqueueOCR(activityID int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	now := time.Now().Unix()
	_, err := db.conn.Exec(
		`INSERT INTO ocr_queue (activity_id, status, retry_count, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT(activity_id) DO NOTHING`,
		activityID, OCRPending, now, now,
	)
	return err
}

// PollOCRJobs fetches up to n jobs that are pending, or processing older
// than the staleness threshold (stale-reclaim), FIFO by created_at.
func (db *DB) PollOCRJobs(n int) ([]OCRQueueEntry, error) {
	staleBefore := time.Now().Add(-StaleProcessingThreshold).Unix()
	rows, err := db.conn.Query(
		`SELECT id, activity_id, status, retry_count, created_at, updated_at, error_message
		 FROM ocr_queue
		 WHERE status = ? OR (status = ? AND updated_at < ?)
		 ORDER BY created_at ASC LIMIT ?`,
		OCRPending, OCRProcessing, staleBefore, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OCRQueueEntry
	for rows.Next() {
		var e OCRQueueEntry
		if err := rows.Scan(&e.ID, &e.ActivityID, &e.Status, &e.RetryCount, &e.CreatedAt, &e.UpdatedAt, &e.ErrorMessage); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkOCRProcessing transitions a queue entry to "processing".
func (db *DB) MarkOCRProcessing(id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(
		`UPDATE ocr_queue SET status = ?, updated_at = ? WHERE id = ?`,
		OCRProcessing, time.Now().Unix(), id,
	)
	return err
}

// MarkOCRDone transitions a queue entry to "done" on successful OCR.
func (db *DB) MarkOCRDone(id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(
		`UPDATE ocr_queue SET status = ?, updated_at = ?, error_message = NULL WHERE id = ?`,
		OCRDone, time.Now().Unix(), id,
	)
	return err
}

// MarkOCRFailure records a failed OCR attempt: if retry_count has already
// reached MaxOCRRetries (3) before this attempt, marks the entry "failed"
// (dead-letter); otherwise transitions back to "pending" and atomically
// increments retry_count. A job thus returns to "pending" three times and
// is marked "failed" on its fourth failure.
func (db *DB) MarkOCRFailure(id int64, errMsg string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var retryCount int
	if err := db.conn.QueryRow(`SELECT retry_count FROM ocr_queue WHERE id = ?`, id).Scan(&retryCount); err != nil {
		return fmt.Errorf("read retry count: %w", err)
	}

	now := time.Now().Unix()
	if retryCount >= MaxOCRRetries {
		_, err := db.conn.Exec(
			`UPDATE ocr_queue SET status = ?, updated_at = ?, error_message = ? WHERE id = ?`,
			OCRFailed, now, errMsg, id,
		)
		return err
	}
	_, err := db.conn.Exec(
		`UPDATE ocr_queue SET status = ?, retry_count = retry_count + 1, updated_at = ?, error_message = ? WHERE id = ?`,
		OCRPending, now, errMsg, id,
	)
	return err
}

// GetOCRQueueEntry fetches a single entry, for testing/inspection.
func (db *DB) GetOCRQueueEntry(id int64) (*OCRQueueEntry, error) {
	var e OCRQueueEntry
	err := db.conn.QueryRow(
		`SELECT id, activity_id, status, retry_count, created_at, updated_at, error_message FROM ocr_queue WHERE id = ?`, id,
	).Scan(&e.ID, &e.ActivityID, &e.Status, &e.RetryCount, &e.CreatedAt, &e.UpdatedAt, &e.ErrorMessage)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
