package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Execution statuses, per §3's state machine: running -> success|failed|cancelled.
const (
	ExecRunning   = "running"
	ExecSuccess   = "success"
	ExecFailed    = "failed"
	ExecCancelled = "cancelled"
)

// ExecutionMetadata captures step accounting persisted alongside the final
// status.
type ExecutionMetadata struct {
	StepsTotal   int     `json:"steps_total"`
	StepsSuccess int     `json:"steps_success"`
	DurationS    float64 `json:"duration_s"`
}

// Execution mirrors the agent_executions table.
type Execution struct {
	ID           int64
	ProposalID   sql.NullInt64
	Action       string
	Status       string
	CreatedAt    int64
	FinishedAt   sql.NullInt64
	ErrorMessage sql.NullString
	Metadata     *ExecutionMetadata
}

// InsertExecution creates a new running execution row.
func (db *DB) InsertExecution(proposalID int64, action string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.conn.Exec(
		`INSERT INTO agent_executions (proposal_id, action, status, created_at) VALUES (?, ?, ?, ?)`,
		proposalID, action, ExecRunning, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert execution: %w", err)
	}
	return res.LastInsertId()
}

// FinishExecution updates status to a terminal state with accounting
// metadata. Terminal states are non-transitioning: callers must not call
// this twice for the same execution id.
func (db *DB) FinishExecution(id int64, status string, meta ExecutionMetadata, errMsg string) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	var errArg sql.NullString
	if errMsg != "" {
		errArg = sql.NullString{String: errMsg, Valid: true}
	}
	_, err = db.conn.Exec(
		`UPDATE agent_executions SET status = ?, finished_at = ?, error_message = ?, metadata_json = ? WHERE id = ?`,
		status, time.Now().Unix(), errArg, string(metaJSON), id,
	)
	return err
}

// GetExecution fetches a single execution row.
func (db *DB) GetExecution(id int64) (*Execution, error) {
	var e Execution
	var metaJSON sql.NullString
	err := db.conn.QueryRow(
		`SELECT id, proposal_id, action, status, created_at, finished_at, error_message, metadata_json
		 FROM agent_executions WHERE id = ?`, id,
	).Scan(&e.ID, &e.ProposalID, &e.Action, &e.Status, &e.CreatedAt, &e.FinishedAt, &e.ErrorMessage, &metaJSON)
	if err != nil {
		return nil, err
	}
	if metaJSON.Valid {
		var m ExecutionMetadata
		if err := json.Unmarshal([]byte(metaJSON.String), &m); err == nil {
			e.Metadata = &m
		}
	}
	return &e, nil
}

// ListExecutions returns the most recent executions, truncated to limit.
func (db *DB) ListExecutions(limit int) ([]Execution, error) {
	rows, err := db.conn.Query(
		`SELECT id, proposal_id, action, status, created_at, finished_at, error_message, metadata_json
		 FROM agent_executions ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var metaJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.ProposalID, &e.Action, &e.Status, &e.CreatedAt, &e.FinishedAt, &e.ErrorMessage, &metaJSON); err != nil {
			return nil, err
		}
		if metaJSON.Valid {
			var m ExecutionMetadata
			if err := json.Unmarshal([]byte(metaJSON.String), &m); err == nil {
				e.Metadata = &m
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
