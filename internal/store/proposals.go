package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Risk levels for AutomationProposal, per §3.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// AutomationStep is the tagged-variant step format from §6: JSON with a
// "type" discriminator in snake_case.
type AutomationStep struct {
	Type             string `json:"type"`
	URL              string `json:"url,omitempty"`
	Path             string `json:"path,omitempty"`
	Text             string `json:"text,omitempty"`
	Content          string `json:"content,omitempty"`
}

const (
	StepOpenURL           = "open_url"
	StepOpenFile          = "open_file"
	StepOpenApp           = "open_app"
	StepCopyToClipboard   = "copy_to_clipboard"
	StepCreateNote        = "create_note"
)

// Proposal mirrors the automation_proposals table.
type Proposal struct {
	ID          int64
	Title       string
	Description string
	Confidence  float64
	RiskLevel   string
	Steps       []AutomationStep
	Evidence    []string
	CreatedAt   int64
}

// InsertProposal persists a proposal and its step list. Proposals are
// immutable after insert.
func (db *DB) InsertProposal(p Proposal) (int64, error) {
	stepsJSON, err := json.Marshal(p.Steps)
	if err != nil {
		return 0, fmt.Errorf("marshal steps: %w", err)
	}
	var evidenceJSON sql.NullString
	if p.Evidence != nil {
		b, err := json.Marshal(p.Evidence)
		if err != nil {
			return 0, fmt.Errorf("marshal evidence: %w", err)
		}
		evidenceJSON = sql.NullString{String: string(b), Valid: true}
	}

	createdAt := p.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.conn.Exec(
		`INSERT INTO automation_proposals (title, description, confidence, risk_level, steps_json, evidence_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Title, p.Description, p.Confidence, p.RiskLevel, string(stepsJSON), evidenceJSON, createdAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert proposal: %w", err)
	}
	return res.LastInsertId()
}

// GetProposal fetches a proposal by id, with steps/evidence deserialized.
func (db *DB) GetProposal(id int64) (*Proposal, error) {
	var p Proposal
	var stepsJSON string
	var evidenceJSON sql.NullString
	err := db.conn.QueryRow(
		`SELECT id, title, description, confidence, risk_level, steps_json, evidence_json, created_at
		 FROM automation_proposals WHERE id = ?`, id,
	).Scan(&p.ID, &p.Title, &p.Description, &p.Confidence, &p.RiskLevel, &stepsJSON, &evidenceJSON, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("AGENT_NOT_FOUND: proposal %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &p.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if evidenceJSON.Valid {
		if err := json.Unmarshal([]byte(evidenceJSON.String), &p.Evidence); err != nil {
			return nil, fmt.Errorf("unmarshal evidence: %w", err)
		}
	}
	return &p, nil
}

// ListProposals returns the most recent proposals, truncated to limit.
func (db *DB) ListProposals(limit int) ([]Proposal, error) {
	rows, err := db.conn.Query(
		`SELECT id, title, description, confidence, risk_level, steps_json, evidence_json, created_at
		 FROM automation_proposals ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Proposal
	for rows.Next() {
		var p Proposal
		var stepsJSON string
		var evidenceJSON sql.NullString
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Confidence, &p.RiskLevel, &stepsJSON, &evidenceJSON, &p.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(stepsJSON), &p.Steps)
		if evidenceJSON.Valid {
			_ = json.Unmarshal([]byte(evidenceJSON.String), &p.Evidence)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
