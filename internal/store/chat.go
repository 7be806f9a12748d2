package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ChatSession owns messages; deleting a session cascade-deletes them.
type ChatSession struct {
	ID        int64
	Title     string
	CreatedAt int64
}

// ChatMessage carries an optional list of activity ids referenced as
// context.
type ChatMessage struct {
	ID          int64
	SessionID   int64
	Role        string
	Content     string
	ActivityIDs []int64
	CreatedAt   int64
}

// CreateChatSession inserts a new session.
func (db *DB) CreateChatSession(title string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.conn.Exec(`INSERT INTO chat_sessions (title, created_at) VALUES (?, ?)`, title, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DeleteChatSession removes a session and, via ON DELETE CASCADE, its
// messages/ratings.
func (db *DB) DeleteChatSession(id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(`DELETE FROM chat_sessions WHERE id = ?`, id)
	return err
}

// AddChatMessage inserts a message, optionally tagged with context activity
// ids.
func (db *DB) AddChatMessage(sessionID int64, role, content string, activityIDs []int64) (int64, error) {
	var idsJSON sql.NullString
	if len(activityIDs) > 0 {
		b, err := json.Marshal(activityIDs)
		if err != nil {
			return 0, fmt.Errorf("marshal activity ids: %w", err)
		}
		idsJSON = sql.NullString{String: string(b), Valid: true}
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.conn.Exec(
		`INSERT INTO chat_messages (session_id, role, content, activity_ids_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, role, content, idsJSON, time.Now().Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListChatMessages returns all messages for a session, oldest first.
func (db *DB) ListChatMessages(sessionID int64) ([]ChatMessage, error) {
	rows, err := db.conn.Query(
		`SELECT id, session_id, role, content, activity_ids_json, created_at FROM chat_messages WHERE session_id = ? ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var idsJSON sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &idsJSON, &m.CreatedAt); err != nil {
			return nil, err
		}
		if idsJSON.Valid {
			_ = json.Unmarshal([]byte(idsJSON.String), &m.ActivityIDs)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RateMessage upserts a rating for a message (at most one rating per
// message).
func (db *DB) RateMessage(messageID int64, rating int) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(
		`INSERT INTO message_ratings (message_id, rating, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(message_id) DO UPDATE SET rating = excluded.rating, created_at = excluded.created_at`,
		messageID, rating, time.Now().Unix(),
	)
	return err
}

// AddFeedback records free-form user feedback, optionally tied to a
// message.
func (db *DB) AddFeedback(messageID sql.NullInt64, content string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.conn.Exec(
		`INSERT INTO user_feedbacks (message_id, content, created_at) VALUES (?, ?, ?)`,
		messageID, content, time.Now().Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
