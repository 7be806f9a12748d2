package store

import (
	"encoding/json"
	"fmt"

	"github.com/False-Maker/memflow/internal/embedding"
)

// UpsertEmbedding stores the (adapted to TargetDim) vector for an activity,
// serialized as JSON. One row per activity: inserting twice keeps exactly
// one row and overwrites the vector.
func (db *DB) UpsertEmbedding(activityID int64, vec []float32) error {
	adapted := embedding.AdaptDimension(vec)
	data, err := json.Marshal(adapted)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	_, err = db.conn.Exec(
		`INSERT INTO vector_embeddings (activity_id, embedding) VALUES (?, ?)
		 ON CONFLICT(activity_id) DO UPDATE SET embedding = excluded.embedding`,
		activityID, string(data),
	)
	return err
}

// GetEmbedding fetches the stored vector for an activity, or nil if none.
func (db *DB) GetEmbedding(activityID int64) ([]float32, error) {
	var raw string
	err := db.conn.QueryRow(`SELECT embedding FROM vector_embeddings WHERE activity_id = ?`, activityID).Scan(&raw)
	if err != nil {
		return nil, err
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, fmt.Errorf("unmarshal embedding: %w", err)
	}
	return vec, nil
}

// ScoredActivity pairs an activity id with a similarity score.
type ScoredActivity struct {
	ActivityID int64
	Score      float64
}

// VectorSearch scans embeddings, optionally restricted to candidateIDs
// (when non-nil), scores each by cosine similarity against query, sorts
// descending, and truncates to limit. Zero-norm vectors score 0, never NaN.
func (db *DB) VectorSearch(query []float32, candidateIDs []int64, limit int) ([]ScoredActivity, error) {
	var (
		rows interface {
			Next() bool
			Scan(...any) error
			Close() error
			Err() error
		}
		err error
	)

	if candidateIDs != nil {
		if len(candidateIDs) == 0 {
			return nil, nil
		}
		placeholders := make([]any, len(candidateIDs))
		query2 := "SELECT activity_id, embedding FROM vector_embeddings WHERE activity_id IN ("
		for i, id := range candidateIDs {
			if i > 0 {
				query2 += ","
			}
			query2 += "?"
			placeholders[i] = id
		}
		query2 += ")"
		rows, err = db.conn.Query(query2, placeholders...)
	} else {
		rows, err = db.conn.Query(`SELECT activity_id, embedding FROM vector_embeddings`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoredActivity
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			continue
		}
		score := embedding.CosineSimilarity(query, vec)
		out = append(out, ScoredActivity{ActivityID: id, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortScoredDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortScoredDesc(s []ScoredActivity) {
	for i := 1; i < len(s); i++ {
		j := i
		for j > 0 && s[j-1].Score < s[j].Score {
			s[j-1], s[j] = s[j], s[j-1]
			j--
		}
	}
}
