package store

import (
	"database/sql"
	"fmt"
	"os"
	"time"
)

// Activity is one sampled moment, per §3.
type Activity struct {
	ID          int64
	Timestamp   int64
	AppName     string
	WindowTitle string
	ImagePath   string
	OCRText     sql.NullString
	PHash       sql.NullString
	AppPath     sql.NullString
}

// InsertActivity persists a new activity row. image-filename is unique per
// row. The Capture Worker retries a failed insert once; corruption recovery
// runs only in OpenPath, not on an insert error.
func (db *DB) InsertActivity(a Activity) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(
		`INSERT INTO activity_logs (timestamp, app_name, window_title, image_path, ocr_text, phash, app_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Timestamp, a.AppName, a.WindowTitle, a.ImagePath, a.OCRText, a.PHash, a.AppPath,
	)
	if err != nil {
		return 0, fmt.Errorf("insert activity: %w", err)
	}
	return res.LastInsertId()
}

// UpdateActivityText sets ocr_text for an activity, mutated once by the OCR
// Worker (or immediately by Capture when UI-automation succeeded).
func (db *DB) UpdateActivityText(activityID int64, text string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(`UPDATE activity_logs SET ocr_text = ? WHERE id = ?`, text, activityID)
	return err
}

// GetActivity fetches a single activity row by id.
func (db *DB) GetActivity(id int64) (*Activity, error) {
	var a Activity
	err := db.conn.QueryRow(
		`SELECT id, timestamp, app_name, window_title, image_path, ocr_text, phash, app_path
		 FROM activity_logs WHERE id = ?`, id,
	).Scan(&a.ID, &a.Timestamp, &a.AppName, &a.WindowTitle, &a.ImagePath, &a.OCRText, &a.PHash, &a.AppPath)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindByPHash returns the limit most recent activities that have a phash,
// newest first. It does no Hamming-distance filtering itself (phash strings
// don't support a range index for it); Capture calls this with a small
// window and compares the hashes.
func (db *DB) FindByPHash(limit int) ([]Activity, error) {
	rows, err := db.conn.Query(
		`SELECT id, timestamp, app_name, window_title, image_path, ocr_text, phash, app_path
		 FROM activity_logs WHERE phash IS NOT NULL ORDER BY timestamp DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.AppName, &a.WindowTitle, &a.ImagePath, &a.OCRText, &a.PHash, &a.AppPath); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SearchFilter constrains a paged search.
type SearchFilter struct {
	Query      string // full-text query; empty means no text predicate
	AppName    string
	SinceEpoch int64 // 0 = no lower bound
	UntilEpoch int64 // 0 = no upper bound
	Limit      int
	Offset     int
	UseBM25    bool // order by BM25 rank instead of timestamp desc
}

// Search runs the single query-builder contract from §4.1: COUNT and the
// paged result share the same WHERE clause so (items, total) are
// consistent.
func (db *DB) Search(f SearchFilter) ([]Activity, int, error) {
	where := "WHERE 1=1"
	var args []any

	useFTS := f.Query != "" && db.ftsAvailable
	if useFTS {
		where += " AND id IN (SELECT rowid FROM activity_logs_fts WHERE activity_logs_fts MATCH ?)"
		args = append(args, f.Query)
	} else if f.Query != "" {
		where += " AND ocr_text LIKE ?"
		args = append(args, "%"+f.Query+"%")
	}
	if f.AppName != "" {
		where += " AND app_name = ?"
		args = append(args, f.AppName)
	}
	if f.SinceEpoch > 0 {
		where += " AND timestamp >= ?"
		args = append(args, f.SinceEpoch)
	}
	if f.UntilEpoch > 0 {
		where += " AND timestamp <= ?"
		args = append(args, f.UntilEpoch)
	}

	var total int
	countSQL := "SELECT COUNT(*) FROM activity_logs " + where
	if err := db.conn.QueryRow(countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	order := "ORDER BY timestamp DESC"
	if useFTS && f.UseBM25 {
		order = "ORDER BY (SELECT bm25(activity_logs_fts) FROM activity_logs_fts WHERE activity_logs_fts.rowid = activity_logs.id) ASC"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	listSQL := fmt.Sprintf(
		`SELECT id, timestamp, app_name, window_title, image_path, ocr_text, phash, app_path
		 FROM activity_logs %s %s LIMIT ? OFFSET ?`, where, order)
	listArgs := append(append([]any{}, args...), limit, f.Offset)

	rows, err := db.conn.Query(listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.AppName, &a.WindowTitle, &a.ImagePath, &a.OCRText, &a.PHash, &a.AppPath); err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// CleanupResult reports what a retention pass did (or would do, for dry-run).
type CleanupResult struct {
	RowsDeleted   int
	BytesFreed    int64
	ImagesDeleted int
}

// CleanupOlderThanDays deletes activities (and their images) older than the
// retention threshold. With dryRun, computes the result without mutating
// anything.
func (db *DB) CleanupOlderThanDays(days int, dryRun bool) (CleanupResult, error) {
	threshold := time.Now().AddDate(0, 0, -days).Unix()

	rows, err := db.conn.Query(`SELECT id, image_path FROM activity_logs WHERE timestamp < ?`, threshold)
	if err != nil {
		return CleanupResult{}, err
	}
	type victim struct {
		id        int64
		imagePath string
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.imagePath); err != nil {
			rows.Close()
			return CleanupResult{}, err
		}
		victims = append(victims, v)
	}
	rows.Close()

	var result CleanupResult
	result.RowsDeleted = len(victims)

	for _, v := range victims {
		if v.imagePath == "" {
			continue
		}
		if info, err := os.Stat(v.imagePath); err == nil {
			result.BytesFreed += info.Size()
			result.ImagesDeleted++
		}
	}

	if dryRun {
		return result, nil
	}

	db.mu.Lock()
	_, err = db.conn.Exec(`DELETE FROM activity_logs WHERE timestamp < ?`, threshold)
	db.mu.Unlock()
	if err != nil {
		return CleanupResult{}, fmt.Errorf("delete activities: %w", err)
	}

	for _, v := range victims {
		if v.imagePath != "" {
			_ = os.Remove(v.imagePath)
		}
	}
	return result, nil
}

// IncrementSkip buffers a recording-skip counter for (today, reason) in
// memory; FlushSkipStats persists the buffer. Buffering avoids a DB write
// on every skipped capture tick.
func (db *DB) IncrementSkip(reason string) {
	date := time.Now().Format("2006-01-02")
	db.skipMu.Lock()
	defer db.skipMu.Unlock()
	if db.skipBuf[date] == nil {
		db.skipBuf[date] = make(map[string]int)
	}
	db.skipBuf[date][reason]++
}

// FlushSkipStats persists the in-memory skip-counter buffer into
// recording_stats via UPSERT, per §3 ("flushed every 5s").
func (db *DB) FlushSkipStats() error {
	db.skipMu.Lock()
	snapshot := db.skipBuf
	db.skipBuf = make(map[string]map[string]int)
	db.skipMu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for date, reasons := range snapshot {
		for reason, count := range reasons {
			if _, err := tx.Exec(
				`INSERT INTO recording_stats (date, reason, count) VALUES (?, ?, ?)
				 ON CONFLICT(date, reason) DO UPDATE SET count = count + excluded.count`,
				date, reason, count,
			); err != nil {
				return fmt.Errorf("flush skip stats: %w", err)
			}
		}
	}
	return tx.Commit()
}

// SkipCount returns the recorded count for (date, reason), for testing.
func (db *DB) SkipCount(date, reason string) int {
	var count int
	_ = db.conn.QueryRow(`SELECT count FROM recording_stats WHERE date = ? AND reason = ?`, date, reason).Scan(&count)
	return count
}
