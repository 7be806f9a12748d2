package store

// FocusMetric mirrors one row of the focus_metrics table, one row per
// 60-second bucket (§4.9).
type FocusMetric struct {
	Timestamp         int64
	APM               int
	WindowSwitchCount int
	FocusScore        float64
}

// InsertFocusMetric persists one focus bucket.
func (db *DB) InsertFocusMetric(m FocusMetric) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(
		`INSERT INTO focus_metrics (timestamp, apm, window_switch_count, focus_score) VALUES (?, ?, ?, ?)
		 ON CONFLICT(timestamp) DO UPDATE SET apm = excluded.apm, window_switch_count = excluded.window_switch_count, focus_score = excluded.focus_score`,
		m.Timestamp, m.APM, m.WindowSwitchCount, m.FocusScore,
	)
	return err
}

// QueryFocusMetrics returns buckets within [since, until] (epoch seconds),
// ascending by timestamp.
func (db *DB) QueryFocusMetrics(since, until int64) ([]FocusMetric, error) {
	rows, err := db.conn.Query(
		`SELECT timestamp, apm, window_switch_count, focus_score FROM focus_metrics
		 WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC`, since, until,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FocusMetric
	for rows.Next() {
		var m FocusMetric
		if err := rows.Scan(&m.Timestamp, &m.APM, &m.WindowSwitchCount, &m.FocusScore); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AppUsage is one row of an app-usage aggregation.
type AppUsage struct {
	AppName string
	Count   int
}

// AppUsageSummary aggregates activity counts per app within a window,
// descending by count.
func (db *DB) AppUsageSummary(since, until int64, limit int) ([]AppUsage, error) {
	rows, err := db.conn.Query(
		`SELECT app_name, COUNT(*) as c FROM activity_logs WHERE timestamp >= ? AND timestamp <= ?
		 GROUP BY app_name ORDER BY c DESC LIMIT ?`, since, until, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AppUsage
	for rows.Next() {
		var u AppUsage
		if err := rows.Scan(&u.AppName, &u.Count); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// TitleUsage is one row of a window-title aggregation.
type TitleUsage struct {
	WindowTitle string
	Count       int
}

// TitleUsageSummary aggregates activity counts per window title within a
// window, descending by count — used by the Agent Engine's rule-based
// fallback proposal (§4.10 step 7).
func (db *DB) TitleUsageSummary(since, until int64, limit int) ([]TitleUsage, error) {
	rows, err := db.conn.Query(
		`SELECT window_title, COUNT(*) as c FROM activity_logs WHERE timestamp >= ? AND timestamp <= ?
		 GROUP BY window_title ORDER BY c DESC LIMIT ?`, since, until, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TitleUsage
	for rows.Next() {
		var u TitleUsage
		if err := rows.Scan(&u.WindowTitle, &u.Count); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// HourlyBucket is one row of an hourly activity-count histogram.
type HourlyBucket struct {
	Hour  int
	Count int
}

// HourlyHeatmap buckets activity counts by hour-of-day within a window.
func (db *DB) HourlyHeatmap(since, until int64) ([]HourlyBucket, error) {
	rows, err := db.conn.Query(
		`SELECT CAST(strftime('%H', timestamp, 'unixepoch', 'localtime') AS INTEGER) as hr, COUNT(*) as c
		 FROM activity_logs WHERE timestamp >= ? AND timestamp <= ? GROUP BY hr ORDER BY hr ASC`,
		since, until,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HourlyBucket
	for rows.Next() {
		var b HourlyBucket
		if err := rows.Scan(&b.Hour, &b.Count); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ActivitiesInWindow returns activities in [since, until], newest first,
// capped at limit — used by the Agent Engine's propose step 1.
func (db *DB) ActivitiesInWindow(since, until int64, limit int) ([]Activity, error) {
	rows, err := db.conn.Query(
		`SELECT id, timestamp, app_name, window_title, image_path, ocr_text, phash, app_path
		 FROM activity_logs WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp DESC LIMIT ?`,
		since, until, limit,
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
