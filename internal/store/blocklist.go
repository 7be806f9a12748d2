package store

// AddToBlocklist inserts an app name into the blocklist (idempotent).
func (db *DB) AddToBlocklist(appName string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(`INSERT OR IGNORE INTO app_blocklist (app_name) VALUES (?)`, appName)
	return err
}

// RemoveFromBlocklist deletes an app name from the blocklist.
func (db *DB) RemoveFromBlocklist(appName string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(`DELETE FROM app_blocklist WHERE app_name = ?`, appName)
	return err
}

// ListBlocklist returns all blocked/allowed app names.
func (db *DB) ListBlocklist() ([]string, error) {
	rows, err := db.conn.Query(`SELECT app_name FROM app_blocklist ORDER BY app_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// InBlocklist reports whether appName is present in the list.
func (db *DB) InBlocklist(appName string) (bool, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM app_blocklist WHERE app_name = ?`, appName).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
