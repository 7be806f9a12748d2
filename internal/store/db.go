// Package store provides the SQLite storage layer: durable activity log,
// FTS index, vector table, OCR queue, blocklist, automation proposals and
// executions, chat, focus metrics, and recording-skip stats.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/False-Maker/memflow/internal/config"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite connection. It exclusively owns
// the database file and mediates all access through a single connection
// pool shared by the capture and OCR workers.
type DB struct {
	conn         *sql.DB
	path         string
	mu           sync.Mutex // serialize writes
	ftsAvailable bool

	skipMu   sync.Mutex
	skipBuf  map[string]map[string]int // date -> reason -> count
}

// Open opens or creates the database at the configured path, running the
// full init sequence from §4.1: migrate, integrity check, write smoke test,
// with corruption recovery on failure.
func Open() (*DB, error) {
	return OpenPath(config.DBPath())
}

// OpenPath opens or creates the database at the given path.
func OpenPath(path string) (*DB, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(500 * time.Millisecond)
		}
		db, err := openOnce(path)
		if err == nil {
			return db, nil
		}
		lastErr = err
		if !isCorruptionError(err) {
			continue
		}
		if recErr := recover_(path); recErr != nil {
			return nil, fmt.Errorf("recovery failed after corruption (%v): %w", err, recErr)
		}
	}
	return nil, fmt.Errorf("open db after retries: %w", lastErr)
}

func openOnce(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(config.ScreenshotsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create screenshots dir: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn, path: path, skipBuf: make(map[string]map[string]int)}
	if err := db.initSequence(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory opens an in-memory database for testing.
func OpenMemory() (*DB, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	db := &DB{conn: conn, path: ":memory:", skipBuf: make(map[string]map[string]int)}
	if err := db.initSequence(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) initSequence() error {
	if err := db.migrate(); err != nil {
		if checksumErr := db.repairChecksums(); checksumErr == nil {
			if err2 := db.migrate(); err2 == nil {
				return db.finishInit()
			}
		}
		return fmt.Errorf("migrate: %w", err)
	}
	return db.finishInit()
}

func (db *DB) finishInit() error {
	if err := db.IntegrityCheck(); err != nil {
		return err
	}
	if err := db.writeSmokeTest(); err != nil {
		return err
	}
	return nil
}

// repairChecksums is the checksum-repair path run when migrate() fails: it
// deletes any recorded 'migration_checksum' meta row and lets migrate()
// retry once more. migrate() itself records no checksums, so nothing is
// written back in their place.
func (db *DB) repairChecksums() error {
	_, err := db.conn.Exec(`DELETE FROM schema_meta WHERE key = 'migration_checksum'`)
	return err
}

// writeSmokeTest inserts a dummy row into the activity log inside a
// transaction then rolls back, verifying FTS triggers fire for writes
// (read-only integrity_check can miss trigger corruption).
func (db *DB) writeSmokeTest() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("smoke test begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO activity_logs (timestamp, app_name, window_title, image_path) VALUES (?, ?, ?, ?)`,
		time.Now().Unix(), "__smoke_test__", "smoke", "smoke.webp",
	)
	if err != nil {
		return fmt.Errorf("smoke test insert: %w", err)
	}
	return nil // rollback via defer
}

var corruptionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)malformed`),
	regexp.MustCompile(`(?i)corrupt`),
	regexp.MustCompile(`(?i)not a database`),
	regexp.MustCompile(`(?i)database disk image is malformed`),
}

// isCorruptionError matches error text against the corruption patterns in
// §4.1: malformed/corrupt/not-a-database/disk-image-malformed, SQLite codes
// 11/26/267, or the modified-migration-checksum message.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, p := range corruptionPatterns {
		if p.MatchString(msg) {
			return true
		}
	}
	for _, code := range []string{"(11)", "(26)", "(267)"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return strings.Contains(msg, "checksum changed")
}

// recover_ implements §4.1 step 7: close the pool, remove {db, db-wal,
// db-shm} with up to 5 attempts using exponential backoff (200, 400, 800,
// 1600 ms).
func recover_(path string) error {
	if path == ":memory:" {
		return nil
	}
	files := []string{path, path + "-wal", path + "-shm"}
	delay := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		lastErr = nil
		for _, f := range files {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				lastErr = err
			}
		}
		if lastErr == nil {
			return nil
		}
		time.Sleep(delay)
		delay *= 2
	}
	return lastErr
}

// Close closes the database connection, flushing the buffered
// recording-skip counters first.
func (db *DB) Close() error {
	db.FlushSkipStats()
	return db.conn.Close()
}

// Conn returns the underlying sql.DB for direct queries.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS activity_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			app_name TEXT NOT NULL,
			window_title TEXT NOT NULL,
			image_path TEXT NOT NULL UNIQUE,
			ocr_text TEXT,
			phash TEXT,
			app_path TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_logs_timestamp ON activity_logs(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_logs_phash ON activity_logs(phash)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_logs_app_name ON activity_logs(app_name)`,

		`CREATE TABLE IF NOT EXISTS vector_embeddings (
			activity_id INTEGER PRIMARY KEY,
			embedding TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS ocr_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			activity_id INTEGER NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ocr_queue_status_created ON ocr_queue(status, created_at)`,

		`CREATE TABLE IF NOT EXISTS app_blocklist (
			app_name TEXT PRIMARY KEY
		)`,

		`CREATE TABLE IF NOT EXISTS automation_proposals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			confidence REAL NOT NULL,
			risk_level TEXT NOT NULL,
			steps_json TEXT NOT NULL,
			evidence_json TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_automation_proposals_created ON automation_proposals(created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS agent_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			proposal_id INTEGER,
			action TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			finished_at INTEGER,
			error_message TEXT,
			metadata_json TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS focus_metrics (
			timestamp INTEGER PRIMARY KEY,
			apm INTEGER NOT NULL,
			window_switch_count INTEGER NOT NULL,
			focus_score REAL NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS recording_stats (
			date TEXT NOT NULL,
			reason TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (date, reason)
		)`,

		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			activity_ids_json TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id)`,
		`CREATE TABLE IF NOT EXISTS message_ratings (
			message_id INTEGER PRIMARY KEY REFERENCES chat_messages(id) ON DELETE CASCADE,
			rating INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_feedbacks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id INTEGER REFERENCES chat_messages(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	currentVersion := db.SchemaVersion()
	versionedMigrations := []struct {
		version int
		fn      func() error
	}{
		{1, db.migrateV1},
		{2, db.migrateV2FTS},
		{3, db.migrateV3AgentSchema},
		{4, db.migrateV4KnowledgeGraph},
	}
	for _, m := range versionedMigrations {
		if currentVersion < m.version {
			if err := m.fn(); err != nil {
				return fmt.Errorf("migration v%d: %w", m.version, err)
			}
			if err := db.SetMeta("schema_version", strconv.Itoa(m.version)); err != nil {
				return fmt.Errorf("record migration v%d: %w", m.version, err)
			}
		}
	}
	if currentVersion >= 2 {
		// The FTS migration ran on an earlier open; detect its table.
		var n int
		_ = db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'activity_logs_fts'`).Scan(&n)
		db.ftsAvailable = n > 0
	}
	return nil
}

func (db *DB) migrateV1() error { return nil }

// migrateV2FTS creates the full-text index over ocr_text, synchronized via
// triggers on insert/update/delete per §6. Best-effort: some SQLite builds
// lack FTS5, in which case keyword search falls back to LIKE.
func (db *DB) migrateV2FTS() error {
	_, err := db.conn.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS activity_logs_fts USING fts5(
		ocr_text, content=activity_logs, content_rowid=id
	)`)
	if err != nil {
		db.ftsAvailable = false
		return nil
	}
	db.ftsAvailable = true

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS activity_logs_ai AFTER INSERT ON activity_logs BEGIN
			INSERT INTO activity_logs_fts(rowid, ocr_text) VALUES (new.id, new.ocr_text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS activity_logs_ad AFTER DELETE ON activity_logs BEGIN
			INSERT INTO activity_logs_fts(activity_logs_fts, rowid, ocr_text) VALUES('delete', old.id, old.ocr_text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS activity_logs_au AFTER UPDATE ON activity_logs BEGIN
			INSERT INTO activity_logs_fts(activity_logs_fts, rowid, ocr_text) VALUES('delete', old.id, old.ocr_text);
			INSERT INTO activity_logs_fts(rowid, ocr_text) VALUES (new.id, new.ocr_text);
		END`,
	}
	for _, t := range triggers {
		if _, err := db.conn.Exec(t); err != nil {
			return fmt.Errorf("fts trigger: %w", err)
		}
	}
	_, _ = db.conn.Exec(`INSERT INTO activity_logs_fts(activity_logs_fts) VALUES('rebuild')`)

	_, err = db.conn.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS chat_messages_fts USING fts5(
		content, content=chat_messages, content_rowid=id
	)`)
	return nil
}

// migrateV3AgentSchema ensures the agent-automation schema (idempotent
// create + per-column add-if-absent), per §4.1 step 4.
func (db *DB) migrateV3AgentSchema() error {
	if !db.hasColumn("automation_proposals", "evidence_json") {
		if _, err := db.conn.Exec(`ALTER TABLE automation_proposals ADD COLUMN evidence_json TEXT`); err != nil {
			return err
		}
	}
	if !db.hasColumn("agent_executions", "metadata_json") {
		if _, err := db.conn.Exec(`ALTER TABLE agent_executions ADD COLUMN metadata_json TEXT`); err != nil {
			return err
		}
	}
	return nil
}

// migrateV4KnowledgeGraph creates the derived knowledge-graph tables (§3).
func (db *DB) migrateV4KnowledgeGraph() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS knowledge_nodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			label TEXT NOT NULL,
			UNIQUE(type, label)
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_edges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id INTEGER NOT NULL REFERENCES knowledge_nodes(id) ON DELETE CASCADE,
			target_id INTEGER NOT NULL REFERENCES knowledge_nodes(id) ON DELETE CASCADE,
			relationship TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 1,
			UNIQUE(source_id, target_id, relationship)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_edges_source ON knowledge_edges(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_edges_target ON knowledge_edges(target_id)`,
	}
	for _, s := range stmts {
		if _, err := db.conn.Exec(s); err != nil {
			return fmt.Errorf("knowledge graph schema: %w", err)
		}
	}
	return nil
}

// SchemaVersion returns the current schema version (0 if unset).
func (db *DB) SchemaVersion() int {
	v, ok := db.GetMeta("schema_version")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// GetMeta reads a value from the schema_meta table.
func (db *DB) GetMeta(key string) (string, bool) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM schema_meta WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

// SetMeta writes a key-value pair to the schema_meta table.
func (db *DB) SetMeta(key, value string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(
		`INSERT INTO schema_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// hasColumn reports whether a table currently has a column.
func (db *DB) hasColumn(table, column string) bool {
	rows, err := db.conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid      int
			name     string
			colType  string
			notNull  int
			defaultV sql.NullString
			primaryK int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultV, &primaryK); err != nil {
			continue
		}
		if strings.EqualFold(name, column) {
			return true
		}
	}
	return false
}

// FTSAvailable returns true if the FTS5 module is available.
func (db *DB) FTSAvailable() bool {
	return db.ftsAvailable
}

// IntegrityCheck runs PRAGMA integrity_check and returns an error unless
// the result is exactly "ok".
func (db *DB) IntegrityCheck() error {
	var result string
	if err := db.conn.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
