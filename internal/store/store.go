// Package store provides the durable offline queue for CropGuard.
//
// The store is an embedded SQLite database (ncruces/go-sqlite3) opened in WAL
// mode so dashboard reads can run concurrently with sync writes. It holds
// three tables:
//   - work_items: the deferred uploads and actions awaiting submission
//   - conflicts: conflict records with both snapshots and their resolution
//   - sync_state: single-row key/value state, currently the sync watermark
//
// Every row survives process restarts; the engine recovers the queue simply
// by listing queued items on the next pass.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Yheng/CropGuard-sub000/internal/sync"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection with queue-specific operations. It
// implements sync.Store and sync.ConflictStore.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads. If
// the database doesn't exist, it is created along with the schema.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := store.Open(filepath.Join(home, ".cropguard", "queue.db"))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := db.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// initSchema creates the tables and indexes if they don't exist. Idempotent.
func (db *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_items (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 2,
		status TEXT NOT NULL DEFAULT 'queued',
		payload BLOB,
		method TEXT,
		target TEXT,
		metadata TEXT,  -- JSON object
		attempts INTEGER NOT NULL DEFAULT 0,
		override INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		last_error TEXT
	);

	CREATE TABLE IF NOT EXISTS conflicts (
		id TEXT PRIMARY KEY,
		work_item_id TEXT NOT NULL,
		local_snapshot TEXT NOT NULL,   -- JSON
		remote_snapshot TEXT NOT NULL,  -- JSON
		field_diffs TEXT,               -- JSON array
		resolution TEXT NOT NULL DEFAULT 'pending',
		detected_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_status ON work_items(status);
	CREATE INDEX IF NOT EXISTS idx_items_created ON work_items(created_at);

	-- Composite index for candidate selection
	CREATE INDEX IF NOT EXISTS idx_items_pass
	    ON work_items(status, priority, created_at);

	CREATE INDEX IF NOT EXISTS idx_conflicts_item ON conflicts(work_item_id);
	CREATE INDEX IF NOT EXISTS idx_conflicts_resolution ON conflicts(resolution);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Enqueue inserts a new work item. Fails if the ID already exists; the ID is
// the idempotency key and must never be reused.
func (db *DB) Enqueue(ctx context.Context, item *sync.WorkItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid work item: %w", err)
	}

	metaJSON, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
	INSERT INTO work_items (
		id, kind, priority, status, payload, method, target,
		metadata, attempts, override, created_at, last_error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.conn.ExecContext(ctx, query,
		item.ID,
		string(item.Kind),
		int(item.Priority),
		string(item.Status),
		item.Payload,
		item.Method,
		item.Target,
		string(metaJSON),
		item.Attempts,
		boolToInt(item.Override),
		item.CreatedAt.Format(time.RFC3339Nano),
		item.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue item %s: %w", item.ID, err)
	}

	return nil
}

// List returns items matching any of the given statuses in creation order.
// With no statuses it returns every item.
func (db *DB) List(ctx context.Context, statuses ...sync.Status) ([]*sync.WorkItem, error) {
	query := `
	SELECT id, kind, priority, status, payload, method, target,
	       metadata, attempts, override, created_at, last_error
	FROM work_items
	`
	var args []interface{}
	if len(statuses) > 0 {
		query += " WHERE status IN (" + placeholders(len(statuses)) + ")"
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY created_at ASC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query work items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// Get returns a single item by ID.
func (db *DB) Get(ctx context.Context, id string) (*sync.WorkItem, error) {
	query := `
	SELECT id, kind, priority, status, payload, method, target,
	       metadata, attempts, override, created_at, last_error
	FROM work_items
	WHERE id = ?
	`

	rows, err := db.conn.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query work item %s: %w", id, err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("work item %s not found", id)
	}
	return items[0], nil
}

// Update overwrites an existing item's mutable fields. Fails if the item
// doesn't exist.
func (db *DB) Update(ctx context.Context, item *sync.WorkItem) error {
	metaJSON, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
	UPDATE work_items SET
		status = ?,
		payload = ?,
		metadata = ?,
		attempts = ?,
		override = ?,
		last_error = ?
	WHERE id = ?
	`

	res, err := db.conn.ExecContext(ctx, query,
		string(item.Status),
		item.Payload,
		string(metaJSON),
		item.Attempts,
		boolToInt(item.Override),
		item.LastError,
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update item %s: %w", item.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of item %s: %w", item.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("work item %s not found", item.ID)
	}
	return nil
}

// Remove deletes an item. Returns nil if the item doesn't exist (idempotent).
func (db *DB) Remove(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM work_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove item %s: %w", id, err)
	}
	return nil
}

// Counts returns the number of items per status.
func (db *DB) Counts(ctx context.Context) (map[sync.Status]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM work_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	defer rows.Close()

	counts := make(map[sync.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[sync.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

const watermarkKey = "last_synced_at"

// LastSyncedAt returns the sync watermark, or the zero time if no pass has
// ever completed.
func (db *DB) LastSyncedAt(ctx context.Context) (time.Time, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE key = ?`, watermarkKey).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read sync watermark: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse sync watermark %q: %w", value, err)
	}
	return t, nil
}

// SetLastSyncedAt advances the sync watermark.
func (db *DB) SetLastSyncedAt(ctx context.Context, t time.Time) error {
	query := `
	INSERT INTO sync_state (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := db.conn.ExecContext(ctx, query, watermarkKey, t.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to set sync watermark: %w", err)
	}
	return nil
}

// SaveConflict inserts a conflict record.
func (db *DB) SaveConflict(ctx context.Context, rec *sync.ConflictRecord) error {
	localJSON, err := json.Marshal(rec.Local)
	if err != nil {
		return fmt.Errorf("failed to marshal local snapshot: %w", err)
	}
	remoteJSON, err := json.Marshal(rec.Remote)
	if err != nil {
		return fmt.Errorf("failed to marshal remote snapshot: %w", err)
	}
	diffsJSON, err := json.Marshal(rec.Diffs)
	if err != nil {
		return fmt.Errorf("failed to marshal field diffs: %w", err)
	}

	query := `
	INSERT INTO conflicts (
		id, work_item_id, local_snapshot, remote_snapshot,
		field_diffs, resolution, detected_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.conn.ExecContext(ctx, query,
		rec.ID,
		rec.WorkItemID,
		string(localJSON),
		string(remoteJSON),
		string(diffsJSON),
		string(rec.Resolution),
		rec.DetectedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save conflict %s: %w", rec.ID, err)
	}
	return nil
}

// GetConflict returns a conflict record by ID.
func (db *DB) GetConflict(ctx context.Context, id string) (*sync.ConflictRecord, error) {
	rows, err := db.conn.QueryContext(ctx, conflictSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflict %s: %w", id, err)
	}
	defer rows.Close()

	recs, err := scanConflicts(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("conflict %s not found", id)
	}
	return recs[0], nil
}

// UpdateConflict overwrites a conflict record's resolution.
func (db *DB) UpdateConflict(ctx context.Context, rec *sync.ConflictRecord) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE conflicts SET resolution = ? WHERE id = ?`,
		string(rec.Resolution), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update conflict %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of conflict %s: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("conflict %s not found", rec.ID)
	}
	return nil
}

// ListConflicts returns conflict records in detection order, optionally
// restricted to those still awaiting a decision.
func (db *DB) ListConflicts(ctx context.Context, onlyPending bool) ([]*sync.ConflictRecord, error) {
	query := conflictSelect
	var args []interface{}
	if onlyPending {
		query += ` WHERE resolution = ?`
		args = append(args, string(sync.ResolutionPending))
	}
	query += ` ORDER BY detected_at ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	return scanConflicts(rows)
}

const conflictSelect = `
	SELECT id, work_item_id, local_snapshot, remote_snapshot,
	       field_diffs, resolution, detected_at
	FROM conflicts`

// scanItems scans work item rows into their in-memory form.
func scanItems(rows *sql.Rows) ([]*sync.WorkItem, error) {
	var items []*sync.WorkItem

	for rows.Next() {
		var item sync.WorkItem
		var kind, status, metaJSON, createdAt string
		var priority, override int
		var method, target, lastError sql.NullString

		err := rows.Scan(
			&item.ID,
			&kind,
			&priority,
			&status,
			&item.Payload,
			&method,
			&target,
			&metaJSON,
			&item.Attempts,
			&override,
			&createdAt,
			&lastError,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}

		item.Kind = sync.Kind(kind)
		item.Priority = sync.Priority(priority)
		item.Status = sync.Status(status)
		item.Method = method.String
		item.Target = target.String
		item.Override = override != 0
		item.LastError = lastError.String

		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			item.CreatedAt = t
		}

		if metaJSON != "" && metaJSON != "null" {
			if err := json.Unmarshal([]byte(metaJSON), &item.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating work items: %w", err)
	}

	return items, nil
}

// scanConflicts scans conflict rows into their in-memory form.
func scanConflicts(rows *sql.Rows) ([]*sync.ConflictRecord, error) {
	var recs []*sync.ConflictRecord

	for rows.Next() {
		var rec sync.ConflictRecord
		var localJSON, remoteJSON, resolution, detectedAt string
		var diffsJSON sql.NullString

		err := rows.Scan(
			&rec.ID,
			&rec.WorkItemID,
			&localJSON,
			&remoteJSON,
			&diffsJSON,
			&resolution,
			&detectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}

		if err := json.Unmarshal([]byte(localJSON), &rec.Local); err != nil {
			return nil, fmt.Errorf("failed to unmarshal local snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(remoteJSON), &rec.Remote); err != nil {
			return nil, fmt.Errorf("failed to unmarshal remote snapshot: %w", err)
		}
		if diffsJSON.Valid && diffsJSON.String != "" && diffsJSON.String != "null" {
			if err := json.Unmarshal([]byte(diffsJSON.String), &rec.Diffs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal field diffs: %w", err)
			}
		}

		rec.Resolution = sync.Resolution(resolution)
		if t, err := time.Parse(time.RFC3339Nano, detectedAt); err == nil {
			rec.DetectedAt = t
		}

		recs = append(recs, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}

	return recs, nil
}

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	s := "?"
	for i := 1; i < n; i++ {
		s += ", ?"
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
