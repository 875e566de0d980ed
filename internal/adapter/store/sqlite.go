package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"stackpilot/internal/domain"
)

// SQLiteThreadStore implements domain.ThreadStore using SQLite.
//
// The message history is serialized as a JSON column on the thread row;
// ownership and version preconditions are expressed in the WHERE clause
// of each mutation, so a single statement both checks and applies them.
type SQLiteThreadStore struct {
	db *sql.DB
}

// NewSQLiteThreadStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteThreadStore(dbPath string) (*SQLiteThreadStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open thread db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	// Serialize writers instead of failing fast on lock contention.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate thread db: %w", err)
	}
	return &SQLiteThreadStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS threads (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL DEFAULT '',
			owner      TEXT NOT NULL DEFAULT '',
			is_public  INTEGER NOT NULL DEFAULT 0,
			messages   TEXT NOT NULL DEFAULT '[]',
			cost       REAL NOT NULL DEFAULT 0,
			version    INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_threads_owner
			ON threads(owner, updated_at DESC);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteThreadStore) Close() error {
	return s.db.Close()
}

// Create implements domain.ThreadStore.
func (s *SQLiteThreadStore) Create(ctx context.Context, t *domain.Thread) error {
	msgJSON, err := json.Marshal(t.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Version == 0 {
		t.Version = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO threads (id, title, owner, is_public, messages, cost, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Owner, boolToInt(t.IsPublic), string(msgJSON), t.Cost, t.Version,
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return domain.NewDomainError("ThreadStore.Create", domain.ErrThreadExists, t.ID)
		}
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

// Get implements domain.ThreadStore.
func (s *SQLiteThreadStore) Get(ctx context.Context, id string) (*domain.Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, owner, is_public, messages, cost, version, created_at, updated_at
		 FROM threads WHERE id = ?`, id)
	return scanThread(row)
}

// Update implements domain.ThreadStore. The ownership and version
// preconditions are folded into the UPDATE itself; zero affected rows is
// disambiguated afterwards into NotFound / Forbidden / Conflict.
func (s *SQLiteThreadStore) Update(ctx context.Context, id string, messages []domain.Message, title string, expectedOwner string, expectedVersion int64) (*domain.Thread, error) {
	msgJSON, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("marshal messages: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads
		 SET messages = ?, title = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND (owner = '' OR owner = ?) AND version = ?`,
		string(msgJSON), title, now.Format(time.RFC3339Nano),
		id, expectedOwner, expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("update thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update thread: %w", err)
	}
	if n == 0 {
		return nil, s.explainRejectedWrite(ctx, "ThreadStore.Update", id, expectedOwner)
	}

	return s.Get(ctx, id)
}

// AddCost implements domain.ThreadStore. The increment happens inside
// the database, never as a read-modify-write round trip, so concurrent
// increments cannot lose updates.
func (s *SQLiteThreadStore) AddCost(ctx context.Context, id string, delta float64, expectedOwner string) (float64, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx,
		`UPDATE threads
		 SET cost = cost + ?, updated_at = ?
		 WHERE id = ? AND (owner = '' OR owner = ?)
		 RETURNING cost`,
		delta, now.Format(time.RFC3339Nano), id, expectedOwner,
	)

	var total float64
	if err := row.Scan(&total); err != nil {
		if err == sql.ErrNoRows {
			return 0, s.explainRejectedWrite(ctx, "ThreadStore.AddCost", id, expectedOwner)
		}
		return 0, fmt.Errorf("add cost: %w", err)
	}
	return total, nil
}

// ListByOwner implements domain.ThreadStore.
func (s *SQLiteThreadStore) ListByOwner(ctx context.Context, owner string, limit int) ([]*domain.Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, owner, is_public, messages, cost, version, created_at, updated_at
		 FROM threads WHERE owner = ? ORDER BY updated_at DESC LIMIT ?`,
		owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []*domain.Thread
	for rows.Next() {
		t, err := scanThreadRows(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// CountByOwner implements domain.ThreadStore.
func (s *SQLiteThreadStore) CountByOwner(ctx context.Context, owner string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM threads WHERE owner = ?", owner).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count threads: %w", err)
	}
	return n, nil
}

// Delete implements domain.ThreadStore.
func (s *SQLiteThreadStore) Delete(ctx context.Context, id string, expectedOwner string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM threads WHERE id = ? AND (owner = '' OR owner = ?)",
		id, expectedOwner)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if n == 0 {
		return s.explainRejectedWrite(ctx, "ThreadStore.Delete", id, expectedOwner)
	}
	return nil
}

// explainRejectedWrite turns a zero-rows-affected mutation into the
// precise domain error: the row may be missing, owned by someone else,
// or (for versioned updates) concurrently modified.
func (s *SQLiteThreadStore) explainRejectedWrite(ctx context.Context, op, id, expectedOwner string) error {
	var owner string
	err := s.db.QueryRowContext(ctx,
		"SELECT owner FROM threads WHERE id = ?", id).Scan(&owner)
	if err == sql.ErrNoRows {
		return domain.NewDomainError(op, domain.ErrThreadNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("inspect thread %s: %w", id, err)
	}
	if owner != "" && owner != expectedOwner {
		return domain.NewDomainError(op, domain.ErrForbidden, id)
	}
	return domain.NewDomainError(op, domain.ErrConflict, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row *sql.Row) (*domain.Thread, error) {
	t, err := scanThreadFrom(row)
	if err == sql.ErrNoRows {
		return nil, domain.NewDomainError("ThreadStore.Get", domain.ErrThreadNotFound, "")
	}
	return t, err
}

func scanThreadRows(rows *sql.Rows) (*domain.Thread, error) {
	return scanThreadFrom(rows)
}

func scanThreadFrom(row rowScanner) (*domain.Thread, error) {
	var t domain.Thread
	var isPublic int
	var msgStr, createdStr, updatedStr string
	if err := row.Scan(&t.ID, &t.Title, &t.Owner, &isPublic, &msgStr, &t.Cost, &t.Version, &createdStr, &updatedStr); err != nil {
		return nil, err
	}
	t.IsPublic = isPublic != 0
	if err := json.Unmarshal([]byte(msgStr), &t.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
