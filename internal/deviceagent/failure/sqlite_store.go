package failure

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps the record in a single-row SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS failure_record (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		count INTEGER NOT NULL DEFAULT 0,
		mask INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	);
	`)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context) (Record, error) {
	var (
		rec       Record
		count     int64
		mask      int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT count, mask, updated_at FROM failure_record WHERE id = 1`,
	).Scan(&count, &mask, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("query failure record: %w", err)
	}

	rec.Count = uint32(count)
	rec.Mask = Kind(mask)
	if updatedAt != 0 {
		rec.UpdatedAt = time.Unix(0, updatedAt)
	}
	return rec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	var updatedAt int64
	if !rec.UpdatedAt.IsZero() {
		updatedAt = rec.UpdatedAt.UnixNano()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failure_record (id, count, mask, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET count = excluded.count, mask = excluded.mask, updated_at = excluded.updated_at
	`, int64(rec.Count), int64(rec.Mask), updatedAt)
	if err != nil {
		return fmt.Errorf("save failure record: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
