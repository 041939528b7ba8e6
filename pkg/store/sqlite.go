package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tmarbach/daybook/pkg/record"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements RecordStore using SQLite as the primary tier.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed record store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
// Creates tables and indexes if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		payload TEXT,
		last_modified INTEGER NOT NULL,
		PRIMARY KEY (kind, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);
	`

	_, err := s.db.Exec(schema)
	return err
}

// DB returns the underlying database connection for advanced operations.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// GetAll returns every record of the given kind.
func (s *SQLiteStore) GetAll(ctx context.Context, kind record.Kind) ([]record.Record, error) {
	query := `
		SELECT kind, id, payload, last_modified
		FROM records
		WHERE kind = ?
		ORDER BY last_modified, id
	`

	rows, err := s.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []record.Record
	for rows.Next() {
		var rec record.Record
		var k string
		var payload []byte

		if err := rows.Scan(&k, &rec.ID, &payload, &rec.LastModified); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Kind = record.Kind(k)
		rec.Payload = payload
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// Get retrieves a single record by identity.
func (s *SQLiteStore) Get(ctx context.Context, kind record.Kind, id string) (*record.Record, error) {
	query := `
		SELECT kind, id, payload, last_modified
		FROM records
		WHERE kind = ? AND id = ?
	`

	var rec record.Record
	var k string
	var payload []byte

	err := s.db.QueryRowContext(ctx, query, string(kind), id).Scan(&k, &rec.ID, &payload, &rec.LastModified)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	rec.Kind = record.Kind(k)
	rec.Payload = payload
	return &rec, nil
}

// Put upserts a record. Writes older than the stored copy are ignored so
// last_modified never decreases per identity.
func (s *SQLiteStore) Put(ctx context.Context, rec record.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO records (kind, id, payload, last_modified)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			last_modified = excluded.last_modified
		WHERE excluded.last_modified >= records.last_modified
	`

	_, err := s.db.ExecContext(ctx, query,
		string(rec.Kind),
		rec.ID,
		[]byte(rec.Payload),
		rec.LastModified,
	)
	if err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}

	return nil
}

// Delete removes a record if present.
func (s *SQLiteStore) Delete(ctx context.Context, kind record.Kind, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE kind = ? AND id = ?", string(kind), id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// Count returns the number of stored records of the given kind.
func (s *SQLiteStore) Count(ctx context.Context, kind record.Kind) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE kind = ?", string(kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
