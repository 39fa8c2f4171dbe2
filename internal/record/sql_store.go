package record

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

func init() {
	// modernc.org/sqlite registers as "sqlite", which sqlx does not know by default
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLStore keeps each table as one row of the records table. It works with
// both the postgres and the sqlite driver. Every row carries a version that
// Replace compares and bumps, so instances sharing the database cannot
// overwrite each other's changes.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// EnsureTable creates the records table if not exists (idempotent).
func (s *SQLStore) EnsureTable(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS records (
  name VARCHAR(32) PRIMARY KEY,
  payload TEXT NOT NULL DEFAULT '[]',
  version BIGINT NOT NULL DEFAULT 0,
  updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
	if s.db.DriverName() == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS records (
  name VARCHAR(32) PRIMARY KEY,
  payload JSONB NOT NULL DEFAULT '[]'::jsonb,
  version BIGINT NOT NULL DEFAULT 0,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return unavailable("ensure records table", err)
	}
	return nil
}

type recordRow struct {
	Payload []byte `db:"payload"`
	Version int64  `db:"version"`
}

func (s *SQLStore) Load(ctx context.Context, t Table) ([]byte, int64, error) {
	var row recordRow
	q := s.db.Rebind(`SELECT payload, version FROM records WHERE name = ?`)
	if err := s.db.GetContext(ctx, &row, q, string(t)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, nil
		}
		return nil, 0, unavailable("load "+string(t), err)
	}
	return row.Payload, row.Version, nil
}

// Replace applies every write inside one SQL transaction. A write whose
// version no longer matches rolls the whole batch back with ErrConflict.
func (s *SQLStore) Replace(ctx context.Context, writes ...Write) error {
	if len(writes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	now := time.Now().UTC()
	for _, w := range writes {
		if err := s.apply(ctx, tx, w, now); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func (s *SQLStore) apply(ctx context.Context, tx *sqlx.Tx, w Write, now time.Time) error {
	payload := string(w.Payload)
	if payload == "" {
		payload = "[]"
	}
	var (
		q    string
		args []any
	)
	switch {
	case w.CheckOnly && w.Version == 0:
		var n int
		if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM records WHERE name = ?`), string(w.Table)); err != nil {
			return unavailable("check "+string(w.Table), err)
		}
		if n != 0 {
			return conflict(w)
		}
		return nil
	case w.CheckOnly:
		// a no-op update still locks the row until commit
		q = `UPDATE records SET version = version WHERE name = ? AND version = ?`
		args = []any{string(w.Table), w.Version}
	case w.Version == 0:
		q = `INSERT INTO records (name, payload, version, updated_at) VALUES (?, ?, 1, ?) ON CONFLICT (name) DO NOTHING`
		args = []any{string(w.Table), payload, now}
	default:
		q = `UPDATE records SET payload = ?, version = version + 1, updated_at = ? WHERE name = ? AND version = ?`
		args = []any{payload, now, string(w.Table), w.Version}
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
	if err != nil {
		return unavailable("replace "+string(w.Table), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("replace "+string(w.Table), err)
	}
	if n != 1 {
		return conflict(w)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }
