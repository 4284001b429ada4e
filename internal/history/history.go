// Package history keeps a SQL log of configuration snapshots.  The default
// driver is go-sql-driver/mysql, which also works with MariaDB.
//
// Public entry points:
//
//	Open(dsn)                         – pooled connection, pinged.
//	NewStore(db).Migrate(ctx)         – create the revision table.
//	(*Store).Record / List            – write and read revisions.
//	(*Store).Recorder(m.Raw)          – observer that records each change.
//
// Observers receive the effective tree, which may hold resolved secrets.
// The Recorder ignores it and records the raw tree instead, so secret
// references are stored, never their values.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// DefaultLimit caps List when the caller passes a non-positive limit.
const DefaultLimit = 50

// Open returns a *sqlx.DB with a small pool: 5 open, 2 idle, and a
// 30-minute connection lifetime.  The database is pinged before returning.
// parseTime is always switched on; created_at scans into time.Time.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	dsn, err := normalizeDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	return db, nil
}

func normalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("history dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// Revision is one recorded snapshot.
type Revision struct {
	ID        string          `db:"id" json:"id"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	Body      json.RawMessage `db:"body" json:"config"`
}

// Store reads and writes revisions.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore wraps an open database.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS config_revision (
  id         CHAR(36)    NOT NULL PRIMARY KEY,
  created_at DATETIME(6) NOT NULL,
  body       JSON        NOT NULL,
  KEY idx_config_revision_created (created_at)
)`

// Migrate creates the revision table when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("migrate history: %w", err)
	}
	return nil
}

// Record stores snapshot as a new revision.
func (s *Store) Record(ctx context.Context, snapshot map[string]any) (Revision, error) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return Revision{}, fmt.Errorf("encode snapshot: %w", err)
	}

	rev := Revision{
		ID:        uuid.NewString(),
		CreatedAt: s.now(),
		Body:      body,
	}
	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO config_revision (id, created_at, body) VALUES (:id, :created_at, :body)`,
		rev)
	if err != nil {
		return Revision{}, fmt.Errorf("insert revision: %w", err)
	}
	return rev, nil
}

// List returns the newest revisions first.
func (s *Store) List(ctx context.Context, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var out []Revision
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, created_at, body FROM config_revision ORDER BY created_at DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	return out, nil
}

// Recorder records the tree returned by raw on every notification.
type Recorder struct {
	store *Store
	raw   func() map[string]any
}

// Recorder returns an observer.Observer bound to raw, normally
// (*manager.Manager).Raw.
func (s *Store) Recorder(raw func() map[string]any) *Recorder {
	return &Recorder{store: s, raw: raw}
}

// Notify records the raw tree.  The effective snapshot is not used.
func (r *Recorder) Notify(ctx context.Context, _ map[string]any) error {
	_, err := r.store.Record(ctx, r.raw())
	return err
}
