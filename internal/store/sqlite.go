package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/localclaw/internal/model"
)

// SQLitePersister keeps the snapshot as a single JSON row in a local
// SQLite database. Every Save replaces the row inside one transaction.
type SQLitePersister struct {
	db *sqlx.DB
}

// NewSQLitePersister opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLitePersister(dbPath string) (*SQLitePersister, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection: the store already serializes writers, and an
	// in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for crash-safe atomic replacement of the row.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	p := &SQLitePersister{db: db}
	if err := p.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return p, nil
}

// Close closes the underlying database connection.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (p *SQLitePersister) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := p.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = p.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := p.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Load reads the persisted snapshot. It returns (nil, nil) when no snapshot
// has been saved and an ErrCorrupt-wrapped error when the row cannot be
// decoded.
func (p *SQLitePersister) Load(ctx context.Context) (*model.Snapshot, error) {
	var data string
	err := p.db.GetContext(ctx, &data, "SELECT data FROM snapshot WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("%w: decoding snapshot: %v", ErrCorrupt, err)
	}
	return &snap, nil
}

// Save replaces the persisted snapshot.
func (p *SQLitePersister) Save(ctx context.Context, snap *model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO snapshot (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`

	if _, err := tx.ExecContext(ctx, query, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}

	return tx.Commit()
}
