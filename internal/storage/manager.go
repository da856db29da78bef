package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Manager owns the PostgreSQL-backed bookkeeping this domain's storage
// layer needs beyond the graph itself: a record of backup snapshots
// taken by the scheduler's autoreplicate task (spec.md §5). Adapted from
// the teacher's StorageManager, which owned a whole schema of
// video-pipeline job tables; here the only state that doesn't already
// live in the graph is "when did we last snapshot, and to where".
type Manager struct {
	db    *sql.DB
	paths *PathManager
}

// NewManager opens the bookkeeping connection and ensures its schema
// exists, mirroring the teacher's NewStorageManager/initSchema sequence.
func NewManager(postgresURL string, paths *PathManager) (*Manager, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("storage: connecting to postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("storage: pinging postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	m := &Manager{db: db, paths: paths}
	if err := m.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) initSchema() error {
	const schema = `
	CREATE SCHEMA IF NOT EXISTS vdms;

	CREATE TABLE IF NOT EXISTS vdms.backup_snapshots (
		id SERIAL PRIMARY KEY,
		snapshot_path TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		status VARCHAR(20) NOT NULL DEFAULT 'running',
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_backup_snapshots_started_at
		ON vdms.backup_snapshots(started_at);
	`
	if _, err := m.db.Exec(schema); err != nil {
		return fmt.Errorf("storage: initializing schema: %w", err)
	}
	return nil
}

// BeginSnapshot records the start of a backup snapshot run, returning
// its row id for CompleteSnapshot/FailSnapshot.
func (m *Manager) BeginSnapshot(ctx context.Context, snapshotPath string) (int64, error) {
	var id int64
	err := m.db.QueryRowContext(ctx,
		`INSERT INTO vdms.backup_snapshots (snapshot_path, started_at) VALUES ($1, now()) RETURNING id`,
		snapshotPath,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: recording snapshot start: %w", err)
	}
	return id, nil
}

func (m *Manager) CompleteSnapshot(ctx context.Context, id int64) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE vdms.backup_snapshots SET status = 'complete', completed_at = now() WHERE id = $1`, id)
	return err
}

func (m *Manager) FailSnapshot(ctx context.Context, id int64, cause error) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE vdms.backup_snapshots SET status = 'failed', completed_at = now(), error = $2 WHERE id = $1`,
		id, cause.Error())
	return err
}

// LastSnapshotTime returns the completion time of the most recent
// successful snapshot. It is part of scheduler.SnapshotStore, but the
// autoreplicate handler does not consult it: every scheduled run takes a
// snapshot.
func (m *Manager) LastSnapshotTime(ctx context.Context) (time.Time, error) {
	var t sql.NullTime
	err := m.db.QueryRowContext(ctx,
		`SELECT max(completed_at) FROM vdms.backup_snapshots WHERE status = 'complete'`,
	).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: querying last snapshot time: %w", err)
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}

func (m *Manager) Close() error { return m.db.Close() }
