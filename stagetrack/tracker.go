// Package stagetrack persists the per-(project, version, shot, stage)
// StageRecords that make every pipeline command idempotent and resumable.
package stagetrack

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"shorts-engine/types"
)

// Stage names used as StageRecord keys.
const (
	StageAudio    = "audio"
	StageEffects  = "effects"
	StageAssemble = "assemble"
)

// AssembleShotIndex is the shot index under which the version-scoped
// assemble record is stored; assembly has no shot-local scope.
const AssembleShotIndex = -1

// Tracker stores StageRecords in a sqlite database. Updates are applied one
// record at a time under a lock keyed by the full record tuple, so parallel
// shot workers can never corrupt each other's records.
type Tracker struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS stage_records (
    project     TEXT NOT NULL,
    version     TEXT NOT NULL,
    shot        INTEGER NOT NULL,
    stage       TEXT NOT NULL,
    status      TEXT NOT NULL CHECK(status IN ('pending', 'done', 'stale', 'failed')),
    artifact    TEXT NOT NULL DEFAULT '',
    fingerprint TEXT NOT NULL DEFAULT '',
    updated_at  TEXT NOT NULL,
    PRIMARY KEY (project, version, shot, stage)
);
`

// Open creates a Tracker backed by the sqlite database at path, creating
// the schema on first use.
func Open(path string) (*Tracker, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Tracker{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

func (t *Tracker) Close() error { return t.db.Close() }

// Lock returns the mutex guarding one record tuple, creating it on first use.
// Callers hold it across a read-compute-write cycle on that record.
func (t *Tracker) Lock(project, version string, shot int, stage string) *sync.Mutex {
	key := fmt.Sprintf("%s/%s/%d/%s", project, version, shot, stage)
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.locks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	t.locks[key] = m
	return m
}

// Get returns the StageRecord for a tuple, or a zero-value pending record
// when none has been written yet.
func (t *Tracker) Get(ctx context.Context, project, version string, shot int, stage string) (types.StageRecord, error) {
	rec := types.StageRecord{
		Project: project,
		Version: version,
		Shot:    shot,
		Stage:   stage,
		Status:  types.StatusPending,
	}
	row := t.db.QueryRowContext(ctx, `
		SELECT status, artifact, fingerprint, updated_at
		FROM stage_records
		WHERE project = ? AND version = ? AND shot = ? AND stage = ?`,
		project, version, shot, stage)
	var status string
	err := row.Scan(&status, &rec.Artifact, &rec.Fingerprint, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("get stage record: %w", err)
	}
	rec.Status = types.Status(status)
	return rec, nil
}

// IsStale reports whether the tuple must be recomputed for the given input
// fingerprint: stale means the fingerprint no longer matches the recorded
// one, or the record never reached done.
func (t *Tracker) IsStale(ctx context.Context, project, version string, shot int, stage, fingerprint string) (bool, error) {
	rec, err := t.Get(ctx, project, version, shot, stage)
	if err != nil {
		return true, err
	}
	return rec.Status != types.StatusDone || rec.Fingerprint != fingerprint, nil
}

// MarkDone records a completed stage with its artifact and the fingerprint of
// the inputs that produced it. Only called after the artifact is fully
// written.
func (t *Tracker) MarkDone(ctx context.Context, project, version string, shot int, stage, artifact, fingerprint string) error {
	return t.upsert(ctx, project, version, shot, stage, types.StatusDone, artifact, fingerprint)
}

// MarkFailed records a failed stage attempt. The previous artifact path is
// kept so a later inspection can find partial output.
func (t *Tracker) MarkFailed(ctx context.Context, project, version string, shot int, stage string) error {
	rec, err := t.Get(ctx, project, version, shot, stage)
	if err != nil {
		return err
	}
	return t.upsert(ctx, project, version, shot, stage, types.StatusFailed, rec.Artifact, "")
}

// MarkStale explicitly invalidates a record, forcing recomputation on the
// next run regardless of fingerprints.
func (t *Tracker) MarkStale(ctx context.Context, project, version string, shot int, stage string) error {
	rec, err := t.Get(ctx, project, version, shot, stage)
	if err != nil {
		return err
	}
	return t.upsert(ctx, project, version, shot, stage, types.StatusStale, rec.Artifact, rec.Fingerprint)
}

func (t *Tracker) upsert(ctx context.Context, project, version string, shot int, stage string, status types.Status, artifact, fingerprint string) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO stage_records (project, version, shot, stage, status, artifact, fingerprint, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project, version, shot, stage) DO UPDATE SET
			status = excluded.status,
			artifact = excluded.artifact,
			fingerprint = excluded.fingerprint,
			updated_at = excluded.updated_at`,
		project, version, shot, stage, string(status), artifact, fingerprint,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert stage record %s/%s shot %d %s: %w", project, version, shot, stage, err)
	}
	return nil
}

// Records returns every StageRecord for a (project, version), ordered by
// shot then stage.
func (t *Tracker) Records(ctx context.Context, project, version string) ([]types.StageRecord, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT shot, stage, status, artifact, fingerprint, updated_at
		FROM stage_records
		WHERE project = ? AND version = ?
		ORDER BY shot, stage`, project, version)
	if err != nil {
		return nil, fmt.Errorf("list stage records: %w", err)
	}
	defer rows.Close()

	var recs []types.StageRecord
	for rows.Next() {
		rec := types.StageRecord{Project: project, Version: version}
		var status string
		if err := rows.Scan(&rec.Shot, &rec.Stage, &status, &rec.Artifact, &rec.Fingerprint, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Status = types.Status(status)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
