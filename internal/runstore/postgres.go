package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implements Repository on Postgres for deployments where a
// dashboard reads run records. The full record lives in a JSONB column;
// the queried fields are projected into their own columns.
type PGRepository struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    thread_id    TEXT,
    status       TEXT NOT NULL,
    pid          INTEGER NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL,
    doc          JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_thread_id_idx ON runs (thread_id);
CREATE INDEX IF NOT EXISTS runs_status_pid_idx ON runs (status, pid);
`

func NewPGRepository(ctx context.Context, connString string) (*PGRepository, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure runs schema: %w", err)
	}
	return &PGRepository{pool: pool}, nil
}

func (r *PGRepository) Close() {
	r.pool.Close()
}

func encodeRun(run Run) ([]byte, error) {
	return json.Marshal(run)
}

func scanRun(row pgx.Row) (Run, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		return Run{}, err
	}
	var run Run
	if err := json.Unmarshal(doc, &run); err != nil {
		return Run{}, fmt.Errorf("decode run doc: %w", err)
	}
	return run, nil
}

func (r *PGRepository) Create(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	doc, err := encodeRun(run)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO runs (id, thread_id, status, pid, created_at, updated_at, doc)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.ThreadID, string(run.Status), run.PID, run.CreatedAt, run.UpdatedAt, doc)
	return err
}

func (r *PGRepository) FindByID(ctx context.Context, id string) (Run, bool, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, `SELECT doc FROM runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

func (r *PGRepository) FindByThreadID(ctx context.Context, threadID string) (Run, bool, error) {
	run, err := scanRun(r.pool.QueryRow(ctx,
		`SELECT doc FROM runs WHERE thread_id = $1 ORDER BY created_at DESC LIMIT 1`, threadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, id string, status Status, patch Patch) error {
	run, found, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("run %s not found", id)
	}
	run.applyPatch(status, patch, time.Now().UTC())
	doc, err := encodeRun(run)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE runs SET status = $2, pid = $3, updated_at = $4, doc = $5 WHERE id = $1`,
		id, string(run.Status), run.PID, run.UpdatedAt, doc)
	return err
}

func (r *PGRepository) FindRunningByPID(ctx context.Context, pid int) ([]Run, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT doc FROM runs WHERE status = $1 AND pid = $2 ORDER BY created_at`,
		string(StatusRunning), pid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

func (r *PGRepository) List(ctx context.Context) ([]Run, error) {
	rows, err := r.pool.Query(ctx, `SELECT doc FROM runs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

func collectRuns(rows pgx.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var run Run
		if err := json.Unmarshal(doc, &run); err != nil {
			return nil, fmt.Errorf("decode run doc: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *PGRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1`, id)
	return err
}
