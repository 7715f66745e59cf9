package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Hadi-Serhan/vwrotation/internal/domain"
)

// schema is applied on startup; every statement is idempotent. The partial
// unique index is the durable backstop for the one-pending-run-per-job
// invariant.
const schema = `
	CREATE TABLE IF NOT EXISTS job_runs (
		id               UUID PRIMARY KEY,
		job_id           TEXT NOT NULL,
		attempt          INT  NOT NULL,
		outcome          TEXT NOT NULL,
		reason           TEXT,
		started_at       TIMESTAMPTZ NOT NULL,
		finished_at      TIMESTAMPTZ,
		next_eligible_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS job_runs_job_started
		ON job_runs (job_id, started_at DESC);

	CREATE UNIQUE INDEX IF NOT EXISTS job_runs_one_pending
		ON job_runs (job_id) WHERE outcome = 'pending';

	CREATE TABLE IF NOT EXISTS scheduler_state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
`

type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(ctx context.Context, pool *pgxpool.Pool) (*Ledger, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Ledger{pool: pool}, nil
}

func (l *Ledger) OpenRun(ctx context.Context, jobID string, attempt int, startedAt time.Time) (*domain.RunRecord, error) {
	query := `
		INSERT INTO job_runs (id, job_id, attempt, outcome, started_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, job_id, attempt, outcome, reason,
		          started_at, finished_at, next_eligible_at`

	row := l.pool.QueryRow(ctx, query,
		uuid.NewString(), jobID, attempt, domain.OutcomePending, startedAt.UTC())

	rec, err := scanRun(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrRunInFlight
		}
		return nil, err
	}
	return rec, nil
}

func (l *Ledger) CloseRun(ctx context.Context, id string, outcome domain.Outcome, reason *string, finishedAt time.Time, nextEligibleAt *time.Time) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE job_runs
		SET outcome          = $2,
		    reason           = $3,
		    finished_at      = $4,
		    next_eligible_at = $5
		WHERE id = $1 AND outcome = 'pending'`,
		id, outcome, reason, finishedAt.UTC(), timePtrUTC(nextEligibleAt),
	)
	if err != nil {
		return fmt.Errorf("close run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (l *Ledger) LatestByJob(ctx context.Context, jobID string) (*domain.RunRecord, error) {
	query := `
		SELECT id, job_id, attempt, outcome, reason,
		       started_at, finished_at, next_eligible_at
		FROM job_runs
		WHERE job_id = $1
		ORDER BY started_at DESC, id DESC
		LIMIT 1`

	return scanRun(l.pool.QueryRow(ctx, query, jobID))
}

func (l *Ledger) ListLatest(ctx context.Context) ([]*domain.RunRecord, error) {
	query := `
		SELECT DISTINCT ON (job_id)
		       id, job_id, attempt, outcome, reason,
		       started_at, finished_at, next_eligible_at
		FROM job_runs
		ORDER BY job_id, started_at DESC, id DESC`

	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list latest runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

func (l *Ledger) ListPending(ctx context.Context) ([]*domain.RunRecord, error) {
	query := `
		SELECT id, job_id, attempt, outcome, reason,
		       started_at, finished_at, next_eligible_at
		FROM job_runs
		WHERE outcome = 'pending'
		ORDER BY started_at ASC`

	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

func (l *Ledger) ListByJob(ctx context.Context, jobID string, limit int) ([]*domain.RunRecord, error) {
	query := `
		SELECT id, job_id, attempt, outcome, reason,
		       started_at, finished_at, next_eligible_at
		FROM job_runs
		WHERE job_id = $1
		ORDER BY started_at DESC, id DESC
		LIMIT $2`

	rows, err := l.pool.Query(ctx, query, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

func (l *Ledger) PruneRuns(ctx context.Context, jobID string, keep int) (int, error) {
	tag, err := l.pool.Exec(ctx, `
		DELETE FROM job_runs
		WHERE job_id = $1
		  AND outcome <> 'pending'
		  AND id NOT IN (
			SELECT id FROM job_runs
			WHERE job_id = $1
			ORDER BY started_at DESC, id DESC
			LIMIT $2
		  )`, jobID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (l *Ledger) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := l.pool.QueryRow(ctx,
		`SELECT value FROM scheduler_state WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get state: %w", err)
	}
	return value, nil
}

func (l *Ledger) PutState(ctx context.Context, key, value string) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO scheduler_state (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("put state: %w", err)
	}
	return nil
}

func (l *Ledger) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

func (l *Ledger) Close() {
	l.pool.Close()
}

// pgx.Row and pgx.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.RunRecord, error) {
	var rec domain.RunRecord
	err := row.Scan(
		&rec.ID, &rec.JobID, &rec.Attempt, &rec.Outcome, &rec.Reason,
		&rec.StartedAt, &rec.FinishedAt, &rec.NextEligibleAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &rec, nil
}

func collectRuns(rows pgx.Rows) ([]*domain.RunRecord, error) {
	var recs []*domain.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func timePtrUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
