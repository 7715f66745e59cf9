package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	sqlite3 "modernc.org/sqlite"

	"github.com/Hadi-Serhan/vwrotation/internal/domain"
)

// Times are stored as unix milliseconds UTC so ordering stays exact. The
// partial unique index is the durable backstop for the
// one-pending-run-per-job invariant.
const schema = `
	CREATE TABLE IF NOT EXISTS job_runs (
		id               TEXT PRIMARY KEY,
		job_id           TEXT NOT NULL,
		attempt          INTEGER NOT NULL,
		outcome          TEXT NOT NULL,
		reason           TEXT,
		started_at       INTEGER NOT NULL,
		finished_at      INTEGER,
		next_eligible_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS job_runs_job_started
		ON job_runs (job_id, started_at DESC);

	CREATE UNIQUE INDEX IF NOT EXISTS job_runs_one_pending
		ON job_runs (job_id) WHERE outcome = 'pending';

	CREATE TABLE IF NOT EXISTS scheduler_state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
`

type Ledger struct {
	db *sql.DB
}

func NewLedger(ctx context.Context, path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) OpenRun(ctx context.Context, jobID string, attempt int, startedAt time.Time) (*domain.RunRecord, error) {
	rec := &domain.RunRecord{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Attempt:   attempt,
		Outcome:   domain.OutcomePending,
		StartedAt: startedAt.UTC(),
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, job_id, attempt, outcome, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.JobID, rec.Attempt, string(rec.Outcome), rec.StartedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrRunInFlight
		}
		return nil, fmt.Errorf("open run: %w", err)
	}
	return rec, nil
}

func (l *Ledger) CloseRun(ctx context.Context, id string, outcome domain.Outcome, reason *string, finishedAt time.Time, nextEligibleAt *time.Time) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE job_runs
		SET outcome          = ?,
		    reason           = ?,
		    finished_at      = ?,
		    next_eligible_at = ?
		WHERE id = ? AND outcome = 'pending'`,
		string(outcome), reason, finishedAt.UTC().UnixMilli(), milliPtr(nextEligibleAt), id,
	)
	if err != nil {
		return fmt.Errorf("close run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close run: %w", err)
	}
	if n == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (l *Ledger) LatestByJob(ctx context.Context, jobID string) (*domain.RunRecord, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, job_id, attempt, outcome, reason,
		       started_at, finished_at, next_eligible_at
		FROM job_runs
		WHERE job_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1`, jobID)

	return scanRun(row)
}

func (l *Ledger) ListLatest(ctx context.Context) ([]*domain.RunRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, job_id, attempt, outcome, reason,
		       started_at, finished_at, next_eligible_at
		FROM (
			SELECT *, ROW_NUMBER() OVER (
				PARTITION BY job_id
				ORDER BY started_at DESC, id DESC
			) AS rn
			FROM job_runs
		)
		WHERE rn = 1
		ORDER BY job_id`)
	if err != nil {
		return nil, fmt.Errorf("list latest runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

func (l *Ledger) ListPending(ctx context.Context) ([]*domain.RunRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, job_id, attempt, outcome, reason,
		       started_at, finished_at, next_eligible_at
		FROM job_runs
		WHERE outcome = 'pending'
		ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

func (l *Ledger) ListByJob(ctx context.Context, jobID string, limit int) ([]*domain.RunRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, job_id, attempt, outcome, reason,
		       started_at, finished_at, next_eligible_at
		FROM job_runs
		WHERE job_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

func (l *Ledger) PruneRuns(ctx context.Context, jobID string, keep int) (int, error) {
	res, err := l.db.ExecContext(ctx, `
		DELETE FROM job_runs
		WHERE job_id = ?
		  AND outcome <> 'pending'
		  AND id NOT IN (
			SELECT id FROM job_runs
			WHERE job_id = ?
			ORDER BY started_at DESC, id DESC
			LIMIT ?
		  )`, jobID, jobID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return int(n), nil
}

func (l *Ledger) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := l.db.QueryRowContext(ctx,
		`SELECT value FROM scheduler_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get state: %w", err)
	}
	return value, nil
}

func (l *Ledger) PutState(ctx context.Context, key, value string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO scheduler_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE
		SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put state: %w", err)
	}
	return nil
}

func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *Ledger) Close() {
	_ = l.db.Close()
}

// SQLITE_CONSTRAINT_UNIQUE (2067) or SQLITE_CONSTRAINT_PRIMARYKEY (1555).
func isUniqueViolation(err error) bool {
	var se *sqlite3.Error
	if errors.As(err, &se) {
		return se.Code() == 2067 || se.Code() == 1555
	}
	return false
}

// sql.Row and sql.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.RunRecord, error) {
	var (
		rec      domain.RunRecord
		reason   sql.NullString
		started  int64
		finished sql.NullInt64
		nextAt   sql.NullInt64
	)
	err := row.Scan(
		&rec.ID, &rec.JobID, &rec.Attempt, &rec.Outcome, &reason,
		&started, &finished, &nextAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if reason.Valid {
		rec.Reason = &reason.String
	}
	rec.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		rec.FinishedAt = &t
	}
	if nextAt.Valid {
		t := time.UnixMilli(nextAt.Int64).UTC()
		rec.NextEligibleAt = &t
	}
	return &rec, nil
}

func collectRuns(rows *sql.Rows) ([]*domain.RunRecord, error) {
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

func milliPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}
