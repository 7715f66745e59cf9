package ledger

import (
	"context"
	"time"

	"github.com/Hadi-Serhan/vwrotation/internal/domain"
)

// Ledger is the durable record of every execution attempt plus a small
// key/value area for scheduler state. The scheduler loop is the only
// writer; the status API reads through the same interface.
type Ledger interface {
	// OpenRun inserts a pending record at the moment execution starts.
	// Returns the persisted record (with its generated ID) so the caller
	// can close it once the run finishes. Returns domain.ErrRunInFlight
	// when the job already has a pending record; the storage layer
	// enforces at most one per job.
	OpenRun(ctx context.Context, jobID string, attempt int, startedAt time.Time) (*domain.RunRecord, error)

	// CloseRun finishes a pending record with its outcome. reason is nil
	// on success; nextEligibleAt is non-nil only when a retry was
	// scheduled. Returns domain.ErrRunNotFound when id does not name a
	// pending record.
	CloseRun(ctx context.Context, id string, outcome domain.Outcome, reason *string, finishedAt time.Time, nextEligibleAt *time.Time) error

	// LatestByJob returns the most recently started record for a job, or
	// domain.ErrRunNotFound when the job has never run.
	LatestByJob(ctx context.Context, jobID string) (*domain.RunRecord, error)

	// ListLatest returns the newest record of every job that has ever run,
	// ordered by job id.
	ListLatest(ctx context.Context) ([]*domain.RunRecord, error)

	// ListPending returns every record that was never closed, ordered by
	// started_at ASC. Outside of startup recovery the result is empty.
	ListPending(ctx context.Context) ([]*domain.RunRecord, error)

	// ListByJob returns up to limit records for a job, newest first.
	ListByJob(ctx context.Context, jobID string, limit int) ([]*domain.RunRecord, error)

	// PruneRuns drops closed records beyond the newest keep for a job and
	// reports how many it removed. Pending records are never pruned.
	PruneRuns(ctx context.Context, jobID string, keep int) (int, error)

	// GetState reads a state value; absent keys return "" with no error.
	GetState(ctx context.Context, key string) (string, error)

	// PutState writes a state value, replacing any previous one.
	PutState(ctx context.Context, key, value string) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying store.
	Close()
}
