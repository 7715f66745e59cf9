package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Hadi-Serhan/vwrotation/internal/domain"
	"github.com/Hadi-Serhan/vwrotation/internal/ledger"
	"github.com/Hadi-Serhan/vwrotation/internal/metrics"
	"github.com/Hadi-Serhan/vwrotation/internal/registry"
	"github.com/Hadi-Serhan/vwrotation/internal/runid"
)

// Loop drives every job in the registry: each tick it evaluates triggers
// against the ledger, dispatches due jobs, and settles finished runs.
// It is the only ledger writer in the process.
type Loop struct {
	reg      *registry.Registry
	ledger   ledger.Ledger
	executor *Executor
	policy   RetryPolicy
	logger   *slog.Logger

	tick     time.Duration
	grace    time.Duration
	keepRuns int

	mu       sync.Mutex
	inFlight map[string]struct{}
	deferred []deferredClose

	wg sync.WaitGroup
}

// deferredClose holds a CloseRun that failed. It is retried every tick so
// a ledger outage cannot lose an outcome; the job stays blocked behind
// its pending record until the write lands.
type deferredClose struct {
	runID          string
	jobID          string
	outcome        domain.Outcome
	reason         *string
	finishedAt     time.Time
	nextEligibleAt *time.Time
}

func NewLoop(
	reg *registry.Registry,
	led ledger.Ledger,
	policy RetryPolicy,
	logger *slog.Logger,
	tick time.Duration,
	grace time.Duration,
	keepRuns int,
) *Loop {
	return &Loop{
		reg:      reg,
		ledger:   led,
		executor: NewExecutor(),
		policy:   policy,
		logger:   logger.With("component", "scheduler"),
		tick:     tick,
		grace:    grace,
		keepRuns: keepRuns,
		inFlight: make(map[string]struct{}),
	}
}

func (l *Loop) Start(ctx context.Context) {
	metrics.SchedulerStartTime.SetToCurrentTime()

	l.recover(ctx)

	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	l.logger.Info("scheduler started", "tick", l.tick, "jobs", len(l.reg.Entries()))

	// First pass immediately; the ticker covers the rest.
	l.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			l.drain()
			l.logger.Info("scheduler shut down")
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// RunOnce performs a single evaluation pass and waits for the runs it
// started to finish. Used by cron-style deployments that exec the binary
// per activation instead of leaving it resident.
func (l *Loop) RunOnce(ctx context.Context) {
	l.recover(ctx)
	l.Tick(ctx)
	l.wg.Wait()
	l.flushDeferred(ctx)
}

// recover closes records left pending by a previous process. The run
// itself never reported back, so it counts as a failure and goes through
// the regular retry policy.
func (l *Loop) recover(ctx context.Context) {
	pending, err := l.ledger.ListPending(ctx)
	if err != nil {
		metrics.LedgerErrorsTotal.Inc()
		l.logger.Error("list pending runs", "error", err)
		return
	}

	for _, rec := range pending {
		reason := domain.ReasonInterrupted

		// Jobs dropped from the registry since the crash close without a
		// retry; nothing would pick the retry up.
		var nextAt *time.Time
		if job, ok := l.reg.Lookup(rec.JobID); ok {
			if d := l.policy.Decide(job, rec.Attempt, domain.OutcomeFailure, time.Now()); d.Retry {
				nextAt = &d.RetryAt
			}
		}

		if err := l.ledger.CloseRun(ctx, rec.ID, domain.OutcomeFailure, &reason, time.Now(), nextAt); err != nil {
			metrics.LedgerErrorsTotal.Inc()
			l.logger.Error("close interrupted run", "job_id", rec.JobID, "run_id", rec.ID, "error", err)
			continue
		}
		metrics.RunsInterruptedTotal.Inc()
		l.logger.Warn("closed interrupted run", "job_id", rec.JobID, "run_id", rec.ID, "attempt", rec.Attempt)
	}
}

// Tick runs one evaluation pass over the whole registry. Exported so
// run-once mode and tests can drive the loop without the ticker.
func (l *Loop) Tick(ctx context.Context) {
	start := time.Now()

	l.flushDeferred(ctx)

	for _, ent := range l.reg.Entries() {
		l.maybeDispatch(ctx, ent)
	}

	metrics.TickDuration.Observe(time.Since(start).Seconds())
}

func (l *Loop) maybeDispatch(ctx context.Context, ent registry.Entry) {
	job := ent.Job
	if l.busy(job.ID) {
		return
	}

	latest, err := l.ledger.LatestByJob(ctx, job.ID)
	if err != nil && !errors.Is(err, domain.ErrRunNotFound) {
		metrics.LedgerErrorsTotal.Inc()
		l.logger.Error("read latest run, skipping job this tick", "job_id", job.ID, "error", err)
		return
	}

	ev := Evaluate(job, latest, time.Now())
	if !ev.Due {
		return
	}
	l.dispatch(ctx, ent, ev.Attempt)
}

func (l *Loop) dispatch(ctx context.Context, ent registry.Entry, attempt int) {
	job := ent.Job

	// Open the run record before executing so a crash leaves a visible
	// pending entry for recovery to close.
	rec, err := l.ledger.OpenRun(ctx, job.ID, attempt, time.Now())
	if err != nil {
		if errors.Is(err, domain.ErrRunInFlight) {
			// Index-level guard; normally unreachable behind the in-flight set.
			l.logger.Warn("run already in flight", "job_id", job.ID)
			return
		}
		metrics.LedgerErrorsTotal.Inc()
		l.logger.Error("open run, skipping dispatch", "job_id", job.ID, "error", err)
		return
	}

	l.setBusy(job.ID)
	l.wg.Add(1)

	// Detached from the loop context so a stop request does not abort the
	// action mid-flight; the per-run deadline still bounds it and drain
	// waits below.
	runCtx := runid.WithRunID(context.WithoutCancel(ctx), rec.ID)
	runCtx = runid.WithJobID(runCtx, job.ID)

	go func() {
		defer l.wg.Done()
		defer l.clearBusy(job.ID)

		metrics.RunsInFlight.Inc()
		defer metrics.RunsInFlight.Dec()

		l.logger.Info("executing job", "job_id", job.ID, "run_id", rec.ID, "attempt", attempt)
		res := l.executor.Run(runCtx, job, ent.Invoker)
		l.settle(runCtx, job, rec, res)
	}()
}

// settle writes the outcome and decides what the job does next.
func (l *Loop) settle(ctx context.Context, job domain.Job, rec *domain.RunRecord, res ExecutionResult) {
	now := time.Now()
	disp := l.policy.Decide(job, rec.Attempt, res.Outcome, now)

	var nextAt *time.Time
	if disp.Retry {
		nextAt = &disp.RetryAt
	}

	metrics.RunsTotal.WithLabelValues(string(res.Outcome)).Inc()
	metrics.RunDuration.WithLabelValues(string(res.Outcome)).Observe(res.Duration.Seconds())

	switch {
	case res.Outcome == domain.OutcomeSuccess:
		l.logger.Info("job completed", "job_id", job.ID, "run_id", rec.ID, "duration", res.Duration)
	case disp.Retry:
		metrics.RetriesScheduledTotal.Inc()
		l.logger.Warn("job failed, will retry",
			"job_id", job.ID,
			"run_id", rec.ID,
			"reason", reasonText(res.Reason),
			"attempt", rec.Attempt,
			"max_attempts", job.MaxAttempts,
			"retry_at", disp.RetryAt,
		)
	default:
		metrics.GiveUpsTotal.Inc()
		l.logger.Warn("job gave up until next activation",
			"job_id", job.ID,
			"run_id", rec.ID,
			"reason", reasonText(res.Reason),
			"attempts", rec.Attempt,
		)
	}

	if err := l.ledger.CloseRun(ctx, rec.ID, res.Outcome, res.Reason, now, nextAt); err != nil {
		metrics.LedgerErrorsTotal.Inc()
		l.mu.Lock()
		l.deferred = append(l.deferred, deferredClose{
			runID:          rec.ID,
			jobID:          job.ID,
			outcome:        res.Outcome,
			reason:         res.Reason,
			finishedAt:     now,
			nextEligibleAt: nextAt,
		})
		l.mu.Unlock()
		l.logger.Error("close run, will retry next tick", "job_id", job.ID, "run_id", rec.ID, "error", err)
		return
	}

	if _, err := l.ledger.PruneRuns(ctx, job.ID, l.keepRuns); err != nil {
		l.logger.Warn("prune runs", "job_id", job.ID, "error", err)
	}
}

func (l *Loop) flushDeferred(ctx context.Context) {
	l.mu.Lock()
	queue := l.deferred
	l.deferred = nil
	l.mu.Unlock()

	for _, dc := range queue {
		err := l.ledger.CloseRun(ctx, dc.runID, dc.outcome, dc.reason, dc.finishedAt, dc.nextEligibleAt)
		if err == nil || errors.Is(err, domain.ErrRunNotFound) {
			// Not found means someone else closed it, e.g. recovery after
			// a restart raced the flush. Either way the record is settled.
			continue
		}
		metrics.LedgerErrorsTotal.Inc()
		l.mu.Lock()
		l.deferred = append(l.deferred, dc)
		l.mu.Unlock()
		l.logger.Error("flush deferred close", "job_id", dc.jobID, "run_id", dc.runID, "error", err)
	}
}

func (l *Loop) drain() {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(l.grace):
		l.logger.Warn("shutdown grace elapsed with runs still in flight", "grace", l.grace)
	}
}

func (l *Loop) busy(jobID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.inFlight[jobID]
	return ok
}

func (l *Loop) setBusy(jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight[jobID] = struct{}{}
}

func (l *Loop) clearBusy(jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, jobID)
}

func reasonText(r *string) string {
	if r == nil {
		return ""
	}
	return *r
}
