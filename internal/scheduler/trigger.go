package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Hadi-Serhan/vwrotation/internal/domain"
)

// Evaluation is the per-tick verdict for one job.
type Evaluation struct {
	Due     bool
	Attempt int // attempt number the next run would carry
}

// Evaluate decides whether a job is due at now, given its latest ledger
// record. latest is nil when the job has never run; a never-ran job is
// due immediately so a fresh deploy does its first pass without waiting
// out a full interval.
func Evaluate(job domain.Job, latest *domain.RunRecord, now time.Time) Evaluation {
	if !job.Enabled {
		return Evaluation{}
	}
	if latest == nil {
		return Evaluation{Due: true, Attempt: 1}
	}
	if latest.Outcome == domain.OutcomePending {
		return Evaluation{}
	}

	// A scheduled retry overrides the regular cadence and continues the
	// chain; everything else starts a fresh one.
	if latest.NextEligibleAt != nil {
		if now.Before(*latest.NextEligibleAt) {
			return Evaluation{}
		}
		return Evaluation{Due: true, Attempt: latest.Attempt + 1}
	}

	if scheduleDue(job.Schedule, latest.StartedAt, now) {
		return Evaluation{Due: true, Attempt: 1}
	}
	return Evaluation{}
}

// scheduleDue anchors the cadence on the start of the latest run, so a
// process that was down for several periods fires once and moves on
// instead of replaying every missed activation.
func scheduleDue(s domain.Schedule, anchor, now time.Time) bool {
	if s.Cron != "" {
		sched, err := cron.ParseStandard(s.Cron)
		if err != nil {
			// Expression was validated at registry load; this should never happen.
			return false
		}
		return !sched.Next(anchor).After(now)
	}
	return now.Sub(anchor) >= s.Every
}
