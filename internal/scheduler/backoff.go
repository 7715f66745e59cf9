package scheduler

import (
	"time"

	"github.com/Hadi-Serhan/vwrotation/internal/domain"
)

// RetryPolicy doubles the pause after every consecutive failure and
// clamps it at Cap. Delays are deterministic; there is no jitter.
type RetryPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the pause scheduled after the attempt-th consecutive
// failure: Base doubled attempt-1 times, clamped at Cap.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.Cap {
			return p.Cap
		}
	}
	return min(delay, p.Cap)
}

// Disposition says what happens to a job after a run finished.
type Disposition struct {
	Retry   bool
	RetryAt time.Time // set only when Retry
	GiveUp  bool      // attempt budget exhausted; regular cadence resumes
}

// Decide resolves the retry chain after a terminal outcome. Success and
// give-up both end the chain; only give-up is surfaced so the caller can
// log and count it.
func (p RetryPolicy) Decide(job domain.Job, attempt int, outcome domain.Outcome, now time.Time) Disposition {
	if outcome == domain.OutcomeSuccess {
		return Disposition{}
	}
	if attempt >= job.MaxAttempts {
		return Disposition{GiveUp: true}
	}
	return Disposition{Retry: true, RetryAt: now.Add(p.Delay(attempt))}
}
