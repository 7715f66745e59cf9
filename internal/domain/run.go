package domain

import (
	"errors"
	"time"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunInFlight = errors.New("job already has a run in flight")
)

// ReasonInterrupted closes runs that were still pending when the process
// came back up; the run itself never reported an outcome.
const ReasonInterrupted = "interrupted"

type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// Terminal reports whether the outcome closes a run. Pending is the only
// non-terminal outcome.
func (o Outcome) Terminal() bool { return o != OutcomePending }

type RunRecord struct {
	ID      string
	JobID   string
	Attempt int // 1-based position in the current retry chain

	Outcome Outcome
	Reason  *string // nil on success and while pending

	StartedAt      time.Time
	FinishedAt     *time.Time // nil while the run is pending
	NextEligibleAt *time.Time // set when a retry is scheduled, nil otherwise
}
