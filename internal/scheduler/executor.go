package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Hadi-Serhan/vwrotation/internal/action"
	"github.com/Hadi-Serhan/vwrotation/internal/domain"
)

type ExecutionResult struct {
	Outcome  domain.Outcome
	Reason   *string // nil on success
	Duration time.Duration
}

type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

// Run invokes the job's action under the job's own deadline. The action
// runs on a separate goroutine so the deadline can be reported even when
// the action ignores its context; a late result from such an action lands
// in the buffered channel and is dropped.
func (e *Executor) Run(ctx context.Context, job domain.Job, invoke action.Invoker) ExecutionResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("action panicked: %v", r)
			}
		}()
		done <- invoke.Invoke(ctx, job.Params)
	}()

	select {
	case err := <-done:
		if err != nil {
			reason := err.Error()
			return ExecutionResult{Outcome: domain.OutcomeFailure, Reason: &reason, Duration: time.Since(start)}
		}
		return ExecutionResult{Outcome: domain.OutcomeSuccess, Duration: time.Since(start)}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason := fmt.Sprintf("timed out after %s", job.Timeout)
			return ExecutionResult{Outcome: domain.OutcomeTimeout, Reason: &reason, Duration: time.Since(start)}
		}
		reason := "canceled"
		return ExecutionResult{Outcome: domain.OutcomeFailure, Reason: &reason, Duration: time.Since(start)}
	}
}
