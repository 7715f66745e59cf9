package scheduler_test

import (
	"testing"
	"time"

	"github.com/Hadi-Serhan/vwrotation/internal/domain"
	"github.com/Hadi-Serhan/vwrotation/internal/scheduler"
)

// ---- Delay ----

func TestDelay_DoublesPerAttemptAndClampsAtCap(t *testing.T) {
	p := scheduler.RetryPolicy{Base: 30 * time.Second, Cap: 5 * time.Minute}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 240 * time.Second},
		{5, 300 * time.Second},  // would be 480s, clamped
		{6, 300 * time.Second},  // stays clamped
		{12, 300 * time.Second}, // no overflow creep
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelay_AttemptBelowOne_TreatedAsFirst(t *testing.T) {
	p := scheduler.RetryPolicy{Base: 30 * time.Second, Cap: 5 * time.Minute}

	if got := p.Delay(0); got != 30*time.Second {
		t.Errorf("Delay(0) = %v, want 30s", got)
	}
	if got := p.Delay(-3); got != 30*time.Second {
		t.Errorf("Delay(-3) = %v, want 30s", got)
	}
}

func TestDelay_BaseAboveCap_AlwaysCap(t *testing.T) {
	p := scheduler.RetryPolicy{Base: 10 * time.Minute, Cap: 5 * time.Minute}

	if got := p.Delay(1); got != 5*time.Minute {
		t.Errorf("Delay(1) = %v, want 5m", got)
	}
}

// ---- Decide ----

var retryJob = domain.Job{ID: "j1", MaxAttempts: 3, Enabled: true}

func TestDecide_Success_EndsChain(t *testing.T) {
	p := scheduler.RetryPolicy{Base: 30 * time.Second, Cap: 5 * time.Minute}

	d := p.Decide(retryJob, 2, domain.OutcomeSuccess, time.Now())
	if d.Retry || d.GiveUp {
		t.Errorf("success disposition = %+v, want neither retry nor give-up", d)
	}
}

func TestDecide_FailureBelowBudget_SchedulesRetry(t *testing.T) {
	p := scheduler.RetryPolicy{Base: 30 * time.Second, Cap: 5 * time.Minute}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	d := p.Decide(retryJob, 2, domain.OutcomeFailure, now)
	if !d.Retry || d.GiveUp {
		t.Fatalf("disposition = %+v, want retry", d)
	}
	if want := now.Add(60 * time.Second); !d.RetryAt.Equal(want) {
		t.Errorf("RetryAt = %v, want %v", d.RetryAt, want)
	}
}

func TestDecide_TimeoutCountsAsFailure(t *testing.T) {
	p := scheduler.RetryPolicy{Base: 30 * time.Second, Cap: 5 * time.Minute}
	now := time.Now()

	d := p.Decide(retryJob, 1, domain.OutcomeTimeout, now)
	if !d.Retry {
		t.Fatalf("disposition = %+v, want retry after timeout", d)
	}
	if want := now.Add(30 * time.Second); !d.RetryAt.Equal(want) {
		t.Errorf("RetryAt = %v, want %v", d.RetryAt, want)
	}
}

func TestDecide_BudgetExhausted_GivesUp(t *testing.T) {
	p := scheduler.RetryPolicy{Base: 30 * time.Second, Cap: 5 * time.Minute}

	d := p.Decide(retryJob, 3, domain.OutcomeFailure, time.Now())
	if !d.GiveUp || d.Retry {
		t.Errorf("disposition at last attempt = %+v, want give-up", d)
	}
	if !d.RetryAt.IsZero() {
		t.Errorf("RetryAt = %v, want zero on give-up", d.RetryAt)
	}
}
