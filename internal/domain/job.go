package domain

import (
	"errors"
	"time"
)

var (
	ErrDuplicateJobID  = errors.New("job with this id already exists")
	ErrInvalidCronExpr = errors.New("invalid cron expression")
	ErrInvalidSchedule = errors.New("schedule needs exactly one of every or cron")
	ErrUnknownAction   = errors.New("unknown action kind")
)

// Schedule is either a fixed interval or a standard 5-field cron
// expression, never both. Validation happens at registry load.
type Schedule struct {
	Every time.Duration // fixed interval; zero when Cron is set
	Cron  string        // cron expression; empty when Every is set
}

type Job struct {
	ID       string
	Name     string
	Action   string // action kind, bound to an invoker at registry load
	Params   map[string]string
	Schedule Schedule

	Timeout     time.Duration // hard deadline per execution
	MaxAttempts int           // attempts before the retry chain gives up
	Enabled     bool
}
