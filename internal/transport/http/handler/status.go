package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Hadi-Serhan/vwrotation/internal/domain"
	"github.com/Hadi-Serhan/vwrotation/internal/ledger"
	"github.com/Hadi-Serhan/vwrotation/internal/registry"
	"github.com/Hadi-Serhan/vwrotation/internal/scheduler"
	"github.com/gin-gonic/gin"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// StatusHandler exposes a read-only view over the job registry and the run
// ledger. It never mutates anything; the loop is the only writer.
type StatusHandler struct {
	reg    *registry.Registry
	ledger ledger.Ledger
	logger *slog.Logger
}

func NewStatusHandler(reg *registry.Registry, led ledger.Ledger, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{reg: reg, ledger: led, logger: logger.With("component", "status_handler")}
}

type runResponse struct {
	ID             string         `json:"id"`
	JobID          string         `json:"job_id"`
	Attempt        int            `json:"attempt"`
	Outcome        domain.Outcome `json:"outcome"`
	Reason         *string        `json:"reason,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	NextEligibleAt *time.Time     `json:"next_eligible_at,omitempty"`
}

type listJobItem struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Action   string       `json:"action"`
	Schedule string       `json:"schedule"`
	Enabled  bool         `json:"enabled"`
	Due      bool         `json:"due"`
	LastRun  *runResponse `json:"last_run,omitempty"`
}

type listJobsResponse struct {
	Jobs []listJobItem `json:"jobs"`
}

type getJobResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Action      string            `json:"action"`
	Params      map[string]string `json:"params,omitempty"`
	Schedule    string            `json:"schedule"`
	Timeout     string            `json:"timeout"`
	MaxAttempts int               `json:"max_attempts"`
	Enabled     bool              `json:"enabled"`
	Due         bool              `json:"due"`
	LastRun     *runResponse      `json:"last_run,omitempty"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

func (h *StatusHandler) List(ctx *gin.Context) {
	latest, err := h.ledger.ListLatest(ctx.Request.Context())
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "list jobs", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	byJob := make(map[string]*domain.RunRecord, len(latest))
	for _, rec := range latest {
		byJob[rec.JobID] = rec
	}

	entries := h.reg.Entries()
	now := time.Now().UTC()

	items := make([]listJobItem, 0, len(entries))
	for _, e := range entries {
		rec := byJob[e.Job.ID]
		ev := scheduler.Evaluate(e.Job, rec, now)
		items = append(items, listJobItem{
			ID:       e.Job.ID,
			Name:     e.Job.Name,
			Action:   e.Job.Action,
			Schedule: scheduleText(e.Job.Schedule),
			Enabled:  e.Job.Enabled,
			Due:      ev.Due,
			LastRun:  runView(rec),
		})
	}

	ctx.JSON(http.StatusOK, listJobsResponse{Jobs: items})
}

func (h *StatusHandler) GetByID(ctx *gin.Context) {
	jobID := ctx.Param("id")

	job, ok := h.reg.Lookup(jobID)
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
		return
	}

	latest, err := h.latest(ctx, jobID)
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "get job", "job_id", jobID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ev := scheduler.Evaluate(job, latest, time.Now().UTC())
	ctx.JSON(http.StatusOK, getJobResponse{
		ID:          job.ID,
		Name:        job.Name,
		Action:      job.Action,
		Params:      job.Params,
		Schedule:    scheduleText(job.Schedule),
		Timeout:     job.Timeout.String(),
		MaxAttempts: job.MaxAttempts,
		Enabled:     job.Enabled,
		Due:         ev.Due,
		LastRun:     runView(latest),
	})
}

func (h *StatusHandler) ListRuns(ctx *gin.Context) {
	jobID := ctx.Param("id")

	if _, ok := h.reg.Lookup(jobID); !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
		return
	}

	limit, _ := strconv.Atoi(ctx.Query("limit"))
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}

	runs, err := h.ledger.ListByJob(ctx.Request.Context(), jobID, limit)
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "list runs", "job_id", jobID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	resp := listRunsResponse{Runs: make([]runResponse, len(runs))}
	for i, r := range runs {
		resp.Runs[i] = *runView(r)
	}
	ctx.JSON(http.StatusOK, resp)
}

// latest fetches the newest ledger record for a job, mapping "never ran" to nil.
func (h *StatusHandler) latest(ctx *gin.Context, jobID string) (*domain.RunRecord, error) {
	rec, err := h.ledger.LatestByJob(ctx.Request.Context(), jobID)
	if errors.Is(err, domain.ErrRunNotFound) {
		return nil, nil
	}
	return rec, err
}

func runView(rec *domain.RunRecord) *runResponse {
	if rec == nil {
		return nil
	}
	return &runResponse{
		ID:             rec.ID,
		JobID:          rec.JobID,
		Attempt:        rec.Attempt,
		Outcome:        rec.Outcome,
		Reason:         rec.Reason,
		StartedAt:      rec.StartedAt,
		FinishedAt:     rec.FinishedAt,
		NextEligibleAt: rec.NextEligibleAt,
	}
}

func scheduleText(s domain.Schedule) string {
	if s.Cron != "" {
		return "cron " + s.Cron
	}
	return "every " + s.Every.String()
}
