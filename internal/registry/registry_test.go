package registry_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hadi-Serhan/vwrotation/internal/action"
	"github.com/Hadi-Serhan/vwrotation/internal/domain"
	"github.com/Hadi-Serhan/vwrotation/internal/registry"
)

// ---- helpers ----

func testActions() *action.Set {
	s := action.NewSet()
	s.Register("rotation-check", action.Func(func(_ context.Context, _ action.Params) error { return nil }))
	s.Register("webhook", action.Func(func(_ context.Context, _ action.Params) error { return nil }))
	return s
}

var testDefaults = registry.Defaults{Timeout: 5 * time.Minute, MaxAttempts: 3}

func writeJobsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write jobs file: %v", err)
	}
	return path
}

// ---- LoadFile ----

func TestLoadFile_FullSpec(t *testing.T) {
	path := writeJobsFile(t, `
jobs:
  - id: sweep
    name: Password rotation sweep
    action: rotation-check
    every: 1h
    timeout: 2m
    max_attempts: 5
    params:
      frequency_days: "60"
  - id: ping
    action: webhook
    cron: "0 3 * * *"
    enabled: false
`)

	reg, err := registry.LoadFile(path, testActions(), testDefaults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sweep, ok := reg.Lookup("sweep")
	if !ok {
		t.Fatal("sweep not found")
	}
	if sweep.Schedule.Every != time.Hour {
		t.Errorf("every = %v, want 1h", sweep.Schedule.Every)
	}
	if sweep.Timeout != 2*time.Minute {
		t.Errorf("timeout = %v, want 2m", sweep.Timeout)
	}
	if sweep.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want 5", sweep.MaxAttempts)
	}
	if sweep.Params["frequency_days"] != "60" {
		t.Errorf("params = %v, want frequency_days override", sweep.Params)
	}
	if !sweep.Enabled {
		t.Error("enabled should default to true")
	}

	ping, ok := reg.Lookup("ping")
	if !ok {
		t.Fatal("ping not found")
	}
	if ping.Enabled {
		t.Error("explicit enabled: false was ignored")
	}
	if ping.Schedule.Cron != "0 3 * * *" {
		t.Errorf("cron = %q, want the file's expression", ping.Schedule.Cron)
	}
	if ping.Name != "ping" {
		t.Errorf("name = %q, want fallback to id", ping.Name)
	}
}

func TestLoadFile_DefaultsApplied(t *testing.T) {
	path := writeJobsFile(t, `
jobs:
  - id: sweep
    action: rotation-check
    every: 1h
`)

	reg, err := registry.LoadFile(path, testActions(), testDefaults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	job, _ := reg.Lookup("sweep")
	if job.Timeout != testDefaults.Timeout {
		t.Errorf("timeout = %v, want default %v", job.Timeout, testDefaults.Timeout)
	}
	if job.MaxAttempts != testDefaults.MaxAttempts {
		t.Errorf("max_attempts = %d, want default %d", job.MaxAttempts, testDefaults.MaxAttempts)
	}
}

func TestLoadFile_UnknownField_Fails(t *testing.T) {
	path := writeJobsFile(t, `
jobs:
  - id: sweep
    action: rotation-check
    evry: 1h
`)

	if _, err := registry.LoadFile(path, testActions(), testDefaults); err == nil {
		t.Fatal("typo in a field name must fail the load")
	}
}

func TestLoadFile_EmptyJobs_Fails(t *testing.T) {
	path := writeJobsFile(t, "jobs: []\n")

	if _, err := registry.LoadFile(path, testActions(), testDefaults); err == nil {
		t.Fatal("a file with no jobs must fail the load")
	}
}

func TestLoadFile_InvalidDuration_Fails(t *testing.T) {
	path := writeJobsFile(t, `
jobs:
  - id: sweep
    action: rotation-check
    every: often
`)

	if _, err := registry.LoadFile(path, testActions(), testDefaults); err == nil {
		t.Fatal("unparseable duration must fail the load")
	}
}

// ---- New ----

func TestNew_DuplicateID_Fails(t *testing.T) {
	jobs := []domain.Job{
		{ID: "sweep", Action: "rotation-check", Schedule: domain.Schedule{Every: time.Hour}, Enabled: true},
		{ID: "sweep", Action: "webhook", Schedule: domain.Schedule{Every: time.Hour}, Enabled: true},
	}

	_, err := registry.New(jobs, testActions(), testDefaults)
	if !errors.Is(err, domain.ErrDuplicateJobID) {
		t.Errorf("want ErrDuplicateJobID, got %v", err)
	}
}

func TestNew_BothEveryAndCron_Fails(t *testing.T) {
	jobs := []domain.Job{
		{ID: "sweep", Action: "rotation-check", Schedule: domain.Schedule{Every: time.Hour, Cron: "0 3 * * *"}, Enabled: true},
	}

	_, err := registry.New(jobs, testActions(), testDefaults)
	if !errors.Is(err, domain.ErrInvalidSchedule) {
		t.Errorf("want ErrInvalidSchedule, got %v", err)
	}
}

func TestNew_NoSchedule_Fails(t *testing.T) {
	jobs := []domain.Job{
		{ID: "sweep", Action: "rotation-check", Enabled: true},
	}

	_, err := registry.New(jobs, testActions(), testDefaults)
	if !errors.Is(err, domain.ErrInvalidSchedule) {
		t.Errorf("want ErrInvalidSchedule, got %v", err)
	}
}

func TestNew_BadCron_Fails(t *testing.T) {
	jobs := []domain.Job{
		{ID: "sweep", Action: "rotation-check", Schedule: domain.Schedule{Cron: "every day at three"}, Enabled: true},
	}

	_, err := registry.New(jobs, testActions(), testDefaults)
	if !errors.Is(err, domain.ErrInvalidCronExpr) {
		t.Errorf("want ErrInvalidCronExpr, got %v", err)
	}
}

func TestNew_UnknownAction_Fails(t *testing.T) {
	jobs := []domain.Job{
		{ID: "sweep", Action: "teleport", Schedule: domain.Schedule{Every: time.Hour}, Enabled: true},
	}

	_, err := registry.New(jobs, testActions(), testDefaults)
	if !errors.Is(err, domain.ErrUnknownAction) {
		t.Errorf("want ErrUnknownAction, got %v", err)
	}
}

func TestNew_IDDerivedFromName(t *testing.T) {
	jobs := []domain.Job{
		{Name: "Nightly Vault Backup", Action: "webhook", Schedule: domain.Schedule{Every: time.Hour}, Enabled: true},
	}

	reg, err := registry.New(jobs, testActions(), testDefaults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reg.Lookup("nightly-vault-backup"); !ok {
		t.Error("id was not slugged from the name")
	}
}

func TestNew_EntriesSortedByID(t *testing.T) {
	jobs := []domain.Job{
		{ID: "zulu", Action: "webhook", Schedule: domain.Schedule{Every: time.Hour}, Enabled: true},
		{ID: "alpha", Action: "webhook", Schedule: domain.Schedule{Every: time.Hour}, Enabled: true},
	}

	reg, err := registry.New(jobs, testActions(), testDefaults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := reg.Entries()
	if len(entries) != 2 || entries[0].Job.ID != "alpha" || entries[1].Job.ID != "zulu" {
		t.Errorf("entries out of order: %s, %s", entries[0].Job.ID, entries[1].Job.ID)
	}
}
