package registry

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/gosimple/slug"
	"github.com/robfig/cron/v3"
	yaml "go.yaml.in/yaml/v3"

	"github.com/Hadi-Serhan/vwrotation/internal/action"
	"github.com/Hadi-Serhan/vwrotation/internal/domain"
)

// Defaults fill job fields the file leaves out.
type Defaults struct {
	Timeout     time.Duration
	MaxAttempts int
}

// Entry pairs a job with the invoker for its action kind, resolved once
// at load.
type Entry struct {
	Job     domain.Job
	Invoker action.Invoker
}

// Registry is the immutable set of jobs for this process. Changing the
// set means restarting; there is no live reload.
type Registry struct {
	entries []Entry
	byID    map[string]int
}

type jobsFile struct {
	Jobs []jobSpec `yaml:"jobs"`
}

type jobSpec struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Action      string            `yaml:"action"`
	Every       string            `yaml:"every"`
	Cron        string            `yaml:"cron"`
	Params      map[string]string `yaml:"params"`
	Timeout     string            `yaml:"timeout"`
	MaxAttempts int               `yaml:"max_attempts"`
	Enabled     *bool             `yaml:"enabled"` // nil means enabled
}

// LoadFile reads a jobs file. Unknown fields are rejected so typos fail
// the boot instead of silently disabling a job.
func LoadFile(path string, actions *action.Set, defs Defaults) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f jobsFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse jobs file %s: %w", path, err)
	}
	if len(f.Jobs) == 0 {
		return nil, fmt.Errorf("jobs file %s defines no jobs", path)
	}

	jobs := make([]domain.Job, 0, len(f.Jobs))
	for i, spec := range f.Jobs {
		job, err := spec.toJob(i)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return New(jobs, actions, defs)
}

func (s jobSpec) toJob(idx int) (domain.Job, error) {
	var every time.Duration
	if s.Every != "" {
		d, err := time.ParseDuration(s.Every)
		if err != nil {
			return domain.Job{}, fmt.Errorf("jobs[%d].every: invalid duration %q: %w", idx, s.Every, err)
		}
		every = d
	}

	var timeout time.Duration
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return domain.Job{}, fmt.Errorf("jobs[%d].timeout: invalid duration %q: %w", idx, s.Timeout, err)
		}
		timeout = d
	}

	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}

	return domain.Job{
		ID:          s.ID,
		Name:        s.Name,
		Action:      s.Action,
		Params:      s.Params,
		Schedule:    domain.Schedule{Every: every, Cron: s.Cron},
		Timeout:     timeout,
		MaxAttempts: s.MaxAttempts,
		Enabled:     enabled,
	}, nil
}

// New validates jobs, applies defaults, and binds each job to its
// invoker. Any problem is a startup error; a half-valid registry never
// runs.
func New(jobs []domain.Job, actions *action.Set, defs Defaults) (*Registry, error) {
	r := &Registry{byID: make(map[string]int, len(jobs))}

	for _, job := range jobs {
		if job.ID == "" {
			if job.Name == "" {
				return nil, fmt.Errorf("job needs an id or a name to derive one from")
			}
			job.ID = slug.Make(job.Name)
		}
		if job.Name == "" {
			job.Name = job.ID
		}
		if _, dup := r.byID[job.ID]; dup {
			return nil, fmt.Errorf("%w: %q", domain.ErrDuplicateJobID, job.ID)
		}

		if err := validateSchedule(job.Schedule); err != nil {
			return nil, fmt.Errorf("job %q: %w", job.ID, err)
		}

		if job.Timeout <= 0 {
			job.Timeout = defs.Timeout
		}
		if job.MaxAttempts <= 0 {
			job.MaxAttempts = defs.MaxAttempts
		}

		inv, err := actions.Resolve(job.Action)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w (have %v)", job.ID, err, actions.Kinds())
		}

		r.byID[job.ID] = len(r.entries)
		r.entries = append(r.entries, Entry{Job: job, Invoker: inv})
	}

	// Deterministic tick and listing order.
	sort.Slice(r.entries, func(i, j int) bool { return r.entries[i].Job.ID < r.entries[j].Job.ID })
	for i, ent := range r.entries {
		r.byID[ent.Job.ID] = i
	}
	return r, nil
}

func validateSchedule(s domain.Schedule) error {
	switch {
	case s.Cron != "" && s.Every != 0:
		return domain.ErrInvalidSchedule
	case s.Cron != "":
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return fmt.Errorf("%w: %q: %v", domain.ErrInvalidCronExpr, s.Cron, err)
		}
		return nil
	case s.Every > 0:
		return nil
	default:
		return domain.ErrInvalidSchedule
	}
}

func (r *Registry) Entries() []Entry {
	return r.entries
}

func (r *Registry) Lookup(id string) (domain.Job, bool) {
	i, ok := r.byID[id]
	if !ok {
		return domain.Job{}, false
	}
	return r.entries[i].Job, true
}
