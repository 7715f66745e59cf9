package runid

import "context"

type runKey struct{}
type jobKey struct{}

// WithRunID returns a copy of ctx with the run ID attached. Log records
// written through this context carry the ID automatically.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runKey{}, id)
}

// RunID extracts the run ID from ctx. Returns "" if absent.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runKey{}).(string)
	return id
}

// WithJobID returns a copy of ctx with the owning job's ID attached.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobKey{}, id)
}

// JobID extracts the job ID from ctx. Returns "" if absent.
func JobID(ctx context.Context) string {
	id, _ := ctx.Value(jobKey{}).(string)
	return id
}
