package action

import (
	"context"
	"fmt"

	"github.com/Hadi-Serhan/vwrotation/internal/domain"
)

// Params are the per-job settings from the registry, opaque to the
// scheduler core.
type Params map[string]string

// Invoker is one runnable action kind. Implementations must honor ctx;
// the executor enforces the per-run deadline through it.
type Invoker interface {
	Invoke(ctx context.Context, params Params) error
}

// Func adapts a plain function to Invoker.
type Func func(ctx context.Context, params Params) error

func (f Func) Invoke(ctx context.Context, params Params) error {
	return f(ctx, params)
}

// Set maps action kinds to invokers. Jobs resolve their kind once at
// registry load, never per tick.
type Set struct {
	byKind map[string]Invoker
}

func NewSet() *Set {
	return &Set{byKind: make(map[string]Invoker)}
}

func (s *Set) Register(kind string, inv Invoker) {
	s.byKind[kind] = inv
}

func (s *Set) Resolve(kind string) (Invoker, error) {
	inv, ok := s.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownAction, kind)
	}
	return inv, nil
}

// Kinds returns the registered action kinds, for error messages.
func (s *Set) Kinds() []string {
	kinds := make([]string, 0, len(s.byKind))
	for k := range s.byKind {
		kinds = append(kinds, k)
	}
	return kinds
}
