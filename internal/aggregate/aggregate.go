// Package aggregate holds write-side helpers shared by the sale and ledger
// services: optimistic version expectations and compensating actions.
package aggregate

import (
	"context"
	"log/slog"

	"github.com/MrJamesThe3rd/immotrack/internal/apperr"
)

type versionKey struct{}

// WithExpectedVersion records the version the caller last read (If-Match).
func WithExpectedVersion(ctx context.Context, version int64) context.Context {
	return context.WithValue(ctx, versionKey{}, version)
}

// CheckVersion fails with ErrConflict when the caller expected a different version.
func CheckVersion(ctx context.Context, current int64) error {
	expected, ok := ctx.Value(versionKey{}).(int64)
	if !ok || expected == current {
		return nil
	}

	return apperr.New(apperr.CodeConflict,
		"aggregate is at version %d, caller expected %d", current, expected)
}

// Undo is a stack of compensating actions for side effects already
// confirmed by external collaborators.
type Undo struct {
	steps []undoStep
}

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

func (u *Undo) Add(name string, fn func(ctx context.Context) error) {
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

func (u *Undo) Len() int { return len(u.steps) }

// Run executes the compensations in reverse order. Failures are logged and
// do not stop the remaining steps.
func (u *Undo) Run(ctx context.Context) {
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		if err := step.fn(ctx); err != nil {
			slog.Error("compensation failed", "step", step.name, "error", err)
		}
	}

	u.steps = nil
}
