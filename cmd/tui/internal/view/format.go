package view

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/immotrack/internal/money"
)

const dbTimeout = 5 * time.Second

// FormatAmount formats an amount stored as cents, French grouping.
func FormatAmount(cents int64) string {
	return money.Format(cents) + " €"
}

// FormatDate formats a time.Time into YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return "-"
	}

	return FormatDate(*t)
}

// DbCtx returns a context with a standard timeout for store and collaborator calls.
func DbCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), dbTimeout)
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
