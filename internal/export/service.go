package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/immotrack/internal/ledger"
	"github.com/MrJamesThe3rd/immotrack/internal/money"
)

// Schedules is the read side of the ledger used by exports.
type Schedules interface {
	Get(ctx context.Context, id uuid.UUID) (*ledger.Schedule, error)
	Now() time.Time
}

// Statement is a schedule snapshot with installment statuses derived at AsOf.
type Statement struct {
	Schedule *ledger.Schedule
	Statuses []ledger.InstallmentStatus
	AsOf     time.Time
}

// Service renders installment statements.
type Service struct {
	schedules Schedules
}

func NewService(schedules Schedules) *Service {
	return &Service{schedules: schedules}
}

func (s *Service) Statement(ctx context.Context, scheduleID uuid.UUID) (*Statement, error) {
	sched, err := s.schedules.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	now := s.schedules.Now()

	st := &Statement{Schedule: sched, AsOf: now}
	for _, inst := range sched.Installments {
		st.Statuses = append(st.Statuses, sched.StatusOf(inst, now))
	}

	return st, nil
}

var header = []string{"Échéance", "Montant", "Libellé", "Statut", "Payé le"}

// WriteCSV writes the statement as a semicolon separated échéancier that the
// plan importer reads back.
func WriteCSV(w io.Writer, st *Statement) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, inst := range st.Schedule.Installments {
		paidOn := ""
		if inst.ActualPaymentDate != nil {
			paidOn = inst.ActualPaymentDate.Format("02/01/2006")
		}

		if err := cw.Write([]string{
			inst.DueDate.Format("02/01/2006"),
			money.Format(inst.Amount),
			inst.Notes,
			string(st.Statuses[i]),
			paidOn,
		}); err != nil {
			return fmt.Errorf("writing installment %d: %w", i+1, err)
		}
	}

	cw.Flush()

	return cw.Error()
}

// Summary renders a plain-text recap suitable for a client reminder.
func Summary(st *Statement) string {
	var sb strings.Builder

	s := st.Schedule

	fmt.Fprintf(&sb, "Échéancier au %s\n\n", st.AsOf.Format("02/01/2006"))
	fmt.Fprintf(&sb, "Total : %s €\nPayé : %s €\nRestant : %s €\n",
		money.Format(s.TotalAmount), money.Format(s.PaidAmount), money.Format(s.RemainingAmount))

	if s.RefundedAmount > 0 {
		fmt.Fprintf(&sb, "Remboursé : %s €\n", money.Format(s.RefundedAmount))
	}

	var late []string

	for i, inst := range s.Installments {
		if st.Statuses[i] == ledger.InstallmentLate {
			late = append(late, fmt.Sprintf("- %s : %s €", inst.DueDate.Format("02/01/2006"), money.Format(inst.Amount)))
		}
	}

	if len(late) > 0 {
		sb.WriteString("\nÉchéances en retard :\n")
		sb.WriteString(strings.Join(late, "\n"))
		sb.WriteString("\n")
	}

	return sb.String()
}
