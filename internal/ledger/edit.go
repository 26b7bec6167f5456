package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/immotrack/internal/apperr"
)

// EditKind names the single field an Edit changes.
type EditKind string

const (
	EditDueDate EditKind = "due_date"
	EditAmount  EditKind = "amount"
	EditPayment EditKind = "payment"
	EditNotes   EditKind = "notes"
)

// Edit is a targeted change to one field of one installment.
type Edit struct {
	InstallmentID uuid.UUID
	Kind          EditKind
	DueDate       time.Time
	Amount        int64
	PaymentDate   time.Time
	Notes         string
}

// InstallmentInput is an installment as resent by a bulk update.
type InstallmentInput struct {
	ID                uuid.UUID
	DueDate           time.Time
	Amount            int64
	Status            InstallmentStatus
	ActualPaymentDate *time.Time
	Notes             string
}

// Diff turns a resent installment list into the targeted edits it implies.
// Installments cannot be added, removed or un-paid through a bulk update.
func Diff(current *Schedule, incoming []InstallmentInput) ([]Edit, error) {
	if len(incoming) != len(current.Installments) {
		return nil, apperr.New(apperr.CodeValidation,
			"expected %d installments, got %d", len(current.Installments), len(incoming))
	}

	seen := make(map[uuid.UUID]bool, len(incoming))

	var edits []Edit

	for _, in := range incoming {
		if seen[in.ID] {
			return nil, apperr.New(apperr.CodeValidation, "installment %s listed twice", in.ID)
		}

		seen[in.ID] = true

		cur, err := current.installment(in.ID)
		if err != nil {
			return nil, err
		}

		if !DateOnly(in.DueDate).Equal(DateOnly(cur.DueDate)) {
			edits = append(edits, Edit{InstallmentID: in.ID, Kind: EditDueDate, DueDate: in.DueDate})
		}

		if in.Amount != cur.Amount {
			edits = append(edits, Edit{InstallmentID: in.ID, Kind: EditAmount, Amount: in.Amount})
		}

		switch {
		case cur.Paid() && in.Status != InstallmentPaid:
			return nil, apperr.New(apperr.CodeLocked, "installment %s is paid and cannot be reverted", in.ID)
		case !cur.Paid() && in.Status == InstallmentPaid:
			if in.ActualPaymentDate == nil {
				return nil, apperr.New(apperr.CodeValidation, "installment %s marked paid without a payment date", in.ID)
			}

			edits = append(edits, Edit{InstallmentID: in.ID, Kind: EditPayment, PaymentDate: *in.ActualPaymentDate})
		}

		if in.Notes != cur.Notes {
			edits = append(edits, Edit{InstallmentID: in.ID, Kind: EditNotes, Notes: in.Notes})
		}
	}

	return edits, nil
}
