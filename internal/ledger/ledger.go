package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/immotrack/internal/apperr"
)

// Status represents the lifecycle state of an installment schedule.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// InstallmentStatus is what callers see. Only Upcoming and Paid are stored;
// Late and Cancelled are derived at read time.
type InstallmentStatus string

const (
	InstallmentUpcoming  InstallmentStatus = "upcoming"
	InstallmentLate      InstallmentStatus = "late"
	InstallmentPaid      InstallmentStatus = "paid"
	InstallmentCancelled InstallmentStatus = "cancelled"
)

type Installment struct {
	ID                uuid.UUID
	DueDate           time.Time
	Amount            int64 // Amount in cents
	Status            InstallmentStatus
	ActualPaymentDate *time.Time
	Notes             string
}

func (i Installment) Paid() bool {
	return i.Status == InstallmentPaid
}

// StatusAt derives the visible status: an unpaid installment whose due date is
// strictly before the current date is Late.
func (i Installment) StatusAt(now time.Time) InstallmentStatus {
	if i.Paid() {
		return InstallmentPaid
	}

	if DateOnly(i.DueDate).Before(DateOnly(now)) {
		return InstallmentLate
	}

	return InstallmentUpcoming
}

// Schedule is the installment plan (échéancier) attached to a sale.
type Schedule struct {
	ID              uuid.UUID
	SaleID          uuid.UUID
	TotalAmount     int64
	PaidAmount      int64
	RemainingAmount int64
	RefundedAmount  int64
	Status          Status
	Installments    []Installment
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CancelledAt     *time.Time
}

// Recompute derives PaidAmount and RemainingAmount from the installments.
func (s *Schedule) Recompute() {
	var paid int64

	for _, inst := range s.Installments {
		if inst.Paid() {
			paid += inst.Amount
		}
	}

	s.PaidAmount = paid
	s.RemainingAmount = s.TotalAmount - paid
}

// StatusOf derives the status of one of the schedule's installments. Nothing
// is due on a cancelled schedule, so its unpaid installments are Cancelled
// rather than Late.
func (s *Schedule) StatusOf(inst Installment, now time.Time) InstallmentStatus {
	if s.Status == StatusCancelled && !inst.Paid() {
		return InstallmentCancelled
	}

	return inst.StatusAt(now)
}

func (s *Schedule) sumAmounts() int64 {
	var sum int64
	for _, inst := range s.Installments {
		sum += inst.Amount
	}

	return sum
}

func (s *Schedule) allPaid() bool {
	for _, inst := range s.Installments {
		if !inst.Paid() {
			return false
		}
	}

	return len(s.Installments) > 0
}

func (s *Schedule) installment(id uuid.UUID) (*Installment, error) {
	for i := range s.Installments {
		if s.Installments[i].ID == id {
			return &s.Installments[i], nil
		}
	}

	return nil, apperr.New(apperr.CodeNotFound, "installment %s not found in schedule %s", id, s.ID)
}

// LateInstallments returns the installments that are Late at now.
func (s *Schedule) LateInstallments(now time.Time) []Installment {
	var late []Installment

	for _, inst := range s.Installments {
		if s.StatusOf(inst, now) == InstallmentLate {
			late = append(late, inst)
		}
	}

	return late
}

// Payment records money collected for one installment. Payments are voided,
// never deleted, when a schedule is refunded.
type Payment struct {
	ID            uuid.UUID
	ScheduleID    uuid.UUID
	InstallmentID uuid.UUID
	Amount        int64
	PaidOn        time.Time
	RecordedBy    uuid.UUID
	RecordedAt    time.Time
	VoidedAt      *time.Time
}

// PlanItem describes one installment of a schedule being created.
type PlanItem struct {
	DueDate time.Time
	Amount  int64
	Notes   string
}

// ValidatePlan checks that a plan is non-empty, has positive amounts and sums
// to total.
func ValidatePlan(total int64, plan []PlanItem) error {
	if len(plan) == 0 {
		return apperr.New(apperr.CodeValidation, "schedule needs at least one installment")
	}

	if total <= 0 {
		return apperr.New(apperr.CodeValidation, "total amount must be positive, got %d", total)
	}

	var sum int64

	for i, item := range plan {
		if item.Amount <= 0 {
			return apperr.New(apperr.CodeValidation, "installment %d amount must be positive, got %d", i+1, item.Amount)
		}

		if item.DueDate.IsZero() {
			return apperr.New(apperr.CodeValidation, "installment %d has no due date", i+1)
		}

		sum += item.Amount
	}

	if sum != total {
		return apperr.New(apperr.CodeValidation,
			"installments sum to %d but total amount is %d", sum, total)
	}

	return nil
}

// DateOnly truncates t to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RevisionMode decides what happens to the schedule total when one
// installment amount is revised.
type RevisionMode string

const (
	// RevisionDrift recomputes the total as the new sum of amounts.
	RevisionDrift RevisionMode = "drift"
	// RevisionRedistribute keeps the total and spreads the opposite delta
	// across the other unpaid installments proportionally.
	RevisionRedistribute RevisionMode = "redistribute"
)

func ParseRevisionMode(s string) (RevisionMode, error) {
	switch RevisionMode(s) {
	case RevisionDrift, RevisionRedistribute:
		return RevisionMode(s), nil
	}

	return "", fmt.Errorf("unknown revision mode %q", s)
}
