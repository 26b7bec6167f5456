package schedule

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/immotrack/internal/http/respond"
	"github.com/MrJamesThe3rd/immotrack/internal/ledger"
)

type scheduleResponse struct {
	ID              uuid.UUID             `json:"id"`
	SaleID          uuid.UUID             `json:"sale_id"`
	TotalAmount     int64                 `json:"total_amount"`
	PaidAmount      int64                 `json:"paid_amount"`
	RemainingAmount int64                 `json:"remaining_amount"`
	RefundedAmount  int64                 `json:"refunded_amount"`
	Status          ledger.Status         `json:"status"`
	Installments    []installmentResponse `json:"installments"`
	Version         int64                 `json:"version"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	CancelledAt     *time.Time            `json:"cancelled_at,omitempty"`
}

type installmentResponse struct {
	ID                uuid.UUID                `json:"id"`
	DueDate           respond.Date             `json:"due_date"`
	Amount            int64                    `json:"amount"`
	Status            ledger.InstallmentStatus `json:"status"`
	ActualPaymentDate *respond.Date            `json:"actual_payment_date,omitempty"`
	Notes             string                   `json:"notes,omitempty"`
}

type lateResponse struct {
	Schedule scheduleResponse      `json:"schedule"`
	Late     []installmentResponse `json:"late"`
	Overdue  int64                 `json:"overdue"`
}

type importResponse struct {
	Imported int              `json:"imported"`
	Schedule scheduleResponse `json:"schedule"`
}

func toInstallment(sched *ledger.Schedule, inst ledger.Installment, now time.Time) installmentResponse {
	return installmentResponse{
		ID:                inst.ID,
		DueDate:           respond.Date{Time: inst.DueDate},
		Amount:            inst.Amount,
		Status:            sched.StatusOf(inst, now),
		ActualPaymentDate: respond.DatePtr(inst.ActualPaymentDate),
		Notes:             inst.Notes,
	}
}

// toResponse derives installment statuses at now, so Late is never stale.
func toResponse(sched *ledger.Schedule, now time.Time) scheduleResponse {
	resp := scheduleResponse{
		ID:              sched.ID,
		SaleID:          sched.SaleID,
		TotalAmount:     sched.TotalAmount,
		PaidAmount:      sched.PaidAmount,
		RemainingAmount: sched.RemainingAmount,
		RefundedAmount:  sched.RefundedAmount,
		Status:          sched.Status,
		Installments:    make([]installmentResponse, 0, len(sched.Installments)),
		Version:         sched.Version,
		CreatedAt:       sched.CreatedAt,
		UpdatedAt:       sched.UpdatedAt,
		CancelledAt:     sched.CancelledAt,
	}

	for _, inst := range sched.Installments {
		resp.Installments = append(resp.Installments, toInstallment(sched, inst, now))
	}

	return resp
}

func toResponseList(scheds []*ledger.Schedule, now time.Time) []scheduleResponse {
	resp := make([]scheduleResponse, len(scheds))
	for i, sched := range scheds {
		resp[i] = toResponse(sched, now)
	}

	return resp
}

func toLateResponse(report []ledger.LateSchedule, now time.Time) []lateResponse {
	resp := make([]lateResponse, 0, len(report))
	for _, ls := range report {
		late := make([]installmentResponse, 0, len(ls.Late))
		for _, inst := range ls.Late {
			late = append(late, toInstallment(ls.Schedule, inst, now))
		}

		resp = append(resp, lateResponse{
			Schedule: toResponse(ls.Schedule, now),
			Late:     late,
			Overdue:  ls.Overdue,
		})
	}

	return resp
}
