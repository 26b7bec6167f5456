package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/immotrack/internal/actor"
	"github.com/MrJamesThe3rd/immotrack/internal/aggregate"
	"github.com/MrJamesThe3rd/immotrack/internal/apperr"
	"github.com/MrJamesThe3rd/immotrack/internal/funds"
	"github.com/MrJamesThe3rd/immotrack/internal/money"
	"github.com/MrJamesThe3rd/immotrack/internal/sale"
)

//go:generate mockgen -source=service.go -destination=repository_mock.go -package=ledger
type Repository interface {
	GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error)
	GetScheduleBySale(ctx context.Context, saleID uuid.UUID) (*Schedule, error)
	ListSchedules(ctx context.Context, filter ListFilter) ([]*Schedule, error)

	// Begin opens a write transaction holding the aggregate lock of the
	// owning sale, so schedule and sale writes never interleave.
	Begin(ctx context.Context, saleID uuid.UUID) (Tx, error)

	// Within extends a sale transaction that already holds the sale lock.
	Within(tx sale.Tx) (Tx, error)
}

type Tx interface {
	sale.Tx
	GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error)
	GetScheduleBySale(ctx context.Context, saleID uuid.UUID) (*Schedule, error)
	CreateSchedule(ctx context.Context, s *Schedule) error
	UpdateSchedule(ctx context.Context, s *Schedule) error
	CreatePayment(ctx context.Context, p *Payment) error
	VoidPayments(ctx context.Context, scheduleID uuid.UUID, at time.Time) (int, error)
}

type ListFilter struct {
	Status *Status
}

type Service struct {
	repo     Repository
	units    sale.UnitRegistry
	funds    sale.Funds
	now      func() time.Time
	revision RevisionMode
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRevisionMode(mode RevisionMode) Option {
	return func(s *Service) { s.revision = mode }
}

func NewService(repo Repository, units sale.UnitRegistry, fundsSvc sale.Funds, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		units:    units,
		funds:    fundsSvc,
		now:      time.Now,
		revision: RevisionDrift,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateSchedule attaches an installment plan to a sale. A sale has at most
// one schedule.
func (s *Service) CreateSchedule(ctx context.Context, a actor.Actor, saleID uuid.UUID, total int64, plan []PlanItem) (*Schedule, error) {
	if !a.Is(actor.RoleCommercial, actor.RoleAgency, actor.RoleAdmin) {
		return nil, forbidden(a, "create a schedule")
	}

	if err := ValidatePlan(total, plan); err != nil {
		return nil, err
	}

	tx, err := s.repo.Begin(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("begin create schedule: %w", err)
	}
	defer tx.Rollback()

	sl, err := tx.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}

	if sl.Status.Terminal() {
		return nil, apperr.New(apperr.CodeInvalidState, "sale %s is %s", sl.ID, sl.Status)
	}

	existing, err := tx.GetScheduleBySale(ctx, saleID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		return nil, apperr.New(apperr.CodeConflict, "sale %s already has schedule %s", saleID, existing.ID)
	}

	now := s.now()
	sched := &Schedule{
		ID:          uuid.New(),
		SaleID:      saleID,
		TotalAmount: total,
		Status:      StatusInProgress,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, item := range plan {
		sched.Installments = append(sched.Installments, Installment{
			ID:      uuid.New(),
			DueDate: DateOnly(item.DueDate),
			Amount:  item.Amount,
			Status:  InstallmentUpcoming,
			Notes:   item.Notes,
		})
	}

	sched.Recompute()

	if err := tx.CreateSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("creating schedule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing schedule: %w", err)
	}

	slog.Info("schedule created",
		"schedule_id", sched.ID, "sale_id", saleID, "installments", len(plan), "total", total)

	return sched, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return s.repo.GetSchedule(ctx, id)
}

func (s *Service) GetBySale(ctx context.Context, saleID uuid.UUID) (*Schedule, error) {
	return s.repo.GetScheduleBySale(ctx, saleID)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Schedule, error) {
	return s.repo.ListSchedules(ctx, filter)
}

// Now exposes the service clock so views derive Late against the same date.
func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) RecordPayment(ctx context.Context, a actor.Actor, id, installmentID uuid.UUID, paidOn time.Time) (*Schedule, error) {
	return s.ApplyEdits(ctx, a, id, []Edit{{InstallmentID: installmentID, Kind: EditPayment, PaymentDate: paidOn}})
}

func (s *Service) Reschedule(ctx context.Context, a actor.Actor, id, installmentID uuid.UUID, dueDate time.Time) (*Schedule, error) {
	return s.ApplyEdits(ctx, a, id, []Edit{{InstallmentID: installmentID, Kind: EditDueDate, DueDate: dueDate}})
}

func (s *Service) ReviseAmount(ctx context.Context, a actor.Actor, id, installmentID uuid.UUID, amount int64) (*Schedule, error) {
	return s.ApplyEdits(ctx, a, id, []Edit{{InstallmentID: installmentID, Kind: EditAmount, Amount: amount}})
}

func (s *Service) UpdateNotes(ctx context.Context, a actor.Actor, id, installmentID uuid.UUID, notes string) (*Schedule, error) {
	return s.ApplyEdits(ctx, a, id, []Edit{{InstallmentID: installmentID, Kind: EditNotes, Notes: notes}})
}

// BulkUpdate diffs a resent installment list against the stored schedule and
// applies the resulting edits as one batch.
func (s *Service) BulkUpdate(ctx context.Context, a actor.Actor, id uuid.UUID, incoming []InstallmentInput) (*Schedule, error) {
	current, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}

	edits, err := Diff(current, incoming)
	if err != nil {
		return nil, err
	}

	return s.ApplyEdits(ctx, a, id, edits)
}

// ApplyEdits applies a batch of targeted edits. Either every edit applies or
// none does.
func (s *Service) ApplyEdits(ctx context.Context, a actor.Actor, id uuid.UUID, edits []Edit) (*Schedule, error) {
	if !a.Is(actor.RoleAgency, actor.RoleAdmin, actor.RoleBank) {
		return nil, forbidden(a, "edit a schedule")
	}

	tx, sched, err := s.begin(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if len(edits) == 0 {
		return sched, nil
	}

	if sched.Status == StatusCancelled {
		return nil, s.reject("apply edits", sched, a,
			apperr.New(apperr.CodeNotInProgress, "schedule %s is %s", sched.ID, sched.Status))
	}

	sl, err := tx.GetSale(ctx, sched.SaleID)
	if err != nil {
		return nil, err
	}

	if sl.Status == sale.StatusCancelled {
		return nil, s.reject("apply edits", sched, a,
			apperr.New(apperr.CodeNotInProgress, "sale %s is %s", sl.ID, sl.Status))
	}

	now := s.now()

	var payments []*Payment

	for _, e := range edits {
		p, err := s.apply(sched, e, a, now)
		if err != nil {
			return nil, s.reject("apply edits", sched, a, err)
		}

		if p != nil {
			payments = append(payments, p)
		}
	}

	sched.Recompute()

	if sched.allPaid() {
		sched.Status = StatusCompleted
	}

	sched.Version++
	sched.UpdatedAt = now

	for _, p := range payments {
		if err := tx.CreatePayment(ctx, p); err != nil {
			return nil, fmt.Errorf("recording payment: %w", err)
		}
	}

	if err := tx.UpdateSchedule(ctx, sched); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing schedule edits: %w", err)
	}

	slog.Info("schedule updated",
		"schedule_id", sched.ID, "edits", len(edits), "paid", sched.PaidAmount, "status", sched.Status, "actor_id", a.ID)

	return sched, nil
}

func (s *Service) apply(sched *Schedule, e Edit, a actor.Actor, now time.Time) (*Payment, error) {
	inst, err := sched.installment(e.InstallmentID)
	if err != nil {
		return nil, err
	}

	switch e.Kind {
	case EditDueDate:
		if inst.Paid() {
			return nil, locked(inst)
		}

		due := DateOnly(e.DueDate)
		if e.DueDate.IsZero() || due.Before(DateOnly(now)) {
			return nil, apperr.New(apperr.CodeValidation, "due date %s is in the past", due.Format(time.DateOnly))
		}

		inst.DueDate = due
	case EditAmount:
		if inst.Paid() {
			return nil, locked(inst)
		}

		if e.Amount <= 0 {
			return nil, apperr.New(apperr.CodeValidation, "installment amount must be positive, got %d", e.Amount)
		}

		if err := s.revise(sched, inst, e.Amount); err != nil {
			return nil, err
		}
	case EditPayment:
		if inst.Paid() {
			return nil, apperr.New(apperr.CodeAlreadyPaid, "installment %s is already paid", inst.ID)
		}

		if e.PaymentDate.IsZero() {
			return nil, apperr.New(apperr.CodeValidation, "payment date is required")
		}

		paidOn := DateOnly(e.PaymentDate)
		inst.Status = InstallmentPaid
		inst.ActualPaymentDate = &paidOn

		return &Payment{
			ID:            uuid.New(),
			ScheduleID:    sched.ID,
			InstallmentID: inst.ID,
			Amount:        inst.Amount,
			PaidOn:        paidOn,
			RecordedBy:    a.ID,
			RecordedAt:    now,
		}, nil
	case EditNotes:
		inst.Notes = e.Notes
	default:
		return nil, apperr.New(apperr.CodeValidation, "unknown edit %q", e.Kind)
	}

	return nil, nil
}

// revise changes one amount according to the configured revision mode.
func (s *Service) revise(sched *Schedule, inst *Installment, amount int64) error {
	if s.revision != RevisionRedistribute {
		inst.Amount = amount
		sched.TotalAmount = sched.sumAmounts()

		return nil
	}

	var (
		others  []*Installment
		weights []int64
	)

	for i := range sched.Installments {
		other := &sched.Installments[i]
		if other.ID == inst.ID || other.Paid() {
			continue
		}

		others = append(others, other)
		weights = append(weights, other.Amount)
	}

	if len(others) == 0 {
		return apperr.New(apperr.CodeValidation,
			"no other unpaid installment can absorb the change on %s", inst.ID)
	}

	shares := money.Split(inst.Amount-amount, weights)

	for i, other := range others {
		if other.Amount+shares[i] <= 0 {
			return apperr.New(apperr.CodeValidation,
				"revising %s to %s would leave installment %s without a positive amount",
				inst.ID, money.Format(amount), other.ID)
		}
	}

	for i, other := range others {
		other.Amount += shares[i]
	}

	inst.Amount = amount

	return nil
}

// RefundAndRelist refunds everything collected on the schedule, returns the
// unit to the market and cancels both the schedule and its sale. The funds
// refund is issued first; every later failure undoes the steps before it.
func (s *Service) RefundAndRelist(ctx context.Context, a actor.Actor, id uuid.UUID) (*Schedule, error) {
	if !a.Is(actor.RoleAgency, actor.RoleAdmin) {
		return nil, forbidden(a, "refund a schedule")
	}

	tx, sched, err := s.begin(ctx, id)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if sched.Status != StatusInProgress {
		return nil, s.reject("refund", sched, a,
			apperr.New(apperr.CodeNotInProgress, "schedule %s is %s", sched.ID, sched.Status))
	}

	if sched.PaidAmount == 0 {
		return nil, s.reject("refund", sched, a,
			apperr.New(apperr.CodeNothingToRefund, "nothing has been paid on schedule %s", sched.ID))
	}

	sl, err := tx.GetSale(ctx, sched.SaleID)
	if err != nil {
		return nil, err
	}

	if sl.Status.Terminal() {
		return nil, s.reject("refund", sched, a,
			apperr.New(apperr.CodeInvalidState, "sale %s is %s", sl.ID, sl.Status))
	}

	refunded := sched.PaidAmount

	receipt, err := s.funds.Transfer(ctx, funds.TransferRequest{
		Kind:      funds.KindRefund,
		PartyID:   sl.ClientID,
		Amount:    refunded,
		Reference: "refund:" + sched.ID.String(),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstream, err, "refunding %s to client", money.Format(refunded))
	}

	var undo aggregate.Undo

	undo.Add("reverse refund "+receipt.ID, func(ctx context.Context) error {
		return s.funds.Reverse(ctx, receipt.ID)
	})

	if err := s.units.Release(ctx, sl.UnitID); err != nil {
		undo.Run(context.WithoutCancel(ctx))
		return nil, apperr.Wrap(apperr.CodeUpstream, err, "relisting unit %s", sl.UnitID)
	}

	undo.Add("re-reserve unit "+sl.UnitID.String(), func(ctx context.Context) error {
		return s.units.Reserve(ctx, sl.UnitID)
	})

	now := s.now()

	if err := s.cancelRefunded(ctx, tx, a, sched, sl, refunded, receipt.ID, now); err != nil {
		undo.Run(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("refund and relist: %w", err)
	}

	slog.Info("schedule refunded",
		"schedule_id", sched.ID, "sale_id", sl.ID, "amount", refunded, "transfer_id", receipt.ID, "actor_id", a.ID)

	return sched, nil
}

func (s *Service) cancelRefunded(ctx context.Context, tx Tx, a actor.Actor, sched *Schedule, sl *sale.Sale, refunded int64, transferID string, now time.Time) error {
	if _, err := tx.VoidPayments(ctx, sched.ID, now); err != nil {
		return fmt.Errorf("voiding payments: %w", err)
	}

	for i := range sched.Installments {
		sched.Installments[i].Status = InstallmentUpcoming
		sched.Installments[i].ActualPaymentDate = nil
	}

	sched.RefundedAmount += refunded
	sched.Status = StatusCancelled
	sched.CancelledAt = &now
	sched.Version++
	sched.UpdatedAt = now
	sched.Recompute()

	if err := tx.UpdateSchedule(ctx, sched); err != nil {
		return err
	}

	entry := sale.NewHistoryEntry(a, now, sale.ActionRefunded,
		fmt.Sprintf("%s refunded to client (transfer %s), unit %s relisted, sale cancelled",
			money.Format(refunded), transferID, sl.UnitID))

	sl.Status = sale.StatusCancelled
	sl.Version++
	sl.UpdatedAt = now
	sl.History = append(sl.History, entry)

	if err := tx.UpdateSale(ctx, sl); err != nil {
		return err
	}

	if err := tx.AppendHistory(ctx, sl.ID, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	return nil
}

// CloseForCancel runs inside a sale cancellation. A schedule nothing was paid
// on is cancelled in the same commit; one holding client money blocks the
// cancellation, since only RefundAndRelist returns that money.
func (s *Service) CloseForCancel(ctx context.Context, stx sale.Tx, sl *sale.Sale, now time.Time) error {
	tx, err := s.repo.Within(stx)
	if err != nil {
		return err
	}

	sched, err := tx.GetScheduleBySale(ctx, sl.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	if sched.Status != StatusInProgress {
		return nil
	}

	if sched.PaidAmount > 0 {
		return apperr.New(apperr.CodePrecondition,
			"schedule %s holds %s paid by the client: refund the schedule instead",
			sched.ID, money.Format(sched.PaidAmount))
	}

	sched.Status = StatusCancelled
	sched.CancelledAt = &now
	sched.Version++
	sched.UpdatedAt = now

	if err := tx.UpdateSchedule(ctx, sched); err != nil {
		return fmt.Errorf("cancelling schedule %s: %w", sched.ID, err)
	}

	return nil
}

// LateSchedule pairs an in-progress schedule with its overdue installments.
type LateSchedule struct {
	Schedule *Schedule
	Late     []Installment
	Overdue  int64
}

// LateReport lists the in-progress schedules that have at least one Late
// installment today.
func (s *Service) LateReport(ctx context.Context) ([]LateSchedule, error) {
	status := StatusInProgress

	scheds, err := s.repo.ListSchedules(ctx, ListFilter{Status: &status})
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}

	now := s.now()

	var report []LateSchedule

	for _, sched := range scheds {
		late := sched.LateInstallments(now)
		if len(late) == 0 {
			continue
		}

		var overdue int64
		for _, inst := range late {
			overdue += inst.Amount
		}

		report = append(report, LateSchedule{Schedule: sched, Late: late, Overdue: overdue})
	}

	return report, nil
}

// begin resolves the owning sale of a schedule, takes its lock and rereads
// the schedule inside the transaction.
func (s *Service) begin(ctx context.Context, id uuid.UUID) (Tx, *Schedule, error) {
	head, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.repo.Begin(ctx, head.SaleID)
	if err != nil {
		return nil, nil, fmt.Errorf("begin schedule %s: %w", id, err)
	}

	sched, err := tx.GetSchedule(ctx, id)
	if err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	if err := aggregate.CheckVersion(ctx, sched.Version); err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	return tx, sched, nil
}

func (s *Service) reject(op string, sched *Schedule, a actor.Actor, err error) error {
	slog.Warn("schedule operation rejected",
		"op", op, "schedule_id", sched.ID, "actor_id", a.ID, "code", apperr.CodeOf(err), "error", err)

	return err
}

func locked(inst *Installment) error {
	return apperr.New(apperr.CodeLocked, "installment %s is paid and can no longer be edited", inst.ID)
}

func forbidden(a actor.Actor, what string) error {
	return apperr.New(apperr.CodeForbidden, "role %s may not %s", a.Role, what)
}
