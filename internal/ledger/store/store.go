package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/immotrack/internal/apperr"
	"github.com/MrJamesThe3rd/immotrack/internal/ledger"
	"github.com/MrJamesThe3rd/immotrack/internal/sale"
	salestore "github.com/MrJamesThe3rd/immotrack/internal/sale/store"
)

type Store struct {
	db    *sql.DB
	sales *salestore.Store
}

func New(db *sql.DB) *Store {
	return &Store{db: db, sales: salestore.New(db)}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Expected column order: id, sale_id, total_amount, paid_amount, refunded_amount, status, version,
// created_at, updated_at, cancelled_at
func scanSchedule(s scanner) (*ledger.Schedule, error) {
	var sched ledger.Schedule

	var statusStr string

	if err := s.Scan(
		&sched.ID, &sched.SaleID, &sched.TotalAmount, &sched.PaidAmount, &sched.RefundedAmount, &statusStr,
		&sched.Version, &sched.CreatedAt, &sched.UpdatedAt, &sched.CancelledAt,
	); err != nil {
		return nil, err
	}

	sched.Status = ledger.Status(statusStr)
	sched.RemainingAmount = sched.TotalAmount - sched.PaidAmount

	return &sched, nil
}

const selectScheduleColumns = `
	id, sale_id, total_amount, paid_amount, refunded_amount, status, version, created_at, updated_at, cancelled_at
`

func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (*ledger.Schedule, error) {
	return getSchedule(ctx, s.db, "id", id)
}

func (s *Store) GetScheduleBySale(ctx context.Context, saleID uuid.UUID) (*ledger.Schedule, error) {
	return getSchedule(ctx, s.db, "sale_id", saleID)
}

func (s *Store) ListSchedules(ctx context.Context, filter ledger.ListFilter) ([]*ledger.Schedule, error) {
	query := `SELECT ` + selectScheduleColumns + ` FROM schedules WHERE TRUE`

	var args []any

	if filter.Status != nil {
		query += " AND status = $1"

		args = append(args, *filter.Status)
	}

	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	defer rows.Close()

	var scheds []*ledger.Schedule

	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}

		scheds = append(scheds, sched)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedule rows: %w", err)
	}

	for _, sched := range scheds {
		if err := loadInstallments(ctx, s.db, sched); err != nil {
			return nil, err
		}
	}

	return scheds, nil
}

// Begin takes the same advisory lock as sale writes, so a refund and a sale
// transition on the same sale are serialized.
func (s *Store) Begin(ctx context.Context, saleID uuid.UUID) (ledger.Tx, error) {
	stx, err := s.sales.BeginTx(ctx, saleID)
	if err != nil {
		return nil, err
	}

	return &Tx{Tx: stx}, nil
}

// Within extends a sale transaction opened by the sale store.
func (s *Store) Within(tx sale.Tx) (ledger.Tx, error) {
	stx, ok := tx.(*salestore.Tx)
	if !ok {
		return nil, fmt.Errorf("unsupported sale transaction %T", tx)
	}

	return &Tx{Tx: stx}, nil
}

// Payments lists every payment of a schedule, voided ones included.
func (s *Store) Payments(ctx context.Context, scheduleID uuid.UUID) ([]ledger.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schedule_id, installment_id, amount, paid_on, recorded_by, recorded_at, voided_at
		FROM payments WHERE schedule_id = $1 ORDER BY recorded_at ASC`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	defer rows.Close()

	var payments []ledger.Payment

	for rows.Next() {
		var p ledger.Payment
		if err := rows.Scan(&p.ID, &p.ScheduleID, &p.InstallmentID, &p.Amount, &p.PaidOn,
			&p.RecordedBy, &p.RecordedAt, &p.VoidedAt); err != nil {
			return nil, fmt.Errorf("scanning payment: %w", err)
		}

		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating payment rows: %w", err)
	}

	return payments, nil
}

// Tx extends the sale transaction with schedule writes.
type Tx struct {
	*salestore.Tx
}

func (t *Tx) GetSchedule(ctx context.Context, id uuid.UUID) (*ledger.Schedule, error) {
	return getSchedule(ctx, t.SQL(), "id", id)
}

func (t *Tx) GetScheduleBySale(ctx context.Context, saleID uuid.UUID) (*ledger.Schedule, error) {
	return getSchedule(ctx, t.SQL(), "sale_id", saleID)
}

func (t *Tx) CreateSchedule(ctx context.Context, sched *ledger.Schedule) error {
	query := `
		INSERT INTO schedules (id, sale_id, total_amount, paid_amount, refunded_amount, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if _, err := t.SQL().ExecContext(ctx, query,
		sched.ID, sched.SaleID, sched.TotalAmount, sched.PaidAmount, sched.RefundedAmount, sched.Status,
		sched.Version, sched.CreatedAt, sched.UpdatedAt,
	); err != nil {
		return fmt.Errorf("creating schedule: %w", err)
	}

	insert := `
		INSERT INTO installments (id, schedule_id, position, due_date, amount, paid, actual_payment_date, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for i, inst := range sched.Installments {
		if _, err := t.SQL().ExecContext(ctx, insert,
			inst.ID, sched.ID, i+1, inst.DueDate, inst.Amount, inst.Paid(), inst.ActualPaymentDate, inst.Notes,
		); err != nil {
			return fmt.Errorf("creating installment %d: %w", i+1, err)
		}
	}

	return nil
}

// UpdateSchedule writes the schedule row and its installments if the
// schedule is still at the version preceding sched.Version.
func (t *Tx) UpdateSchedule(ctx context.Context, sched *ledger.Schedule) error {
	query := `
		UPDATE schedules
		SET total_amount = $1, paid_amount = $2, refunded_amount = $3, status = $4, version = $5,
			updated_at = $6, cancelled_at = $7
		WHERE id = $8 AND version = $9
	`

	res, err := t.SQL().ExecContext(ctx, query,
		sched.TotalAmount, sched.PaidAmount, sched.RefundedAmount, sched.Status, sched.Version,
		sched.UpdatedAt, sched.CancelledAt,
		sched.ID, sched.Version-1,
	)
	if err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}

	if n == 0 {
		return apperr.New(apperr.CodeConflict, "schedule %s changed concurrently", sched.ID)
	}

	update := `
		UPDATE installments
		SET due_date = $1, amount = $2, paid = $3, actual_payment_date = $4, notes = $5
		WHERE id = $6 AND schedule_id = $7
	`

	for _, inst := range sched.Installments {
		if _, err := t.SQL().ExecContext(ctx, update,
			inst.DueDate, inst.Amount, inst.Paid(), inst.ActualPaymentDate, inst.Notes, inst.ID, sched.ID,
		); err != nil {
			return fmt.Errorf("updating installment %s: %w", inst.ID, err)
		}
	}

	return nil
}

func (t *Tx) CreatePayment(ctx context.Context, p *ledger.Payment) error {
	query := `
		INSERT INTO payments (id, schedule_id, installment_id, amount, paid_on, recorded_by, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if _, err := t.SQL().ExecContext(ctx, query,
		p.ID, p.ScheduleID, p.InstallmentID, p.Amount, p.PaidOn, p.RecordedBy, p.RecordedAt,
	); err != nil {
		return fmt.Errorf("recording payment: %w", err)
	}

	return nil
}

func (t *Tx) VoidPayments(ctx context.Context, scheduleID uuid.UUID, at time.Time) (int, error) {
	res, err := t.SQL().ExecContext(ctx,
		`UPDATE payments SET voided_at = $1 WHERE schedule_id = $2 AND voided_at IS NULL`, at, scheduleID)
	if err != nil {
		return 0, fmt.Errorf("voiding payments: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("voiding payments: %w", err)
	}

	return int(n), nil
}

func getSchedule(ctx context.Context, q querier, column string, id uuid.UUID) (*ledger.Schedule, error) {
	query := `SELECT ` + selectScheduleColumns + ` FROM schedules WHERE ` + column + ` = $1`

	sched, err := scanSchedule(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.CodeNotFound, "schedule %s %s not found", column, id)
		}

		return nil, fmt.Errorf("getting schedule: %w", err)
	}

	if err := loadInstallments(ctx, q, sched); err != nil {
		return nil, err
	}

	return sched, nil
}

func loadInstallments(ctx context.Context, q querier, sched *ledger.Schedule) error {
	rows, err := q.QueryContext(ctx, `
		SELECT id, due_date, amount, paid, actual_payment_date, notes
		FROM installments WHERE schedule_id = $1 ORDER BY position ASC`, sched.ID)
	if err != nil {
		return fmt.Errorf("loading installments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			inst ledger.Installment
			paid bool
		)

		if err := rows.Scan(&inst.ID, &inst.DueDate, &inst.Amount, &paid, &inst.ActualPaymentDate, &inst.Notes); err != nil {
			return fmt.Errorf("scanning installment: %w", err)
		}

		inst.Status = ledger.InstallmentUpcoming
		if paid {
			inst.Status = ledger.InstallmentPaid
		}

		sched.Installments = append(sched.Installments, inst)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating installment rows: %w", err)
	}

	return nil
}
