package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MrJamesThe3rd/immotrack/internal/actor"
	"github.com/MrJamesThe3rd/immotrack/internal/apperr"
	"github.com/MrJamesThe3rd/immotrack/internal/funds"
	"github.com/MrJamesThe3rd/immotrack/internal/ledger"
	"github.com/MrJamesThe3rd/immotrack/internal/memstore"
	"github.com/MrJamesThe3rd/immotrack/internal/registry"
	"github.com/MrJamesThe3rd/immotrack/internal/sale"
)

var (
	clock      = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	commercial = actor.Actor{ID: uuid.New(), Role: actor.RoleCommercial}
	agency     = actor.Actor{ID: uuid.New(), Role: actor.RoleAgency}
	bank       = actor.Actor{ID: uuid.New(), Role: actor.RoleBank}
	clientID   = uuid.New()
)

func fixedClock() time.Time { return clock }

type fixture struct {
	store  *memstore.Store
	sales  *sale.Service
	ledger *ledger.Service
	units  *registry.Memory
	funds  *funds.Memory
}

func newFixture(t *testing.T, opts ...ledger.Option) *fixture {
	t.Helper()

	f := &fixture{
		store: memstore.New(),
		units: registry.NewMemory(),
		funds: funds.NewMemory(),
	}
	f.ledger = ledger.NewService(f.store.Ledger(), f.units, f.funds,
		append([]ledger.Option{ledger.WithClock(fixedClock)}, opts...)...)
	f.sales = sale.NewService(f.store.Sales(), f.units, f.funds,
		sale.WithClock(fixedClock), sale.WithScheduleCloser(f.ledger))

	return f
}

// schedule creates a sale with a plan of three installments of 100.
func (f *fixture) schedule(t *testing.T, due ...time.Time) (*sale.Sale, *ledger.Schedule) {
	t.Helper()

	if len(due) == 0 {
		due = []time.Time{day(2026, 4, 1), day(2026, 5, 1), day(2026, 6, 1)}
	}

	ctx := context.Background()

	sl, err := f.sales.Create(ctx, commercial, sale.CreateParams{
		UnitID:    uuid.New(),
		ClientID:  clientID,
		AgencyID:  agency.ID,
		SalePrice: int64(100 * len(due)),
	})
	require.NoError(t, err)

	plan := make([]ledger.PlanItem, len(due))
	for i, d := range due {
		plan[i] = ledger.PlanItem{DueDate: d, Amount: 100}
	}

	sched, err := f.ledger.CreateSchedule(ctx, commercial, sl.ID, int64(100*len(due)), plan)
	require.NoError(t, err)

	return sl, sched
}

func refunds(f *fixture) []funds.Receipt {
	var out []funds.Receipt

	for _, r := range f.funds.Receipts() {
		if r.Kind == funds.KindRefund {
			out = append(out, r)
		}
	}

	return out
}

func TestService_CreateSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sl, sched := f.schedule(t)

	assert.Equal(t, ledger.StatusInProgress, sched.Status)
	assert.Equal(t, int64(300), sched.TotalAmount)
	assert.Equal(t, int64(0), sched.PaidAmount)
	assert.Equal(t, int64(300), sched.RemainingAmount)
	require.Len(t, sched.Installments, 3)

	got, err := f.ledger.GetBySale(ctx, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, sched.ID, got.ID)

	_, err = f.ledger.CreateSchedule(ctx, agency, sl.ID, 100, []ledger.PlanItem{{DueDate: day(2026, 4, 1), Amount: 100}})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.ledger.CreateSchedule(ctx, bank, sl.ID, 100, []ledger.PlanItem{{DueDate: day(2026, 4, 1), Amount: 100}})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.ledger.CreateSchedule(ctx, agency, uuid.New(), 100, []ledger.PlanItem{{DueDate: day(2026, 4, 1), Amount: 100}})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_PaymentsThenRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sl, sched := f.schedule(t)

	got, err := f.ledger.RecordPayment(ctx, bank, sched.ID, sched.Installments[0].ID, day(2026, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.PaidAmount)
	assert.Equal(t, int64(200), got.RemainingAmount)
	assert.Equal(t, ledger.InstallmentPaid, got.Installments[0].Status)
	assert.Equal(t, day(2026, 3, 1), *got.Installments[0].ActualPaymentDate)

	got, err = f.ledger.RefundAndRelist(ctx, agency, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCancelled, got.Status)
	assert.Equal(t, int64(0), got.PaidAmount)
	assert.Equal(t, int64(100), got.RefundedAmount)
	assert.NotNil(t, got.CancelledAt)

	for _, inst := range got.Installments {
		assert.False(t, inst.Paid())
	}

	issued := refunds(f)
	require.Len(t, issued, 1)
	assert.Equal(t, int64(100), issued[0].Amount)
	assert.Equal(t, clientID, issued[0].PartyID)

	assert.True(t, f.units.Available(sl.UnitID))

	cancelled, err := f.sales.Get(ctx, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusCancelled, cancelled.Status)
	assert.Equal(t, sale.ActionRefunded, cancelled.History[len(cancelled.History)-1].Action)

	payments := f.store.Ledger().Payments(sched.ID)
	require.Len(t, payments, 1)
	assert.NotNil(t, payments[0].VoidedAt)

	_, err = f.ledger.RefundAndRelist(ctx, agency, sched.ID)
	assert.ErrorIs(t, err, apperr.ErrNotInProgress)
	assert.Len(t, refunds(f), 1)

	_, err = f.ledger.RecordPayment(ctx, bank, sched.ID, sched.Installments[1].ID, clock)
	assert.ErrorIs(t, err, apperr.ErrNotInProgress)
}

func TestService_RefundNothingPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sl, sched := f.schedule(t)

	_, err := f.ledger.RefundAndRelist(ctx, agency, sched.ID)
	assert.ErrorIs(t, err, apperr.ErrNothingToRefund)

	assert.Empty(t, refunds(f))
	assert.False(t, f.units.Available(sl.UnitID))

	got, err := f.sales.Get(ctx, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusAwaitingNotary, got.Status)

	_, err = f.ledger.RefundAndRelist(ctx, bank, sched.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestService_PaidInstallmentIsLocked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, sched := f.schedule(t)
	paid := sched.Installments[0].ID

	_, err := f.ledger.RecordPayment(ctx, bank, sched.ID, paid, clock)
	require.NoError(t, err)

	_, err = f.ledger.Reschedule(ctx, agency, sched.ID, paid, day(2026, 9, 1))
	assert.ErrorIs(t, err, apperr.ErrLocked)

	_, err = f.ledger.ReviseAmount(ctx, agency, sched.ID, paid, 50)
	assert.ErrorIs(t, err, apperr.ErrLocked)

	_, err = f.ledger.RecordPayment(ctx, bank, sched.ID, paid, clock)
	assert.ErrorIs(t, err, apperr.ErrAlreadyPaid)

	got, err := f.ledger.UpdateNotes(ctx, agency, sched.ID, paid, "chèque encaissé")
	require.NoError(t, err)
	assert.Equal(t, "chèque encaissé", got.Installments[0].Notes)
	assert.Equal(t, int64(100), got.PaidAmount)
}

func TestService_Reschedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, sched := f.schedule(t)
	target := sched.Installments[1].ID

	_, err := f.ledger.Reschedule(ctx, agency, sched.ID, target, day(2026, 3, 1))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	got, err := f.ledger.Reschedule(ctx, agency, sched.ID, target, day(2026, 3, 2))
	require.NoError(t, err)
	assert.Equal(t, day(2026, 3, 2), got.Installments[1].DueDate)
	assert.Equal(t, sched.Version+1, got.Version)

	_, err = f.ledger.Reschedule(ctx, commercial, sched.ID, target, day(2026, 7, 1))
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestService_ReviseAmount(t *testing.T) {
	tests := []struct {
		name          string
		mode          ledger.RevisionMode
		amount        int64
		wantAmounts   []int64
		wantTotal     int64
		wantRemaining int64
		wantCode      apperr.Code
	}{
		{
			name:          "DriftChangesTotal",
			mode:          ledger.RevisionDrift,
			amount:        160,
			wantAmounts:   []int64{100, 160, 100},
			wantTotal:     360,
			wantRemaining: 260,
		},
		{
			name:          "RedistributeKeepsTotal",
			mode:          ledger.RevisionRedistribute,
			amount:        150,
			wantAmounts:   []int64{100, 150, 50},
			wantTotal:     300,
			wantRemaining: 200,
		},
		{
			name:     "RedistributeCannotZeroOthers",
			mode:     ledger.RevisionRedistribute,
			amount:   200,
			wantCode: apperr.CodeValidation,
		},
		{
			name:     "NonPositive",
			mode:     ledger.RevisionDrift,
			amount:   0,
			wantCode: apperr.CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, ledger.WithRevisionMode(tt.mode))
			_, sched := f.schedule(t)

			_, err := f.ledger.RecordPayment(ctx, bank, sched.ID, sched.Installments[0].ID, clock)
			require.NoError(t, err)

			got, err := f.ledger.ReviseAmount(ctx, agency, sched.ID, sched.Installments[1].ID, tt.amount)

			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, apperr.CodeOf(err))

				return
			}

			require.NoError(t, err)

			var amounts []int64
			for _, inst := range got.Installments {
				amounts = append(amounts, inst.Amount)
			}

			assert.Equal(t, tt.wantAmounts, amounts)
			assert.Equal(t, tt.wantTotal, got.TotalAmount)
			assert.Equal(t, int64(100), got.PaidAmount)
			assert.Equal(t, tt.wantRemaining, got.RemainingAmount)
		})
	}
}

func TestService_ApplyEditsIsAtomic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, sched := f.schedule(t)

	_, err := f.ledger.ApplyEdits(ctx, agency, sched.ID, []ledger.Edit{
		{InstallmentID: sched.Installments[0].ID, Kind: ledger.EditPayment, PaymentDate: clock},
		{InstallmentID: sched.Installments[1].ID, Kind: ledger.EditAmount, Amount: -5},
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	got, err := f.ledger.Get(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.PaidAmount)
	assert.Equal(t, sched.Version, got.Version)
	assert.Empty(t, f.store.Ledger().Payments(sched.ID))
}

func TestService_BulkUpdateCompletesSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, sched := f.schedule(t)

	paidOn := day(2026, 3, 1)

	var in []ledger.InstallmentInput
	for _, inst := range sched.Installments {
		in = append(in, ledger.InstallmentInput{
			ID:                inst.ID,
			DueDate:           inst.DueDate,
			Amount:            inst.Amount,
			Status:            ledger.InstallmentPaid,
			ActualPaymentDate: &paidOn,
		})
	}

	got, err := f.ledger.BulkUpdate(ctx, bank, sched.ID, in)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, got.Status)
	assert.Equal(t, int64(300), got.PaidAmount)
	assert.Equal(t, int64(0), got.RemainingAmount)
	assert.Len(t, f.store.Ledger().Payments(sched.ID), 3)

	in[2].Status = ledger.InstallmentUpcoming

	_, err = f.ledger.BulkUpdate(ctx, bank, sched.ID, in)
	assert.ErrorIs(t, err, apperr.ErrLocked)

	_, err = f.ledger.RefundAndRelist(ctx, agency, sched.ID)
	assert.ErrorIs(t, err, apperr.ErrNotInProgress)
}

func TestService_LateReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, late := f.schedule(t, day(2026, 2, 1), day(2026, 3, 2), day(2026, 4, 1))
	_, onTime := f.schedule(t, day(2026, 3, 2), day(2026, 4, 1))

	got, err := f.ledger.Get(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.InstallmentLate, got.Installments[0].StatusAt(f.ledger.Now()))
	assert.Equal(t, ledger.InstallmentUpcoming, got.Installments[1].StatusAt(f.ledger.Now()))

	report, err := f.ledger.LateReport(ctx)
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, late.ID, report[0].Schedule.ID)
	assert.Len(t, report[0].Late, 1)
	assert.Equal(t, int64(100), report[0].Overdue)

	for _, r := range report {
		assert.NotEqual(t, onTime.ID, r.Schedule.ID)
	}

	_, err = f.ledger.RecordPayment(ctx, bank, late.ID, late.Installments[0].ID, clock)
	require.NoError(t, err)

	report, err = f.ledger.LateReport(ctx)
	require.NoError(t, err)
	assert.Empty(t, report)
}

func TestService_SaleCancelClosesSchedule(t *testing.T) {
	t.Run("PaidScheduleBlocksCancel", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t)
		sl, sched := f.schedule(t)

		_, err := f.ledger.RecordPayment(ctx, bank, sched.ID, sched.Installments[0].ID, clock)
		require.NoError(t, err)

		_, err = f.sales.Cancel(ctx, agency, sl.ID, "buyer withdrew")
		assert.ErrorIs(t, err, apperr.ErrPrecondition)

		got, err := f.sales.Get(ctx, sl.ID)
		require.NoError(t, err)
		assert.Equal(t, sale.StatusAwaitingNotary, got.Status)
		assert.False(t, f.units.Available(sl.UnitID))

		refunded, err := f.ledger.RefundAndRelist(ctx, agency, sched.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), refunded.RefundedAmount)
		assert.Len(t, refunds(f), 1)
		assert.True(t, f.units.Available(sl.UnitID))
	})

	t.Run("UnpaidScheduleCancelledWithSale", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t)
		sl, sched := f.schedule(t)

		_, err := f.sales.Cancel(ctx, agency, sl.ID, "")
		require.NoError(t, err)
		assert.True(t, f.units.Available(sl.UnitID))

		got, err := f.ledger.Get(ctx, sched.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusCancelled, got.Status)
		assert.Equal(t, clock, *got.CancelledAt)
		assert.Equal(t, sched.Version+1, got.Version)

		_, err = f.ledger.RecordPayment(ctx, bank, sched.ID, sched.Installments[0].ID, clock)
		assert.ErrorIs(t, err, apperr.ErrNotInProgress)
		assert.Empty(t, refunds(f))
	})

	t.Run("EditsRejectedOnCancelledSale", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t)
		sl, sched := f.schedule(t)

		// A sale cancelled without a closer leaves its schedule open.
		bare := sale.NewService(f.store.Sales(), f.units, f.funds, sale.WithClock(fixedClock))
		_, err := bare.Cancel(ctx, agency, sl.ID, "")
		require.NoError(t, err)

		_, err = f.ledger.RecordPayment(ctx, bank, sched.ID, sched.Installments[0].ID, clock)
		assert.ErrorIs(t, err, apperr.ErrNotInProgress)

		_, err = f.ledger.UpdateNotes(ctx, agency, sched.ID, sched.Installments[0].ID, "relance")
		assert.ErrorIs(t, err, apperr.ErrNotInProgress)

		got, err := f.ledger.Get(ctx, sched.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.PaidAmount)
		assert.Empty(t, f.store.Ledger().Payments(sched.ID))
	})
}

func TestService_PaymentsRacingRefund(t *testing.T) {
	for range 20 {
		ctx := context.Background()
		f := newFixture(t)
		_, sched := f.schedule(t, day(2026, 4, 1), day(2026, 5, 1), day(2026, 6, 1), day(2026, 7, 1))

		_, err := f.ledger.RecordPayment(ctx, bank, sched.ID, sched.Installments[0].ID, clock)
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			payErrs   = make([]error, 2)
			refundErr error
		)

		for i := range payErrs {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, payErrs[i] = f.ledger.RecordPayment(ctx, bank, sched.ID, sched.Installments[i+1].ID, clock)
			}()
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			_, refundErr = f.ledger.RefundAndRelist(ctx, agency, sched.ID)
		}()

		wg.Wait()

		require.NoError(t, refundErr)

		for _, err := range payErrs {
			if err != nil {
				assert.ErrorIs(t, err, apperr.ErrNotInProgress)
			}
		}

		got, err := f.ledger.Get(ctx, sched.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusCancelled, got.Status)

		var paid int64

		for _, inst := range got.Installments {
			if inst.Paid() {
				paid += inst.Amount
			}
		}

		assert.Equal(t, paid, got.PaidAmount)

		var active int64

		for _, p := range f.store.Ledger().Payments(sched.ID) {
			if p.VoidedAt == nil {
				active += p.Amount
			}
		}

		assert.Equal(t, got.PaidAmount, active)

		issued := refunds(f)
		require.Len(t, issued, 1)
		assert.Equal(t, issued[0].Amount, got.RefundedAmount)
	}
}

func TestService_RefundCompensation(t *testing.T) {
	type testCase struct {
		name      string
		setupMock func(units *sale.MockUnitRegistry, fundsSvc *sale.MockFunds, unitID uuid.UUID)
	}

	tests := []testCase{
		{
			name: "RefundFailsNothingApplied",
			setupMock: func(_ *sale.MockUnitRegistry, fundsSvc *sale.MockFunds, _ uuid.UUID) {
				fundsSvc.EXPECT().Transfer(gomock.Any(), gomock.Any()).Return(nil, errors.New("bank offline"))
			},
		},
		{
			name: "RelistFailsRefundReversed",
			setupMock: func(units *sale.MockUnitRegistry, fundsSvc *sale.MockFunds, unitID uuid.UUID) {
				gomock.InOrder(
					fundsSvc.EXPECT().Transfer(gomock.Any(), gomock.Any()).Return(&funds.Receipt{ID: "rf-1"}, nil),
					units.EXPECT().Release(gomock.Any(), unitID).Return(errors.New("registry offline")),
					fundsSvc.EXPECT().Reverse(gomock.Any(), "rf-1").Return(nil),
				)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			f := newFixture(t)
			sl, sched := f.schedule(t)

			_, err := f.ledger.RecordPayment(ctx, bank, sched.ID, sched.Installments[0].ID, clock)
			require.NoError(t, err)

			units := sale.NewMockUnitRegistry(ctrl)
			fundsSvc := sale.NewMockFunds(ctrl)
			tt.setupMock(units, fundsSvc, sl.UnitID)

			svc := ledger.NewService(f.store.Ledger(), units, fundsSvc, ledger.WithClock(fixedClock))

			_, err = svc.RefundAndRelist(ctx, agency, sched.ID)
			assert.ErrorIs(t, err, apperr.ErrUpstream)

			got, err := svc.Get(ctx, sched.ID)
			require.NoError(t, err)
			assert.Equal(t, ledger.StatusInProgress, got.Status)
			assert.Equal(t, int64(100), got.PaidAmount)
			assert.Equal(t, int64(0), got.RefundedAmount)

			s, err := f.sales.Get(ctx, sl.ID)
			require.NoError(t, err)
			assert.Equal(t, sale.StatusAwaitingNotary, s.Status)
		})
	}
}

func TestService_RefundPersistFailureRunsCompensations(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	paidOn := day(2026, 2, 1)
	sl := &sale.Sale{
		ID:       uuid.New(),
		UnitID:   uuid.New(),
		ClientID: clientID,
		Status:   sale.StatusSigned,
		Version:  4,
	}
	sched := &ledger.Schedule{
		ID:          uuid.New(),
		SaleID:      sl.ID,
		TotalAmount: 200,
		PaidAmount:  100,
		Status:      ledger.StatusInProgress,
		Version:     2,
		Installments: []ledger.Installment{
			{ID: uuid.New(), DueDate: day(2026, 2, 1), Amount: 100, Status: ledger.InstallmentPaid, ActualPaymentDate: &paidOn},
			{ID: uuid.New(), DueDate: day(2026, 4, 1), Amount: 100, Status: ledger.InstallmentUpcoming},
		},
	}

	repo := ledger.NewMockRepository(ctrl)
	tx := ledger.NewMockTx(ctrl)
	units := sale.NewMockUnitRegistry(ctrl)
	fundsSvc := sale.NewMockFunds(ctrl)

	repo.EXPECT().GetSchedule(gomock.Any(), sched.ID).Return(sched, nil)
	repo.EXPECT().Begin(gomock.Any(), sl.ID).Return(tx, nil)
	tx.EXPECT().GetSchedule(gomock.Any(), sched.ID).Return(sched, nil)
	tx.EXPECT().GetSale(gomock.Any(), sl.ID).Return(sl, nil)
	tx.EXPECT().Rollback().Return(nil).AnyTimes()

	gomock.InOrder(
		fundsSvc.EXPECT().
			Transfer(gomock.Any(), funds.TransferRequest{
				Kind:      funds.KindRefund,
				PartyID:   clientID,
				Amount:    100,
				Reference: "refund:" + sched.ID.String(),
			}).
			Return(&funds.Receipt{ID: "rf-9"}, nil),
		units.EXPECT().Release(gomock.Any(), sl.UnitID).Return(nil),
		tx.EXPECT().VoidPayments(gomock.Any(), sched.ID, clock).Return(0, errors.New("db error")),
		units.EXPECT().Reserve(gomock.Any(), sl.UnitID).Return(nil),
		fundsSvc.EXPECT().Reverse(gomock.Any(), "rf-9").Return(nil),
	)

	svc := ledger.NewService(repo, units, fundsSvc, ledger.WithClock(fixedClock))

	_, err := svc.RefundAndRelist(ctx, agency, sched.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))
}
