package sale_test

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
	"github.com/MrJamesThe3rd/immotrack/internal/aggregate"
	"github.com/MrJamesThe3rd/immotrack/internal/apperr"
	"github.com/MrJamesThe3rd/immotrack/internal/funds"
	"github.com/MrJamesThe3rd/immotrack/internal/memstore"
	"github.com/MrJamesThe3rd/immotrack/internal/registry"
	"github.com/MrJamesThe3rd/immotrack/internal/sale"
)

var (
	clock      = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	commercial = actor.Actor{ID: uuid.New(), Role: actor.RoleCommercial}
	client     = actor.Actor{ID: uuid.New(), Role: actor.RoleClient}
	agency     = actor.Actor{ID: uuid.New(), Role: actor.RoleAgency}
	notary     = actor.Actor{ID: uuid.New(), Role: actor.RoleNotary}
)

func fixedClock() time.Time { return clock }

func TestService_Create(t *testing.T) {
	type args struct {
		actor  actor.Actor
		params sale.CreateParams
	}

	type testCase struct {
		name      string
		args      args
		setupMock func(repo *sale.MockRepository, units *sale.MockUnitRegistry)
		wantCode  apperr.Code
	}

	valid := sale.CreateParams{
		UnitID:    uuid.New(),
		ClientID:  uuid.New(),
		AgencyID:  uuid.New(),
		SalePrice: 25_000_000,
	}

	tests := []testCase{
		{
			name: "Success",
			args: args{actor: commercial, params: valid},
			setupMock: func(repo *sale.MockRepository, units *sale.MockUnitRegistry) {
				units.EXPECT().Reserve(gomock.Any(), valid.UnitID).Return(nil)
				repo.EXPECT().
					CreateSale(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, sl *sale.Sale) error {
						assert.Equal(t, sale.StatusAwaitingNotary, sl.Status)
						assert.Equal(t, commercial.ID, sl.CommercialID)
						require.Len(t, sl.History, 1)
						assert.Equal(t, sale.ActionCreated, sl.History[0].Action)
						return nil
					})
			},
		},
		{
			name:     "OnlyCommercialMayInitiate",
			args:     args{actor: agency, params: valid},
			wantCode: apperr.CodeForbidden,
		},
		{
			name: "NonPositivePrice",
			args: args{actor: commercial, params: sale.CreateParams{
				UnitID: valid.UnitID, ClientID: valid.ClientID, AgencyID: valid.AgencyID,
			}},
			wantCode: apperr.CodeValidation,
		},
		{
			name: "UnitUnavailable",
			args: args{actor: commercial, params: valid},
			setupMock: func(_ *sale.MockRepository, units *sale.MockUnitRegistry) {
				units.EXPECT().Reserve(gomock.Any(), valid.UnitID).Return(registry.ErrUnavailable)
			},
			wantCode: apperr.CodePrecondition,
		},
		{
			name: "RegistryDown",
			args: args{actor: commercial, params: valid},
			setupMock: func(_ *sale.MockRepository, units *sale.MockUnitRegistry) {
				units.EXPECT().Reserve(gomock.Any(), valid.UnitID).Return(errors.New("connection refused"))
			},
			wantCode: apperr.CodeUpstream,
		},
		{
			name: "RepoErrorReleasesUnit",
			args: args{actor: commercial, params: valid},
			setupMock: func(repo *sale.MockRepository, units *sale.MockUnitRegistry) {
				units.EXPECT().Reserve(gomock.Any(), valid.UnitID).Return(nil)
				repo.EXPECT().CreateSale(gomock.Any(), gomock.Any()).Return(errors.New("db error"))
				units.EXPECT().Release(gomock.Any(), valid.UnitID).Return(nil)
			},
			wantCode: apperr.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			repo := sale.NewMockRepository(ctrl)
			units := sale.NewMockUnitRegistry(ctrl)
			fundsSvc := sale.NewMockFunds(ctrl)

			if tt.setupMock != nil {
				tt.setupMock(repo, units)
			}

			svc := sale.NewService(repo, units, fundsSvc, sale.WithClock(fixedClock))
			got, err := svc.Create(context.Background(), tt.args.actor, tt.args.params)

			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, apperr.CodeOf(err))
				assert.Nil(t, got)

				return
			}

			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, got.ID)
			assert.Equal(t, int64(1), got.Version)
		})
	}
}

func signedSale() *sale.Sale {
	at := clock.Add(-time.Hour)

	return &sale.Sale{
		ID:        uuid.New(),
		UnitID:    uuid.New(),
		ClientID:  client.ID,
		AgencyID:  agency.ID,
		SalePrice: 25_000_000,
		Status:    sale.StatusSigned,
		Signatures: sale.Signatures{
			Commercial: &at,
			Client:     &at,
			Agency:     &at,
		},
		Version: 7,
	}
}

func TestService_Finalize(t *testing.T) {
	type testCase struct {
		name      string
		setupMock func(sl *sale.Sale, tx *sale.MockTx, fundsSvc *sale.MockFunds)
		wantCode  apperr.Code
	}

	tests := []testCase{
		{
			name: "Success",
			setupMock: func(sl *sale.Sale, tx *sale.MockTx, fundsSvc *sale.MockFunds) {
				fundsSvc.EXPECT().
					Transfer(gomock.Any(), funds.TransferRequest{
						Kind:      funds.KindRelease,
						PartyID:   sl.AgencyID,
						Amount:    sl.SalePrice,
						Reference: "finalize:" + sl.ID.String(),
					}).
					Return(&funds.Receipt{ID: "tr-1"}, nil)
				tx.EXPECT().
					UpdateSale(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, got *sale.Sale) error {
						assert.Equal(t, sale.StatusFinalized, got.Status)
						assert.True(t, got.FundsTransferred)
						assert.Equal(t, int64(8), got.Version)
						return nil
					})
				tx.EXPECT().AppendHistory(gomock.Any(), sl.ID, gomock.Any()).Return(nil)
				tx.EXPECT().Commit().Return(nil)
			},
		},
		{
			name: "TransferFailureLeavesSaleUnchanged",
			setupMock: func(_ *sale.Sale, _ *sale.MockTx, fundsSvc *sale.MockFunds) {
				fundsSvc.EXPECT().Transfer(gomock.Any(), gomock.Any()).Return(nil, errors.New("bank offline"))
			},
			wantCode: apperr.CodeUpstream,
		},
		{
			name: "PersistFailureReversesTransfer",
			setupMock: func(_ *sale.Sale, tx *sale.MockTx, fundsSvc *sale.MockFunds) {
				fundsSvc.EXPECT().Transfer(gomock.Any(), gomock.Any()).Return(&funds.Receipt{ID: "tr-2"}, nil)
				tx.EXPECT().UpdateSale(gomock.Any(), gomock.Any()).Return(errors.New("db error"))
				fundsSvc.EXPECT().Reverse(gomock.Any(), "tr-2").Return(nil)
			},
			wantCode: apperr.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			repo := sale.NewMockRepository(ctrl)
			tx := sale.NewMockTx(ctrl)
			fundsSvc := sale.NewMockFunds(ctrl)
			sl := signedSale()

			repo.EXPECT().Begin(gomock.Any(), sl.ID).Return(tx, nil)
			tx.EXPECT().GetSale(gomock.Any(), sl.ID).Return(sl, nil)
			tx.EXPECT().Rollback().Return(nil).AnyTimes()

			tt.setupMock(sl, tx, fundsSvc)

			svc := sale.NewService(repo, sale.NewMockUnitRegistry(ctrl), fundsSvc, sale.WithClock(fixedClock))
			got, err := svc.Finalize(context.Background(), agency, sl.ID)

			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, apperr.CodeOf(err))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, sale.StatusFinalized, got.Status)
		})
	}
}

type fixture struct {
	svc   *sale.Service
	units *registry.Memory
	funds *funds.Memory
}

func newFixture(t *testing.T, opts ...sale.Option) *fixture {
	t.Helper()

	store := memstore.New()
	f := &fixture{
		units: registry.NewMemory(),
		funds: funds.NewMemory(),
	}
	f.svc = sale.NewService(store.Sales(), f.units, f.funds, append([]sale.Option{sale.WithClock(fixedClock)}, opts...)...)

	return f
}

func (f *fixture) create(t *testing.T) *sale.Sale {
	t.Helper()

	sl, err := f.svc.Create(context.Background(), commercial, sale.CreateParams{
		UnitID:    uuid.New(),
		ClientID:  client.ID,
		AgencyID:  agency.ID,
		SalePrice: 25_000_000,
	})
	require.NoError(t, err)

	return sl
}

// awaitingSignatures drives a new sale through the notarial stages.
func (f *fixture) awaitingSignatures(t *testing.T) *sale.Sale {
	t.Helper()

	ctx := context.Background()
	sl := f.create(t)

	_, err := f.svc.AssignNotary(ctx, agency, sl.ID, notary.ID)
	require.NoError(t, err)

	_, err = f.svc.StartNotaryProcessing(ctx, notary, sl.ID)
	require.NoError(t, err)

	_, err = f.svc.AddDocument(ctx, notary, sl.ID, sale.DocumentParams{
		Name: "Acte de vente", Kind: sale.DocSaleDeed, StorageRef: "s3://deeds/1.pdf",
	})
	require.NoError(t, err)

	_, err = f.svc.CompleteFormalities(ctx, notary, sl.ID)
	require.NoError(t, err)

	sl, err = f.svc.OpenSignatures(ctx, notary, sl.ID)
	require.NoError(t, err)
	require.Equal(t, sale.StatusAwaitingSignatures, sl.Status)

	return sl
}

func TestService_SignatureGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sl := f.awaitingSignatures(t)

	_, err := f.svc.RequestSignature(ctx, commercial, sl.ID, actor.RoleCommercial)
	require.NoError(t, err)

	got, err := f.svc.RequestSignature(ctx, client, sl.ID, actor.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusAwaitingSignatures, got.Status)
	assert.False(t, got.Signatures.Complete())

	_, err = f.svc.Finalize(ctx, agency, sl.ID)
	assert.ErrorIs(t, err, apperr.ErrPrecondition)
	assert.Empty(t, f.funds.Receipts())

	got, err = f.svc.RequestSignature(ctx, agency, sl.ID, actor.RoleAgency)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusSigned, got.Status)

	var signedEntries int

	for _, e := range got.History {
		if e.Action == sale.ActionSigned {
			signedEntries++
		}
	}

	assert.Equal(t, 1, signedEntries)

	got, err = f.svc.Finalize(ctx, agency, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusFinalized, got.Status)
	assert.True(t, got.FundsTransferred)

	_, err = f.svc.Finalize(ctx, agency, sl.ID)
	assert.ErrorIs(t, err, apperr.ErrPrecondition)

	receipts := f.funds.Receipts()
	require.Len(t, receipts, 1)
	assert.Equal(t, int64(25_000_000), receipts[0].Amount)
	assert.Equal(t, agency.ID, receipts[0].PartyID)
}

func TestService_RequestSignature(t *testing.T) {
	type testCase struct {
		name     string
		signer   actor.Actor
		party    actor.Role
		prepare  func(t *testing.T, f *fixture, id uuid.UUID)
		wantCode apperr.Code
	}

	tests := []testCase{
		{
			name:   "Success",
			signer: client,
			party:  actor.RoleClient,
		},
		{
			name:   "AlreadySigned",
			signer: client,
			party:  actor.RoleClient,
			prepare: func(t *testing.T, f *fixture, id uuid.UUID) {
				_, err := f.svc.RequestSignature(context.Background(), client, id, actor.RoleClient)
				require.NoError(t, err)
			},
			wantCode: apperr.CodeAlreadySigned,
		},
		{
			name:     "NotASigningParty",
			signer:   notary,
			party:    actor.RoleNotary,
			wantCode: apperr.CodeValidation,
		},
		{
			name:     "CannotSignForAnotherParty",
			signer:   commercial,
			party:    actor.RoleClient,
			wantCode: apperr.CodeForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sl := f.awaitingSignatures(t)

			if tt.prepare != nil {
				tt.prepare(t, f, sl.ID)
			}

			before, err := f.svc.Get(context.Background(), sl.ID)
			require.NoError(t, err)

			got, err := f.svc.RequestSignature(context.Background(), tt.signer, sl.ID, tt.party)

			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, apperr.CodeOf(err))

				after, err := f.svc.Get(context.Background(), sl.ID)
				require.NoError(t, err)
				assert.Equal(t, before.Version, after.Version)
				assert.Len(t, after.History, len(before.History))

				return
			}

			require.NoError(t, err)
			assert.True(t, got.Signatures.Signed(tt.party))
			assert.Equal(t, sale.ActionSignatureAdded, got.History[len(got.History)-1].Action)
		})
	}
}

func TestService_SignatureBeforeRound(t *testing.T) {
	f := newFixture(t)
	sl := f.create(t)

	_, err := f.svc.RequestSignature(context.Background(), client, sl.ID, actor.RoleClient)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestService_InvalidTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sl := f.create(t)

	_, err := f.svc.OpenSignatures(ctx, agency, sl.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.svc.CompleteFormalities(ctx, agency, sl.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.svc.StartNotaryProcessing(ctx, agency, sl.ID)
	assert.ErrorIs(t, err, apperr.ErrPrecondition)

	got, err := f.svc.Get(ctx, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusAwaitingNotary, got.Status)
	assert.Len(t, got.History, 1)
}

func TestService_CompleteFormalitiesRequiresDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sl := f.create(t)

	_, err := f.svc.AssignNotary(ctx, agency, sl.ID, notary.ID)
	require.NoError(t, err)

	_, err = f.svc.StartNotaryProcessing(ctx, notary, sl.ID)
	require.NoError(t, err)

	_, err = f.svc.CompleteFormalities(ctx, notary, sl.ID)
	require.ErrorIs(t, err, apperr.ErrPrecondition)
	assert.Contains(t, err.Error(), string(sale.DocSaleDeed))

	_, err = f.svc.AddDocument(ctx, notary, sl.ID, sale.DocumentParams{Name: "x", Kind: "receipt", StorageRef: "ref"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestService_NotaryMustBeAssigned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sl := f.create(t)

	_, err := f.svc.AssignNotary(ctx, agency, sl.ID, notary.ID)
	require.NoError(t, err)

	other := actor.Actor{ID: uuid.New(), Role: actor.RoleNotary}

	_, err = f.svc.StartNotaryProcessing(ctx, other, sl.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.AssignNotary(ctx, commercial, sl.ID, other.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestService_Cancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sl := f.awaitingSignatures(t)

	_, err := f.svc.RequestSignature(ctx, client, sl.ID, actor.RoleClient)
	require.NoError(t, err)

	assert.False(t, f.units.Available(sl.UnitID))

	got, err := f.svc.Cancel(ctx, agency, sl.ID, "buyer withdrew")
	require.NoError(t, err)
	assert.Equal(t, sale.StatusCancelled, got.Status)
	assert.True(t, got.Signatures.Signed(actor.RoleClient))
	assert.Contains(t, got.History[len(got.History)-1].Description, "buyer withdrew")
	assert.True(t, f.units.Available(sl.UnitID))

	_, err = f.svc.Cancel(ctx, agency, sl.ID, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.svc.AddDocument(ctx, agency, sl.ID, sale.DocumentParams{Name: "late", Kind: sale.DocOther, StorageRef: "ref"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestService_CancelClosesSchedule(t *testing.T) {
	type testCase struct {
		name      string
		closeErr  error
		wantCode  apperr.Code
		wantState sale.Status
	}

	tests := []testCase{
		{
			name:      "ScheduleClosed",
			wantState: sale.StatusCancelled,
		},
		{
			name:      "PaidScheduleBlocks",
			closeErr:  apperr.New(apperr.CodePrecondition, "refund the schedule instead"),
			wantCode:  apperr.CodePrecondition,
			wantState: sale.StatusAwaitingNotary,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			closer := sale.NewMockScheduleCloser(ctrl)
			f := newFixture(t, sale.WithScheduleCloser(closer))
			sl := f.create(t)

			closer.EXPECT().
				CloseForCancel(gomock.Any(), gomock.Any(), gomock.Any(), clock).
				DoAndReturn(func(_ context.Context, _ sale.Tx, got *sale.Sale, _ time.Time) error {
					assert.Equal(t, sl.ID, got.ID)
					return tt.closeErr
				})

			_, err := f.svc.Cancel(ctx, agency, sl.ID, "")

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, apperr.CodeOf(err))
				assert.False(t, f.units.Available(sl.UnitID))
			} else {
				require.NoError(t, err)
				assert.True(t, f.units.Available(sl.UnitID))
			}

			got, err := f.svc.Get(ctx, sl.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, got.Status)
		})
	}
}

func TestService_ConcurrentSignatures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sl := f.awaitingSignatures(t)

	const callers = 8

	var wg sync.WaitGroup

	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = f.svc.RequestSignature(ctx, client, sl.ID, actor.RoleClient)
		}()
	}

	wg.Wait()

	var ok int

	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}

		assert.ErrorIs(t, err, apperr.ErrAlreadySigned)
	}

	assert.Equal(t, 1, ok)

	got, err := f.svc.Get(ctx, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, sl.Version+1, got.Version)

	var added int

	for _, h := range got.History {
		if h.Action == sale.ActionSignatureAdded {
			added++
		}
	}

	assert.Equal(t, 1, added)
}

func TestService_VersionConflict(t *testing.T) {
	f := newFixture(t)
	sl := f.create(t)

	ctx := aggregate.WithExpectedVersion(context.Background(), sl.Version+5)

	_, err := f.svc.AssignNotary(ctx, agency, sl.ID, notary.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	ctx = aggregate.WithExpectedVersion(context.Background(), sl.Version)

	got, err := f.svc.AssignNotary(ctx, agency, sl.ID, notary.ID)
	require.NoError(t, err)
	assert.Equal(t, sl.Version+1, got.Version)
}

func TestService_CreateOnReservedUnit(t *testing.T) {
	f := newFixture(t)
	sl := f.create(t)

	_, err := f.svc.Create(context.Background(), commercial, sale.CreateParams{
		UnitID:    sl.UnitID,
		ClientID:  uuid.New(),
		AgencyID:  agency.ID,
		SalePrice: 10_000,
	})
	assert.ErrorIs(t, err, apperr.ErrPrecondition)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to sale.Status
		want     bool
	}{
		{sale.StatusAwaitingNotary, sale.StatusInNotaryProcessing, true},
		{sale.StatusAwaitingNotary, sale.StatusSigned, false},
		{sale.StatusAwaitingSignatures, sale.StatusSigned, true},
		{sale.StatusSigned, sale.StatusFinalized, true},
		{sale.StatusSigned, sale.StatusCancelled, true},
		{sale.StatusFinalized, sale.StatusCancelled, false},
		{sale.StatusCancelled, sale.StatusAwaitingNotary, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, sale.CanTransition(tt.from, tt.to))
		})
	}
}
