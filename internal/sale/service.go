package sale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/immotrack/internal/actor"
	"github.com/MrJamesThe3rd/immotrack/internal/aggregate"
	"github.com/MrJamesThe3rd/immotrack/internal/apperr"
	"github.com/MrJamesThe3rd/immotrack/internal/funds"
	"github.com/MrJamesThe3rd/immotrack/internal/money"
	"github.com/MrJamesThe3rd/immotrack/internal/registry"
)

//go:generate mockgen -source=service.go -destination=repository_mock.go -package=sale
type Repository interface {
	CreateSale(ctx context.Context, s *Sale) error
	GetSale(ctx context.Context, id uuid.UUID) (*Sale, error)
	ListSales(ctx context.Context, filter ListFilter) ([]*Sale, error)

	// Begin opens a write transaction holding the aggregate lock for the sale.
	Begin(ctx context.Context, saleID uuid.UUID) (Tx, error)
}

type Tx interface {
	GetSale(ctx context.Context, id uuid.UUID) (*Sale, error)
	UpdateSale(ctx context.Context, s *Sale) error
	AppendHistory(ctx context.Context, saleID uuid.UUID, entry HistoryEntry) error
	AddDocument(ctx context.Context, saleID uuid.UUID, doc Document) error
	Commit() error
	Rollback() error
}

// UnitRegistry flips the availability flag of property units.
type UnitRegistry interface {
	Reserve(ctx context.Context, unitID uuid.UUID) error
	Release(ctx context.Context, unitID uuid.UUID) error
}

// Funds moves money between parties.
type Funds interface {
	Transfer(ctx context.Context, req funds.TransferRequest) (*funds.Receipt, error)
	Reverse(ctx context.Context, receiptID string) error
}

// ScheduleCloser settles the installment schedule of a sale being cancelled,
// inside the sale's transaction.
type ScheduleCloser interface {
	CloseForCancel(ctx context.Context, tx Tx, sl *Sale, now time.Time) error
}

type Service struct {
	repo         Repository
	units        UnitRegistry
	funds        Funds
	schedules    ScheduleCloser
	now          func() time.Time
	requiredDocs []DocumentKind
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRequiredDocuments sets the document kinds that must be attached before
// formalities can be marked complete.
func WithRequiredDocuments(kinds ...DocumentKind) Option {
	return func(s *Service) { s.requiredDocs = kinds }
}

// WithScheduleCloser makes Cancel close the sale's installment schedule in
// the same commit.
func WithScheduleCloser(c ScheduleCloser) Option {
	return func(s *Service) { s.schedules = c }
}

func NewService(repo Repository, units UnitRegistry, fundsSvc Funds, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		units:        units,
		funds:        fundsSvc,
		now:          time.Now,
		requiredDocs: []DocumentKind{DocSaleDeed},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

type CreateParams struct {
	UnitID    uuid.UUID
	ClientID  uuid.UUID
	AgencyID  uuid.UUID
	SalePrice int64
}

type ListFilter struct {
	Status   *Status
	AgencyID *uuid.UUID
	ClientID *uuid.UUID
}

// Create initiates a sale on an available unit. The unit is reserved first and
// released again if the sale cannot be persisted.
func (s *Service) Create(ctx context.Context, a actor.Actor, params CreateParams) (*Sale, error) {
	if !a.Is(actor.RoleCommercial) {
		return nil, forbidden(a, "initiate a sale")
	}

	if params.SalePrice <= 0 {
		return nil, apperr.New(apperr.CodeValidation, "sale price must be positive, got %d", params.SalePrice)
	}

	if params.UnitID == uuid.Nil || params.ClientID == uuid.Nil || params.AgencyID == uuid.Nil {
		return nil, apperr.New(apperr.CodeValidation, "unit, client and agency are required")
	}

	if err := s.units.Reserve(ctx, params.UnitID); err != nil {
		if errors.Is(err, registry.ErrUnavailable) {
			return nil, apperr.New(apperr.CodePrecondition, "unit %s is not available", params.UnitID)
		}

		return nil, apperr.Wrap(apperr.CodeUpstream, err, "reserving unit %s", params.UnitID)
	}

	now := s.now()
	sl := &Sale{
		ID:           uuid.New(),
		UnitID:       params.UnitID,
		ClientID:     params.ClientID,
		CommercialID: a.ID,
		AgencyID:     params.AgencyID,
		SalePrice:    params.SalePrice,
		Status:       StatusAwaitingNotary,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	sl.History = []HistoryEntry{
		NewHistoryEntry(a, now, ActionCreated,
			fmt.Sprintf("sale initiated for unit %s at %s", params.UnitID, money.Format(params.SalePrice))),
	}

	if err := s.repo.CreateSale(ctx, sl); err != nil {
		if relErr := s.units.Release(ctx, params.UnitID); relErr != nil {
			slog.Error("failed to release unit after create failure", "unit_id", params.UnitID, "error", relErr)
		}

		return nil, fmt.Errorf("creating sale: %w", err)
	}

	slog.Info("sale created", "sale_id", sl.ID, "unit_id", sl.UnitID, "actor_id", a.ID)

	return sl, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Sale, error) {
	return s.repo.GetSale(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Sale, error) {
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) AssignNotary(ctx context.Context, a actor.Actor, id, notaryID uuid.UUID) (*Sale, error) {
	return s.mutate(ctx, a, id, "assign notary", func(ctx context.Context, _ Tx, sl *Sale, now time.Time, _ *aggregate.Undo) (HistoryEntry, error) {
		if !a.Is(actor.RoleAgency, actor.RoleAdmin) {
			return HistoryEntry{}, forbidden(a, "assign a notary")
		}

		if notaryID == uuid.Nil {
			return HistoryEntry{}, apperr.New(apperr.CodeValidation, "notary id is required")
		}

		if sl.Status != StatusAwaitingNotary {
			return HistoryEntry{}, apperr.New(apperr.CodeInvalidState,
				"notary can only be assigned while %s, sale is %s", StatusAwaitingNotary, sl.Status)
		}

		sl.NotaryID = &notaryID

		return NewHistoryEntry(a, now, ActionNotaryAssigned, fmt.Sprintf("notary %s assigned", notaryID)), nil
	})
}

func (s *Service) StartNotaryProcessing(ctx context.Context, a actor.Actor, id uuid.UUID) (*Sale, error) {
	return s.mutate(ctx, a, id, "start notary processing", func(ctx context.Context, _ Tx, sl *Sale, now time.Time, _ *aggregate.Undo) (HistoryEntry, error) {
		if err := authorizeNotaryStage(a, sl); err != nil {
			return HistoryEntry{}, err
		}

		if err := transition(sl, StatusAwaitingNotary, StatusInNotaryProcessing); err != nil {
			return HistoryEntry{}, err
		}

		if sl.NotaryID == nil {
			return HistoryEntry{}, apperr.New(apperr.CodePrecondition, "no notary assigned to sale %s", sl.ID)
		}

		sl.Status = StatusInNotaryProcessing

		return NewHistoryEntry(a, now, ActionNotaryProcessingStarted, "notary processing started"), nil
	})
}

type DocumentParams struct {
	Name       string
	Kind       DocumentKind
	StorageRef string
}

func (s *Service) AddDocument(ctx context.Context, a actor.Actor, id uuid.UUID, params DocumentParams) (*Sale, error) {
	return s.mutate(ctx, a, id, "add document", func(ctx context.Context, tx Tx, sl *Sale, now time.Time, _ *aggregate.Undo) (HistoryEntry, error) {
		if err := authorizeNotaryStage(a, sl); err != nil {
			return HistoryEntry{}, err
		}

		if sl.Status.Terminal() {
			return HistoryEntry{}, apperr.New(apperr.CodeInvalidState, "sale %s is %s", sl.ID, sl.Status)
		}

		if !params.Kind.Valid() {
			return HistoryEntry{}, apperr.New(apperr.CodeValidation, "unknown document kind %q", params.Kind)
		}

		if strings.TrimSpace(params.Name) == "" || strings.TrimSpace(params.StorageRef) == "" {
			return HistoryEntry{}, apperr.New(apperr.CodeValidation, "document name and storage reference are required")
		}

		doc := Document{
			Name:       params.Name,
			Kind:       params.Kind,
			StorageRef: params.StorageRef,
			UploadedAt: now,
		}
		if err := tx.AddDocument(ctx, sl.ID, doc); err != nil {
			return HistoryEntry{}, fmt.Errorf("adding document: %w", err)
		}

		sl.Documents = append(sl.Documents, doc)

		return NewHistoryEntry(a, now, ActionDocumentAdded,
			fmt.Sprintf("document %q (%s) added", params.Name, params.Kind)), nil
	})
}

func (s *Service) CompleteFormalities(ctx context.Context, a actor.Actor, id uuid.UUID) (*Sale, error) {
	return s.mutate(ctx, a, id, "complete formalities", func(ctx context.Context, _ Tx, sl *Sale, now time.Time, _ *aggregate.Undo) (HistoryEntry, error) {
		if err := authorizeNotaryStage(a, sl); err != nil {
			return HistoryEntry{}, err
		}

		if err := transition(sl, StatusInNotaryProcessing, StatusFormalitiesComplete); err != nil {
			return HistoryEntry{}, err
		}

		var missing []string

		for _, kind := range s.requiredDocs {
			if !sl.HasDocument(kind) {
				missing = append(missing, string(kind))
			}
		}

		if len(missing) > 0 {
			return HistoryEntry{}, apperr.New(apperr.CodePrecondition,
				"missing notarial documents: %s", strings.Join(missing, ", "))
		}

		sl.Status = StatusFormalitiesComplete

		return NewHistoryEntry(a, now, ActionFormalitiesCompleted, "notarial formalities complete"), nil
	})
}

func (s *Service) OpenSignatures(ctx context.Context, a actor.Actor, id uuid.UUID) (*Sale, error) {
	return s.mutate(ctx, a, id, "open signatures", func(ctx context.Context, _ Tx, sl *Sale, now time.Time, _ *aggregate.Undo) (HistoryEntry, error) {
		if err := authorizeNotaryStage(a, sl); err != nil {
			return HistoryEntry{}, err
		}

		if err := transition(sl, StatusFormalitiesComplete, StatusAwaitingSignatures); err != nil {
			return HistoryEntry{}, err
		}

		sl.Status = StatusAwaitingSignatures

		return NewHistoryEntry(a, now, ActionSignaturesOpened, "signature round opened"), nil
	})
}

// RequestSignature records the signature of one party. The last of the three
// signatures moves the sale to Signed within the same operation.
func (s *Service) RequestSignature(ctx context.Context, a actor.Actor, id uuid.UUID, party actor.Role) (*Sale, error) {
	return s.mutate(ctx, a, id, "request signature", func(ctx context.Context, _ Tx, sl *Sale, now time.Time, _ *aggregate.Undo) (HistoryEntry, error) {
		if !isSigningParty(party) {
			return HistoryEntry{}, apperr.New(apperr.CodeValidation, "%q is not a signing party", party)
		}

		if a.Role != party {
			return HistoryEntry{}, forbidden(a, "sign as "+string(party))
		}

		if sl.Status != StatusAwaitingSignatures {
			return HistoryEntry{}, apperr.New(apperr.CodeInvalidState,
				"signatures are only collected while %s, sale is %s", StatusAwaitingSignatures, sl.Status)
		}

		if sl.Signatures.Signed(party) {
			return HistoryEntry{}, apperr.New(apperr.CodeAlreadySigned, "%s has already signed sale %s", party, sl.ID)
		}

		sl.Signatures.sign(party, now)

		if !sl.Signatures.Complete() {
			return NewHistoryEntry(a, now, ActionSignatureAdded, fmt.Sprintf("%s signed", party)), nil
		}

		sl.Status = StatusSigned

		return NewHistoryEntry(a, now, ActionSigned,
			fmt.Sprintf("%s signed, all signatures collected", party)), nil
	})
}

// Finalize releases the sale price to the agency. It is allowed exactly once.
func (s *Service) Finalize(ctx context.Context, a actor.Actor, id uuid.UUID) (*Sale, error) {
	return s.mutate(ctx, a, id, "finalize", func(ctx context.Context, _ Tx, sl *Sale, now time.Time, undo *aggregate.Undo) (HistoryEntry, error) {
		if !a.Is(actor.RoleAgency, actor.RoleAdmin) {
			return HistoryEntry{}, forbidden(a, "finalize a sale")
		}

		if sl.Status != StatusSigned {
			return HistoryEntry{}, apperr.New(apperr.CodePrecondition,
				"sale must be %s to finalize, it is %s", StatusSigned, sl.Status)
		}

		if sl.FundsTransferred {
			return HistoryEntry{}, apperr.New(apperr.CodePrecondition, "funds already transferred for sale %s", sl.ID)
		}

		receipt, err := s.funds.Transfer(ctx, funds.TransferRequest{
			Kind:      funds.KindRelease,
			PartyID:   sl.AgencyID,
			Amount:    sl.SalePrice,
			Reference: "finalize:" + sl.ID.String(),
		})
		if err != nil {
			return HistoryEntry{}, apperr.Wrap(apperr.CodeUpstream, err, "releasing funds to agency")
		}

		undo.Add("reverse release "+receipt.ID, func(ctx context.Context) error {
			return s.funds.Reverse(ctx, receipt.ID)
		})

		sl.FundsTransferred = true
		sl.Status = StatusFinalized

		return NewHistoryEntry(a, now, ActionFinalized,
			fmt.Sprintf("%s released to agency %s (transfer %s)", money.Format(sl.SalePrice), sl.AgencyID, receipt.ID)), nil
	})
}

// Cancel aborts a non-terminal sale and returns the unit to the market. A
// sale whose schedule holds client money is refunded through the ledger, not
// cancelled here.
func (s *Service) Cancel(ctx context.Context, a actor.Actor, id uuid.UUID, reason string) (*Sale, error) {
	return s.mutate(ctx, a, id, "cancel", func(ctx context.Context, tx Tx, sl *Sale, now time.Time, undo *aggregate.Undo) (HistoryEntry, error) {
		if !a.Is(actor.RoleAgency, actor.RoleAdmin, actor.RoleCommercial) {
			return HistoryEntry{}, forbidden(a, "cancel a sale")
		}

		if err := transition(sl, sl.Status, StatusCancelled); err != nil {
			return HistoryEntry{}, err
		}

		if s.schedules != nil {
			if err := s.schedules.CloseForCancel(ctx, tx, sl, now); err != nil {
				return HistoryEntry{}, err
			}
		}

		if err := s.units.Release(ctx, sl.UnitID); err != nil {
			return HistoryEntry{}, apperr.Wrap(apperr.CodeUpstream, err, "releasing unit %s", sl.UnitID)
		}

		undo.Add("re-reserve unit "+sl.UnitID.String(), func(ctx context.Context) error {
			return s.units.Reserve(ctx, sl.UnitID)
		})

		sl.Status = StatusCancelled

		desc := "sale cancelled"
		if reason = strings.TrimSpace(reason); reason != "" {
			desc += ": " + reason
		}

		return NewHistoryEntry(a, now, ActionCancelled, desc), nil
	})
}

type mutation func(ctx context.Context, tx Tx, sl *Sale, now time.Time, undo *aggregate.Undo) (HistoryEntry, error)

// mutate runs fn under the aggregate lock, then persists the sale and the
// single history entry fn produced. Confirmed external side effects are
// compensated when persisting fails.
func (s *Service) mutate(ctx context.Context, a actor.Actor, id uuid.UUID, op string, fn mutation) (*Sale, error) {
	tx, err := s.repo.Begin(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("begin %s: %w", op, err)
	}
	defer tx.Rollback()

	sl, err := tx.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := aggregate.CheckVersion(ctx, sl.Version); err != nil {
		return nil, err
	}

	var (
		undo aggregate.Undo
		now  = s.now()
	)

	entry, err := fn(ctx, tx, sl, now, &undo)
	if err != nil {
		slog.Warn("sale operation rejected",
			"op", op, "sale_id", id, "actor_id", a.ID, "code", apperr.CodeOf(err), "error", err)

		return nil, err
	}

	sl.Version++
	sl.UpdatedAt = now
	sl.History = append(sl.History, entry)

	if err := s.persist(ctx, tx, sl, entry); err != nil {
		undo.Run(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	slog.Info("sale updated", "op", op, "sale_id", id, "status", sl.Status, "actor_id", a.ID)

	return sl, nil
}

func (s *Service) persist(ctx context.Context, tx Tx, sl *Sale, entry HistoryEntry) error {
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

// transition validates that sl is in from and that from -> to is allowed.
func transition(sl *Sale, from, to Status) error {
	if sl.Status.Terminal() || sl.Status != from || !CanTransition(from, to) {
		return apperr.New(apperr.CodeInvalidTransition,
			"cannot move sale %s from %s to %s", sl.ID, sl.Status, to)
	}

	return nil
}

// authorizeNotaryStage allows the assigned notary, the agency and admins to
// drive the notarial stages.
func authorizeNotaryStage(a actor.Actor, sl *Sale) error {
	switch a.Role {
	case actor.RoleAgency, actor.RoleAdmin:
		return nil
	case actor.RoleNotary:
		if sl.NotaryID != nil && *sl.NotaryID == a.ID {
			return nil
		}

		return apperr.New(apperr.CodeForbidden, "notary %s is not assigned to sale %s", a.ID, sl.ID)
	}

	return forbidden(a, "drive notarial stages")
}

func isSigningParty(r actor.Role) bool {
	for _, p := range SigningParties {
		if p == r {
			return true
		}
	}

	return false
}

func forbidden(a actor.Actor, what string) error {
	return apperr.New(apperr.CodeForbidden, "role %s may not %s", a.Role, what)
}
