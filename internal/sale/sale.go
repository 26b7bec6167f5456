package sale

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/immotrack/internal/actor"
)

// Status represents the lifecycle state of a sale transaction.
type Status string

const (
	StatusAwaitingNotary      Status = "awaiting_notary"
	StatusInNotaryProcessing  Status = "in_notary_processing"
	StatusFormalitiesComplete Status = "formalities_complete"
	StatusAwaitingSignatures  Status = "awaiting_signatures"
	StatusSigned              Status = "signed"
	StatusFinalized           Status = "finalized"
	StatusCancelled           Status = "cancelled"
)

// Terminal states allow read access only.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusCancelled
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// transitions lists the allowed target states per source state.
var transitions = map[Status][]Status{
	StatusAwaitingNotary:      {StatusInNotaryProcessing, StatusCancelled},
	StatusInNotaryProcessing:  {StatusFormalitiesComplete, StatusCancelled},
	StatusFormalitiesComplete: {StatusAwaitingSignatures, StatusCancelled},
	StatusAwaitingSignatures:  {StatusSigned, StatusCancelled},
	StatusSigned:              {StatusFinalized, StatusCancelled},
	StatusFinalized:           {},
	StatusCancelled:           {},
}

// CanTransition checks if a status transition is allowed.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// AllowedTransitions returns the next statuses reachable from the given one.
func AllowedTransitions(from Status) []Status {
	return slices.Clone(transitions[from])
}

// Signatures holds the time each party signed; nil means not yet signed.
type Signatures struct {
	Commercial *time.Time
	Client     *time.Time
	Agency     *time.Time
}

// SigningParties are the roles whose signatures gate the Signed state.
var SigningParties = []actor.Role{actor.RoleCommercial, actor.RoleClient, actor.RoleAgency}

func (s *Signatures) slot(party actor.Role) **time.Time {
	switch party {
	case actor.RoleCommercial:
		return &s.Commercial
	case actor.RoleClient:
		return &s.Client
	case actor.RoleAgency:
		return &s.Agency
	}

	return nil
}

func (s Signatures) Signed(party actor.Role) bool {
	slot := s.slot(party)
	return slot != nil && *slot != nil
}

func (s Signatures) Complete() bool {
	return s.Commercial != nil && s.Client != nil && s.Agency != nil
}

func (s *Signatures) sign(party actor.Role, at time.Time) {
	if slot := s.slot(party); slot != nil {
		*slot = &at
	}
}

// DocumentKind is the closed set of notarial document types.
type DocumentKind string

const (
	DocSalePromise     DocumentKind = "sale_promise"
	DocSaleDeed        DocumentKind = "sale_deed"
	DocTitleDeed       DocumentKind = "title_deed"
	DocIdentity        DocumentKind = "identity"
	DocCadastralPlan   DocumentKind = "cadastral_plan"
	DocTaxCertificate  DocumentKind = "tax_certificate"
	DocMortgageRelease DocumentKind = "mortgage_release"
	DocOther           DocumentKind = "other"
)

func (k DocumentKind) Valid() bool {
	switch k {
	case DocSalePromise, DocSaleDeed, DocTitleDeed, DocIdentity,
		DocCadastralPlan, DocTaxCertificate, DocMortgageRelease, DocOther:
		return true
	}

	return false
}

// Document is a notarial document attached to a sale. StorageRef is opaque.
type Document struct {
	Name       string
	Kind       DocumentKind
	StorageRef string
	UploadedAt time.Time
}

// Action names a history entry.
type Action string

const (
	ActionCreated                 Action = "created"
	ActionNotaryAssigned          Action = "notary_assigned"
	ActionNotaryProcessingStarted Action = "notary_processing_started"
	ActionDocumentAdded           Action = "document_added"
	ActionFormalitiesCompleted    Action = "formalities_completed"
	ActionSignaturesOpened        Action = "signatures_opened"
	ActionSignatureAdded          Action = "signature_added"
	ActionSigned                  Action = "signed"
	ActionFinalized               Action = "finalized"
	ActionCancelled               Action = "cancelled"
	ActionRefunded                Action = "refunded"
)

// HistoryEntry is one immutable line of the audit trail.
type HistoryEntry struct {
	At          time.Time
	ActorID     uuid.UUID
	ActorRole   actor.Role
	Action      Action
	Description string
}

// NewHistoryEntry stamps an entry for the given actor.
func NewHistoryEntry(a actor.Actor, at time.Time, action Action, description string) HistoryEntry {
	return HistoryEntry{
		At:          at,
		ActorID:     a.ID,
		ActorRole:   a.Role,
		Action:      action,
		Description: description,
	}
}

// Sale is a property-sale transaction. It references, never owns, the unit,
// client, commercial agent, agency and notary.
type Sale struct {
	ID               uuid.UUID
	UnitID           uuid.UUID
	ClientID         uuid.UUID
	CommercialID     uuid.UUID
	AgencyID         uuid.UUID
	NotaryID         *uuid.UUID
	SalePrice        int64 // Amount in cents
	Status           Status
	Signatures       Signatures
	FundsTransferred bool
	Documents        []Document
	History          []HistoryEntry
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasDocument reports whether a document of the given kind is attached.
func (s *Sale) HasDocument(kind DocumentKind) bool {
	return slices.ContainsFunc(s.Documents, func(d Document) bool { return d.Kind == kind })
}
