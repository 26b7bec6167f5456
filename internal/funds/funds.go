package funds

import (
	"time"

	"github.com/google/uuid"
)

// Kind tells the funds service which way money moves.
type Kind string

const (
	// KindRelease credits the agency with the sale price held in escrow.
	KindRelease Kind = "release"
	// KindRefund returns collected installments to the buyer.
	KindRefund Kind = "refund"
)

// TransferRequest is keyed by Reference, which the funds service treats as an
// idempotency key: replaying the same reference never moves money twice.
type TransferRequest struct {
	Kind      Kind
	PartyID   uuid.UUID
	Amount    int64
	Reference string
}

// Receipt confirms a transfer.
type Receipt struct {
	ID        string
	Kind      Kind
	PartyID   uuid.UUID
	Amount    int64
	Reference string
	Reversed  bool
	CreatedAt time.Time
}
