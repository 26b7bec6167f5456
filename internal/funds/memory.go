package funds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process funds service used in development mode and tests.
// Transfers are idempotent by reference until reversed.
type Memory struct {
	mu       sync.Mutex
	receipts []*Receipt
	byRef    map[string]*Receipt
}

func NewMemory() *Memory {
	return &Memory{byRef: make(map[string]*Receipt)}
}

func (m *Memory) Transfer(_ context.Context, req TransferRequest) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.byRef[req.Reference]; ok && !r.Reversed {
		cp := *r
		return &cp, nil
	}

	r := &Receipt{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		PartyID:   req.PartyID,
		Amount:    req.Amount,
		Reference: req.Reference,
		CreatedAt: time.Now(),
	}
	m.receipts = append(m.receipts, r)
	m.byRef[req.Reference] = r

	cp := *r

	return &cp, nil
}

func (m *Memory) Reverse(_ context.Context, receiptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.receipts {
		if r.ID == receiptID {
			r.Reversed = true
			return nil
		}
	}

	return fmt.Errorf("transfer %s not found", receiptID)
}

// Receipts returns the transfers that were not reversed, oldest first.
func (m *Memory) Receipts() []Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Receipt

	for _, r := range m.receipts {
		if r.Reversed {
			continue
		}

		out = append(out, *r)
	}

	return out
}
