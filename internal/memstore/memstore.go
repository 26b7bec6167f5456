// Package memstore keeps sales and schedules in process memory. It backs the
// memory database driver and the service scenario tests, and follows the same
// locking and versioning rules as the Postgres stores.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/immotrack/internal/apperr"
	"github.com/MrJamesThe3rd/immotrack/internal/ledger"
	"github.com/MrJamesThe3rd/immotrack/internal/sale"
)

type Store struct {
	mu        sync.RWMutex
	sales     map[uuid.UUID]*sale.Sale
	schedules map[uuid.UUID]*ledger.Schedule
	payments  map[uuid.UUID][]*ledger.Payment

	locksMu sync.Mutex
	locks   map[uuid.UUID]chan struct{}
}

func New() *Store {
	return &Store{
		sales:     make(map[uuid.UUID]*sale.Sale),
		schedules: make(map[uuid.UUID]*ledger.Schedule),
		payments:  make(map[uuid.UUID][]*ledger.Payment),
		locks:     make(map[uuid.UUID]chan struct{}),
	}
}

// Sales returns the store as a sale.Repository.
func (s *Store) Sales() *SaleRepository {
	return &SaleRepository{store: s}
}

// Ledger returns the store as a ledger.Repository.
func (s *Store) Ledger() *LedgerRepository {
	return &LedgerRepository{store: s}
}

type SaleRepository struct {
	store *Store
}

func (r *SaleRepository) CreateSale(_ context.Context, sl *sale.Sale) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.sales[sl.ID]; ok {
		return apperr.New(apperr.CodeConflict, "sale %s already exists", sl.ID)
	}

	r.store.sales[sl.ID] = cloneSale(sl)

	return nil
}

func (r *SaleRepository) GetSale(_ context.Context, id uuid.UUID) (*sale.Sale, error) {
	return r.store.getSale(id)
}

func (r *SaleRepository) ListSales(_ context.Context, filter sale.ListFilter) ([]*sale.Sale, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*sale.Sale

	for _, sl := range r.store.sales {
		if filter.Status != nil && sl.Status != *filter.Status {
			continue
		}

		if filter.AgencyID != nil && sl.AgencyID != *filter.AgencyID {
			continue
		}

		if filter.ClientID != nil && sl.ClientID != *filter.ClientID {
			continue
		}

		out = append(out, cloneSale(sl))
	}

	slices.SortFunc(out, func(a, b *sale.Sale) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return out, nil
}

func (r *SaleRepository) Begin(ctx context.Context, saleID uuid.UUID) (sale.Tx, error) {
	return r.store.begin(ctx, saleID)
}

type LedgerRepository struct {
	store *Store
}

func (r *LedgerRepository) GetSchedule(_ context.Context, id uuid.UUID) (*ledger.Schedule, error) {
	return r.store.getSchedule(id)
}

func (r *LedgerRepository) GetScheduleBySale(_ context.Context, saleID uuid.UUID) (*ledger.Schedule, error) {
	return r.store.getScheduleBySale(saleID)
}

func (r *LedgerRepository) ListSchedules(_ context.Context, filter ledger.ListFilter) ([]*ledger.Schedule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*ledger.Schedule

	for _, sched := range r.store.schedules {
		if filter.Status != nil && sched.Status != *filter.Status {
			continue
		}

		out = append(out, cloneSchedule(sched))
	}

	slices.SortFunc(out, func(a, b *ledger.Schedule) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return out, nil
}

func (r *LedgerRepository) Begin(ctx context.Context, saleID uuid.UUID) (ledger.Tx, error) {
	return r.store.begin(ctx, saleID)
}

// Within reuses a transaction opened through Sales().Begin.
func (r *LedgerRepository) Within(tx sale.Tx) (ledger.Tx, error) {
	t, ok := tx.(*Tx)
	if !ok || t.store != r.store {
		return nil, fmt.Errorf("unsupported sale transaction %T", tx)
	}

	return t, nil
}

// Payments returns every payment recorded on a schedule, voided ones included.
func (r *LedgerRepository) Payments(scheduleID uuid.UUID) []ledger.Payment {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]ledger.Payment, 0, len(r.store.payments[scheduleID]))
	for _, p := range r.store.payments[scheduleID] {
		out = append(out, clonePayment(p))
	}

	return out
}

func (s *Store) getSale(id uuid.UUID) (*sale.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, ok := s.sales[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "sale %s not found", id)
	}

	return cloneSale(sl), nil
}

func (s *Store) getSchedule(id uuid.UUID) (*ledger.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "schedule %s not found", id)
	}

	return cloneSchedule(sched), nil
}

func (s *Store) getScheduleBySale(saleID uuid.UUID) (*ledger.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sched := range s.schedules {
		if sched.SaleID == saleID {
			return cloneSchedule(sched), nil
		}
	}

	return nil, apperr.New(apperr.CodeNotFound, "no schedule for sale %s", saleID)
}

// lock takes the per-sale write lock, waiting until ctx is done.
func (s *Store) lock(ctx context.Context, saleID uuid.UUID) (func(), error) {
	s.locksMu.Lock()
	l, ok := s.locks[saleID]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[saleID] = l
	}
	s.locksMu.Unlock()

	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) begin(ctx context.Context, saleID uuid.UUID) (*Tx, error) {
	unlock, err := s.lock(ctx, saleID)
	if err != nil {
		return nil, err
	}

	return &Tx{store: s, unlock: unlock}, nil
}

// Tx stages writes and applies them atomically on Commit. It holds the sale
// lock until Commit or Rollback.
type Tx struct {
	store  *Store
	unlock func()
	ops    []func() error
	done   bool
}

func (t *Tx) GetSale(_ context.Context, id uuid.UUID) (*sale.Sale, error) {
	return t.store.getSale(id)
}

func (t *Tx) UpdateSale(_ context.Context, sl *sale.Sale) error {
	cp := cloneSale(sl)

	t.ops = append(t.ops, func() error {
		cur, ok := t.store.sales[cp.ID]
		if !ok {
			return apperr.New(apperr.CodeNotFound, "sale %s not found", cp.ID)
		}

		if cur.Version != cp.Version-1 {
			return apperr.New(apperr.CodeConflict, "sale %s changed concurrently", cp.ID)
		}

		cp.History = cur.History
		cp.Documents = cur.Documents
		t.store.sales[cp.ID] = cp

		return nil
	})

	return nil
}

func (t *Tx) AppendHistory(_ context.Context, saleID uuid.UUID, entry sale.HistoryEntry) error {
	t.ops = append(t.ops, func() error {
		cur, ok := t.store.sales[saleID]
		if !ok {
			return apperr.New(apperr.CodeNotFound, "sale %s not found", saleID)
		}

		cur.History = append(cur.History, entry)

		return nil
	})

	return nil
}

func (t *Tx) AddDocument(_ context.Context, saleID uuid.UUID, doc sale.Document) error {
	t.ops = append(t.ops, func() error {
		cur, ok := t.store.sales[saleID]
		if !ok {
			return apperr.New(apperr.CodeNotFound, "sale %s not found", saleID)
		}

		cur.Documents = append(cur.Documents, doc)

		return nil
	})

	return nil
}

func (t *Tx) GetSchedule(_ context.Context, id uuid.UUID) (*ledger.Schedule, error) {
	return t.store.getSchedule(id)
}

func (t *Tx) GetScheduleBySale(_ context.Context, saleID uuid.UUID) (*ledger.Schedule, error) {
	return t.store.getScheduleBySale(saleID)
}

func (t *Tx) CreateSchedule(_ context.Context, sched *ledger.Schedule) error {
	cp := cloneSchedule(sched)

	t.ops = append(t.ops, func() error {
		for _, other := range t.store.schedules {
			if other.SaleID == cp.SaleID {
				return apperr.New(apperr.CodeConflict, "sale %s already has a schedule", cp.SaleID)
			}
		}

		t.store.schedules[cp.ID] = cp

		return nil
	})

	return nil
}

func (t *Tx) UpdateSchedule(_ context.Context, sched *ledger.Schedule) error {
	cp := cloneSchedule(sched)

	t.ops = append(t.ops, func() error {
		cur, ok := t.store.schedules[cp.ID]
		if !ok {
			return apperr.New(apperr.CodeNotFound, "schedule %s not found", cp.ID)
		}

		if cur.Version != cp.Version-1 {
			return apperr.New(apperr.CodeConflict, "schedule %s changed concurrently", cp.ID)
		}

		t.store.schedules[cp.ID] = cp

		return nil
	})

	return nil
}

func (t *Tx) CreatePayment(_ context.Context, p *ledger.Payment) error {
	cp := clonePayment(p)

	t.ops = append(t.ops, func() error {
		t.store.payments[cp.ScheduleID] = append(t.store.payments[cp.ScheduleID], &cp)
		return nil
	})

	return nil
}

func (t *Tx) VoidPayments(_ context.Context, scheduleID uuid.UUID, at time.Time) (int, error) {
	t.store.mu.RLock()
	var n int
	for _, p := range t.store.payments[scheduleID] {
		if p.VoidedAt == nil {
			n++
		}
	}
	t.store.mu.RUnlock()

	t.ops = append(t.ops, func() error {
		for _, p := range t.store.payments[scheduleID] {
			if p.VoidedAt == nil {
				p.VoidedAt = &at
			}
		}

		return nil
	})

	return n, nil
}

// Commit applies the staged writes. If any write fails, the store is restored
// to the state it had before Commit.
func (t *Tx) Commit() error {
	if t.done {
		return apperr.New(apperr.CodeInternal, "transaction already closed")
	}

	defer t.close()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	snapshot := t.store.snapshot()

	for _, op := range t.ops {
		if err := op(); err != nil {
			t.store.restore(snapshot)
			return err
		}
	}

	return nil
}

func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}

	t.close()

	return nil
}

func (t *Tx) close() {
	t.done = true
	t.ops = nil
	t.unlock()
}

type snapshot struct {
	sales     map[uuid.UUID]*sale.Sale
	schedules map[uuid.UUID]*ledger.Schedule
	payments  map[uuid.UUID][]*ledger.Payment
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		sales:     make(map[uuid.UUID]*sale.Sale, len(s.sales)),
		schedules: make(map[uuid.UUID]*ledger.Schedule, len(s.schedules)),
		payments:  make(map[uuid.UUID][]*ledger.Payment, len(s.payments)),
	}

	for id, sl := range s.sales {
		snap.sales[id] = cloneSale(sl)
	}

	for id, sched := range s.schedules {
		snap.schedules[id] = cloneSchedule(sched)
	}

	for id, ps := range s.payments {
		for _, p := range ps {
			cp := clonePayment(p)
			snap.payments[id] = append(snap.payments[id], &cp)
		}
	}

	return snap
}

func (s *Store) restore(snap snapshot) {
	s.sales = snap.sales
	s.schedules = snap.schedules
	s.payments = snap.payments
}

func cloneSale(sl *sale.Sale) *sale.Sale {
	cp := *sl
	cp.Documents = slices.Clone(sl.Documents)
	cp.History = slices.Clone(sl.History)

	if sl.NotaryID != nil {
		id := *sl.NotaryID
		cp.NotaryID = &id
	}

	cp.Signatures = sale.Signatures{
		Commercial: cloneTime(sl.Signatures.Commercial),
		Client:     cloneTime(sl.Signatures.Client),
		Agency:     cloneTime(sl.Signatures.Agency),
	}

	return &cp
}

func cloneSchedule(sched *ledger.Schedule) *ledger.Schedule {
	cp := *sched
	cp.CancelledAt = cloneTime(sched.CancelledAt)
	cp.Installments = make([]ledger.Installment, len(sched.Installments))

	for i, inst := range sched.Installments {
		inst.ActualPaymentDate = cloneTime(inst.ActualPaymentDate)
		cp.Installments[i] = inst
	}

	return &cp
}

func clonePayment(p *ledger.Payment) ledger.Payment {
	cp := *p
	cp.VoidedAt = cloneTime(p.VoidedAt)

	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := *t

	return &v
}
