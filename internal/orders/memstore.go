package orders

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// MemoryStore keeps the ledger and orders in process memory. Transactions are serialized by
// a single-writer lock and rolled back by replaying an undo log.
type MemoryStore struct {
	lock     chan struct{}
	products map[string]*Product
	orders   map[string]*Order
	guests   map[string]*GuestOrder
	seq      []string // order ids, insertion order
}

func NewMemoryStore(products ...Product) *MemoryStore {
	s := &MemoryStore{
		lock:     make(chan struct{}, 1),
		products: map[string]*Product{},
		orders:   map[string]*Order{},
		guests:   map[string]*GuestOrder{},
	}
	for _, p := range products {
		s.products[p.ID] = &p
	}
	return s
}

func (s *MemoryStore) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ErrRetryable, ctx.Err().Error())
	}
}

func (s *MemoryStore) release() { <-s.lock }

// UpsertProducts loads catalog fixtures; it is not part of the order path.
func (s *MemoryStore) UpsertProducts(ctx context.Context, products []Product) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	for _, p := range products {
		s.products[p.ID] = &p
	}
	return nil
}

// Product returns a copy of the ledger row.
func (s *MemoryStore) Product(ctx context.Context, id string) (Product, bool) {
	if err := s.acquire(ctx); err != nil {
		return Product{}, false
	}
	defer s.release()
	p, ok := s.products[id]
	if !ok {
		return Product{}, false
	}
	return *p, true
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	tx := &memTx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	// A request abandoned before commit must leave no trace.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(ErrRetryable, ctxErr.Error())
	}
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	o, ok := s.orders[id]
	if !ok {
		return nil, &NotFoundError{Entity: "order", ID: id}
	}
	return o.Clone(), nil
}

func (s *MemoryStore) ListOrders(ctx context.Context, f ListFilter) ([]Order, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	out := make([]Order, 0)
	for i := len(s.seq) - 1; i >= 0; i-- { // newest first
		o := s.orders[s.seq[i]]
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, *o.Clone())
	}
	return out, nil
}

func (s *MemoryStore) InsertGuestOrder(ctx context.Context, g *GuestOrder) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	c := *g
	c.Items = append([]GuestItem(nil), g.Items...)
	s.guests[g.ID] = &c
	return nil
}

// GuestOrders returns guest orders oldest first.
func (s *MemoryStore) GuestOrders(ctx context.Context) []GuestOrder {
	if err := s.acquire(ctx); err != nil {
		return nil
	}
	defer s.release()
	out := make([]GuestOrder, 0, len(s.guests))
	for _, g := range s.guests {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) FindProducts(_ context.Context, ids []string) ([]Product, error) {
	out := make([]Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := t.s.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (t *memTx) DecrementStock(_ context.Context, productID string, qty int) (bool, error) {
	p, ok := t.s.products[productID]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	t.undo = append(t.undo, func() { p.Stock += qty })
	return true, nil
}

func (t *memTx) RestockProduct(_ context.Context, productID string, qty int) error {
	p, ok := t.s.products[productID]
	if !ok {
		return &NotFoundError{Entity: "product", ID: productID}
	}
	p.Stock += qty
	t.undo = append(t.undo, func() { p.Stock -= qty })
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o *Order) error {
	if _, dup := t.s.orders[o.ID]; dup {
		return errors.Errorf("order %s already exists", o.ID)
	}
	t.s.orders[o.ID] = o.Clone()
	t.s.seq = append(t.s.seq, o.ID)
	t.undo = append(t.undo, func() {
		delete(t.s.orders, o.ID)
		t.s.seq = t.s.seq[:len(t.s.seq)-1]
	})
	return nil
}

func (t *memTx) OrderForUpdate(_ context.Context, id string) (*Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, &NotFoundError{Entity: "order", ID: id}
	}
	return o.Clone(), nil
}

func (t *memTx) SetStatus(_ context.Context, id string, to Status, at time.Time) error {
	o, ok := t.s.orders[id]
	if !ok {
		return &NotFoundError{Entity: "order", ID: id}
	}
	prevStatus, prevAt := o.Status, o.UpdatedAt
	o.Status, o.UpdatedAt = to, at
	t.undo = append(t.undo, func() { o.Status, o.UpdatedAt = prevStatus, prevAt })
	return nil
}

func (t *memTx) SaveDelivery(_ context.Context, d *DeliveryInfo) error {
	o, ok := t.s.orders[d.OrderID]
	if !ok {
		return &NotFoundError{Entity: "order", ID: d.OrderID}
	}
	prev := o.Delivery
	c := *d
	if d.EstimatedDelivery != nil {
		ts := *d.EstimatedDelivery
		c.EstimatedDelivery = &ts
	}
	o.Delivery = &c
	t.undo = append(t.undo, func() { o.Delivery = prev })
	return nil
}
