// Package memory keeps every repository in process memory. It backs local runs with
// STORAGE=memory and the scenario tests.
package memory

import (
	"context"
	"sync"

	"rentloop-be/internal/invoice"
	"rentloop-be/internal/order"
	"rentloop-be/internal/payment"
	"rentloop-be/internal/product"
	"rentloop-be/internal/quotation"
	"rentloop-be/internal/reservation"
)

type txKey struct{}

// Store serializes transactions behind one mutex. A transaction works on the live
// state and the state is restored from a snapshot when it fails.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type callback struct {
	id        int64
	cb        payment.Callback
	valid     bool
	outcome   payment.Outcome
	processed bool
}

type state struct {
	products   map[string]*product.Product
	holds      map[string]reservation.Hold
	quotations map[string]*quotation.Quotation
	orders     map[string]*order.Order
	invoices   map[string]*invoice.Invoice
	payments   map[string]*payment.Payment
	callbacks  []callback
	callbackID int64
}

func New() *Store {
	return &Store{state: &state{
		products:   map[string]*product.Product{},
		holds:      map[string]reservation.Hold{},
		quotations: map[string]*quotation.Quotation{},
		orders:     map[string]*order.Order{},
		invoices:   map[string]*invoice.Invoice{},
		payments:   map[string]*payment.Payment{},
	}}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	if inTx(ctx) {
		return fn(s.state)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

// write runs a single-statement change outside a transaction. Statements validate
// before they mutate, so a failed one leaves nothing behind.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if inTx(ctx) {
		return fn(s.state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

func (s *Store) Products() product.Repository     { return &productRepo{s} }
func (s *Store) Holds() reservation.Repository    { return &holdRepo{s} }
func (s *Store) Quotations() quotation.Repository { return &quotationRepo{s} }
func (s *Store) Orders() order.Repository         { return &orderRepo{s} }
func (s *Store) Invoices() invoice.Repository     { return &invoiceRepo{s} }
func (s *Store) Payments() payment.Repository     { return &paymentRepo{s} }

// PutProduct adds or replaces a catalog product.
func (s *Store) PutProduct(p *product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = cloneProduct(p)
}

func (st *state) clone() *state {
	c := &state{
		products:   make(map[string]*product.Product, len(st.products)),
		holds:      make(map[string]reservation.Hold, len(st.holds)),
		quotations: make(map[string]*quotation.Quotation, len(st.quotations)),
		orders:     make(map[string]*order.Order, len(st.orders)),
		invoices:   make(map[string]*invoice.Invoice, len(st.invoices)),
		payments:   make(map[string]*payment.Payment, len(st.payments)),
		callbacks:  append([]callback(nil), st.callbacks...),
		callbackID: st.callbackID,
	}
	for k, v := range st.products {
		c.products[k] = cloneProduct(v)
	}
	for k, v := range st.holds {
		c.holds[k] = v
	}
	for k, v := range st.quotations {
		c.quotations[k] = cloneQuotation(v)
	}
	for k, v := range st.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range st.invoices {
		c.invoices[k] = cloneInvoice(v)
	}
	for k, v := range st.payments {
		c.payments[k] = clonePayment(v)
	}
	return c
}

func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset = max(offset, 0)
	if offset >= len(items) {
		return nil
	}
	return items[offset:min(offset+limit, len(items))]
}
