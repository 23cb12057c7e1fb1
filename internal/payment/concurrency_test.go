package payment_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"rentloop-be/internal/clock"
	"rentloop-be/internal/invoice"
	"rentloop-be/internal/metrics"
	"rentloop-be/internal/order"
	"rentloop-be/internal/payment"
	"rentloop-be/internal/pricing"
	"rentloop-be/internal/product"
	"rentloop-be/internal/quotation"
	"rentloop-be/internal/reservation"
	"rentloop-be/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rentalStart = time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)

type stack struct {
	store    *memory.Store
	orders   order.Service
	payments payment.Service
	signer   *payment.Signer
	stats    *metrics.Payments
	invoice  *invoice.Invoice
}

// newStack confirms one order for a single camera day and returns its open invoice.
func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	store.PutProduct(&product.Product{
		ID:             "cam",
		VendorID:       "v1",
		Status:         product.StatusActive,
		QuantityOnHand: 1,
		Pricing:        pricing.RateCard{Rates: map[pricing.DurationType]int64{pricing.Daily: 10000}},
	})

	clk := clock.NewManual(rentalStart.Add(-24 * time.Hour))
	ledger := reservation.NewLedger(store.Holds(), store, clk)
	quotes := quotation.NewService(store.Quotations(), ledger, product.NewService(store.Products()), clk, 30*time.Minute)
	orders := order.NewService(store.Orders(), quotes, ledger, store.Invoices(), clk, order.Config{})
	signer := payment.NewSigner("whsec")
	stats := &metrics.Payments{}

	q, err := quotes.SyncCart(ctx, quotation.SyncInput{
		CustomerID: "c1",
		Lines: []quotation.CartLine{{
			ProductID:    "cam",
			Quantity:     1,
			Start:        rentalStart,
			End:          rentalStart.Add(24 * time.Hour),
			DurationType: pricing.Daily,
		}},
	})
	require.NoError(t, err)
	res, err := orders.ConfirmQuotation(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10000), res.Invoice.TotalAmount)

	return &stack{
		store:    store,
		orders:   orders,
		payments: payment.NewService(store.Payments(), store.Invoices(), orders, store, signer, clk, payment.WithMetrics(stats)),
		signer:   signer,
		stats:    stats,
		invoice:  res.Invoice,
	}
}

func (s *stack) callback(t *testing.T, amount int64, txID string) payment.Callback {
	t.Helper()
	intent, err := s.payments.RecordAttempt(context.Background(), s.invoice.ID, amount, payment.MethodQRIS)
	require.NoError(t, err)

	cb := payment.Callback{TransactionID: txID, PaymentID: intent.Payment.ID, Amount: amount}
	cb.Signature = s.signer.Sign(cb.PaymentID, cb.TransactionID, cb.Amount)
	return cb
}

func deliver(s *stack, cbs []payment.Callback) []error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, cb := range cbs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.payments.VerifyAndApply(context.Background(), cb)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return errs
}

func TestVerifyAndApply_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	cb := s.callback(t, 4000, "gw-dup")
	deliveries := make([]payment.Callback, 20)
	for i := range deliveries {
		deliveries[i] = cb
	}

	for _, err := range deliver(s, deliveries) {
		assert.NoError(t, err)
	}

	inv, err := s.store.Invoices().Get(ctx, s.invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), inv.AmountPaid)
	assert.Equal(t, int64(6000), inv.AmountDue)
	assert.Equal(t, invoice.StatusPartiallyPaid, inv.Status)

	o, err := s.orders.Get(ctx, s.invoice.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), o.AmountPaid)
	assert.Equal(t, order.PaymentPartiallyPaid, o.PaymentStatus)

	assert.Equal(t, uint64(1), s.stats.Applied.Load())
	assert.Equal(t, uint64(19), s.stats.DuplicateCallbacks.Load())
}

func TestVerifyAndApply_ConcurrentDistinctTransactions(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	var cbs []payment.Callback
	for i := range 10 {
		cbs = append(cbs, s.callback(t, 1000, fmt.Sprintf("gw-%02d", i)))
	}

	for _, err := range deliver(s, cbs) {
		assert.NoError(t, err)
	}

	inv, err := s.store.Invoices().Get(ctx, s.invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), inv.AmountPaid)
	assert.Zero(t, inv.AmountDue)
	assert.Equal(t, invoice.StatusPaid, inv.Status)

	o, err := s.orders.Get(ctx, s.invoice.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), o.AmountPaid)
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)

	paid, err := s.payments.ListByInvoice(ctx, s.invoice.ID)
	require.NoError(t, err)
	require.Len(t, paid, 10)
	for _, p := range paid {
		assert.Equal(t, payment.StatusSuccess, p.Status)
	}
	assert.Equal(t, uint64(10), s.stats.Applied.Load())
}
