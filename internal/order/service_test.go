package order_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"rentloop-be/internal/availability"
	"rentloop-be/internal/clock"
	"rentloop-be/internal/invoice"
	"rentloop-be/internal/order"
	"rentloop-be/internal/payment"
	"rentloop-be/internal/pricing"
	"rentloop-be/internal/product"
	"rentloop-be/internal/quotation"
	"rentloop-be/internal/reservation"
	"rentloop-be/internal/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rentalStart = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

const secret = "test-webhook-secret"

type harness struct {
	store    *memory.Store
	clock    *clock.Manual
	ledger   reservation.Ledger
	quotes   quotation.Service
	orders   order.Service
	payments payment.Service
	signer   *payment.Signer
}

func newHarness(stock int) *harness {
	store := memory.New()
	store.PutProduct(&product.Product{
		ID:             "cam",
		VendorID:       "v1",
		Status:         product.StatusActive,
		QuantityOnHand: stock,
		Pricing: pricing.RateCard{
			Rates:          map[pricing.DurationType]int64{pricing.Daily: 500},
			DepositPerUnit: 5000,
		},
	})

	clk := clock.NewManual(rentalStart.Add(-24 * time.Hour))
	ledger := reservation.NewLedger(store.Holds(), store, clk)
	quotes := quotation.NewService(store.Quotations(), ledger, product.NewService(store.Products()), clk, 30*time.Minute)
	orders := order.NewService(store.Orders(), quotes, ledger, store.Invoices(), clk, order.Config{
		TaxRatePercent: decimal.NewFromInt(10),
		LatePolicy:     pricing.LatePolicy{Mode: pricing.LateFeeFlat, Amount: 200, Unit: 24 * time.Hour},
	})
	signer := payment.NewSigner(secret)

	return &harness{
		store:    store,
		clock:    clk,
		ledger:   ledger,
		quotes:   quotes,
		orders:   orders,
		payments: payment.NewService(store.Payments(), store.Invoices(), orders, store, signer, clk),
		signer:   signer,
	}
}

func (h *harness) quote(t *testing.T, customerID string, qty int) *quotation.Quotation {
	t.Helper()
	q, err := h.quotes.SyncCart(context.Background(), quotation.SyncInput{
		CustomerID: customerID,
		Lines: []quotation.CartLine{{
			ProductID:    "cam",
			Quantity:     qty,
			Start:        rentalStart,
			End:          rentalStart.Add(72 * time.Hour),
			DurationType: pricing.Daily,
		}},
	})
	require.NoError(t, err)
	return q
}

func (h *harness) confirm(t *testing.T, customerID string, qty int) *order.ConfirmResult {
	t.Helper()
	res, err := h.orders.ConfirmQuotation(context.Background(), h.quote(t, customerID, qty).ID)
	require.NoError(t, err)
	return res
}

func TestConfirmQuotation_CreatesOrderAndInvoice(t *testing.T) {
	h := newHarness(3)
	ctx := context.Background()

	q := h.quote(t, "c1", 1)
	res, err := h.orders.ConfirmQuotation(ctx, q.ID)
	require.NoError(t, err)
	require.True(t, res.Created)

	o := res.Order
	assert.Equal(t, order.StatusConfirmed, o.Status)
	assert.Equal(t, order.PaymentUnpaid, o.PaymentStatus)
	assert.Equal(t, int64(1500), o.Pricing.RentalTotal)
	assert.Equal(t, int64(5000), o.Pricing.DepositTotal)
	assert.Equal(t, int64(150), o.Pricing.TaxAmount)
	assert.Equal(t, int64(6650), o.Pricing.GrandTotal)
	assert.Equal(t, rentalStart, o.RentalStart)
	assert.Equal(t, rentalStart.Add(72*time.Hour), o.RentalEnd)
	require.Len(t, o.History, 1)

	inv := res.Invoice
	require.NotNil(t, inv)
	assert.Equal(t, o.ID, inv.OrderID)
	assert.Equal(t, int64(6650), inv.TotalAmount)
	assert.Equal(t, invoice.StatusUnpaid, inv.Status)
	require.Len(t, inv.Lines, 3)
	assert.Equal(t, invoice.LineRental, inv.Lines[0].Kind)
	assert.Equal(t, invoice.LineDeposit, inv.Lines[1].Kind)
	assert.Equal(t, invoice.LineTax, inv.Lines[2].Kind)

	stored, err := h.quotes.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, quotation.StatusConfirmed, stored.Status)
	require.NotNil(t, stored.ConfirmedOrderID)
	assert.Equal(t, o.ID, *stored.ConfirmedOrderID)

	holds, err := h.ledger.HoldsByOwner(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, reservation.StateCommitted, holds[0].State)

	quoteHolds, err := h.ledger.HoldsByOwner(ctx, q.ID)
	require.NoError(t, err)
	assert.Empty(t, quoteHolds)
}

func TestConfirmQuotation_Idempotent(t *testing.T) {
	h := newHarness(3)
	ctx := context.Background()

	q := h.quote(t, "c1", 1)
	first, err := h.orders.ConfirmQuotation(ctx, q.ID)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)

	again, err := h.orders.ConfirmQuotation(ctx, q.ID)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.Order.ID, again.Order.ID)
	require.NotNil(t, again.Invoice)
	assert.Equal(t, first.Invoice.ID, again.Invoice.ID)

	orders, err := h.orders.List(ctx, order.Filter{CustomerID: "c1"})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestConfirmQuotation_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("Expired", func(t *testing.T) {
		h := newHarness(3)
		q := h.quote(t, "c1", 1)
		h.clock.Advance(31 * time.Minute)

		_, err := h.orders.ConfirmQuotation(ctx, q.ID)
		assert.ErrorIs(t, err, quotation.ErrQuotationExpired)

		stored, err := h.store.Quotations().Get(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, quotation.StatusExpired, stored.Status)

		_, err = h.orders.ConfirmQuotation(ctx, q.ID)
		assert.ErrorIs(t, err, quotation.ErrQuotationExpired)
	})

	t.Run("Unknown", func(t *testing.T) {
		h := newHarness(3)
		_, err := h.orders.ConfirmQuotation(ctx, "missing")
		assert.ErrorIs(t, err, quotation.ErrQuotationNotFound)
	})

	t.Run("Holds lost and stock gone", func(t *testing.T) {
		h := newHarness(1)
		q := h.quote(t, "c1", 1)

		_, err := h.ledger.ReleaseOwner(ctx, q.ID)
		require.NoError(t, err)
		h.confirm(t, "c2", 1)

		_, err = h.orders.ConfirmQuotation(ctx, q.ID)
		assert.ErrorIs(t, err, reservation.ErrInsufficientAvailability)

		stored, err := h.store.Quotations().Get(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, quotation.StatusDraft, stored.Status)
	})

	t.Run("Holds lost but stock free", func(t *testing.T) {
		h := newHarness(1)
		q := h.quote(t, "c1", 1)

		_, err := h.ledger.ReleaseOwner(ctx, q.ID)
		require.NoError(t, err)

		res, err := h.orders.ConfirmQuotation(ctx, q.ID)
		require.NoError(t, err)
		assert.True(t, res.Created)
	})
}

func TestConfirmQuotation_ConcurrentNoOverbooking(t *testing.T) {
	h := newHarness(2)
	ctx := context.Background()

	var quotes []*quotation.Quotation
	for _, c := range []string{"c1", "c2"} {
		quotes = append(quotes, h.quote(t, c, 1))
	}

	var wg sync.WaitGroup
	errs := make([]error, 0, 20)
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		for _, q := range quotes {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := h.orders.ConfirmQuotation(ctx, id)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}(q.ID)
		}
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	orders, err := h.orders.List(ctx, order.Filter{})
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	iv, err := availability.NewInterval(rentalStart, rentalStart.Add(72*time.Hour))
	require.NoError(t, err)
	ok, err := h.ledger.IsAvailable(ctx, "cam", nil, 1, iv)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransitions(t *testing.T) {
	h := newHarness(3)
	ctx := context.Background()

	o := h.confirm(t, "c1", 1).Order

	_, err := h.orders.MarkWithCustomer(ctx, o.ID, "")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	got, err := h.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, got.Status)
	assert.Len(t, got.History, 1)

	picked, err := h.orders.MarkPickedUp(ctx, o.ID, "picked up at store")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPickedUp, picked.Status)

	_, err = h.orders.Cancel(ctx, o.ID, "changed mind")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	with, err := h.orders.MarkWithCustomer(ctx, o.ID, "")
	require.NoError(t, err)
	require.Len(t, with.History, 3)
	assert.Equal(t, []order.OrderStatus{order.StatusConfirmed, order.StatusPickedUp, order.StatusWithCustomer},
		[]order.OrderStatus{with.History[0].Status, with.History[1].Status, with.History[2].Status})
	assert.Equal(t, "picked up at store", with.History[1].Note)

	_, err = h.orders.MarkPickedUp(ctx, "missing", "")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestMarkReturned(t *testing.T) {
	ctx := context.Background()

	t.Run("On time", func(t *testing.T) {
		h := newHarness(1)
		o := h.confirm(t, "c1", 1).Order
		_, err := h.orders.MarkPickedUp(ctx, o.ID, "")
		require.NoError(t, err)

		returnedAt := o.RentalEnd.Add(-time.Hour)
		ret, err := h.orders.MarkReturned(ctx, o.ID, returnedAt, "no scratches")
		require.NoError(t, err)

		assert.Equal(t, order.StatusReturned, ret.Status)
		assert.Zero(t, ret.Pricing.LateFee)
		require.NotNil(t, ret.ActualReturn)
		assert.Equal(t, returnedAt, *ret.ActualReturn)
		assert.Equal(t, "no scratches", ret.ConditionNotes)

		holds, err := h.ledger.HoldsByOwner(ctx, o.ID)
		require.NoError(t, err)
		assert.Empty(t, holds)

		_, err = h.orders.Cancel(ctx, o.ID, "")
		assert.ErrorIs(t, err, order.ErrInvalidTransition)

		after, err := h.orders.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusReturned, after.Status)
		require.Len(t, after.History, len(ret.History))
		assert.Equal(t, order.StatusReturned, after.History[len(after.History)-1].Status)
		assert.Equal(t, order.PaymentUnpaid, after.PaymentStatus)
	})

	t.Run("Late", func(t *testing.T) {
		h := newHarness(1)
		o := h.confirm(t, "c1", 1).Order
		_, err := h.orders.MarkPickedUp(ctx, o.ID, "")
		require.NoError(t, err)
		_, err = h.orders.MarkWithCustomer(ctx, o.ID, "")
		require.NoError(t, err)

		ret, err := h.orders.MarkReturned(ctx, o.ID, o.RentalEnd.Add(25*time.Hour), "")
		require.NoError(t, err)
		assert.Equal(t, int64(400), ret.Pricing.LateFee)

		inv, err := h.store.Invoices().GetByOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(6650+400), inv.TotalAmount)
		assert.Equal(t, int64(400), inv.LateFeeTotal)
		last := inv.Lines[len(inv.Lines)-1]
		assert.Equal(t, invoice.LineLateFee, last.Kind)
		assert.Equal(t, 2, last.Quantity)
		assert.Equal(t, int64(200), last.UnitAmount)
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("Unpaid", func(t *testing.T) {
		h := newHarness(1)
		o := h.confirm(t, "c1", 1).Order

		cancelled, err := h.orders.Cancel(ctx, o.ID, "customer request")
		require.NoError(t, err)
		assert.Equal(t, order.StatusCancelled, cancelled.Status)
		assert.Equal(t, order.PaymentVoid, cancelled.PaymentStatus)
		assert.Equal(t, "customer request", cancelled.CancelReason)

		inv, err := h.store.Invoices().GetByOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, invoice.StatusCancelled, inv.Status)

		h.confirm(t, "c2", 1)
	})

	t.Run("After payment", func(t *testing.T) {
		h := newHarness(1)
		res := h.confirm(t, "c1", 1)
		h.pay(t, res.Invoice.ID, 1000, "tx-1")

		cancelled, err := h.orders.Cancel(ctx, res.Order.ID, "")
		require.NoError(t, err)
		assert.Equal(t, order.PaymentRefundDue, cancelled.PaymentStatus)

		inv, err := h.store.Invoices().GetByOrder(ctx, res.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), inv.RefundDue)
	})
}

func (h *harness) pay(t *testing.T, invoiceID string, amount int64, txID string) {
	t.Helper()
	ctx := context.Background()

	intent, err := h.payments.RecordAttempt(ctx, invoiceID, amount, payment.MethodBankTransfer)
	require.NoError(t, err)

	cb := payment.Callback{TransactionID: txID, PaymentID: intent.Payment.ID, Amount: amount}
	cb.Signature = h.signer.Sign(cb.PaymentID, cb.TransactionID, cb.Amount)
	require.NoError(t, h.payments.VerifyAndApply(ctx, cb))
}

func TestPaymentLifecycle(t *testing.T) {
	h := newHarness(1)
	ctx := context.Background()

	res := h.confirm(t, "c1", 1)

	h.pay(t, res.Invoice.ID, 2000, "tx-1")
	o, err := h.orders.Get(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPartiallyPaid, o.PaymentStatus)
	assert.Equal(t, int64(2000), o.AmountPaid)
	assert.Equal(t, order.StatusConfirmed, o.Status)

	h.pay(t, res.Invoice.ID, 4650, "tx-2")
	o, err = h.orders.Get(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, order.StatusConfirmed, o.Status)
	assert.Len(t, o.History, 1)

	inv, err := h.store.Invoices().GetByOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, inv.Status)
	assert.Zero(t, inv.AmountDue)

	paid, err := h.payments.ListByInvoice(ctx, res.Invoice.ID)
	require.NoError(t, err)
	require.Len(t, paid, 2)
	var first *payment.Payment
	for _, p := range paid {
		assert.Equal(t, payment.StatusSuccess, p.Status)
		if *p.TransactionID == "tx-1" {
			first = p
		}
	}
	require.NotNil(t, first)
	replay := payment.Callback{TransactionID: "tx-1", PaymentID: first.ID, Amount: 2000}
	replay.Signature = h.signer.Sign(replay.PaymentID, replay.TransactionID, replay.Amount)
	require.NoError(t, h.payments.VerifyAndApply(ctx, replay))

	inv, err = h.store.Invoices().GetByOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6650), inv.AmountPaid)
}
