package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rentloop-be/internal/clock"
	"rentloop-be/internal/invoice"
	"rentloop-be/internal/metrics"
	"rentloop-be/internal/order"
	"rentloop-be/internal/payment"
	"rentloop-be/internal/product"
	"rentloop-be/internal/quotation"
	"rentloop-be/internal/reservation"
	"rentloop-be/internal/storage/memory"
	"rentloop-be/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now   = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	start = now.Add(24 * time.Hour)
	end   = start.Add(72 * time.Hour)
)

type server struct {
	t      *testing.T
	mux    http.Handler
	signer *payment.Signer
	deps   Deps
}

func newServer(t *testing.T) *server {
	store := memory.New()
	store.SeedDemo(now)

	clk := clock.NewManual(now)
	ledgerStats, paymentStats := &metrics.Ledger{}, &metrics.Payments{}
	ledger := reservation.NewLedger(store.Holds(), store, clk, reservation.WithMetrics(ledgerStats))
	products := product.NewService(store.Products())
	quotes := quotation.NewService(store.Quotations(), ledger, products, clk, 30*time.Minute)
	orders := order.NewService(store.Orders(), quotes, ledger, store.Invoices(), clk, order.Config{TaxRatePercent: decimal.NewFromInt(18)})
	signer := payment.NewSigner("secret")
	payments := payment.NewService(store.Payments(), store.Invoices(), orders, store, signer, clk, payment.WithMetrics(paymentStats))

	queue := quotation.NewSyncQueue(quotes, 0)
	t.Cleanup(queue.Close)

	deps := Deps{
		Quotations:   quotes,
		SyncQueue:    queue,
		Orders:       orders,
		Invoices:     store.Invoices(),
		Payments:     payments,
		Products:     products,
		Ledger:       ledger,
		LedgerStats:  ledgerStats,
		PaymentStats: paymentStats,
	}
	return &server{t: t, mux: NewHandler(deps).Routes(), signer: signer, deps: deps}
}

type identity struct {
	id, role string
}

var (
	alice     = identity{"alice", utils.RoleCustomer}
	bob       = identity{"bob", utils.RoleCustomer}
	lens      = identity{"vendor-lens", utils.RoleVendor}
	outdoor   = identity{"vendor-outdoor", utils.RoleVendor}
	anonymous = identity{}
)

func (s *server) do(who identity, method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if who.id != "" {
		req = req.WithContext(utils.SetUserContext(req.Context(), who.id, "", who.role))
	}
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func cameraCart(qty int) cartRequest {
	return cartRequest{Lines: []quotation.CartLine{{
		ProductID:    "prod-camera",
		Quantity:     qty,
		Start:        start,
		End:          end,
		DurationType: "DAILY",
	}}}
}

func (s *server) createQuote(who identity, qty int) *quotation.Quotation {
	s.t.Helper()
	w := s.do(who, http.MethodPost, "/quotations", cameraCart(qty))
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	return decodeBody[*quotation.Quotation](s.t, w)
}

func TestQuotationEndpoints(t *testing.T) {
	s := newServer(t)

	w := s.do(anonymous, http.MethodPost, "/quotations", cameraCart(1))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, codeUnauthenticated, decodeBody[utils.ErrorBody](t, w).Code)

	w = s.do(alice, http.MethodPost, "/quotations", `{"lines":[],"extra":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	q := s.createQuote(alice, 1)
	assert.Equal(t, int64(1500), q.RentalTotal)
	assert.Equal(t, int64(5000), q.DepositTotal)

	assert.Equal(t, http.StatusOK, s.do(alice, http.MethodGet, "/quotations/"+q.ID, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(lens, http.MethodGet, "/quotations/"+q.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(bob, http.MethodGet, "/quotations/"+q.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(outdoor, http.MethodGet, "/quotations/"+q.ID, nil).Code)

	w = s.do(alice, http.MethodPut, "/quotations/"+q.ID, cameraCart(2))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(3000), decodeBody[*quotation.Quotation](t, w).RentalTotal)

	w = s.do(bob, http.MethodPut, "/quotations/"+q.ID, cameraCart(1))
	assert.Equal(t, http.StatusNotFound, w.Code)

	bobQuote := s.createQuote(bob, 1)
	w = s.do(bob, http.MethodPut, "/quotations/"+bobQuote.ID, cameraCart(2))
	assert.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody[utils.ErrorBody](t, w)
	assert.Equal(t, codeInsufficientAvailability, body.Code)
	assert.Contains(t, body.Error, "only 1 units available for product prod-camera")

	w = s.do(alice, http.MethodPost, "/quotations/"+q.ID+"/send", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, quotation.StatusSent, decodeBody[*quotation.Quotation](t, w).Status)

	assert.Equal(t, http.StatusNoContent, s.do(bob, http.MethodDelete, "/quotations/"+bobQuote.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(bob, http.MethodGet, "/quotations/"+bobQuote.ID, nil).Code)
}

func TestConfirmAndFulfill(t *testing.T) {
	s := newServer(t)
	q := s.createQuote(alice, 1)

	assert.Equal(t, http.StatusForbidden, s.do(lens, http.MethodPost, "/quotations/"+q.ID+"/confirm", nil).Code)

	w := s.do(alice, http.MethodPost, "/quotations/"+q.ID+"/confirm", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decodeBody[order.ConfirmResult](t, w)
	require.NotNil(t, res.Invoice)
	assert.Equal(t, int64(1500+5000+270), res.Invoice.TotalAmount)

	w = s.do(alice, http.MethodPost, "/quotations/"+q.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, res.Order.ID, decodeBody[order.ConfirmResult](t, w).Order.ID)

	orderPath := "/orders/" + res.Order.ID

	w = s.do(alice, http.MethodGet, "/orders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]*order.Order](t, w), 1)

	w = s.do(bob, http.MethodGet, "/orders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[[]*order.Order](t, w))

	assert.Equal(t, http.StatusBadRequest, s.do(alice, http.MethodGet, "/orders?limit=x", nil).Code)

	w = s.do(alice, http.MethodPatch, orderPath+"/pickup", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, http.StatusNotFound, s.do(outdoor, http.MethodPatch, orderPath+"/pickup", nil).Code)

	w = s.do(lens, http.MethodPatch, orderPath+"/with-customer", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decodeBody[utils.ErrorBody](t, w).Code)

	w = s.do(lens, http.MethodPatch, orderPath+"/pickup", noteRequest{Note: "id checked"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order.StatusPickedUp, decodeBody[*order.Order](t, w).Status)

	w = s.do(alice, http.MethodPost, orderPath+"/cancel", cancelRequest{Reason: "too late"})
	assert.Equal(t, http.StatusConflict, w.Code)

	returned := end.Add(-time.Hour)
	w = s.do(lens, http.MethodPatch, orderPath+"/return", returnRequest{ActualReturn: &returned, ConditionNotes: "fine"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	o := decodeBody[*order.Order](t, w)
	assert.Equal(t, order.StatusReturned, o.Status)
	assert.Equal(t, "fine", o.ConditionNotes)
	assert.Len(t, o.History, 3)
}

func TestCancelOrder(t *testing.T) {
	s := newServer(t)
	q := s.createQuote(alice, 1)
	w := s.do(alice, http.MethodPost, "/quotations/"+q.ID+"/confirm", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	res := decodeBody[order.ConfirmResult](t, w)

	assert.Equal(t, http.StatusNotFound, s.do(bob, http.MethodPost, "/orders/"+res.Order.ID+"/cancel", nil).Code)

	w = s.do(alice, http.MethodPost, "/orders/"+res.Order.ID+"/cancel", cancelRequest{Reason: "plans changed"})
	require.Equal(t, http.StatusOK, w.Code)
	o := decodeBody[*order.Order](t, w)
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, order.PaymentVoid, o.PaymentStatus)

	w = s.do(alice, http.MethodGet, "/invoices/"+res.Invoice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, invoice.StatusCancelled, decodeBody[*invoice.Invoice](t, w).Status)

	w = s.do(alice, http.MethodPost, "/payments/create-intent", intentRequest{InvoiceID: res.Invoice.ID, Amount: 100, Method: payment.MethodQRIS})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invoice_cancelled", decodeBody[utils.ErrorBody](t, w).Code)
}

func TestPaymentEndpoints(t *testing.T) {
	s := newServer(t)
	q := s.createQuote(alice, 1)
	w := s.do(alice, http.MethodPost, "/quotations/"+q.ID+"/confirm", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	res := decodeBody[order.ConfirmResult](t, w)
	total := res.Invoice.TotalAmount

	w = s.do(bob, http.MethodPost, "/payments/create-intent", intentRequest{InvoiceID: res.Invoice.ID, Amount: total, Method: payment.MethodQRIS})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(alice, http.MethodPost, "/payments/create-intent", intentRequest{InvoiceID: res.Invoice.ID, Amount: total, Method: "CHEQUE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(alice, http.MethodPost, "/payments/create-intent", intentRequest{InvoiceID: res.Invoice.ID, Amount: total, Method: payment.MethodQRIS})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	intent := decodeBody[payment.Intent](t, w)
	assert.NotEmpty(t, intent.Instructions)

	cb := payment.Callback{TransactionID: "gw-1", PaymentID: intent.Payment.ID, Amount: total}

	forged := cb
	forged.Signature = "00"
	w = s.do(anonymous, http.MethodPost, "/payments/verify", forged)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "signature_invalid", decodeBody[utils.ErrorBody](t, w).Code)

	w = s.do(alice, http.MethodPost, "/payments/create-intent", intentRequest{InvoiceID: res.Invoice.ID, Amount: total, Method: payment.MethodQRIS})
	require.Equal(t, http.StatusCreated, w.Code)
	intent = decodeBody[payment.Intent](t, w)

	cb.PaymentID = intent.Payment.ID
	cb.Signature = s.signer.Sign(cb.PaymentID, cb.TransactionID, cb.Amount)
	for i := 0; i < 2; i++ {
		w = s.do(anonymous, http.MethodPost, "/payments/verify", cb)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = s.do(alice, http.MethodGet, "/orders/"+res.Order.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	o := decodeBody[*order.Order](t, w)
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, order.StatusConfirmed, o.Status)

	w = s.do(lens, http.MethodGet, "/invoices?status=PAID", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]*invoice.Invoice](t, w), 1)

	w = s.do(anonymous, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeBody[metrics.Snapshot](t, w)
	assert.Equal(t, uint64(1), snap.PaymentsApplied)
	assert.Equal(t, uint64(1), snap.SignatureRejected)
	assert.Equal(t, uint64(1), snap.DuplicateCallbacks)
}

func TestProductEndpoints(t *testing.T) {
	s := newServer(t)

	w := s.do(anonymous, http.MethodGet, "/products?vendorId=vendor-lens", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]*product.Product](t, w), 2)

	assert.Equal(t, http.StatusNotFound, s.do(anonymous, http.MethodGet, "/products/nope", nil).Code)

	s.createQuote(alice, 3)

	path := fmt.Sprintf("/products/prod-camera/availability?start=%s&end=%s&quantity=1",
		start.Format(time.RFC3339), end.Format(time.RFC3339))
	w = s.do(anonymous, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decodeBody[availabilityResponse](t, w).Available)

	path = fmt.Sprintf("/products/prod-camera/availability?start=%s&end=%s",
		end.Format(time.RFC3339), end.Add(time.Hour).Format(time.RFC3339))
	w = s.do(anonymous, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[availabilityResponse](t, w).Available)

	w = s.do(anonymous, http.MethodGet, "/products/prod-camera/availability?start=bad", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	path = fmt.Sprintf("/products/prod-camera/availability?start=%s&end=%s",
		end.Format(time.RFC3339), start.Format(time.RFC3339))
	w = s.do(anonymous, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_interval", decodeBody[utils.ErrorBody](t, w).Code)

	path = fmt.Sprintf("/products/prod-tent/availability?start=%s&end=%s&variantId=purple",
		start.Format(time.RFC3339), end.Format(time.RFC3339))
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(anonymous, http.MethodGet, path, nil).Code)

	path = fmt.Sprintf("/products/prod-tent/availability?start=%s&end=%s",
		start.Format(time.RFC3339), end.Format(time.RFC3339))
	w = s.do(anonymous, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "variant_required", decodeBody[utils.ErrorBody](t, w).Code)
}

type pinger struct{ err error }

func (p pinger) PingContext(ctx context.Context) error { return p.err }

func TestSystemEndpoints(t *testing.T) {
	s := newServer(t)

	w := s.do(anonymous, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	s.deps.Health = pinger{err: errors.New("db down")}
	s.mux = NewHandler(s.deps).Routes()
	assert.Equal(t, http.StatusServiceUnavailable, s.do(anonymous, http.MethodGet, "/healthz", nil).Code)

	w = s.do(anonymous, http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, codeNotFound, decodeBody[utils.ErrorBody](t, w).Code)
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"shortage", &reservation.ShortageError{Shortages: []reservation.Shortage{{ProductID: "p1", Requested: 3, Available: 2}}}, http.StatusConflict, codeInsufficientAvailability},
		{"contention", fmt.Errorf("%w: lock timeout", reservation.ErrInsufficientAvailability), http.StatusConflict, codeInsufficientAvailability},
		{"expired", quotation.ErrQuotationExpired, http.StatusGone, "quotation_expired"},
		{"wrapped transition", fmt.Errorf("%w: RETURNED -> CANCELLED", order.ErrInvalidTransition), http.StatusConflict, "invalid_transition"},
		{"amount mismatch", payment.ErrAmountMismatch, http.StatusUnprocessableEntity, "amount_mismatch"},
		{"unknown", errors.New("disk full"), http.StatusInternalServerError, codeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeServiceError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			assert.Equal(t, tt.status, w.Code)
			body := decodeBody[utils.ErrorBody](t, w)
			assert.Equal(t, tt.code, body.Code)
			if tt.code == codeInternalError {
				assert.Equal(t, "internal error", body.Error)
			}
		})
	}
}
