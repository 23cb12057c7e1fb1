// Package api is the REST surface of the rental engine. Handlers decode JSON, resolve
// the caller from context, call one service operation and map its error.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"rentloop-be/internal/invoice"
	"rentloop-be/internal/metrics"
	"rentloop-be/internal/order"
	"rentloop-be/internal/payment"
	"rentloop-be/internal/product"
	"rentloop-be/internal/quotation"
	"rentloop-be/internal/reservation"
	"rentloop-be/internal/utils"
)

const maxBodyBytes = 1 << 20

// Pinger reports storage health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Quotations   quotation.Service
	SyncQueue    *quotation.SyncQueue
	Orders       order.Service
	Invoices     invoice.Repository
	Payments     payment.Service
	Products     product.Service
	Ledger       reservation.Ledger
	LedgerStats  *metrics.Ledger
	PaymentStats *metrics.Payments
	Health       Pinger
}

type Handler struct {
	Deps
}

func NewHandler(d Deps) *Handler {
	return &Handler{Deps: d}
}

// Routes registers every endpoint on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /quotations", h.createQuotation)
	mux.HandleFunc("GET /quotations/{id}", h.getQuotation)
	mux.HandleFunc("PUT /quotations/{id}", h.updateQuotation)
	mux.HandleFunc("DELETE /quotations/{id}", h.deleteQuotation)
	mux.HandleFunc("POST /quotations/{id}/send", h.sendQuotation)
	mux.HandleFunc("POST /quotations/{id}/confirm", h.confirmQuotation)

	mux.HandleFunc("GET /orders", h.listOrders)
	mux.HandleFunc("GET /orders/{id}", h.getOrder)
	mux.HandleFunc("POST /orders/{id}/cancel", h.cancelOrder)
	mux.HandleFunc("PATCH /orders/{id}/pickup", h.pickUpOrder)
	mux.HandleFunc("PATCH /orders/{id}/with-customer", h.orderWithCustomer)
	mux.HandleFunc("PATCH /orders/{id}/return", h.returnOrder)

	mux.HandleFunc("GET /invoices", h.listInvoices)
	mux.HandleFunc("GET /invoices/{id}", h.getInvoice)

	mux.HandleFunc("POST /payments/create-intent", h.createPaymentIntent)
	mux.HandleFunc("POST /payments/verify", h.verifyPayment)

	mux.HandleFunc("GET /products", h.listProducts)
	mux.HandleFunc("GET /products/{id}", h.getProduct)
	mux.HandleFunc("GET /products/{id}/availability", h.productAvailability)

	mux.HandleFunc("GET /metrics", h.metrics)
	mux.HandleFunc("GET /healthz", h.healthz)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteError(w, http.StatusNotFound, codeNotFound, "not found")
	})
	return mux
}

// caller is the authenticated identity behind a request.
type caller struct {
	id   string
	role string
}

func (c caller) staff() bool {
	return c.role == utils.RoleVendor || c.role == utils.RoleAdmin
}

// sees reports whether the caller may read a record owned by customerID and sold by
// vendorID.
func (c caller) sees(customerID, vendorID string) bool {
	switch c.role {
	case utils.RoleAdmin:
		return true
	case utils.RoleVendor:
		return vendorID == c.id
	default:
		return customerID == c.id
	}
}

// requireCaller writes 401 and returns false for anonymous requests.
func requireCaller(w http.ResponseWriter, r *http.Request) (caller, bool) {
	id, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required")
		return caller{}, false
	}
	role := utils.GetUserRoleFromContext(r.Context())
	if role == "" {
		role = utils.RoleCustomer
	}
	return caller{id: id, role: role}, true
}

// decode reads a JSON body, rejecting unknown fields. An empty body leaves dst as is
// when allowEmpty is set.
func decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	utils.WriteError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
	return false
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New(key + " must be an RFC 3339 timestamp")
	}
	return t.UTC(), nil
}

func page(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit, err := queryInt(r, "limit", 20)
	if err == nil {
		offset, err = queryInt(r, "offset", 0)
	}
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, codeInvalidQuery, err.Error())
		return 0, 0, false
	}
	return limit, offset, true
}
