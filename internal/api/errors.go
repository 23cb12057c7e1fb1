package api

import (
	"errors"
	"net/http"

	"rentloop-be/internal/availability"
	"rentloop-be/internal/invoice"
	"rentloop-be/internal/logger"
	"rentloop-be/internal/order"
	"rentloop-be/internal/payment"
	"rentloop-be/internal/pricing"
	"rentloop-be/internal/product"
	"rentloop-be/internal/quotation"
	"rentloop-be/internal/reservation"
	"rentloop-be/internal/utils"

	"go.uber.org/zap"
)

const (
	codeInvalidRequestBody       = "invalid_request_body"
	codeInvalidQuery             = "invalid_query"
	codeUnauthenticated          = "unauthenticated"
	codeForbidden                = "forbidden"
	codeNotFound                 = "not_found"
	codeInsufficientAvailability = "insufficient_availability"
	codeInternalError            = "internal_error"
)

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// errorTable is checked in order with errors.Is. An empty message exposes the
// error text.
var errorTable = []errorMapping{
	{availability.ErrInvalidInterval, http.StatusBadRequest, "invalid_interval", ""},
	{availability.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity", ""},
	{pricing.ErrUnknownDurationType, http.StatusBadRequest, "unknown_duration_type", ""},
	{pricing.ErrRateNotOffered, http.StatusUnprocessableEntity, "rate_not_offered", ""},
	{pricing.ErrInvalidCustomPeriod, http.StatusUnprocessableEntity, "invalid_custom_period", ""},
	{product.ErrProductNotFound, http.StatusNotFound, "product_not_found", ""},
	{product.ErrVariantNotFound, http.StatusUnprocessableEntity, "variant_not_found", ""},
	{product.ErrVariantRequired, http.StatusUnprocessableEntity, "variant_required", ""},
	{product.ErrProductInactive, http.StatusUnprocessableEntity, "product_inactive", ""},
	{quotation.ErrQuotationNotFound, http.StatusNotFound, "quotation_not_found", "quotation not found"},
	{quotation.ErrQuotationExpired, http.StatusGone, "quotation_expired", "quotation has expired, please rebuild your cart"},
	{quotation.ErrQuotationAlreadyConfirmed, http.StatusConflict, "quotation_already_confirmed", "quotation was already confirmed"},
	{quotation.ErrCustomerRequired, http.StatusUnauthorized, codeUnauthenticated, "sign in to manage a quotation"},
	{quotation.ErrMixedVendors, http.StatusUnprocessableEntity, "mixed_vendors", ""},
	{quotation.ErrSyncCancelled, http.StatusConflict, "sync_cancelled", "cart update was superseded"},
	{quotation.ErrQueueClosed, http.StatusServiceUnavailable, "shutting_down", "server is shutting down"},
	{order.ErrOrderNotFound, http.StatusNotFound, "order_not_found", "order not found"},
	{order.ErrOrderExists, http.StatusConflict, "order_exists", ""},
	{order.ErrInvalidTransition, http.StatusConflict, "invalid_transition", ""},
	{order.ErrEmptyQuotation, http.StatusUnprocessableEntity, "empty_quotation", ""},
	{order.ErrUnauthorized, http.StatusForbidden, codeForbidden, "not allowed"},
	{invoice.ErrInvoiceNotFound, http.StatusNotFound, "invoice_not_found", "invoice not found"},
	{invoice.ErrInvoiceCancelled, http.StatusConflict, "invoice_cancelled", ""},
	{payment.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found", "payment not found"},
	{payment.ErrInvalidCallback, http.StatusBadRequest, "invalid_callback", ""},
	{payment.ErrSignatureInvalid, http.StatusUnauthorized, "signature_invalid", "callback signature is invalid"},
	{payment.ErrAmountMismatch, http.StatusUnprocessableEntity, "amount_mismatch", ""},
	{payment.ErrAlreadyProcessed, http.StatusConflict, "already_processed", ""},
	{payment.ErrTransactionTaken, http.StatusConflict, "transaction_taken", ""},
	{payment.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount", ""},
	{payment.ErrUnsupportedMethod, http.StatusBadRequest, "unsupported_method", ""},
}

// writeServiceError maps a service error onto a status, a stable code and a message
// safe to show the user. Unknown errors are logged and reported as internal.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var shortage *reservation.ShortageError
	if errors.As(err, &shortage) {
		utils.WriteError(w, http.StatusConflict, codeInsufficientAvailability, shortage.Error())
		return
	}
	if errors.Is(err, reservation.ErrInsufficientAvailability) {
		utils.WriteError(w, http.StatusConflict, codeInsufficientAvailability, "not enough units available for these dates, please try again")
		return
	}

	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			msg := m.message
			if msg == "" {
				msg = err.Error()
			}
			utils.WriteError(w, m.status, m.code, msg)
			return
		}
	}

	logger.FromCtx(r.Context()).Error("unhandled service error",
		zap.String("layer", "api"),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	utils.WriteError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
