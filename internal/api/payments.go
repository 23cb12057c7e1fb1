package api

import (
	"net/http"

	"rentloop-be/internal/payment"
	"rentloop-be/internal/utils"
)

type intentRequest struct {
	InvoiceID string `json:"invoiceId"`
	Amount    int64  `json:"amount"`
	Method    string `json:"method"`
}

func (h *Handler) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req intentRequest
	if !decode(w, r, &req, false) {
		return
	}
	if req.InvoiceID == "" {
		utils.WriteError(w, http.StatusBadRequest, codeInvalidRequestBody, "invoiceId is required")
		return
	}
	if _, ok := h.ownInvoice(w, r, c, req.InvoiceID); !ok {
		return
	}

	intent, err := h.Payments.RecordAttempt(r.Context(), req.InvoiceID, req.Amount, req.Method)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, intent)
}

// verifyPayment receives gateway callbacks. It is unauthenticated; trust comes from
// the callback signature.
func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var cb payment.Callback
	if !decode(w, r, &cb, false) {
		return
	}
	if err := h.Payments.VerifyAndApply(r.Context(), cb); err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
