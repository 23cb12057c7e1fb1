package api

import (
	"net/http"

	"rentloop-be/internal/quotation"
	"rentloop-be/internal/utils"
)

type cartRequest struct {
	Lines []quotation.CartLine `json:"lines"`
}

func (h *Handler) createQuotation(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req cartRequest
	if !decode(w, r, &req, false) {
		return
	}

	q, err := h.Quotations.SyncCart(r.Context(), quotation.SyncInput{CustomerID: c.id, Lines: req.Lines})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if q == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	utils.WriteJSON(w, http.StatusOK, q)
}

// ownQuotation loads a quotation the caller may act on. Quotations of other customers
// are reported as not found.
func (h *Handler) ownQuotation(w http.ResponseWriter, r *http.Request, c caller) (*quotation.Quotation, bool) {
	q, err := h.Quotations.Get(r.Context(), r.PathValue("id"))
	if err == nil && !c.sees(q.CustomerID, q.VendorID) {
		err = quotation.ErrQuotationNotFound
	}
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	return q, true
}

func (h *Handler) getQuotation(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCaller(w, r)
	if !ok {
		return
	}
	q, ok := h.ownQuotation(w, r, c)
	if !ok {
		return
	}
	utils.WriteJSON(w, http.StatusOK, q)
}

// updateQuotation replaces the cart through the sync queue so that rapid edits
// collapse into one ledger update.
func (h *Handler) updateQuotation(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req cartRequest
	if !decode(w, r, &req, false) {
		return
	}

	in := quotation.SyncInput{CustomerID: c.id, Lines: req.Lines}
	var res quotation.Result
	if h.SyncQueue != nil {
		select {
		case res = <-h.SyncQueue.Submit(r.Context(), r.PathValue("id"), in):
		case <-r.Context().Done():
			return
		}
	} else {
		id := r.PathValue("id")
		in.QuotationID = &id
		res.Quotation, res.Err = h.Quotations.SyncCart(r.Context(), in)
	}

	if res.Err != nil {
		writeServiceError(w, r, res.Err)
		return
	}
	if res.Quotation == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	utils.WriteJSON(w, http.StatusOK, res.Quotation)
}

func (h *Handler) deleteQuotation(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCaller(w, r)
	if !ok {
		return
	}
	q, ok := h.ownQuotation(w, r, c)
	if !ok {
		return
	}
	if h.SyncQueue != nil {
		h.SyncQueue.Cancel(q.ID)
	}
	if err := h.Quotations.Delete(r.Context(), q.ID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sendQuotation(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCaller(w, r)
	if !ok {
		return
	}
	q, ok := h.ownQuotation(w, r, c)
	if !ok {
		return
	}
	sent, err := h.Quotations.MarkSent(r.Context(), q.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, sent)
}

func (h *Handler) confirmQuotation(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCaller(w, r)
	if !ok {
		return
	}
	q, ok := h.ownQuotation(w, r, c)
	if !ok {
		return
	}
	if q.CustomerID != c.id && c.role != utils.RoleAdmin {
		utils.WriteError(w, http.StatusForbidden, codeForbidden, "only the customer can confirm a quotation")
		return
	}

	res, err := h.Orders.ConfirmQuotation(r.Context(), q.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	utils.WriteJSON(w, status, res)
}
