package api

import (
	"net/http"

	"rentloop-be/internal/invoice"
	"rentloop-be/internal/utils"
)

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCaller(w, r)
	if !ok {
		return
	}
	limit, offset, ok := page(w, r)
	if !ok {
		return
	}

	filter := invoice.Filter{
		Status: invoice.Status(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}
	switch c.role {
	case utils.RoleAdmin:
		filter.CustomerID = r.URL.Query().Get("customerId")
		filter.VendorID = r.URL.Query().Get("vendorId")
	case utils.RoleVendor:
		filter.VendorID = c.id
	default:
		filter.CustomerID = c.id
	}

	invoices, err := h.Invoices.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if invoices == nil {
		invoices = []*invoice.Invoice{}
	}
	utils.WriteJSON(w, http.StatusOK, invoices)
}

func (h *Handler) ownInvoice(w http.ResponseWriter, r *http.Request, c caller, id string) (*invoice.Invoice, bool) {
	inv, err := h.Invoices.Get(r.Context(), id)
	if err == nil && !c.sees(inv.CustomerID, inv.VendorID) {
		err = invoice.ErrInvoiceNotFound
	}
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	return inv, true
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCaller(w, r)
	if !ok {
		return
	}
	inv, ok := h.ownInvoice(w, r, c, r.PathValue("id"))
	if !ok {
		return
	}
	utils.WriteJSON(w, http.StatusOK, inv)
}
