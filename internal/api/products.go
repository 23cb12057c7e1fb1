package api

import (
	"net/http"

	"rentloop-be/internal/availability"
	"rentloop-be/internal/product"
	"rentloop-be/internal/utils"
)

type availabilityResponse struct {
	ProductID string                `json:"productId"`
	VariantID *string               `json:"variantId,omitempty"`
	Quantity  int                   `json:"quantity"`
	Interval  availability.Interval `json:"interval"`
	Available bool                  `json:"available"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := page(w, r)
	if !ok {
		return
	}
	products, err := h.Products.List(r.Context(), product.ListFilter{
		VendorID:   r.URL.Query().Get("vendorId"),
		OnlyActive: true,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if products == nil {
		products = []*product.Product{}
	}
	utils.WriteJSON(w, http.StatusOK, products)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Products.GetProductByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, p)
}

// productAvailability is advisory: the answer is not a reservation and can change
// before the customer syncs a cart.
func (h *Handler) productAvailability(w http.ResponseWriter, r *http.Request) {
	start, err := queryTime(r, "start")
	var end = start
	if err == nil {
		end, err = queryTime(r, "end")
	}
	quantity := 1
	if err == nil {
		quantity, err = queryInt(r, "quantity", 1)
	}
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, codeInvalidQuery, err.Error())
		return
	}

	iv, err := availability.NewInterval(start, end)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	p, err := h.Products.GetProductByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var variantID *string
	if v := r.URL.Query().Get("variantId"); v != "" {
		variantID = &v
	}
	if _, err := p.ResolveKey(variantID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	ok, err := h.Ledger.IsAvailable(r.Context(), p.ID, variantID, quantity, iv)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, availabilityResponse{
		ProductID: p.ID,
		VariantID: variantID,
		Quantity:  quantity,
		Interval:  iv,
		Available: ok,
	})
}
