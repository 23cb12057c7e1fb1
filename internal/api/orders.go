package api

import (
	"net/http"
	"time"

	"rentloop-be/internal/order"
	"rentloop-be/internal/utils"
)

type noteRequest struct {
	Note string `json:"note"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type returnRequest struct {
	ActualReturn   *time.Time `json:"actualReturn"`
	ConditionNotes string     `json:"conditionNotes"`
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCaller(w, r)
	if !ok {
		return
	}
	limit, offset, ok := page(w, r)
	if !ok {
		return
	}

	filter := order.Filter{
		Status: order.OrderStatus(r.URL.Query().Get("status")),
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

	orders, err := h.Orders.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*order.Order{}
	}
	utils.WriteJSON(w, http.StatusOK, orders)
}

func (h *Handler) ownOrder(w http.ResponseWriter, r *http.Request, c caller) (*order.Order, bool) {
	o, err := h.Orders.Get(r.Context(), r.PathValue("id"))
	if err == nil && !c.sees(o.CustomerID, o.VendorID) {
		err = order.ErrOrderNotFound
	}
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	return o, true
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCaller(w, r)
	if !ok {
		return
	}
	o, ok := h.ownOrder(w, r, c)
	if !ok {
		return
	}
	utils.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	c, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if !decode(w, r, &req, true) {
		return
	}
	o, ok := h.ownOrder(w, r, c)
	if !ok {
		return
	}

	cancelled, err := h.Orders.Cancel(r.Context(), o.ID, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, cancelled)
}

// staffOrder loads an order whose fulfillment the caller (its vendor or an admin)
// may advance.
func (h *Handler) staffOrder(w http.ResponseWriter, r *http.Request) (*order.Order, bool) {
	c, ok := requireCaller(w, r)
	if !ok {
		return nil, false
	}
	if !c.staff() {
		writeServiceError(w, r, order.ErrUnauthorized)
		return nil, false
	}
	return h.ownOrder(w, r, c)
}

func (h *Handler) pickUpOrder(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !decode(w, r, &req, true) {
		return
	}
	o, ok := h.staffOrder(w, r)
	if !ok {
		return
	}
	h.writeOrder(w, r)(h.Orders.MarkPickedUp(r.Context(), o.ID, req.Note))
}

func (h *Handler) orderWithCustomer(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !decode(w, r, &req, true) {
		return
	}
	o, ok := h.staffOrder(w, r)
	if !ok {
		return
	}
	h.writeOrder(w, r)(h.Orders.MarkWithCustomer(r.Context(), o.ID, req.Note))
}

func (h *Handler) returnOrder(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if !decode(w, r, &req, true) {
		return
	}
	o, ok := h.staffOrder(w, r)
	if !ok {
		return
	}
	var at time.Time
	if req.ActualReturn != nil {
		at = *req.ActualReturn
	}
	h.writeOrder(w, r)(h.Orders.MarkReturned(r.Context(), o.ID, at, req.ConditionNotes))
}

func (h *Handler) writeOrder(w http.ResponseWriter, r *http.Request) func(*order.Order, error) {
	return func(o *order.Order, err error) {
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		utils.WriteJSON(w, http.StatusOK, o)
	}
}
