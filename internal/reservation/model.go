package reservation

import (
	"time"

	"rentloop-be/internal/availability"
)

type State string

const (
	StateSoft      State = "SOFT"
	StateCommitted State = "COMMITTED"
	StateReleased  State = "RELEASED"
)

// Hold reserves Quantity units of a product (or variant) over Interval on behalf of
// an owner: a quotation while Soft, the order once Committed.
type Hold struct {
	ID        string                `json:"id"`
	ProductID string                `json:"productId"`
	VariantID *string               `json:"variantId,omitempty"`
	Quantity  int                   `json:"quantity"`
	Interval  availability.Interval `json:"interval"`
	OwnerID   string                `json:"ownerId"`
	State     State                 `json:"state"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

func (h Hold) StockKey() availability.Key {
	return availability.NewKey(h.ProductID, h.VariantID)
}

func (h Hold) ClaimedQuantity() int                   { return h.Quantity }
func (h Hold) ClaimedInterval() availability.Interval { return h.Interval }

// Active holds count against availability.
func (h Hold) Active() bool {
	return h.State == StateSoft || h.State == StateCommitted
}

// Request asks for Quantity units of a product (or variant) over Interval.
type Request struct {
	ProductID string
	VariantID *string
	Quantity  int
	Interval  availability.Interval
}

func (r Request) Key() availability.Key {
	return availability.NewKey(r.ProductID, r.VariantID)
}
