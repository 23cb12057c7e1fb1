package product

import (
	"time"

	"rentloop-be/internal/availability"
	"rentloop-be/internal/pricing"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type Variant struct {
	ID             string `json:"id"`
	ProductID      string `json:"productId"`
	Name           string `json:"name"`
	QuantityOnHand int    `json:"quantityOnHand"`
}

type Product struct {
	ID             string           `json:"id"`
	VendorID       string           `json:"vendorId"`
	Name           string           `json:"name"`
	Status         Status           `json:"status"`
	QuantityOnHand int              `json:"quantityOnHand"`
	Variants       []*Variant       `json:"variants"`
	Pricing        pricing.RateCard `json:"pricing"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

func (p *Product) Active() bool {
	return p.Status == StatusActive
}

func (p *Product) Variant(id string) (*Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return nil, false
}

// ResolveKey checks that variantID names one of the product's variants and returns
// the stock key it is tracked under. A product with variants must be rented by
// variant; one without takes a nil variantID.
func (p *Product) ResolveKey(variantID *string) (availability.Key, error) {
	if variantID == nil || *variantID == "" {
		if len(p.Variants) > 0 {
			return availability.Key{}, ErrVariantRequired
		}
		return availability.Key{ProductID: p.ID}, nil
	}
	if _, ok := p.Variant(*variantID); !ok {
		return availability.Key{}, ErrVariantNotFound
	}
	return availability.Key{ProductID: p.ID, VariantID: *variantID}, nil
}

// Stock returns on-hand quantity per stock key: one entry per variant, or a single
// product-level entry when there are no variants.
func (p *Product) Stock() map[availability.Key]int {
	if len(p.Variants) == 0 {
		return map[availability.Key]int{{ProductID: p.ID}: p.QuantityOnHand}
	}
	stock := make(map[availability.Key]int, len(p.Variants))
	for _, v := range p.Variants {
		stock[availability.Key{ProductID: p.ID, VariantID: v.ID}] = v.QuantityOnHand
	}
	return stock
}

type ListFilter struct {
	VendorID   string
	OnlyActive bool
	Limit      int
	Offset     int
}
