package memory

import (
	"time"

	"rentloop-be/internal/pricing"
	"rentloop-be/internal/product"
)

// SeedDemo loads a small catalog for local runs.
func (s *Store) SeedDemo(now time.Time) {
	demo := []*product.Product{
		{
			ID:             "prod-camera",
			VendorID:       "vendor-lens",
			Name:           "Mirrorless Camera Kit",
			Status:         product.StatusActive,
			QuantityOnHand: 3,
			Pricing: pricing.RateCard{
				Rates:          map[pricing.DurationType]int64{pricing.Daily: 500, pricing.Weekly: 3000},
				DepositPerUnit: 5000,
			},
		},
		{
			ID:             "prod-tent",
			VendorID:       "vendor-outdoor",
			Name:           "Four Person Tent",
			Status:         product.StatusActive,
			QuantityOnHand: 5,
			Variants: []*product.Variant{
				{ID: "green", ProductID: "prod-tent", Name: "Green", QuantityOnHand: 2},
				{ID: "orange", ProductID: "prod-tent", Name: "Orange", QuantityOnHand: 3},
			},
			Pricing: pricing.RateCard{
				Rates:          map[pricing.DurationType]int64{pricing.Daily: 200, pricing.Custom: 450},
				CustomPeriod:   72 * time.Hour,
				DepositPerUnit: 1000,
			},
		},
		{
			ID:             "prod-projector",
			VendorID:       "vendor-lens",
			Name:           "Event Projector",
			Status:         product.StatusActive,
			QuantityOnHand: 1,
			Pricing: pricing.RateCard{
				Rates: map[pricing.DurationType]int64{pricing.Hourly: 80, pricing.Daily: 600},
			},
		},
	}

	for _, p := range demo {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.PutProduct(p)
	}
}
