package quotation

import (
	"time"

	"rentloop-be/internal/availability"
	"rentloop-be/internal/pricing"
	"rentloop-be/internal/reservation"
)

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusConfirmed Status = "CONFIRMED"
	StatusExpired   Status = "EXPIRED"
)

// Line is one priced cart line. UnitPrice and DepositPerUnit are copied from the
// product at sync time so later catalog changes do not move the quote.
type Line struct {
	ProductID      string                `json:"productId"`
	VariantID      *string               `json:"variantId,omitempty"`
	Quantity       int                   `json:"quantity"`
	Interval       availability.Interval `json:"interval"`
	DurationType   pricing.DurationType  `json:"durationType"`
	UnitPrice      int64                 `json:"unitPrice"`
	Subtotal       int64                 `json:"subtotal"`
	DepositPerUnit int64                 `json:"depositPerUnit"`
}

func (l Line) Request() reservation.Request {
	return reservation.Request{
		ProductID: l.ProductID,
		VariantID: l.VariantID,
		Quantity:  l.Quantity,
		Interval:  l.Interval,
	}
}

type Quotation struct {
	ID               string    `json:"id"`
	CustomerID       string    `json:"customerId"`
	VendorID         string    `json:"vendorId"`
	Lines            []Line    `json:"lines"`
	Status           Status    `json:"status"`
	RentalTotal      int64     `json:"rentalTotal"`
	DepositTotal     int64     `json:"depositTotal"`
	ValidUntil       time.Time `json:"validUntil"`
	ConfirmedOrderID *string   `json:"confirmedOrderId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Open quotations can still be edited, sent or confirmed.
func (q *Quotation) Open() bool {
	return q.Status == StatusDraft || q.Status == StatusSent
}

// Stale reports an open quotation whose validity has run out.
func (q *Quotation) Stale(now time.Time) bool {
	return q.Open() && !now.Before(q.ValidUntil)
}

func (q *Quotation) Requests() []reservation.Request {
	reqs := make([]reservation.Request, 0, len(q.Lines))
	for _, l := range q.Lines {
		reqs = append(reqs, l.Request())
	}
	return reqs
}

// CartLine is a line as the customer submits it, before validation and pricing.
type CartLine struct {
	ProductID    string               `json:"productId"`
	VariantID    *string              `json:"variantId,omitempty"`
	Quantity     int                  `json:"quantity"`
	Start        time.Time            `json:"start"`
	End          time.Time            `json:"end"`
	DurationType pricing.DurationType `json:"durationType"`
}

// SyncInput is a full cart snapshot. Without QuotationID the customer's open draft is
// reused, or a new one created.
type SyncInput struct {
	QuotationID *string
	CustomerID  string
	Lines       []CartLine
}
