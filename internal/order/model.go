package order

import (
	"time"

	"rentloop-be/internal/availability"
	"rentloop-be/internal/invoice"
	"rentloop-be/internal/pricing"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusConfirmed    OrderStatus = "CONFIRMED"
	StatusPickedUp     OrderStatus = "PICKED_UP"
	StatusWithCustomer OrderStatus = "WITH_CUSTOMER"
	StatusReturned     OrderStatus = "RETURNED"
	StatusCancelled    OrderStatus = "CANCELLED"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusConfirmed:    {StatusPickedUp, StatusCancelled},
	StatusPickedUp:     {StatusWithCustomer, StatusReturned},
	StatusWithCustomer: {StatusReturned},
}

// CanTransition reports whether the fulfillment graph has an edge from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentStatus is bookkeeping only; it never moves the fulfillment status.
type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "UNPAID"
	PaymentPartiallyPaid PaymentStatus = "PARTIALLY_PAID"
	PaymentPaid          PaymentStatus = "PAID"
	PaymentRefundDue     PaymentStatus = "REFUND_DUE"
	PaymentVoid          PaymentStatus = "VOID"
)

func PaymentStatusFor(inv *invoice.Invoice) PaymentStatus {
	switch inv.Status {
	case invoice.StatusPaid:
		return PaymentPaid
	case invoice.StatusPartiallyPaid:
		return PaymentPartiallyPaid
	case invoice.StatusCancelled:
		if inv.RefundDue > 0 {
			return PaymentRefundDue
		}
		return PaymentVoid
	default:
		return PaymentUnpaid
	}
}

type StatusEntry struct {
	Status OrderStatus `json:"status"`
	At     time.Time   `json:"at"`
	Note   string      `json:"note,omitempty"`
}

// OrderLine is a frozen copy of a confirmed quotation line.
type OrderLine struct {
	ProductID      string                `json:"productId"`
	VariantID      *string               `json:"variantId,omitempty"`
	Quantity       int                   `json:"quantity"`
	Interval       availability.Interval `json:"interval"`
	DurationType   pricing.DurationType  `json:"durationType"`
	UnitPrice      int64                 `json:"unitPrice"`
	Subtotal       int64                 `json:"subtotal"`
	DepositPerUnit int64                 `json:"depositPerUnit"`
}

type Pricing struct {
	RentalTotal    int64           `json:"rentalTotal"`
	DepositTotal   int64           `json:"depositTotal"`
	TaxRatePercent decimal.Decimal `json:"taxRatePercent"`
	TaxAmount      int64           `json:"taxAmount"`
	GrandTotal     int64           `json:"grandTotal"`
	LateFee        int64           `json:"lateFee"`
}

type Order struct {
	ID             string        `json:"id"`
	QuotationID    string        `json:"quotationId"`
	CustomerID     string        `json:"customerId"`
	VendorID       string        `json:"vendorId"`
	Lines          []OrderLine   `json:"lines"`
	Status         OrderStatus   `json:"status"`
	History        []StatusEntry `json:"history"`
	Pricing        Pricing       `json:"pricing"`
	AmountPaid     int64         `json:"amountPaid"`
	PaymentStatus  PaymentStatus `json:"paymentStatus"`
	RentalStart    time.Time     `json:"rentalStart"`
	RentalEnd      time.Time     `json:"rentalEnd"`
	ActualReturn   *time.Time    `json:"actualReturn,omitempty"`
	ConditionNotes string        `json:"conditionNotes,omitempty"`
	CancelReason   string        `json:"cancelReason,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

type Filter struct {
	CustomerID string
	VendorID   string
	Status     OrderStatus
	Limit      int
	Offset     int
}

type ConfirmResult struct {
	Order   *Order           `json:"order"`
	Invoice *invoice.Invoice `json:"invoice,omitempty"`
	// Created is false when the quotation had already been confirmed.
	Created bool `json:"created"`
}
