package invoice

import (
	"time"

	"rentloop-be/internal/pricing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusUnpaid        Status = "UNPAID"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusCancelled     Status = "CANCELLED"
)

type LineKind string

const (
	LineRental  LineKind = "RENTAL"
	LineDeposit LineKind = "DEPOSIT"
	LineTax     LineKind = "TAX"
	LineLateFee LineKind = "LATE_FEE"
)

type Line struct {
	Kind        LineKind `json:"kind"`
	Description string   `json:"description"`
	ProductID   string   `json:"productId,omitempty"`
	Quantity    int      `json:"quantity"`
	UnitAmount  int64    `json:"unitAmount"`
	Amount      int64    `json:"amount"`
}

type Invoice struct {
	ID             string          `json:"id"`
	Number         string          `json:"number"`
	OrderID        string          `json:"orderId"`
	CustomerID     string          `json:"customerId"`
	VendorID       string          `json:"vendorId"`
	Lines          []Line          `json:"lines"`
	Subtotal       int64           `json:"subtotal"`
	DepositTotal   int64           `json:"depositTotal"`
	TaxRatePercent decimal.Decimal `json:"taxRatePercent"`
	TaxAmount      int64           `json:"taxAmount"`
	LateFeeTotal   int64           `json:"lateFeeTotal"`
	TotalAmount    int64           `json:"totalAmount"`
	AmountPaid     int64           `json:"amountPaid"`
	AmountDue      int64           `json:"amountDue"`
	RefundDue      int64           `json:"refundDue"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// New builds an unpaid invoice. lines are the rental and deposit lines; the tax line
// is derived from amounts.
func New(orderID, customerID, vendorID string, lines []Line, amounts pricing.InvoiceAmounts, now time.Time) *Invoice {
	all := make([]Line, 0, len(lines)+1)
	all = append(all, lines...)
	if amounts.TaxAmount > 0 {
		all = append(all, Line{
			Kind:        LineTax,
			Description: "Tax " + amounts.TaxRatePercent.String() + "%",
			Quantity:    1,
			UnitAmount:  amounts.TaxAmount,
			Amount:      amounts.TaxAmount,
		})
	}

	id := uuid.NewString()
	return &Invoice{
		ID:             id,
		Number:         Number(id, now),
		OrderID:        orderID,
		CustomerID:     customerID,
		VendorID:       vendorID,
		Lines:          all,
		Subtotal:       amounts.Subtotal,
		DepositTotal:   amounts.DepositTotal,
		TaxRatePercent: amounts.TaxRatePercent,
		TaxAmount:      amounts.TaxAmount,
		TotalAmount:    amounts.TotalAmount,
		AmountDue:      amounts.TotalAmount,
		Status:         StatusFor(amounts.TotalAmount, 0),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// StatusFor derives the payment status of a live invoice.
func StatusFor(total, paid int64) Status {
	switch {
	case paid >= total:
		return StatusPaid
	case paid > 0:
		return StatusPartiallyPaid
	default:
		return StatusUnpaid
	}
}

// ApplyPayment adds amount to what was received. Money arriving on a cancelled invoice
// becomes a refund obligation instead of reducing the amount due.
func (inv *Invoice) ApplyPayment(amount int64, at time.Time) {
	inv.AmountPaid += amount
	if inv.Status == StatusCancelled {
		inv.RefundDue += amount
	} else {
		inv.AmountDue = max(inv.TotalAmount-inv.AmountPaid, 0)
		inv.Status = StatusFor(inv.TotalAmount, inv.AmountPaid)
	}
	inv.UpdatedAt = at
}

// AddLine appends a charge and grows the total and amount due with it.
func (inv *Invoice) AddLine(line Line, at time.Time) error {
	if inv.Status == StatusCancelled {
		return ErrInvoiceCancelled
	}
	inv.Lines = append(inv.Lines, line)
	inv.TotalAmount += line.Amount
	if line.Kind == LineLateFee {
		inv.LateFeeTotal += line.Amount
	}
	inv.AmountDue = max(inv.TotalAmount-inv.AmountPaid, 0)
	inv.Status = StatusFor(inv.TotalAmount, inv.AmountPaid)
	inv.UpdatedAt = at
	return nil
}

// Void cancels the invoice. Whatever was already paid is owed back to the customer.
func (inv *Invoice) Void(at time.Time) {
	if inv.Status == StatusCancelled {
		return
	}
	inv.Status = StatusCancelled
	inv.AmountDue = 0
	inv.RefundDue = inv.AmountPaid
	inv.UpdatedAt = at
}

type Filter struct {
	CustomerID string
	VendorID   string
	Status     Status
	Limit      int
	Offset     int
}
