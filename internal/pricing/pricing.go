// Package pricing turns rate cards and rental intervals into amounts. All money is
// int64 minor units; fractional intermediate results go through decimal and are
// rounded half-up exactly once.
package pricing

import (
	"errors"
	"fmt"
	"time"

	"rentloop-be/internal/availability"

	"github.com/shopspring/decimal"
)

type DurationType string

const (
	Hourly DurationType = "HOURLY"
	Daily  DurationType = "DAILY"
	Weekly DurationType = "WEEKLY"
	Custom DurationType = "CUSTOM"
)

var (
	ErrUnknownDurationType = errors.New("unknown duration type")
	ErrRateNotOffered      = errors.New("product has no rate for this duration type")
	ErrInvalidCustomPeriod = errors.New("custom duration needs a positive period")
	ErrNegativeAmount      = errors.New("amount must not be negative")
)

func (d DurationType) Valid() bool {
	switch d {
	case Hourly, Daily, Weekly, Custom:
		return true
	}
	return false
}

// RateCard is what a product charges per duration unit, plus a refundable deposit
// per rented unit.
type RateCard struct {
	Rates          map[DurationType]int64 `json:"rates"`
	CustomPeriod   time.Duration          `json:"customPeriod,omitempty"`
	DepositPerUnit int64                  `json:"depositPerUnit"`
}

// Unit returns the length of one billable unit of d.
func (c RateCard) Unit(d DurationType) (time.Duration, error) {
	switch d {
	case Hourly:
		return time.Hour, nil
	case Daily:
		return 24 * time.Hour, nil
	case Weekly:
		return 7 * 24 * time.Hour, nil
	case Custom:
		if c.CustomPeriod <= 0 {
			return 0, ErrInvalidCustomPeriod
		}
		return c.CustomPeriod, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDurationType, d)
}

func (c RateCard) UnitPrice(d DurationType) (int64, error) {
	if !d.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDurationType, d)
	}
	price, ok := c.Rates[d]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrRateNotOffered, d)
	}
	if price < 0 {
		return 0, ErrNegativeAmount
	}
	return price, nil
}

// DurationCount is the number of whole units needed to cover iv, rounded up.
func DurationCount(iv availability.Interval, unit time.Duration) int64 {
	if unit <= 0 || !iv.Valid() {
		return 0
	}
	d := iv.Duration()
	n := int64(d / unit)
	if d%unit != 0 {
		n++
	}
	return n
}

// LineSubtotal prices quantity units of the card over iv:
// unitPrice(d) * ceil(duration / unit(d)) * quantity.
func LineSubtotal(card RateCard, d DurationType, quantity int, iv availability.Interval) (int64, error) {
	if err := availability.Validate(quantity, iv); err != nil {
		return 0, err
	}
	price, err := card.UnitPrice(d)
	if err != nil {
		return 0, err
	}
	unit, err := card.Unit(d)
	if err != nil {
		return 0, err
	}
	return price * DurationCount(iv, unit) * int64(quantity), nil
}

// PricedLine is the pricing view of one quotation line.
type PricedLine struct {
	Subtotal       int64
	DepositPerUnit int64
	Quantity       int
}

type Totals struct {
	RentalTotal  int64 `json:"rentalTotal"`
	DepositTotal int64 `json:"depositTotal"`
}

func QuotationTotals(lines []PricedLine) Totals {
	var t Totals
	for _, l := range lines {
		t.RentalTotal += l.Subtotal
		t.DepositTotal += l.DepositPerUnit * int64(l.Quantity)
	}
	return t
}

type InvoiceAmounts struct {
	Subtotal       int64           `json:"subtotal"`
	DepositTotal   int64           `json:"depositTotal"`
	TaxRatePercent decimal.Decimal `json:"taxRatePercent"`
	TaxAmount      int64           `json:"taxAmount"`
	TotalAmount    int64           `json:"totalAmount"`
}

// InvoiceTotals taxes the rental subtotal only; the deposit is refundable and untaxed.
func InvoiceTotals(rentalTotal, depositTotal int64, taxRatePercent decimal.Decimal) InvoiceAmounts {
	tax := Percent(rentalTotal, taxRatePercent)
	return InvoiceAmounts{
		Subtotal:       rentalTotal,
		DepositTotal:   depositTotal,
		TaxRatePercent: taxRatePercent,
		TaxAmount:      tax,
		TotalAmount:    rentalTotal + depositTotal + tax,
	}
}

// Percent returns amount * pct / 100 rounded half-up to a minor unit.
func Percent(amount int64, pct decimal.Decimal) int64 {
	return RoundHalfUp(decimal.NewFromInt(amount).Mul(pct).Div(decimal.NewFromInt(100)))
}

// RoundHalfUp rounds to the nearest integer, ties away from zero.
func RoundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
