// Package availability decides whether a quantity of a stock-keeping unit is free
// over a half-open time interval. Everything here is pure and safe for concurrent use;
// a result computed outside the ledger's critical section is advisory only.
package availability

import (
	"errors"
	"time"

	"rentloop-be/internal/utils"
)

var (
	ErrInvalidInterval = errors.New("interval start must be before end")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewInterval(start, end time.Time) (Interval, error) {
	iv := Interval{Start: start.UTC(), End: end.UTC()}
	if !iv.Valid() {
		return Interval{}, ErrInvalidInterval
	}
	return iv, nil
}

func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Contains reports whether t falls inside [Start, End).
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Overlaps reports whether [a.Start, a.End) and [b.Start, b.End) share an instant.
// Touching endpoints do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Key identifies one unit of stock: a product, or one variant of it.
type Key struct {
	ProductID string
	VariantID string
}

func NewKey(productID string, variantID *string) Key {
	return Key{ProductID: productID, VariantID: utils.PtrString(variantID)}
}

// Claim is anything that occupies stock over an interval, such as a reservation hold.
type Claim interface {
	StockKey() Key
	ClaimedQuantity() int
	ClaimedInterval() Interval
	Active() bool
}

// Claimed sums the quantity of active claims on key that overlap iv.
func Claimed[C Claim](claims []C, key Key, iv Interval) int {
	total := 0
	for _, c := range claims {
		if !c.Active() || c.StockKey() != key {
			continue
		}
		if Overlaps(c.ClaimedInterval(), iv) {
			total += c.ClaimedQuantity()
		}
	}
	return total
}

// Remaining is onHand minus every active claim on key overlapping iv. It may be
// negative when stock was reduced below what is already reserved.
func Remaining[C Claim](onHand int, claims []C, key Key, iv Interval) int {
	return onHand - Claimed(claims, key, iv)
}

// IsAvailable reports whether quantity units of key are free over iv.
func IsAvailable[C Claim](onHand int, claims []C, key Key, quantity int, iv Interval) bool {
	if quantity < 1 || !iv.Valid() {
		return false
	}
	return Remaining(onHand, claims, key, iv) >= quantity
}

// Validate checks the input constraints shared by every availability query.
func Validate(quantity int, iv Interval) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	if !iv.Valid() {
		return ErrInvalidInterval
	}
	return nil
}
