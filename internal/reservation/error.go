package reservation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInsufficientAvailability = errors.New("insufficient availability")
	ErrHoldNotFound             = errors.New("hold not found")
	ErrAlreadyReleased          = errors.New("hold already released")
)

// Shortage describes one requested line that could not be satisfied.
type Shortage struct {
	Line      int     `json:"line"`
	ProductID string  `json:"productId"`
	VariantID *string `json:"variantId,omitempty"`
	Requested int     `json:"requested"`
	Available int     `json:"available"`
}

// ShortageError lists every short line of a rejected request set.
type ShortageError struct {
	Shortages []Shortage
}

func (e *ShortageError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("only %d units available for product %s on these dates", s.Available, s.ProductID))
	}
	return strings.Join(parts, "; ")
}

func (e *ShortageError) Unwrap() error {
	return ErrInsufficientAvailability
}
