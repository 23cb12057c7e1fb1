package order

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderExists       = errors.New("order already exists for quotation")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrEmptyQuotation    = errors.New("quotation has no lines")
	ErrUnauthorized      = errors.New("unauthorized")
)
