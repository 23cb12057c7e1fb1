package invoice

import "errors"

var (
	ErrInvoiceNotFound  = errors.New("invoice not found")
	ErrInvoiceCancelled = errors.New("invoice is cancelled")
)
