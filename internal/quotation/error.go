package quotation

import "errors"

var (
	ErrQuotationNotFound         = errors.New("quotation not found")
	ErrQuotationExpired          = errors.New("quotation has expired")
	ErrQuotationAlreadyConfirmed = errors.New("quotation already confirmed")
	ErrCustomerRequired          = errors.New("customer is required")
	ErrMixedVendors              = errors.New("all lines of a quotation must come from one vendor")
	ErrSyncCancelled             = errors.New("cart sync cancelled")
	ErrQueueClosed               = errors.New("sync queue closed")
)
