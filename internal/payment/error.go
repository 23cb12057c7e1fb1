package payment

import "errors"

var (
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrSignatureInvalid  = errors.New("payment signature is invalid")
	ErrAmountMismatch    = errors.New("paid amount does not match the payment")
	ErrAlreadyProcessed  = errors.New("payment was already processed")
	ErrInvalidAmount     = errors.New("payment amount must be positive")
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	ErrTransactionTaken  = errors.New("transaction id already recorded")
	ErrInvalidCallback   = errors.New("callback needs a transaction id and a payment id")
)
