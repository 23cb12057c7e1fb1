package payment

import (
	"time"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Payment is one attempt to pay an invoice. It is immutable once Success or Failed.
type Payment struct {
	ID            string    `json:"id"`
	InvoiceID     string    `json:"invoiceId"`
	OrderID       string    `json:"orderId"`
	Amount        int64     `json:"amount"`
	Method        string    `json:"method"`
	Status        Status    `json:"status"`
	TransactionID *string   `json:"transactionId,omitempty"`
	Signature     *string   `json:"-"`
	FailureReason string    `json:"failureReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (p *Payment) Final() bool {
	return p.Status == StatusSuccess || p.Status == StatusFailed
}

// Callback is a gateway notification that a payment went through.
type Callback struct {
	TransactionID string `json:"transactionId"`
	PaymentID     string `json:"paymentId"`
	Signature     string `json:"signature"`
	Amount        int64  `json:"amount"`
}

// Outcome is what processing a callback resulted in, kept on the callback log.
type Outcome string

const (
	OutcomeApplied          Outcome = "APPLIED"
	OutcomeReplay           Outcome = "REPLAY"
	OutcomeSignatureInvalid Outcome = "SIGNATURE_INVALID"
	OutcomeAmountMismatch   Outcome = "AMOUNT_MISMATCH"
	OutcomeRejected         Outcome = "REJECTED"
)

// Intent is returned when a payment attempt is recorded, with the steps the
// customer follows for the chosen method.
type Intent struct {
	Payment      *Payment `json:"payment"`
	Reference    string   `json:"reference"`
	Instructions []string `json:"instructions"`
}
