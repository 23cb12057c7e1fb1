package payment

import (
	"context"
	"errors"
	"strconv"
	"time"

	"rentloop-be/internal/clock"
	"rentloop-be/internal/db"
	"rentloop-be/internal/invoice"
	"rentloop-be/internal/logger"
	"rentloop-be/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service reconciles an invoice against payment attempts and gateway callbacks.
type Service interface {
	RecordAttempt(ctx context.Context, invoiceID string, amount int64, method string) (*Intent, error)
	// VerifyAndApply is idempotent per transaction id: a replay of a callback that
	// already succeeded returns nil and changes nothing.
	VerifyAndApply(ctx context.Context, cb Callback) error
	Get(ctx context.Context, id string) (*Payment, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]*Payment, error)
}

// OrderBook mirrors invoice payment progress onto the order.
type OrderBook interface {
	RecordPayment(ctx context.Context, inv *invoice.Invoice) error
}

type Option func(*service)

func WithRetryPolicy(p db.RetryPolicy) Option {
	return func(s *service) { s.retry = p }
}

func WithMetrics(m *metrics.Payments) Option {
	return func(s *service) {
		if m != nil {
			s.stats = m
		}
	}
}

type service struct {
	repo     Repository
	invoices invoice.Repository
	orders   OrderBook
	tx       db.TxManager
	verifier Verifier
	clock    clock.Clock
	retry    db.RetryPolicy
	stats    *metrics.Payments
}

func NewService(repo Repository, invoices invoice.Repository, orders OrderBook, tx db.TxManager, verifier Verifier, clk clock.Clock, opts ...Option) Service {
	s := &service{
		repo:     repo,
		invoices: invoices,
		orders:   orders,
		tx:       tx,
		verifier: verifier,
		clock:    clk,
		retry:    db.DefaultRetryPolicy,
		stats:    &metrics.Payments{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) RecordAttempt(ctx context.Context, invoiceID string, amount int64, method string) (*Intent, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "RecordAttempt"),
		zap.String("invoice_id", invoiceID),
	)

	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !SupportedMethod(method) {
		return nil, ErrUnsupportedMethod
	}

	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == invoice.StatusCancelled {
		log.Warn("payment attempt on cancelled invoice rejected")
		return nil, invoice.ErrInvoiceCancelled
	}

	now := s.clock.Now()
	p := &Payment{
		ID:        uuid.NewString(),
		InvoiceID: inv.ID,
		OrderID:   inv.OrderID,
		Amount:    amount,
		Method:    method,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	reference := inv.Number + "-" + p.ID[:8]
	steps := InjectVariables(GetInstructions(method), InstructionVars{
		"amount":    strconv.FormatInt(amount, 10),
		"reference": reference,
	})

	log.Info("payment attempt recorded",
		zap.String("payment_id", p.ID),
		zap.Int64("amount", amount),
		zap.String("payment_method", method),
	)
	return &Intent{Payment: p, Reference: reference, Instructions: steps}, nil
}

func (s *service) VerifyAndApply(ctx context.Context, cb Callback) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "VerifyAndApply"),
		zap.String("payment_id", cb.PaymentID),
		zap.String("transaction_id", cb.TransactionID),
	)

	if cb.TransactionID == "" || cb.PaymentID == "" {
		return ErrInvalidCallback
	}

	now := s.clock.Now()
	valid := s.verifier.Verify(cb)

	callbackID, duplicate, err := s.repo.SaveCallback(ctx, cb, valid, now)
	if err != nil {
		log.Error("failed to record callback", zap.Error(err))
		return err
	}
	if duplicate {
		log.Warn("duplicate callback delivery")
	}

	var (
		outcome Outcome
		verdict error
		applied *invoice.Invoice
	)
	err = db.WithRetry(ctx, s.tx, s.retry, func(ctx context.Context) error {
		outcome, verdict, applied = "", nil, nil

		if !valid {
			outcome, verdict = OutcomeSignatureInvalid, ErrSignatureInvalid
			return s.fail(ctx, cb.PaymentID, "signature invalid", now)
		}

		prior, err := s.repo.GetByTransactionID(ctx, cb.TransactionID)
		switch {
		case err == nil && prior.Status == StatusSuccess:
			outcome = OutcomeReplay
			return nil
		case err != nil && !errors.Is(err, ErrPaymentNotFound):
			return err
		}

		p, err := s.repo.GetForUpdate(ctx, cb.PaymentID)
		if err != nil {
			return err
		}
		if p.Final() {
			outcome = OutcomeRejected
			return ErrAlreadyProcessed
		}
		if cb.Amount != p.Amount {
			outcome, verdict = OutcomeAmountMismatch, ErrAmountMismatch
			return s.repo.MarkFailed(ctx, p.ID, "amount mismatch", now)
		}

		if err := s.repo.MarkSuccess(ctx, p.ID, cb.TransactionID, cb.Signature, now); err != nil {
			return err
		}
		inv, err := s.invoices.ApplyPayment(ctx, p.InvoiceID, p.Amount, now)
		if err != nil {
			return err
		}
		if err := s.orders.RecordPayment(ctx, inv); err != nil {
			return err
		}
		outcome, applied = OutcomeApplied, inv
		return nil
	})
	if errors.Is(err, ErrTransactionTaken) {
		outcome, err = OutcomeReplay, nil
	}

	if outcome != "" && !duplicate {
		if markErr := s.repo.MarkCallbackProcessed(ctx, callbackID, outcome, now); markErr != nil {
			log.Error("failed to mark callback processed", zap.Error(markErr))
		}
	}

	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) || errors.Is(err, ErrPaymentNotFound) {
			log.Warn("callback rejected", zap.Error(err))
		} else {
			log.Error("failed to apply payment", zap.Error(err))
		}
		return err
	}

	switch outcome {
	case OutcomeReplay:
		s.stats.DuplicateCallbacks.Inc()
		log.Info("transaction already applied, ignoring replay")
	case OutcomeSignatureInvalid:
		s.stats.SignatureRejected.Inc()
		log.Warn("callback signature invalid, payment marked failed")
	case OutcomeAmountMismatch:
		s.stats.AmountMismatch.Inc()
		log.Warn("callback amount mismatch, payment marked failed", zap.Int64("amount", cb.Amount))
	case OutcomeApplied:
		s.stats.Applied.Inc()
		log.Info("payment applied",
			zap.String("invoice_id", applied.ID),
			zap.Int64("amount_paid", applied.AmountPaid),
			zap.Int64("amount_due", applied.AmountDue),
			zap.String("invoice_status", string(applied.Status)),
		)
	}
	return verdict
}

// fail marks a pending payment failed. Unknown or already final payments are left
// alone; the caller reports its own verdict either way.
func (s *service) fail(ctx context.Context, paymentID, reason string, at time.Time) error {
	p, err := s.repo.GetForUpdate(ctx, paymentID)
	if errors.Is(err, ErrPaymentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.Final() {
		return nil
	}
	return s.repo.MarkFailed(ctx, p.ID, reason, at)
}

func (s *service) Get(ctx context.Context, id string) (*Payment, error) {
	return s.repo.Get(ctx, id)
}

func (s *service) ListByInvoice(ctx context.Context, invoiceID string) ([]*Payment, error) {
	return s.repo.ListByInvoice(ctx, invoiceID)
}
