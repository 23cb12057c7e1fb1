package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rentloop-be/internal/clock"
	"rentloop-be/internal/invoice"
	"rentloop-be/internal/logger"
	"rentloop-be/internal/pricing"
	"rentloop-be/internal/quotation"
	"rentloop-be/internal/reservation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Service interface {
	ConfirmQuotation(ctx context.Context, quotationID string) (*ConfirmResult, error)
	MarkPickedUp(ctx context.Context, id, note string) (*Order, error)
	MarkWithCustomer(ctx context.Context, id, note string) (*Order, error)
	MarkReturned(ctx context.Context, id string, actualReturn time.Time, conditionNotes string) (*Order, error)
	Cancel(ctx context.Context, id, reason string) (*Order, error)
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, filter Filter) ([]*Order, error)

	// RecordPayment mirrors the invoice's payment state onto the order.
	RecordPayment(ctx context.Context, inv *invoice.Invoice) error
}

// Quotations is what confirmation needs from the quotation synchronizer.
type Quotations interface {
	Lock(ctx context.Context, id string) (*quotation.Quotation, error)
	ExpireIfStale(ctx context.Context, q *quotation.Quotation) (bool, error)
	MarkConfirmed(ctx context.Context, id, orderID string) error
}

type Config struct {
	TaxRatePercent decimal.Decimal
	LatePolicy     pricing.LatePolicy
}

type service struct {
	repo     Repository
	quotes   Quotations
	ledger   reservation.Ledger
	invoices invoice.Repository
	clock    clock.Clock
	cfg      Config
}

func NewService(repo Repository, quotes Quotations, ledger reservation.Ledger, invoices invoice.Repository, clk clock.Clock, cfg Config) Service {
	return &service{
		repo:     repo,
		quotes:   quotes,
		ledger:   ledger,
		invoices: invoices,
		clock:    clk,
		cfg:      cfg,
	}
}

// ConfirmQuotation converts a quotation into its one order. Calling it again for the
// same quotation returns the existing order with Created false.
func (s *service) ConfirmQuotation(ctx context.Context, quotationID string) (*ConfirmResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "ConfirmQuotation"),
		zap.String("quotation_id", quotationID),
	)

	var (
		result  *ConfirmResult
		verdict error
	)
	err := s.ledger.Atomically(ctx, func(ctx context.Context) error {
		result, verdict = nil, nil

		q, err := s.quotes.Lock(ctx, quotationID)
		if err != nil {
			return err
		}

		existing, err := s.repo.GetByQuotation(ctx, q.ID)
		switch {
		case err == nil:
			inv, err := s.invoices.GetByOrder(ctx, existing.ID)
			if err != nil && !errors.Is(err, invoice.ErrInvoiceNotFound) {
				return err
			}
			result = &ConfirmResult{Order: existing, Invoice: inv}
			return nil
		case !errors.Is(err, ErrOrderNotFound):
			return err
		}

		switch q.Status {
		case quotation.StatusExpired:
			return quotation.ErrQuotationExpired
		case quotation.StatusConfirmed:
			return quotation.ErrQuotationAlreadyConfirmed
		}

		expired, err := s.quotes.ExpireIfStale(ctx, q)
		if err != nil {
			return err
		}
		if expired {
			verdict = quotation.ErrQuotationExpired
			return nil
		}
		if len(q.Lines) == 0 {
			return ErrEmptyQuotation
		}

		if err := s.ensureHolds(ctx, q); err != nil {
			return err
		}

		now := s.clock.Now()
		o := newOrder(uuid.NewString(), q, s.cfg.TaxRatePercent, now)

		if _, err := s.ledger.CommitOwner(ctx, q.ID, o.ID); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, o); err != nil {
			return err
		}

		amounts := pricing.InvoiceTotals(q.RentalTotal, q.DepositTotal, s.cfg.TaxRatePercent)
		inv := invoice.New(o.ID, o.CustomerID, o.VendorID, invoiceLines(o), amounts, now)
		if err := s.invoices.Create(ctx, inv); err != nil {
			return err
		}
		if err := s.quotes.MarkConfirmed(ctx, q.ID, o.ID); err != nil {
			return err
		}

		result = &ConfirmResult{Order: o, Invoice: inv, Created: true}
		return nil
	})
	if err != nil {
		if errors.Is(err, reservation.ErrInsufficientAvailability) {
			log.Warn("confirmation rejected, insufficient availability", zap.Error(err))
		} else {
			log.Error("failed to confirm quotation", zap.Error(err))
		}
		return nil, err
	}
	if verdict != nil {
		log.Info("quotation expired before confirmation")
		return nil, verdict
	}

	if result.Created {
		log.Info("quotation confirmed",
			zap.String("order_id", result.Order.ID),
			zap.Int64("grand_total", result.Order.Pricing.GrandTotal),
		)
	} else {
		log.Info("quotation already confirmed, returning existing order",
			zap.String("order_id", result.Order.ID),
		)
	}
	return result, nil
}

// ensureHolds re-acquires the quotation's holds when they no longer match its lines,
// for example after an earlier release. It fails with a shortage if stock is gone.
func (s *service) ensureHolds(ctx context.Context, q *quotation.Quotation) error {
	holds, err := s.ledger.HoldsByOwner(ctx, q.ID)
	if err != nil {
		return err
	}
	if holdsCover(holds, q.Lines) {
		return nil
	}
	_, err = s.ledger.ReplaceHolds(ctx, q.ID, q.Requests())
	return err
}

func holdsCover(holds []reservation.Hold, lines []quotation.Line) bool {
	if len(holds) != len(lines) {
		return false
	}
	used := make([]bool, len(holds))
	for _, l := range lines {
		req := l.Request()
		found := false
		for i, h := range holds {
			if used[i] || h.State != reservation.StateSoft {
				continue
			}
			if h.StockKey() == req.Key() && h.Quantity == req.Quantity &&
				h.Interval.Start.Equal(req.Interval.Start) && h.Interval.End.Equal(req.Interval.End) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func newOrder(id string, q *quotation.Quotation, taxRate decimal.Decimal, now time.Time) *Order {
	amounts := pricing.InvoiceTotals(q.RentalTotal, q.DepositTotal, taxRate)

	o := &Order{
		ID:            id,
		QuotationID:   q.ID,
		CustomerID:    q.CustomerID,
		VendorID:      q.VendorID,
		Status:        StatusConfirmed,
		PaymentStatus: PaymentUnpaid,
		Pricing: Pricing{
			RentalTotal:    amounts.Subtotal,
			DepositTotal:   amounts.DepositTotal,
			TaxRatePercent: amounts.TaxRatePercent,
			TaxAmount:      amounts.TaxAmount,
			GrandTotal:     amounts.TotalAmount,
		},
		History: []StatusEntry{{
			Status: StatusConfirmed,
			At:     now,
			Note:   "confirmed from quotation " + q.ID,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for i, l := range q.Lines {
		o.Lines = append(o.Lines, OrderLine{
			ProductID:      l.ProductID,
			VariantID:      l.VariantID,
			Quantity:       l.Quantity,
			Interval:       l.Interval,
			DurationType:   l.DurationType,
			UnitPrice:      l.UnitPrice,
			Subtotal:       l.Subtotal,
			DepositPerUnit: l.DepositPerUnit,
		})
		if i == 0 || l.Interval.Start.Before(o.RentalStart) {
			o.RentalStart = l.Interval.Start
		}
		if i == 0 || l.Interval.End.After(o.RentalEnd) {
			o.RentalEnd = l.Interval.End
		}
	}
	return o
}

func invoiceLines(o *Order) []invoice.Line {
	lines := make([]invoice.Line, 0, 2*len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, invoice.Line{
			Kind:        invoice.LineRental,
			Description: fmt.Sprintf("Rental %s x%d (%s)", l.ProductID, l.Quantity, l.DurationType),
			ProductID:   l.ProductID,
			Quantity:    l.Quantity,
			UnitAmount:  l.UnitPrice,
			Amount:      l.Subtotal,
		})
	}
	for _, l := range o.Lines {
		if l.DepositPerUnit == 0 {
			continue
		}
		lines = append(lines, invoice.Line{
			Kind:        invoice.LineDeposit,
			Description: fmt.Sprintf("Refundable deposit %s x%d", l.ProductID, l.Quantity),
			ProductID:   l.ProductID,
			Quantity:    l.Quantity,
			UnitAmount:  l.DepositPerUnit,
			Amount:      l.DepositPerUnit * int64(l.Quantity),
		})
	}
	return lines
}

func (s *service) MarkPickedUp(ctx context.Context, id, note string) (*Order, error) {
	return s.transition(ctx, id, StatusPickedUp, note, nil)
}

func (s *service) MarkWithCustomer(ctx context.Context, id, note string) (*Order, error) {
	return s.transition(ctx, id, StatusWithCustomer, note, nil)
}

// MarkReturned releases the order's holds and charges a late fee when the return
// came after the rental end.
func (s *service) MarkReturned(ctx context.Context, id string, actualReturn time.Time, conditionNotes string) (*Order, error) {
	return s.transition(ctx, id, StatusReturned, conditionNotes, func(ctx context.Context, o *Order, now time.Time) error {
		returnedAt := actualReturn.UTC()
		if actualReturn.IsZero() {
			returnedAt = now
		}

		if _, err := s.ledger.ReleaseOwner(ctx, o.ID); err != nil {
			return err
		}

		o.ActualReturn = &returnedAt
		o.ConditionNotes = conditionNotes

		fee := pricing.LateFee(s.cfg.LatePolicy, o.RentalEnd, o.Pricing.RentalTotal, returnedAt)
		if fee == 0 {
			return nil
		}
		o.Pricing.LateFee = fee

		inv, err := s.invoices.GetByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		units := s.cfg.LatePolicy.OverdueUnits(o.RentalEnd, returnedAt)
		inv, err = s.invoices.AppendLine(ctx, inv.ID, lateFeeLine(units, fee), now)
		if err != nil {
			return err
		}
		o.PaymentStatus = PaymentStatusFor(inv)

		logger.FromCtx(ctx).Info("late fee charged",
			zap.String("order_id", o.ID),
			zap.Int64("late_fee", fee),
			zap.Int64("overdue_units", units),
		)
		return nil
	})
}

// lateFeeLine itemizes fee per overdue unit when it splits evenly, and as a single
// lump otherwise, so Quantity * UnitAmount always equals Amount.
func lateFeeLine(units, fee int64) invoice.Line {
	qty, unitAmount := units, fee/units
	if fee%units != 0 {
		qty, unitAmount = 1, fee
	}
	return invoice.Line{
		Kind:        invoice.LineLateFee,
		Description: fmt.Sprintf("Late return, %d overdue unit(s)", units),
		Quantity:    int(qty),
		UnitAmount:  unitAmount,
		Amount:      fee,
	}
}

// Cancel releases the order's holds and voids its invoice. Money already received is
// flagged as a refund obligation.
func (s *service) Cancel(ctx context.Context, id, reason string) (*Order, error) {
	return s.transition(ctx, id, StatusCancelled, reason, func(ctx context.Context, o *Order, now time.Time) error {
		if _, err := s.ledger.ReleaseOwner(ctx, o.ID); err != nil {
			return err
		}
		o.CancelReason = reason

		inv, err := s.invoices.GetByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		inv, err = s.invoices.Void(ctx, inv.ID, now)
		if err != nil {
			return err
		}
		o.PaymentStatus = PaymentStatusFor(inv)

		if inv.RefundDue > 0 {
			logger.FromCtx(ctx).Warn("order cancelled after payment, refund due",
				zap.String("order_id", o.ID),
				zap.String("invoice_id", inv.ID),
				zap.Int64("refund_due", inv.RefundDue),
			)
		}
		return nil
	})
}

type transitionHook func(ctx context.Context, o *Order, now time.Time) error

// transition moves the order along one edge of the fulfillment graph and appends
// exactly one history entry. On any failure nothing is written.
func (s *service) transition(ctx context.Context, id string, to OrderStatus, note string, hook transitionHook) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "transition"),
		zap.String("order_id", id),
		zap.String("to", string(to)),
	)

	var result *Order
	err := s.ledger.Atomically(ctx, func(ctx context.Context) error {
		result = nil
		o, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
		}

		now := s.clock.Now()
		if hook != nil {
			if err := hook(ctx, o, now); err != nil {
				return err
			}
		}

		entry := StatusEntry{Status: to, At: now, Note: note}
		o.Status = to
		o.History = append(o.History, entry)
		o.UpdatedAt = now
		if err := s.repo.SaveTransition(ctx, o, entry); err != nil {
			return err
		}
		result = o
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			log.Warn("transition rejected", zap.Error(err))
		} else if !errors.Is(err, ErrOrderNotFound) {
			log.Error("transition failed", zap.Error(err))
		}
		return nil, err
	}

	log.Info("order status updated")
	return result, nil
}

func (s *service) Get(ctx context.Context, id string) (*Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *service) List(ctx context.Context, filter Filter) ([]*Order, error) {
	return s.repo.List(ctx, filter)
}

func (s *service) RecordPayment(ctx context.Context, inv *invoice.Invoice) error {
	return s.repo.UpdatePayment(ctx, inv.OrderID, inv.AmountPaid, PaymentStatusFor(inv), s.clock.Now())
}
