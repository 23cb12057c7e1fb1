package quotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rentloop-be/internal/availability"
	"rentloop-be/internal/clock"
	"rentloop-be/internal/logger"
	"rentloop-be/internal/pricing"
	"rentloop-be/internal/product"
	"rentloop-be/internal/reservation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service is the cart/quotation synchronizer. A quotation's lines and the soft holds
// backing them always change together.
type Service interface {
	SyncCart(ctx context.Context, in SyncInput) (*Quotation, error)
	DeleteIfEmpty(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Quotation, error)
	MarkSent(ctx context.Context, id string) (*Quotation, error)
	ExpireStale(ctx context.Context, limit int) (int, error)

	// Lock, ExpireIfStale and MarkConfirmed are used by order confirmation inside
	// its own atomic unit.
	Lock(ctx context.Context, id string) (*Quotation, error)
	ExpireIfStale(ctx context.Context, q *Quotation) (bool, error)
	MarkConfirmed(ctx context.Context, id, orderID string) error
}

// Catalog is the product lookup the synchronizer prices against.
type Catalog interface {
	GetProducts(ctx context.Context, ids []string) (map[string]*product.Product, error)
}

type service struct {
	repo    Repository
	ledger  reservation.Ledger
	catalog Catalog
	clock   clock.Clock
	ttl     time.Duration
}

func NewService(repo Repository, ledger reservation.Ledger, catalog Catalog, clk clock.Clock, ttl time.Duration) Service {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &service{
		repo:    repo,
		ledger:  ledger,
		catalog: catalog,
		clock:   clk,
		ttl:     ttl,
	}
}

func (s *service) SyncCart(ctx context.Context, in SyncInput) (*Quotation, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "SyncCart"),
		zap.String("customer_id", in.CustomerID),
		zap.Int("lines", len(in.Lines)),
	)

	if in.CustomerID == "" {
		return nil, ErrCustomerRequired
	}

	if len(in.Lines) == 0 {
		if in.QuotationID == nil {
			return nil, nil
		}
		if err := s.remove(ctx, *in.QuotationID, in.CustomerID); err != nil {
			return nil, err
		}
		log.Info("empty cart, quotation removed", zap.String("quotation_id", *in.QuotationID))
		return nil, nil
	}

	lines, vendorID, err := s.priceLines(ctx, in.Lines)
	if err != nil {
		log.Warn("cart rejected", zap.Error(err))
		return nil, err
	}

	var (
		result  *Quotation
		verdict error
	)
	err = s.ledger.Atomically(ctx, func(ctx context.Context) error {
		result, verdict = nil, nil
		now := s.clock.Now()

		q, err := s.load(ctx, in)
		if err != nil {
			return err
		}

		if q != nil {
			switch q.Status {
			case StatusConfirmed:
				return ErrQuotationAlreadyConfirmed
			case StatusExpired:
				return ErrQuotationExpired
			}
			if q.Stale(now) {
				if err := s.expire(ctx, q, now); err != nil {
					return err
				}
				// A stale draft found by customer is replaced by a fresh quotation.
				if in.QuotationID != nil {
					verdict = ErrQuotationExpired
					return nil
				}
				q = nil
			}
		}

		isNew := q == nil
		if isNew {
			q = &Quotation{
				ID:         uuid.NewString(),
				CustomerID: in.CustomerID,
				CreatedAt:  now,
			}
		}

		q.Lines = lines
		if _, err := s.ledger.ReplaceHolds(ctx, q.ID, q.Requests()); err != nil {
			return err
		}

		totals := pricing.QuotationTotals(pricedLines(lines))
		q.VendorID = vendorID
		q.Status = StatusDraft
		q.RentalTotal = totals.RentalTotal
		q.DepositTotal = totals.DepositTotal
		q.ValidUntil = now.Add(s.ttl)
		q.UpdatedAt = now

		if isNew {
			err = s.repo.Create(ctx, q)
		} else {
			err = s.repo.Update(ctx, q)
		}
		if err != nil {
			return err
		}
		result = q
		return nil
	})
	if err != nil {
		if errors.Is(err, reservation.ErrInsufficientAvailability) {
			log.Warn("cart sync rejected, insufficient availability", zap.Error(err))
		} else {
			log.Error("cart sync failed", zap.Error(err))
		}
		return nil, err
	}
	if verdict != nil {
		log.Info("quotation expired during sync")
		return nil, verdict
	}

	log.Info("cart synced",
		zap.String("quotation_id", result.ID),
		zap.Int64("rental_total", result.RentalTotal),
	)
	return result, nil
}

// load finds the quotation a sync targets: the named one, or the customer's open
// draft. A nil result means a new quotation must be created.
func (s *service) load(ctx context.Context, in SyncInput) (*Quotation, error) {
	if in.QuotationID != nil {
		q, err := s.repo.GetForUpdate(ctx, *in.QuotationID)
		if err != nil {
			return nil, err
		}
		if q.CustomerID != in.CustomerID {
			return nil, ErrQuotationNotFound
		}
		return q, nil
	}

	q, err := s.repo.GetOpenDraft(ctx, in.CustomerID)
	if errors.Is(err, ErrQuotationNotFound) {
		return nil, nil
	}
	return q, err
}

// priceLines validates every cart line against the catalog and prices it.
func (s *service) priceLines(ctx context.Context, cart []CartLine) ([]Line, string, error) {
	ids := make([]string, 0, len(cart))
	for _, c := range cart {
		ids = append(ids, c.ProductID)
	}
	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, "", err
	}

	var vendorID string
	lines := make([]Line, 0, len(cart))
	for i, c := range cart {
		p, ok := products[c.ProductID]
		if !ok {
			return nil, "", fmt.Errorf("line %d: %w", i, product.ErrProductNotFound)
		}
		if !p.Active() {
			return nil, "", fmt.Errorf("line %d: %w", i, product.ErrProductInactive)
		}
		if vendorID == "" {
			vendorID = p.VendorID
		} else if p.VendorID != vendorID {
			return nil, "", ErrMixedVendors
		}

		variantID := c.VariantID
		if variantID != nil && *variantID == "" {
			variantID = nil
		}
		if _, err := p.ResolveKey(variantID); err != nil {
			return nil, "", fmt.Errorf("line %d: %w", i, err)
		}

		iv, err := availability.NewInterval(c.Start, c.End)
		if err != nil {
			return nil, "", fmt.Errorf("line %d: %w", i, err)
		}
		subtotal, err := pricing.LineSubtotal(p.Pricing, c.DurationType, c.Quantity, iv)
		if err != nil {
			return nil, "", fmt.Errorf("line %d: %w", i, err)
		}
		unitPrice, _ := p.Pricing.UnitPrice(c.DurationType)

		lines = append(lines, Line{
			ProductID:      p.ID,
			VariantID:      variantID,
			Quantity:       c.Quantity,
			Interval:       iv,
			DurationType:   c.DurationType,
			UnitPrice:      unitPrice,
			Subtotal:       subtotal,
			DepositPerUnit: p.Pricing.DepositPerUnit,
		})
	}
	return lines, vendorID, nil
}

// DeleteIfEmpty removes a quotation that has no lines left. It reports whether the
// quotation was removed.
func (s *service) DeleteIfEmpty(ctx context.Context, id string) (bool, error) {
	deleted := false
	err := s.ledger.Atomically(ctx, func(ctx context.Context) error {
		deleted = false
		q, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if len(q.Lines) > 0 {
			return nil
		}
		if err := s.discard(ctx, q); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func (s *service) Delete(ctx context.Context, id string) error {
	return s.remove(ctx, id, "")
}

// remove releases the quotation's holds and deletes it. customerID, when set, must
// own the quotation.
func (s *service) remove(ctx context.Context, id, customerID string) error {
	err := s.ledger.Atomically(ctx, func(ctx context.Context) error {
		q, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if customerID != "" && q.CustomerID != customerID {
			return ErrQuotationNotFound
		}
		return s.discard(ctx, q)
	})
	if err != nil {
		return err
	}

	logger.FromCtx(ctx).Info("quotation deleted",
		zap.String("layer", "service"),
		zap.String("quotation_id", id),
	)
	return nil
}

func (s *service) discard(ctx context.Context, q *Quotation) error {
	if q.Status == StatusConfirmed {
		return ErrQuotationAlreadyConfirmed
	}
	if _, err := s.ledger.ReleaseOwner(ctx, q.ID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, q.ID)
}

// Get returns the quotation, expiring it first when its validity ran out.
func (s *service) Get(ctx context.Context, id string) (*Quotation, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !q.Stale(s.clock.Now()) {
		return q, nil
	}

	err = s.ledger.Atomically(ctx, func(ctx context.Context) error {
		locked, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.ExpireIfStale(ctx, locked); err != nil {
			return err
		}
		q = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (s *service) MarkSent(ctx context.Context, id string) (*Quotation, error) {
	var (
		result  *Quotation
		verdict error
	)
	err := s.ledger.Atomically(ctx, func(ctx context.Context) error {
		result, verdict = nil, nil
		q, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		expired, err := s.ExpireIfStale(ctx, q)
		if err != nil {
			return err
		}
		if expired {
			verdict = ErrQuotationExpired
			return nil
		}

		switch q.Status {
		case StatusConfirmed:
			return ErrQuotationAlreadyConfirmed
		case StatusExpired:
			return ErrQuotationExpired
		case StatusSent:
			result = q
			return nil
		}

		now := s.clock.Now()
		if err := s.repo.UpdateStatus(ctx, q.ID, StatusSent, nil, now); err != nil {
			return err
		}
		q.Status = StatusSent
		q.UpdatedAt = now
		result = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	if verdict != nil {
		return nil, verdict
	}
	return result, nil
}

// ExpireStale expires up to limit open quotations past their validity, releasing their
// holds. Each quotation is expired in its own unit.
func (s *service) ExpireStale(ctx context.Context, limit int) (int, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "ExpireStale"),
	)

	ids, err := s.repo.ListStale(ctx, s.clock.Now(), limit)
	if err != nil {
		log.Error("failed to list stale quotations", zap.Error(err))
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		var ok bool
		err := s.ledger.Atomically(ctx, func(ctx context.Context) error {
			q, err := s.repo.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			ok, err = s.ExpireIfStale(ctx, q)
			return err
		})
		switch {
		case err == nil && ok:
			expired++
		case err != nil && !errors.Is(err, ErrQuotationNotFound):
			log.Error("failed to expire quotation", zap.String("quotation_id", id), zap.Error(err))
		}
	}

	if expired > 0 {
		log.Info("stale quotations expired", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *service) Lock(ctx context.Context, id string) (*Quotation, error) {
	return s.repo.GetForUpdate(ctx, id)
}

// ExpireIfStale must run inside an atomic unit holding q's row lock. It reports
// whether q was expired by this call.
func (s *service) ExpireIfStale(ctx context.Context, q *Quotation) (bool, error) {
	now := s.clock.Now()
	if !q.Stale(now) {
		return false, nil
	}
	if err := s.expire(ctx, q, now); err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) expire(ctx context.Context, q *Quotation, now time.Time) error {
	released, err := s.ledger.ReleaseOwner(ctx, q.ID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, q.ID, StatusExpired, nil, now); err != nil {
		return err
	}
	q.Status = StatusExpired
	q.UpdatedAt = now

	logger.FromCtx(ctx).Info("quotation expired",
		zap.String("layer", "service"),
		zap.String("quotation_id", q.ID),
		zap.Int("holds_released", released),
	)
	return nil
}

func (s *service) MarkConfirmed(ctx context.Context, id, orderID string) error {
	return s.repo.UpdateStatus(ctx, id, StatusConfirmed, &orderID, s.clock.Now())
}

func pricedLines(lines []Line) []pricing.PricedLine {
	out := make([]pricing.PricedLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, pricing.PricedLine{
			Subtotal:       l.Subtotal,
			DepositPerUnit: l.DepositPerUnit,
			Quantity:       l.Quantity,
		})
	}
	return out
}
