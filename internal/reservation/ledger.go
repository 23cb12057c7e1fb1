package reservation

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"rentloop-be/internal/availability"
	"rentloop-be/internal/clock"
	"rentloop-be/internal/db"
	"rentloop-be/internal/logger"
	"rentloop-be/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger is the single authority on holds. Every mutating call is one atomic unit:
// it locks the touched products in ascending id order, recomputes availability from
// the holds it can see under that lock, and then writes.
type Ledger interface {
	IsAvailable(ctx context.Context, productID string, variantID *string, quantity int, iv availability.Interval) (bool, error)
	TryHold(ctx context.Context, ownerID string, req Request) (Hold, error)
	Commit(ctx context.Context, holdID string) error
	Release(ctx context.Context, holdID string) error
	ReplaceHolds(ctx context.Context, ownerID string, reqs []Request) ([]Hold, error)
	CommitOwner(ctx context.Context, ownerID, newOwnerID string) ([]Hold, error)
	ReleaseOwner(ctx context.Context, ownerID string) (int, error)
	HoldsByOwner(ctx context.Context, ownerID string) ([]Hold, error)

	// Atomically runs fn as one unit with the ledger's retry policy, so callers can
	// combine ledger calls with their own writes.
	Atomically(ctx context.Context, fn func(ctx context.Context) error) error
}

type Option func(*ledger)

func WithRetryPolicy(p db.RetryPolicy) Option {
	return func(l *ledger) { l.retry = p }
}

func WithMetrics(m *metrics.Ledger) Option {
	return func(l *ledger) {
		if m != nil {
			l.stats = m
		}
	}
}

type ledger struct {
	repo  Repository
	tx    db.TxManager
	clock clock.Clock
	retry db.RetryPolicy
	stats *metrics.Ledger
}

func NewLedger(repo Repository, tx db.TxManager, clk clock.Clock, opts ...Option) Ledger {
	l := &ledger{
		repo:  repo,
		tx:    tx,
		clock: clk,
		retry: db.DefaultRetryPolicy,
		stats: &metrics.Ledger{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *ledger) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	err := db.WithRetry(ctx, l.tx, l.retry, fn)
	if errors.Is(err, db.ErrContention) {
		l.stats.Contention.Inc()
		logger.FromCtx(ctx).Warn("ledger contention persisted after retries",
			zap.String("layer", "service"),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrInsufficientAvailability, err)
	}
	return err
}

// IsAvailable is advisory: it reads without locking, so the answer can be stale by
// the time the caller acts on it.
func (l *ledger) IsAvailable(ctx context.Context, productID string, variantID *string, quantity int, iv availability.Interval) (bool, error) {
	if err := availability.Validate(quantity, iv); err != nil {
		return false, err
	}

	ids := []string{productID}
	stock, err := l.repo.GetStock(ctx, ids)
	if err != nil {
		return false, err
	}
	holds, err := l.repo.ListActiveHolds(ctx, ids)
	if err != nil {
		return false, err
	}

	key := availability.NewKey(productID, variantID)
	return availability.IsAvailable(stock[key], holds, key, quantity, iv), nil
}

func (l *ledger) TryHold(ctx context.Context, ownerID string, req Request) (Hold, error) {
	if err := availability.Validate(req.Quantity, req.Interval); err != nil {
		return Hold{}, err
	}

	var granted []Hold
	err := l.Atomically(ctx, func(ctx context.Context) error {
		held, err := l.reserve(ctx, ownerID, []Request{req}, nil, nil)
		if err != nil {
			return err
		}
		if err := l.repo.InsertHolds(ctx, held); err != nil {
			return err
		}
		granted = held
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientAvailability) {
			l.stats.HoldsRejected.Inc()
		}
		return Hold{}, err
	}

	l.stats.HoldsGranted.Inc()
	return granted[0], nil
}

func (l *ledger) Commit(ctx context.Context, holdID string) error {
	return l.Atomically(ctx, func(ctx context.Context) error {
		h, err := l.repo.GetHoldForUpdate(ctx, holdID)
		if err != nil {
			return err
		}
		switch h.State {
		case StateCommitted:
			return nil
		case StateReleased:
			return ErrAlreadyReleased
		}
		return l.repo.UpdateHoldState(ctx, []string{h.ID}, StateCommitted, l.clock.Now())
	})
}

// Release is idempotent: releasing a released hold succeeds without a write.
func (l *ledger) Release(ctx context.Context, holdID string) error {
	released := false
	err := l.Atomically(ctx, func(ctx context.Context) error {
		released = false
		h, err := l.repo.GetHoldForUpdate(ctx, holdID)
		if err != nil {
			return err
		}
		if h.State == StateReleased {
			return nil
		}
		if err := l.repo.UpdateHoldState(ctx, []string{h.ID}, StateReleased, l.clock.Now()); err != nil {
			return err
		}
		released = true
		return nil
	})
	if err == nil && released {
		l.stats.Releases.Inc()
	}
	return err
}

// ReplaceHolds swaps the owner's soft holds for holds covering reqs. On a shortage it
// returns a *ShortageError naming every short line and leaves the old holds intact.
func (l *ledger) ReplaceHolds(ctx context.Context, ownerID string, reqs []Request) ([]Hold, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "ReplaceHolds"),
		zap.String("owner_id", ownerID),
		zap.Int("lines", len(reqs)),
	)

	for i, req := range reqs {
		if err := availability.Validate(req.Quantity, req.Interval); err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}
	}

	var (
		granted  []Hold
		released int
	)
	err := l.Atomically(ctx, func(ctx context.Context) error {
		existing, err := l.repo.ListHoldsByOwner(ctx, ownerID, true)
		if err != nil {
			return err
		}

		replaced := make(map[string]bool, len(existing))
		var replacedIDs, extraProducts []string
		for _, h := range existing {
			if h.State == StateSoft {
				replaced[h.ID] = true
				replacedIDs = append(replacedIDs, h.ID)
				extraProducts = append(extraProducts, h.ProductID)
			}
		}

		held, err := l.reserve(ctx, ownerID, reqs, replaced, extraProducts)
		if err != nil {
			return err
		}

		now := l.clock.Now()
		if err := l.repo.UpdateHoldState(ctx, replacedIDs, StateReleased, now); err != nil {
			return err
		}
		if err := l.repo.InsertHolds(ctx, held); err != nil {
			return err
		}

		granted = held
		released = len(replacedIDs)
		return nil
	})
	if err != nil {
		var shortage *ShortageError
		if errors.As(err, &shortage) {
			l.stats.HoldsRejected.Add(uint64(len(shortage.Shortages)))
			log.Warn("hold request rejected", zap.Any("shortages", shortage.Shortages))
		}
		return nil, err
	}

	l.stats.HoldsGranted.Add(uint64(len(granted)))
	l.stats.Releases.Add(uint64(released))
	log.Debug("holds replaced", zap.Int("released", released), zap.Int("granted", len(granted)))
	return granted, nil
}

// CommitOwner turns every soft hold of ownerID into a committed hold and, when
// newOwnerID is set, hands the holds to it.
func (l *ledger) CommitOwner(ctx context.Context, ownerID, newOwnerID string) ([]Hold, error) {
	var committed []Hold
	err := l.Atomically(ctx, func(ctx context.Context) error {
		holds, err := l.repo.ListHoldsByOwner(ctx, ownerID, true)
		if err != nil {
			return err
		}
		if len(holds) == 0 {
			return ErrHoldNotFound
		}

		products := make([]string, 0, len(holds))
		for _, h := range holds {
			products = append(products, h.ProductID)
		}
		if _, err := l.repo.LockStock(ctx, sortedUnique(products)); err != nil {
			return err
		}

		now := l.clock.Now()
		var softIDs, allIDs []string
		for i := range holds {
			allIDs = append(allIDs, holds[i].ID)
			if holds[i].State == StateSoft {
				softIDs = append(softIDs, holds[i].ID)
				holds[i].State = StateCommitted
				holds[i].UpdatedAt = now
			}
		}
		if err := l.repo.UpdateHoldState(ctx, softIDs, StateCommitted, now); err != nil {
			return err
		}

		if newOwnerID != "" && newOwnerID != ownerID {
			if err := l.repo.ReassignOwner(ctx, allIDs, newOwnerID, now); err != nil {
				return err
			}
			for i := range holds {
				holds[i].OwnerID = newOwnerID
			}
		}
		committed = holds
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// ReleaseOwner releases every active hold of ownerID and reports how many there were.
func (l *ledger) ReleaseOwner(ctx context.Context, ownerID string) (int, error) {
	count := 0
	err := l.Atomically(ctx, func(ctx context.Context) error {
		holds, err := l.repo.ListHoldsByOwner(ctx, ownerID, true)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(holds))
		for _, h := range holds {
			ids = append(ids, h.ID)
		}
		if err := l.repo.UpdateHoldState(ctx, ids, StateReleased, l.clock.Now()); err != nil {
			return err
		}
		count = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	l.stats.Releases.Add(uint64(count))
	return count, nil
}

func (l *ledger) HoldsByOwner(ctx context.Context, ownerID string) ([]Hold, error) {
	return l.repo.ListHoldsByOwner(ctx, ownerID, true)
}

// reserve locks the products touched by reqs (plus extra) and builds new soft holds,
// ignoring the holds in exclude when computing what remains. Nothing is written.
func (l *ledger) reserve(ctx context.Context, ownerID string, reqs []Request, exclude map[string]bool, extra []string) ([]Hold, error) {
	products := slices.Clone(extra)
	for _, r := range reqs {
		products = append(products, r.ProductID)
	}
	products = sortedUnique(products)

	stock, err := l.repo.LockStock(ctx, products)
	if err != nil {
		return nil, err
	}
	all, err := l.repo.ListActiveHolds(ctx, products)
	if err != nil {
		return nil, err
	}

	active := make([]Hold, 0, len(all)+len(reqs))
	for _, h := range all {
		if !exclude[h.ID] {
			active = append(active, h)
		}
	}

	now := l.clock.Now()
	var (
		created   []Hold
		shortages []Shortage
	)
	for i, req := range reqs {
		key := req.Key()
		remaining := availability.Remaining(stock[key], active, key, req.Interval)
		if remaining < req.Quantity {
			shortages = append(shortages, Shortage{
				Line:      i,
				ProductID: req.ProductID,
				VariantID: req.VariantID,
				Requested: req.Quantity,
				Available: max(remaining, 0),
			})
			continue
		}

		h := Hold{
			ID:        uuid.NewString(),
			ProductID: req.ProductID,
			VariantID: req.VariantID,
			Quantity:  req.Quantity,
			Interval:  req.Interval,
			OwnerID:   ownerID,
			State:     StateSoft,
			CreatedAt: now,
			UpdatedAt: now,
		}
		active = append(active, h)
		created = append(created, h)
	}

	if len(shortages) > 0 {
		return nil, &ShortageError{Shortages: shortages}
	}
	return created, nil
}

func sortedUnique(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
