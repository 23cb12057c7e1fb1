package reservation_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rentloop-be/internal/availability"
	"rentloop-be/internal/clock"
	"rentloop-be/internal/metrics"
	"rentloop-be/internal/product"
	"rentloop-be/internal/reservation"
	"rentloop-be/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func days(from, to int) availability.Interval {
	return availability.Interval{
		Start: day0.Add(time.Duration(from) * 24 * time.Hour),
		End:   day0.Add(time.Duration(to) * 24 * time.Hour),
	}
}

func req(productID string, qty int, iv availability.Interval) reservation.Request {
	return reservation.Request{ProductID: productID, Quantity: qty, Interval: iv}
}

type harness struct {
	store  *memory.Store
	ledger reservation.Ledger
	stats  *metrics.Ledger
}

func newHarness(products ...*product.Product) *harness {
	store := memory.New()
	for _, p := range products {
		store.PutProduct(p)
	}
	stats := &metrics.Ledger{}
	return &harness{
		store:  store,
		ledger: reservation.NewLedger(store.Holds(), store, clock.NewManual(day0), reservation.WithMetrics(stats)),
		stats:  stats,
	}
}

func TestLedger_TryHold(t *testing.T) {
	ctx := context.Background()
	h := newHarness(&product.Product{ID: "cam", QuantityOnHand: 2})

	_, err := h.ledger.TryHold(ctx, "q1", req("cam", 1, days(0, 3)))
	require.NoError(t, err)
	_, err = h.ledger.TryHold(ctx, "q2", req("cam", 1, days(1, 2)))
	require.NoError(t, err)

	_, err = h.ledger.TryHold(ctx, "q3", req("cam", 1, days(2, 4)))
	assert.ErrorIs(t, err, reservation.ErrInsufficientAvailability)

	var shortage *reservation.ShortageError
	require.True(t, errors.As(err, &shortage))
	assert.Equal(t, 0, shortage.Shortages[0].Available)
	assert.Contains(t, err.Error(), "only 0 units available")

	// Touching intervals do not overlap.
	_, err = h.ledger.TryHold(ctx, "q4", req("cam", 2, days(3, 5)))
	assert.NoError(t, err)

	assert.Equal(t, uint64(3), h.stats.HoldsGranted.Load())
	assert.Equal(t, uint64(1), h.stats.HoldsRejected.Load())
}

func TestLedger_TryHold_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(&product.Product{ID: "cam", QuantityOnHand: 2})

	_, err := h.ledger.TryHold(ctx, "q1", req("cam", 0, days(0, 1)))
	assert.ErrorIs(t, err, availability.ErrInvalidQuantity)

	_, err = h.ledger.TryHold(ctx, "q1", req("cam", 1, days(2, 1)))
	assert.ErrorIs(t, err, availability.ErrInvalidInterval)

	_, err = h.ledger.TryHold(ctx, "q1", req("unknown", 1, days(0, 1)))
	assert.ErrorIs(t, err, reservation.ErrInsufficientAvailability)
}

func TestLedger_VariantsAreTrackedSeparately(t *testing.T) {
	ctx := context.Background()
	h := newHarness(&product.Product{
		ID:             "tent",
		QuantityOnHand: 0,
		Variants: []*product.Variant{
			{ID: "green", ProductID: "tent", QuantityOnHand: 1},
			{ID: "orange", ProductID: "tent", QuantityOnHand: 1},
		},
	})
	green, orange := "green", "orange"

	_, err := h.ledger.TryHold(ctx, "q1", reservation.Request{ProductID: "tent", VariantID: &green, Quantity: 1, Interval: days(0, 2)})
	require.NoError(t, err)
	_, err = h.ledger.TryHold(ctx, "q2", reservation.Request{ProductID: "tent", VariantID: &orange, Quantity: 1, Interval: days(0, 2)})
	require.NoError(t, err)
	_, err = h.ledger.TryHold(ctx, "q3", reservation.Request{ProductID: "tent", VariantID: &green, Quantity: 1, Interval: days(1, 2)})
	assert.ErrorIs(t, err, reservation.ErrInsufficientAvailability)

	ok, err := h.ledger.IsAvailable(ctx, "tent", &orange, 1, days(2, 3))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLedger_VariantProductHasNoProductLevelPool(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.SeedDemo(day0)
	ledger := reservation.NewLedger(store.Holds(), store, clock.NewManual(day0))
	green, orange := "green", "orange"
	iv := days(1, 3)

	_, err := ledger.TryHold(ctx, "q1", req("prod-tent", 5, iv))
	assert.ErrorIs(t, err, reservation.ErrInsufficientAvailability)

	_, err = ledger.TryHold(ctx, "q2", reservation.Request{ProductID: "prod-tent", VariantID: &green, Quantity: 2, Interval: iv})
	require.NoError(t, err)
	_, err = ledger.TryHold(ctx, "q3", reservation.Request{ProductID: "prod-tent", VariantID: &orange, Quantity: 3, Interval: iv})
	require.NoError(t, err)

	_, err = ledger.ReplaceHolds(ctx, "q4", []reservation.Request{req("prod-tent", 1, iv)})
	assert.ErrorIs(t, err, reservation.ErrInsufficientAvailability)

	ok, err := ledger.IsAvailable(ctx, "prod-tent", nil, 1, iv)
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := store.Products().GetByID(ctx, "prod-tent")
	require.NoError(t, err)
	held := 0
	for _, owner := range []string{"q1", "q2", "q3", "q4"} {
		holds, err := ledger.HoldsByOwner(ctx, owner)
		require.NoError(t, err)
		for _, h := range holds {
			held += h.Quantity
		}
	}
	assert.LessOrEqual(t, held, p.QuantityOnHand)
	assert.Equal(t, 5, held)
}

func TestLedger_ConcurrentHoldsNeverOverbook(t *testing.T) {
	ctx := context.Background()
	const stock = 3
	h := newHarness(&product.Product{ID: "cam", QuantityOnHand: stock})

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			owner := "q" + string(rune('A'+i))
			if _, err := h.ledger.TryHold(ctx, owner, req("cam", 1, days(0, 3))); err == nil {
				granted.Add(1)
			} else {
				assert.ErrorIs(t, err, reservation.ErrInsufficientAvailability)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(stock), granted.Load())
	ok, err := h.ledger.IsAvailable(ctx, "cam", nil, 1, days(1, 2))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedger_ReplaceHolds(t *testing.T) {
	ctx := context.Background()

	t.Run("Own holds do not count against the replacement", func(t *testing.T) {
		h := newHarness(&product.Product{ID: "cam", QuantityOnHand: 2})
		_, err := h.ledger.ReplaceHolds(ctx, "q1", []reservation.Request{req("cam", 2, days(0, 2))})
		require.NoError(t, err)

		held, err := h.ledger.ReplaceHolds(ctx, "q1", []reservation.Request{req("cam", 2, days(0, 3))})
		require.NoError(t, err)
		require.Len(t, held, 1)

		active, err := h.ledger.HoldsByOwner(ctx, "q1")
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, days(0, 3), active[0].Interval)
	})

	t.Run("Shortage keeps the old holds", func(t *testing.T) {
		h := newHarness(
			&product.Product{ID: "cam", QuantityOnHand: 2},
			&product.Product{ID: "lens", QuantityOnHand: 1},
		)
		_, err := h.ledger.ReplaceHolds(ctx, "q1", []reservation.Request{req("cam", 1, days(0, 2))})
		require.NoError(t, err)
		_, err = h.ledger.TryHold(ctx, "other", req("lens", 1, days(0, 2)))
		require.NoError(t, err)

		_, err = h.ledger.ReplaceHolds(ctx, "q1", []reservation.Request{
			req("cam", 2, days(0, 2)),
			req("lens", 1, days(1, 2)),
		})
		var shortage *reservation.ShortageError
		require.True(t, errors.As(err, &shortage))
		require.Len(t, shortage.Shortages, 1)
		assert.Equal(t, "lens", shortage.Shortages[0].ProductID)
		assert.Equal(t, 1, shortage.Shortages[0].Line)

		active, err := h.ledger.HoldsByOwner(ctx, "q1")
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, 1, active[0].Quantity)
	})

	t.Run("Lines of one request compete with each other", func(t *testing.T) {
		h := newHarness(&product.Product{ID: "cam", QuantityOnHand: 2})
		_, err := h.ledger.ReplaceHolds(ctx, "q1", []reservation.Request{
			req("cam", 1, days(0, 2)),
			req("cam", 2, days(1, 3)),
		})
		assert.ErrorIs(t, err, reservation.ErrInsufficientAvailability)
	})
}

func TestLedger_CommitAndRelease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(&product.Product{ID: "cam", QuantityOnHand: 1})

	_, err := h.ledger.CommitOwner(ctx, "q1", "o1")
	assert.ErrorIs(t, err, reservation.ErrHoldNotFound)

	hold, err := h.ledger.TryHold(ctx, "q1", req("cam", 1, days(0, 2)))
	require.NoError(t, err)

	committed, err := h.ledger.CommitOwner(ctx, "q1", "o1")
	require.NoError(t, err)
	require.Len(t, committed, 1)
	assert.Equal(t, reservation.StateCommitted, committed[0].State)
	assert.Equal(t, "o1", committed[0].OwnerID)

	quoteHolds, err := h.ledger.HoldsByOwner(ctx, "q1")
	require.NoError(t, err)
	assert.Empty(t, quoteHolds)

	// Committed holds still block the interval.
	_, err = h.ledger.TryHold(ctx, "q2", req("cam", 1, days(1, 3)))
	assert.ErrorIs(t, err, reservation.ErrInsufficientAvailability)

	n, err := h.ledger.ReleaseOwner(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.ledger.ReleaseOwner(ctx, "o1")
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.NoError(t, h.ledger.Release(ctx, hold.ID))
	assert.ErrorIs(t, h.ledger.Commit(ctx, hold.ID), reservation.ErrAlreadyReleased)

	_, err = h.ledger.TryHold(ctx, "q2", req("cam", 1, days(1, 3)))
	assert.NoError(t, err)
}

func TestLedger_SingleHoldCommitAndRelease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(&product.Product{ID: "cam", QuantityOnHand: 1})

	hold, err := h.ledger.TryHold(ctx, "q1", req("cam", 1, days(0, 2)))
	require.NoError(t, err)

	require.NoError(t, h.ledger.Commit(ctx, hold.ID))
	require.NoError(t, h.ledger.Commit(ctx, hold.ID))
	require.NoError(t, h.ledger.Release(ctx, hold.ID))
	require.NoError(t, h.ledger.Release(ctx, hold.ID))
	assert.Equal(t, uint64(1), h.stats.Releases.Load())

	assert.ErrorIs(t, h.ledger.Release(ctx, "missing"), reservation.ErrHoldNotFound)
}
