package quotation

import (
	"context"
	"sync"
	"testing"
	"time"

	"rentloop-be/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	mu         sync.Mutex
	calls      []SyncInput
	requestIDs []string
	block      chan struct{}
	active     int
	peak       int
}

func (f *fakeSyncer) SyncCart(ctx context.Context, in SyncInput) (*Quotation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	f.requestIDs = append(f.requestIDs, logger.RequestIDFrom(ctx))
	f.active++
	f.peak = max(f.peak, f.active)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &Quotation{ID: *in.QuotationID, CustomerID: in.CustomerID, Lines: make([]Line, len(in.Lines))}, nil
}

func (f *fakeSyncer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync result")
		return Result{}
	}
}

func cart(n int) SyncInput {
	return SyncInput{CustomerID: "c1", Lines: make([]CartLine, n)}
}

func TestSyncQueue_CoalescesBurst(t *testing.T) {
	f := &fakeSyncer{}
	q := NewSyncQueue(f, 50*time.Millisecond)
	defer q.Close()

	var chans []<-chan Result
	for i := 1; i <= 5; i++ {
		chans = append(chans, q.Submit(context.Background(), "q1", cart(i)))
	}

	for _, ch := range chans {
		r := await(t, ch)
		require.NoError(t, r.Err)
		assert.Len(t, r.Quotation.Lines, 5)
	}
	assert.Equal(t, 1, f.callCount())
}

func TestSyncQueue_SeparateQuotations(t *testing.T) {
	f := &fakeSyncer{}
	q := NewSyncQueue(f, 10*time.Millisecond)
	defer q.Close()

	a := q.Submit(context.Background(), "q1", cart(1))
	b := q.Submit(context.Background(), "q2", cart(2))

	ra, rb := await(t, a), await(t, b)
	require.NoError(t, ra.Err)
	require.NoError(t, rb.Err)
	assert.Equal(t, "q1", ra.Quotation.ID)
	assert.Equal(t, "q2", rb.Quotation.ID)
	assert.Equal(t, 2, f.callCount())
}

func TestSyncQueue_NoOverlapPerQuotation(t *testing.T) {
	f := &fakeSyncer{block: make(chan struct{})}
	q := NewSyncQueue(f, 0)
	defer q.Close()

	first := q.Submit(context.Background(), "q1", cart(1))
	require.Eventually(t, func() bool { return f.callCount() == 1 }, time.Second, 5*time.Millisecond)

	second := q.Submit(context.Background(), "q1", cart(2))
	close(f.block)

	require.NoError(t, await(t, first).Err)
	r := await(t, second)
	require.NoError(t, r.Err)
	assert.Len(t, r.Quotation.Lines, 2)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.peak)
}

func TestSyncQueue_CancelPending(t *testing.T) {
	f := &fakeSyncer{}
	q := NewSyncQueue(f, time.Hour)
	defer q.Close()

	ch := q.Submit(context.Background(), "q1", cart(1))
	q.Cancel("q1")

	r := await(t, ch)
	assert.ErrorIs(t, r.Err, ErrSyncCancelled)
	assert.Zero(t, f.callCount())
}

func TestSyncQueue_CancelInFlight(t *testing.T) {
	f := &fakeSyncer{block: make(chan struct{})}
	q := NewSyncQueue(f, 0)
	defer q.Close()

	ch := q.Submit(context.Background(), "q1", cart(1))
	require.Eventually(t, func() bool { return f.callCount() == 1 }, time.Second, 5*time.Millisecond)

	q.Cancel("q1")
	assert.ErrorIs(t, await(t, ch).Err, ErrSyncCancelled)
}

func TestSyncQueue_Close(t *testing.T) {
	f := &fakeSyncer{}
	q := NewSyncQueue(f, time.Hour)

	pending := q.Submit(context.Background(), "q1", cart(1))
	q.Close()

	assert.ErrorIs(t, await(t, pending).Err, ErrQueueClosed)
	assert.ErrorIs(t, await(t, q.Submit(context.Background(), "q2", cart(1))).Err, ErrQueueClosed)
	assert.Zero(t, f.callCount())
}

func TestSyncQueue_CarriesSubmitterRequestID(t *testing.T) {
	f := &fakeSyncer{}
	q := NewSyncQueue(f, 20*time.Millisecond)
	defer q.Close()

	first, cancelFirst := context.WithCancel(logger.WithRequestID(context.Background(), "req-1"))
	a := q.Submit(first, "q1", cart(1))
	cancelFirst()
	b := q.Submit(logger.WithRequestID(context.Background(), "req-2"), "q1", cart(2))

	require.NoError(t, await(t, a).Err)
	require.NoError(t, await(t, b).Err)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"req-2"}, f.requestIDs)
}
