package quotation

import (
	"context"
	"sync"
	"time"

	"rentloop-be/internal/logger"

	"go.uber.org/zap"
)

// Syncer is the part of Service the queue drives.
type Syncer interface {
	SyncCart(ctx context.Context, in SyncInput) (*Quotation, error)
}

type Result struct {
	Quotation *Quotation
	Err       error
}

// SyncQueue coalesces rapid cart edits per quotation. Submissions that arrive within
// the debounce window collapse into one sync of the latest snapshot, and every caller
// waiting on that window receives the same result. Runs for one quotation never
// overlap; different quotations sync in parallel.
type SyncQueue struct {
	syncer   Syncer
	debounce time.Duration
	maxDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	tasks  map[string]*syncTask
}

type syncTask struct {
	wake      chan struct{}
	pending   *SyncInput
	origin    context.Context
	waiters   []chan Result
	cancelRun context.CancelFunc
}

func NewSyncQueue(syncer Syncer, debounce time.Duration) *SyncQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncQueue{
		syncer:   syncer,
		debounce: debounce,
		maxDelay: 5 * debounce,
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(map[string]*syncTask),
	}
}

// Submit schedules a sync of in for quotationID. The returned channel receives exactly
// one Result. The run logs with the request fields of the latest submitter's ctx but
// is not cancelled by it.
func (q *SyncQueue) Submit(ctx context.Context, quotationID string, in SyncInput) <-chan Result {
	ch := make(chan Result, 1)
	in.QuotationID = &quotationID

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		ch <- Result{Err: ErrQueueClosed}
		return ch
	}

	task, ok := q.tasks[quotationID]
	if !ok {
		task = &syncTask{wake: make(chan struct{}, 1)}
		q.tasks[quotationID] = task
		q.wg.Add(1)
		go q.run(quotationID, task)
	}
	task.pending = &in
	task.origin = ctx
	task.waiters = append(task.waiters, ch)

	select {
	case task.wake <- struct{}{}:
	default:
	}
	return ch
}

// Cancel drops pending work for quotationID and aborts a sync in flight. Waiters get
// ErrSyncCancelled; an aborted run rolls back, leaving the quotation as it was.
func (q *SyncQueue) Cancel(quotationID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[quotationID]
	if !ok {
		return
	}
	for _, w := range task.waiters {
		w <- Result{Err: ErrSyncCancelled}
	}
	task.pending = nil
	task.origin = nil
	task.waiters = nil
	if task.cancelRun != nil {
		task.cancelRun()
	}
}

// Close stops accepting work, cancels everything pending and waits for workers.
func (q *SyncQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

func (q *SyncQueue) run(id string, task *syncTask) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			q.drain(task, ErrQueueClosed)
			return
		case <-task.wake:
		}

		if !q.settle(task) {
			q.drain(task, ErrQueueClosed)
			return
		}

		q.mu.Lock()
		in, waiters := task.pending, task.waiters
		runCtx, cancel := context.WithCancel(logger.Detach(q.ctx, task.origin))
		task.pending, task.origin, task.waiters = nil, nil, nil
		task.cancelRun = cancel
		q.mu.Unlock()

		if in != nil {
			quote, err := q.syncer.SyncCart(runCtx, *in)
			if err != nil && runCtx.Err() != nil && q.ctx.Err() == nil {
				err = ErrSyncCancelled
			}
			for _, w := range waiters {
				w <- Result{Quotation: quote, Err: err}
			}
			if err != nil {
				logger.FromCtx(runCtx).Debug("queued cart sync finished with error",
					zap.String("quotation_id", id),
					zap.Error(err),
				)
			}
		}
		cancel()

		q.mu.Lock()
		task.cancelRun = nil
		if task.pending == nil {
			delete(q.tasks, id)
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
	}
}

// settle waits until no submission arrived for one debounce window, or maxDelay passed
// since the first one. It returns false when the queue is shutting down.
func (q *SyncQueue) settle(task *syncTask) bool {
	if q.debounce <= 0 {
		return q.ctx.Err() == nil
	}

	quiet := time.NewTimer(q.debounce)
	defer quiet.Stop()
	deadline := time.NewTimer(q.maxDelay)
	defer deadline.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return false
		case <-deadline.C:
			return true
		case <-quiet.C:
			return true
		case <-task.wake:
			quiet.Reset(q.debounce)
		}
	}
}

func (q *SyncQueue) drain(task *syncTask, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, w := range task.waiters {
		w <- Result{Err: err}
	}
	task.pending = nil
	task.origin = nil
	task.waiters = nil
}
