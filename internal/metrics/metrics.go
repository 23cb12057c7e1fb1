package metrics

import (
	"sync/atomic"
	"time"
)

type Counter struct {
	value uint64
}

func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

func (c *Counter) Add(n uint64) {
	atomic.AddUint64(&c.value, n)
}

func (c *Counter) Load() uint64 {
	return atomic.LoadUint64(&c.value)
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Ledger counts reservation outcomes.
type Ledger struct {
	HoldsGranted  Counter
	HoldsRejected Counter
	Releases      Counter
	Contention    Counter
}

// Payments counts gateway callback outcomes.
type Payments struct {
	Applied            Counter
	DuplicateCallbacks Counter
	SignatureRejected  Counter
	AmountMismatch     Counter
}

// Snapshot is a point-in-time copy of every counter, suitable for JSON.
type Snapshot struct {
	HoldsGranted       uint64 `json:"holdsGranted"`
	HoldsRejected      uint64 `json:"holdsRejected"`
	Releases           uint64 `json:"releases"`
	LedgerContention   uint64 `json:"ledgerContention"`
	PaymentsApplied    uint64 `json:"paymentsApplied"`
	DuplicateCallbacks uint64 `json:"duplicateCallbacks"`
	SignatureRejected  uint64 `json:"signatureRejected"`
	AmountMismatch     uint64 `json:"amountMismatch"`
}

func Collect(l *Ledger, p *Payments) Snapshot {
	var s Snapshot
	if l != nil {
		s.HoldsGranted = l.HoldsGranted.Load()
		s.HoldsRejected = l.HoldsRejected.Load()
		s.Releases = l.Releases.Load()
		s.LedgerContention = l.Contention.Load()
	}
	if p != nil {
		s.PaymentsApplied = p.Applied.Load()
		s.DuplicateCallbacks = p.DuplicateCallbacks.Load()
		s.SignatureRejected = p.SignatureRejected.Load()
		s.AmountMismatch = p.AmountMismatch.Load()
	}
	return s
}
