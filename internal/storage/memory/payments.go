package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"rentloop-be/internal/payment"
)

type paymentRepo struct {
	s *Store
}

func (r *paymentRepo) Create(ctx context.Context, p *payment.Payment) error {
	return r.s.write(ctx, func(st *state) error {
		st.payments[p.ID] = clonePayment(p)
		return nil
	})
}

func (r *paymentRepo) Get(ctx context.Context, id string) (*payment.Payment, error) {
	var out *payment.Payment
	err := r.s.read(ctx, func(st *state) error {
		p, ok := st.payments[id]
		if !ok {
			return payment.ErrPaymentNotFound
		}
		out = clonePayment(p)
		return nil
	})
	return out, err
}

func (r *paymentRepo) GetForUpdate(ctx context.Context, id string) (*payment.Payment, error) {
	return r.Get(ctx, id)
}

func (r *paymentRepo) GetByTransactionID(ctx context.Context, transactionID string) (*payment.Payment, error) {
	var out *payment.Payment
	err := r.s.read(ctx, func(st *state) error {
		for _, p := range st.payments {
			if p.TransactionID != nil && *p.TransactionID == transactionID {
				out = clonePayment(p)
				return nil
			}
		}
		return payment.ErrPaymentNotFound
	})
	return out, err
}

func (r *paymentRepo) ListByInvoice(ctx context.Context, invoiceID string) ([]*payment.Payment, error) {
	var out []*payment.Payment
	err := r.s.read(ctx, func(st *state) error {
		for _, p := range st.payments {
			if p.InvoiceID == invoiceID {
				out = append(out, clonePayment(p))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *payment.Payment) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, err
}

func (r *paymentRepo) MarkSuccess(ctx context.Context, id, transactionID, signature string, at time.Time) error {
	return r.s.write(ctx, func(st *state) error {
		for _, other := range st.payments {
			if other.ID != id && other.TransactionID != nil && *other.TransactionID == transactionID {
				return payment.ErrTransactionTaken
			}
		}
		p, ok := st.payments[id]
		if !ok || p.Status != payment.StatusPending {
			return payment.ErrAlreadyProcessed
		}
		p.Status = payment.StatusSuccess
		p.TransactionID = &transactionID
		p.Signature = &signature
		p.UpdatedAt = at
		return nil
	})
}

func (r *paymentRepo) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	return r.s.write(ctx, func(st *state) error {
		p, ok := st.payments[id]
		if !ok || p.Status != payment.StatusPending {
			return payment.ErrAlreadyProcessed
		}
		p.Status = payment.StatusFailed
		p.FailureReason = reason
		p.UpdatedAt = at
		return nil
	})
}

func (r *paymentRepo) SaveCallback(ctx context.Context, cb payment.Callback, signatureValid bool, at time.Time) (int64, bool, error) {
	var (
		id        int64
		duplicate bool
	)
	err := r.s.write(ctx, func(st *state) error {
		for _, c := range st.callbacks {
			if c.cb.TransactionID == cb.TransactionID && c.cb.Signature == cb.Signature {
				duplicate = true
				return nil
			}
		}
		st.callbackID++
		id = st.callbackID
		st.callbacks = append(st.callbacks, callback{id: id, cb: cb, valid: signatureValid})
		return nil
	})
	return id, duplicate, err
}

func (r *paymentRepo) MarkCallbackProcessed(ctx context.Context, callbackID int64, outcome payment.Outcome, at time.Time) error {
	return r.s.write(ctx, func(st *state) error {
		for i := range st.callbacks {
			if st.callbacks[i].id == callbackID {
				st.callbacks[i].outcome = outcome
				st.callbacks[i].processed = true
			}
		}
		return nil
	})
}
