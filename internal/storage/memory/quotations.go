package memory

import (
	"context"
	"slices"
	"time"

	"rentloop-be/internal/quotation"
)

type quotationRepo struct {
	s *Store
}

func (r *quotationRepo) Create(ctx context.Context, q *quotation.Quotation) error {
	return r.s.write(ctx, func(st *state) error {
		st.quotations[q.ID] = cloneQuotation(q)
		return nil
	})
}

func (r *quotationRepo) Get(ctx context.Context, id string) (*quotation.Quotation, error) {
	var out *quotation.Quotation
	err := r.s.read(ctx, func(st *state) error {
		q, ok := st.quotations[id]
		if !ok {
			return quotation.ErrQuotationNotFound
		}
		out = cloneQuotation(q)
		return nil
	})
	return out, err
}

func (r *quotationRepo) GetForUpdate(ctx context.Context, id string) (*quotation.Quotation, error) {
	return r.Get(ctx, id)
}

func (r *quotationRepo) GetOpenDraft(ctx context.Context, customerID string) (*quotation.Quotation, error) {
	var out *quotation.Quotation
	err := r.s.read(ctx, func(st *state) error {
		for _, q := range st.quotations {
			if q.CustomerID != customerID || q.Status != quotation.StatusDraft {
				continue
			}
			if out == nil || q.UpdatedAt.After(out.UpdatedAt) {
				out = q
			}
		}
		if out == nil {
			return quotation.ErrQuotationNotFound
		}
		out = cloneQuotation(out)
		return nil
	})
	return out, err
}

func (r *quotationRepo) Update(ctx context.Context, q *quotation.Quotation) error {
	return r.s.write(ctx, func(st *state) error {
		cur, ok := st.quotations[q.ID]
		if !ok {
			return quotation.ErrQuotationNotFound
		}
		next := cloneQuotation(q)
		next.CustomerID = cur.CustomerID
		next.CreatedAt = cur.CreatedAt
		next.ConfirmedOrderID = cur.ConfirmedOrderID
		st.quotations[q.ID] = next
		return nil
	})
}

func (r *quotationRepo) UpdateStatus(ctx context.Context, id string, status quotation.Status, confirmedOrderID *string, at time.Time) error {
	return r.s.write(ctx, func(st *state) error {
		q, ok := st.quotations[id]
		if !ok {
			return quotation.ErrQuotationNotFound
		}
		q.Status = status
		if confirmedOrderID != nil {
			orderID := *confirmedOrderID
			q.ConfirmedOrderID = &orderID
		}
		q.UpdatedAt = at
		return nil
	})
}

func (r *quotationRepo) Delete(ctx context.Context, id string) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.quotations[id]; !ok {
			return quotation.ErrQuotationNotFound
		}
		delete(st.quotations, id)
		return nil
	})
}

func (r *quotationRepo) ListStale(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var stale []*quotation.Quotation
	err := r.s.read(ctx, func(st *state) error {
		for _, q := range st.quotations {
			if q.Stale(now) {
				stale = append(stale, q)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(stale, func(a, b *quotation.Quotation) int {
		return a.ValidUntil.Compare(b.ValidUntil)
	})

	ids := make([]string, 0, len(stale))
	for _, q := range stale {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, q.ID)
	}
	return ids, nil
}
