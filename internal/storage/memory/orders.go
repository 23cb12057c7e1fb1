package memory

import (
	"context"
	"slices"
	"time"

	"rentloop-be/internal/order"
)

type orderRepo struct {
	s *Store
}

func (r *orderRepo) Create(ctx context.Context, o *order.Order) error {
	return r.s.write(ctx, func(st *state) error {
		for _, existing := range st.orders {
			if existing.QuotationID == o.QuotationID {
				return order.ErrOrderExists
			}
		}
		st.orders[o.ID] = cloneOrder(o)
		return nil
	})
}

func (r *orderRepo) Get(ctx context.Context, id string) (*order.Order, error) {
	var out *order.Order
	err := r.s.read(ctx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return order.ErrOrderNotFound
		}
		out = cloneOrder(o)
		return nil
	})
	return out, err
}

func (r *orderRepo) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.Get(ctx, id)
}

func (r *orderRepo) GetByQuotation(ctx context.Context, quotationID string) (*order.Order, error) {
	var out *order.Order
	err := r.s.read(ctx, func(st *state) error {
		for _, o := range st.orders {
			if o.QuotationID == quotationID {
				out = cloneOrder(o)
				return nil
			}
		}
		return order.ErrOrderNotFound
	})
	return out, err
}

func (r *orderRepo) SaveTransition(ctx context.Context, o *order.Order, entry order.StatusEntry) error {
	return r.s.write(ctx, func(st *state) error {
		cur, ok := st.orders[o.ID]
		if !ok {
			return order.ErrOrderNotFound
		}
		cur.Status = o.Status
		cur.PaymentStatus = o.PaymentStatus
		cur.Pricing.LateFee = o.Pricing.LateFee
		if o.ActualReturn != nil {
			t := *o.ActualReturn
			cur.ActualReturn = &t
		}
		cur.ConditionNotes = o.ConditionNotes
		cur.CancelReason = o.CancelReason
		cur.UpdatedAt = o.UpdatedAt
		cur.History = append(cur.History, entry)
		return nil
	})
}

func (r *orderRepo) UpdatePayment(ctx context.Context, id string, amountPaid int64, status order.PaymentStatus, at time.Time) error {
	return r.s.write(ctx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return order.ErrOrderNotFound
		}
		o.AmountPaid = amountPaid
		o.PaymentStatus = status
		o.UpdatedAt = at
		return nil
	})
}

func (r *orderRepo) List(ctx context.Context, filter order.Filter) ([]*order.Order, error) {
	var all []*order.Order
	err := r.s.read(ctx, func(st *state) error {
		for _, o := range st.orders {
			if filter.CustomerID != "" && o.CustomerID != filter.CustomerID {
				continue
			}
			if filter.VendorID != "" && o.VendorID != filter.VendorID {
				continue
			}
			if filter.Status != "" && o.Status != filter.Status {
				continue
			}
			all = append(all, cloneOrder(o))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(all, func(a, b *order.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(all, filter.Limit, filter.Offset), nil
}
