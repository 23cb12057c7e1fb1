package memory

import (
	"context"
	"slices"
	"time"

	"rentloop-be/internal/invoice"
)

type invoiceRepo struct {
	s *Store
}

func (r *invoiceRepo) Create(ctx context.Context, inv *invoice.Invoice) error {
	return r.s.write(ctx, func(st *state) error {
		st.invoices[inv.ID] = cloneInvoice(inv)
		return nil
	})
}

func (r *invoiceRepo) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	var out *invoice.Invoice
	err := r.s.read(ctx, func(st *state) error {
		inv, ok := st.invoices[id]
		if !ok {
			return invoice.ErrInvoiceNotFound
		}
		out = cloneInvoice(inv)
		return nil
	})
	return out, err
}

func (r *invoiceRepo) GetByOrder(ctx context.Context, orderID string) (*invoice.Invoice, error) {
	var out *invoice.Invoice
	err := r.s.read(ctx, func(st *state) error {
		for _, inv := range st.invoices {
			if inv.OrderID == orderID {
				out = cloneInvoice(inv)
				return nil
			}
		}
		return invoice.ErrInvoiceNotFound
	})
	return out, err
}

func (r *invoiceRepo) GetForUpdate(ctx context.Context, id string) (*invoice.Invoice, error) {
	return r.Get(ctx, id)
}

func (r *invoiceRepo) List(ctx context.Context, filter invoice.Filter) ([]*invoice.Invoice, error) {
	var all []*invoice.Invoice
	err := r.s.read(ctx, func(st *state) error {
		for _, inv := range st.invoices {
			if filter.CustomerID != "" && inv.CustomerID != filter.CustomerID {
				continue
			}
			if filter.VendorID != "" && inv.VendorID != filter.VendorID {
				continue
			}
			if filter.Status != "" && inv.Status != filter.Status {
				continue
			}
			all = append(all, cloneInvoice(inv))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(all, func(a, b *invoice.Invoice) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(all, filter.Limit, filter.Offset), nil
}

func (r *invoiceRepo) ApplyPayment(ctx context.Context, id string, amount int64, at time.Time) (*invoice.Invoice, error) {
	return r.mutate(ctx, id, func(inv *invoice.Invoice) error {
		inv.ApplyPayment(amount, at)
		return nil
	})
}

func (r *invoiceRepo) AppendLine(ctx context.Context, id string, line invoice.Line, at time.Time) (*invoice.Invoice, error) {
	return r.mutate(ctx, id, func(inv *invoice.Invoice) error {
		return inv.AddLine(line, at)
	})
}

func (r *invoiceRepo) Void(ctx context.Context, id string, at time.Time) (*invoice.Invoice, error) {
	return r.mutate(ctx, id, func(inv *invoice.Invoice) error {
		inv.Void(at)
		return nil
	})
}

// mutate applies fn to a copy and stores it only when fn succeeds.
func (r *invoiceRepo) mutate(ctx context.Context, id string, fn func(inv *invoice.Invoice) error) (*invoice.Invoice, error) {
	var out *invoice.Invoice
	err := r.s.write(ctx, func(st *state) error {
		cur, ok := st.invoices[id]
		if !ok {
			return invoice.ErrInvoiceNotFound
		}
		next := cloneInvoice(cur)
		if err := fn(next); err != nil {
			return err
		}
		st.invoices[id] = next
		out = cloneInvoice(next)
		return nil
	})
	return out, err
}
