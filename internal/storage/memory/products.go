package memory

import (
	"cmp"
	"context"
	"slices"

	"rentloop-be/internal/product"
)

type productRepo struct {
	s *Store
}

func (r *productRepo) GetByID(ctx context.Context, id string) (*product.Product, error) {
	var out *product.Product
	err := r.s.read(ctx, func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return product.ErrProductNotFound
		}
		out = cloneProduct(p)
		return nil
	})
	return out, err
}

func (r *productRepo) GetByIDs(ctx context.Context, ids []string) (map[string]*product.Product, error) {
	out := make(map[string]*product.Product, len(ids))
	err := r.s.read(ctx, func(st *state) error {
		for _, id := range ids {
			if p, ok := st.products[id]; ok {
				out[id] = cloneProduct(p)
			}
		}
		return nil
	})
	return out, err
}

func (r *productRepo) List(ctx context.Context, filter product.ListFilter) ([]*product.Product, error) {
	var all []*product.Product
	err := r.s.read(ctx, func(st *state) error {
		for _, p := range st.products {
			if filter.VendorID != "" && p.VendorID != filter.VendorID {
				continue
			}
			if filter.OnlyActive && !p.Active() {
				continue
			}
			all = append(all, cloneProduct(p))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(all, func(a, b *product.Product) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return page(all, filter.Limit, filter.Offset), nil
}
