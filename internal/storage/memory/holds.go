package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"rentloop-be/internal/availability"
	"rentloop-be/internal/reservation"
)

type holdRepo struct {
	s *Store
}

// LockStock needs no row locks here; the enclosing transaction already holds the
// store mutex.
func (r *holdRepo) LockStock(ctx context.Context, productIDs []string) (map[availability.Key]int, error) {
	return r.GetStock(ctx, productIDs)
}

func (r *holdRepo) GetStock(ctx context.Context, productIDs []string) (map[availability.Key]int, error) {
	stock := map[availability.Key]int{}
	err := r.s.read(ctx, func(st *state) error {
		for _, id := range productIDs {
			if p, ok := st.products[id]; ok {
				for k, v := range p.Stock() {
					stock[k] = v
				}
			}
		}
		return nil
	})
	return stock, err
}

func (r *holdRepo) ListActiveHolds(ctx context.Context, productIDs []string) ([]reservation.Hold, error) {
	wanted := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = true
	}

	var out []reservation.Hold
	err := r.s.read(ctx, func(st *state) error {
		for _, h := range st.holds {
			if h.Active() && wanted[h.ProductID] {
				out = append(out, h)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b reservation.Hold) int {
		return cmp.Or(cmp.Compare(a.ProductID, b.ProductID), cmp.Compare(a.ID, b.ID))
	})
	return out, err
}

func (r *holdRepo) ListHoldsByOwner(ctx context.Context, ownerID string, activeOnly bool) ([]reservation.Hold, error) {
	var out []reservation.Hold
	err := r.s.read(ctx, func(st *state) error {
		for _, h := range st.holds {
			if h.OwnerID != ownerID || (activeOnly && !h.Active()) {
				continue
			}
			out = append(out, h)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b reservation.Hold) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, err
}

func (r *holdRepo) GetHoldForUpdate(ctx context.Context, id string) (*reservation.Hold, error) {
	var out *reservation.Hold
	err := r.s.read(ctx, func(st *state) error {
		h, ok := st.holds[id]
		if !ok {
			return reservation.ErrHoldNotFound
		}
		out = &h
		return nil
	})
	return out, err
}

func (r *holdRepo) InsertHolds(ctx context.Context, holds []reservation.Hold) error {
	return r.s.write(ctx, func(st *state) error {
		for _, h := range holds {
			st.holds[h.ID] = h
		}
		return nil
	})
}

func (r *holdRepo) UpdateHoldState(ctx context.Context, ids []string, s reservation.State, at time.Time) error {
	return r.s.write(ctx, func(st *state) error {
		for _, id := range ids {
			if h, ok := st.holds[id]; ok {
				h.State = s
				h.UpdatedAt = at
				st.holds[id] = h
			}
		}
		return nil
	})
}

func (r *holdRepo) ReassignOwner(ctx context.Context, ids []string, ownerID string, at time.Time) error {
	return r.s.write(ctx, func(st *state) error {
		for _, id := range ids {
			if h, ok := st.holds[id]; ok {
				h.OwnerID = ownerID
				h.UpdatedAt = at
				st.holds[id] = h
			}
		}
		return nil
	})
}
