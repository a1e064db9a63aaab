package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ehr/inpatient/internal/domain/ward"
	"github.com/ehr/inpatient/internal/platform/apperr"
	"github.com/ehr/inpatient/pkg/pagination"
)

type wardRepo struct {
	s *Store
}

func (st *state) ward(id uuid.UUID) (*ward.Ward, error) {
	w, ok := st.wards[id]
	if !ok {
		return nil, apperr.NotFound("ward", id)
	}
	return w, nil
}

func (r *wardRepo) Create(ctx context.Context, w *ward.Ward) error {
	return r.s.with(ctx, func(st *state) error {
		if _, taken := st.wardNames[w.Name]; taken {
			return apperr.Conflict(ward.MsgNameTaken)
		}
		if w.ID == uuid.Nil {
			w.ID = uuid.New()
		}
		now := r.s.stamp()
		w.CurrentOccupancy = 0
		w.CreatedAt, w.UpdatedAt = now, now

		cp := *w
		st.wards[w.ID] = &cp
		st.wardNames[w.Name] = w.ID
		return nil
	})
}

func (r *wardRepo) GetByID(ctx context.Context, id uuid.UUID) (*ward.Ward, error) {
	var out ward.Ward
	err := r.s.with(ctx, func(st *state) error {
		w, err := st.ward(id)
		if err != nil {
			return err
		}
		out = *w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *wardRepo) List(ctx context.Context, f ward.Filter, p pagination.Params) ([]*ward.Ward, int, error) {
	all, err := r.ListAll(ctx)
	if err != nil {
		return nil, 0, err
	}
	var matched []*ward.Ward
	for _, w := range all {
		if f.Type != "" && w.Type != f.Type {
			continue
		}
		if f.Active != nil && w.Active != *f.Active {
			continue
		}
		matched = append(matched, w)
	}
	start, end := p.Window(len(matched))
	return matched[start:end], len(matched), nil
}

func (r *wardRepo) ListAll(ctx context.Context) ([]*ward.Ward, error) {
	var out []*ward.Ward
	err := r.s.with(ctx, func(st *state) error {
		for _, w := range st.wards {
			cp := *w
			out = append(out, &cp)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

func (r *wardRepo) Update(ctx context.Context, w *ward.Ward) error {
	return r.s.with(ctx, func(st *state) error {
		cur, err := st.ward(w.ID)
		if err != nil {
			return err
		}
		if owner, taken := st.wardNames[w.Name]; taken && owner != w.ID {
			return apperr.Conflict(ward.MsgNameTaken)
		}
		if !w.Active && cur.CurrentOccupancy > 0 {
			return apperr.Conflict(ward.MsgOccupied)
		}
		if w.Capacity < 1 {
			return apperr.Validation("invalid value")
		}

		delete(st.wardNames, cur.Name)
		st.wardNames[w.Name] = w.ID
		cur.Name, cur.Type, cur.Capacity, cur.Active = w.Name, w.Type, w.Capacity, w.Active
		cur.UpdatedAt = r.s.stamp()
		*w = *cur
		return nil
	})
}

func (r *wardRepo) AdjustOccupancy(ctx context.Context, id uuid.UUID, delta int) (*ward.Ward, error) {
	var out ward.Ward
	err := r.s.with(ctx, func(st *state) error {
		w, err := st.ward(id)
		if err != nil {
			return err
		}
		if w.CurrentOccupancy+delta < 0 {
			return apperr.Conflict(ward.MsgNegativeOccupancy)
		}
		if delta > 0 && !w.Active {
			return apperr.Conflict(ward.MsgInactive)
		}
		w.CurrentOccupancy += delta
		w.UpdatedAt = r.s.stamp()
		out = *w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *wardRepo) SetOccupancy(ctx context.Context, id uuid.UUID, occupied int) (*ward.Ward, error) {
	var out ward.Ward
	err := r.s.with(ctx, func(st *state) error {
		w, err := st.ward(id)
		if err != nil {
			return err
		}
		if occupied < 0 {
			return apperr.Conflict(ward.MsgNegativeOccupancy)
		}
		w.CurrentOccupancy = occupied
		w.UpdatedAt = r.s.stamp()
		out = *w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
