package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ehr/inpatient/internal/domain/bed"
	"github.com/ehr/inpatient/internal/platform/apperr"
	"github.com/ehr/inpatient/pkg/pagination"
)

type bedRepo struct {
	s *Store
}

func (st *state) bed(id uuid.UUID) (*bed.Bed, error) {
	b, ok := st.beds[id]
	if !ok {
		return nil, apperr.NotFound("bed", id)
	}
	return b, nil
}

func (r *bedRepo) Create(ctx context.Context, b *bed.Bed) error {
	return r.s.with(ctx, func(st *state) error {
		w, ok := st.wards[b.WardID]
		if !ok || !w.Active {
			return apperr.NotFoundf("ward %s not found or inactive", b.WardID)
		}
		key := bedKey{b.WardID, b.BedNumber}
		if _, taken := st.bedNumbers[key]; taken {
			return apperr.Conflict(bed.MsgNumberTaken)
		}
		if b.ID == uuid.Nil {
			b.ID = uuid.New()
		}
		if b.Status == "" {
			b.Status = bed.StatusAvailable
		}
		now := r.s.stamp()
		b.CreatedAt, b.UpdatedAt = now, now

		cp := *b
		st.beds[b.ID] = &cp
		st.bedNumbers[key] = b.ID
		return nil
	})
}

func (r *bedRepo) GetByID(ctx context.Context, id uuid.UUID) (*bed.Bed, error) {
	var out bed.Bed
	err := r.s.with(ctx, func(st *state) error {
		b, err := st.bed(id)
		if err != nil {
			return err
		}
		out = *b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *bedRepo) List(ctx context.Context, f bed.Filter, p pagination.Params) ([]*bed.Bed, int, error) {
	var matched []*bed.Bed
	err := r.s.with(ctx, func(st *state) error {
		for _, b := range st.beds {
			if f.WardID != nil && b.WardID != *f.WardID {
				continue
			}
			if f.Type != "" && b.Type != f.Type {
				continue
			}
			if f.Status != "" && b.Status != f.Status {
				continue
			}
			if f.Active != nil && b.Active != *f.Active {
				continue
			}
			cp := *b
			matched = append(matched, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].WardID != matched[j].WardID {
			return matched[i].WardID.String() < matched[j].WardID.String()
		}
		return matched[i].BedNumber < matched[j].BedNumber
	})
	start, end := p.Window(len(matched))
	return matched[start:end], len(matched), nil
}

func (r *bedRepo) ListAvailable(ctx context.Context, wardID *uuid.UUID, t bed.Type) ([]*bed.Bed, error) {
	type row struct {
		ward string
		b    *bed.Bed
	}
	var rows []row
	err := r.s.with(ctx, func(st *state) error {
		for _, b := range st.beds {
			w := st.wards[b.WardID]
			if w == nil || !w.Active || !b.Active || b.Status != bed.StatusAvailable {
				continue
			}
			if wardID != nil && b.WardID != *wardID {
				continue
			}
			if t != "" && b.Type != t {
				continue
			}
			cp := *b
			rows = append(rows, row{ward: w.Name, b: &cp})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ward != rows[j].ward {
			return rows[i].ward < rows[j].ward
		}
		return rows[i].b.BedNumber < rows[j].b.BedNumber
	})
	out := make([]*bed.Bed, len(rows))
	for i, rw := range rows {
		out[i] = rw.b
	}
	return out, nil
}

func (r *bedRepo) Update(ctx context.Context, b *bed.Bed) error {
	return r.s.with(ctx, func(st *state) error {
		cur, err := st.bed(b.ID)
		if err != nil {
			return err
		}
		key := bedKey{cur.WardID, b.BedNumber}
		if owner, taken := st.bedNumbers[key]; taken && owner != b.ID {
			return apperr.Conflict(bed.MsgNumberTaken)
		}
		if !b.Active && cur.Status == bed.StatusOccupied {
			return apperr.Conflict(bed.MsgOccupiedInactive)
		}

		delete(st.bedNumbers, bedKey{cur.WardID, cur.BedNumber})
		st.bedNumbers[key] = b.ID
		cur.BedNumber, cur.Type, cur.DailyRate, cur.Active = b.BedNumber, b.Type, b.DailyRate, b.Active
		cur.UpdatedAt = r.s.stamp()
		*b = *cur
		return nil
	})
}

func (r *bedRepo) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to bed.Status) (bool, error) {
	var swapped bool
	err := r.s.with(ctx, func(st *state) error {
		b, err := st.bed(id)
		if err != nil {
			return err
		}
		if b.Status != from || (to == bed.StatusOccupied && !b.Active) {
			return nil
		}
		b.Status = to
		b.UpdatedAt = r.s.stamp()
		swapped = true
		return nil
	})
	return swapped, err
}

func (r *bedRepo) StatusCounts(ctx context.Context, wardID *uuid.UUID) (map[uuid.UUID]bed.StatusCount, error) {
	counts := make(map[uuid.UUID]bed.StatusCount)
	err := r.s.with(ctx, func(st *state) error {
		for _, b := range st.beds {
			if !b.Active || (wardID != nil && b.WardID != *wardID) {
				continue
			}
			c := counts[b.WardID]
			c.Add(b.Status, 1)
			counts[b.WardID] = c
		}
		return nil
	})
	return counts, err
}
