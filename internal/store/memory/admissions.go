package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ehr/inpatient/internal/domain/admission"
	"github.com/ehr/inpatient/internal/platform/apperr"
	"github.com/ehr/inpatient/pkg/pagination"
)

type admissionRepo struct {
	s *Store
}

func (st *state) admission(id uuid.UUID) (*admission.Admission, error) {
	a, ok := st.admissions[id]
	if !ok {
		return nil, apperr.NotFound("admission", id)
	}
	return a, nil
}

func (r *admissionRepo) Create(ctx context.Context, a *admission.Admission) error {
	return r.s.with(ctx, func(st *state) error {
		if _, ok := st.wards[a.WardID]; !ok {
			return apperr.NotFoundf("referenced record not found")
		}
		if _, ok := st.beds[a.BedID]; !ok {
			return apperr.NotFoundf("referenced record not found")
		}
		if a.TransferredFromID != nil {
			if _, ok := st.admissions[*a.TransferredFromID]; !ok {
				return apperr.NotFoundf("referenced record not found")
			}
		}
		if _, held := st.activeByBed[a.BedID]; held {
			return apperr.Conflict(admission.MsgBedNotAvailable)
		}
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		if _, dup := st.admissions[a.ID]; dup {
			return apperr.Conflict("duplicate record")
		}
		now := r.s.stamp()
		a.Status = admission.StatusAdmitted
		a.DischargedAt, a.DischargeDisposition, a.TransferredToID = nil, nil, nil
		a.CreatedAt, a.UpdatedAt = now, now

		cp := *a
		st.admissions[a.ID] = &cp
		st.activeByBed[a.BedID] = a.ID
		return nil
	})
}

func (r *admissionRepo) GetByID(ctx context.Context, id uuid.UUID) (*admission.Admission, error) {
	var out admission.Admission
	err := r.s.with(ctx, func(st *state) error {
		a, err := st.admission(id)
		if err != nil {
			return err
		}
		out = *a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *admissionRepo) List(ctx context.Context, f admission.Filter, p pagination.Params) ([]*admission.Admission, int, error) {
	var matched []*admission.Admission
	err := r.s.with(ctx, func(st *state) error {
		for _, a := range st.admissions {
			if f.PatientID != "" && a.PatientID != f.PatientID {
				continue
			}
			if f.WardID != nil && a.WardID != *f.WardID {
				continue
			}
			if f.BedID != nil && a.BedID != *f.BedID {
				continue
			}
			if f.Status != "" && a.Status != f.Status {
				continue
			}
			cp := *a
			matched = append(matched, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].AdmittedAt.Equal(matched[j].AdmittedAt) {
			return matched[i].AdmittedAt.After(matched[j].AdmittedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	start, end := p.Window(len(matched))
	return matched[start:end], len(matched), nil
}

func (r *admissionRepo) UpdateNotes(ctx context.Context, id uuid.UUID, diagnosis, notes *string) (*admission.Admission, error) {
	var out admission.Admission
	err := r.s.with(ctx, func(st *state) error {
		a, err := st.admission(id)
		if err != nil {
			return err
		}
		if diagnosis != nil {
			a.Diagnosis = diagnosis
		}
		if notes != nil {
			a.Notes = notes
		}
		a.UpdatedAt = r.s.stamp()
		out = *a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *admissionRepo) Close(ctx context.Context, a *admission.Admission) (bool, error) {
	var closed bool
	err := r.s.with(ctx, func(st *state) error {
		cur, err := st.admission(a.ID)
		if err != nil {
			return err
		}
		if cur.Status != admission.StatusAdmitted {
			return nil
		}
		if !a.Status.Terminal() || a.DischargedAt == nil {
			return apperr.Validation("invalid value")
		}
		cur.Status = a.Status
		cur.DischargedAt = a.DischargedAt
		cur.DischargeDisposition = a.DischargeDisposition
		cur.TransferredToID = a.TransferredToID
		if a.Notes != nil {
			cur.Notes = a.Notes
		}
		cur.UpdatedAt = r.s.stamp()
		delete(st.activeByBed, cur.BedID)
		closed = true
		return nil
	})
	return closed, err
}

func (r *admissionRepo) Reopen(ctx context.Context, id uuid.UUID) (bool, error) {
	var reopened bool
	err := r.s.with(ctx, func(st *state) error {
		cur, err := st.admission(id)
		if err != nil {
			return err
		}
		if cur.Status == admission.StatusAdmitted {
			return nil
		}
		if _, held := st.activeByBed[cur.BedID]; held {
			return apperr.Conflict(admission.MsgBedNotAvailable)
		}
		cur.Status = admission.StatusAdmitted
		cur.DischargedAt, cur.DischargeDisposition, cur.TransferredToID = nil, nil, nil
		cur.UpdatedAt = r.s.stamp()
		st.activeByBed[cur.BedID] = id
		reopened = true
		return nil
	})
	return reopened, err
}

func (r *admissionRepo) Retract(ctx context.Context, id uuid.UUID) error {
	return r.s.with(ctx, func(st *state) error {
		cur, ok := st.admissions[id]
		if !ok || cur.Status != admission.StatusAdmitted {
			return nil
		}
		delete(st.admissions, id)
		delete(st.activeByBed, cur.BedID)
		return nil
	})
}

func (r *admissionRepo) Counts(ctx context.Context, dr admission.DayRange) (admission.Counts, error) {
	var c admission.Counts
	err := r.s.with(ctx, func(st *state) error {
		for _, a := range st.admissions {
			if !dr.BoundTotal || a.AdmittedAt.Before(dr.End) {
				c.Total++
			}
			if a.Status == admission.StatusAdmitted {
				c.Current++
			}
			if !a.AdmittedAt.Before(dr.Start) && a.AdmittedAt.Before(dr.End) {
				c.AdmittedOnDay++
			}
			if a.DischargedAt != nil && !a.DischargedAt.Before(dr.Start) && a.DischargedAt.Before(dr.End) {
				c.DischargedOnDay++
			}
		}
		return nil
	})
	return c, err
}
