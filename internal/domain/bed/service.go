package bed

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/inpatient/internal/domain/ward"
	"github.com/ehr/inpatient/internal/platform/apperr"
	"github.com/ehr/inpatient/pkg/pagination"
)

// WardLookup resolves the owning ward of a bed.
type WardLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*ward.Ward, error)
}

// Transactor runs fn as one unit of work.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo   Repository
	wards  WardLookup
	tx     Transactor
	logger zerolog.Logger
}

func NewService(repo Repository, wards WardLookup, tx Transactor, logger zerolog.Logger) *Service {
	return &Service{repo: repo, wards: wards, tx: tx, logger: logger.With().Str("component", "bed").Logger()}
}

type CreateRequest struct {
	WardID    uuid.UUID `json:"ward_id"`
	BedNumber string    `json:"bed_number"`
	Type      Type      `json:"type"`
	DailyRate float64   `json:"daily_rate"`
}

func (s *Service) CreateBed(ctx context.Context, req CreateRequest) (*Bed, error) {
	number := strings.TrimSpace(req.BedNumber)
	if number == "" {
		return nil, apperr.Validation("bed_number is required")
	}
	if !req.Type.Valid() {
		return nil, apperr.Validationf("invalid bed type: %q", req.Type)
	}
	if req.DailyRate < 0 {
		return nil, apperr.Validation("daily_rate must not be negative")
	}

	w, err := s.wards.GetByID(ctx, req.WardID)
	if err != nil {
		return nil, err
	}
	if !w.Active {
		return nil, apperr.NotFoundf("ward %s not found or inactive", w.ID)
	}

	b := &Bed{
		WardID:    req.WardID,
		BedNumber: number,
		Type:      req.Type,
		Status:    StatusAvailable,
		DailyRate: req.DailyRate,
		Active:    true,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, err
	}
	s.logger.Info().Str("bed_id", b.ID.String()).Str("ward_id", b.WardID.String()).Str("bed_number", b.BedNumber).Msg("bed created")
	return b, nil
}

func (s *Service) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListBeds(ctx context.Context, f Filter, p pagination.Params) ([]*Bed, int, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, apperr.Validationf("invalid bed type: %q", f.Type)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validationf("invalid bed status: %q", f.Status)
	}
	return s.repo.List(ctx, f, p)
}

func (s *Service) ListAvailable(ctx context.Context, wardID *uuid.UUID, t Type) ([]*Bed, error) {
	if t != "" && !t.Valid() {
		return nil, apperr.Validationf("invalid bed type: %q", t)
	}
	return s.repo.ListAvailable(ctx, wardID, t)
}

// UpdateBed applies an administrative patch. A status change is a
// conditional write on the status read at the start of the unit, so it
// loses cleanly against a concurrent admission.
func (s *Service) UpdateBed(ctx context.Context, id uuid.UUID, p Patch) (*Bed, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	var out *Bed
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if p.Empty() {
			out = b
			return nil
		}

		if p.Status != nil && *p.Status != b.Status {
			if !AdminTransition(b.Status, *p.Status) {
				return apperr.Conflict(fmt.Sprintf("invalid bed status transition: %s -> %s", b.Status, *p.Status))
			}
			ok, err := s.repo.CompareAndSetStatus(ctx, id, b.Status, *p.Status)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Conflict("bed status changed concurrently")
			}
			b.Status = *p.Status
		}

		if p.Active != nil && !*p.Active && b.Status == StatusOccupied {
			return apperr.Conflict(MsgOccupiedInactive)
		}
		p.apply(b)
		if err := s.repo.Update(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Patch) validate() error {
	if p.BedNumber != nil {
		trimmed := strings.TrimSpace(*p.BedNumber)
		if trimmed == "" {
			return apperr.Validation("bed_number cannot be empty")
		}
		p.BedNumber = &trimmed
	}
	if p.Type != nil && !p.Type.Valid() {
		return apperr.Validationf("invalid bed type: %q", *p.Type)
	}
	if p.DailyRate != nil && *p.DailyRate < 0 {
		return apperr.Validation("daily_rate must not be negative")
	}
	if p.Status != nil && !p.Status.Valid() {
		return apperr.Validationf("invalid bed status: %q", *p.Status)
	}
	return nil
}
