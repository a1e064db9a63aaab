package ward

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/inpatient/internal/platform/apperr"
	"github.com/ehr/inpatient/pkg/pagination"
)

// Service is the administrative face of the ward registry. Occupancy is not
// reachable from here.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "ward").Logger()}
}

type CreateRequest struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Capacity int    `json:"capacity"`
}

func (s *Service) CreateWard(ctx context.Context, req CreateRequest) (*Ward, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	if !req.Type.Valid() {
		return nil, apperr.Validationf("invalid ward type: %q", req.Type)
	}
	if req.Capacity < 1 {
		return nil, apperr.Conflict("capacity must be at least 1")
	}

	w := &Ward{Name: name, Type: req.Type, Capacity: req.Capacity, Active: true}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, err
	}
	s.logger.Info().Str("ward_id", w.ID.String()).Str("name", w.Name).Int("capacity", w.Capacity).Msg("ward created")
	return w, nil
}

func (s *Service) GetWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListWards(ctx context.Context, f Filter, p pagination.Params) ([]*Ward, int, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, apperr.Validationf("invalid ward type: %q", f.Type)
	}
	return s.repo.List(ctx, f, p)
}

// UpdateWard applies an administrative patch. Occupancy is never patched.
func (s *Service) UpdateWard(ctx context.Context, id uuid.UUID, p Patch) (*Ward, error) {
	if p.Name != nil {
		trimmed := strings.TrimSpace(*p.Name)
		if trimmed == "" {
			return nil, apperr.Validation("name cannot be empty")
		}
		p.Name = &trimmed
	}
	if p.Type != nil && !p.Type.Valid() {
		return nil, apperr.Validationf("invalid ward type: %q", *p.Type)
	}
	if p.Capacity != nil && *p.Capacity < 1 {
		return nil, apperr.Conflict("capacity must be at least 1")
	}

	w, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Empty() {
		return w, nil
	}

	p.Apply(w)
	if err := s.repo.Update(ctx, w); err != nil {
		return nil, err
	}
	if w.CurrentOccupancy > w.Capacity {
		s.logger.Warn().Str("ward_id", id.String()).Int("capacity", w.Capacity).Int("occupancy", w.CurrentOccupancy).
			Msg("ward capacity set below current occupancy")
	}
	return w, nil
}
