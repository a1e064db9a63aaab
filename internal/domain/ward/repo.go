package ward

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/inpatient/pkg/pagination"
)

// Repository errors are apperr values: NotFound for unknown ids, Conflict for
// duplicate names and rejected occupancy changes.
type Repository interface {
	Create(ctx context.Context, w *Ward) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ward, error)
	List(ctx context.Context, f Filter, p pagination.Params) ([]*Ward, int, error)
	ListAll(ctx context.Context) ([]*Ward, error)

	// Update writes name, type, capacity and active. Deactivating a ward
	// that still has occupied beds is a Conflict.
	Update(ctx context.Context, w *Ward) error

	// AdjustOccupancy adds delta to the cached occupancy in one conditional
	// write. The result may not go negative, and a positive delta requires
	// an active ward.
	AdjustOccupancy(ctx context.Context, id uuid.UUID, delta int) (*Ward, error)

	// SetOccupancy overwrites the cached count during reconciliation.
	SetOccupancy(ctx context.Context, id uuid.UUID, occupied int) (*Ward, error)
}

// Conflict messages shared by every Repository implementation.
const (
	MsgNameTaken         = "ward name already exists"
	MsgNegativeOccupancy = "ward occupancy cannot go below zero"
	MsgInactive          = "ward is not active"
	MsgOccupied          = "ward has occupied beds"
)
