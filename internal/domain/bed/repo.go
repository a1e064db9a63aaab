package bed

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/inpatient/pkg/pagination"
)

const (
	MsgNumberTaken      = "bed number already exists in ward"
	MsgOccupiedInactive = "cannot deactivate an occupied bed"
)

type Repository interface {
	Create(ctx context.Context, b *Bed) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bed, error)
	List(ctx context.Context, f Filter, p pagination.Params) ([]*Bed, int, error)
	// ListAvailable returns active available beds in active wards, ordered
	// by ward name then bed number.
	ListAvailable(ctx context.Context, wardID *uuid.UUID, t Type) ([]*Bed, error)
	// Update writes the administrative fields. Status is untouched.
	Update(ctx context.Context, b *Bed) error
	// CompareAndSetStatus moves the bed from one status to another in a
	// single conditional write. It returns false when the current status is
	// not from, or when to is occupied and the bed is inactive.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)
	// StatusCounts tallies active beds per ward, optionally for one ward.
	StatusCounts(ctx context.Context, wardID *uuid.UUID) (map[uuid.UUID]StatusCount, error)
}
