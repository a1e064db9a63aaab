package admission

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/inpatient/pkg/pagination"
)

type Repository interface {
	Create(ctx context.Context, a *Admission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	List(ctx context.Context, f Filter, p pagination.Params) ([]*Admission, int, error)
	UpdateNotes(ctx context.Context, id uuid.UUID, diagnosis, notes *string) (*Admission, error)
	// Close moves an admitted stay to a terminal status using a's status,
	// discharge fields and transfer link. It returns false when the stay
	// was no longer admitted.
	Close(ctx context.Context, a *Admission) (bool, error)
	// Reopen undoes Close during compensation.
	Reopen(ctx context.Context, id uuid.UUID) (bool, error)
	// Retract removes a stay created by an operation that is being undone.
	// It is only used when the store cannot roll back a transaction.
	Retract(ctx context.Context, id uuid.UUID) error
	Counts(ctx context.Context, r DayRange) (Counts, error)
}
