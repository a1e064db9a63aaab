package ward

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeGeneral   Type = "general"
	TypeICU       Type = "icu"
	TypeCCU       Type = "ccu"
	TypePediatric Type = "pediatric"
	TypeMaternity Type = "maternity"
	TypeSurgical  Type = "surgical"
	TypeMedical   Type = "medical"
)

var validTypes = map[Type]bool{
	TypeGeneral:   true,
	TypeICU:       true,
	TypeCCU:       true,
	TypePediatric: true,
	TypeMaternity: true,
	TypeSurgical:  true,
	TypeMedical:   true,
}

func (t Type) Valid() bool { return validTypes[t] }

// Ward is a named care unit. CurrentOccupancy caches the number of its beds
// in status occupied and is written only by the allocation engine.
type Ward struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Type             Type      `json:"type"`
	Capacity         int       `json:"capacity"`
	CurrentOccupancy int       `json:"current_occupancy"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Filter struct {
	Type   Type
	Active *bool
}

// Patch carries the administrative fields of updateWard. Nil means unchanged.
type Patch struct {
	Name     *string `json:"name,omitempty"`
	Type     *Type   `json:"type,omitempty"`
	Capacity *int    `json:"capacity,omitempty"`
	Active   *bool   `json:"active,omitempty"`
}

func (p Patch) Empty() bool {
	return p.Name == nil && p.Type == nil && p.Capacity == nil && p.Active == nil
}

// Apply copies the set fields of p onto w.
func (p Patch) Apply(w *Ward) {
	if p.Name != nil {
		w.Name = *p.Name
	}
	if p.Type != nil {
		w.Type = *p.Type
	}
	if p.Capacity != nil {
		w.Capacity = *p.Capacity
	}
	if p.Active != nil {
		w.Active = *p.Active
	}
}
