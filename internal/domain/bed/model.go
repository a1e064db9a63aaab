package bed

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeStandard    Type = "standard"
	TypePrivate     Type = "private"
	TypeSemiPrivate Type = "semi_private"
	TypeICU         Type = "icu"
	TypeIsolation   Type = "isolation"
)

func (t Type) Valid() bool {
	switch t {
	case TypeStandard, TypePrivate, TypeSemiPrivate, TypeICU, TypeIsolation:
		return true
	}
	return false
}

type Status string

const (
	StatusAvailable   Status = "available"
	StatusOccupied    Status = "occupied"
	StatusMaintenance Status = "maintenance"
	StatusReserved    Status = "reserved"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusOccupied, StatusMaintenance, StatusReserved:
		return true
	}
	return false
}

// transitions lists every legal status edge. Edges touching occupied belong
// to the allocation engine; the rest are administrative.
var transitions = map[Status][]Status{
	StatusAvailable:   {StatusOccupied, StatusMaintenance, StatusReserved},
	StatusOccupied:    {StatusAvailable},
	StatusMaintenance: {StatusAvailable},
	StatusReserved:    {StatusAvailable},
}

// CanTransition reports whether from -> to is an edge of the bed state machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AdminTransition reports whether from -> to may be requested through
// updateBed rather than by admission, discharge or transfer.
func AdminTransition(from, to Status) bool {
	if from == StatusOccupied || to == StatusOccupied {
		return false
	}
	return CanTransition(from, to)
}

type Bed struct {
	ID        uuid.UUID `json:"id"`
	WardID    uuid.UUID `json:"ward_id"`
	BedNumber string    `json:"bed_number"`
	Type      Type      `json:"type"`
	Status    Status    `json:"status"`
	DailyRate float64   `json:"daily_rate"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Filter struct {
	WardID *uuid.UUID
	Type   Type
	Status Status
	Active *bool
}

// Patch carries the fields of updateBed. Status is applied separately as a
// conditional write.
type Patch struct {
	BedNumber *string  `json:"bed_number,omitempty"`
	Type      *Type    `json:"type,omitempty"`
	DailyRate *float64 `json:"daily_rate,omitempty"`
	Active    *bool    `json:"active,omitempty"`
	Status    *Status  `json:"status,omitempty"`
}

func (p Patch) Empty() bool {
	return p.BedNumber == nil && p.Type == nil && p.DailyRate == nil && p.Active == nil && p.Status == nil
}

func (p Patch) apply(b *Bed) {
	if p.BedNumber != nil {
		b.BedNumber = *p.BedNumber
	}
	if p.Type != nil {
		b.Type = *p.Type
	}
	if p.DailyRate != nil {
		b.DailyRate = *p.DailyRate
	}
	if p.Active != nil {
		b.Active = *p.Active
	}
}

// StatusCount tallies active beds of one ward by status.
type StatusCount struct {
	Total       int
	Available   int
	Occupied    int
	Maintenance int
	Reserved    int
}

// Add counts n beds in status s.
func (c *StatusCount) Add(s Status, n int) {
	c.Total += n
	switch s {
	case StatusAvailable:
		c.Available += n
	case StatusOccupied:
		c.Occupied += n
	case StatusMaintenance:
		c.Maintenance += n
	case StatusReserved:
		c.Reserved += n
	}
}
