package admission

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeEmergency Type = "emergency"
	TypeElective  Type = "elective"
	TypeTransfer  Type = "transfer"
)

func (t Type) Valid() bool {
	return t == TypeEmergency || t == TypeElective || t == TypeTransfer
}

type Status string

const (
	StatusAdmitted    Status = "admitted"
	StatusDischarged  Status = "discharged"
	StatusTransferred Status = "transferred"
)

func (s Status) Valid() bool {
	return s == StatusAdmitted || s == StatusDischarged || s == StatusTransferred
}

// Terminal reports whether s closes the stay.
func (s Status) Terminal() bool {
	return s == StatusDischarged || s == StatusTransferred
}

type Disposition string

const (
	DispositionRecovered   Disposition = "recovered"
	DispositionImproved    Disposition = "improved"
	DispositionTransferred Disposition = "transferred"
	DispositionAMA         Disposition = "ama"
	DispositionDeceased    Disposition = "deceased"
)

func (d Disposition) Valid() bool {
	switch d {
	case DispositionRecovered, DispositionImproved, DispositionTransferred, DispositionAMA, DispositionDeceased:
		return true
	}
	return false
}

// Admission is one stay of one patient on one bed. It is created admitted
// and closed exactly once by discharge or transfer.
type Admission struct {
	ID                   uuid.UUID    `json:"id"`
	PatientID            string       `json:"patient_id"`
	StaffID              string       `json:"staff_id"`
	WardID               uuid.UUID    `json:"ward_id"`
	BedID                uuid.UUID    `json:"bed_id"`
	AdmittedAt           time.Time    `json:"admitted_at"`
	AdmissionType        Type         `json:"admission_type"`
	Status               Status       `json:"status"`
	Diagnosis            *string      `json:"diagnosis,omitempty"`
	Notes                *string      `json:"notes,omitempty"`
	DischargedAt         *time.Time   `json:"discharged_at,omitempty"`
	DischargeDisposition *Disposition `json:"discharge_disposition,omitempty"`
	TransferredFromID    *uuid.UUID   `json:"transferred_from_id,omitempty"`
	TransferredToID      *uuid.UUID   `json:"transferred_to_id,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

type Filter struct {
	PatientID string
	WardID    *uuid.UUID
	BedID     *uuid.UUID
	Status    Status
}

// DayRange bounds the per-day admission statistics. BoundTotal limits the
// total count to admissions before End.
type DayRange struct {
	Start      time.Time
	End        time.Time
	BoundTotal bool
}

type Counts struct {
	Total           int
	Current         int
	AdmittedOnDay   int
	DischargedOnDay int
}
