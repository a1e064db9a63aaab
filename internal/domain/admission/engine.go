package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/inpatient/internal/domain/bed"
	"github.com/ehr/inpatient/internal/domain/ward"
	"github.com/ehr/inpatient/internal/platform/apperr"
	"github.com/ehr/inpatient/internal/platform/billing"
	"github.com/ehr/inpatient/internal/platform/db"
	"github.com/ehr/inpatient/internal/platform/directory"
	"github.com/ehr/inpatient/internal/platform/metrics"
	"github.com/ehr/inpatient/pkg/pagination"
)

const (
	MsgBedNotAvailable = "bed not available"
	MsgNotActive       = "admission is not active"
	MsgWrongWard       = "bed does not belong to ward"
	MsgBedInactive     = "bed is not active"
	MsgAtCapacity      = "ward is at capacity"
)

// WardStore is the part of the ward registry the engine mutates.
type WardStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*ward.Ward, error)
	AdjustOccupancy(ctx context.Context, id uuid.UUID, delta int) (*ward.Ward, error)
	SetOccupancy(ctx context.Context, id uuid.UUID, occupied int) (*ward.Ward, error)
}

// BedStore is the part of the bed registry the engine mutates.
type BedStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*bed.Bed, error)
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to bed.Status) (bool, error)
	StatusCounts(ctx context.Context, wardID *uuid.UUID) (map[uuid.UUID]bed.StatusCount, error)
}

// TxManager runs a unit of work. When Atomic is false the store cannot roll
// back a failed unit and the engine undoes applied steps itself.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	Atomic() bool
}

type PatientDirectory interface {
	PatientExists(ctx context.Context, patientID string) (bool, error)
}

// StaffDirectory returns nil, nil for an unknown staff member.
type StaffDirectory interface {
	LookupStaff(ctx context.Context, staffID string) (*directory.StaffMember, error)
}

type BillingNotifier interface {
	NotifyDischarge(ctx context.Context, evt billing.DischargeEvent)
}

type Options struct {
	// EnforceCapacity rejects admissions that would take a ward past its
	// capacity. Capacity is advisory otherwise.
	EnforceCapacity bool
	// AllowedStaffRoles restricts who may admit or receive a transfer.
	// Empty allows every role.
	AllowedStaffRoles   []string
	CompensationTimeout time.Duration
	// ClockSkew is how far past Now a client-supplied admission or transfer
	// time may lie.
	ClockSkew time.Duration
	Now       func() time.Time
}

// Engine coordinates bed status, ward occupancy and admission records.
// Every mutation runs as one unit through the TxManager.
type Engine struct {
	admissions Repository
	wards      WardStore
	beds       BedStore
	tx         TxManager
	patients   PatientDirectory
	staff      StaffDirectory
	billing    BillingNotifier
	opts       Options
	logger     zerolog.Logger
}

func NewEngine(admissions Repository, wards WardStore, beds BedStore, tx TxManager, logger zerolog.Logger, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CompensationTimeout <= 0 {
		opts.CompensationTimeout = 10 * time.Second
	}
	if opts.ClockSkew <= 0 {
		opts.ClockSkew = 5 * time.Minute
	}
	return &Engine{
		admissions: admissions,
		wards:      wards,
		beds:       beds,
		tx:         tx,
		billing:    billing.Noop{},
		opts:       opts,
		logger:     logger.With().Str("component", "allocation").Logger(),
	}
}

// inFuture reports whether t lies beyond now plus the allowed clock skew.
// Such a stay could not be discharged until that time.
func (e *Engine) inFuture(t time.Time) bool {
	return t.After(e.opts.Now().Add(e.opts.ClockSkew))
}

func (e *Engine) SetPatientDirectory(d PatientDirectory) { e.patients = d }
func (e *Engine) SetStaffDirectory(d StaffDirectory)     { e.staff = d }

func (e *Engine) SetBillingNotifier(n BillingNotifier) {
	if n == nil {
		n = billing.Noop{}
	}
	e.billing = n
}

// -- Unit of work --

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

// undoLog collects compensating actions for stores without transactions.
type undoLog struct {
	enabled bool
	steps   []undoStep
}

func (u *undoLog) push(name string, fn func(ctx context.Context) error) {
	if u.enabled {
		u.steps = append(u.steps, undoStep{name: name, fn: fn})
	}
}

func (e *Engine) run(ctx context.Context, op string, fn func(ctx context.Context, undo *undoLog) error) error {
	return e.tx.WithinTx(ctx, func(ctx context.Context) error {
		undo := &undoLog{enabled: !e.tx.Atomic()}
		err := fn(ctx, undo)
		if err == nil {
			return nil
		}
		if cerr := e.compensate(ctx, op, undo, err); cerr != nil {
			return cerr
		}
		return err
	})
}

// compensate replays the undo log in reverse. It runs detached from the
// caller's cancellation so an aborted request still restores state.
func (e *Engine) compensate(ctx context.Context, op string, undo *undoLog, cause error) error {
	if len(undo.steps) == 0 {
		return nil
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.CompensationTimeout)
	defer cancel()

	var failed error
	for i := len(undo.steps) - 1; i >= 0; i-- {
		step := undo.steps[i]
		if err := step.fn(cctx); err != nil {
			e.logger.Error().Err(err).Str("operation", op).Str("step", step.name).Msg("compensation step failed")
			failed = errors.Join(failed, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	if failed != nil {
		metrics.RecordCompensation(op, "failed")
		return apperr.Unavailable(fmt.Errorf("%s: %w (compensation failed: %v)", op, cause, failed))
	}
	metrics.RecordCompensation(op, "ok")
	e.logger.Warn().Err(cause).Str("operation", op).Int("steps", len(undo.steps)).Msg("compensation executed")
	return nil
}

// -- Steps --

// acquireBed moves the bed available -> occupied. This conditional write is
// the single point where competing admissions are linearized.
func (e *Engine) acquireBed(ctx context.Context, undo *undoLog, op string, bedID uuid.UUID) error {
	ok, err := e.beds.CompareAndSetStatus(ctx, bedID, bed.StatusAvailable, bed.StatusOccupied)
	if err != nil {
		return err
	}
	if !ok {
		metrics.RecordAllocationConflict(op)
		e.logger.Debug().Str("operation", op).Str("bed_id", bedID.String()).Msg("bed allocation conflict")
		return apperr.Conflict(MsgBedNotAvailable)
	}
	undo.push("release bed", func(ctx context.Context) error {
		return e.setBedStatus(ctx, bedID, bed.StatusOccupied, bed.StatusAvailable)
	})
	return nil
}

func (e *Engine) releaseBed(ctx context.Context, undo *undoLog, bedID uuid.UUID) error {
	if err := e.setBedStatus(ctx, bedID, bed.StatusOccupied, bed.StatusAvailable); err != nil {
		return err
	}
	undo.push("reoccupy bed", func(ctx context.Context) error {
		return e.setBedStatus(ctx, bedID, bed.StatusAvailable, bed.StatusOccupied)
	})
	return nil
}

func (e *Engine) setBedStatus(ctx context.Context, bedID uuid.UUID, from, to bed.Status) error {
	ok, err := e.beds.CompareAndSetStatus(ctx, bedID, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict(fmt.Sprintf("bed %s is not %s", bedID, from))
	}
	return nil
}

func (e *Engine) adjustWard(ctx context.Context, undo *undoLog, wardID uuid.UUID, delta int) (*ward.Ward, error) {
	w, err := e.wards.AdjustOccupancy(ctx, wardID, delta)
	if err != nil {
		return nil, err
	}
	undo.push("restore ward occupancy", func(ctx context.Context) error {
		_, err := e.wards.AdjustOccupancy(ctx, wardID, -delta)
		return err
	})
	return w, nil
}

func (e *Engine) checkCapacity(w *ward.Ward) error {
	if e.opts.EnforceCapacity && w.CurrentOccupancy > w.Capacity {
		return apperr.Conflict(MsgAtCapacity)
	}
	return nil
}

func (e *Engine) closeStay(ctx context.Context, undo *undoLog, a *Admission) error {
	ok, err := e.admissions.Close(ctx, a)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict(MsgNotActive)
	}
	id := a.ID
	undo.push("reopen admission", func(ctx context.Context) error {
		_, err := e.admissions.Reopen(ctx, id)
		return err
	})
	return nil
}

// bedInWard resolves the target bed and checks it can take a patient.
func (e *Engine) bedInWard(ctx context.Context, bedID, wardID uuid.UUID) (*bed.Bed, error) {
	b, err := e.beds.GetByID(ctx, bedID)
	if err != nil {
		return nil, err
	}
	if b.WardID != wardID {
		return nil, apperr.Conflict(MsgWrongWard)
	}
	if !b.Active {
		return nil, apperr.Conflict(MsgBedInactive)
	}
	return b, nil
}

// -- Collaborators --

func (e *Engine) verifyPatient(ctx context.Context, patientID string) error {
	if e.patients == nil {
		return nil
	}
	ok, err := e.patients.PatientExists(ctx, patientID)
	if err != nil {
		return &apperr.Error{Kind: apperr.KindUnavailable, Message: "patient directory unavailable", Err: err}
	}
	if !ok {
		return apperr.Validationf("unknown patient %q", patientID)
	}
	return nil
}

func (e *Engine) verifyStaff(ctx context.Context, staffID string) error {
	if e.staff == nil {
		return nil
	}
	m, err := e.staff.LookupStaff(ctx, staffID)
	if err != nil {
		return &apperr.Error{Kind: apperr.KindUnavailable, Message: "staff directory unavailable", Err: err}
	}
	if m == nil {
		return apperr.Validationf("unknown staff member %q", staffID)
	}
	if !m.Active {
		return apperr.Validationf("staff member %q is not active", staffID)
	}
	if len(e.opts.AllowedStaffRoles) > 0 && !containsFold(e.opts.AllowedStaffRoles, m.Role) {
		return apperr.Validationf("staff role %q may not admit patients", m.Role)
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func (e *Engine) notifyBilling(ctx context.Context, a *Admission, b *bed.Bed) {
	evt := billing.DischargeEvent{
		AdmissionID: a.ID,
		PatientID:   a.PatientID,
		BedID:       a.BedID,
		WardID:      a.WardID,
		AdmittedAt:  a.AdmittedAt,
		Tenant:      db.TenantFromContext(ctx),
	}
	if b != nil {
		evt.DailyRate = b.DailyRate
	}
	if a.DischargedAt != nil {
		evt.DischargedAt = *a.DischargedAt
	}
	if a.DischargeDisposition != nil {
		evt.Disposition = string(*a.DischargeDisposition)
	}
	e.billing.NotifyDischarge(ctx, evt)
}

// -- Operations --

type CreateRequest struct {
	PatientID     string     `json:"patient_id"`
	StaffID       string     `json:"staff_id"`
	WardID        uuid.UUID  `json:"ward_id"`
	BedID         uuid.UUID  `json:"bed_id"`
	AdmissionType Type       `json:"admission_type"`
	AdmittedAt    *time.Time `json:"admitted_at,omitempty"`
	Diagnosis     *string    `json:"diagnosis,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
}

func (r *CreateRequest) validate() error {
	r.PatientID = strings.TrimSpace(r.PatientID)
	r.StaffID = strings.TrimSpace(r.StaffID)
	switch {
	case r.PatientID == "":
		return apperr.Validation("patient_id is required")
	case r.StaffID == "":
		return apperr.Validation("staff_id is required")
	case r.WardID == uuid.Nil:
		return apperr.Validation("ward_id is required")
	case r.BedID == uuid.Nil:
		return apperr.Validation("bed_id is required")
	case !r.AdmissionType.Valid():
		return apperr.Validationf("invalid admission type: %q", r.AdmissionType)
	}
	return nil
}

// CreateAdmission places a patient on an available bed. The admission
// record is written last, so a stay exists only once its bed is held.
func (e *Engine) CreateAdmission(ctx context.Context, req CreateRequest) (*Admission, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := e.verifyPatient(ctx, req.PatientID); err != nil {
		return nil, err
	}
	if err := e.verifyStaff(ctx, req.StaffID); err != nil {
		return nil, err
	}

	admittedAt := e.opts.Now().UTC()
	if req.AdmittedAt != nil {
		admittedAt = req.AdmittedAt.UTC()
		if e.inFuture(admittedAt) {
			return nil, apperr.Validation("admitted_at is in the future")
		}
	}

	var (
		a *Admission
		w *ward.Ward
	)
	err := e.run(ctx, "admit", func(ctx context.Context, undo *undoLog) error {
		if _, err := e.bedInWard(ctx, req.BedID, req.WardID); err != nil {
			return err
		}
		if err := e.acquireBed(ctx, undo, "admit", req.BedID); err != nil {
			return err
		}
		var err error
		if w, err = e.adjustWard(ctx, undo, req.WardID, 1); err != nil {
			return err
		}
		if err := e.checkCapacity(w); err != nil {
			return err
		}

		a = &Admission{
			PatientID:     req.PatientID,
			StaffID:       req.StaffID,
			WardID:        req.WardID,
			BedID:         req.BedID,
			AdmittedAt:    admittedAt,
			AdmissionType: req.AdmissionType,
			Status:        StatusAdmitted,
			Diagnosis:     req.Diagnosis,
			Notes:         req.Notes,
		}
		return e.admissions.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordAdmission(string(a.AdmissionType))
	metrics.SetWardOccupancy(w.Name, w.CurrentOccupancy)
	e.logger.Info().
		Str("admission_id", a.ID.String()).
		Str("bed_id", a.BedID.String()).
		Str("ward_id", a.WardID.String()).
		Str("type", string(a.AdmissionType)).
		Msg("patient admitted")
	return a, nil
}

func (e *Engine) GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return e.admissions.GetByID(ctx, id)
}

func (e *Engine) ListAdmissions(ctx context.Context, f Filter, p pagination.Params) ([]*Admission, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validationf("invalid admission status: %q", f.Status)
	}
	return e.admissions.List(ctx, f, p)
}

type UpdateRequest struct {
	Diagnosis *string `json:"diagnosis,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

// UpdateAdmission edits the free-text fields. Status and allocation are
// never touched here.
func (e *Engine) UpdateAdmission(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Admission, error) {
	if req.Diagnosis == nil && req.Notes == nil {
		return e.admissions.GetByID(ctx, id)
	}
	return e.admissions.UpdateNotes(ctx, id, req.Diagnosis, req.Notes)
}

type DischargeRequest struct {
	DischargedAt *time.Time
	Disposition  Disposition
	Notes        *string
}

// DischargePatient closes an admitted stay, decrements the ward and frees
// the bed as one unit. A second call finds the stay closed and conflicts.
func (e *Engine) DischargePatient(ctx context.Context, id uuid.UUID, req DischargeRequest) (*Admission, error) {
	if !req.Disposition.Valid() {
		return nil, apperr.Validationf("invalid discharge disposition: %q", req.Disposition)
	}
	dischargedAt := e.opts.Now().UTC()
	if req.DischargedAt != nil {
		dischargedAt = req.DischargedAt.UTC()
	}

	var (
		a *Admission
		b *bed.Bed
		w *ward.Ward
	)
	err := e.run(ctx, "discharge", func(ctx context.Context, undo *undoLog) error {
		var err error
		if a, err = e.admissions.GetByID(ctx, id); err != nil {
			return err
		}
		if a.Status != StatusAdmitted {
			return apperr.Conflict(MsgNotActive)
		}
		if dischargedAt.Before(a.AdmittedAt) {
			return apperr.Validation("discharge time is before admission time")
		}
		if b, err = e.beds.GetByID(ctx, a.BedID); err != nil {
			return err
		}

		a.Status = StatusDischarged
		a.DischargedAt = &dischargedAt
		disposition := req.Disposition
		a.DischargeDisposition = &disposition
		if req.Notes != nil {
			a.Notes = req.Notes
		}
		if err := e.closeStay(ctx, undo, a); err != nil {
			return err
		}
		if w, err = e.adjustWard(ctx, undo, a.WardID, -1); err != nil {
			return err
		}
		return e.releaseBed(ctx, undo, a.BedID)
	})
	if err != nil {
		return nil, err
	}

	e.notifyBilling(ctx, a, b)
	metrics.RecordDischarge(string(req.Disposition))
	metrics.SetWardOccupancy(w.Name, w.CurrentOccupancy)
	e.logger.Info().
		Str("admission_id", a.ID.String()).
		Str("bed_id", a.BedID.String()).
		Str("disposition", string(req.Disposition)).
		Msg("patient discharged")
	return a, nil
}

type TransferRequest struct {
	WardID        uuid.UUID  `json:"new_ward_id"`
	BedID         uuid.UUID  `json:"new_bed_id"`
	StaffID       string     `json:"staff_id,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	TransferredAt *time.Time `json:"transferred_at,omitempty"`
}

type TransferResult struct {
	From *Admission `json:"from"`
	To   *Admission `json:"to"`
}

// TransferPatient closes the current stay and opens a linked one on another
// bed. Both bed transitions and both ward adjustments land together.
func (e *Engine) TransferPatient(ctx context.Context, id uuid.UUID, req TransferRequest) (*TransferResult, error) {
	if req.WardID == uuid.Nil || req.BedID == uuid.Nil {
		return nil, apperr.Validation("new_ward_id and new_bed_id are required")
	}
	req.StaffID = strings.TrimSpace(req.StaffID)
	if req.StaffID != "" {
		if err := e.verifyStaff(ctx, req.StaffID); err != nil {
			return nil, err
		}
	}
	at := e.opts.Now().UTC()
	if req.TransferredAt != nil {
		at = req.TransferredAt.UTC()
		if e.inFuture(at) {
			return nil, apperr.Validation("transferred_at is in the future")
		}
	}

	var (
		from, to         *Admission
		oldBed           *bed.Bed
		oldWard, newWard *ward.Ward
	)
	err := e.run(ctx, "transfer", func(ctx context.Context, undo *undoLog) error {
		var err error
		if from, err = e.admissions.GetByID(ctx, id); err != nil {
			return err
		}
		if from.Status != StatusAdmitted {
			return apperr.Conflict(MsgNotActive)
		}
		if from.BedID == req.BedID {
			return apperr.Validation("patient already occupies this bed")
		}
		if at.Before(from.AdmittedAt) {
			return apperr.Validation("transfer time is before admission time")
		}
		if oldBed, err = e.beds.GetByID(ctx, from.BedID); err != nil {
			return err
		}
		if _, err := e.bedInWard(ctx, req.BedID, req.WardID); err != nil {
			return err
		}

		toID := uuid.New()
		disposition := DispositionTransferred
		from.Status = StatusTransferred
		from.DischargedAt = &at
		from.DischargeDisposition = &disposition
		from.TransferredToID = &toID
		if err := e.closeStay(ctx, undo, from); err != nil {
			return err
		}

		if err := e.acquireBed(ctx, undo, "transfer", req.BedID); err != nil {
			return err
		}
		if newWard, err = e.adjustWard(ctx, undo, req.WardID, 1); err != nil {
			return err
		}
		if req.WardID != from.WardID {
			if err := e.checkCapacity(newWard); err != nil {
				return err
			}
		}

		staffID := req.StaffID
		if staffID == "" {
			staffID = from.StaffID
		}
		fromID := from.ID
		to = &Admission{
			ID:                toID,
			PatientID:         from.PatientID,
			StaffID:           staffID,
			WardID:            req.WardID,
			BedID:             req.BedID,
			AdmittedAt:        at,
			AdmissionType:     TypeTransfer,
			Status:            StatusAdmitted,
			Diagnosis:         from.Diagnosis,
			Notes:             req.Notes,
			TransferredFromID: &fromID,
		}
		if err := e.admissions.Create(ctx, to); err != nil {
			return err
		}
		undo.push("retract transfer admission", func(ctx context.Context) error {
			return e.admissions.Retract(ctx, toID)
		})

		if oldWard, err = e.adjustWard(ctx, undo, from.WardID, -1); err != nil {
			return err
		}
		return e.releaseBed(ctx, undo, from.BedID)
	})
	if err != nil {
		return nil, err
	}

	e.notifyBilling(ctx, from, oldBed)
	metrics.RecordTransfer()
	metrics.SetWardOccupancy(oldWard.Name, oldWard.CurrentOccupancy)
	metrics.SetWardOccupancy(newWard.Name, newWard.CurrentOccupancy)
	e.logger.Info().
		Str("from_admission_id", from.ID.String()).
		Str("to_admission_id", to.ID.String()).
		Str("from_bed_id", from.BedID.String()).
		Str("to_bed_id", to.BedID.String()).
		Msg("patient transferred")
	return &TransferResult{From: from, To: to}, nil
}

// RepairOccupancy rewrites a ward's cached occupancy from the live count of
// its occupied beds.
func (e *Engine) RepairOccupancy(ctx context.Context, wardID uuid.UUID) (*ward.Ward, error) {
	var (
		before int
		w      *ward.Ward
	)
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := e.wards.GetByID(ctx, wardID)
		if err != nil {
			return err
		}
		before = cur.CurrentOccupancy
		counts, err := e.beds.StatusCounts(ctx, &wardID)
		if err != nil {
			return err
		}
		w, err = e.wards.SetOccupancy(ctx, wardID, counts[wardID].Occupied)
		return err
	})
	if err != nil {
		return nil, err
	}
	if before != w.CurrentOccupancy {
		e.logger.Warn().
			Str("ward_id", wardID.String()).
			Int("cached", before).
			Int("live", w.CurrentOccupancy).
			Msg("ward occupancy repaired")
	}
	metrics.SetWardOccupancy(w.Name, w.CurrentOccupancy)
	metrics.SetWardDrift(w.Name, 0)
	return w, nil
}
