// Package memory keeps wards, beds and admissions in process memory. It
// backs development runs and the allocation tests.
//
// In the default mode WithinTx works on a private copy of the whole state
// under the store lock and publishes it only when the unit succeeds. In
// NonAtomic mode every repository call commits on its own, which leaves
// rollback to the caller.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/inpatient/internal/domain/admission"
	"github.com/ehr/inpatient/internal/domain/bed"
	"github.com/ehr/inpatient/internal/domain/ward"
	"github.com/ehr/inpatient/internal/platform/apperr"
)

type bedKey struct {
	ward   uuid.UUID
	number string
}

type state struct {
	wards       map[uuid.UUID]*ward.Ward
	beds        map[uuid.UUID]*bed.Bed
	admissions  map[uuid.UUID]*admission.Admission
	wardNames   map[string]uuid.UUID
	bedNumbers  map[bedKey]uuid.UUID
	activeByBed map[uuid.UUID]uuid.UUID
}

func newState() *state {
	return &state{
		wards:       make(map[uuid.UUID]*ward.Ward),
		beds:        make(map[uuid.UUID]*bed.Bed),
		admissions:  make(map[uuid.UUID]*admission.Admission),
		wardNames:   make(map[string]uuid.UUID),
		bedNumbers:  make(map[bedKey]uuid.UUID),
		activeByBed: make(map[uuid.UUID]uuid.UUID),
	}
}

// clone copies every record. Pointer fields inside records are never
// written through, so a shallow struct copy is enough.
func (s *state) clone() *state {
	c := &state{
		wards:       make(map[uuid.UUID]*ward.Ward, len(s.wards)),
		beds:        make(map[uuid.UUID]*bed.Bed, len(s.beds)),
		admissions:  make(map[uuid.UUID]*admission.Admission, len(s.admissions)),
		wardNames:   make(map[string]uuid.UUID, len(s.wardNames)),
		bedNumbers:  make(map[bedKey]uuid.UUID, len(s.bedNumbers)),
		activeByBed: make(map[uuid.UUID]uuid.UUID, len(s.activeByBed)),
	}
	for k, v := range s.wards {
		w := *v
		c.wards[k] = &w
	}
	for k, v := range s.beds {
		b := *v
		c.beds[k] = &b
	}
	for k, v := range s.admissions {
		a := *v
		c.admissions[k] = &a
	}
	for k, v := range s.wardNames {
		c.wardNames[k] = v
	}
	for k, v := range s.bedNumbers {
		c.bedNumbers[k] = v
	}
	for k, v := range s.activeByBed {
		c.activeByBed[k] = v
	}
	return c
}

type txKey struct{ s *Store }

type Store struct {
	mu     sync.Mutex
	st     *state
	atomic bool
	now    func() time.Time
}

type Option func(*Store)

// NonAtomic makes WithinTx run the unit directly against live state.
func NonAtomic() Option {
	return func(s *Store) { s.atomic = false }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{st: newState(), atomic: true, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Atomic() bool { return s.atomic }

// WithinTx runs fn as one unit. Nested calls join the open unit.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.atomic {
		return fn(ctx)
	}
	if _, ok := ctx.Value(txKey{s}).(*state); ok {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{s}, work)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable(err)
	}
	s.st = work
	return nil
}

// with runs fn against the unit's private state when ctx carries one and
// against live state under the lock otherwise.
func (s *Store) with(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable(err)
	}
	if st, ok := ctx.Value(txKey{s}).(*state); ok {
		return fn(st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) stamp() time.Time {
	return s.now().UTC()
}

func (s *Store) Wards() ward.Repository           { return &wardRepo{s: s} }
func (s *Store) Beds() bed.Repository             { return &bedRepo{s: s} }
func (s *Store) Admissions() admission.Repository { return &admissionRepo{s: s} }
