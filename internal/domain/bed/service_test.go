package bed

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/inpatient/internal/domain/ward"
	"github.com/ehr/inpatient/internal/platform/apperr"
	"github.com/ehr/inpatient/pkg/pagination"
)

// -- Mocks --

type mockWards struct {
	wards map[uuid.UUID]*ward.Ward
}

func (m *mockWards) GetByID(_ context.Context, id uuid.UUID) (*ward.Ward, error) {
	w, ok := m.wards[id]
	if !ok {
		return nil, apperr.NotFound("ward", id)
	}
	return w, nil
}

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockRepo struct {
	beds map[uuid.UUID]*Bed
}

func newMockRepo() *mockRepo {
	return &mockRepo{beds: make(map[uuid.UUID]*Bed)}
}

func (m *mockRepo) Create(_ context.Context, b *Bed) error {
	for _, existing := range m.beds {
		if existing.WardID == b.WardID && existing.BedNumber == b.BedNumber {
			return apperr.Conflict(MsgNumberTaken)
		}
	}
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	m.beds[b.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Bed, error) {
	b, ok := m.beds[id]
	if !ok {
		return nil, apperr.NotFound("bed", id)
	}
	cp := *b
	return &cp, nil
}

func (m *mockRepo) sorted() []*Bed {
	var out []*Bed
	for _, b := range m.beds {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BedNumber < out[j].BedNumber })
	return out
}

func (m *mockRepo) List(_ context.Context, f Filter, p pagination.Params) ([]*Bed, int, error) {
	var out []*Bed
	for _, b := range m.sorted() {
		if f.WardID != nil && b.WardID != *f.WardID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		out = append(out, b)
	}
	start, end := p.Window(len(out))
	return out[start:end], len(out), nil
}

func (m *mockRepo) ListAvailable(_ context.Context, wardID *uuid.UUID, t Type) ([]*Bed, error) {
	var out []*Bed
	for _, b := range m.sorted() {
		if !b.Active || b.Status != StatusAvailable {
			continue
		}
		if wardID != nil && b.WardID != *wardID {
			continue
		}
		if t != "" && b.Type != t {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *mockRepo) Update(_ context.Context, b *Bed) error {
	cur, ok := m.beds[b.ID]
	if !ok {
		return apperr.NotFound("bed", b.ID)
	}
	if !b.Active && cur.Status == StatusOccupied {
		return apperr.Conflict(MsgOccupiedInactive)
	}
	b.Status = cur.Status
	cp := *b
	m.beds[b.ID] = &cp
	return nil
}

func (m *mockRepo) CompareAndSetStatus(_ context.Context, id uuid.UUID, from, to Status) (bool, error) {
	b, ok := m.beds[id]
	if !ok {
		return false, apperr.NotFound("bed", id)
	}
	if b.Status != from || (to == StatusOccupied && !b.Active) {
		return false, nil
	}
	b.Status = to
	return true, nil
}

func (m *mockRepo) StatusCounts(_ context.Context, wardID *uuid.UUID) (map[uuid.UUID]StatusCount, error) {
	out := make(map[uuid.UUID]StatusCount)
	for _, b := range m.beds {
		if !b.Active || (wardID != nil && b.WardID != *wardID) {
			continue
		}
		c := out[b.WardID]
		c.Add(b.Status, 1)
		out[b.WardID] = c
	}
	return out, nil
}

func newTestService() (*Service, *mockRepo, uuid.UUID) {
	repo := newMockRepo()
	w := &ward.Ward{ID: uuid.New(), Name: "ICU-A", Type: ward.TypeICU, Capacity: 2, Active: true}
	closed := &ward.Ward{ID: uuid.New(), Name: "Closed", Type: ward.TypeGeneral, Capacity: 2, Active: false}
	wards := &mockWards{wards: map[uuid.UUID]*ward.Ward{w.ID: w, closed.ID: closed}}
	return NewService(repo, wards, passthroughTx{}, zerolog.Nop()), repo, w.ID
}

func ptr[T any](v T) *T { return &v }

func TestCreateBed(t *testing.T) {
	svc, _, wardID := newTestService()
	b, err := svc.CreateBed(context.Background(), CreateRequest{WardID: wardID, BedNumber: "B1", Type: TypeICU, DailyRate: 1200})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Status != StatusAvailable || !b.Active {
		t.Errorf("expected active available bed, got %s active=%v", b.Status, b.Active)
	}
}

func TestCreateBed_Errors(t *testing.T) {
	svc, repo, wardID := newTestService()
	ctx := context.Background()
	var closedID uuid.UUID
	for id, w := range svc.wards.(*mockWards).wards {
		if !w.Active {
			closedID = id
		}
	}

	tests := []struct {
		name string
		req  CreateRequest
		kind apperr.Kind
	}{
		{"unknown ward", CreateRequest{WardID: uuid.New(), BedNumber: "B1", Type: TypeStandard}, apperr.KindNotFound},
		{"inactive ward", CreateRequest{WardID: closedID, BedNumber: "B1", Type: TypeStandard}, apperr.KindNotFound},
		{"negative rate", CreateRequest{WardID: wardID, BedNumber: "B1", Type: TypeStandard, DailyRate: -1}, apperr.KindValidation},
		{"bad type", CreateRequest{WardID: wardID, BedNumber: "B1", Type: "suite"}, apperr.KindValidation},
		{"missing number", CreateRequest{WardID: wardID, Type: TypeStandard}, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateBed(ctx, tt.req)
			if !apperr.Is(err, tt.kind) {
				t.Errorf("expected %s, got %v", tt.kind, err)
			}
		})
	}
	if len(repo.beds) != 0 {
		t.Errorf("expected no beds written, got %d", len(repo.beds))
	}
}

func TestCreateBed_DuplicateNumber(t *testing.T) {
	svc, _, wardID := newTestService()
	ctx := context.Background()
	svc.CreateBed(ctx, CreateRequest{WardID: wardID, BedNumber: "B1", Type: TypeICU})
	_, err := svc.CreateBed(ctx, CreateRequest{WardID: wardID, BedNumber: "B1", Type: TypeICU})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestUpdateBed_StatusEdges(t *testing.T) {
	svc, repo, wardID := newTestService()
	ctx := context.Background()
	b, _ := svc.CreateBed(ctx, CreateRequest{WardID: wardID, BedNumber: "B1", Type: TypeICU})

	got, err := svc.UpdateBed(ctx, b.ID, Patch{Status: ptr(StatusMaintenance)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusMaintenance {
		t.Errorf("expected maintenance, got %s", got.Status)
	}

	if _, err := svc.UpdateBed(ctx, b.ID, Patch{Status: ptr(StatusReserved)}); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("maintenance -> reserved should conflict, got %v", err)
	}
	if _, err := svc.UpdateBed(ctx, b.ID, Patch{Status: ptr(StatusAvailable)}); err != nil {
		t.Fatalf("maintenance -> available: %v", err)
	}
	if _, err := svc.UpdateBed(ctx, b.ID, Patch{Status: ptr(StatusOccupied)}); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("admin edge into occupied should conflict, got %v", err)
	}

	repo.beds[b.ID].Status = StatusOccupied
	if _, err := svc.UpdateBed(ctx, b.ID, Patch{Status: ptr(StatusMaintenance)}); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("occupied -> maintenance should conflict, got %v", err)
	}
	if _, err := svc.UpdateBed(ctx, b.ID, Patch{Active: ptr(false)}); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("deactivating occupied bed should conflict, got %v", err)
	}
	if repo.beds[b.ID].Status != StatusOccupied || !repo.beds[b.ID].Active {
		t.Error("occupied bed must be untouched")
	}
}

func TestUpdateBed_Fields(t *testing.T) {
	svc, _, wardID := newTestService()
	ctx := context.Background()
	b, _ := svc.CreateBed(ctx, CreateRequest{WardID: wardID, BedNumber: "B1", Type: TypeICU, DailyRate: 100})

	got, err := svc.UpdateBed(ctx, b.ID, Patch{DailyRate: ptr(250.5), Type: ptr(TypeIsolation)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DailyRate != 250.5 || got.Type != TypeIsolation || got.Status != StatusAvailable {
		t.Errorf("unexpected bed: %+v", got)
	}

	if _, err := svc.UpdateBed(ctx, b.ID, Patch{DailyRate: ptr(-5.0)}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation, got %v", err)
	}
	if _, err := svc.UpdateBed(ctx, uuid.New(), Patch{Active: ptr(false)}); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestListAvailable(t *testing.T) {
	svc, _, wardID := newTestService()
	ctx := context.Background()
	b1, _ := svc.CreateBed(ctx, CreateRequest{WardID: wardID, BedNumber: "B1", Type: TypeICU})
	svc.CreateBed(ctx, CreateRequest{WardID: wardID, BedNumber: "B2", Type: TypeStandard})
	svc.UpdateBed(ctx, b1.ID, Patch{Status: ptr(StatusReserved)})

	beds, err := svc.ListAvailable(ctx, &wardID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(beds) != 1 || beds[0].BedNumber != "B2" {
		t.Errorf("expected only B2 available, got %d beds", len(beds))
	}
	if _, err := svc.ListAvailable(ctx, nil, "suite"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation, got %v", err)
	}
}
