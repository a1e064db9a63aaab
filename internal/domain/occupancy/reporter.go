package occupancy

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/inpatient/internal/domain/admission"
	"github.com/ehr/inpatient/internal/domain/bed"
	"github.com/ehr/inpatient/internal/domain/ward"
	"github.com/ehr/inpatient/internal/platform/metrics"
)

type WardReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*ward.Ward, error)
	ListAll(ctx context.Context) ([]*ward.Ward, error)
}

type BedCounter interface {
	StatusCounts(ctx context.Context, wardID *uuid.UUID) (map[uuid.UUID]bed.StatusCount, error)
}

type AdmissionCounter interface {
	Counts(ctx context.Context, r admission.DayRange) (admission.Counts, error)
}

type WardOccupancy struct {
	WardID          uuid.UUID `json:"ward_id"`
	WardName        string    `json:"ward_name"`
	WardType        ward.Type `json:"ward_type"`
	Capacity        int       `json:"capacity"`
	TotalBeds       int       `json:"total_beds"`
	OccupiedBeds    int       `json:"occupied_beds"`
	AvailableBeds   int       `json:"available_beds"`
	MaintenanceBeds int       `json:"maintenance_beds"`
	ReservedBeds    int       `json:"reserved_beds"`
	OccupancyRate   float64   `json:"occupancy_rate"`
	CachedOccupancy int       `json:"cached_occupancy"`
	Drift           int       `json:"drift"`
	OverCapacity    bool      `json:"over_capacity"`
}

type SystemStats struct {
	TotalAdmissions   int     `json:"total_admissions"`
	CurrentAdmissions int     `json:"current_admissions"`
	AdmissionsOnDate  int     `json:"admissions_on_date"`
	DischargesOnDate  int     `json:"discharges_on_date"`
	TotalBeds         int     `json:"total_beds"`
	AvailableBeds     int     `json:"available_beds"`
	OccupiedBeds      int     `json:"occupied_beds"`
	OccupancyRate     float64 `json:"occupancy_rate"`
	AsOf              string  `json:"as_of"`
}

// Drift is a ward whose cached occupancy disagrees with its occupied beds.
type Drift struct {
	WardID   uuid.UUID `json:"ward_id"`
	WardName string    `json:"ward_name"`
	Cached   int       `json:"cached"`
	Live     int       `json:"live"`
}

// Reporter answers occupancy questions from live bed counts. It never
// writes; the cached ward counter is only compared against.
type Reporter struct {
	wards      WardReader
	beds       BedCounter
	admissions AdmissionCounter
	logger     zerolog.Logger
	now        func() time.Time
}

func NewReporter(wards WardReader, beds BedCounter, admissions AdmissionCounter, logger zerolog.Logger) *Reporter {
	return &Reporter{
		wards:      wards,
		beds:       beds,
		admissions: admissions,
		logger:     logger.With().Str("component", "occupancy").Logger(),
		now:        time.Now,
	}
}

// rate is occupied over total as a percentage with two decimals.
func rate(occupied, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(occupied)/float64(total)*10000) / 100
}

// WardOccupancy reports one ward, or every ward ordered by name when wardID
// is nil.
func (r *Reporter) WardOccupancy(ctx context.Context, wardID *uuid.UUID) ([]WardOccupancy, error) {
	var wards []*ward.Ward
	if wardID != nil {
		w, err := r.wards.GetByID(ctx, *wardID)
		if err != nil {
			return nil, err
		}
		wards = []*ward.Ward{w}
	} else {
		var err error
		if wards, err = r.wards.ListAll(ctx); err != nil {
			return nil, err
		}
	}

	counts, err := r.beds.StatusCounts(ctx, wardID)
	if err != nil {
		return nil, err
	}

	out := make([]WardOccupancy, 0, len(wards))
	for _, w := range wards {
		c := counts[w.ID]
		row := WardOccupancy{
			WardID:          w.ID,
			WardName:        w.Name,
			WardType:        w.Type,
			Capacity:        w.Capacity,
			TotalBeds:       c.Total,
			OccupiedBeds:    c.Occupied,
			AvailableBeds:   c.Available,
			MaintenanceBeds: c.Maintenance,
			ReservedBeds:    c.Reserved,
			OccupancyRate:   rate(c.Occupied, c.Total),
			CachedOccupancy: w.CurrentOccupancy,
			Drift:           w.CurrentOccupancy - c.Occupied,
			OverCapacity:    c.Occupied > w.Capacity,
		}
		if row.Drift != 0 {
			r.logger.Warn().
				Str("ward_id", w.ID.String()).
				Int("cached", w.CurrentOccupancy).
				Int("live", c.Occupied).
				Msg("ward occupancy drift")
		}
		metrics.SetWardOccupancy(w.Name, c.Occupied)
		metrics.SetWardDrift(w.Name, row.Drift)
		out = append(out, row)
	}
	return out, nil
}

// SystemStats summarises beds now and admissions on the asOf day (UTC),
// today when asOf is nil. TotalAdmissions stops at the end of asOf.
func (r *Reporter) SystemStats(ctx context.Context, asOf *time.Time) (*SystemStats, error) {
	day := r.now().UTC()
	if asOf != nil {
		day = asOf.UTC()
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	ac, err := r.admissions.Counts(ctx, admission.DayRange{
		Start:      start,
		End:        start.AddDate(0, 0, 1),
		BoundTotal: asOf != nil,
	})
	if err != nil {
		return nil, err
	}
	counts, err := r.beds.StatusCounts(ctx, nil)
	if err != nil {
		return nil, err
	}

	var beds bed.StatusCount
	for _, c := range counts {
		beds.Total += c.Total
		beds.Available += c.Available
		beds.Occupied += c.Occupied
	}
	return &SystemStats{
		TotalAdmissions:   ac.Total,
		CurrentAdmissions: ac.Current,
		AdmissionsOnDate:  ac.AdmittedOnDay,
		DischargesOnDate:  ac.DischargedOnDay,
		TotalBeds:         beds.Total,
		AvailableBeds:     beds.Available,
		OccupiedBeds:      beds.Occupied,
		OccupancyRate:     rate(beds.Occupied, beds.Total),
		AsOf:              start.Format(time.DateOnly),
	}, nil
}

// Reconcile lists every ward whose cached occupancy has drifted.
func (r *Reporter) Reconcile(ctx context.Context) ([]Drift, error) {
	rows, err := r.WardOccupancy(ctx, nil)
	if err != nil {
		return nil, err
	}
	drifts := []Drift{}
	for _, row := range rows {
		if row.Drift != 0 {
			drifts = append(drifts, Drift{WardID: row.WardID, WardName: row.WardName, Cached: row.CachedOccupancy, Live: row.OccupiedBeds})
		}
	}
	return drifts, nil
}
