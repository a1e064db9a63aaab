package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inpatient_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inpatient_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// Allocation metrics
	admissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inpatient_admissions_total",
			Help: "Admissions created, by admission type",
		},
		[]string{"type"},
	)

	dischargesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inpatient_discharges_total",
			Help: "Admissions discharged, by disposition",
		},
		[]string{"disposition"},
	)

	transfersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inpatient_transfers_total",
			Help: "Patients transferred between beds",
		},
	)

	allocationConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inpatient_allocation_conflicts_total",
			Help: "Allocation attempts rejected with a conflict",
		},
		[]string{"operation"},
	)

	compensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inpatient_compensations_total",
			Help: "Compensating actions replayed after a partial failure",
		},
		[]string{"operation", "result"},
	)

	// Occupancy
	wardOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inpatient_ward_occupancy",
			Help: "Occupied beds per ward, counted from bed status",
		},
		[]string{"ward"},
	)

	wardOccupancyDrift = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inpatient_ward_occupancy_drift",
			Help: "Cached occupancy minus live occupied bed count",
		},
		[]string{"ward"},
	)

	// Database
	txRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inpatient_tx_retries_total",
			Help: "Transactions retried after serialization failure or deadlock",
		},
	)
)

// Handler exposes the default registry.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// Middleware records request count and latency keyed by the matched route.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func RecordAdmission(admissionType string) {
	admissionsTotal.WithLabelValues(admissionType).Inc()
}

func RecordDischarge(disposition string) {
	dischargesTotal.WithLabelValues(disposition).Inc()
}

func RecordTransfer() {
	transfersTotal.Inc()
}

func RecordAllocationConflict(operation string) {
	allocationConflicts.WithLabelValues(operation).Inc()
}

// RecordCompensation counts one replayed compensation; result is "ok" or "failed".
func RecordCompensation(operation, result string) {
	compensationsTotal.WithLabelValues(operation, result).Inc()
}

func SetWardOccupancy(ward string, occupied int) {
	wardOccupancy.WithLabelValues(ward).Set(float64(occupied))
}

func SetWardDrift(ward string, drift int) {
	wardOccupancyDrift.WithLabelValues(ward).Set(float64(drift))
}

func RecordTxRetry() {
	txRetries.Inc()
}
