// Package directory talks to the external patient and staff registries. Only
// positive answers are cached; a miss always goes back to the registry.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/ehr/inpatient/internal/platform/cache"
	"github.com/ehr/inpatient/internal/platform/db"
)

// StaffMember is the subset of the staff registry record the allocation
// engine needs.
type StaffMember struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

// UnmarshalJSON treats a record without an "active" field as active. Only an
// explicit false marks a staff member inactive.
func (m *StaffMember) UnmarshalJSON(data []byte) error {
	type plain StaffMember
	rec := plain{Active: true}
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*m = StaffMember(rec)
	return nil
}

type patientRecord struct {
	ID string `json:"id"`
}

type Config struct {
	PatientBaseURL string
	StaffBaseURL   string
	Timeout        time.Duration
	CacheTTL       time.Duration
	// RetryCount is how many times a failed lookup is retried. Zero disables
	// retries so a slow registry costs one timeout per admission.
	RetryCount int
}

// Client implements both directory lookups over HTTP.
type Client struct {
	patients *resty.Client
	staff    *resty.Client
	cache    cache.Cache
	ttl      time.Duration
	logger   zerolog.Logger
}

func newHTTP(baseURL string, timeout time.Duration, retries int) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(100 * time.Millisecond).
		SetHeader("Accept", "application/json")
}

func New(cfg Config, c cache.Cache, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		patients: newHTTP(cfg.PatientBaseURL, cfg.Timeout, cfg.RetryCount),
		staff:    newHTTP(cfg.StaffBaseURL, cfg.Timeout, cfg.RetryCount),
		cache:    c,
		ttl:      cfg.CacheTTL,
		logger:   logger.With().Str("component", "directory").Logger(),
	}
}

func (c *Client) cacheKey(ctx context.Context, kind, id string) string {
	return cache.Key(db.TenantFromContext(ctx), "directory", kind, id)
}

func (c *Client) cached(ctx context.Context, key string, dst any) bool {
	if c.cache == nil {
		return false
	}
	raw, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("key", key).Msg("directory cache read failed")
		}
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (c *Client) remember(ctx context.Context, key string, v any) {
	if c.cache == nil || c.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("directory cache write failed")
	}
}

// PatientExists reports whether the patient registry knows patientID.
func (c *Client) PatientExists(ctx context.Context, patientID string) (bool, error) {
	key := c.cacheKey(ctx, "patient", patientID)
	var rec patientRecord
	if c.cached(ctx, key, &rec) {
		return true, nil
	}

	resp, err := c.patients.R().
		SetContext(ctx).
		SetPathParam("id", patientID).
		SetResult(&rec).
		Get("/patients/{id}")
	if err != nil {
		return false, fmt.Errorf("patient directory: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return false, nil
	case resp.IsError():
		return false, fmt.Errorf("patient directory: status %d", resp.StatusCode())
	}

	if rec.ID == "" {
		rec.ID = patientID
	}
	c.remember(ctx, key, rec)
	return true, nil
}

// LookupStaff returns the staff record, or nil with no error when the
// registry does not know staffID.
func (c *Client) LookupStaff(ctx context.Context, staffID string) (*StaffMember, error) {
	key := c.cacheKey(ctx, "staff", staffID)
	var member StaffMember
	if c.cached(ctx, key, &member) {
		return &member, nil
	}

	resp, err := c.staff.R().
		SetContext(ctx).
		SetPathParam("id", staffID).
		SetResult(&member).
		Get("/staff/{id}")
	if err != nil {
		return nil, fmt.Errorf("staff directory: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, nil
	case resp.IsError():
		return nil, fmt.Errorf("staff directory: status %d", resp.StatusCode())
	}

	if member.ID == "" {
		member.ID = staffID
	}
	c.remember(ctx, key, member)
	return &member, nil
}
