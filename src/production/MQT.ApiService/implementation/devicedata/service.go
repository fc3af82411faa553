package devicedata

import (
	"context"
	"errors"
	"fmt"
	"time"

	config "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Config"
	metrics "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
)

// ErrInvalidFilter is wrapped by every QueryError
var ErrInvalidFilter = errors.New("invalid filter")

// QueryError describes a rejected query parameter
type QueryError struct {
	Field  string
	Reason string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *QueryError) Unwrap() error {
	return ErrInvalidFilter
}

func invalid(field, format string, args ...interface{}) error {
	return &QueryError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Service answers read queries over stored readings
type Service struct {
	repo    interfaces.ReadingQueryRepository
	limits  config.QueryConfig
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewService(repo interfaces.ReadingQueryRepository, limits config.QueryConfig, timeout time.Duration, m *metrics.Metrics) *Service {
	return &Service{repo: repo, limits: limits, timeout: timeout, metrics: m}
}

// GetOne returns the most recent reading matching f. It returns an error
// wrapping interfaces.ErrNotFound when nothing matches.
func (s *Service) GetOne(ctx context.Context, f mqtmodels.ReadingFilter) (*mqtmodels.DeviceReading, error) {
	if err := validateFilter(f.DeviceType, f.After, f.Before); err != nil {
		s.observe("get_one", "invalid")
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	reading, err := s.repo.FindLatest(ctx, f)
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		s.observe("get_one", "not_found")
		return nil, err
	case err != nil:
		s.observe("get_one", "error")
		return nil, fmt.Errorf("failed to load latest reading: %w", err)
	}
	s.observe("get_one", "ok")
	return reading, nil
}

// GetMany returns matching readings, newest first, at most the clamped limit
func (s *Service) GetMany(ctx context.Context, q mqtmodels.ReadingsQuery) ([]mqtmodels.DeviceReading, error) {
	if err := validateQuery(q); err != nil {
		s.observe("get_many", "invalid")
		return nil, err
	}
	q.Limit = s.ClampLimit(q.Limit)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	readings, err := s.repo.FindMany(ctx, q)
	if err != nil {
		s.observe("get_many", "error")
		return nil, fmt.Errorf("failed to load readings: %w", err)
	}
	if readings == nil {
		readings = []mqtmodels.DeviceReading{}
	}
	s.observe("get_many", "ok")
	return readings, nil
}

// ClampLimit maps a non-positive limit to the default and caps it at the maximum
func (s *Service) ClampLimit(limit int) int {
	if limit <= 0 {
		limit = s.limits.DefaultLimit
	}
	if s.limits.MaxLimit > 0 && limit > s.limits.MaxLimit {
		limit = s.limits.MaxLimit
	}
	return limit
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) observe(op, outcome string) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(op, outcome).Inc()
	}
}

func validateFilter(t mqtmodels.DeviceType, after, before *time.Time) error {
	if t != "" && !t.Valid() {
		return invalid("deviceType", "unknown device type %q", t)
	}
	if after != nil && before != nil && after.After(*before) {
		return invalid("after", "after must not be later than before")
	}
	return nil
}

func validateQuery(q mqtmodels.ReadingsQuery) error {
	for _, t := range q.DeviceTypes {
		if !t.Valid() {
			return invalid("deviceTypes", "unknown device type %q", t)
		}
	}
	if r := q.ValueRange; r != nil && r.Min > r.Max {
		return invalid("valueRange", "min %v is greater than max %v", r.Min, r.Max)
	}
	return validateFilter("", q.After, q.Before)
}
