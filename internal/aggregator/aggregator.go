package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"station-alerts/internal/logging"
	"station-alerts/internal/models"
)

// ErrDuplicateGroup is returned when the store yields two records for the
// same (station, variable) pair in one window.
var ErrDuplicateGroup = errors.New("duplicate aggregate group")

// Store is the telemetry query contract. Implementations must return at most
// one record per (station, variable) and leave absent bounds absent.
type Store interface {
	QueryAggregates(ctx context.Context, windowStart, windowEnd time.Time) ([]models.AggregateRecord, error)
}

// Window is the closed interval [Start, End].
type Window struct {
	Start time.Time
	End   time.Time
}

// Trailing returns the window of the given length ending at now.
func Trailing(now time.Time, length time.Duration) Window {
	return Window{Start: now.Add(-length), End: now}
}

// Aggregator pulls per-(station, variable) aggregates for a trailing window.
type Aggregator struct {
	store   Store
	timeout time.Duration
	logger  *logging.Logger
}

// New builds an aggregator. A zero timeout leaves the query bounded only by
// the caller's context.
func New(store Store, timeout time.Duration, logger *logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Aggregator{store: store, timeout: timeout, logger: logger.Component("aggregator")}
}

// Collect queries the store for w and returns the records as produced.
func (a *Aggregator) Collect(ctx context.Context, w Window) ([]models.AggregateRecord, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	records, err := a.store.QueryAggregates(ctx, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}

	seen := make(map[models.GroupKey]struct{}, len(records))
	for _, r := range records {
		if _, ok := seen[r.Key()]; ok {
			return nil, fmt.Errorf("%w: station %d variable %d", ErrDuplicateGroup, r.StationID, r.VariableID)
		}
		seen[r.Key()] = struct{}{}
	}

	a.logger.WithFields(logrus.Fields{
		"window_start": w.Start.Format(time.RFC3339),
		"window_end":   w.End.Format(time.RFC3339),
		"records":      len(records),
	}).Infof("Data reviewed: %d records", len(records))
	return records, nil
}
