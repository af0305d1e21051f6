package evaluator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"station-alerts/internal/models"
)

// ErrMalformedRecord marks a record whose statistic or bounds cannot be compared.
var ErrMalformedRecord = errors.New("malformed aggregate record")

// Policy decides what an absent bound means.
type Policy string

const (
	// Unbounded treats an absent bound as no constraint on that side.
	Unbounded Policy = "unbounded"
	// Zero treats an absent bound as 0.
	Zero Policy = "zero"
)

// ParsePolicy accepts the values of ABSENT_BOUND_POLICY.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case Unbounded, Zero:
		return p, nil
	}
	return "", fmt.Errorf("unknown absent bound policy %q", s)
}

// Evaluator compares aggregate records against their bounds. It holds no
// state between calls.
type Evaluator struct {
	policy Policy
	now    func() time.Time
}

func New(policy Policy) *Evaluator {
	return &Evaluator{policy: policy, now: time.Now}
}

func (e *Evaluator) Policy() Policy { return e.policy }

// Effective resolves the bounds of r under the evaluator's policy.
func (e *Evaluator) Effective(r models.AggregateRecord) (min, max models.Bound) {
	min, max = r.Min, r.Max
	if e.policy == Zero {
		if !min.Valid {
			min = models.Present(0)
		}
		if !max.Valid {
			max = models.Present(0)
		}
	}
	return min, max
}

// Check validates r and returns an alert if its statistic is outside the
// effective bounds. A nil alert with a nil error means no violation.
func (e *Evaluator) Check(r models.AggregateRecord) (*models.Alert, error) {
	if err := validate(r); err != nil {
		return nil, err
	}

	min, max := e.Effective(r)
	var reason string
	switch {
	case max.Valid && r.Statistic > max.Value:
		reason = models.AboveMax
	case min.Valid && r.Statistic < min.Value:
		reason = models.BelowMin
	default:
		return nil, nil
	}

	return &models.Alert{
		ID:           uuid.NewString(),
		Topic:        models.TopicFor(r),
		Message:      models.Message(r.Variable, r.Statistic, min, max),
		Reason:       reason,
		Record:       r,
		EffectiveMin: min,
		EffectiveMax: max,
		FiredAt:      e.now().UTC(),
	}, nil
}

// Rejected pairs a skipped record with the reason it was skipped.
type Rejected struct {
	Record models.AggregateRecord
	Err    error
}

// Evaluate checks every record and returns the alerts in input order along
// with any records that were skipped as malformed.
func (e *Evaluator) Evaluate(records []models.AggregateRecord) ([]models.Alert, []Rejected) {
	var alerts []models.Alert
	var rejected []Rejected
	for _, r := range records {
		alert, err := e.Check(r)
		if err != nil {
			rejected = append(rejected, Rejected{Record: r, Err: err})
			continue
		}
		if alert != nil {
			alerts = append(alerts, *alert)
		}
	}
	return alerts, rejected
}

func validate(r models.AggregateRecord) error {
	if !finite(r.Statistic) {
		return fmt.Errorf("%w: statistic %v for station %d variable %d", ErrMalformedRecord, r.Statistic, r.StationID, r.VariableID)
	}
	if r.Min.Valid && !finite(r.Min.Value) {
		return fmt.Errorf("%w: min bound %v for variable %d", ErrMalformedRecord, r.Min.Value, r.VariableID)
	}
	if r.Max.Valid && !finite(r.Max.Value) {
		return fmt.Errorf("%w: max bound %v for variable %d", ErrMalformedRecord, r.Max.Value, r.VariableID)
	}
	if r.Min.Valid && r.Max.Valid && r.Min.Value > r.Max.Value {
		return fmt.Errorf("%w: min %v above max %v for variable %d", ErrMalformedRecord, r.Min.Value, r.Max.Value, r.VariableID)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
