package evaluator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"station-alerts/internal/models"
)

func record(stat float64, min, max models.Bound) models.AggregateRecord {
	return models.AggregateRecord{
		StationID:  1,
		VariableID: 10,
		Variable:   "temperatura",
		Statistic:  stat,
		Min:        min,
		Max:        max,
		User:       "alice",
		Country:    "CO",
		State:      "Antioquia",
		City:       "Medellin",
	}
}

func TestCheckAboveMax(t *testing.T) {
	for _, p := range []Policy{Unbounded, Zero} {
		alert, err := New(p).Check(record(10, models.Present(0), models.Present(5)))
		require.NoError(t, err)
		require.NotNil(t, alert, "policy %s", p)
		assert.Equal(t, models.AboveMax, alert.Reason)
		assert.Equal(t, "CO/Antioquia/Medellin/alice/in", alert.Topic)
		assert.Equal(t, "ALERT temperatura out of bounds: 10 (Limit: 0 - 5)", alert.Message)
		assert.NotEmpty(t, alert.ID)
	}
}

func TestCheckWithinBounds(t *testing.T) {
	for _, p := range []Policy{Unbounded, Zero} {
		alert, err := New(p).Check(record(3, models.Present(0), models.Present(5)))
		require.NoError(t, err)
		assert.Nil(t, alert, "policy %s", p)
	}
}

func TestCheckBoundaryValuesAreNotViolations(t *testing.T) {
	e := New(Unbounded)
	for _, stat := range []float64{0, 5} {
		alert, err := e.Check(record(stat, models.Present(0), models.Present(5)))
		require.NoError(t, err)
		assert.Nil(t, alert, "stat %v", stat)
	}
}

func TestCheckBelowMin(t *testing.T) {
	alert, err := New(Unbounded).Check(record(-1, models.Present(0), models.Present(5)))
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, models.BelowMin, alert.Reason)
}

func TestAbsentMaxUnderZeroPolicyIsViolation(t *testing.T) {
	alert, err := New(Zero).Check(record(1, models.Present(0), models.Absent))
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, models.AboveMax, alert.Reason)
	assert.Equal(t, models.Present(0), alert.EffectiveMax)
	assert.Equal(t, "ALERT temperatura out of bounds: 1 (Limit: 0 - 0)", alert.Message)
}

func TestAbsentMaxUnderUnboundedPolicyIsNotViolation(t *testing.T) {
	alert, err := New(Unbounded).Check(record(1, models.Present(0), models.Absent))
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestDefaultPolicyRejectsZeroCoercion(t *testing.T) {
	p, err := ParsePolicy("unbounded")
	require.NoError(t, err)
	alert, err := New(p).Check(record(1, models.Absent, models.Absent))
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestBothBoundsAbsentNeverAlertsUnbounded(t *testing.T) {
	e := New(Unbounded)
	for _, stat := range []float64{-1e9, 0, 1e9} {
		alert, err := e.Check(record(stat, models.Absent, models.Absent))
		require.NoError(t, err)
		assert.Nil(t, alert)
	}
}

func TestUnboundedMessageShowsNone(t *testing.T) {
	alert, err := New(Unbounded).Check(record(-4, models.Present(0), models.Absent))
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, "ALERT temperatura out of bounds: -4 (Limit: 0 - none)", alert.Message)
}

func TestMalformedRecords(t *testing.T) {
	cases := map[string]models.AggregateRecord{
		"nan statistic": record(math.NaN(), models.Present(0), models.Present(5)),
		"inf statistic": record(math.Inf(1), models.Present(0), models.Present(5)),
		"nan min":       record(1, models.Present(math.NaN()), models.Present(5)),
		"inf max":       record(1, models.Present(0), models.Present(math.Inf(-1))),
		"min above max": record(1, models.Present(9), models.Present(5)),
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(Unbounded).Check(r)
			require.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestEvaluateKeepsOrderAndSkipsMalformed(t *testing.T) {
	records := []models.AggregateRecord{
		record(10, models.Present(0), models.Present(5)),
		record(math.NaN(), models.Present(0), models.Present(5)),
		record(3, models.Present(0), models.Present(5)),
		record(-2, models.Present(0), models.Present(5)),
	}
	records[3].StationID = 2

	alerts, rejected := New(Unbounded).Evaluate(records)
	require.Len(t, alerts, 2)
	require.Len(t, rejected, 1)
	assert.Equal(t, int64(1), alerts[0].Record.StationID)
	assert.Equal(t, int64(2), alerts[1].Record.StationID)
	assert.ErrorIs(t, rejected[0].Err, ErrMalformedRecord)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("zero")
	require.NoError(t, err)
	assert.Equal(t, Zero, p)

	_, err = ParsePolicy("ignore")
	require.Error(t, err)
}
