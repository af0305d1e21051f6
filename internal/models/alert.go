package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Violation reasons.
const (
	AboveMax = "above_max"
	BelowMin = "below_min"
)

// Alert is one bound violation, ready to publish.
type Alert struct {
	ID      string `json:"id"`
	CycleID string `json:"cycle_id,omitempty"`
	Topic   string `json:"topic"`
	Message string `json:"message"`
	Reason  string `json:"reason"`

	Record       AggregateRecord `json:"record"`
	EffectiveMin Bound           `json:"effective_min"`
	EffectiveMax Bound           `json:"effective_max"`
	FiredAt      time.Time       `json:"fired_at"`
}

var segmentReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// Topic builds the subscriber routing path "<country>/<state>/<city>/<user>/in".
// Missing components become empty segments so the path always has five levels.
func Topic(country, state, city, user string) string {
	return fmt.Sprintf("%s/%s/%s/%s/in",
		segmentReplacer.Replace(country),
		segmentReplacer.Replace(state),
		segmentReplacer.Replace(city),
		segmentReplacer.Replace(user),
	)
}

// TopicFor is Topic over the routing fields of r.
func TopicFor(r AggregateRecord) string {
	return Topic(r.Country, r.State, r.City, r.User)
}

// Message builds the human-readable alert payload.
func Message(variable string, statistic float64, min, max Bound) string {
	return fmt.Sprintf("ALERT %s out of bounds: %s (Limit: %s - %s)",
		variable,
		strconv.FormatFloat(statistic, 'f', -1, 64),
		min, max,
	)
}
