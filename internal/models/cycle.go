package models

import "time"

// CycleSummary is the per-cycle operational record emitted after every cycle.
type CycleSummary struct {
	CycleID     string        `json:"cycle_id"`
	Cadence     string        `json:"cadence"`
	WindowStart time.Time     `json:"window_start"`
	WindowEnd   time.Time     `json:"window_end"`
	Records     int           `json:"records"`
	Violations  int           `json:"violations"`
	Malformed   int           `json:"malformed"`
	Sent        int           `json:"sent"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// Aborted reports whether the cycle stopped before evaluating anything.
func (s CycleSummary) Aborted() bool {
	return s.Error != ""
}
