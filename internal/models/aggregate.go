package models

import (
	"encoding/json"
	"strconv"
)

// Bound is a configured limit for a variable. An absent bound is distinct
// from a bound of zero.
type Bound struct {
	Value float64
	Valid bool
}

// Present returns a bound set to v.
func Present(v float64) Bound {
	return Bound{Value: v, Valid: true}
}

// Absent is the bound of a variable whose limit was never configured.
var Absent = Bound{}

func (b Bound) String() string {
	if !b.Valid {
		return "none"
	}
	return strconv.FormatFloat(b.Value, 'f', -1, 64)
}

// MarshalJSON encodes an absent bound as null.
func (b Bound) MarshalJSON() ([]byte, error) {
	if !b.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(b.Value)
}

func (b *Bound) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = Absent
		return nil
	}
	if err := json.Unmarshal(data, &b.Value); err != nil {
		return err
	}
	b.Valid = true
	return nil
}

// GroupKey identifies one aggregate within a cycle's result set.
type GroupKey struct {
	StationID  int64
	VariableID int64
}

// AggregateRecord is the mean of one station's readings of one variable over
// a window, with the variable's bounds and the routing identity of the station.
type AggregateRecord struct {
	StationID  int64  `json:"station_id"`
	VariableID int64  `json:"variable_id"`
	Variable   string `json:"variable"`

	Statistic float64 `json:"statistic"`
	Readings  int64   `json:"readings"`
	Min       Bound   `json:"min"`
	Max       Bound   `json:"max"`

	// Denormalized routing fields. Empty means the store had no value.
	User    string `json:"user"`
	Country string `json:"country"`
	State   string `json:"state"`
	City    string `json:"city"`
}

func (r AggregateRecord) Key() GroupKey {
	return GroupKey{StationID: r.StationID, VariableID: r.VariableID}
}
