package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"station-alerts/internal/models"
)

// Station is a sensor deployment known to the memory store.
type Station struct {
	ID      int64
	User    string
	Country string
	State   string
	City    string
}

// Variable is a measurement definition with optional bounds.
type Variable struct {
	ID   int64
	Name string
	Min  models.Bound
	Max  models.Bound
}

// Reading is one timestamped observation.
type Reading struct {
	StationID  int64
	VariableID int64
	Value      float64
	BaseTime   time.Time
}

// MemoryStore keeps stations, variables and readings in process memory and
// answers window queries with the same contract as the PostgreSQL store.
type MemoryStore struct {
	mu        sync.RWMutex
	stations  map[int64]Station
	variables map[int64]Variable
	readings  []Reading
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stations:  make(map[int64]Station),
		variables: make(map[int64]Variable),
	}
}

func (s *MemoryStore) AddStation(st Station) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations[st.ID] = st
}

func (s *MemoryStore) AddVariable(v Variable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variables[v.ID] = v
}

// AddReading stores r. The station and variable must already be known.
func (s *MemoryStore) AddReading(r Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stations[r.StationID]; !ok {
		return fmt.Errorf("unknown station %d", r.StationID)
	}
	if _, ok := s.variables[r.VariableID]; !ok {
		return fmt.Errorf("unknown variable %d", r.VariableID)
	}
	s.readings = append(s.readings, r)
	return nil
}

// Prune drops readings older than cutoff and returns how many were removed.
func (s *MemoryStore) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.readings[:0]
	for _, r := range s.readings {
		if !r.BaseTime.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	removed := len(s.readings) - len(kept)
	s.readings = kept
	return removed
}

type accumulator struct {
	sum   float64
	count int64
}

// QueryAggregates returns one record per (station, variable) with readings in
// [windowStart, windowEnd], ordered by station then variable.
func (s *MemoryStore) QueryAggregates(ctx context.Context, windowStart, windowEnd time.Time) ([]models.AggregateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make(map[models.GroupKey]*accumulator)
	for _, r := range s.readings {
		if r.BaseTime.Before(windowStart) || r.BaseTime.After(windowEnd) {
			continue
		}
		key := models.GroupKey{StationID: r.StationID, VariableID: r.VariableID}
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{}
			groups[key] = acc
		}
		acc.sum += r.Value
		acc.count++
	}

	keys := make([]models.GroupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].StationID != keys[j].StationID {
			return keys[i].StationID < keys[j].StationID
		}
		return keys[i].VariableID < keys[j].VariableID
	})

	list := make([]models.AggregateRecord, 0, len(keys))
	for _, k := range keys {
		acc := groups[k]
		st := s.stations[k.StationID]
		v := s.variables[k.VariableID]
		list = append(list, models.AggregateRecord{
			StationID:  k.StationID,
			VariableID: k.VariableID,
			Variable:   v.Name,
			Statistic:  acc.sum / float64(acc.count),
			Readings:   acc.count,
			Min:        v.Min,
			Max:        v.Max,
			User:       st.User,
			Country:    st.Country,
			State:      st.State,
			City:       st.City,
		})
	}
	return list, nil
}
