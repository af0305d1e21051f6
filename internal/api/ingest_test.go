package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"station-alerts/internal/db"
	"station-alerts/internal/models"
	"station-alerts/internal/publisher"
)

func newIngestRouter(store *db.MemoryStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(fakeConn{state: publisher.Connected}, fakeCycles{}, fakeJobs{}, "unbounded", nil)
	return NewRouter(h, NewHub(nil), NewIngestHandler(store, nil), nil, "/api/v0")
}

func post(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestIngestFeedsMemoryStore(t *testing.T) {
	store := db.NewMemoryStore()
	r := newIngestRouter(store)

	w := post(r, "/api/v0/stations", `{"id":1,"user":"alice","country":"CO","state":"Antioquia","city":"Medellin"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = post(r, "/api/v0/variables", `{"id":7,"name":"temperatura","min":10,"max":null}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	at := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)
	for _, v := range []string{"12", "14"} {
		w = post(r, "/api/v0/readings", `{"station_id":1,"variable_id":7,"value":`+v+`,"base_time":"`+at+`"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	// base_time defaults to now.
	w = post(r, "/api/v0/readings", `{"station_id":1,"variable_id":7,"value":0}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	records, err := store.QueryAggregates(context.Background(), time.Now().Add(-time.Hour), time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "temperatura", rec.Variable)
	assert.Equal(t, "alice", rec.User)
	assert.Equal(t, int64(3), rec.Readings)
	assert.InDelta(t, 26.0/3, rec.Statistic, 1e-9)
	assert.Equal(t, models.Present(10), rec.Min)
	assert.Equal(t, models.Absent, rec.Max)
}

func TestIngestRejectsBadInput(t *testing.T) {
	store := db.NewMemoryStore()
	r := newIngestRouter(store)

	cases := map[string]struct {
		path string
		body string
		code int
	}{
		"station without user":  {"/api/v0/stations", `{"id":1}`, http.StatusBadRequest},
		"variable without name": {"/api/v0/variables", `{"id":1,"min":0}`, http.StatusBadRequest},
		"reading without value": {"/api/v0/readings", `{"station_id":1,"variable_id":1}`, http.StatusBadRequest},
		"malformed json":        {"/api/v0/readings", `{"station_id":`, http.StatusBadRequest},
		"unknown station":       {"/api/v0/readings", `{"station_id":9,"variable_id":1,"value":3}`, http.StatusUnprocessableEntity},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w := post(r, tc.path, tc.body)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
		})
	}
}

func TestIngestRoutesAbsentWithoutStore(t *testing.T) {
	r, _ := newTestRouter(fakeConn{state: publisher.Connected})
	w := post(r, "/api/v0/readings", `{"station_id":1,"variable_id":1,"value":3}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
