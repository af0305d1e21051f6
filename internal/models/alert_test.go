package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic(t *testing.T) {
	assert.Equal(t, "CO/Antioquia/Medellin/alice/in", Topic("CO", "Antioquia", "Medellin", "alice"))
}

func TestTopicKeepsEmptySegments(t *testing.T) {
	assert.Equal(t, "CO//Medellin//in", Topic("CO", "", "Medellin", ""))
	assert.Equal(t, "////in", Topic("", "", "", ""))
}

func TestTopicSanitizesReservedCharacters(t *testing.T) {
	topic := Topic("CO", "Valle/Cauca", "Cali+", "bob#1")
	assert.Equal(t, "CO/Valle_Cauca/Cali_/bob_1/in", topic)
}

func TestTopicFor(t *testing.T) {
	r := AggregateRecord{Country: "CO", State: "Antioquia", City: "Medellin", User: "alice"}
	assert.Equal(t, "CO/Antioquia/Medellin/alice/in", TopicFor(r))
}

func TestMessage(t *testing.T) {
	msg := Message("temperatura", 31.5, Present(10), Present(30))
	assert.Equal(t, "ALERT temperatura out of bounds: 31.5 (Limit: 10 - 30)", msg)
}

func TestMessageAbsentBound(t *testing.T) {
	msg := Message("humedad", -2, Present(0), Absent)
	assert.Equal(t, "ALERT humedad out of bounds: -2 (Limit: 0 - none)", msg)
}

func TestBoundString(t *testing.T) {
	assert.Equal(t, "none", Absent.String())
	assert.Equal(t, "0", Present(0).String())
	assert.Equal(t, "12.25", Present(12.25).String())
}

func TestBoundJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Min Bound `json:"min"`
		Max Bound `json:"max"`
	}{Present(1.5), Absent})
	require.NoError(t, err)
	assert.JSONEq(t, `{"min":1.5,"max":null}`, string(data))

	var back struct {
		Min Bound `json:"min"`
		Max Bound `json:"max"`
	}
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, Present(1.5), back.Min)
	assert.Equal(t, Absent, back.Max)
}
