package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"station-alerts/internal/models"
)

// AlertEvent is the JSON record written for every delivered alert.
type AlertEvent struct {
	AlertID   string    `json:"alert_id"`
	CycleID   string    `json:"cycle_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	Topic     string    `json:"topic"`
	Message   string    `json:"message"`
	StationID int64     `json:"station_id"`
	User      string    `json:"user"`
	Metric    string    `json:"metric_name"`
	Value     float64   `json:"value"`
	Min       *float64  `json:"min"`
	Max       *float64  `json:"max"`
	FiredAt   time.Time `json:"fired_at"`
}

// NewAlertEvent flattens an alert for downstream consumers. Bounds are the ones the
// alert was evaluated against; an unconstrained side is null.
func NewAlertEvent(a models.Alert) AlertEvent {
	return AlertEvent{
		AlertID:   a.ID,
		CycleID:   a.CycleID,
		Status:    "firing",
		Reason:    a.Reason,
		Topic:     a.Topic,
		Message:   a.Message,
		StationID: a.Record.StationID,
		User:      a.Record.User,
		Metric:    a.Record.Variable,
		Value:     a.Record.Statistic,
		Min:       boundPtr(a.EffectiveMin),
		Max:       boundPtr(a.EffectiveMax),
		FiredAt:   a.FiredAt,
	}
}

func boundPtr(b models.Bound) *float64 {
	if !b.Valid {
		return nil
	}
	v := b.Value
	return &v
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer mirrors alerts to a Kafka topic.
type Producer struct {
	writer messageWriter
	topic  string
}

func NewProducer(broker, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(broker),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           50 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			WriteTimeout:           5 * time.Second,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

// Mirror writes a as an AlertEvent keyed by its MQTT topic, so every alert
// for one subscriber lands on the same partition.
func (p *Producer) Mirror(ctx context.Context, a models.Alert) error {
	body, err := json.Marshal(NewAlertEvent(a))
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.Topic),
		Value: body,
		Time:  time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("write to kafka topic %s: %w", p.topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
