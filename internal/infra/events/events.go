package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type Type string

const (
	SessionOpened          Type = "shipment.session_opened"
	ShipmentConfirmed      Type = "shipment.confirmed"
	ShipmentCancelled      Type = "shipment.cancelled"
	ReconciliationRequired Type = "shipment.reconciliation_required"
)

type Event struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	SessionID     int64     `json:"session_id"`
	OriginID      int64     `json:"origin_id"`
	DestinationID int64     `json:"destination_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	Payload       any       `json:"payload,omitempty"`
}

func New(t Type, sessionID, origin, destination int64, payload any) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          t,
		SessionID:     sessionID,
		OriginID:      origin,
		DestinationID: destination,
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// KafkaPublisher пишет события в топик, ключ — id сессии, чтобы события
// одной отгрузки шли в одну партицию по порядку.
type KafkaPublisher struct {
	w *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(e.SessionID, 10)),
		Value: body,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
		Time: e.OccurredAt,
	})
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// LogPublisher — запасной вариант без брокера: события уходят в лог.
type LogPublisher struct{ log *slog.Logger }

func NewLogPublisher(log *slog.Logger) *LogPublisher { return &LogPublisher{log: log} }

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.log.Info("event", "id", e.ID, "type", e.Type, "session_id", e.SessionID)
	return nil
}
