package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// RideEvent is the record published for every committed ride transition.
type RideEvent struct {
	RideID   string            `json:"ride_id"`
	RiderID  string            `json:"rider_id"`
	DriverID string            `json:"driver_id,omitempty"`
	From     models.RideStatus `json:"from"`
	To       models.RideStatus `json:"to"`
	ActorID  string            `json:"actor_id"`
	Fare     models.Money      `json:"fare"`
	Version  int               `json:"version"`
	At       time.Time         `json:"at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes JSON records to one topic, keyed by entity id.
type KafkaProducer struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

// NewKafkaProducer writes to topic with a key-hash balancer, so records sharing a
// key land on one partition. batchTimeout bounds how long a write waits to fill a batch.
func NewKafkaProducer(brokers []string, topic string, batchTimeout time.Duration) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaProducer{writer: w, topic: topic, timeout: 2 * time.Second}
}

// PublishLocation keys by driver so a driver's reports stay ordered within a partition.
func (k *KafkaProducer) PublishLocation(ctx context.Context, loc models.DriverLocation) error {
	return k.publish(ctx, message{key: loc.DriverID, v: loc})
}

// PublishRideEvents keys by ride so a ride's transitions stay ordered.
func (k *KafkaProducer) PublishRideEvents(ctx context.Context, evs ...RideEvent) error {
	msgs := make([]message, 0, len(evs))
	for _, ev := range evs {
		msgs = append(msgs, message{key: ev.RideID, v: ev})
	}
	return k.publish(ctx, msgs...)
}

type message struct {
	key string
	v   any
}

func (k *KafkaProducer) publish(ctx context.Context, msgs ...message) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m.v)
		if err != nil {
			return fmt.Errorf("encode %s message: %w", k.topic, err)
		}
		out = append(out, kafka.Message{Key: []byte(m.key), Value: b})
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("publish to %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
