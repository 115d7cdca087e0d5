// Package ingest publishes booking state changes to Kafka.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/mobility-matching/internal/models"
)

const publishTimeout = 2 * time.Second

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w}
}

// EncodeBookingEvent returns the message for ev. Events are keyed by
// vehicle so every update for one vehicle lands on the same partition.
func EncodeBookingEvent(ev models.BookingEvent) (kafka.Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode booking event: %w", err)
	}
	return kafka.Message{Key: []byte(ev.VehicleID), Value: b, Time: ev.OccurredAt}, nil
}

func DecodeBookingEvent(m kafka.Message) (models.BookingEvent, error) {
	var ev models.BookingEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return ev, fmt.Errorf("decode booking event: %w", err)
	}
	return ev, nil
}

func (k *KafkaProducer) PublishBookingEvent(ctx context.Context, ev models.BookingEvent) error {
	msg, err := EncodeBookingEvent(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, msg)
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
