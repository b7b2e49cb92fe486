// Package notify publishes seat-change events for downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/model"
)

// Event types.
const (
	SeatBooked    = "seat.booked"
	SeatCancelled = "seat.cancelled"
)

// SeatEvent is the message published for every confirmed seat change.
type SeatEvent struct {
	ID            string             `json:"id"`
	Type          string             `json:"type"`
	ParticipantID string             `json:"participant_id"`
	Participant   *model.Participant `json:"participant,omitempty"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

// Publisher emits seat events. Publish failures never undo a confirmed
// store write; callers log and move on.
type Publisher interface {
	SeatBooked(ctx context.Context, p *model.Participant) error
	SeatCancelled(ctx context.Context, participantID string) error
	Close() error
}

// NoOp discards every event. Used when no brokers are configured.
type NoOp struct{}

var _ Publisher = NoOp{}

func (NoOp) SeatBooked(context.Context, *model.Participant) error { return nil }
func (NoOp) SeatCancelled(context.Context, string) error          { return nil }
func (NoOp) Close() error                                         { return nil }

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Kafka publishes seat events to a topic, keyed by participant id so the
// book/cancel history of a seat stays ordered within a partition.
type Kafka struct {
	client *kgo.Client
	topic  string
	log    *zap.Logger
}

var _ Publisher = &Kafka{}

// NewKafka connects a producer and pings the cluster.
func NewKafka(ctx context.Context, cfg KafkaConfig, log *zap.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping kafka: %w", err)
	}

	return &Kafka{client: client, topic: cfg.Topic, log: log}, nil
}

func (k *Kafka) SeatBooked(ctx context.Context, p *model.Participant) error {
	return k.publish(ctx, SeatEvent{Type: SeatBooked, ParticipantID: p.ID, Participant: p})
}

func (k *Kafka) SeatCancelled(ctx context.Context, participantID string) error {
	return k.publish(ctx, SeatEvent{Type: SeatCancelled, ParticipantID: participantID})
}

// Close flushes buffered records and closes the client.
func (k *Kafka) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := k.client.Flush(ctx); err != nil {
		k.log.Warn("kafka flush on close failed", zap.Error(err))
	}
	k.client.Close()
	return nil
}

func (k *Kafka) publish(ctx context.Context, ev SeatEvent) error {
	ev.ID = uuid.New().String()
	ev.OccurredAt = time.Now().UTC()

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}

	rec := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(ev.ParticipantID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "content_type", Value: []byte("application/json")},
		},
	}
	if err := k.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce %s event: %w", ev.Type, err)
	}
	return nil
}
