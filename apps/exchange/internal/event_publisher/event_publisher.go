package event_publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"exchange/apps/exchange/internal/model"
)

// OutboxStore hands out unsent fill events and records their delivery outcome.
type OutboxStore interface {
	GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkEventAsSent(ctx context.Context, eventID string) error
	MarkEventAsFailed(ctx context.Context, eventID string) error
}

// Producer is the subset of *kafka.Producer the publisher uses.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Close()
}

// EventPublisher drains the fill event outbox into a Kafka topic.
type EventPublisher struct {
	logger        *zap.Logger
	kafkaProducer Producer
	kafkaTopic    string
	outbox        OutboxStore
	interval      time.Duration
	batchSize     int
	mu            sync.Mutex // Protects concurrent access to publishing operations
}

func NewEventPublisher(kafkaBroker, kafkaTopic string, interval time.Duration, batchSize int, logger *zap.Logger, outbox OutboxStore) (*EventPublisher, error) {
	// Setup Kafka producer
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return newEventPublisher(producer, kafkaTopic, interval, batchSize, logger, outbox), nil
}

func newEventPublisher(producer Producer, kafkaTopic string, interval time.Duration, batchSize int, logger *zap.Logger, outbox OutboxStore) *EventPublisher {
	return &EventPublisher{
		logger:        logger,
		kafkaProducer: producer,
		kafkaTopic:    kafkaTopic,
		outbox:        outbox,
		interval:      interval,
		batchSize:     batchSize,
	}
}

// StartPublishing polls the outbox every interval until ctx is done.
func (ep *EventPublisher) StartPublishing(ctx context.Context) {
	ticker := time.NewTicker(ep.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ep.logger.Info("Stopping event publisher")
			return
		case <-ticker.C:
			if _, err := ep.PublishUnsentEvents(ctx); err != nil {
				ep.logger.Error("Error publishing events to Kafka", zap.Error(err))
			}
		}
	}
}

// PublishUnsentEvents ships one batch of outbox events and returns how many were
// delivered. Events that fail to publish go back to the outbox for the next run.
func (ep *EventPublisher) PublishUnsentEvents(ctx context.Context) (int, error) {
	// Use mutex to ensure only one publishing operation at a time per instance
	ep.mu.Lock()
	defer ep.mu.Unlock()

	outboxEvents, err := ep.outbox.GetUnsentEventsForProcessing(ctx, ep.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch outbox events: %w", err)
	}

	successCount := 0
	for _, event := range outboxEvents {
		if err := ep.publishEventToKafka(event); err != nil {
			ep.logger.Error("Failed to publish event to Kafka",
				zap.String("event_id", event.EventID),
				zap.Int64("order_id", event.OrderID),
				zap.Error(err))
			if markErr := ep.outbox.MarkEventAsFailed(ctx, event.EventID); markErr != nil {
				ep.logger.Error("Failed to mark event as failed", zap.String("event_id", event.EventID), zap.Error(markErr))
			}
			continue
		}

		if err := ep.outbox.MarkEventAsSent(ctx, event.EventID); err != nil {
			// Delivered but still marked processing; consumers dedupe on event_id.
			ep.logger.Error("Failed to mark event as sent", zap.String("event_id", event.EventID), zap.Error(err))
		} else {
			successCount++
		}
	}

	if successCount > 0 {
		ep.logger.Info("Published events to Kafka", zap.Int("success_count", successCount), zap.Int("attempted", len(outboxEvents)))
	}

	return successCount, nil
}

func (ep *EventPublisher) publishEventToKafka(event model.OutboxEvent) error {
	deliveryChan := make(chan kafka.Event)
	defer close(deliveryChan)

	err := ep.kafkaProducer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &ep.kafkaTopic, Partition: kafka.PartitionAny},
		Key:            []byte(event.PairKey), // fills of one pair stay ordered on one partition
		Value:          event.EventBlob,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	}, deliveryChan)
	if err != nil {
		return err
	}

	// Wait for delivery confirmation
	e := <-deliveryChan
	switch ev := e.(type) {
	case *kafka.Message:
		if ev.TopicPartition.Error != nil {
			return ev.TopicPartition.Error
		}
		return nil
	default:
		return fmt.Errorf("unexpected kafka event type: %T", e)
	}
}

func (ep *EventPublisher) Close() error {
	if ep.kafkaProducer != nil {
		ep.kafkaProducer.Close()
	}
	return nil
}
