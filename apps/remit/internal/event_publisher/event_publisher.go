package event_publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
	"remit/apps/remit/internal/model"
)

const batchSize = 100

type OutboxStore interface {
	GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkEventAsSent(ctx context.Context, id string) error
	MarkEventAsFailed(ctx context.Context, id string) error
}

type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Close()
}

// EventPublisher drains the settlement outbox to Kafka.
type EventPublisher struct {
	logger        *zap.Logger
	kafkaProducer producer
	kafkaTopic    string
	repository    OutboxStore
	interval      time.Duration
	mu            sync.Mutex // one publishing pass at a time per instance
}

func NewEventPublisher(kafkaBroker, kafkaTopic string, logger *zap.Logger, repository OutboxStore) (*EventPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return newEventPublisher(producer, kafkaTopic, logger, repository), nil
}

func newEventPublisher(p producer, kafkaTopic string, logger *zap.Logger, repository OutboxStore) *EventPublisher {
	return &EventPublisher{
		logger:        logger,
		kafkaProducer: p,
		kafkaTopic:    kafkaTopic,
		repository:    repository,
		interval:      3 * time.Second,
	}
}

// StartPublishing publishes unsent events every few seconds until ctx is cancelled.
func (ep *EventPublisher) StartPublishing(ctx context.Context) {
	ticker := time.NewTicker(ep.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ep.publishUnsentEvents(ctx); err != nil {
				ep.logger.Error("Error publishing events to Kafka", zap.Error(err))
			}
		}
	}
}

func (ep *EventPublisher) publishUnsentEvents(ctx context.Context) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	outboxEvents, err := ep.repository.GetUnsentEventsForProcessing(ctx, batchSize)
	if err != nil {
		return err
	}

	successCount := 0
	for _, event := range outboxEvents {
		if err := ep.publishEventToKafka(event); err != nil {
			ep.logger.Error("Failed to publish event to Kafka", zap.String("transfer_id", event.TransferID), zap.String("event_type", event.EventType), zap.Error(err))
			// Back to 'unsent' for the next pass
			if markErr := ep.repository.MarkEventAsFailed(ctx, event.ID); markErr != nil {
				ep.logger.Error("Failed to mark event as failed", zap.String("event_id", event.ID), zap.Error(markErr))
			}
			continue
		}

		if err := ep.repository.MarkEventAsSent(ctx, event.ID); err != nil {
			// Published but still 'processing'; consumers must tolerate a duplicate
			ep.logger.Error("Failed to mark event as sent", zap.String("event_id", event.ID), zap.Error(err))
		} else {
			successCount++
		}
	}

	if successCount > 0 {
		ep.logger.Info("Published events to Kafka", zap.Int("success_count", successCount), zap.Int("attempted", len(outboxEvents)))
	}

	return nil
}

func (ep *EventPublisher) publishEventToKafka(event model.OutboxEvent) error {
	deliveryChan := make(chan kafka.Event, 1)
	defer close(deliveryChan)

	err := ep.kafkaProducer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &ep.kafkaTopic, Partition: kafka.PartitionAny},
		Key:            []byte(event.TransferID), // keeps a transfer's events in order on one partition
		Value:          event.Payload,
		Headers:        []kafka.Header{{Key: "event_type", Value: []byte(event.EventType)}},
	}, deliveryChan)
	if err != nil {
		return err
	}

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
