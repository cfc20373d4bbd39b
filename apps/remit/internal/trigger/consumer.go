package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
	"remit/apps/remit/internal/events"
	"remit/apps/remit/internal/settlement"
)

const (
	queueRetryDelay    = 200 * time.Millisecond
	maxQueueRetryDelay = 5 * time.Second
)

// Scheduler accepts transfers for asynchronous settlement.
type Scheduler interface {
	SettleTransfer(transferID string) error
}

type consumer interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	StoreOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
	Close() error
}

// Consumer reads transfer lifecycle events and queues settleable transfers. An offset
// is stored for commit only once its transfer has been queued or the event discarded.
type Consumer struct {
	logger        *zap.Logger
	kafkaConsumer consumer
	scheduler     Scheduler
	kafkaTopic    string
	retryDelay    time.Duration
}

func NewConsumer(kafkaBroker, kafkaTopic string, logger *zap.Logger, scheduler Scheduler) (*Consumer, error) {
	kafkaConsumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":        kafkaBroker,
		"group.id":                 "settlement-trigger",
		"auto.offset.reset":        "earliest",
		"enable.auto.offset.store": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return &Consumer{
		logger:        logger,
		kafkaConsumer: kafkaConsumer,
		scheduler:     scheduler,
		kafkaTopic:    kafkaTopic,
		retryDelay:    queueRetryDelay,
	}, nil
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting settlement trigger consumer...", zap.String("topic", c.kafkaTopic))

	if err := c.kafkaConsumer.SubscribeTopics([]string{c.kafkaTopic}, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.kafkaTopic, err)
	}

	for ctx.Err() == nil {
		msg, err := c.kafkaConsumer.ReadMessage(time.Second)
		if err != nil {
			var kafkaErr kafka.Error
			if errors.As(err, &kafkaErr) && kafkaErr.Code() == kafka.ErrTimedOut {
				continue
			}
			c.logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		if !c.handle(ctx, msg) {
			break
		}
	}

	return nil
}

// handle processes msg and stores its offset. It reports false when the message could not
// be handed over because the service is shutting down; its offset is then left uncommitted.
func (c *Consumer) handle(ctx context.Context, msg *kafka.Message) bool {
	err := c.processMessage(ctx, msg)
	if ctx.Err() != nil || errors.Is(err, settlement.ErrPoolStopped) {
		c.logger.Info("Settlement trigger stopping, message left for redelivery",
			zap.Int32("partition", msg.TopicPartition.Partition),
			zap.Int64("offset", int64(msg.TopicPartition.Offset)))
		return false
	}
	if err != nil {
		c.logger.Error("Error processing message",
			zap.Int32("partition", msg.TopicPartition.Partition),
			zap.String("key", string(msg.Key)),
			zap.Error(err))
	}

	next := msg.TopicPartition
	next.Offset++
	if _, err := c.kafkaConsumer.StoreOffsets([]kafka.TopicPartition{next}); err != nil {
		c.logger.Error("Failed to store offset", zap.Int64("offset", int64(next.Offset)), zap.Error(err))
	}
	return true
}

func (c *Consumer) processMessage(ctx context.Context, msg *kafka.Message) error {
	var transferEvent events.TransferEvent
	if err := json.Unmarshal(msg.Value, &transferEvent); err != nil {
		return fmt.Errorf("failed to unmarshal transfer event: %w", err)
	}

	switch strings.ToLower(transferEvent.EventType) {
	case events.TransferCreated, events.TransferPaid:
	default:
		c.logger.Debug("Ignoring transfer event", zap.String("event_type", transferEvent.EventType))
		return nil
	}

	if transferEvent.TransferID == "" {
		return errors.New("transfer event has no transfer id")
	}

	c.logger.Info("Processing transfer event",
		zap.String("event_type", transferEvent.EventType),
		zap.String("transfer_id", transferEvent.TransferID))

	if err := c.enqueue(ctx, transferEvent.TransferID); err != nil {
		return fmt.Errorf("failed to queue transfer %s: %w", transferEvent.TransferID, err)
	}
	return nil
}

// enqueue waits out a full settlement queue, backing off between attempts.
func (c *Consumer) enqueue(ctx context.Context, transferID string) error {
	delay := c.retryDelay
	for {
		err := c.scheduler.SettleTransfer(transferID)
		if !errors.Is(err, settlement.ErrQueueFull) {
			return err
		}

		c.logger.Warn("Settlement queue full, retrying",
			zap.String("transfer_id", transferID),
			zap.Duration("backoff", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", err, ctx.Err())
		case <-timer.C:
		}
		delay = min(delay*2, maxQueueRetryDelay)
	}
}

func (c *Consumer) Close() error {
	if c.kafkaConsumer != nil {
		return c.kafkaConsumer.Close()
	}
	return nil
}
