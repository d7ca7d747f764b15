package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"exchange/apps/exchange/internal/model"
)

const pollTimeout = 500 * time.Millisecond

// Admitter validates, authenticates and submits raw trade requests.
type Admitter interface {
	Admit(ctx context.Context, raw []byte) error
}

// Consumer is the subset of *kafka.Consumer the intake uses.
type Consumer interface {
	Subscribe(topic string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	Close() error
}

// TradeConsumer feeds trade requests published to a Kafka topic through the
// admission gate, the same way POST /trade does.
type TradeConsumer struct {
	logger        *zap.Logger
	kafkaConsumer Consumer
	admitter      Admitter
	kafkaTopic    string
}

func NewTradeConsumer(kafkaBroker, kafkaTopic string, logger *zap.Logger, admitter Admitter) (*TradeConsumer, error) {
	// Setup Kafka consumer
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"group.id":          "trade-intake",
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return newTradeConsumer(consumer, kafkaTopic, logger, admitter), nil
}

func newTradeConsumer(consumer Consumer, kafkaTopic string, logger *zap.Logger, admitter Admitter) *TradeConsumer {
	return &TradeConsumer{
		logger:        logger,
		kafkaConsumer: consumer,
		admitter:      admitter,
		kafkaTopic:    kafkaTopic,
	}
}

// Start consumes trade requests until ctx is done.
func (tc *TradeConsumer) Start(ctx context.Context) error {
	tc.logger.Info("Starting trade intake", zap.String("topic", tc.kafkaTopic))

	if err := tc.kafkaConsumer.Subscribe(tc.kafkaTopic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", tc.kafkaTopic, err)
	}

	for {
		select {
		case <-ctx.Done():
			tc.logger.Info("Stopping trade intake")
			return nil
		default:
		}

		msg, err := tc.kafkaConsumer.ReadMessage(pollTimeout)
		if err != nil {
			var kafkaErr kafka.Error
			if errors.As(err, &kafkaErr) && kafkaErr.Code() == kafka.ErrTimedOut {
				continue
			}
			tc.logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		if err := tc.processMessage(ctx, msg); err != nil {
			tc.logger.Error("Error processing message",
				zap.String("topic", *msg.TopicPartition.Topic),
				zap.Int32("partition", msg.TopicPartition.Partition),
				zap.String("key", string(msg.Key)),
				zap.Error(err))
		}
	}
}

// processMessage admits one request. Rejected requests are already in the audit
// log, so they are not reported as processing errors.
func (tc *TradeConsumer) processMessage(ctx context.Context, msg *kafka.Message) error {
	err := tc.admitter.Admit(ctx, msg.Value)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrMalformedSubmission), errors.Is(err, model.ErrSignatureInvalid):
		tc.logger.Info("Trade request rejected",
			zap.String("key", string(msg.Key)),
			zap.Error(err))
		return nil
	default:
		return fmt.Errorf("failed to admit trade request: %w", err)
	}
}

func (tc *TradeConsumer) Close() error {
	if tc.kafkaConsumer != nil {
		return tc.kafkaConsumer.Close()
	}
	return nil
}
