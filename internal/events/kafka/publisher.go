package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/events"
	interfaces "github.com/sheikh-saqib/referral-commission-ledger/internal/interfaces"
)

// Publisher writes domain events to Kafka as JSON. The topic is chosen per
// message, behind an optional prefix, and the key keeps one member's events
// on one partition.
type Publisher struct {
	writer      *kafka.Writer
	topicPrefix string
}

// NewPublisher creates a publisher whose broker writes give up after
// writeTimeout; zero means events.DefaultPublishTimeout.
func NewPublisher(brokers []string, topicPrefix string, writeTimeout time.Duration) *Publisher {
	if writeTimeout <= 0 {
		writeTimeout = events.DefaultPublishTimeout
	}
	return &Publisher{
		topicPrefix: topicPrefix,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           writeTimeout,
			MaxAttempts:            3,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish blocks until the brokers acknowledge the message or ctx ends.
func (p *Publisher) Publish(ctx context.Context, topic string, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topicPrefix + topic,
		Key:   []byte(key),
		Value: data,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
