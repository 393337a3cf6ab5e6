// Package broker publishes notifications and domain events to Kafka.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"gearshare/internal/events"
	"gearshare/internal/models"
)

var ErrPublisherClosed = errors.New("publisher is closed")

// MessageWriter is the subset of kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter builds a synchronous, key-hashed writer for a topic.
func NewWriter(brokers []string, topic string, logger *zerolog.Logger) *kafka.Writer {
	errLog := logger.With().Str("component", "kafka").Str("topic", topic).Logger()
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // порядок сообщений в рамках одного ключа
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 50 * time.Millisecond,
		Logger:       kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			errLog.Error().Msgf(msg, args...)
		}),
	}
}

// KafkaPublisher writes JSON messages keyed by event key or booking id.
type KafkaPublisher struct {
	writer  MessageWriter
	timeout time.Duration
	logger  zerolog.Logger
	mu      sync.RWMutex
	closed  bool
}

func NewKafkaPublisher(writer MessageWriter, logger *zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer:  writer,
		timeout: 10 * time.Second,
		logger:  logger.With().Str("component", "kafka_publisher").Logger(),
	}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

// Deliver publishes a notification keyed by its event key, so consumers can
// drop redeliveries.
func (p *KafkaPublisher) Deliver(ctx context.Context, n *models.Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return p.write(ctx, kafka.Message{
		Key:   []byte(n.EventKey),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(n.EventType)},
			{Key: "recipient-role", Value: []byte(n.RecipientRole)},
		},
	})
}

// Forward is an events.EventHandler that mirrors bus events to the topic.
func (p *KafkaPublisher) Forward(event *events.Event) error {
	key := event.Type
	var payload events.BookingEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err == nil && payload.BookingID != 0 {
		key = strconv.FormatInt(payload.BookingID, 10)
	}

	err := p.write(context.Background(), kafka.Message{
		Key:     []byte(key),
		Value:   event.Payload,
		Time:    event.CreatedAt,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(event.Type)}},
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("event", event.Type).Msg("Failed to forward event")
	}
	return err
}

func (p *KafkaPublisher) write(ctx context.Context, msg kafka.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}
