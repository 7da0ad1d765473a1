// Package events publishes game activity to Kafka for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TypePriceUpdated   = "PRICE_UPDATED"
	TypeWinnerDeclared = "WINNER_DECLARED"
)

type PriceEvent struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	PreviousClose *float64  `json:"previous_close,omitempty"`
	ChangePercent *float64  `json:"change_percent,omitempty"`
	At            time.Time `json:"at"`
}

type WinnerEvent struct {
	WeekID           int64     `json:"week_id"`
	WeekNumber       int       `json:"week_number"`
	UserID           string    `json:"user_id"`
	Username         string    `json:"username"`
	Symbol           string    `json:"symbol"`
	ReturnPercentage float64   `json:"return_percentage"`
	At               time.Time `json:"at"`
}

type envelope struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

type Publisher interface {
	PriceUpdated(ctx context.Context, e PriceEvent) error
	WinnerDeclared(ctx context.Context, e WinnerEvent) error
	Close() error
}

// Noop discards every event. It is used when no brokers are configured.
type Noop struct{}

func (Noop) PriceUpdated(context.Context, PriceEvent) error   { return nil }
func (Noop) WinnerDeclared(context.Context, WinnerEvent) error { return nil }
func (Noop) Close() error                                      { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
	topic  string
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer, topic: topic}
}

// New returns a Kafka producer, or Noop when brokers is empty.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return Noop{}
	}
	return NewProducer(brokers, topic)
}

func (p *Producer) PriceUpdated(ctx context.Context, e PriceEvent) error {
	return p.publish(ctx, e.Symbol, TypePriceUpdated, e)
}

func (p *Producer) WinnerDeclared(ctx context.Context, e WinnerEvent) error {
	return p.publish(ctx, fmt.Sprintf("week-%d", e.WeekID), TypeWinnerDeclared, e)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) publish(ctx context.Context, key, eventType string, payload any) error {
	data, err := json.Marshal(envelope{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message to kafka: %w", err)
	}
	return nil
}
