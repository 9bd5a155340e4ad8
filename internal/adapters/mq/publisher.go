// Package mq publishes feedback corrections to RabbitMQ for an out-of-process
// training pipeline.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/core"
)

// Defaults for the feedback exchange
const (
	DefaultExchange   = "mail-classifier"
	DefaultRoutingKey = "feedback.submitted"
)

// Config holds the broker settings
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// FeedbackMessage is the JSON body published for each correction
type FeedbackMessage struct {
	ID                string    `json:"id"`
	Sender            string    `json:"sender"`
	Subject           string    `json:"subject"`
	PredictedCategory string    `json:"predicted_category"`
	CorrectCategory   string    `json:"correct_category"`
	ConfidenceRating  int       `json:"confidence_rating"`
	SubmittedAt       time.Time `json:"submitted_at"`
}

// FeedbackPublisher implements core.FeedbackQueue over an AMQP topic exchange
type FeedbackPublisher struct {
	conn       *amqp.Connection
	mu         sync.Mutex
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

var _ core.FeedbackQueue = (*FeedbackPublisher)(nil)

// NewFeedbackPublisher dials the broker and declares the exchange
func NewFeedbackPublisher(cfg Config, logger *zap.Logger) (*FeedbackPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = DefaultRoutingKey
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("Connected feedback publisher",
		zap.String("exchange", cfg.Exchange),
		zap.String("routing_key", cfg.RoutingKey))
	return &FeedbackPublisher{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

// EnqueueFeedback publishes a correction as a persistent message
func (p *FeedbackPublisher) EnqueueFeedback(ctx context.Context, fb *core.Feedback) error {
	msg, err := publishing(fb)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish feedback %s: %w", fb.ID, err)
	}
	p.logger.Debug("Published feedback", zap.String("id", fb.ID))
	return nil
}

// publishing builds the AMQP message for fb, assigning an ID if it has none
func publishing(fb *core.Feedback) (amqp.Publishing, error) {
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.SubmittedAt.IsZero() {
		fb.SubmittedAt = time.Now().UTC()
	}
	body, err := json.Marshal(FeedbackMessage{
		ID:                fb.ID,
		Sender:            fb.Sender,
		Subject:           fb.Subject,
		PredictedCategory: fb.PredictedCategory,
		CorrectCategory:   fb.CorrectCategory,
		ConfidenceRating:  fb.ConfidenceRating,
		SubmittedAt:       fb.SubmittedAt,
	})
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to encode feedback: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fb.ID,
		Timestamp:    fb.SubmittedAt,
		Type:         "feedback",
		Body:         body,
	}, nil
}

// Close closes the channel and connection
func (p *FeedbackPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
