// Package ingest consumes store hook notifications from a Kafka topic and
// feeds them to the tracker, for deployments where the storefront publishes
// its events instead of calling the HTTP API.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"datalens/internal/event"
	"datalens/internal/source"
	"datalens/internal/tracker"
)

// Envelope kinds.
const (
	KindEvent         = "event"
	KindProductView   = "product_view"
	KindOrderCreated  = "order_created"
	KindOrderComplete = "order_completed"
	KindStatusChanged = "order_status_changed"
)

// ErrMalformed marks a message that can never be processed. Such messages are
// logged and committed.
var ErrMalformed = errors.New("malformed message")

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Viewer is the wire form of tracker.Viewer.
type Viewer struct {
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id"`
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

// Envelope is one message on the topic.
type Envelope struct {
	Kind      string         `json:"kind"`
	EventType string         `json:"event_type,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	ProductID int64          `json:"product_id,omitempty"`
	Order     *source.Order  `json:"order,omitempty"`
	OldStatus string         `json:"old_status,omitempty"`
	NewStatus string         `json:"new_status,omitempty"`
	Viewer    Viewer         `json:"viewer"`
}

// NewKafkaReader returns a consumer-group reader for topic.
func NewKafkaReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

type Consumer struct {
	reader  MessageReader
	tracker *tracker.Tracker
	logger  *slog.Logger
	backoff time.Duration
}

func NewConsumer(reader MessageReader, t *tracker.Tracker, logger *slog.Logger) *Consumer {
	return &Consumer{reader: reader, tracker: t, logger: logger, backoff: time.Second}
}

// Run fetches and handles messages until ctx is canceled. A message is
// committed once handled, so a crash replays at most the one in flight.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("store event consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("fetching store event failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		if err := c.Handle(ctx, msg.Value); err != nil {
			c.logger.Warn("dropping store event",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("committing store event failed", "offset", msg.Offset, "error", err)
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Handle decodes one message and dispatches it.
func (c *Consumer) Handle(ctx context.Context, raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	v := tracker.Viewer(env.Viewer)

	kind := strings.ToLower(env.Kind)
	switch kind {
	case KindEvent:
		_, err := c.tracker.TrackEvent(ctx, event.Type(env.EventType), env.Data, v)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	case KindProductView:
		if env.ProductID <= 0 {
			return fmt.Errorf("%w: product_id must be positive", ErrMalformed)
		}
		c.tracker.TrackProductView(ctx, env.ProductID, v)
	case KindOrderCreated, KindOrderComplete, KindStatusChanged:
		if env.Order == nil || env.Order.ID <= 0 {
			return fmt.Errorf("%w: %s needs an order with an id", ErrMalformed, kind)
		}
		switch kind {
		case KindOrderCreated:
			c.tracker.OrderCreated(ctx, *env.Order, v)
		case KindOrderComplete:
			c.tracker.OrderCompleted(ctx, *env.Order, v)
		default:
			newStatus := env.NewStatus
			if newStatus == "" {
				newStatus = env.Order.Status
			}
			if newStatus == "" {
				return fmt.Errorf("%w: new_status is required", ErrMalformed)
			}
			c.tracker.OrderStatusChanged(ctx, *env.Order, env.OldStatus, newStatus, v)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, env.Kind)
	}
	return nil
}
