// Package ingest consumes job-pipeline events from Kafka and hands them to
// the fan-out dispatcher. It is an optional producer adapter: pipeline
// workers may also publish directly through the internal HTTP API.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/adimov-eth/vibecheck-notify/internal/metrics"
	"github.com/adimov-eth/vibecheck-notify/internal/platform/correlation"
)

// Publisher is the dispatcher-side publish contract.
type Publisher interface {
	Publish(userID, topic, eventType string, payload json.RawMessage, ts time.Time)
}

// pipelineEvent is the record format the transcription/analysis workers
// produce.
type pipelineEvent struct {
	UserID    string          `json:"user_id"`
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Consumer reads pipeline events from a Kafka topic via a consumer group
// and publishes each one through the dispatcher.
type Consumer struct {
	group     sarama.ConsumerGroup
	topic     string
	publisher Publisher
	done      chan struct{}
}

// NewConsumer creates a consumer-group consumer for the given brokers and
// topic.
func NewConsumer(brokers []string, topic, groupID string, publisher Publisher) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.ClientID = "vibecheck-notify"
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &Consumer{
		group:     group,
		topic:     topic,
		publisher: publisher,
		done:      make(chan struct{}),
	}, nil
}

// Run consumes until ctx is cancelled. Rebalances restart the claim loop,
// so Consume is called in a loop per sarama's contract.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.done)

	go func() {
		for err := range c.group.Errors() {
			slog.Error("Kafka consumer error", "error", err)
			metrics.IngestRecordsTotal.WithLabelValues("consumer_error").Inc()
		}
	}()

	handler := &groupHandler{publisher: c.publisher}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			slog.Error("Kafka consume failed, retrying", "topic", c.topic, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Close shuts the consumer group down and waits for Run to exit.
func (c *Consumer) Close() error {
	err := c.group.Close()
	<-c.done
	return err
}

type groupHandler struct {
	publisher Publisher
}

var _ sarama.ConsumerGroupHandler = (*groupHandler)(nil)

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.handleRecord(session.Context(), msg.Value)
		session.MarkMessage(msg, "")
	}
	return nil
}

// handleRecord decodes and publishes one pipeline event. Malformed records
// are logged and skipped: the stream is advisory and must never stall the
// consumer group.
func (h *groupHandler) handleRecord(ctx context.Context, value []byte) {
	ctx = correlation.WithID(ctx, correlation.NewID())

	event, err := decodePipelineEvent(value)
	if err != nil {
		slog.WarnContext(ctx, "Skipping malformed pipeline event", "error", err)
		metrics.IngestRecordsTotal.WithLabelValues("malformed").Inc()
		return
	}

	h.publisher.Publish(event.UserID, event.Topic, event.Type, event.Payload, event.Timestamp)
	metrics.IngestRecordsTotal.WithLabelValues("published").Inc()
	slog.DebugContext(ctx, "Pipeline event published",
		"user_id", event.UserID,
		"topic", event.Topic,
		"event_type", event.Type,
	)
}

func decodePipelineEvent(value []byte) (pipelineEvent, error) {
	var event pipelineEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return pipelineEvent{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if event.UserID == "" {
		return pipelineEvent{}, errors.New("missing user_id")
	}
	if event.Topic == "" {
		return pipelineEvent{}, errors.New("missing topic")
	}
	if event.Type == "" {
		return pipelineEvent{}, errors.New("missing type")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return event, nil
}
