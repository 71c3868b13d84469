package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/FelixGibson/gmx-synthetics/internal/event"
)

// PublishableEvent is an engine event ready for outbound publishing.
type PublishableEvent struct {
	Sequence  int64       `json:"sequence"`
	EventName string      `json:"event_name"`
	MarketID  *string     `json:"market_id,omitempty"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// ChannelEmitter adapts the engine's event hook to a consumer channel.
// The drop-on-full variant never blocks the engine loop: when the
// channel is full the event is dropped and counted, since downstream
// consumers can rebuild from the persisted rows. The blocking variant
// applies backpressure to the engine instead; the persistence path
// uses it so no audit row is lost.
type ChannelEmitter struct {
	out      chan PublishableEvent
	blocking bool
	sequence int64
	dropped  int64
	logger   zerolog.Logger
}

// NewChannelEmitter returns a drop-on-full emitter.
func NewChannelEmitter(capacity int, logger zerolog.Logger) *ChannelEmitter {
	return &ChannelEmitter{
		out:    make(chan PublishableEvent, capacity),
		logger: logger,
	}
}

// NewBlockingChannelEmitter returns an emitter whose Emit waits for
// channel capacity rather than dropping.
func NewBlockingChannelEmitter(capacity int, logger zerolog.Logger) *ChannelEmitter {
	return &ChannelEmitter{
		out:      make(chan PublishableEvent, capacity),
		blocking: true,
		logger:   logger,
	}
}

func (c *ChannelEmitter) Emit(e event.Event) {
	c.sequence++
	evt := PublishableEvent{
		Sequence:  c.sequence,
		EventName: e.EventName(),
		MarketID:  e.MarketID(),
		Payload:   e,
		Timestamp: time.Now(),
	}
	if c.blocking {
		c.out <- evt
		return
	}
	select {
	case c.out <- evt:
	default:
		c.dropped++
		c.logger.Warn().
			Int64("sequence", evt.Sequence).
			Str("event_name", evt.EventName).
			Msg("publish channel full, event dropped")
	}
}

// Events returns the outbound channel consumed by the publisher.
func (c *ChannelEmitter) Events() <-chan PublishableEvent {
	return c.out
}

// Dropped returns the number of events dropped so far.
func (c *ChannelEmitter) Dropped() int64 {
	return c.dropped
}

// Publisher publishes engine events to NATS for downstream consumers.
// Subjects follow the pattern: synth.events.{event_name}.{market_id}.
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, logger zerolog.Logger) *Publisher {
	return &Publisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the publisher loop.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, evt); err != nil {
				// Non-fatal: the persisted rows remain the source of
				// truth for downstream recovery.
				p.logger.Warn().
					Int64("sequence", evt.Sequence).
					Err(err).
					Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("synth.events.%s", evt.EventName)
	if evt.MarketID != nil {
		subject = fmt.Sprintf("%s.%s", subject, sanitizeSubjectToken(*evt.MarketID))
	}

	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// sanitizeSubjectToken replaces characters NATS treats as separators.
func sanitizeSubjectToken(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', ' ', '*', '>', '/':
			out[i] = '_'
		default:
			out[i] = s[i]
		}
	}
	return string(out)
}

// EnsureEventStream creates the outbound events stream.
func EnsureEventStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "SYNTH_EVENTS",
		Subjects:  []string{"synth.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create events stream: %w", err)
	}
	return nil
}
