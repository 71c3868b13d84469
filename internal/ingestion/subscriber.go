package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// CommandSubscriber subscribes to keeper command subjects and feeds
// them into the dispatcher via commandChan. Keepers publish execution
// requests with versioned prices; the engine itself never subscribes
// to a price feed.
type CommandSubscriber struct {
	js          jetstream.JetStream
	commandChan chan<- RawCommand
	consumers   []jetstream.ConsumeContext
	logger      zerolog.Logger
}

// RawCommand is a parsed-but-untyped command from NATS, ready for the
// dispatcher to decode and apply to the engine.
type RawCommand struct {
	Subject  string
	Data     []byte
	Received time.Time
	AckFunc  func()
	NakFunc  func()
}

// SubjectConfig maps NATS subjects to command kinds.
type SubjectConfig struct {
	Subject      string
	Kind         string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard keeper command subjects.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "synth.commands.create", Kind: CommandCreateOrder, ConsumerName: "synth-create", StreamName: "SYNTH_COMMANDS"},
		{Subject: "synth.commands.update", Kind: CommandUpdateOrder, ConsumerName: "synth-update", StreamName: "SYNTH_COMMANDS"},
		{Subject: "synth.commands.execute", Kind: CommandExecuteOrder, ConsumerName: "synth-execute", StreamName: "SYNTH_COMMANDS"},
		{Subject: "synth.commands.cancel", Kind: CommandCancelOrder, ConsumerName: "synth-cancel", StreamName: "SYNTH_COMMANDS"},
		{Subject: "synth.commands.liquidate", Kind: CommandLiquidate, ConsumerName: "synth-liquidate", StreamName: "SYNTH_COMMANDS"},
		{Subject: "synth.commands.funding", Kind: CommandSetFunding, ConsumerName: "synth-funding", StreamName: "SYNTH_COMMANDS"},
		{Subject: "synth.commands.borrowing", Kind: CommandSetBorrowing, ConsumerName: "synth-borrowing", StreamName: "SYNTH_COMMANDS"},
	}
}

func NewCommandSubscriber(js jetstream.JetStream, commandChan chan<- RawCommand, logger zerolog.Logger) *CommandSubscriber {
	return &CommandSubscriber{
		js:          js,
		commandChan: commandChan,
		logger:      logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (cs *CommandSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := cs.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:  msg.Subject(),
				Data:     msg.Data(),
				Received: time.Now(),
				AckFunc:  func() { msg.Ack() },
				NakFunc:  func() { msg.Nak() },
			}

			select {
			case cs.commandChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		cs.consumers = append(cs.consumers, consumerContext)
		cs.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}
	return nil
}

// Stop drains all consumers.
func (cs *CommandSubscriber) Stop() {
	for _, c := range cs.consumers {
		c.Stop()
	}
}

// EnsureCommandStream creates the keeper command stream.
func EnsureCommandStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "SYNTH_COMMANDS",
		Subjects:  []string{"synth.commands.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create command stream: %w", err)
	}
	return nil
}
