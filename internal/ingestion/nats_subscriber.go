package ingestion

import (
	"PredictLedger/internal/core"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Stream and consumer names for command intake
const (
	CommandStream   = "PREDICT_COMMANDS"
	CommandConsumer = "predict-ledger-commands"
)

// Submitter applies one command and waits for the result. *core.Executor
// implements it.
type Submitter interface {
	Submit(ctx context.Context, cmd core.Command) (core.Result, error)
}

// CommandSubscriber consumes predict.commands.> from JetStream and submits
// each command to the executor. NATS is the primary intake surface; the
// gRPC service is the other.
type CommandSubscriber struct {
	js        jetstream.JetStream
	submitter Submitter
	logger    zerolog.Logger
	consumer  jetstream.ConsumeContext
}

func NewCommandSubscriber(js jetstream.JetStream, submitter Submitter, logger zerolog.Logger) *CommandSubscriber {
	return &CommandSubscriber{
		js:        js,
		submitter: submitter,
		logger:    logger.With().Str("component", "nats_intake").Logger(),
	}
}

// Subscribe creates the durable consumer and starts consuming. Consumers use
// explicit ACK, max_deliver=5, ack_wait=30s.
func (cs *CommandSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := cs.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       CommandConsumer,
		FilterSubject: CommandSubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", CommandConsumer, err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		cs.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", CommandConsumer, err)
	}

	cs.consumer = consumerContext
	cs.logger.Info().Str("subject", CommandSubjectPrefix+">").Str("consumer", CommandConsumer).Msg("subscribed")
	return nil
}

// handle acks once the executor has issued a receipt, rejections included.
// Malformed messages are terminated since redelivery cannot fix them.
func (cs *CommandSubscriber) handle(ctx context.Context, msg jetstream.Msg) {
	cmd, err := ParseCommand(msg.Subject(), msg.Data())
	if err != nil {
		cs.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("malformed command")
		msg.Term()
		return
	}

	res, err := cs.submitter.Submit(ctx, cmd)
	switch {
	case err != nil:
		// shutting down before the executor took it
		msg.Nak()
	case res.Err != nil && !core.IsFinal(res.Err):
		msg.Nak()
	default:
		if res.Duplicate {
			cs.logger.Debug().Str("command_id", cmd.ID.String()).Msg("redelivered command acked")
		}
		msg.Ack()
	}
}

// EnsureStreams creates the command and outbound streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      CommandStream,
			Subjects:  []string{CommandSubjectPrefix + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:       OutboundStream,
			Subjects:   []string{EventSubjectPrefix + ">", TransferSubject},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Replicas:   1,
			Duplicates: 10 * time.Minute,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops the consumer.
func (cs *CommandSubscriber) Stop() {
	if cs.consumer != nil {
		cs.consumer.Stop()
	}
	cs.logger.Info().Msg("NATS intake stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("predictledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
