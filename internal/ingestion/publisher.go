package ingestion

import (
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/store"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Outbound stream layout
const (
	OutboundStream     = "PREDICT_LEDGER_OUT"
	EventSubjectPrefix = "predict.ledger.events."
	TransferSubject    = "predict.ledger.transfers"
)

// Publisher is the slice of jetstream.JetStream the relay needs.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher relays the ledger outbox to JetStream. Messages are
// written to the outbox in the same transaction as the state change that
// produced them and are only removed once the broker has acknowledged them,
// so a failed publish or a crash leaves them queued for the next drain.
// Delivery is at-least-once; the broker dedups on the message id.
type OutboundPublisher struct {
	js      Publisher
	store   store.Store
	wake    <-chan struct{}
	poll    time.Duration
	batch   int
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewOutboundPublisher(js Publisher, st store.Store, wake <-chan struct{}, poll time.Duration, batch int, logger zerolog.Logger, metrics *observability.Metrics) *OutboundPublisher {
	if batch <= 0 {
		batch = 100
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &OutboundPublisher{
		js:      js,
		store:   st,
		wake:    wake,
		poll:    poll,
		batch:   batch,
		logger:  logger.With().Str("component", "publisher").Logger(),
		metrics: metrics,
	}
}

// Run drains the outbox on every wake signal and poll tick until ctx is
// cancelled. Publish failures are logged and retried on the next pass.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(op.poll)
	defer ticker.Stop()

	for {
		if _, err := op.Drain(ctx); err != nil && ctx.Err() == nil {
			op.logger.Warn().Err(err).Msg("outbox drain interrupted")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-op.wake:
		case <-ticker.C:
		}
	}
}

// Drain publishes queued messages oldest first and acknowledges them in the
// outbox. It stops at the first publish failure so ordering is preserved,
// and returns how many messages were delivered.
func (op *OutboundPublisher) Drain(ctx context.Context) (int, error) {
	delivered := 0
	for {
		var entries []ledger.OutboxEntry
		err := op.store.View(ctx, func(tx store.Tx) error {
			var err error
			entries, err = ledger.NewBook(tx).Outbox(op.batch)
			return err
		})
		if err != nil {
			return delivered, fmt.Errorf("read outbox: %w", err)
		}
		if op.metrics != nil {
			op.metrics.OutboxBacklog.Set(float64(len(entries)))
		}
		if len(entries) == 0 {
			return delivered, nil
		}

		sent := make([]uint64, 0, len(entries))
		var pubErr error
		for _, e := range entries {
			if pubErr = op.publish(ctx, e.Message); pubErr != nil {
				op.logger.Warn().Err(pubErr).
					Uint64("position", e.Position).
					Str("kind", string(e.Message.Kind)).
					Str("msg_id", e.Message.ID).
					Msg("publish failed, message stays queued")
				break
			}
			sent = append(sent, e.Position)
		}

		if len(sent) > 0 {
			err := op.store.Update(ctx, func(tx store.Tx) error {
				return ledger.NewBook(tx).Ack(sent...)
			})
			if err != nil {
				// the broker dedups on msg id, so resending these is harmless
				return delivered, fmt.Errorf("ack outbox: %w", err)
			}
			delivered += len(sent)
		}
		if pubErr != nil {
			return delivered, pubErr
		}
		if len(entries) < op.batch {
			if op.metrics != nil {
				op.metrics.OutboxBacklog.Set(0)
			}
			return delivered, nil
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, m ledger.OutboxMessage) error {
	var subject string
	switch m.Kind {
	case ledger.OutboxEvent:
		subject = EventSubjectPrefix + m.Topic
	case ledger.OutboxTransfer:
		subject = TransferSubject
	default:
		return errors.New("unknown outbox kind " + string(m.Kind))
	}
	msg := nats.NewMsg(subject)
	msg.Data = m.Payload
	msg.Header.Set(nats.MsgIdHdr, m.ID)
	_, err := op.js.PublishMsg(ctx, msg)
	op.count(string(m.Kind), err)
	return err
}

func (op *OutboundPublisher) count(kind string, err error) {
	if op.metrics == nil {
		return
	}
	if err != nil {
		op.metrics.PublishErrors.WithLabelValues(kind).Inc()
		return
	}
	op.metrics.PublishedMessages.WithLabelValues(kind).Inc()
}
