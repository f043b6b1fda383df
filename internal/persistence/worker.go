package persistence

import (
	"PredictLedger/internal/core"
	"PredictLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ReceiptWorker drains the receipt channel and batch-writes to Postgres.
// It runs independently from the executor. The executor sends receipts with
// BLOCKING sends, so if this worker falls behind the executor stalls and no
// receipt is lost.
type ReceiptWorker struct {
	db           *sql.DB
	writer       *ReceiptWriter
	inputChan    <-chan *core.Receipt
	batchSize    int
	flushTimeout time.Duration
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

func NewReceiptWorker(
	db *sql.DB,
	inputChan <-chan *core.Receipt,
	batchSize int,
	flushTimeout time.Duration,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *ReceiptWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushTimeout <= 0 {
		flushTimeout = 10 * time.Millisecond
	}
	return &ReceiptWorker{
		db:           db,
		writer:       NewReceiptWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		logger:       logger.With().Str("component", "receipt_worker").Logger(),
		metrics:      metrics,
	}
}

// Run batches incoming receipts and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled or the channel is
// closed.
func (w *ReceiptWorker) Run(ctx context.Context) error {
	batch := make([]*core.Receipt, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// drain what the executor already handed over
		drain:
			for {
				select {
				case r, ok := <-w.inputChan:
					if !ok {
						break drain
					}
					batch = append(batch, r)
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.logger.Error().Err(err).Int("receipts", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case r, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.logger.Error().Err(err).Int("receipts", len(batch)).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, r)
			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. Receipts are never dropped.
func (w *ReceiptWorker) flushWithRetry(ctx context.Context, batch []*core.Receipt) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("receipts", len(batch)).
				Msg("receipt flush retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				// one last try so the batch survives shutdown
				if err := w.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Msg("receipt flush succeeded")
			}
			return nil
		}
		w.logger.Debug().Err(err).Int("attempt", attempt).Msg("receipt flush failed")
	}
}

func (w *ReceiptWorker) flush(ctx context.Context, batch []*core.Receipt) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteBatch(ctx, tx, batch); err != nil {
		w.countError("write_receipts")
		return err
	}

	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(batch)))
		w.metrics.PersistReceiptsWritten.Add(float64(len(batch)))
		w.metrics.PersistLastSequence.Set(float64(batch[len(batch)-1].Sequence))
	}
	return nil
}

func (w *ReceiptWorker) countError(stage string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
