package core

import (
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/state"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OutcomeOK marks a receipt for a command that committed.
const OutcomeOK = "ok"

// Receipt is the executor's record of one processed command, committed or
// rejected. Sequence is gap-free across both.
type Receipt struct {
	Sequence    int64             `json:"sequence"`
	CommandID   uuid.UUID         `json:"command_id"`
	Kind        CommandKind       `json:"command_kind"`
	Sender      string            `json:"sender"`
	InvokedAt   time.Time         `json:"invoked_at"`
	Outcome     string            `json:"outcome"` // OutcomeOK or the error class
	Error       string            `json:"error,omitempty"`
	Action      string            `json:"action,omitempty"`
	Events      []event.Envelope  `json:"events"`
	Transfers   []ledger.Transfer `json:"transfers"`
	ReceiptHash [32]byte          `json:"-"`
	PrevHash    [32]byte          `json:"-"`
}

// Committed reports whether the command changed the ledger.
func (r *Receipt) Committed() bool {
	return r.Outcome == OutcomeOK
}

// outcomeDigest covers everything the command produced.
func (r *Receipt) outcomeDigest() []byte {
	raw, err := json.Marshal(struct {
		Outcome   string            `json:"outcome"`
		Error     string            `json:"error"`
		Action    string            `json:"action"`
		Events    []event.Envelope  `json:"events"`
		Transfers []ledger.Transfer `json:"transfers"`
	}{r.Outcome, r.Error, r.Action, r.Events, r.Transfers})
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal receipt %d: %v", r.Sequence, err))
	}
	sum := sha256.Sum256(raw)
	return sum[:]
}

// ExecutorOptions wires an Executor. Nil channels disable that output.
type ExecutorOptions struct {
	Clock       *MonotonicClock
	Idempotency *IdempotencyChecker

	// Receipts uses BLOCKING sends: the executor stalls until the receipt
	// worker drains, so no receipt is lost.
	Receipts chan<- *Receipt

	// Wake is signalled with NON-BLOCKING sends after a commit that queued
	// outbound messages. Signals coalesce; the publisher also polls.
	Wake chan<- struct{}

	QueueSize int
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
}

// Executor is the single goroutine that owns the engine. Commands are applied
// one at a time in arrival order.
type Executor struct {
	engine      *Engine
	clock       *MonotonicClock
	idempotency *IdempotencyChecker
	hasher      *ReceiptHasher
	sequence    int64

	queue    chan Command
	receipts chan<- *Receipt
	wake     chan<- struct{}

	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewExecutor(engine *Engine, opts ExecutorOptions) *Executor {
	if opts.Clock == nil {
		opts.Clock = NewMonotonicClock(nil)
	}
	if opts.Idempotency == nil {
		opts.Idempotency = NewIdempotencyChecker(10_000, nil, opts.Metrics)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	return &Executor{
		engine:      engine,
		clock:       opts.Clock,
		idempotency: opts.Idempotency,
		hasher:      NewReceiptHasher(),
		queue:       make(chan Command, opts.QueueSize),
		receipts:    opts.Receipts,
		wake:        opts.Wake,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Restore continues from the last persisted receipt. Call before Run.
func (x *Executor) Restore(last *Receipt) {
	if last == nil {
		return
	}
	x.sequence = last.Sequence + 1
	x.hasher.Restore(last.ReceiptHash[:])
	x.clock.Restore(last.InvokedAt)
}

// Enqueue hands cmd to the executor without waiting for it to be applied.
func (x *Executor) Enqueue(ctx context.Context, cmd Command) error {
	select {
	case x.queue <- cmd:
		if x.metrics != nil {
			x.metrics.SetChannelMetrics("commands", len(x.queue), cap(x.queue))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues cmd and waits for its result.
func (x *Executor) Submit(ctx context.Context, cmd Command) (Result, error) {
	reply := make(chan Result, 1)
	cmd.Reply = reply
	if err := x.Enqueue(ctx, cmd); err != nil {
		return Result{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run applies queued commands until ctx is cancelled.
func (x *Executor) Run(ctx context.Context) error {
	x.logger.Info().Int64("next_sequence", x.sequence).Msg("executor started")
	for {
		select {
		case <-ctx.Done():
			x.logger.Info().Int64("next_sequence", x.sequence).Msg("executor stopped")
			return ctx.Err()
		case cmd := <-x.queue:
			x.Process(ctx, cmd)
		}
	}
}

// Process applies one command synchronously and delivers its result to
// cmd.Reply when set. Run calls it for every queued command; it must not be
// called concurrently with Run.
func (x *Executor) Process(ctx context.Context, cmd Command) Result {
	res := x.process(ctx, &cmd)
	if cmd.Reply != nil {
		cmd.Reply <- res
	}
	return res
}

func (x *Executor) process(ctx context.Context, cmd *Command) Result {
	start := time.Now()
	kind := string(cmd.Kind)

	// Step 1: Idempotency check (two-tier)
	if cmd.ID == uuid.Nil {
		return Result{Err: fmt.Errorf("%w: missing command id", state.ErrInvalidCommand)}
	}
	if x.idempotency.IsDuplicate(ctx, cmd.ID) {
		x.logger.Debug().Str("command_id", cmd.ID.String()).Str("kind", kind).Msg("duplicate command skipped")
		return Result{Duplicate: true}
	}

	// Step 2: Stamp and apply
	now, adjusted := x.clock.Stamp()
	if adjusted && x.metrics != nil {
		x.metrics.ClockAdjustments.Inc()
	}
	call := Call{ID: cmd.ID, Sender: cmd.Sender, Funds: cmd.Funds, Now: now, Sequence: x.sequence}
	resp, err := x.dispatch(ctx, cmd, call)
	if err != nil && !IsFinal(err) {
		// shutting down: the store rolled back, the command may be redelivered
		return Result{Err: err}
	}
	if errors.Is(err, ErrAlreadyApplied) {
		// committed before a restart lost its receipt; the outbox still holds
		// its messages
		x.logger.Info().Str("command_id", cmd.ID.String()).Str("kind", kind).Msg("command already applied")
		x.idempotency.MarkProcessed(cmd.ID)
		if x.metrics != nil {
			x.metrics.IdempotencyDuplicates.WithLabelValues("ledger").Inc()
		}
		return Result{Duplicate: true}
	}

	// Step 3: Receipt
	receipt := &Receipt{
		Sequence:  x.sequence,
		CommandID: cmd.ID,
		Kind:      cmd.Kind,
		Sender:    cmd.Sender,
		InvokedAt: now,
		Outcome:   OutcomeOK,
	}
	if err != nil {
		class := state.ClassOf(err)
		receipt.Outcome = class.String()
		receipt.Error = err.Error()
		x.logger.Warn().Err(err).
			Str("command_id", cmd.ID.String()).
			Str("kind", kind).
			Str("sender", cmd.Sender).
			Str("class", class.String()).
			Msg("command rejected")
		if x.metrics != nil {
			x.metrics.CommandsRejected.WithLabelValues(kind, class.String()).Inc()
		}
	} else {
		receipt.Action = resp.Action
		receipt.Transfers = resp.Transfers
		for _, evt := range resp.Events {
			receipt.Events = append(receipt.Events, event.Envelope{
				Sequence:  receipt.Sequence,
				CommandID: cmd.ID,
				Timestamp: now,
				Event:     evt,
			})
		}
	}
	receipt.PrevHash = x.hasher.PrevHash()
	receipt.ReceiptHash = x.hasher.ComputeHash(receipt.Sequence, cmd.Digest(), receipt.outcomeDigest())
	x.sequence++

	// Step 4: Emit
	if x.receipts != nil {
		x.receipts <- receipt
	}
	if x.wake != nil && receipt.Committed() && (len(receipt.Events) > 0 || len(receipt.Transfers) > 0) {
		select {
		case x.wake <- struct{}{}:
		default:
		}
	}

	// Step 5: Mark as processed; a rejected command is final too
	x.idempotency.MarkProcessed(cmd.ID)

	if x.metrics != nil {
		if err == nil {
			x.metrics.CommandsApplied.WithLabelValues(kind).Inc()
		}
		x.metrics.CommandDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		x.metrics.ReceiptSequence.Set(float64(receipt.Sequence))
	}

	return Result{Sequence: receipt.Sequence, Response: resp, Err: err}
}

func (x *Executor) dispatch(ctx context.Context, cmd *Command, call Call) (*Response, error) {
	e := x.engine
	switch cmd.Kind {
	case KindInstantiate:
		if cmd.Config == nil {
			return nil, fmt.Errorf("%w: missing config", state.ErrInvalidCommand)
		}
		return e.Instantiate(ctx, call, *cmd.Config)
	case KindGenesisStartRound:
		return e.GenesisStartRound(ctx, call)
	case KindGenesisLockRound:
		return e.GenesisLockRound(ctx, call)
	case KindExecuteRound:
		return e.ExecuteRound(ctx, call)
	case KindBetBull:
		return e.BetBull(ctx, call, cmd.Epoch, cmd.Amount)
	case KindBetBear:
		return e.BetBear(ctx, call, cmd.Epoch, cmd.Amount)
	case KindClaim:
		return e.Claim(ctx, call, cmd.Epochs)
	case KindRefund:
		return e.Refund(ctx, call, cmd.Epochs)
	case KindPause:
		return e.Pause(ctx, call)
	case KindUnpause:
		return e.Unpause(ctx, call)
	case KindClaimTreasury:
		return e.ClaimTreasury(ctx, call)
	case KindSetBufferAndInterval:
		return e.SetBufferAndInterval(ctx, call, cmd.BufferSeconds, cmd.IntervalSeconds)
	case KindSetMinBetAmount:
		return e.SetMinBetAmount(ctx, call, cmd.Amount)
	case KindSetOperator:
		return e.SetOperator(ctx, call, cmd.Address)
	case KindSetTreasuryFee:
		return e.SetTreasuryFee(ctx, call, cmd.FeeBps)
	case KindSetOracle:
		return e.SetOracle(ctx, call, cmd.Address, cmd.PriceFeedID)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", state.ErrInvalidCommand, cmd.Kind)
	}
}

// IsFinal reports whether a rejection should not be redelivered. Only a
// cancelled or timed-out context is worth retrying with the same command id,
// and in that case no receipt was issued.
func IsFinal(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
