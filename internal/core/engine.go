package core

import (
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	fpmath "PredictLedger/internal/math"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/oracle"
	"PredictLedger/internal/state"
	"PredictLedger/internal/store"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Tick outcomes reported in Response.Action
const (
	ActionNoActionNeeded = "no_action_needed"
	ActionRoundStarted   = "round_started"
	ActionRoundLocked    = "round_locked"
	ActionRoundEnded     = "round_ended"
)

// ErrAlreadyApplied is returned when the call's command id has already
// committed. Nothing is changed; its outbound messages are already queued.
var ErrAlreadyApplied = errors.New("command already applied")

// Call is the verified context of one invocation. The engine never reads the
// wall clock; Now is supplied by the host.
type Call struct {
	// ID seeds deterministic transfer ids; uuid.Nil draws a random one
	ID       uuid.UUID
	Sender   string
	Funds    []ledger.Coin
	Now      time.Time
	Sequence int64 // receipt sequence stamped on outbound messages
}

// Response is what one successful invocation produced.
type Response struct {
	Action    string
	Events    []event.Event
	Transfers []ledger.Transfer
}

// Engine applies ledger operations. Each method is one all-or-nothing
// store.Update; the host must not run two Updates concurrently against
// stores that do not serialise them.
type Engine struct {
	store   store.Store
	oracle  oracle.PriceOracle
	outbox  bool
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewEngine(st store.Store, o oracle.PriceOracle, logger zerolog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:   st,
		oracle:  o,
		outbox:  true,
		logger:  logger,
		metrics: metrics,
	}
}

// SetOutbox turns the outbound queue on or off. With no publisher draining
// it, queued messages would only accumulate.
func (e *Engine) SetOutbox(enabled bool) {
	e.outbox = enabled
}

// invocation is the per-call scratch state shared by an operation's steps
type invocation struct {
	ctx    context.Context
	call   Call
	now    int64
	book   *ledger.Book
	oracle oracle.PriceOracle
	resp   *Response

	cfg      ledger.Config
	price    int64
	hasPrice bool

	// treasury balance after the invocation, when it changed
	treasury    uint64
	treasurySet bool
}

func (e *Engine) invoke(ctx context.Context, call Call, op func(inv *invocation) error) (*Response, error) {
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}

	var inv *invocation
	err := e.store.Update(ctx, func(tx store.Tx) error {
		// Update may retry fn; every attempt starts from scratch
		inv = &invocation{
			ctx:    ctx,
			call:   call,
			now:    call.Now.Unix(),
			book:   ledger.NewBook(tx),
			oracle: e.oracle,
			resp:   &Response{},
		}
		if applied, err := inv.book.IsApplied(call.ID); err != nil {
			return err
		} else if applied {
			return ErrAlreadyApplied
		}
		if err := op(inv); err != nil {
			return err
		}
		return inv.record(e.outbox)
	})
	if err != nil {
		if errors.Is(err, state.ErrOracle) && e.metrics != nil {
			e.metrics.OracleErrors.Inc()
		}
		return nil, err
	}
	e.observe(inv.resp)
	if inv.treasurySet && e.metrics != nil {
		e.metrics.TreasuryBalance.Set(float64(inv.treasury))
	}
	return inv.resp, nil
}

// record marks the command applied and queues its events and transfers in
// the transaction that committed them.
func (inv *invocation) record(outbox bool) error {
	if err := inv.book.MarkApplied(inv.call.ID, inv.resp.Action); err != nil {
		return err
	}
	if !outbox {
		return nil
	}

	msgs := make([]ledger.OutboxMessage, 0, len(inv.resp.Events)+len(inv.resp.Transfers))
	for i, evt := range inv.resp.Events {
		payload, err := json.Marshal(event.Envelope{
			Sequence:  inv.call.Sequence,
			CommandID: inv.call.ID,
			Timestamp: inv.call.Now,
			Event:     evt,
		})
		if err != nil {
			return fmt.Errorf("encode %s: %w", evt.EventType(), err)
		}
		msgs = append(msgs, ledger.OutboxMessage{
			ID:      fmt.Sprintf("%s:%d", inv.call.ID, i),
			Kind:    ledger.OutboxEvent,
			Topic:   evt.EventType().Subject(),
			Payload: payload,
		})
	}
	for _, tr := range inv.resp.Transfers {
		payload, err := json.Marshal(ledger.TransferMessage{Sequence: inv.call.Sequence, Transfer: tr})
		if err != nil {
			return fmt.Errorf("encode transfer %s: %w", tr.ID, err)
		}
		// the transfer id doubles as the broker dedup key
		msgs = append(msgs, ledger.OutboxMessage{
			ID:      tr.ID.String(),
			Kind:    ledger.OutboxTransfer,
			Payload: payload,
		})
	}
	return inv.book.Enqueue(msgs...)
}

// loadConfig reads the configuration once per invocation.
func (inv *invocation) loadConfig() (*ledger.Config, error) {
	cfg, ok, err := inv.book.Config()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, state.ErrNotInstantiated
	}
	inv.cfg = cfg
	return &inv.cfg, nil
}

// oraclePrice reads the oracle at most once per invocation; lock and close in
// the same tick observe the same price.
func (inv *invocation) oraclePrice() (int64, error) {
	if inv.hasPrice {
		return inv.price, nil
	}
	price, err := inv.oracle.PriceAt(inv.ctx, inv.cfg.PriceFeedID, inv.call.Now, state.OracleTimeLimit)
	if err != nil {
		if !errors.Is(err, state.ErrOracle) {
			err = fmt.Errorf("%w: %v", state.ErrOracle, err)
		}
		return 0, err
	}
	inv.price, inv.hasPrice = price, true
	return price, nil
}

func (inv *invocation) emit(evt event.Event) {
	inv.resp.Events = append(inv.resp.Events, evt)
}

func (inv *invocation) transfer(recipient string, amount uint64, reason ledger.TransferReason) {
	n := len(inv.resp.Transfers)
	inv.resp.Transfers = append(inv.resp.Transfers, ledger.Transfer{
		ID:        uuid.NewSHA1(inv.call.ID, []byte("transfer:"+strconv.Itoa(n))),
		Recipient: recipient,
		Denom:     inv.cfg.Token,
		Amount:    amount,
		Reason:    reason,
	})
}

// ============================================================================
// Instantiation
// ============================================================================

// Instantiate writes the initial configuration. It fails if one exists.
func (e *Engine) Instantiate(ctx context.Context, call Call, cfg ledger.Config) (*Response, error) {
	return e.invoke(ctx, call, func(inv *invocation) error {
		valid, err := state.ValidateConfig(cfg)
		if err != nil {
			return err
		}
		if _, ok, err := inv.book.Config(); err != nil {
			return err
		} else if ok {
			return state.ErrAlreadyInstantiated
		}

		if err := inv.book.PutConfig(valid); err != nil {
			return err
		}
		if err := inv.book.PutState(ledger.GlobalState{}); err != nil {
			return err
		}
		inv.cfg = valid
		inv.resp.Action = "instantiate"
		inv.emit(&event.Instantiated{
			Admin:    valid.AdminAddress,
			Operator: valid.OperatorAddress,
			Token:    valid.Token,
		})
		return nil
	})
}

// ============================================================================
// Round lifecycle
// ============================================================================

// operatorGate loads config and state and applies the operator + pause checks.
func (inv *invocation) operatorGate() (*ledger.GlobalState, error) {
	cfg, err := inv.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := state.RequireOperator(cfg, inv.call.Sender); err != nil {
		return nil, err
	}
	st, err := inv.book.State()
	if err != nil {
		return nil, err
	}
	if err := state.RequireNotPaused(&st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (inv *invocation) mustRound(epoch uint64) (ledger.Round, error) {
	r, ok, err := inv.book.Round(epoch)
	if err != nil {
		return r, err
	}
	if !ok {
		return r, fmt.Errorf("%w for epoch %d", state.ErrRoundNotFound, epoch)
	}
	return r, nil
}

// startRound opens epoch at now and makes it current.
func (inv *invocation) startRound(st *ledger.GlobalState, epoch uint64) error {
	r, err := state.OpenRound(epoch, inv.now, &inv.cfg)
	if err != nil {
		return err
	}
	if err := inv.book.PutRound(r); err != nil {
		return err
	}
	st.CurrentEpoch = epoch
	inv.emit(&event.RoundStarted{
		RoundEpoch:     r.Epoch,
		StartTimestamp: r.StartTimestamp,
		LockTimestamp:  r.LockTimestamp,
		CloseTimestamp: r.CloseTimestamp,
	})
	return nil
}

// lockRound records the lock price on r and skims the fee into reward_base.
// The caller persists r.
func (inv *invocation) lockRound(r *ledger.Round) error {
	price, err := inv.oraclePrice()
	if err != nil {
		return err
	}
	fee, err := state.LockRound(r, price, inv.cfg.TreasuryFee)
	if err != nil {
		return err
	}
	inv.emit(&event.RoundLocked{
		RoundEpoch:    r.Epoch,
		LockTimestamp: inv.now,
		LockPrice:     r.LockPrice,
		TreasuryFee:   fee,
		TotalAmount:   r.TotalAmount,
	})
	return nil
}

// endRound records the close price on r and credits the fee the round keeps
// to the treasury. The caller persists r and st.
func (inv *invocation) endRound(st *ledger.GlobalState, r *ledger.Round) error {
	price, err := inv.oraclePrice()
	if err != nil {
		return err
	}
	fee, err := state.CloseRound(r, price)
	if err != nil {
		return err
	}
	if fee > 0 {
		treasury, err := fpmath.Add(st.Treasury, fee)
		if err != nil {
			return err
		}
		st.Treasury = treasury
		inv.treasury, inv.treasurySet = treasury, true
	}
	inv.emit(&event.RoundEnded{
		RoundEpoch:     r.Epoch,
		CloseTimestamp: inv.now,
		ClosePrice:     r.ClosePrice,
		RewardAmount:   r.RewardAmount,
		TreasuryFee:    fee,
		Tie:            r.IsTie(),
	})
	return nil
}

// GenesisStartRound opens round 1.
func (e *Engine) GenesisStartRound(ctx context.Context, call Call) (*Response, error) {
	return e.invoke(ctx, call, func(inv *invocation) error {
		st, err := inv.operatorGate()
		if err != nil {
			return err
		}
		if st.CurrentEpoch != 0 {
			return state.ErrGenesisAlreadyStarted
		}
		if err := inv.startRound(st, 1); err != nil {
			return err
		}
		inv.resp.Action = ActionRoundStarted
		return inv.book.PutState(*st)
	})
}

// GenesisLockRound locks round 1 once its lock time has passed and opens
// round 2, handing the lifecycle over to ExecuteRound.
func (e *Engine) GenesisLockRound(ctx context.Context, call Call) (*Response, error) {
	return e.invoke(ctx, call, func(inv *invocation) error {
		st, err := inv.operatorGate()
		if err != nil {
			return err
		}
		switch {
		case st.CurrentEpoch == 0:
			return state.ErrGenesisNotStarted
		case st.CurrentEpoch > 1:
			return state.ErrGenesisAlreadyLocked
		}

		r, err := inv.mustRound(1)
		if err != nil {
			return err
		}
		if r.Locked() {
			return state.ErrGenesisAlreadyLocked
		}
		if inv.now < r.LockTimestamp {
			return fmt.Errorf("%w: epoch 1 locks at %d", state.ErrRoundNotLockable, r.LockTimestamp)
		}

		if err := inv.lockRound(&r); err != nil {
			return err
		}
		if err := inv.book.PutRound(r); err != nil {
			return err
		}
		if err := inv.startRound(st, 2); err != nil {
			return err
		}
		inv.resp.Action = ActionRoundLocked
		return inv.book.PutState(*st)
	})
}

// ExecuteRound is the operator tick. It applies, in order:
//
//  1. resolve the previous round once its close time has passed;
//  2. if the current round's close time has passed too, lock it (if needed),
//     resolve it with the same reading and open the next round;
//  3. otherwise lock the current round once its lock time has passed and open
//     the next one, unless the previous round is still awaiting resolution.
//
// At most one epoch is advanced per call. A call with nothing to do reports
// ActionNoActionNeeded and succeeds.
func (e *Engine) ExecuteRound(ctx context.Context, call Call) (*Response, error) {
	return e.invoke(ctx, call, func(inv *invocation) error {
		st, err := inv.operatorGate()
		if err != nil {
			return err
		}
		if st.CurrentEpoch == 0 {
			return state.ErrGenesisNotStarted
		}

		var actions []string
		pendingUnresolved := false

		if st.CurrentEpoch > 1 {
			prev, err := inv.mustRound(st.CurrentEpoch - 1)
			if err != nil {
				return err
			}
			if state.PhaseOf(&prev) == state.PhaseLocked {
				if inv.now >= prev.CloseTimestamp {
					if err := inv.endRound(st, &prev); err != nil {
						return err
					}
					if err := inv.book.PutRound(prev); err != nil {
						return err
					}
					actions = append(actions, ActionRoundEnded)
				} else {
					pendingUnresolved = true
				}
			}
		}

		cur, err := inv.mustRound(st.CurrentEpoch)
		if err != nil {
			return err
		}

		switch {
		case inv.now >= cur.CloseTimestamp && !pendingUnresolved:
			if !cur.Locked() {
				if err := inv.lockRound(&cur); err != nil {
					return err
				}
				actions = append(actions, ActionRoundLocked)
			}
			if err := inv.endRound(st, &cur); err != nil {
				return err
			}
			if err := inv.book.PutRound(cur); err != nil {
				return err
			}
			if err := inv.startRound(st, st.CurrentEpoch+1); err != nil {
				return err
			}
			actions = append(actions, ActionRoundEnded, ActionRoundStarted)

		case inv.now >= cur.LockTimestamp && !cur.Locked() && !pendingUnresolved:
			if err := inv.lockRound(&cur); err != nil {
				return err
			}
			if err := inv.book.PutRound(cur); err != nil {
				return err
			}
			if err := inv.startRound(st, st.CurrentEpoch+1); err != nil {
				return err
			}
			actions = append(actions, ActionRoundLocked, ActionRoundStarted)
		}

		if len(actions) == 0 {
			inv.resp.Action = ActionNoActionNeeded
			return nil
		}
		inv.resp.Action = strings.Join(dedupe(actions), ",")
		return inv.book.PutState(*st)
	})
}

func dedupe(actions []string) []string {
	seen := make(map[string]bool, len(actions))
	out := actions[:0]
	for _, a := range actions {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// ============================================================================
// Betting ledger
// ============================================================================

func (e *Engine) BetBull(ctx context.Context, call Call, epoch, amount uint64) (*Response, error) {
	return e.PlaceBet(ctx, call, epoch, ledger.SideBull, amount)
}

func (e *Engine) BetBear(ctx context.Context, call Call, epoch, amount uint64) (*Response, error) {
	return e.PlaceBet(ctx, call, epoch, ledger.SideBear, amount)
}

// PlaceBet records the sender's single stake on epoch. The attached funds of
// the configured token must equal amount exactly.
func (e *Engine) PlaceBet(ctx context.Context, call Call, epoch uint64, side ledger.Side, amount uint64) (*Response, error) {
	return e.invoke(ctx, call, func(inv *invocation) error {
		cfg, err := inv.loadConfig()
		if err != nil {
			return err
		}
		st, err := inv.book.State()
		if err != nil {
			return err
		}
		if err := state.RequireNotPaused(&st); err != nil {
			return err
		}
		if err := state.ValidateAddress(call.Sender); err != nil {
			return err
		}
		if amount < cfg.MinBetAmount {
			return state.ErrBetTooSmall
		}

		r, ok, err := inv.book.Round(epoch)
		if err != nil {
			return err
		}
		if !ok || !state.Bettable(&r, inv.now) {
			return state.ErrRoundNotBettable
		}

		if exists, err := inv.book.HasBet(epoch, call.Sender); err != nil {
			return err
		} else if exists {
			return state.ErrAlreadyBet
		}

		if ledger.AmountOf(call.Funds, cfg.Token) != amount {
			return state.ErrInvalidBetFunds
		}

		if err := state.AddStake(&r, side, amount); err != nil {
			return err
		}
		if err := inv.book.PutRound(r); err != nil {
			return err
		}
		if err := inv.book.PutBet(epoch, call.Sender, ledger.Bet{Position: side, Amount: amount}); err != nil {
			return err
		}
		if err := inv.book.AppendUserRound(call.Sender, epoch); err != nil {
			return err
		}

		inv.resp.Action = "bet"
		inv.emit(&event.BetPlaced{
			RoundEpoch:  epoch,
			Participant: call.Sender,
			Position:    side,
			Amount:      amount,
		})
		return nil
	})
}

// settleFn computes the payout for one unclaimed bet of a resolved round.
type settleFn func(epoch uint64, r *ledger.Round, bet *ledger.Bet) (uint64, error)

// settle runs a claim-style batch: every epoch must pass or nothing is
// marked, and one transfer carries the sum.
func (inv *invocation) settle(epochs []uint64, reason ledger.TransferReason, payout settleFn, emit func(epoch, amount uint64)) error {
	if len(epochs) == 0 {
		return state.ErrEmptyEpochs
	}
	if _, err := inv.loadConfig(); err != nil {
		return err
	}
	st, err := inv.book.State()
	if err != nil {
		return err
	}
	if err := state.RequireNotPaused(&st); err != nil {
		return err
	}

	sender := inv.call.Sender
	var total uint64
	for _, epoch := range epochs {
		r, ok, err := inv.book.Round(epoch)
		if err != nil {
			return err
		}
		if !ok || !r.Resolved {
			return fmt.Errorf("%w for epoch %d", state.ErrRoundNotEnded, epoch)
		}

		bet, ok, err := inv.book.Bet(epoch, sender)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w for epoch %d", state.ErrNoBetRecord, epoch)
		}
		if bet.Claimed {
			return fmt.Errorf("%w for epoch %d", state.ErrAlreadyClaimed, epoch)
		}

		amount, err := payout(epoch, &r, &bet)
		if err != nil {
			return err
		}

		bet.Claimed = true
		if err := inv.book.PutBet(epoch, sender, bet); err != nil {
			return err
		}
		if total, err = fpmath.Add(total, amount); err != nil {
			return err
		}
		emit(epoch, amount)
	}

	inv.transfer(sender, total, reason)
	return nil
}

// Claim pays out the sender's winnings for every epoch in the batch. A zero
// reward for any epoch aborts the batch.
func (e *Engine) Claim(ctx context.Context, call Call, epochs []uint64) (*Response, error) {
	return e.invoke(ctx, call, func(inv *invocation) error {
		inv.resp.Action = "claim"
		return inv.settle(epochs, ledger.TransferClaim,
			func(epoch uint64, r *ledger.Round, bet *ledger.Bet) (uint64, error) {
				reward, err := state.CalculateReward(r, bet)
				if err != nil {
					return 0, err
				}
				if reward == 0 {
					return 0, fmt.Errorf("%w for epoch %d", state.ErrNotWinner, epoch)
				}
				return reward, nil
			},
			func(epoch, amount uint64) {
				inv.emit(&event.RewardClaimed{RoundEpoch: epoch, Participant: call.Sender, Reward: amount})
			})
	})
}

// Refund returns the sender's stake for every tied epoch in the batch.
func (e *Engine) Refund(ctx context.Context, call Call, epochs []uint64) (*Response, error) {
	return e.invoke(ctx, call, func(inv *invocation) error {
		inv.resp.Action = "refund"
		return inv.settle(epochs, ledger.TransferRefund,
			func(epoch uint64, r *ledger.Round, bet *ledger.Bet) (uint64, error) {
				if !r.IsTie() {
					return 0, fmt.Errorf("%w for epoch %d", state.ErrRoundNotTie, epoch)
				}
				return state.RefundAmount(r, bet)
			},
			func(epoch, amount uint64) {
				inv.emit(&event.StakeRefunded{RoundEpoch: epoch, Participant: call.Sender, Amount: amount})
			})
	})
}

// ============================================================================
// Admin
// ============================================================================

// adminGate loads config and state and applies the admin check. The pause
// flag does not apply to admin operations.
func (inv *invocation) adminGate() (*ledger.GlobalState, error) {
	cfg, err := inv.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := state.RequireAdmin(cfg, inv.call.Sender); err != nil {
		return nil, err
	}
	st, err := inv.book.State()
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (e *Engine) Pause(ctx context.Context, call Call) (*Response, error) {
	return e.invoke(ctx, call, func(inv *invocation) error {
		st, err := inv.adminGate()
		if err != nil {
			return err
		}
		if st.Paused {
			return state.ErrAlreadyPaused
		}
		st.Paused = true
		inv.resp.Action = "pause"
		inv.emit(&event.Paused{CurrentEpoch: st.CurrentEpoch})
		return inv.book.PutState(*st)
	})
}

func (e *Engine) Unpause(ctx context.Context, call Call) (*Response, error) {
	return e.invoke(ctx, call, func(inv *invocation) error {
		st, err := inv.adminGate()
		if err != nil {
			return err
		}
		if !st.Paused {
			return state.ErrAlreadyUnpaused
		}
		st.Paused = false
		inv.resp.Action = "unpause"
		inv.emit(&event.Unpaused{CurrentEpoch: st.CurrentEpoch})
		return inv.book.PutState(*st)
	})
}

// ClaimTreasury withdraws every accrued fee to the admin.
func (e *Engine) ClaimTreasury(ctx context.Context, call Call) (*Response, error) {
	return e.invoke(ctx, call, func(inv *invocation) error {
		st, err := inv.adminGate()
		if err != nil {
			return err
		}
		if st.Treasury == 0 {
			return state.ErrNoTreasury
		}
		amount := st.Treasury
		st.Treasury = 0
		inv.treasury, inv.treasurySet = 0, true

		inv.resp.Action = "claim_treasury"
		inv.transfer(inv.cfg.AdminAddress, amount, ledger.TransferTreasury)
		inv.emit(&event.TreasuryClaimed{Recipient: inv.cfg.AdminAddress, Amount: amount})
		return inv.book.PutState(*st)
	})
}

// updateConfig applies an admin setter. mutate validates and changes cfg and
// returns the changed fields for the event stream.
func (e *Engine) updateConfig(ctx context.Context, call Call, action string, mutate func(cfg *ledger.Config) ([][2]string, error)) (*Response, error) {
	return e.invoke(ctx, call, func(inv *invocation) error {
		if _, err := inv.adminGate(); err != nil {
			return err
		}
		changes, err := mutate(&inv.cfg)
		if err != nil {
			return err
		}
		if err := inv.book.PutConfig(inv.cfg); err != nil {
			return err
		}
		inv.resp.Action = action
		for _, c := range changes {
			inv.emit(&event.ConfigUpdated{Field: c[0], Value: c[1]})
		}
		return nil
	})
}

// SetBufferAndInterval changes the cadence of rounds opened from now on.
func (e *Engine) SetBufferAndInterval(ctx context.Context, call Call, bufferSeconds, intervalSeconds uint64) (*Response, error) {
	return e.updateConfig(ctx, call, "set_buffer_and_interval_seconds", func(cfg *ledger.Config) ([][2]string, error) {
		if err := state.ValidateTiming(intervalSeconds, bufferSeconds); err != nil {
			return nil, err
		}
		cfg.BufferSeconds = bufferSeconds
		cfg.IntervalSeconds = intervalSeconds
		return [][2]string{
			{"buffer_seconds", strconv.FormatUint(bufferSeconds, 10)},
			{"interval_seconds", strconv.FormatUint(intervalSeconds, 10)},
		}, nil
	})
}

func (e *Engine) SetMinBetAmount(ctx context.Context, call Call, amount uint64) (*Response, error) {
	return e.updateConfig(ctx, call, "set_min_bet_amount", func(cfg *ledger.Config) ([][2]string, error) {
		if err := state.ValidateMinBet(amount); err != nil {
			return nil, err
		}
		cfg.MinBetAmount = amount
		return [][2]string{{"min_bet_amount", strconv.FormatUint(amount, 10)}}, nil
	})
}

func (e *Engine) SetOperator(ctx context.Context, call Call, operator string) (*Response, error) {
	return e.updateConfig(ctx, call, "set_operator", func(cfg *ledger.Config) ([][2]string, error) {
		if err := state.ValidateAddress(operator); err != nil {
			return nil, err
		}
		cfg.OperatorAddress = operator
		return [][2]string{{"operator_address", operator}}, nil
	})
}

// SetTreasuryFee applies from the next lock; rounds already locked keep the
// fee they were skimmed with.
func (e *Engine) SetTreasuryFee(ctx context.Context, call Call, feeBps uint64) (*Response, error) {
	return e.updateConfig(ctx, call, "set_treasury_fee", func(cfg *ledger.Config) ([][2]string, error) {
		if err := state.ValidateTreasuryFee(feeBps); err != nil {
			return nil, err
		}
		cfg.TreasuryFee = feeBps
		return [][2]string{{"treasury_fee", strconv.FormatUint(feeBps, 10)}}, nil
	})
}

func (e *Engine) SetOracle(ctx context.Context, call Call, oracleAddress, priceFeedID string) (*Response, error) {
	return e.updateConfig(ctx, call, "set_oracle_info", func(cfg *ledger.Config) ([][2]string, error) {
		if err := state.ValidateAddress(oracleAddress); err != nil {
			return nil, err
		}
		feedID, err := state.NormalizeFeedID(priceFeedID)
		if err != nil {
			return nil, err
		}
		cfg.OracleAddress = oracleAddress
		cfg.PriceFeedID = feedID
		return [][2]string{
			{"oracle_address", oracleAddress},
			{"price_feed_id", feedID},
		}, nil
	})
}

// observe records metrics and logs for a committed invocation.
func (e *Engine) observe(resp *Response) {
	for _, evt := range resp.Events {
		switch ev := evt.(type) {
		case *event.RoundStarted:
			e.logger.Info().Uint64("epoch", ev.RoundEpoch).
				Int64("lock_timestamp", ev.LockTimestamp).
				Int64("close_timestamp", ev.CloseTimestamp).
				Msg("round started")
			if e.metrics != nil {
				e.metrics.RoundsStarted.Inc()
				e.metrics.CurrentEpoch.Set(float64(ev.RoundEpoch))
			}
		case *event.RoundLocked:
			e.logger.Info().Uint64("epoch", ev.RoundEpoch).
				Str("lock_price", ev.LockPrice.String()).
				Uint64("treasury_fee", ev.TreasuryFee).
				Msg("round locked")
			if e.metrics != nil {
				e.metrics.RoundsLocked.Inc()
			}
		case *event.RoundEnded:
			outcome := "decided"
			if ev.Tie {
				outcome = "tie"
			}
			e.logger.Info().Uint64("epoch", ev.RoundEpoch).
				Str("close_price", ev.ClosePrice.String()).
				Str("outcome", outcome).
				Msg("round ended")
			if e.metrics != nil {
				e.metrics.RoundsEnded.WithLabelValues(outcome).Inc()
			}
		case *event.BetPlaced:
			if e.metrics != nil {
				e.metrics.BetsPlaced.WithLabelValues(ev.Position.String()).Inc()
				e.metrics.BetVolume.WithLabelValues(ev.Position.String()).Add(float64(ev.Amount))
			}
		case *event.TreasuryClaimed:
			e.logger.Info().Uint64("amount", ev.Amount).Msg("treasury claimed")
			if e.metrics != nil {
				e.metrics.TreasuryClaimed.Add(float64(ev.Amount))
			}
		case *event.Paused, *event.Unpaused, *event.ConfigUpdated:
			e.logger.Info().Str("event", evt.EventType().String()).Msg("admin change applied")
		}
	}

	if e.metrics == nil {
		return
	}
	for _, t := range resp.Transfers {
		switch t.Reason {
		case ledger.TransferClaim:
			e.metrics.RewardsPaid.Add(float64(t.Amount))
		case ledger.TransferRefund:
			e.metrics.RefundsPaid.Add(float64(t.Amount))
		}
	}
}
