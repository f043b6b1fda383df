package state

import (
	"PredictLedger/internal/ledger"
	fpmath "PredictLedger/internal/math"
	"fmt"
)

// Phase is where a round sits in its lifecycle
type Phase int32

const (
	PhaseOpen Phase = iota
	PhaseLocked
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "Open"
	case PhaseLocked:
		return "Locked"
	case PhaseResolved:
		return "Resolved"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates phase transitions. Resolving an open round is
// allowed only through a lock in the same invocation, so Open -> Resolved is
// not a direct edge.
func (p Phase) CanTransitionTo(next Phase) bool {
	validTransitions := map[Phase][]Phase{
		PhaseOpen:   {PhaseLocked},
		PhaseLocked: {PhaseResolved},
	}
	for _, allowed := range validTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PhaseOf derives the phase from the recorded prices.
func PhaseOf(r *ledger.Round) Phase {
	switch {
	case r.Resolved:
		return PhaseResolved
	case r.Locked():
		return PhaseLocked
	default:
		return PhaseOpen
	}
}

// OpenRound builds round epoch starting at now. Timestamps derive from the
// open time, so a late tick shifts every later round forward.
func OpenRound(epoch uint64, now int64, cfg *ledger.Config) (ledger.Round, error) {
	interval := int64(cfg.IntervalSeconds)
	buffer := int64(cfg.BufferSeconds)
	if interval <= 0 || buffer < 0 || buffer >= interval {
		return ledger.Round{}, ErrInvalidBuffer
	}
	if now > maxTimestamp-interval {
		return ledger.Round{}, fpmath.ErrOverflow
	}
	return ledger.Round{
		Epoch:          epoch,
		StartTimestamp: now,
		LockTimestamp:  now + interval - buffer,
		CloseTimestamp: now + interval,
	}, nil
}

const maxTimestamp = int64(^uint64(0) >> 1)

// LockRound records the lock price and skims the treasury fee into
// reward_base. The fee is held on the round until CloseRound settles it.
func LockRound(r *ledger.Round, price int64, feeBps uint64) (uint64, error) {
	if !PhaseOf(r).CanTransitionTo(PhaseLocked) {
		return 0, fmt.Errorf("%w: epoch %d is %s", ErrRoundNotLockable, r.Epoch, PhaseOf(r))
	}
	fee, err := fpmath.ApplyBasisPoints(r.TotalAmount, feeBps)
	if err != nil {
		return 0, err
	}
	r.LockPrice = ledger.PriceOf(price)
	r.RewardBaseAmount = fee
	return fee, nil
}

// CloseRound records the close price, marks the round resolved and returns
// the fee to credit to the treasury. A tie, or a win against an empty
// opposing pool, pays every stake back whole; such a round keeps no fee and
// its reward_base drops to zero.
func CloseRound(r *ledger.Round, price int64) (uint64, error) {
	if !PhaseOf(r).CanTransitionTo(PhaseResolved) {
		return 0, fmt.Errorf("%w for epoch %d", ErrRoundNotEnded, r.Epoch)
	}

	resolved := *r
	resolved.ClosePrice = ledger.PriceOf(price)
	resolved.Resolved = true
	if KeepsNoFee(&resolved) {
		resolved.RewardBaseAmount = 0
	}
	pool, err := fpmath.Sub(resolved.TotalAmount, resolved.RewardBaseAmount)
	if err != nil {
		return 0, err
	}
	resolved.RewardAmount = pool

	*r = resolved
	return r.RewardBaseAmount, nil
}

// KeepsNoFee reports whether a resolved round returns every stake in full.
func KeepsNoFee(r *ledger.Round) bool {
	winner, ok := WinningSide(r)
	if !ok {
		return r.Resolved
	}
	return r.Pool(opposing(winner)) == 0
}

// Bettable reports whether r still accepts stakes at now.
func Bettable(r *ledger.Round, now int64) bool {
	return PhaseOf(r) == PhaseOpen && now >= r.StartTimestamp && now < r.LockTimestamp
}

// AddStake accumulates amount into side's pool and the total.
func AddStake(r *ledger.Round, side ledger.Side, amount uint64) error {
	total, err := fpmath.Add(r.TotalAmount, amount)
	if err != nil {
		return err
	}
	switch side {
	case ledger.SideBull:
		pool, err := fpmath.Add(r.BullAmount, amount)
		if err != nil {
			return err
		}
		r.BullAmount = pool
	case ledger.SideBear:
		pool, err := fpmath.Add(r.BearAmount, amount)
		if err != nil {
			return err
		}
		r.BearAmount = pool
	default:
		return fmt.Errorf("%w: unknown side %d", ErrRoundNotBettable, side)
	}
	r.TotalAmount = total
	return nil
}
