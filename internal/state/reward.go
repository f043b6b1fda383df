package state

import (
	"PredictLedger/internal/ledger"
	fpmath "PredictLedger/internal/math"
)

// WinningSide returns the side that won a resolved round. ok is false for an
// unresolved round and for a tie.
func WinningSide(r *ledger.Round) (side ledger.Side, ok bool) {
	if !r.Resolved || !r.LockPrice.Set || !r.ClosePrice.Set {
		return 0, false
	}
	switch {
	case r.ClosePrice.Value > r.LockPrice.Value:
		return ledger.SideBull, true
	case r.ClosePrice.Value < r.LockPrice.Value:
		return ledger.SideBear, true
	default:
		return 0, false
	}
}

// CalculateReward returns the payout owed for bet in round r.
//
// Losers, ties and unresolved rounds pay 0. A winning side with an empty
// opposing pool gets its stake back. Otherwise winners split the pool net of
// the lock-time fee in proportion to their stake, truncating toward zero.
func CalculateReward(r *ledger.Round, bet *ledger.Bet) (uint64, error) {
	winner, ok := WinningSide(r)
	if !ok || bet.Position != winner {
		return 0, nil
	}

	ownPool := r.Pool(winner)
	if ownPool == 0 {
		return 0, nil
	}

	if r.Pool(opposing(winner)) == 0 {
		return bet.Amount, nil
	}

	rewardPool, err := fpmath.Sub(r.TotalAmount, r.RewardBaseAmount)
	if err != nil {
		return 0, err
	}
	return fpmath.ProRata(rewardPool, bet.Amount, ownPool)
}

// RefundAmount returns what a bettor recovers from a tied round: the full
// stake. A tie keeps no treasury fee, so the refunds sum to total_amount.
func RefundAmount(r *ledger.Round, bet *ledger.Bet) (uint64, error) {
	if !r.IsTie() {
		return 0, nil
	}
	if bet.Amount > r.Pool(bet.Position) {
		return 0, fpmath.ErrUnderflow
	}
	return bet.Amount, nil
}

func opposing(side ledger.Side) ledger.Side {
	if side == ledger.SideBear {
		return ledger.SideBull
	}
	return ledger.SideBear
}
