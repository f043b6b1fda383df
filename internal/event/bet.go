package event

import "PredictLedger/internal/ledger"

// BetPlaced is emitted for every accepted stake.
type BetPlaced struct {
	RoundEpoch  uint64      `json:"epoch"`
	Participant string      `json:"sender"`
	Position    ledger.Side `json:"position"`
	Amount      uint64      `json:"amount"`
}

func (e *BetPlaced) EventType() EventType {
	return EventTypeBetPlaced
}

func (e *BetPlaced) Epoch() uint64 {
	return e.RoundEpoch
}

// RewardClaimed is emitted once per epoch of a claim batch. The payout
// itself is a single summed transfer.
type RewardClaimed struct {
	RoundEpoch  uint64 `json:"epoch"`
	Participant string `json:"sender"`
	Reward      uint64 `json:"reward"`
}

func (e *RewardClaimed) EventType() EventType {
	return EventTypeRewardClaimed
}

func (e *RewardClaimed) Epoch() uint64 {
	return e.RoundEpoch
}

// StakeRefunded is emitted once per epoch of a tie refund batch.
type StakeRefunded struct {
	RoundEpoch  uint64 `json:"epoch"`
	Participant string `json:"sender"`
	Amount      uint64 `json:"amount"`
}

func (e *StakeRefunded) EventType() EventType {
	return EventTypeStakeRefunded
}

func (e *StakeRefunded) Epoch() uint64 {
	return e.RoundEpoch
}
