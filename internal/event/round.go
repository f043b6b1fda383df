package event

import "PredictLedger/internal/ledger"

// RoundStarted is emitted when a round opens for bets.
type RoundStarted struct {
	RoundEpoch     uint64 `json:"epoch"`
	StartTimestamp int64  `json:"start_timestamp"`
	LockTimestamp  int64  `json:"lock_timestamp"`
	CloseTimestamp int64  `json:"close_timestamp"`
}

func (e *RoundStarted) EventType() EventType {
	return EventTypeRoundStarted
}

func (e *RoundStarted) Epoch() uint64 {
	return e.RoundEpoch
}

// RoundLocked is emitted when betting closes and the lock price is taken.
type RoundLocked struct {
	RoundEpoch    uint64       `json:"epoch"`
	LockTimestamp int64        `json:"lock_timestamp"` // invocation time, not the scheduled lock
	LockPrice     ledger.Price `json:"lock_price"`
	TreasuryFee   uint64       `json:"treasury_fee"` // skimmed into reward_base, credited at close
	TotalAmount   uint64       `json:"total_amount"`
}

func (e *RoundLocked) EventType() EventType {
	return EventTypeRoundLocked
}

func (e *RoundLocked) Epoch() uint64 {
	return e.RoundEpoch
}

// RoundEnded is emitted when the close price resolves the round.
type RoundEnded struct {
	RoundEpoch     uint64       `json:"epoch"`
	CloseTimestamp int64        `json:"close_timestamp"`
	ClosePrice     ledger.Price `json:"close_price"`
	RewardAmount   uint64       `json:"reward_amount"`
	TreasuryFee    uint64       `json:"treasury_fee"` // credited to the treasury
	Tie            bool         `json:"tie"`
}

func (e *RoundEnded) EventType() EventType {
	return EventTypeRoundEnded
}

func (e *RoundEnded) Epoch() uint64 {
	return e.RoundEpoch
}
