package query

import (
	"PredictLedger/internal/ledger"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RoundResponse represents a round for API queries.
type RoundResponse struct {
	Epoch            uint64       `json:"epoch"`
	StartTimestamp   int64        `json:"start_timestamp"`
	LockTimestamp    int64        `json:"lock_timestamp"`
	CloseTimestamp   int64        `json:"close_timestamp"`
	LockPrice        ledger.Price `json:"lock_price"`  // null until locked
	ClosePrice       ledger.Price `json:"close_price"` // null until resolved
	TotalAmount      uint64       `json:"total_amount"`
	BullAmount       uint64       `json:"bull_amount"`
	BearAmount       uint64       `json:"bear_amount"`
	RewardBaseAmount uint64       `json:"reward_base_amount"`
	RewardAmount     uint64       `json:"reward_amount"`
	OracleCalled     bool         `json:"oracle_called"`
	Phase            string       `json:"phase"` // derived
}

// CurrentEpochResponse is the epoch counter; 0 before genesis.
type CurrentEpochResponse struct {
	CurrentEpoch uint64 `json:"current_epoch"`
}

// UserRoundsResponse is one page of a participant's bet history.
type UserRoundsResponse struct {
	Epochs     []uint64 `json:"epochs"`
	NextCursor *uint64  `json:"next_cursor"` // pass back as cursor; null on the last page
}

// ClaimableResponse mirrors the claim rules without marking anything.
type ClaimableResponse struct {
	IsClaimable    bool         `json:"is_claimable"`
	Position       *ledger.Side `json:"position"`
	Amount         *uint64      `json:"amount"`
	ExpectedReward *uint64      `json:"expected_reward"`
}

// RefundableResponse reports whether Refund would pay out a tied round.
type RefundableResponse struct {
	IsRefundable bool    `json:"is_refundable"`
	Amount       *uint64 `json:"amount"` // what Refund pays, after the lock fee
}

// ConfigResponse is the configuration snapshot plus the pause flag.
type ConfigResponse struct {
	Token           string `json:"token"`
	AdminAddress    string `json:"admin_address"`
	OperatorAddress string `json:"operator_address"`
	IntervalSeconds uint64 `json:"interval_seconds"`
	BufferSeconds   uint64 `json:"buffer_seconds"`
	MinBetAmount    uint64 `json:"min_bet_amount"`
	TreasuryFee     uint64 `json:"treasury_fee"`
	OracleAddress   string `json:"oracle_address"`
	PriceFeedID     string `json:"price_feed_id"`
	Paused          bool   `json:"paused"`
	Treasury        uint64 `json:"treasury"`
}

// ReceiptEntry represents a persisted receipt for API queries.
type ReceiptEntry struct {
	Sequence    int64           `json:"sequence"`
	CommandID   uuid.UUID       `json:"command_id"`
	CommandKind string          `json:"command_kind"`
	Sender      string          `json:"sender"`
	InvokedAt   time.Time       `json:"invoked_at"`
	Outcome     string          `json:"outcome"`
	Error       string          `json:"error,omitempty"`
	Action      string          `json:"action,omitempty"`
	Events      json.RawMessage `json:"events"`
	Transfers   json.RawMessage `json:"transfers"`
	ReceiptHash []byte          `json:"receipt_hash"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	LastSequence    int64   `json:"last_sequence"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	SequenceGaps    []int64 `json:"sequence_gaps,omitempty"`
}
