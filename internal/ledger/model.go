package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Side is the direction a participant predicts
type Side uint8

const (
	SideBull Side = iota // price goes up
	SideBear             // price goes down
)

func (s Side) String() string {
	switch s {
	case SideBull:
		return "bull"
	case SideBear:
		return "bear"
	default:
		return "unknown"
	}
}

func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	side, err := ParseSide(name)
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// ParseSide accepts "bull"/"up" and "bear"/"down".
func ParseSide(name string) (Side, error) {
	switch name {
	case "bull", "up":
		return SideBull, nil
	case "bear", "down":
		return SideBear, nil
	default:
		return 0, fmt.Errorf("unknown side %q", name)
	}
}

// Price is an oracle reading that may not have been taken yet.
// Unset serialises as JSON null, so zero is a legitimate price.
type Price struct {
	Value int64
	Set   bool
}

func PriceOf(v int64) Price {
	return Price{Value: v, Set: true}
}

func (p Price) String() string {
	if !p.Set {
		return "unset"
	}
	return strconv.FormatInt(p.Value, 10)
}

func (p Price) MarshalJSON() ([]byte, error) {
	if !p.Set {
		return []byte("null"), nil
	}
	return json.Marshal(p.Value)
}

func (p *Price) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = Price{}
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = PriceOf(v)
	return nil
}

// Config is the singleton parameter record.
type Config struct {
	Token           string `json:"token"`
	AdminAddress    string `json:"admin_address"`
	OperatorAddress string `json:"operator_address"`
	IntervalSeconds uint64 `json:"interval_seconds"`
	BufferSeconds   uint64 `json:"buffer_seconds"`
	MinBetAmount    uint64 `json:"min_bet_amount"`
	TreasuryFee     uint64 `json:"treasury_fee"` // basis points
	OracleAddress   string `json:"oracle_address"`
	PriceFeedID     string `json:"price_feed_id"`
}

// GlobalState holds the mutable singletons.
type GlobalState struct {
	CurrentEpoch uint64 `json:"current_epoch"` // 0 = genesis not started
	Paused       bool   `json:"paused"`
	Treasury     uint64 `json:"treasury"`
}

// Round is one betting window.
type Round struct {
	Epoch            uint64 `json:"epoch"`
	StartTimestamp   int64  `json:"start_timestamp"`
	LockTimestamp    int64  `json:"lock_timestamp"`
	CloseTimestamp   int64  `json:"close_timestamp"`
	LockPrice        Price  `json:"lock_price"`
	ClosePrice       Price  `json:"close_price"`
	TotalAmount      uint64 `json:"total_amount"`
	BullAmount       uint64 `json:"bull_amount"`
	BearAmount       uint64 `json:"bear_amount"`
	RewardBaseAmount uint64 `json:"reward_base_amount"` // fee skimmed at lock
	RewardAmount     uint64 `json:"reward_amount"`      // distributable pool, reporting only
	Resolved         bool   `json:"oracle_called"`
}

// Locked reports whether the lock price has been recorded.
func (r *Round) Locked() bool {
	return r.LockPrice.Set
}

// IsTie reports a resolved round with no winning side.
func (r *Round) IsTie() bool {
	return r.Resolved && r.LockPrice.Set && r.ClosePrice.Set && r.LockPrice.Value == r.ClosePrice.Value
}

// Pool returns the amount staked on side.
func (r *Round) Pool(side Side) uint64 {
	if side == SideBull {
		return r.BullAmount
	}
	return r.BearAmount
}

// Bet is one participant's stake in one round.
type Bet struct {
	Position Side   `json:"position"`
	Amount   uint64 `json:"amount"`
	Claimed  bool   `json:"claimed"`
}

// Coin is an amount of one denomination attached to a call.
type Coin struct {
	Denom  string `json:"denom"`
	Amount uint64 `json:"amount"`
}

// AmountOf returns the attached amount of denom, zero if absent.
func AmountOf(funds []Coin, denom string) uint64 {
	for _, c := range funds {
		if c.Denom == denom {
			return c.Amount
		}
	}
	return 0
}

// TransferReason tags why funds leave custody.
type TransferReason string

const (
	TransferClaim    TransferReason = "claim"
	TransferRefund   TransferReason = "refund"
	TransferTreasury TransferReason = "treasury"
)

// Transfer is an outbound payment instruction. It is emitted, not executed:
// the host delivers it and the ledger never observes the outcome.
type Transfer struct {
	ID        uuid.UUID      `json:"id"`
	Recipient string         `json:"recipient"`
	Denom     string         `json:"denom"`
	Amount    uint64         `json:"amount"`
	Reason    TransferReason `json:"reason"`
}
