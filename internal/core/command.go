package core

import (
	"PredictLedger/internal/ledger"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// CommandKind names a mutating operation
type CommandKind string

const (
	KindInstantiate          CommandKind = "instantiate"
	KindGenesisStartRound    CommandKind = "genesis_start_round"
	KindGenesisLockRound     CommandKind = "genesis_lock_round"
	KindExecuteRound         CommandKind = "execute_round"
	KindBetBull              CommandKind = "bet_bull"
	KindBetBear              CommandKind = "bet_bear"
	KindClaim                CommandKind = "claim"
	KindRefund               CommandKind = "refund"
	KindPause                CommandKind = "pause"
	KindUnpause              CommandKind = "unpause"
	KindClaimTreasury        CommandKind = "claim_treasury"
	KindSetBufferAndInterval CommandKind = "set_buffer_and_interval_seconds"
	KindSetMinBetAmount      CommandKind = "set_min_bet_amount"
	KindSetOperator          CommandKind = "set_operator"
	KindSetTreasuryFee       CommandKind = "set_treasury_fee"
	KindSetOracle            CommandKind = "set_oracle_info"
)

// Kinds lists every command kind, in the order the intake subscribes them.
var Kinds = []CommandKind{
	KindInstantiate,
	KindGenesisStartRound,
	KindGenesisLockRound,
	KindExecuteRound,
	KindBetBull,
	KindBetBear,
	KindClaim,
	KindRefund,
	KindPause,
	KindUnpause,
	KindClaimTreasury,
	KindSetBufferAndInterval,
	KindSetMinBetAmount,
	KindSetOperator,
	KindSetTreasuryFee,
	KindSetOracle,
}

// ParseKind validates a kind received from the wire.
func ParseKind(s string) (CommandKind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown command kind %q", s)
}

// Command is one authenticated request waiting for the executor. Only the
// payload fields of its Kind are read.
type Command struct {
	ID     uuid.UUID     `json:"command_id"`
	Kind   CommandKind   `json:"kind"`
	Sender string        `json:"sender"`
	Funds  []ledger.Coin `json:"funds,omitempty"`

	Config          *ledger.Config `json:"config,omitempty"`
	Epoch           uint64         `json:"epoch,omitempty"`
	Amount          uint64         `json:"amount,omitempty"`
	Epochs          []uint64       `json:"epochs,omitempty"`
	BufferSeconds   uint64         `json:"buffer_seconds,omitempty"`
	IntervalSeconds uint64         `json:"interval_seconds,omitempty"`
	Address         string         `json:"address,omitempty"`
	PriceFeedID     string         `json:"price_feed_id,omitempty"`
	FeeBps          uint64         `json:"treasury_fee,omitempty"`

	// Reply receives exactly one Result when set. It must be buffered or
	// actively read; the executor blocks on it.
	Reply chan<- Result `json:"-"`
}

// Digest is the SHA-256 of the command's canonical JSON form.
func (c *Command) Digest() []byte {
	raw, err := json.Marshal(c)
	if err != nil {
		// every field is plain data
		panic(fmt.Sprintf("marshal command %s: %v", c.ID, err))
	}
	sum := sha256.Sum256(raw)
	return sum[:]
}

// Result is the executor's answer to one command.
type Result struct {
	Sequence  int64
	Response  *Response
	Err       error
	Duplicate bool
}
