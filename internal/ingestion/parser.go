package ingestion

import (
	"PredictLedger/internal/core"
	"PredictLedger/internal/ledger"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// CommandSubjectPrefix precedes the command kind in intake subjects.
const CommandSubjectPrefix = "predict.commands."

// CommandSubject returns the intake subject for kind.
func CommandSubject(kind core.CommandKind) string {
	return CommandSubjectPrefix + string(kind)
}

// KindFromSubject extracts the command kind from an intake subject.
func KindFromSubject(subject string) (core.CommandKind, error) {
	if !strings.HasPrefix(subject, CommandSubjectPrefix) {
		return "", fmt.Errorf("subject %q is not a command subject", subject)
	}
	return core.ParseKind(strings.TrimPrefix(subject, CommandSubjectPrefix))
}

// ParseCommand converts a JSON payload received on subject into a command.
// The ingestion shell validates and parses before anything reaches the
// executor; business rules are left to the engine.
func ParseCommand(subject string, data []byte) (core.Command, error) {
	kind, err := KindFromSubject(subject)
	if err != nil {
		return core.Command{}, err
	}
	return ParsePayload(kind, data)
}

// ParsePayload parses the JSON body of a kind command.
func ParsePayload(kind core.CommandKind, data []byte) (core.Command, error) {
	var env envelopeJSON
	if err := decodeStrict(data, &env); err != nil {
		return core.Command{}, fmt.Errorf("parse %s: %w", kind, err)
	}

	cmd, err := env.command(kind)
	if err != nil {
		return core.Command{}, err
	}

	switch kind {
	case core.KindInstantiate:
		err = parseInstantiate(&cmd, env.Payload)
	case core.KindBetBull, core.KindBetBear:
		err = parseBet(&cmd, env.Payload)
	case core.KindClaim, core.KindRefund:
		err = parseEpochs(&cmd, env.Payload)
	case core.KindSetBufferAndInterval:
		err = parseTiming(&cmd, env.Payload)
	case core.KindSetMinBetAmount:
		err = parseMinBet(&cmd, env.Payload)
	case core.KindSetOperator:
		err = parseOperator(&cmd, env.Payload)
	case core.KindSetTreasuryFee:
		err = parseTreasuryFee(&cmd, env.Payload)
	case core.KindSetOracle:
		err = parseOracle(&cmd, env.Payload)
	case core.KindGenesisStartRound, core.KindGenesisLockRound, core.KindExecuteRound,
		core.KindPause, core.KindUnpause, core.KindClaimTreasury:
		// no payload
	default:
		return core.Command{}, fmt.Errorf("unknown command kind %q", kind)
	}
	if err != nil {
		return core.Command{}, fmt.Errorf("parse %s: %w", kind, err)
	}
	return cmd, nil
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts may be
// JSON numbers or decimal strings.

type envelopeJSON struct {
	CommandID string          `json:"command_id"`
	Sender    string          `json:"sender"`
	Funds     []coinJSON      `json:"funds"`
	Payload   json.RawMessage `json:"payload"`
}

type coinJSON struct {
	Denom  string     `json:"denom"`
	Amount wireAmount `json:"amount"`
}

func (e *envelopeJSON) command(kind core.CommandKind) (core.Command, error) {
	id, err := uuid.Parse(e.CommandID)
	if err != nil {
		return core.Command{}, fmt.Errorf("parse command_id: %w", err)
	}
	if e.Sender == "" {
		return core.Command{}, fmt.Errorf("parse %s: sender is required", kind)
	}

	cmd := core.Command{ID: id, Kind: kind, Sender: e.Sender}
	for _, c := range e.Funds {
		if c.Denom == "" {
			return core.Command{}, fmt.Errorf("parse %s: coin without denom", kind)
		}
		cmd.Funds = append(cmd.Funds, ledger.Coin{Denom: c.Denom, Amount: uint64(c.Amount)})
	}
	return cmd, nil
}

type instantiateJSON struct {
	Token           string     `json:"token"`
	AdminAddress    string     `json:"admin_address"`
	OperatorAddress string     `json:"operator_address"`
	IntervalSeconds uint64     `json:"interval_seconds"`
	BufferSeconds   uint64     `json:"buffer_seconds"`
	MinBetAmount    wireAmount `json:"min_bet_amount"`
	TreasuryFee     uint64     `json:"treasury_fee"`
	OracleAddress   string     `json:"oracle_address"`
	PriceFeedID     string     `json:"price_feed_id"`
}

func parseInstantiate(cmd *core.Command, payload json.RawMessage) error {
	var j instantiateJSON
	if err := decodePayload(payload, &j); err != nil {
		return err
	}
	cmd.Config = &ledger.Config{
		Token:           j.Token,
		AdminAddress:    j.AdminAddress,
		OperatorAddress: j.OperatorAddress,
		IntervalSeconds: j.IntervalSeconds,
		BufferSeconds:   j.BufferSeconds,
		MinBetAmount:    uint64(j.MinBetAmount),
		TreasuryFee:     j.TreasuryFee,
		OracleAddress:   j.OracleAddress,
		PriceFeedID:     j.PriceFeedID,
	}
	return nil
}

type betJSON struct {
	Epoch  uint64     `json:"epoch"`
	Amount wireAmount `json:"amount"`
}

func parseBet(cmd *core.Command, payload json.RawMessage) error {
	var j betJSON
	if err := decodePayload(payload, &j); err != nil {
		return err
	}
	if j.Epoch == 0 {
		return fmt.Errorf("epoch is required")
	}
	cmd.Epoch = j.Epoch
	cmd.Amount = uint64(j.Amount)
	return nil
}

type epochsJSON struct {
	Epochs []uint64 `json:"epochs"`
}

// parseEpochs leaves an empty list for the engine to reject, so the
// rejection gets a receipt like any other business error.
func parseEpochs(cmd *core.Command, payload json.RawMessage) error {
	var j epochsJSON
	if err := decodePayload(payload, &j); err != nil {
		return err
	}
	cmd.Epochs = j.Epochs
	return nil
}

type timingJSON struct {
	BufferSeconds   uint64 `json:"buffer_seconds"`
	IntervalSeconds uint64 `json:"interval_seconds"`
}

func parseTiming(cmd *core.Command, payload json.RawMessage) error {
	var j timingJSON
	if err := decodePayload(payload, &j); err != nil {
		return err
	}
	cmd.BufferSeconds = j.BufferSeconds
	cmd.IntervalSeconds = j.IntervalSeconds
	return nil
}

type minBetJSON struct {
	MinBetAmount wireAmount `json:"min_bet_amount"`
}

func parseMinBet(cmd *core.Command, payload json.RawMessage) error {
	var j minBetJSON
	if err := decodePayload(payload, &j); err != nil {
		return err
	}
	cmd.Amount = uint64(j.MinBetAmount)
	return nil
}

type operatorJSON struct {
	OperatorAddress string `json:"operator_address"`
}

func parseOperator(cmd *core.Command, payload json.RawMessage) error {
	var j operatorJSON
	if err := decodePayload(payload, &j); err != nil {
		return err
	}
	cmd.Address = j.OperatorAddress
	return nil
}

type treasuryFeeJSON struct {
	TreasuryFee uint64 `json:"treasury_fee"`
}

func parseTreasuryFee(cmd *core.Command, payload json.RawMessage) error {
	var j treasuryFeeJSON
	if err := decodePayload(payload, &j); err != nil {
		return err
	}
	cmd.FeeBps = j.TreasuryFee
	return nil
}

type oracleJSON struct {
	OracleAddress string `json:"oracle_address"`
	PriceFeedID   string `json:"price_feed_id"`
}

func parseOracle(cmd *core.Command, payload json.RawMessage) error {
	var j oracleJSON
	if err := decodePayload(payload, &j); err != nil {
		return err
	}
	cmd.Address = j.OracleAddress
	cmd.PriceFeedID = j.PriceFeedID
	return nil
}

// wireAmount accepts 5000 and "5000".
type wireAmount uint64

func (a *wireAmount) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %s", data)
	}
	*a = wireAmount(v)
	return nil
}

func decodePayload(payload json.RawMessage, dst interface{}) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	return decodeStrict(payload, dst)
}

func decodeStrict(data []byte, dst interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
