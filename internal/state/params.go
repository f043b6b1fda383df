package state

import (
	"PredictLedger/internal/ledger"
	fpmath "PredictLedger/internal/math"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// OracleTimeLimit is the maximum age of a price accepted at lock or close.
const OracleTimeLimit = 60 * time.Second

// ValidateTiming checks the round cadence parameters.
func ValidateTiming(intervalSeconds, bufferSeconds uint64) error {
	if intervalSeconds == 0 || intervalSeconds > uint64(maxTimestamp) {
		return ErrInvalidInterval
	}
	if bufferSeconds >= intervalSeconds {
		return ErrInvalidBuffer
	}
	return nil
}

func ValidateMinBet(amount uint64) error {
	if amount == 0 {
		return ErrInvalidMinBet
	}
	return nil
}

func ValidateTreasuryFee(bps uint64) error {
	if bps > fpmath.MaxFeeBasisPoints {
		return ErrInvalidTreasuryFee
	}
	return nil
}

// ValidateAddress accepts any non-empty identity that cannot collide with the
// key separator used by the ledger store.
func ValidateAddress(addr string) error {
	if strings.TrimSpace(addr) == "" || strings.ContainsAny(addr, ": \t\n") {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return nil
}

// NormalizeFeedID validates a 32-byte hex feed identifier, with or without
// a 0x prefix, and returns its canonical 0x-prefixed lowercase form.
func NormalizeFeedID(feedID string) (string, error) {
	raw := strings.TrimSpace(feedID)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	b, err := hexutil.Decode(strings.ToLower(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFeedID, err)
	}
	if len(b) != common.HashLength {
		return "", fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidFeedID, common.HashLength, len(b))
	}
	return common.BytesToHash(b).Hex(), nil
}

// ValidateConfig checks every configuration invariant and returns cfg with
// the feed id normalised.
func ValidateConfig(cfg ledger.Config) (ledger.Config, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return cfg, ErrInvalidToken
	}
	for _, addr := range []string{cfg.AdminAddress, cfg.OperatorAddress, cfg.OracleAddress} {
		if err := ValidateAddress(addr); err != nil {
			return cfg, err
		}
	}
	if err := ValidateTiming(cfg.IntervalSeconds, cfg.BufferSeconds); err != nil {
		return cfg, err
	}
	if err := ValidateMinBet(cfg.MinBetAmount); err != nil {
		return cfg, err
	}
	if err := ValidateTreasuryFee(cfg.TreasuryFee); err != nil {
		return cfg, err
	}
	feedID, err := NormalizeFeedID(cfg.PriceFeedID)
	if err != nil {
		return cfg, err
	}
	cfg.PriceFeedID = feedID
	return cfg, nil
}
