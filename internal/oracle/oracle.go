package oracle

import (
	"PredictLedger/internal/state"
	"context"
	"fmt"
	"time"
)

// PriceOracle supplies the price of a feed as of now. Implementations fail
// rather than return a reading older than maxStaleness.
type PriceOracle interface {
	PriceAt(ctx context.Context, feedID string, now time.Time, maxStaleness time.Duration) (int64, error)
}

var (
	ErrUnavailable = fmt.Errorf("%w: Current price is not available", state.ErrOracle)
	ErrStale       = fmt.Errorf("%w: Current price is too stale", state.ErrOracle)
)

// fresh reports whether a reading published at publishTime may be used at now.
func fresh(publishTime, now time.Time, maxStaleness time.Duration) bool {
	age := now.Sub(publishTime)
	if age < 0 {
		age = -age
	}
	return age <= maxStaleness
}
