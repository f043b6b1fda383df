package oracle

import (
	"context"
	"sync"
	"time"
)

// DefaultStaticPrice is the dev-mode price.
const DefaultStaticPrice int64 = 90000

// Static returns a fixed price that is always fresh. The price and an
// injected failure can be changed at runtime.
type Static struct {
	mu    sync.RWMutex
	price int64
	err   error
}

func NewStatic(price int64) *Static {
	return &Static{price: price}
}

func (s *Static) PriceAt(ctx context.Context, feedID string, now time.Time, maxStaleness time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.price, nil
}

func (s *Static) Set(price int64) {
	s.mu.Lock()
	s.price = price
	s.mu.Unlock()
}

// Fail makes every read return err until Fail(nil).
func (s *Static) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
