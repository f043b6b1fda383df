package testutil

import (
	"PredictLedger/internal/core"
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/oracle"
	"PredictLedger/internal/store"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Fixture identities and parameters
const (
	Admin    = "admin"
	Operator = "operator"
	Token    = "uusdc"
	FeedID   = "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"

	Interval    uint64 = 300
	Buffer      uint64 = 30
	MinBet      uint64 = 1000
	TreasuryFee uint64 = 300
)

// GenesisTime is the clock reading a Harness starts at.
var GenesisTime = time.Unix(1_700_000_000, 0)

// DefaultConfig returns the instantiate parameters every harness uses.
func DefaultConfig() ledger.Config {
	return ledger.Config{
		Token:           Token,
		AdminAddress:    Admin,
		OperatorAddress: Operator,
		IntervalSeconds: Interval,
		BufferSeconds:   Buffer,
		MinBetAmount:    MinBet,
		TreasuryFee:     TreasuryFee,
		OracleAddress:   "pyth",
		PriceFeedID:     FeedID,
	}
}

// Clock is a manually advanced clock safe for concurrent reads.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Harness is an instantiated engine over a memory store and a static oracle.
type Harness struct {
	T      *testing.T
	Ctx    context.Context
	Store  *store.Memory
	Oracle *oracle.Static
	Clock  *Clock
	Engine *core.Engine
}

// NewHarness instantiates the ledger with DefaultConfig at GenesisTime.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	h := NewBareHarness(t)
	if _, err := h.Engine.Instantiate(h.Ctx, h.Call(Admin), DefaultConfig()); err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	return h
}

// NewBareHarness is NewHarness without instantiation.
func NewBareHarness(t *testing.T) *Harness {
	t.Helper()
	st := store.NewMemory()
	o := oracle.NewStatic(oracle.DefaultStaticPrice)
	return &Harness{
		T:      t,
		Ctx:    context.Background(),
		Store:  st,
		Oracle: o,
		Clock:  NewClock(GenesisTime),
		Engine: core.NewEngine(st, o, zerolog.Nop(), nil),
	}
}

// Call builds a call from sender at the harness clock.
func (h *Harness) Call(sender string, funds ...ledger.Coin) core.Call {
	return core.Call{
		ID:     uuid.New(),
		Sender: sender,
		Funds:  funds,
		Now:    h.Clock.Now(),
	}
}

// Stake attaches amount of the fixture token.
func Stake(amount uint64) ledger.Coin {
	return ledger.Coin{Denom: Token, Amount: amount}
}

// Round reads a round straight from the store.
func (h *Harness) Round(epoch uint64) ledger.Round {
	h.T.Helper()
	var (
		r  ledger.Round
		ok bool
	)
	err := h.Store.View(h.Ctx, func(tx store.Tx) error {
		var err error
		r, ok, err = ledger.NewBook(tx).Round(epoch)
		return err
	})
	if err != nil || !ok {
		h.T.Fatalf("round %d: ok=%v err=%v", epoch, ok, err)
	}
	return r
}

// State reads the global state straight from the store.
func (h *Harness) State() ledger.GlobalState {
	h.T.Helper()
	var st ledger.GlobalState
	err := h.Store.View(h.Ctx, func(tx store.Tx) error {
		var err error
		st, err = ledger.NewBook(tx).State()
		return err
	})
	if err != nil {
		h.T.Fatalf("state: %v", err)
	}
	return st
}

// Outbox reads every queued outbound message.
func (h *Harness) Outbox() []ledger.OutboxEntry {
	h.T.Helper()
	var entries []ledger.OutboxEntry
	err := h.Store.View(h.Ctx, func(tx store.Tx) error {
		var err error
		entries, err = ledger.NewBook(tx).Outbox(0)
		return err
	})
	if err != nil {
		h.T.Fatalf("outbox: %v", err)
	}
	return entries
}

// Bet places a bet and fails the test on error.
func (h *Harness) Bet(sender string, epoch uint64, side ledger.Side, amount uint64) {
	h.T.Helper()
	if _, err := h.Engine.PlaceBet(h.Ctx, h.Call(sender, Stake(amount)), epoch, side, amount); err != nil {
		h.T.Fatalf("bet %s epoch %d: %v", sender, epoch, err)
	}
}

// Tick runs ExecuteRound as the operator and returns the action.
func (h *Harness) Tick() string {
	h.T.Helper()
	resp, err := h.Engine.ExecuteRound(h.Ctx, h.Call(Operator))
	if err != nil {
		h.T.Fatalf("tick at %d: %v", h.Clock.Now().Unix(), err)
	}
	return resp.Action
}

// Genesis starts round 1, advances to its lock and runs the genesis lock,
// leaving round 1 locked and round 2 open.
func (h *Harness) Genesis() {
	h.T.Helper()
	if _, err := h.Engine.GenesisStartRound(h.Ctx, h.Call(Operator)); err != nil {
		h.T.Fatalf("genesis start: %v", err)
	}
	h.Clock.Advance(time.Duration(Interval-Buffer) * time.Second)
	if _, err := h.Engine.GenesisLockRound(h.Ctx, h.Call(Operator)); err != nil {
		h.T.Fatalf("genesis lock: %v", err)
	}
}

// AdvanceTo moves the clock to the unix timestamp ts.
func (h *Harness) AdvanceTo(ts int64) {
	h.Clock.Set(time.Unix(ts, 0))
}
