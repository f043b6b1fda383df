package core_test

import (
	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/oracle"
	"PredictLedger/internal/state"
	"PredictLedger/internal/testutil"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/uuid"
)

var t0 = testutil.GenesisTime.Unix()

// Round timeline of a harness after Genesis():
//
//	round 1: start t0,     lock t0+270 (locked), close t0+300
//	round 2: start t0+270, lock t0+540,          close t0+570
//	round 3: start t0+540, lock t0+810,          close t0+840
const (
	r1Close = 300
	r2Lock  = 540
	r2Close = 570
	r3Lock  = 810
	r3Close = 840
)

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("got error %v, want %v", err, want)
	}
}

// settleRoundTwo runs round 2 to a bull win: lock at 90000, close at 91000.
func settleRoundTwo(h *testutil.Harness) {
	h.T.Helper()
	h.AdvanceTo(t0 + r1Close)
	h.Tick()
	h.AdvanceTo(t0 + r2Lock)
	h.Tick()
	h.Oracle.Set(91000)
	h.AdvanceTo(t0 + r2Close)
	h.Tick()
}

// ============================================================================
// Test: Instantiation
// ============================================================================

func TestInstantiate_Twice_Fails(t *testing.T) {
	h := testutil.NewHarness(t)

	_, err := h.Engine.Instantiate(h.Ctx, h.Call(testutil.Admin), testutil.DefaultConfig())
	expectErr(t, err, state.ErrAlreadyInstantiated)

	st := h.State()
	if st.CurrentEpoch != 0 || st.Paused || st.Treasury != 0 {
		t.Errorf("unexpected initial state %+v", st)
	}
}

func TestInstantiate_RejectsInvalidConfig(t *testing.T) {
	h := testutil.NewBareHarness(t)

	cfg := testutil.DefaultConfig()
	cfg.BufferSeconds = cfg.IntervalSeconds
	_, err := h.Engine.Instantiate(h.Ctx, h.Call(testutil.Admin), cfg)
	expectErr(t, err, state.ErrInvalidBuffer)

	// nothing was written, so the operator still sees an empty ledger
	_, err = h.Engine.GenesisStartRound(h.Ctx, h.Call(testutil.Operator))
	expectErr(t, err, state.ErrNotInstantiated)
}

// ============================================================================
// Test: Genesis Ordering
// ============================================================================

func TestGenesis_Ordering(t *testing.T) {
	h := testutil.NewHarness(t)

	_, err := h.Engine.GenesisLockRound(h.Ctx, h.Call(testutil.Operator))
	expectErr(t, err, state.ErrGenesisNotStarted)

	_, err = h.Engine.ExecuteRound(h.Ctx, h.Call(testutil.Operator))
	expectErr(t, err, state.ErrGenesisNotStarted)

	resp, err := h.Engine.GenesisStartRound(h.Ctx, h.Call(testutil.Operator))
	if err != nil {
		t.Fatalf("genesis start: %v", err)
	}
	if resp.Action != core.ActionRoundStarted {
		t.Errorf("got action %q, want %q", resp.Action, core.ActionRoundStarted)
	}

	_, err = h.Engine.GenesisStartRound(h.Ctx, h.Call(testutil.Operator))
	expectErr(t, err, state.ErrGenesisAlreadyStarted)

	// lock time not reached yet
	_, err = h.Engine.GenesisLockRound(h.Ctx, h.Call(testutil.Operator))
	expectErr(t, err, state.ErrRoundNotLockable)

	h.AdvanceTo(t0 + 270)
	if _, err := h.Engine.GenesisLockRound(h.Ctx, h.Call(testutil.Operator)); err != nil {
		t.Fatalf("genesis lock: %v", err)
	}

	_, err = h.Engine.GenesisLockRound(h.Ctx, h.Call(testutil.Operator))
	expectErr(t, err, state.ErrGenesisAlreadyLocked)

	if got := h.State().CurrentEpoch; got != 2 {
		t.Errorf("got epoch %d, want 2", got)
	}
	r1 := h.Round(1)
	if !r1.Locked() || r1.LockPrice.Value != oracle.DefaultStaticPrice {
		t.Errorf("round 1 lock price %v", r1.LockPrice)
	}
	r2 := h.Round(2)
	if r2.StartTimestamp != t0+270 || r2.LockTimestamp != t0+r2Lock || r2.CloseTimestamp != t0+r2Close {
		t.Errorf("round 2 timestamps %d/%d/%d", r2.StartTimestamp, r2.LockTimestamp, r2.CloseTimestamp)
	}
}

func TestGenesis_RequiresOperator(t *testing.T) {
	h := testutil.NewHarness(t)

	_, err := h.Engine.GenesisStartRound(h.Ctx, h.Call("mallory"))
	expectErr(t, err, state.ErrUnauthorized)

	_, err = h.Engine.GenesisStartRound(h.Ctx, h.Call(testutil.Admin))
	expectErr(t, err, state.ErrUnauthorized)
}

// ============================================================================
// Test: Tick
// ============================================================================

func TestExecuteRound_EarlyTickIsNoOp(t *testing.T) {
	h := testutil.NewHarness(t)
	if _, err := h.Engine.GenesisStartRound(h.Ctx, h.Call(testutil.Operator)); err != nil {
		t.Fatalf("genesis start: %v", err)
	}

	h.AdvanceTo(t0 + 10)
	resp, err := h.Engine.ExecuteRound(h.Ctx, h.Call(testutil.Operator))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if resp.Action != core.ActionNoActionNeeded {
		t.Errorf("got action %q, want %q", resp.Action, core.ActionNoActionNeeded)
	}
	if len(resp.Events) != 0 {
		t.Errorf("got %d events, want 0", len(resp.Events))
	}
	if r := h.Round(1); r.Locked() {
		t.Error("round 1 locked by an early tick")
	}
}

func TestExecuteRound_Lifecycle(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()

	h.AdvanceTo(t0 + r1Close)
	if got := h.Tick(); got != core.ActionRoundEnded {
		t.Errorf("got action %q, want %q", got, core.ActionRoundEnded)
	}
	if !h.Round(1).Resolved {
		t.Error("round 1 not resolved")
	}

	// between close of 1 and lock of 2 there is nothing to do
	h.AdvanceTo(t0 + r1Close + 60)
	if got := h.Tick(); got != core.ActionNoActionNeeded {
		t.Errorf("got action %q, want %q", got, core.ActionNoActionNeeded)
	}

	h.AdvanceTo(t0 + r2Lock)
	if got := h.Tick(); got != "round_locked,round_started" {
		t.Errorf("got action %q, want round_locked,round_started", got)
	}
	if got := h.State().CurrentEpoch; got != 3 {
		t.Errorf("got epoch %d, want 3", got)
	}

	h.AdvanceTo(t0 + r2Close)
	if got := h.Tick(); got != core.ActionRoundEnded {
		t.Errorf("got action %q, want %q", got, core.ActionRoundEnded)
	}
}

func TestExecuteRound_VeryLateTickAdvancesOneEpoch(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()
	h.Bet("alice", 2, ledger.SideBull, 2000)

	// skip every tick until well past round 2's close
	h.AdvanceTo(t0 + 5000)
	got := h.Tick()
	if got != "round_ended,round_locked,round_started" {
		t.Errorf("got action %q", got)
	}

	if e := h.State().CurrentEpoch; e != 3 {
		t.Fatalf("got epoch %d, want 3 (one advance per tick)", e)
	}
	r2 := h.Round(2)
	if !r2.Resolved || !r2.IsTie() {
		t.Errorf("round 2 should be a resolved tie, got %+v", r2)
	}
	r3 := h.Round(3)
	if r3.StartTimestamp != t0+5000 {
		t.Errorf("round 3 starts at %d, want %d", r3.StartTimestamp, t0+5000)
	}
}

func TestExecuteRound_OracleFailureLeavesNoPartialState(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()
	h.Bet("alice", 2, ledger.SideBull, 5000)
	h.AdvanceTo(t0 + r1Close)
	h.Tick()

	h.Oracle.Fail(oracle.ErrStale)
	h.AdvanceTo(t0 + r2Lock)
	_, err := h.Engine.ExecuteRound(h.Ctx, h.Call(testutil.Operator))
	expectErr(t, err, state.ErrOracle)
	if state.ClassOf(err) != state.ClassOracle {
		t.Errorf("got class %s, want oracle", state.ClassOf(err))
	}

	if e := h.State().CurrentEpoch; e != 2 {
		t.Errorf("got epoch %d, want 2", e)
	}
	if h.State().Treasury != 0 {
		t.Error("treasury credited by a failed tick")
	}
	if r := h.Round(2); r.Locked() {
		t.Error("round 2 locked by a failed tick")
	}

	// the caller retries once the feed recovers
	h.Oracle.Fail(nil)
	if got := h.Tick(); got != "round_locked,round_started" {
		t.Errorf("got action %q after recovery", got)
	}
}

func TestExecuteRound_SingleOracleRead(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()
	h.Oracle.Set(95000)

	h.AdvanceTo(t0 + 5000)
	resp, err := h.Engine.ExecuteRound(h.Ctx, h.Call(testutil.Operator))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}

	var prices []int64
	for _, evt := range resp.Events {
		switch ev := evt.(type) {
		case *event.RoundLocked:
			prices = append(prices, ev.LockPrice.Value)
		case *event.RoundEnded:
			prices = append(prices, ev.ClosePrice.Value)
		}
	}
	if len(prices) != 3 {
		t.Fatalf("got %d price events, want 3", len(prices))
	}
	for _, p := range prices {
		if p != 95000 {
			t.Errorf("got price %d, want 95000", p)
		}
	}
}

// ============================================================================
// Test: Betting
// ============================================================================

func TestPlaceBet_ExactlyOnce(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()

	resp, err := h.Engine.BetBull(h.Ctx, h.Call("alice", testutil.Stake(2000)), 2, 2000)
	if err != nil {
		t.Fatalf("bet: %v", err)
	}
	if len(resp.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(resp.Events))
	}
	placed, ok := resp.Events[0].(*event.BetPlaced)
	if !ok || placed.Participant != "alice" || placed.Amount != 2000 || placed.Position != ledger.SideBull {
		t.Errorf("unexpected event %+v", resp.Events[0])
	}

	// a second bet on either side fails
	_, err = h.Engine.BetBull(h.Ctx, h.Call("alice", testutil.Stake(2000)), 2, 2000)
	expectErr(t, err, state.ErrAlreadyBet)
	_, err = h.Engine.BetBear(h.Ctx, h.Call("alice", testutil.Stake(3000)), 2, 3000)
	expectErr(t, err, state.ErrAlreadyBet)

	r := h.Round(2)
	if r.BullAmount != 2000 || r.BearAmount != 0 || r.TotalAmount != 2000 {
		t.Errorf("got pools bull=%d bear=%d total=%d", r.BullAmount, r.BearAmount, r.TotalAmount)
	}
}

func TestPlaceBet_Rejections(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()

	tests := []struct {
		name   string
		sender string
		funds  []ledger.Coin
		epoch  uint64
		amount uint64
		want   error
	}{
		{"below minimum", "alice", []ledger.Coin{testutil.Stake(999)}, 2, 999, state.ErrBetTooSmall},
		{"locked round", "alice", []ledger.Coin{testutil.Stake(2000)}, 1, 2000, state.ErrRoundNotBettable},
		{"future round", "alice", []ledger.Coin{testutil.Stake(2000)}, 3, 2000, state.ErrRoundNotBettable},
		{"funds short", "alice", []ledger.Coin{testutil.Stake(1500)}, 2, 2000, state.ErrInvalidBetFunds},
		{"wrong denom", "alice", []ledger.Coin{{Denom: "uatom", Amount: 2000}}, 2, 2000, state.ErrInvalidBetFunds},
		{"no funds", "alice", nil, 2, 2000, state.ErrInvalidBetFunds},
		{"bad identity", "ali:ce", []ledger.Coin{testutil.Stake(2000)}, 2, 2000, state.ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Engine.PlaceBet(h.Ctx, h.Call(tt.sender, tt.funds...), tt.epoch, ledger.SideBull, tt.amount)
			expectErr(t, err, tt.want)
		})
	}

	if r := h.Round(2); r.TotalAmount != 0 {
		t.Errorf("rejected bets left total %d", r.TotalAmount)
	}
}

func TestPlaceBet_AfterLockTimestamp(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()
	h.AdvanceTo(t0 + r1Close)
	h.Tick()

	// no tick has locked round 2 yet; the timestamp alone closes betting
	h.AdvanceTo(t0 + r2Lock)
	_, err := h.Engine.BetBear(h.Ctx, h.Call("bob", testutil.Stake(1_000_000)), 2, 1_000_000)
	expectErr(t, err, state.ErrRoundNotBettable)

	h.AdvanceTo(t0 + r2Lock - 1)
	if _, err := h.Engine.BetBear(h.Ctx, h.Call("bob", testutil.Stake(1000)), 2, 1000); err != nil {
		t.Errorf("bet one second before lock: %v", err)
	}
}

func TestPlaceBet_PoolInvariant(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()

	rng := rand.New(rand.NewSource(7))
	var bull, bear uint64
	for i := 0; i < 200; i++ {
		amount := testutil.MinBet + uint64(rng.Intn(50_000))
		side := ledger.SideBull
		if rng.Intn(2) == 1 {
			side = ledger.SideBear
		}
		sender := fmt.Sprintf("p%03d", i)
		h.Bet(sender, 2, side, amount)
		if side == ledger.SideBull {
			bull += amount
		} else {
			bear += amount
		}
	}

	r := h.Round(2)
	if r.BullAmount != bull || r.BearAmount != bear {
		t.Errorf("got bull=%d bear=%d, want %d/%d", r.BullAmount, r.BearAmount, bull, bear)
	}
	if r.TotalAmount != r.BullAmount+r.BearAmount {
		t.Errorf("total %d != bull %d + bear %d", r.TotalAmount, r.BullAmount, r.BearAmount)
	}
}

// ============================================================================
// Test: Claim
// ============================================================================

func TestClaim_WinnerPaidExactlyOnce(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()
	h.Bet("alice", 2, ledger.SideBull, 3000)
	h.Bet("bob", 2, ledger.SideBull, 3000)
	h.Bet("carol", 2, ledger.SideBear, 4000)
	settleRoundTwo(h)

	call := h.Call("alice")
	resp, err := h.Engine.Claim(h.Ctx, call, []uint64{2})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	// pool 10000, fee 300 bps = 300, alice holds half the bull side
	if len(resp.Transfers) != 1 {
		t.Fatalf("got %d transfers, want 1", len(resp.Transfers))
	}
	tr := resp.Transfers[0]
	if tr.Amount != 4850 || tr.Recipient != "alice" || tr.Denom != testutil.Token || tr.Reason != ledger.TransferClaim {
		t.Errorf("unexpected transfer %+v", tr)
	}
	if want := uuid.NewSHA1(call.ID, []byte("transfer:0")); tr.ID != want {
		t.Errorf("got transfer id %s, want %s", tr.ID, want)
	}

	_, err = h.Engine.Claim(h.Ctx, h.Call("alice"), []uint64{2})
	expectErr(t, err, state.ErrAlreadyClaimed)
	if err.Error() != "Already claimed rewards for epoch 2" {
		t.Errorf("got message %q", err.Error())
	}

	_, err = h.Engine.Claim(h.Ctx, h.Call("carol"), []uint64{2})
	expectErr(t, err, state.ErrNotWinner)

	_, err = h.Engine.Claim(h.Ctx, h.Call("dave"), []uint64{2})
	expectErr(t, err, state.ErrNoBetRecord)

	_, err = h.Engine.Claim(h.Ctx, h.Call("alice"), nil)
	expectErr(t, err, state.ErrEmptyEpochs)
}

func TestClaim_WholeBatchAborts(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()
	h.Bet("alice", 2, ledger.SideBull, 3000)
	h.Bet("carol", 2, ledger.SideBear, 4000)
	settleRoundTwo(h)
	h.Bet("alice", 3, ledger.SideBull, 2000)

	// round 3 has not ended
	_, err := h.Engine.Claim(h.Ctx, h.Call("alice"), []uint64{2, 3})
	expectErr(t, err, state.ErrRoundNotEnded)

	// duplicate epoch in one batch
	_, err = h.Engine.Claim(h.Ctx, h.Call("alice"), []uint64{2, 2})
	expectErr(t, err, state.ErrAlreadyClaimed)

	// neither attempt marked epoch 2
	resp, err := h.Engine.Claim(h.Ctx, h.Call("alice"), []uint64{2})
	if err != nil {
		t.Fatalf("claim after aborted batches: %v", err)
	}
	// pool 7000 - 210 fee, alice is the whole bull side
	if resp.Transfers[0].Amount != 6790 {
		t.Errorf("got %d, want 6790", resp.Transfers[0].Amount)
	}
}

func TestClaim_BatchSumsIntoOneTransfer(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()
	h.Bet("alice", 2, ledger.SideBull, 1000)
	h.Bet("bob", 2, ledger.SideBear, 1000)
	settleRoundTwo(h)

	h.Bet("alice", 3, ledger.SideBull, 1000)
	h.Bet("bob", 3, ledger.SideBear, 1000)
	h.AdvanceTo(t0 + r3Lock)
	h.Tick()
	h.Oracle.Set(92000)
	h.AdvanceTo(t0 + r3Close)
	h.Tick()

	resp, err := h.Engine.Claim(h.Ctx, h.Call("alice"), []uint64{2, 3})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(resp.Events) != 2 {
		t.Errorf("got %d events, want 2", len(resp.Events))
	}
	if len(resp.Transfers) != 1 || resp.Transfers[0].Amount != 2*1940 {
		t.Errorf("unexpected transfers %+v", resp.Transfers)
	}
}

// ============================================================================
// Test: Refund
// ============================================================================

func TestRefund_TieRound(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()
	h.Bet("alice", 2, ledger.SideBull, 2000)
	h.Bet("bob", 2, ledger.SideBear, 8000)

	// price never moves: tie
	h.AdvanceTo(t0 + r1Close)
	h.Tick()
	h.AdvanceTo(t0 + r2Lock)
	h.Tick()
	h.AdvanceTo(t0 + r2Close)
	h.Tick()

	_, err := h.Engine.Claim(h.Ctx, h.Call("alice"), []uint64{2})
	expectErr(t, err, state.ErrNotWinner)

	var paid uint64
	for _, who := range []string{"alice", "bob"} {
		resp, err := h.Engine.Refund(h.Ctx, h.Call(who), []uint64{2})
		if err != nil {
			t.Fatalf("refund %s: %v", who, err)
		}
		if resp.Transfers[0].Reason != ledger.TransferRefund {
			t.Errorf("got reason %s", resp.Transfers[0].Reason)
		}
		paid += resp.Transfers[0].Amount
	}
	// ties refund principal and the lock-time fee never reaches the treasury
	if paid != 10000 {
		t.Errorf("refunded %d, want 10000", paid)
	}
	if tr := h.State().Treasury; tr != 0 {
		t.Errorf("treasury kept %d from a tied round", tr)
	}
	if r := h.Round(2); r.RewardBaseAmount != 0 || r.RewardAmount != 10000 {
		t.Errorf("tied round reward_base %d reward_amount %d", r.RewardBaseAmount, r.RewardAmount)
	}

	_, err = h.Engine.Refund(h.Ctx, h.Call("alice"), []uint64{2})
	expectErr(t, err, state.ErrAlreadyClaimed)
}

func TestRefund_RejectsDecidedRound(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()
	h.Bet("alice", 2, ledger.SideBull, 2000)
	settleRoundTwo(h)

	_, err := h.Engine.Refund(h.Ctx, h.Call("alice"), []uint64{2})
	expectErr(t, err, state.ErrRoundNotTie)
}

// ============================================================================
// Test: Pause
// ============================================================================

func TestPause_GatesParticipantsAndOperator(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()
	h.Bet("alice", 2, ledger.SideBull, 3000)
	h.Bet("carol", 2, ledger.SideBear, 3000)
	settleRoundTwo(h)

	_, err := h.Engine.Pause(h.Ctx, h.Call("mallory"))
	expectErr(t, err, state.ErrUnauthorized)

	if _, err := h.Engine.Pause(h.Ctx, h.Call(testutil.Admin)); err != nil {
		t.Fatalf("pause: %v", err)
	}
	_, err = h.Engine.Pause(h.Ctx, h.Call(testutil.Admin))
	expectErr(t, err, state.ErrAlreadyPaused)

	_, err = h.Engine.BetBull(h.Ctx, h.Call("bob", testutil.Stake(2000)), 3, 2000)
	expectErr(t, err, state.ErrPaused)
	_, err = h.Engine.ExecuteRound(h.Ctx, h.Call(testutil.Operator))
	expectErr(t, err, state.ErrPaused)
	_, err = h.Engine.Claim(h.Ctx, h.Call("alice"), []uint64{2})
	expectErr(t, err, state.ErrPaused)

	// admin operations keep working
	if _, err := h.Engine.SetMinBetAmount(h.Ctx, h.Call(testutil.Admin), 2000); err != nil {
		t.Errorf("setter while paused: %v", err)
	}

	if _, err := h.Engine.Unpause(h.Ctx, h.Call(testutil.Admin)); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	_, err = h.Engine.Unpause(h.Ctx, h.Call(testutil.Admin))
	expectErr(t, err, state.ErrAlreadyUnpaused)

	if _, err := h.Engine.Claim(h.Ctx, h.Call("alice"), []uint64{2}); err != nil {
		t.Errorf("claim after unpause: %v", err)
	}
}

// ============================================================================
// Test: Treasury
// ============================================================================

func TestClaimTreasury(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()

	_, err := h.Engine.ClaimTreasury(h.Ctx, h.Call(testutil.Admin))
	expectErr(t, err, state.ErrNoTreasury)

	h.Bet("alice", 2, ledger.SideBull, 4000)
	h.Bet("bob", 2, ledger.SideBear, 6000)
	settleRoundTwo(h)

	_, err = h.Engine.ClaimTreasury(h.Ctx, h.Call(testutil.Operator))
	expectErr(t, err, state.ErrUnauthorized)

	resp, err := h.Engine.ClaimTreasury(h.Ctx, h.Call(testutil.Admin))
	if err != nil {
		t.Fatalf("claim treasury: %v", err)
	}
	tr := resp.Transfers[0]
	if tr.Amount != 300 || tr.Recipient != testutil.Admin || tr.Reason != ledger.TransferTreasury {
		t.Errorf("unexpected transfer %+v", tr)
	}
	if h.State().Treasury != 0 {
		t.Errorf("treasury not reset: %d", h.State().Treasury)
	}

	// winner payout plus fee never exceeds what was staked
	claim, err := h.Engine.Claim(h.Ctx, h.Call("alice"), []uint64{2})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid := claim.Transfers[0].Amount + tr.Amount; paid > 10000 {
		t.Errorf("paid out %d of 10000 staked", paid)
	}
}

// ============================================================================
// Test: Admin Setters
// ============================================================================

func TestSetters_Validation(t *testing.T) {
	h := testutil.NewHarness(t)
	admin := h.Call(testutil.Admin)

	_, err := h.Engine.SetBufferAndInterval(h.Ctx, admin, 300, 300)
	expectErr(t, err, state.ErrInvalidBuffer)
	_, err = h.Engine.SetBufferAndInterval(h.Ctx, admin, 0, 0)
	expectErr(t, err, state.ErrInvalidInterval)
	_, err = h.Engine.SetMinBetAmount(h.Ctx, admin, 0)
	expectErr(t, err, state.ErrInvalidMinBet)
	_, err = h.Engine.SetTreasuryFee(h.Ctx, admin, 1001)
	expectErr(t, err, state.ErrInvalidTreasuryFee)
	_, err = h.Engine.SetOracle(h.Ctx, admin, "pyth", "0x1234")
	expectErr(t, err, state.ErrInvalidFeedID)
	_, err = h.Engine.SetOperator(h.Ctx, admin, "")
	expectErr(t, err, state.ErrInvalidAddress)
	_, err = h.Engine.SetTreasuryFee(h.Ctx, h.Call(testutil.Operator), 100)
	expectErr(t, err, state.ErrUnauthorized)
}

func TestSetters_Apply(t *testing.T) {
	h := testutil.NewHarness(t)
	admin := h.Call(testutil.Admin)

	resp, err := h.Engine.SetBufferAndInterval(h.Ctx, admin, 10, 60)
	if err != nil {
		t.Fatalf("set interval: %v", err)
	}
	if resp.Action != "set_buffer_and_interval_seconds" || len(resp.Events) != 2 {
		t.Errorf("got action %q with %d events", resp.Action, len(resp.Events))
	}
	if _, err := h.Engine.SetMinBetAmount(h.Ctx, admin, 5000); err != nil {
		t.Fatalf("set min bet: %v", err)
	}
	if _, err := h.Engine.SetOperator(h.Ctx, admin, "operator2"); err != nil {
		t.Fatalf("set operator: %v", err)
	}

	resp, err = h.Engine.SetOracle(h.Ctx, admin, "pyth2", "FF61491A931112DDF1BD8147CD1B641375F79F5825126D665480874634FD0ACE")
	if err != nil {
		t.Fatalf("set oracle: %v", err)
	}
	updated := resp.Events[1].(*event.ConfigUpdated)
	if updated.Value != "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace" {
		t.Errorf("feed id not normalised: %s", updated.Value)
	}

	// the old operator is out
	_, err = h.Engine.GenesisStartRound(h.Ctx, h.Call(testutil.Operator))
	expectErr(t, err, state.ErrUnauthorized)
	if _, err := h.Engine.GenesisStartRound(h.Ctx, h.Call("operator2")); err != nil {
		t.Fatalf("genesis start by new operator: %v", err)
	}

	r1 := h.Round(1)
	if r1.LockTimestamp != t0+50 || r1.CloseTimestamp != t0+60 {
		t.Errorf("round 1 uses old cadence: lock %d close %d", r1.LockTimestamp, r1.CloseTimestamp)
	}

	_, err = h.Engine.BetBull(h.Ctx, h.Call("alice", testutil.Stake(4000)), 1, 4000)
	expectErr(t, err, state.ErrBetTooSmall)
}

func TestTreasury_CreditedWhenRoundIsDecided(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()
	h.Bet("alice", 2, ledger.SideBull, 4000)
	h.Bet("bob", 2, ledger.SideBear, 6000)
	h.AdvanceTo(t0 + r1Close)
	h.Tick()
	h.AdvanceTo(t0 + r2Lock)
	h.Tick()

	// skimmed at lock, held on the round until it resolves
	if got := h.Round(2).RewardBaseAmount; got != 300 {
		t.Errorf("reward_base after lock: got %d, want 300", got)
	}
	if got := h.State().Treasury; got != 0 {
		t.Errorf("treasury before close: got %d, want 0", got)
	}

	h.Oracle.Set(91000)
	h.AdvanceTo(t0 + r2Close)
	resp, err := h.Engine.ExecuteRound(h.Ctx, h.Call(testutil.Operator))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	ended, ok := resp.Events[0].(*event.RoundEnded)
	if !ok || ended.TreasuryFee != 300 {
		t.Errorf("round ended event %+v", resp.Events[0])
	}
	if got := h.State().Treasury; got != 300 {
		t.Errorf("treasury after close: got %d, want 300", got)
	}
}

func TestConservation_PayoutsNeverExceedStakes(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	bettors := []string{"alice", "bob", "carol", "dave", "erin"}

	for trial := 0; trial < 30; trial++ {
		h := testutil.NewHarness(t)
		h.Genesis()

		var staked uint64
		for _, who := range bettors {
			amount := testutil.MinBet + uint64(rng.Intn(9_000))
			side := ledger.Side(rng.Intn(2))
			h.Bet(who, 2, side, amount)
			staked += amount
		}

		// up, down or flat
		h.AdvanceTo(t0 + r1Close)
		h.Tick()
		h.AdvanceTo(t0 + r2Lock)
		h.Tick()
		h.Oracle.Set(90000 + int64(rng.Intn(3)-1)*500)
		h.AdvanceTo(t0 + r2Close)
		h.Tick()

		r2 := h.Round(2)
		tie := r2.IsTie()
		var paid uint64
		for _, who := range bettors {
			var (
				resp *core.Response
				err  error
			)
			if tie {
				resp, err = h.Engine.Refund(h.Ctx, h.Call(who), []uint64{2})
			} else {
				resp, err = h.Engine.Claim(h.Ctx, h.Call(who), []uint64{2})
			}
			if err == nil {
				paid += resp.Transfers[0].Amount
			}
		}
		treasury := h.State().Treasury

		if paid+treasury > staked {
			t.Fatalf("trial %d: paid %d + treasury %d exceeds staked %d", trial, paid, treasury, staked)
		}
		if tie && (paid != staked || treasury != 0) {
			t.Errorf("trial %d: tie refunded %d of %d, treasury %d", trial, paid, staked, treasury)
		}
	}
}

// ============================================================================
// Test: Outbox
// ============================================================================

func TestOutbox_CommittedWithLedgerChange(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()
	h.Bet("alice", 2, ledger.SideBull, 3000)
	h.Bet("carol", 2, ledger.SideBear, 4000)
	settleRoundTwo(h)
	queued := len(h.Outbox())

	call := h.Call("alice")
	call.Sequence = 42
	resp, err := h.Engine.Claim(h.Ctx, call, []uint64{2})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	entries := h.Outbox()[queued:]
	if len(entries) != 2 {
		t.Fatalf("got %d new outbox entries, want 2", len(entries))
	}
	evt, tr := entries[0].Message, entries[1].Message
	if evt.Kind != ledger.OutboxEvent || evt.Topic != "claim" || evt.ID != call.ID.String()+":0" {
		t.Errorf("event message %+v", evt)
	}
	if tr.Kind != ledger.OutboxTransfer || tr.ID != resp.Transfers[0].ID.String() {
		t.Errorf("transfer message %+v", tr)
	}
	var msg ledger.TransferMessage
	if err := json.Unmarshal(tr.Payload, &msg); err != nil {
		t.Fatalf("decode transfer: %v", err)
	}
	if msg.Sequence != 42 || msg.Amount != 6790 || msg.Recipient != "alice" {
		t.Errorf("transfer payload %+v", msg)
	}
	if entries[0].Position >= entries[1].Position {
		t.Error("outbox positions out of order")
	}

	// a rejected call queues nothing
	_, err = h.Engine.Claim(h.Ctx, h.Call("carol"), []uint64{2})
	expectErr(t, err, state.ErrNotWinner)
	if got := len(h.Outbox()); got != queued+2 {
		t.Errorf("rejection queued messages: got %d, want %d", got, queued+2)
	}
}

func TestEngine_SameCommandAppliesOnce(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Genesis()
	h.Bet("alice", 2, ledger.SideBull, 3000)
	h.Bet("carol", 2, ledger.SideBear, 4000)
	settleRoundTwo(h)

	call := h.Call("alice")
	if _, err := h.Engine.Claim(h.Ctx, call, []uint64{2}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	queued := len(h.Outbox())

	_, err := h.Engine.Claim(h.Ctx, call, []uint64{2})
	expectErr(t, err, core.ErrAlreadyApplied)
	if got := len(h.Outbox()); got != queued {
		t.Errorf("replay queued %d more messages", got-queued)
	}
}

func TestOutbox_Disabled(t *testing.T) {
	h := testutil.NewHarness(t)
	h.Engine.SetOutbox(false)
	queued := len(h.Outbox())

	call := h.Call(testutil.Operator)
	if _, err := h.Engine.GenesisStartRound(h.Ctx, call); err != nil {
		t.Fatalf("genesis start: %v", err)
	}
	if got := len(h.Outbox()); got != queued {
		t.Errorf("got %d queued messages with the outbox off", got-queued)
	}
	// the command is still recorded as applied
	_, err := h.Engine.GenesisStartRound(h.Ctx, call)
	expectErr(t, err, core.ErrAlreadyApplied)
}
