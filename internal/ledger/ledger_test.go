package ledger_test

import (
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/store"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// ============================================================================
// Test: Keys
// ============================================================================

func TestRoundKey_Path(t *testing.T) {
	path := ledger.RoundKey(42).Path()
	expected := "round:00000000000000000042"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestBetKey_Path(t *testing.T) {
	path := ledger.BetKey(7, "alice").Path()
	expected := "bet:00000000000000000007:alice"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestSingletonKeys(t *testing.T) {
	if ledger.ConfigKey().Path() != "config" {
		t.Errorf("got %q, want %q", ledger.ConfigKey().Path(), "config")
	}
	if ledger.StateKey().Path() != "state" {
		t.Errorf("got %q, want %q", ledger.StateKey().Path(), "state")
	}
}

// ============================================================================
// Test: Price
// ============================================================================

func TestPrice_UnsetIsNull(t *testing.T) {
	r := ledger.Round{Epoch: 1, LockPrice: ledger.PriceOf(0)}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["close_price"] != nil {
		t.Errorf("close_price: got %v, want null", decoded["close_price"])
	}
	if decoded["lock_price"] != float64(0) {
		t.Errorf("lock_price: got %v, want 0", decoded["lock_price"])
	}

	var back ledger.Round
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal round: %v", err)
	}
	if !back.Locked() {
		t.Error("a zero lock price must still count as locked")
	}
	if back.ClosePrice.Set {
		t.Error("close price should remain unset")
	}
}

func TestRound_IsTie(t *testing.T) {
	r := ledger.Round{LockPrice: ledger.PriceOf(90000), ClosePrice: ledger.PriceOf(90000)}
	if r.IsTie() {
		t.Error("unresolved round must not be a tie")
	}
	r.Resolved = true
	if !r.IsTie() {
		t.Error("equal prices on a resolved round should be a tie")
	}
	r.ClosePrice = ledger.PriceOf(90001)
	if r.IsTie() {
		t.Error("different prices should not be a tie")
	}
}

func TestParseSide(t *testing.T) {
	for name, want := range map[string]ledger.Side{
		"bull": ledger.SideBull, "up": ledger.SideBull,
		"bear": ledger.SideBear, "down": ledger.SideBear,
	} {
		got, err := ledger.ParseSide(name)
		if err != nil {
			t.Fatalf("ParseSide(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("ParseSide(%q): got %v, want %v", name, got, want)
		}
	}
	if _, err := ledger.ParseSide("sideways"); err == nil {
		t.Error("expected error for unknown side")
	}
}

func TestAmountOf(t *testing.T) {
	funds := []ledger.Coin{{Denom: "uatom", Amount: 5}, {Denom: "uusdc", Amount: 1000}}
	if got := ledger.AmountOf(funds, "uusdc"); got != 1000 {
		t.Errorf("got %d, want 1000", got)
	}
	if got := ledger.AmountOf(funds, "uosmo"); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

// ============================================================================
// Test: Book
// ============================================================================

func TestBook_AppendUserRoundIdempotent(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	err := mem.Update(ctx, func(tx store.Tx) error {
		book := ledger.NewBook(tx)
		for _, epoch := range []uint64{3, 3, 9, 10, 3} {
			if err := book.AppendUserRound("alice", epoch); err != nil {
				return err
			}
		}
		return book.AppendUserRound("bob", 4)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	_ = mem.View(ctx, func(tx store.Tx) error {
		epochs, err := ledger.NewBook(tx).UserRounds("alice", 0, 0)
		if err != nil {
			t.Fatalf("UserRounds: %v", err)
		}
		want := []uint64{3, 9, 10}
		if len(epochs) != len(want) {
			t.Fatalf("got %v, want %v", epochs, want)
		}
		for i := range want {
			if epochs[i] != want[i] {
				t.Errorf("epochs[%d]: got %d, want %d", i, epochs[i], want[i])
			}
		}
		return nil
	})
}

func TestBook_UserRoundsAfterCursor(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	_ = mem.Update(ctx, func(tx store.Tx) error {
		book := ledger.NewBook(tx)
		for epoch := uint64(1); epoch <= 12; epoch++ {
			if err := book.AppendUserRound("alice", epoch); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
		return nil
	})

	_ = mem.View(ctx, func(tx store.Tx) error {
		epochs, err := ledger.NewBook(tx).UserRounds("alice", 9, 2)
		if err != nil {
			t.Fatalf("UserRounds: %v", err)
		}
		if len(epochs) != 2 || epochs[0] != 10 || epochs[1] != 11 {
			t.Errorf("got %v, want [10 11]", epochs)
		}
		return nil
	})
}

func TestBook_FailedUpdateLeavesNoTrace(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := mem.Update(ctx, func(tx store.Tx) error {
		book := ledger.NewBook(tx)
		if err := book.PutRound(ledger.Round{Epoch: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	_ = mem.View(ctx, func(tx store.Tx) error {
		_, ok, err := ledger.NewBook(tx).Round(1)
		if err != nil {
			t.Fatalf("Round: %v", err)
		}
		if ok {
			t.Error("round from a failed update must not be visible")
		}
		return nil
	})
}

func TestBook_ViewIsReadOnly(t *testing.T) {
	mem := store.NewMemory()
	err := mem.View(context.Background(), func(tx store.Tx) error {
		return ledger.NewBook(tx).PutState(ledger.GlobalState{Paused: true})
	})
	if !errors.Is(err, store.ErrReadOnly) {
		t.Errorf("got %v, want ErrReadOnly", err)
	}
}
