package store_test

import (
	"PredictLedger/internal/store"
	"context"
	"errors"
	"testing"
)

func roundKey(epoch uint64) store.Key {
	return store.Key{Scope: store.ScopeRound, Parts: []string{store.EpochPart(epoch)}}
}

func TestMemory_UpdateCommits(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	if err := mem.Update(ctx, func(tx store.Tx) error {
		return tx.Put(roundKey(1), map[string]int{"x": 1})
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if mem.Len() != 1 {
		t.Errorf("got %d keys, want 1", mem.Len())
	}
}

func TestMemory_RollbackOnError(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := mem.Update(ctx, func(tx store.Tx) error {
		if err := tx.Put(roundKey(1), 1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if mem.Len() != 0 {
		t.Errorf("got %d keys after rollback, want 0", mem.Len())
	}
}

func TestMemory_WritesVisibleWithinUpdate(t *testing.T) {
	mem := store.NewMemory()

	_ = mem.Update(context.Background(), func(tx store.Tx) error {
		if err := tx.Put(roundKey(5), 55); err != nil {
			t.Fatalf("put: %v", err)
		}
		var got int
		ok, err := tx.Get(roundKey(5), &got)
		if err != nil || !ok {
			t.Fatalf("get: ok=%v err=%v", ok, err)
		}
		if got != 55 {
			t.Errorf("got %d, want 55", got)
		}
		return nil
	})
}

func TestMemory_ScanOrderAfterLimit(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	_ = mem.Update(ctx, func(tx store.Tx) error {
		for _, e := range []uint64{10, 2, 7, 1} {
			if err := tx.Put(roundKey(e), e); err != nil {
				t.Fatalf("put: %v", err)
			}
		}
		return tx.Put(store.Key{Scope: store.ScopeState}, 0)
	})

	prefix := store.Key{Scope: store.ScopeRound}
	var all []string
	_ = mem.View(ctx, func(tx store.Tx) error {
		return tx.Scan(prefix, "", 0, func(path string, _ []byte) error {
			all = append(all, path)
			return nil
		})
	})
	if len(all) != 4 {
		t.Fatalf("got %d paths, want 4: %v", len(all), all)
	}
	if all[0] != roundKey(1).Path() || all[3] != roundKey(10).Path() {
		t.Errorf("unexpected order: %v", all)
	}

	var page []string
	_ = mem.View(ctx, func(tx store.Tx) error {
		return tx.Scan(prefix, roundKey(2).Path(), 1, func(path string, _ []byte) error {
			page = append(page, path)
			return nil
		})
	})
	if len(page) != 1 || page[0] != roundKey(7).Path() {
		t.Errorf("got %v, want [%s]", page, roundKey(7).Path())
	}
}

func TestMemory_ViewRejectsPut(t *testing.T) {
	mem := store.NewMemory()
	err := mem.View(context.Background(), func(tx store.Tx) error {
		return tx.Put(roundKey(1), 1)
	})
	if !errors.Is(err, store.ErrReadOnly) {
		t.Errorf("got %v, want ErrReadOnly", err)
	}
}

func TestMemory_CancelledContext(t *testing.T) {
	mem := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := mem.Update(ctx, func(tx store.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn must not run on a cancelled context")
	}
}

func TestMemory_DeleteHidesKey(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	_ = mem.Update(ctx, func(tx store.Tx) error {
		for epoch := uint64(1); epoch <= 3; epoch++ {
			if err := tx.Put(roundKey(epoch), epoch); err != nil {
				return err
			}
		}
		return nil
	})

	err := mem.Update(ctx, func(tx store.Tx) error {
		if err := tx.Delete(roundKey(2)); err != nil {
			return err
		}
		if ok, _ := tx.Has(roundKey(2)); ok {
			t.Error("deleted key still visible inside the update")
		}
		var seen int
		if err := tx.Scan(store.Key{Scope: store.ScopeRound}, "", 0, func(string, []byte) error {
			seen++
			return nil
		}); err != nil {
			return err
		}
		if seen != 2 {
			t.Errorf("scan saw %d keys, want 2", seen)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if mem.Len() != 2 {
		t.Errorf("got %d keys, want 2", mem.Len())
	}

	err = mem.View(ctx, func(tx store.Tx) error {
		return tx.Delete(roundKey(1))
	})
	if !errors.Is(err, store.ErrReadOnly) {
		t.Errorf("delete in view: got %v, want ErrReadOnly", err)
	}
}
