package persistence_test

import (
	"PredictLedger/internal/core"
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/oracle"
	"PredictLedger/internal/persistence"
	"PredictLedger/internal/query"
	"PredictLedger/internal/testutil"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ============================================================================
// Integration Test: ledger store and receipt log against Postgres
// ============================================================================

func TestIntegration_LedgerStoreAndReceiptLog(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clock := testutil.NewClock(testutil.GenesisTime)
	st := persistence.NewLedgerStore(db)
	engine := core.NewEngine(st, oracle.NewStatic(oracle.DefaultStaticPrice), zerolog.Nop(), nil)
	receiptLog := persistence.NewReceiptLog(db)

	receipts := make(chan *core.Receipt, 16)
	exec := core.NewExecutor(engine, core.ExecutorOptions{
		Clock:       core.NewMonotonicClock(clock.Now),
		Idempotency: core.NewIdempotencyChecker(16, receiptLog, nil),
		Receipts:    receipts,
	})

	cfg := testutil.DefaultConfig()
	commands := []core.Command{
		{ID: uuid.New(), Kind: core.KindInstantiate, Sender: testutil.Admin, Config: &cfg},
		{ID: uuid.New(), Kind: core.KindGenesisStartRound, Sender: testutil.Operator},
		{ID: uuid.New(), Kind: core.KindBetBull, Sender: "alice", Epoch: 1, Amount: 5000,
			Funds: []ledger.Coin{testutil.Stake(5000)}},
		// rejected: below the minimum
		{ID: uuid.New(), Kind: core.KindBetBear, Sender: "bob", Epoch: 1, Amount: 10,
			Funds: []ledger.Coin{testutil.Stake(10)}},
	}
	for _, cmd := range commands {
		exec.Process(ctx, cmd)
	}
	close(receipts)

	worker := persistence.NewReceiptWorker(db, receipts, 10, 10*time.Millisecond, zerolog.Nop(), nil)
	if err := worker.Run(ctx); err != nil {
		t.Fatalf("receipt worker: %v", err)
	}

	// ledger state survived in ledger.kv
	svc := query.NewService(st, db)
	round, err := svc.Round(ctx, 1)
	if err != nil {
		t.Fatalf("round 1: %v", err)
	}
	if round.BullAmount != 5000 || round.BearAmount != 0 {
		t.Errorf("round 1 pools %d/%d", round.BullAmount, round.BearAmount)
	}

	// receipt log
	for _, cmd := range commands {
		ok, err := receiptLog.IsProcessed(ctx, cmd.ID)
		if err != nil || !ok {
			t.Errorf("command %s not in log: %v", cmd.Kind, err)
		}
	}
	last, err := receiptLog.LastReceipt(ctx)
	if err != nil || last == nil {
		t.Fatalf("last receipt: %v", err)
	}
	if last.Sequence != 3 || last.Committed() {
		t.Errorf("last receipt seq=%d outcome=%s", last.Sequence, last.Outcome)
	}

	ids, err := receiptLog.RecentCommandIDs(ctx, 2)
	if err != nil || len(ids) != 2 || ids[1] != commands[3].ID {
		t.Errorf("recent ids %v: %v", ids, err)
	}

	report, err := svc.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("verify integrity: %v", err)
	}
	if !report.IsHealthy || report.LastSequence != 3 {
		t.Errorf("integrity report %+v", report)
	}

	entries, err := svc.Receipts(ctx, "alice", 10, nil)
	if err != nil || len(entries) != 1 || entries[0].Outcome != core.OutcomeOK {
		t.Errorf("alice receipts %+v: %v", entries, err)
	}

	// a redelivered command is caught by the log after a restart
	restarted := core.NewExecutor(engine, core.ExecutorOptions{
		Clock:       core.NewMonotonicClock(clock.Now),
		Idempotency: core.NewIdempotencyChecker(16, receiptLog, nil),
	})
	restarted.Restore(last)
	if res := restarted.Process(ctx, commands[2]); !res.Duplicate {
		t.Errorf("redelivered bet not detected: %+v", res)
	}
}

func TestIntegration_MigratorVersion(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	m := persistence.NewMigrator(db, testutil.MigrationsDir(t), zerolog.Nop())
	version, dirty, err := m.Version(ctx)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("got version %d dirty %v, want 2 clean", version, dirty)
	}

	// re-running is a no-op and the pool stays usable
	if err := m.Up(ctx); err != nil {
		t.Fatalf("second up: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("pool closed by migrator: %v", err)
	}
}
