package usecase

import (
	"context"
	"math"
	"testing"

	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/zap"
)

func testBot() *domain.Bot {
	return &domain.Bot{
		ID:             1,
		Name:           "test-bot",
		Enabled:        true,
		Coins:          []string{"BTC", "ETH", "SOL"},
		InitialCoin:    "BTC",
		Threshold:      5.0,
		CheckInterval:  15,
		CommissionRate: 0.005,
		Stablecoin:     "USDT",
		ProtectionPct:  10.0,
		AccountID:      "acc-1",
		PriceSource:    "mock",
	}
}

func newTestService(store *memStore, source *mockSource, exec *mockExecutor) *RebalanceService {
	return NewRebalanceService(store, store, store, nil, exec, stubResolver{source}, zap.NewNop())
}

func seedBot(store *memStore, bot *domain.Bot) {
	store.bots[bot.ID] = bot
	store.states[bot.ID] = &domain.BotState{BotID: bot.ID, CurrentCoin: bot.InitialCoin}
}

func TestRunCycleFirstCycleSeedsBaselines(t *testing.T) {
	store := newMemStore()
	seedBot(store, testBot())
	source := newMockSource(map[string]float64{"BTC": 50000, "ETH": 3000, "SOL": 150})
	exec := &mockExecutor{}
	svc := newTestService(store, source, exec)

	if err := svc.RunCycle(context.Background(), 1); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if exec.callCount() != 0 {
		t.Errorf("first cycle must not trade, executor called %d times", exec.callCount())
	}
	snaps, _ := store.ListSnapshots(context.Background(), 1)
	if len(snaps) != 3 {
		t.Fatalf("expected 3 baseline snapshots, got %d", len(snaps))
	}
	held, err := store.GetSnapshot(context.Background(), 1, "BTC")
	if err != nil {
		t.Fatalf("missing held snapshot: %v", err)
	}
	if !held.WasEverHeld || held.UnitsHeld != 1.0 {
		t.Errorf("held snapshot not initialized: %+v", held)
	}

	state, _ := store.GetState(context.Background(), 1)
	if state.CurrentCoin != "BTC" {
		t.Errorf("current coin changed to %s without a trade", state.CurrentCoin)
	}
	if state.GlobalPeakValue != 50000 {
		t.Errorf("expected peak 50000, got %f", state.GlobalPeakValue)
	}
	if state.LastCheckTime.IsZero() || state.LastPriceUpdate.IsZero() {
		t.Errorf("timestamps not recorded: %+v", state)
	}
}

func TestRunCycleSwapsWhenDeviationExceedsGates(t *testing.T) {
	store := newMemStore()
	seedBot(store, testBot())
	source := newMockSource(map[string]float64{"BTC": 50000, "ETH": 3000, "SOL": 150})
	exec := &mockExecutor{result: &domain.SwapResult{
		FromAmount:       1,
		ToAmount:         15.0,
		CommissionAmount: 16.5,
		CommissionRate:   0.005,
	}}
	svc := newTestService(store, source, exec)
	ctx := context.Background()

	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("seed cycle failed: %v", err)
	}

	// ETH 3000 -> 3300 against flat BTC is a +10% deviation, clearing the
	// 5% threshold and the 1% round-trip commission.
	source.SetPrice("ETH", 3300)
	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if exec.callCount() != 1 {
		t.Fatalf("expected one execution, got %d", exec.callCount())
	}
	if exec.froms[0] != "BTC" || exec.tos[0] != "ETH" {
		t.Errorf("expected BTC->ETH, got %s->%s", exec.froms[0], exec.tos[0])
	}

	state, _ := store.GetState(ctx, 1)
	if state.CurrentCoin != "ETH" {
		t.Errorf("expected current coin ETH, got %s", state.CurrentCoin)
	}
	if state.ActiveTradeID != "" {
		t.Errorf("in-flight marker not cleared: %q", state.ActiveTradeID)
	}
	if math.Abs(state.TotalCommissionsPaid-16.5) > 1e-9 {
		t.Errorf("expected commissions 16.5, got %f", state.TotalCommissionsPaid)
	}

	ethSnap, _ := store.GetSnapshot(ctx, 1, "ETH")
	if ethSnap.Price != 3300 || ethSnap.UnitsHeld != 15.0 || !ethSnap.WasEverHeld {
		t.Errorf("target baseline not rebased: %+v", ethSnap)
	}
	btcSnap, _ := store.GetSnapshot(ctx, 1, "BTC")
	if btcSnap.UnitsHeld != 0 {
		t.Errorf("source units not cleared: %+v", btcSnap)
	}

	trades, _ := store.ListTrades(ctx, 1, domain.TradeFilter{})
	if len(trades) != 1 || trades[0].Status != domain.TradeCompleted {
		t.Fatalf("expected one completed trade, got %+v", trades)
	}

	var winning *domain.SwapDecisionRecord
	for _, rec := range store.decisions {
		if rec.SwapPerformed {
			winning = rec
		}
	}
	if winning == nil || winning.ToCoin != "ETH" {
		t.Errorf("expected the ETH decision to be marked performed, got %+v", winning)
	}
}

func TestRunCycleExecutionFailureKeepsHolding(t *testing.T) {
	store := newMemStore()
	seedBot(store, testBot())
	source := newMockSource(map[string]float64{"BTC": 50000, "ETH": 3000, "SOL": 150})
	exec := &mockExecutor{}
	svc := newTestService(store, source, exec)
	ctx := context.Background()

	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("seed cycle failed: %v", err)
	}

	exec.err = &domain.ExecutionError{Kind: domain.FailureInsufficientFunds}
	source.SetPrice("ETH", 3300)
	// Execution failures are recorded, not propagated.
	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("cycle should contain the execution failure, got %v", err)
	}

	state, _ := store.GetState(ctx, 1)
	if state.CurrentCoin != "BTC" {
		t.Errorf("failed trade changed current coin to %s", state.CurrentCoin)
	}
	if state.ActiveTradeID != "" {
		t.Errorf("in-flight marker not cleared after failure: %q", state.ActiveTradeID)
	}

	trades, _ := store.ListTrades(ctx, 1, domain.TradeFilter{})
	if len(trades) != 1 || trades[0].Status != domain.TradeFailed {
		t.Fatalf("expected one failed trade, got %+v", trades)
	}

	// Baseline of the target must survive the failed attempt.
	ethSnap, _ := store.GetSnapshot(ctx, 1, "ETH")
	if ethSnap.Price != 3000 {
		t.Errorf("failed trade rebased the target snapshot: %+v", ethSnap)
	}
}

func TestRunCycleFailedExecutionNotRecordedAsPerformed(t *testing.T) {
	store := newMemStore()
	seedBot(store, testBot())
	source := newMockSource(map[string]float64{"BTC": 50000, "ETH": 3000, "SOL": 150})
	exec := &mockExecutor{}
	svc := newTestService(store, source, exec)
	ctx := context.Background()

	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("seed cycle failed: %v", err)
	}

	store.decisions = nil
	exec.err = &domain.ExecutionError{Kind: domain.FailureInsufficientFunds}
	source.SetPrice("ETH", 3300)
	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	// The ledger and the trade log must agree: a failed execution means
	// no decision claims the swap happened.
	for _, rec := range store.decisions {
		if rec.SwapPerformed {
			t.Errorf("failed execution recorded as performed: %+v", rec)
		}
	}
	trades, _ := store.ListTrades(ctx, 1, domain.TradeFilter{})
	if len(trades) != 1 || trades[0].Status != domain.TradeFailed {
		t.Fatalf("expected one failed trade, got %+v", trades)
	}
}

func TestRunCycleProtectionVetoesSwap(t *testing.T) {
	store := newMemStore()
	seedBot(store, testBot())
	source := newMockSource(map[string]float64{"BTC": 50000, "ETH": 3000, "SOL": 150})
	exec := &mockExecutor{}
	svc := newTestService(store, source, exec)
	ctx := context.Background()

	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("seed cycle failed: %v", err)
	}

	// Simulate a portfolio far below its recorded peak.
	state, _ := store.GetState(ctx, 1)
	state.GlobalPeakValue = 100000
	store.SaveState(ctx, state)

	store.decisions = nil
	source.SetPrice("ETH", 3300)
	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if exec.callCount() != 0 {
		t.Fatalf("protection must veto execution, executor called %d times", exec.callCount())
	}
	if len(store.decisions) == 0 {
		t.Fatal("vetoed cycle must still write decisions")
	}
	for _, rec := range store.decisions {
		if !rec.ProtectionTriggered {
			t.Errorf("decision missing protection flag: %+v", rec)
		}
		if rec.SwapPerformed {
			t.Errorf("decision marked performed despite veto: %+v", rec)
		}
		if rec.Reason != ProtectionReason {
			t.Errorf("expected reason %q, got %q", ProtectionReason, rec.Reason)
		}
	}
}

func TestRunCycleHeldPriceMissingAbandonsCycle(t *testing.T) {
	store := newMemStore()
	seedBot(store, testBot())
	// No BTC price at all: both sources failed.
	source := newMockSource(map[string]float64{"ETH": 3000, "SOL": 150})
	exec := &mockExecutor{}
	svc := newTestService(store, source, exec)
	ctx := context.Background()

	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if len(store.decisions) != 0 {
		t.Errorf("abandoned cycle wrote %d decisions", len(store.decisions))
	}
	if exec.callCount() != 0 {
		t.Errorf("abandoned cycle executed a trade")
	}
	state, _ := store.GetState(ctx, 1)
	if state.LastCheckTime.IsZero() {
		t.Errorf("check time must still be recorded")
	}
}

func TestRunCycleSeedsBaselineForLaterAddedCoin(t *testing.T) {
	store := newMemStore()
	seedBot(store, testBot())
	source := newMockSource(map[string]float64{"BTC": 50000, "ETH": 3000, "SOL": 150})
	exec := &mockExecutor{result: &domain.SwapResult{FromAmount: 1, ToAmount: 250}}
	svc := newTestService(store, source, exec)
	ctx := context.Background()

	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("seed cycle failed: %v", err)
	}

	// DOT joins the coin set after the bot has been running.
	store.bots[1].Coins = append(store.bots[1].Coins, "DOT")
	source.SetPrice("DOT", 10)
	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	snap, err := store.GetSnapshot(ctx, 1, "DOT")
	if err != nil {
		t.Fatalf("new coin never got a baseline: %v", err)
	}
	if snap.Price != 10 || snap.WasEverHeld || snap.UnitsHeld != 0 {
		t.Errorf("unexpected baseline for added coin: %+v", snap)
	}

	// With a baseline in place the new coin can win like any other.
	source.SetPrice("DOT", 12)
	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	state, _ := store.GetState(ctx, 1)
	if state.CurrentCoin != "DOT" {
		t.Errorf("expected swap into DOT at +20%% deviation, got %s", state.CurrentCoin)
	}
}

func TestRunCycleResumesFromPersistedState(t *testing.T) {
	store := newMemStore()
	seedBot(store, testBot())
	source := newMockSource(map[string]float64{"BTC": 50000, "ETH": 3000, "SOL": 150})
	exec := &mockExecutor{result: &domain.SwapResult{FromAmount: 1, ToAmount: 15.0}}
	svc := newTestService(store, source, exec)
	ctx := context.Background()

	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("seed cycle failed: %v", err)
	}
	source.SetPrice("ETH", 3300)
	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("swap cycle failed: %v", err)
	}

	// A fresh service over the same store stands in for a process restart.
	restarted := newTestService(store, source, &mockExecutor{})
	if err := restarted.RecoverState(ctx, 1); err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if err := restarted.RunCycle(ctx, 1); err != nil {
		t.Fatalf("post-restart cycle failed: %v", err)
	}

	state, _ := store.GetState(ctx, 1)
	if state.CurrentCoin != "ETH" {
		t.Errorf("restart lost the current coin, got %s", state.CurrentCoin)
	}
	// Prices unchanged since the swap: nothing should trade again.
	trades, _ := store.ListTrades(ctx, 1, domain.TradeFilter{})
	if len(trades) != 1 {
		t.Errorf("restart produced extra trades: %d", len(trades))
	}
}

func TestRecoverStateClearsStaleMarker(t *testing.T) {
	store := newMemStore()
	seedBot(store, testBot())
	state, _ := store.GetState(context.Background(), 1)
	state.ActiveTradeID = "stale-trade"
	store.SaveState(context.Background(), state)

	svc := newTestService(store, newMockSource(nil), &mockExecutor{})
	if err := svc.RecoverState(context.Background(), 1); err != nil {
		t.Fatalf("recovery failed: %v", err)
	}

	state, _ = store.GetState(context.Background(), 1)
	if state.ActiveTradeID != "" {
		t.Errorf("stale marker survived recovery: %q", state.ActiveTradeID)
	}
}

func TestSellToStablecoin(t *testing.T) {
	store := newMemStore()
	seedBot(store, testBot())
	source := newMockSource(map[string]float64{"BTC": 50000, "ETH": 3000, "SOL": 150, "USDT": 1})
	exec := &mockExecutor{result: &domain.SwapResult{FromAmount: 1, ToAmount: 49750, CommissionAmount: 250, CommissionRate: 0.005}}
	svc := newTestService(store, source, exec)
	ctx := context.Background()

	trade, err := svc.SellToStablecoin(ctx, 1)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if trade.Status != domain.TradeCompleted || trade.ToCoin != "USDT" {
		t.Errorf("unexpected trade: %+v", trade)
	}
	if exec.froms[0] != "BTC" || exec.tos[0] != "USDT" {
		t.Errorf("expected BTC->USDT, got %s->%s", exec.froms[0], exec.tos[0])
	}

	state, _ := store.GetState(ctx, 1)
	if state.CurrentCoin != "USDT" {
		t.Errorf("expected holding USDT, got %s", state.CurrentCoin)
	}
	if math.Abs(state.TotalCommissionsPaid-250) > 1e-9 {
		t.Errorf("expected commissions 250, got %f", state.TotalCommissionsPaid)
	}

	// Selling again has nothing to do.
	if _, err := svc.SellToStablecoin(ctx, 1); err == nil {
		t.Errorf("expected error selling while already in stablecoin")
	}
}

func TestResetSoftKeepsCoinAndSnapshots(t *testing.T) {
	store := newMemStore()
	seedBot(store, testBot())
	source := newMockSource(map[string]float64{"BTC": 50000, "ETH": 3000, "SOL": 150})
	svc := newTestService(store, source, &mockExecutor{})
	ctx := context.Background()

	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("seed cycle failed: %v", err)
	}
	state, _ := store.GetState(ctx, 1)
	state.TotalCommissionsPaid = 123
	state.GlobalPeakValue = 90000
	store.SaveState(ctx, state)

	if err := svc.Reset(ctx, 1, domain.ResetOptions{Type: domain.ResetSoft}); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	state, _ = store.GetState(ctx, 1)
	if state.TotalCommissionsPaid != 0 {
		t.Errorf("commissions not zeroed: %f", state.TotalCommissionsPaid)
	}
	if state.CurrentCoin != "BTC" {
		t.Errorf("soft reset changed current coin to %s", state.CurrentCoin)
	}
	// Peak re-seeds from the live holding value: 1 unit at 50000.
	if math.Abs(state.GlobalPeakValue-50000) > 1e-9 {
		t.Errorf("expected peak 50000, got %f", state.GlobalPeakValue)
	}
	if math.Abs(state.MinAcceptableValue-45000) > 1e-9 {
		t.Errorf("expected floor 45000, got %f", state.MinAcceptableValue)
	}

	snaps, _ := store.ListSnapshots(ctx, 1)
	if len(snaps) != 3 {
		t.Errorf("soft reset must keep snapshots, got %d", len(snaps))
	}
}

func TestResetHardRevertsToInitialCoin(t *testing.T) {
	store := newMemStore()
	seedBot(store, testBot())
	source := newMockSource(map[string]float64{"BTC": 50000, "ETH": 3000, "SOL": 150})
	exec := &mockExecutor{result: &domain.SwapResult{FromAmount: 1, ToAmount: 15.0}}
	svc := newTestService(store, source, exec)
	ctx := context.Background()

	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("seed cycle failed: %v", err)
	}
	source.SetPrice("ETH", 3300)
	if err := svc.RunCycle(ctx, 1); err != nil {
		t.Fatalf("swap cycle failed: %v", err)
	}

	if err := svc.Reset(ctx, 1, domain.ResetOptions{Type: domain.ResetHard}); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	state, _ := store.GetState(ctx, 1)
	if state.CurrentCoin != "BTC" {
		t.Errorf("hard reset must revert to the initial coin, got %s", state.CurrentCoin)
	}
	snaps, _ := store.ListSnapshots(ctx, 1)
	if len(snaps) != 0 {
		t.Errorf("hard reset must clear snapshots, got %d", len(snaps))
	}
}

func TestResetHardWithLiquidation(t *testing.T) {
	store := newMemStore()
	seedBot(store, testBot())
	source := newMockSource(map[string]float64{"BTC": 50000, "ETH": 3000, "SOL": 150, "USDT": 1})
	exec := &mockExecutor{result: &domain.SwapResult{FromAmount: 1, ToAmount: 49750, CommissionAmount: 250}}
	svc := newTestService(store, source, exec)
	ctx := context.Background()

	opts := domain.ResetOptions{Type: domain.ResetHard, LiquidateToStablecoin: true}
	if err := svc.Reset(ctx, 1, opts); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	if exec.callCount() != 1 || exec.tos[0] != "USDT" {
		t.Errorf("liquidation not executed: calls=%d", exec.callCount())
	}
	state, _ := store.GetState(ctx, 1)
	if state.CurrentCoin != "BTC" {
		t.Errorf("expected initial coin after reset, got %s", state.CurrentCoin)
	}
	if state.TotalCommissionsPaid != 0 {
		t.Errorf("commissions not zeroed: %f", state.TotalCommissionsPaid)
	}
}
