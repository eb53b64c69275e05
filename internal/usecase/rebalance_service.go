package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/zap"
)

// SourceResolver builds the failover price source for a bot from its
// configured primary/fallback provider names.
type SourceResolver interface {
	Resolve(primary, fallback string) (domain.PriceSource, error)
}

// UpdateSink receives price points and decision records as they are
// written, for live dashboards. Implementations must not block.
type UpdateSink interface {
	PublishPrice(p *domain.PricePoint)
	PublishDecision(rec *domain.SwapDecisionRecord)
}

// RebalanceService runs the per-bot decision cycle: fetch prices, update
// protection, evaluate candidates, execute the winner, persist everything.
// Callers must guarantee that at most one cycle per bot runs at a time;
// BotScheduler does that with its single-flight guard.
type RebalanceService struct {
	bots       domain.BotRepository
	states     domain.StateRepository
	audit      domain.AuditRepository
	accounts   domain.AccountClient
	executor   domain.TradeExecutor
	sources    SourceResolver
	sizing     SizingPolicy
	selector   *CandidateSelector
	protection *ProtectionEvaluator
	sink       UpdateSink
	logger     *zap.Logger
}

func NewRebalanceService(
	bots domain.BotRepository,
	states domain.StateRepository,
	audit domain.AuditRepository,
	accounts domain.AccountClient,
	executor domain.TradeExecutor,
	sources SourceResolver,
	logger *zap.Logger,
) *RebalanceService {
	return &RebalanceService{
		bots:       bots,
		states:     states,
		audit:      audit,
		accounts:   accounts,
		executor:   executor,
		sources:    sources,
		sizing:     NewConfiguredSizing(),
		selector:   NewCandidateSelector(),
		protection: NewProtectionEvaluator(),
		logger:     logger,
	}
}

// SetSink attaches a live-update subscriber. Optional.
func (s *RebalanceService) SetSink(sink UpdateSink) { s.sink = sink }

// SetSizing swaps the trade sizing policy. Optional; defaults to the
// configured budget/allocation policy.
func (s *RebalanceService) SetSizing(p SizingPolicy) { s.sizing = p }

// RecoverState clears a stale in-flight trade marker left behind by a crash
// mid-cycle, so the bot resumes as Idle. Called once per bot at startup.
func (s *RebalanceService) RecoverState(ctx context.Context, botID int64) error {
	state, err := s.states.GetState(ctx, botID)
	if err != nil {
		return err
	}
	if state.ActiveTradeID == "" {
		return nil
	}
	s.logger.Warn("clearing stale in-flight trade marker",
		zap.Int64("bot", botID),
		zap.String("trade_id", state.ActiveTradeID))
	state.ActiveTradeID = ""
	return s.states.SaveState(ctx, state)
}

// RunCycle executes one full check for the bot. Per-coin failures are
// contained: only storage errors propagate.
func (s *RebalanceService) RunCycle(ctx context.Context, botID int64) error {
	bot, err := s.bots.GetBot(ctx, botID)
	if err != nil {
		return fmt.Errorf("load bot %d: %w", botID, err)
	}
	state, err := s.states.GetState(ctx, botID)
	if err != nil {
		return fmt.Errorf("load state for bot %d: %w", botID, err)
	}
	if state.CurrentCoin == "" {
		state.CurrentCoin = bot.InitialCoin
	}
	if state.CurrentCoin == "" {
		s.logger.Warn("bot has no current coin, skipping cycle", zap.Int64("bot", botID))
		return nil
	}

	source, err := s.sources.Resolve(bot.PriceSource, bot.FallbackSource)
	if err != nil {
		return fmt.Errorf("resolve price source for bot %d: %w", botID, err)
	}

	// Fetch each coin once and reuse the quote for the whole cycle.
	now := time.Now().UTC()
	quotes := make(map[string]domain.Quote, len(bot.Coins))
	for _, coin := range bot.Coins {
		quote, err := source.GetPrice(ctx, coin)
		if err != nil {
			s.logger.Warn("price unavailable, excluding coin this cycle",
				zap.Int64("bot", botID), zap.String("coin", coin), zap.Error(err))
			continue
		}
		quotes[coin] = quote
		point := &domain.PricePoint{
			BotID:     botID,
			Coin:      coin,
			Price:     quote.Price,
			Source:    quote.Source,
			Timestamp: now,
		}
		if err := s.audit.SavePricePoint(ctx, point); err != nil {
			return fmt.Errorf("save price point: %w", err)
		}
		if s.sink != nil {
			s.sink.PublishPrice(point)
		}
		state.LastPriceUpdate = now
		state.LastPriceSource = quote.Source
	}
	state.LastCheckTime = now

	heldQuote, ok := quotes[state.CurrentCoin]
	if !ok {
		// Without the held coin's price there is no baseline to compare
		// against; persist the check time and wait for the next cycle.
		s.logger.Warn("held coin price unavailable, abandoning cycle",
			zap.Int64("bot", botID), zap.String("coin", state.CurrentCoin))
		return s.states.SaveState(ctx, state)
	}

	snapshots, err := s.ensureSnapshots(ctx, bot, state, quotes)
	if err != nil {
		return err
	}

	heldSnap := snapshots[state.CurrentCoin]
	heldUnits := 1.0
	if heldSnap != nil && heldSnap.UnitsHeld > 0 {
		heldUnits = heldSnap.UnitsHeld
	}
	currentValue := heldUnits * heldQuote.Price

	prot := s.protection.Evaluate(state, currentValue, bot.ProtectionPct)
	if prot.Triggered {
		s.logger.Info("profit protection active, no swap this cycle",
			zap.Int64("bot", botID),
			zap.Float64("peak", prot.PeakValue),
			zap.Float64("current", prot.CurrentValue),
			zap.Float64("drawdown_pct", prot.DrawdownPercent))
	}

	heldSnapPrice := 0.0
	if heldSnap != nil {
		heldSnapPrice = heldSnap.Price
	}
	evals, winner := s.selector.Evaluate(SelectorInput{
		HeldCoin:       state.CurrentCoin,
		HeldPrice:      heldQuote.Price,
		HeldSnapshot:   heldSnapPrice,
		HeldValue:      currentValue,
		Candidates:     bot.Candidates(state.CurrentCoin),
		Quotes:         quotes,
		Snapshots:      snapshots,
		Threshold:      bot.Threshold,
		CommissionRate: bot.CommissionRate,
		UnitProtection: bot.UnitProtection,
	})
	if prot.Triggered {
		winner = -1
	}

	// Execute the winner first: the ledger's swapPerformed flag must
	// reflect what actually happened, not what was about to be attempted.
	heldCoin := state.CurrentCoin
	swapped := false
	if winner != -1 {
		target := evals[winner]
		if err := s.performSwap(ctx, bot, state, quotes, heldUnits, heldQuote, target); err != nil {
			s.logger.Error("swap failed", zap.Int64("bot", botID),
				zap.String("from", heldCoin), zap.String("to", target.Coin), zap.Error(err))
		} else {
			swapped = true
		}
	}

	for i, ev := range evals {
		rec := &domain.SwapDecisionRecord{
			BotID:               botID,
			Timestamp:           now,
			FromCoin:            heldCoin,
			ToCoin:              ev.Coin,
			FromCoinPrice:       heldQuote.Price,
			ToCoinPrice:         ev.Price,
			FromCoinSnapshot:    heldSnapPrice,
			ToCoinSnapshot:      ev.Snapshot,
			DeviationPercent:    ev.Deviation,
			Threshold:           bot.Threshold,
			GlobalPeakValue:     state.GlobalPeakValue,
			ProtectionTriggered: prot.Triggered,
			SwapPerformed:       swapped && i == winner,
			Reason:              ev.Reason,
		}
		if prot.Triggered {
			rec.Reason = ProtectionReason
		}
		if err := s.audit.SaveDecision(ctx, rec); err != nil {
			return fmt.Errorf("save decision: %w", err)
		}
		if s.sink != nil {
			s.sink.PublishDecision(rec)
		}
	}

	return s.states.SaveState(ctx, state)
}

// ensureSnapshots loads the baseline snapshots and seeds one from the
// cycle's quotes for any configured coin that lacks it, so coins added to
// the config mid-life get a baseline on their first priced cycle. The held
// coin's starting unit count comes from the exchange account when it can
// be read.
func (s *RebalanceService) ensureSnapshots(ctx context.Context, bot *domain.Bot, state *domain.BotState, quotes map[string]domain.Quote) (map[string]*domain.PriceSnapshot, error) {
	existing, err := s.states.ListSnapshots(ctx, bot.ID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	snapshots := make(map[string]*domain.PriceSnapshot, len(existing))
	for _, snap := range existing {
		snapshots[snap.Coin] = snap
	}

	now := time.Now().UTC()
	for _, coin := range bot.Coins {
		if snapshots[coin] != nil {
			continue
		}
		quote, ok := quotes[coin]
		if !ok {
			continue
		}
		snap := &domain.PriceSnapshot{
			BotID:   bot.ID,
			Coin:    coin,
			Price:   quote.Price,
			TakenAt: now,
		}
		if coin == state.CurrentCoin {
			units := s.lookupUnits(ctx, bot.AccountID, coin)
			snap.UnitsHeld = units
			snap.WasEverHeld = true
			snap.MaxUnits = units
		}
		if err := s.states.SaveSnapshot(ctx, snap); err != nil {
			return nil, fmt.Errorf("save snapshot: %w", err)
		}
		snapshots[coin] = snap
		s.logger.Info("baseline snapshot created",
			zap.Int64("bot", bot.ID), zap.String("coin", coin), zap.Float64("price", quote.Price))
	}
	return snapshots, nil
}

func (s *RebalanceService) lookupUnits(ctx context.Context, accountID, coin string) float64 {
	if s.accounts != nil {
		balances, err := s.accounts.ListCoins(ctx, accountID)
		if err == nil {
			for _, b := range balances {
				if b.Coin == coin && b.Amount > 0 {
					return b.Amount
				}
			}
		} else {
			s.logger.Warn("account balance lookup failed", zap.String("account", accountID), zap.Error(err))
		}
	}
	return 1.0
}

// performSwap drives the executor call and all bookkeeping around it. The
// in-flight marker is persisted before the call and cleared afterwards no
// matter how the call ends.
func (s *RebalanceService) performSwap(ctx context.Context, bot *domain.Bot, state *domain.BotState, quotes map[string]domain.Quote, heldUnits float64, heldQuote domain.Quote, target Evaluation) error {
	amount, err := s.sizing.Amount(ctx, bot, heldUnits, heldQuote.Price)
	if err != nil {
		return fmt.Errorf("sizing: %w", err)
	}

	tradeID := uuid.NewString()
	state.ActiveTradeID = tradeID
	if err := s.states.SaveState(ctx, state); err != nil {
		return fmt.Errorf("persist in-flight marker: %w", err)
	}

	fromCoin := state.CurrentCoin
	result, execErr := s.executor.Execute(ctx, bot.AccountID, fromCoin, target.Coin, amount)
	state.ActiveTradeID = ""

	now := time.Now().UTC()
	if execErr != nil {
		ee := domain.AsExecutionError(execErr)
		trade := &domain.Trade{
			BotID:       bot.ID,
			TradeID:     tradeID,
			FromCoin:    fromCoin,
			ToCoin:      target.Coin,
			PriceChange: target.Deviation,
			Status:      domain.TradeFailed,
			ExecutedAt:  now,
		}
		if err := s.audit.SaveTrade(ctx, trade); err != nil {
			return fmt.Errorf("save failed trade: %w", err)
		}
		return ee
	}

	if result.TradeID != "" {
		tradeID = result.TradeID
	}
	trade := &domain.Trade{
		BotID:            bot.ID,
		TradeID:          tradeID,
		FromCoin:         fromCoin,
		ToCoin:           target.Coin,
		FromAmount:       result.FromAmount,
		ToAmount:         result.ToAmount,
		CommissionAmount: result.CommissionAmount,
		CommissionRate:   result.CommissionRate,
		PriceChange:      target.Deviation,
		Status:           domain.TradeCompleted,
		ExecutedAt:       now,
	}
	if err := s.audit.SaveTrade(ctx, trade); err != nil {
		return fmt.Errorf("save trade: %w", err)
	}

	// New baseline for the newly held coin; the source coin's snapshot
	// persists untouched apart from its unit bookkeeping.
	targetSnap, err := s.states.GetSnapshot(ctx, bot.ID, target.Coin)
	if err != nil {
		targetSnap = &domain.PriceSnapshot{BotID: bot.ID, Coin: target.Coin}
	}
	targetSnap.Price = target.Price
	targetSnap.UnitsHeld = result.ToAmount
	targetSnap.WasEverHeld = true
	if result.ToAmount > targetSnap.MaxUnits {
		targetSnap.MaxUnits = result.ToAmount
	}
	targetSnap.TakenAt = now
	if err := s.states.SaveSnapshot(ctx, targetSnap); err != nil {
		return fmt.Errorf("save target snapshot: %w", err)
	}

	if fromSnap, err := s.states.GetSnapshot(ctx, bot.ID, fromCoin); err == nil && fromSnap != nil {
		fromSnap.UnitsHeld = 0
		if err := s.states.SaveSnapshot(ctx, fromSnap); err != nil {
			return fmt.Errorf("save source snapshot: %w", err)
		}
	}

	state.CurrentCoin = target.Coin
	state.TotalCommissionsPaid += result.CommissionAmount

	s.logger.Info("swap executed",
		zap.Int64("bot", bot.ID),
		zap.String("from", fromCoin),
		zap.String("to", target.Coin),
		zap.Float64("deviation_pct", target.Deviation),
		zap.Float64("to_amount", result.ToAmount),
		zap.Float64("commission", result.CommissionAmount))
	return nil
}

// SellToStablecoin liquidates the bot's entire current holding into its
// preferred stablecoin through the same executor boundary as swaps.
func (s *RebalanceService) SellToStablecoin(ctx context.Context, botID int64) (*domain.Trade, error) {
	bot, err := s.bots.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	state, err := s.states.GetState(ctx, botID)
	if err != nil {
		return nil, err
	}
	if state.CurrentCoin == "" || state.CurrentCoin == bot.Stablecoin {
		return nil, fmt.Errorf("nothing to sell: holding %q", state.CurrentCoin)
	}

	tradeID := uuid.NewString()
	state.ActiveTradeID = tradeID
	if err := s.states.SaveState(ctx, state); err != nil {
		return nil, err
	}

	fromCoin := state.CurrentCoin
	result, execErr := s.executor.Execute(ctx, bot.AccountID, fromCoin, bot.Stablecoin, 0)
	state.ActiveTradeID = ""

	now := time.Now().UTC()
	trade := &domain.Trade{
		BotID:      botID,
		TradeID:    tradeID,
		FromCoin:   fromCoin,
		ToCoin:     bot.Stablecoin,
		ExecutedAt: now,
	}
	if execErr != nil {
		trade.Status = domain.TradeFailed
		if err := s.audit.SaveTrade(ctx, trade); err != nil {
			return nil, err
		}
		if err := s.states.SaveState(ctx, state); err != nil {
			return nil, err
		}
		return trade, domain.AsExecutionError(execErr)
	}

	trade.Status = domain.TradeCompleted
	trade.FromAmount = result.FromAmount
	trade.ToAmount = result.ToAmount
	trade.CommissionAmount = result.CommissionAmount
	trade.CommissionRate = result.CommissionRate
	if err := s.audit.SaveTrade(ctx, trade); err != nil {
		return nil, err
	}

	state.CurrentCoin = bot.Stablecoin
	state.TotalCommissionsPaid += result.CommissionAmount
	if err := s.states.SaveState(ctx, state); err != nil {
		return nil, err
	}
	s.logger.Info("holding liquidated to stablecoin",
		zap.Int64("bot", botID), zap.String("from", fromCoin), zap.String("to", bot.Stablecoin))
	return trade, nil
}

// Reset reinitializes bot state. Soft keeps the current coin and zeroes the
// counters; hard additionally reverts to the initial coin, optionally
// liquidating the holding first. The scheduler guarantees no cycle is
// running when this is called.
func (s *RebalanceService) Reset(ctx context.Context, botID int64, opts domain.ResetOptions) error {
	bot, err := s.bots.GetBot(ctx, botID)
	if err != nil {
		return err
	}
	state, err := s.states.GetState(ctx, botID)
	if err != nil {
		return err
	}

	if opts.Type == domain.ResetHard && opts.LiquidateToStablecoin {
		if _, err := s.SellToStablecoin(ctx, botID); err != nil {
			return fmt.Errorf("liquidate before hard reset: %w", err)
		}
		if state, err = s.states.GetState(ctx, botID); err != nil {
			return err
		}
	}

	state.TotalCommissionsPaid = 0
	state.ActiveTradeID = ""
	state.GlobalPeakValue = s.currentValueOrZero(ctx, bot, state)
	state.MinAcceptableValue = state.GlobalPeakValue * (1 - bot.ProtectionPct/100)

	if opts.Type == domain.ResetHard {
		state.CurrentCoin = bot.InitialCoin
		if err := s.states.DeleteSnapshots(ctx, botID); err != nil {
			return fmt.Errorf("clear snapshots: %w", err)
		}
	}

	if err := s.states.SaveState(ctx, state); err != nil {
		return err
	}
	s.logger.Info("bot state reset",
		zap.Int64("bot", botID),
		zap.String("type", string(opts.Type)),
		zap.Bool("liquidated", opts.LiquidateToStablecoin))
	return nil
}

// currentValueOrZero prices the current holding so a reset can re-seed the
// peak. A price failure degrades to zero; the next cycle re-establishes the
// peak from live prices.
func (s *RebalanceService) currentValueOrZero(ctx context.Context, bot *domain.Bot, state *domain.BotState) float64 {
	if state.CurrentCoin == "" {
		return 0
	}
	source, err := s.sources.Resolve(bot.PriceSource, bot.FallbackSource)
	if err != nil {
		return 0
	}
	quote, err := source.GetPrice(ctx, state.CurrentCoin)
	if err != nil {
		return 0
	}
	units := 1.0
	if snap, err := s.states.GetSnapshot(ctx, bot.ID, state.CurrentCoin); err == nil && snap != nil && snap.UnitsHeld > 0 {
		units = snap.UnitsHeld
	}
	return units * quote.Price
}
