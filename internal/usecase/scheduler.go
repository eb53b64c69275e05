package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/zap"
)

// BotScheduler drives one independent timer loop per enabled bot. Cycles
// for one bot are strictly serialized by a single-flight guard; cycles for
// different bots run concurrently and share nothing but the store.
type BotScheduler struct {
	bots    domain.BotRepository
	service *RebalanceService
	logger  *zap.Logger

	mu       sync.Mutex
	baseCtx  context.Context         // runner lifetime, captured at Start
	runners  map[int64]chan struct{} // per-bot stop channel
	inFlight map[int64]bool

	wg sync.WaitGroup
}

func NewBotScheduler(bots domain.BotRepository, service *RebalanceService, logger *zap.Logger) *BotScheduler {
	return &BotScheduler{
		bots:     bots,
		service:  service,
		logger:   logger,
		runners:  make(map[int64]chan struct{}),
		inFlight: make(map[int64]bool),
	}
}

// Start recovers stale state and launches a runner for every enabled bot.
// The context bounds the lifetime of all runners, including ones started
// later through Toggle.
func (sch *BotScheduler) Start(ctx context.Context) error {
	sch.mu.Lock()
	sch.baseCtx = ctx
	sch.mu.Unlock()

	bots, err := sch.bots.ListBots(ctx)
	if err != nil {
		return fmt.Errorf("list bots: %w", err)
	}
	for _, bot := range bots {
		if err := sch.service.RecoverState(ctx, bot.ID); err != nil {
			sch.logger.Error("state recovery failed, bot not scheduled",
				zap.Int64("bot", bot.ID), zap.Error(err))
			continue
		}
		if bot.Enabled {
			sch.startRunner(bot)
		}
	}
	return nil
}

// Stop halts all runners and waits for in-flight cycles to finish.
func (sch *BotScheduler) Stop() {
	sch.mu.Lock()
	for id, stop := range sch.runners {
		close(stop)
		delete(sch.runners, id)
	}
	sch.mu.Unlock()
	sch.wg.Wait()
}

// startRunner launches the bot's ticker loop on the scheduler's base
// context, never a caller's. A request-scoped context here would kill the
// runner as soon as the request finished.
func (sch *BotScheduler) startRunner(bot *domain.Bot) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	if _, exists := sch.runners[bot.ID]; exists {
		return
	}
	ctx := sch.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	stop := make(chan struct{})
	sch.runners[bot.ID] = stop

	interval := time.Duration(bot.CheckInterval) * time.Minute
	if interval <= 0 {
		interval = time.Minute
	}

	sch.wg.Add(1)
	go func() {
		defer sch.wg.Done()
		defer func() {
			// Drop the registration when the loop exits on its own, so a
			// later Toggle can schedule the bot again.
			sch.mu.Lock()
			if cur, ok := sch.runners[bot.ID]; ok && cur == stop {
				delete(sch.runners, bot.ID)
			}
			sch.mu.Unlock()
		}()
		sch.logger.Info("bot scheduled",
			zap.Int64("bot", bot.ID), zap.String("name", bot.Name), zap.Duration("interval", interval))

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Run immediately first time.
		sch.TriggerCycle(ctx, bot.ID)

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				sch.TriggerCycle(ctx, bot.ID)
			}
		}
	}()
}

func (sch *BotScheduler) stopRunner(botID int64) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	if stop, ok := sch.runners[botID]; ok {
		close(stop)
		delete(sch.runners, botID)
	}
}

// tryAcquire marks the bot Running. Returns false when a cycle is already
// in flight, which makes concurrent triggers a no-op.
func (sch *BotScheduler) tryAcquire(botID int64) bool {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	if sch.inFlight[botID] {
		return false
	}
	sch.inFlight[botID] = true
	return true
}

func (sch *BotScheduler) release(botID int64) {
	sch.mu.Lock()
	delete(sch.inFlight, botID)
	sch.mu.Unlock()
}

// TriggerCycle runs one cycle for the bot unless one is already running.
// It returns true when a cycle actually ran. The bot always comes back to
// Idle, whatever the cycle did.
func (sch *BotScheduler) TriggerCycle(ctx context.Context, botID int64) bool {
	if !sch.tryAcquire(botID) {
		sch.logger.Debug("cycle already in flight, skipping", zap.Int64("bot", botID))
		return false
	}
	defer sch.release(botID)

	if err := sch.service.RunCycle(ctx, botID); err != nil {
		sch.logger.Error("cycle failed", zap.Int64("bot", botID), zap.Error(err))
	}
	return true
}

// Toggle flips the enabled flag and starts or stops the bot's runner.
// Disabling never interrupts a running cycle; it only prevents the next
// timer fire.
func (sch *BotScheduler) Toggle(ctx context.Context, botID int64) (bool, error) {
	bot, err := sch.bots.GetBot(ctx, botID)
	if err != nil {
		return false, err
	}
	enabled := !bot.Enabled
	if err := sch.bots.SetEnabled(ctx, botID, enabled); err != nil {
		return false, err
	}
	if enabled {
		bot.Enabled = true
		sch.startRunner(bot)
	} else {
		sch.stopRunner(botID)
	}
	sch.logger.Info("bot toggled", zap.Int64("bot", botID), zap.Bool("enabled", enabled))
	return enabled, nil
}

// Reset runs a state reset, refusing while a cycle is in flight. The
// single-flight slot is held for the duration so no cycle can start
// mid-reset.
func (sch *BotScheduler) Reset(ctx context.Context, botID int64, opts domain.ResetOptions) error {
	if !sch.tryAcquire(botID) {
		return fmt.Errorf("bot %d has a cycle running, reset refused", botID)
	}
	defer sch.release(botID)
	return sch.service.Reset(ctx, botID, opts)
}

// SellHolding performs the manual sell-to-stablecoin operation under the
// same exclusivity as a cycle.
func (sch *BotScheduler) SellHolding(ctx context.Context, botID int64) (*domain.Trade, error) {
	if !sch.tryAcquire(botID) {
		return nil, fmt.Errorf("bot %d has a cycle running, sell refused", botID)
	}
	defer sch.release(botID)
	return sch.service.SellToStablecoin(ctx, botID)
}
