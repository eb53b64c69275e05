package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_rebalancer/internal/domain"
)

// memStore is an in-memory implementation of the bot, state, and audit
// repositories, good enough to drive full cycles in tests.
type memStore struct {
	mu        sync.Mutex
	bots      map[int64]*domain.Bot
	states    map[int64]*domain.BotState
	snapshots map[string]*domain.PriceSnapshot
	decisions []*domain.SwapDecisionRecord
	trades    []*domain.Trade
	points    []*domain.PricePoint
}

func newMemStore() *memStore {
	return &memStore{
		bots:      make(map[int64]*domain.Bot),
		states:    make(map[int64]*domain.BotState),
		snapshots: make(map[string]*domain.PriceSnapshot),
	}
}

func snapKey(botID int64, coin string) string { return fmt.Sprintf("%d/%s", botID, coin) }

func (m *memStore) GetBot(ctx context.Context, id int64) (*domain.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return nil, fmt.Errorf("bot %d not found", id)
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) ListBots(ctx context.Context) ([]*domain.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Bot
	for _, b := range m.bots {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return fmt.Errorf("bot %d not found", id)
	}
	b.Enabled = enabled
	return nil
}

func (m *memStore) GetState(ctx context.Context, botID int64) (*domain.BotState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[botID]
	if !ok {
		return nil, fmt.Errorf("state for bot %d not found", botID)
	}
	cp := *st
	return &cp, nil
}

func (m *memStore) SaveState(ctx context.Context, state *domain.BotState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.states[state.BotID] = &cp
	return nil
}

func (m *memStore) GetSnapshot(ctx context.Context, botID int64, coin string) (*domain.PriceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[snapKey(botID, coin)]
	if !ok {
		return nil, fmt.Errorf("no snapshot for %s", coin)
	}
	cp := *snap
	return &cp, nil
}

func (m *memStore) ListSnapshots(ctx context.Context, botID int64) ([]*domain.PriceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PriceSnapshot
	for _, snap := range m.snapshots {
		if snap.BotID == botID {
			cp := *snap
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) SaveSnapshot(ctx context.Context, snap *domain.PriceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	m.snapshots[snapKey(snap.BotID, snap.Coin)] = &cp
	return nil
}

func (m *memStore) DeleteSnapshots(ctx context.Context, botID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, snap := range m.snapshots {
		if snap.BotID == botID {
			delete(m.snapshots, k)
		}
	}
	return nil
}

func (m *memStore) SaveDecision(ctx context.Context, rec *domain.SwapDecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.decisions = append(m.decisions, &cp)
	return nil
}

func (m *memStore) ListDecisions(ctx context.Context, botID int64, f domain.DecisionFilter) ([]*domain.SwapDecisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.SwapDecisionRecord
	for _, rec := range m.decisions {
		if rec.BotID == botID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *trade
	m.trades = append(m.trades, &cp)
	return nil
}

func (m *memStore) ListTrades(ctx context.Context, botID int64, f domain.TradeFilter) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.trades {
		if t.BotID == botID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) SavePricePoint(ctx context.Context, p *domain.PricePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.points = append(m.points, &cp)
	return nil
}

func (m *memStore) ListPricePoints(ctx context.Context, botID int64, coin string, since time.Time, limit int) ([]*domain.PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PricePoint
	for _, p := range m.points {
		if p.BotID == botID {
			out = append(out, p)
		}
	}
	return out, nil
}

// mockSource serves prices from a map and fails for absent coins.
type mockSource struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newMockSource(prices map[string]float64) *mockSource {
	return &mockSource{prices: prices}
}

func (s *mockSource) Name() string { return "mock" }

func (s *mockSource) SetPrice(coin string, price float64) {
	s.mu.Lock()
	s.prices[coin] = price
	s.mu.Unlock()
}

func (s *mockSource) GetPrice(ctx context.Context, coin string) (domain.Quote, error) {
	s.mu.Lock()
	price, ok := s.prices[coin]
	s.mu.Unlock()
	if !ok {
		return domain.Quote{}, domain.ErrPriceUnavailable
	}
	return domain.Quote{Coin: coin, Price: price, Source: s.Name(), Time: time.Now().UTC()}, nil
}

// stubResolver hands every bot the same source.
type stubResolver struct {
	source domain.PriceSource
}

func (r stubResolver) Resolve(primary, fallback string) (domain.PriceSource, error) {
	return r.source, nil
}

// mockExecutor records Execute calls and replies with a fixed result or
// error.
type mockExecutor struct {
	mu     sync.Mutex
	calls  int
	froms  []string
	tos    []string
	result *domain.SwapResult
	err    error
}

func (e *mockExecutor) Execute(ctx context.Context, accountID, fromCoin, toCoin string, amount float64) (*domain.SwapResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.froms = append(e.froms, fromCoin)
	e.tos = append(e.tos, toCoin)
	if e.err != nil {
		return nil, e.err
	}
	if e.result != nil {
		cp := *e.result
		return &cp, nil
	}
	return &domain.SwapResult{FromAmount: 1, ToAmount: 1}, nil
}

func (e *mockExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
