package domain

import (
	"context"
	"time"
)

// Quote is one normalized price answer, regardless of which provider
// produced it.
type Quote struct {
	Coin   string
	Price  float64
	Source string
	Time   time.Time
}

// PriceSource fetches the current price of a coin in USD terms.
type PriceSource interface {
	Name() string
	GetPrice(ctx context.Context, coin string) (Quote, error)
}

// CoinBalance is one holding on the exchange account.
type CoinBalance struct {
	Coin        string
	Amount      float64
	AmountInUSD float64
}

// AccountClient looks up holdings on the exchange account backing a bot.
type AccountClient interface {
	ListCoins(ctx context.Context, accountID string) ([]CoinBalance, error)
}

// SwapResult is what a completed swap realized.
type SwapResult struct {
	TradeID          string
	FromAmount       float64
	ToAmount         float64
	CommissionAmount float64
	CommissionRate   float64
}

// TradeExecutor is the external order-placement boundary. Execute is treated
// as a single atomic call: either it returns a result or an *ExecutionError.
// amount <= 0 means "swap the full holding".
type TradeExecutor interface {
	Execute(ctx context.Context, accountID, fromCoin, toCoin string, amount float64) (*SwapResult, error)
}

// BotRepository reads bot configuration. The engine never creates or edits
// bots; the configuration API owns them. SetEnabled backs pause/resume.
type BotRepository interface {
	GetBot(ctx context.Context, id int64) (*Bot, error)
	ListBots(ctx context.Context) ([]*Bot, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
}

// StateRepository persists the mutable per-bot state and snapshots.
type StateRepository interface {
	GetState(ctx context.Context, botID int64) (*BotState, error)
	SaveState(ctx context.Context, state *BotState) error

	GetSnapshot(ctx context.Context, botID int64, coin string) (*PriceSnapshot, error)
	ListSnapshots(ctx context.Context, botID int64) ([]*PriceSnapshot, error)
	SaveSnapshot(ctx context.Context, snap *PriceSnapshot) error
	DeleteSnapshots(ctx context.Context, botID int64) error
}

// AuditRepository is the append-only side: decisions, trades, price points.
type AuditRepository interface {
	SaveDecision(ctx context.Context, rec *SwapDecisionRecord) error
	ListDecisions(ctx context.Context, botID int64, filter DecisionFilter) ([]*SwapDecisionRecord, error)

	SaveTrade(ctx context.Context, trade *Trade) error
	ListTrades(ctx context.Context, botID int64, filter TradeFilter) ([]*Trade, error)

	SavePricePoint(ctx context.Context, p *PricePoint) error
	ListPricePoints(ctx context.Context, botID int64, coin string, since time.Time, limit int) ([]*PricePoint, error)
}
