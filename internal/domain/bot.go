package domain

import "time"

// Bot is the rebalancing configuration for one trading group.
// It is owned by the configuration API; the engine only reads it,
// except for the Enabled flag which pause/resume toggles.
type Bot struct {
	ID             int64
	Name           string
	Enabled        bool
	Coins          []string // ordered; order breaks deviation ties
	InitialCoin    string
	Threshold      float64 // minimum deviation percent required to act
	CheckInterval  int     // minutes between cycles
	CommissionRate float64 // per-leg commission, e.g. 0.002 = 0.2%
	Stablecoin     string  // preferred stablecoin for valuation and liquidation
	AllocationPct  float64 // optional: percent of account balance per trade
	BudgetAmount   float64 // optional: fixed budget per trade, in stablecoin
	TakeProfitPct  float64 // optional
	ProtectionPct  float64 // allowed drawdown below peak before swaps are vetoed
	UnitProtection bool    // reject re-entry unless it yields more units than ever held
	AccountID      string
	PriceSource    string // primary provider name
	FallbackSource string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Candidates returns the configured coins other than held, in config order.
func (b *Bot) Candidates(held string) []string {
	out := make([]string, 0, len(b.Coins))
	for _, c := range b.Coins {
		if c != held {
			out = append(out, c)
		}
	}
	return out
}

// HasCoin reports whether coin is part of the bot's trading set.
func (b *Bot) HasCoin(coin string) bool {
	for _, c := range b.Coins {
		if c == coin {
			return true
		}
	}
	return false
}

// BotState is the mutable per-bot state. Exactly one in-flight cycle may
// mutate it at a time; the scheduler enforces that.
type BotState struct {
	BotID                int64
	CurrentCoin          string
	LastCheckTime        time.Time
	LastPriceUpdate      time.Time
	LastPriceSource      string
	ActiveTradeID        string // non-empty only while a swap is in flight
	TotalCommissionsPaid float64
	GlobalPeakValue      float64
	MinAcceptableValue   float64
	UpdatedAt            time.Time
}

// ResetType selects how much of the bot state a reset clears.
type ResetType string

const (
	// ResetSoft keeps the current coin but zeroes the peak and the
	// commission counters.
	ResetSoft ResetType = "soft"
	// ResetHard additionally reverts the current coin to the initial coin.
	ResetHard ResetType = "hard"
)

// ResetOptions parameterizes the reset operation.
type ResetOptions struct {
	Type                  ResetType
	LiquidateToStablecoin bool
}
