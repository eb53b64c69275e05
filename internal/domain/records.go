package domain

import "time"

// PriceSnapshot is the baseline price of a coin, captured at the moment the
// coin became the held coin. It is the denominator of deviation math and is
// only replaced when the coin becomes held again.
type PriceSnapshot struct {
	BotID       int64
	Coin        string
	Price       float64
	UnitsHeld   float64 // units held while this coin is the current coin
	WasEverHeld bool
	MaxUnits    float64 // highest unit count ever reached for this coin
	TakenAt     time.Time
}

// PricePoint is one observation in the append-only price time series.
type PricePoint struct {
	ID        int64
	BotID     int64
	Coin      string
	Price     float64
	Source    string
	Timestamp time.Time
}

// SwapDecisionRecord is the transparency ledger: one entry per candidate
// evaluated per cycle, whether or not a swap happened.
type SwapDecisionRecord struct {
	ID                  int64
	BotID               int64
	Timestamp           time.Time
	FromCoin            string
	ToCoin              string
	FromCoinPrice       float64
	ToCoinPrice         float64
	FromCoinSnapshot    float64
	ToCoinSnapshot      float64
	DeviationPercent    float64
	Threshold           float64
	GlobalPeakValue     float64
	ProtectionTriggered bool
	SwapPerformed       bool
	Reason              string
}

// TradeStatus is the lifecycle state of an executed swap.
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeCompleted TradeStatus = "completed"
	TradeFailed    TradeStatus = "failed"
)

// Trade records one swap execution attempt, successful or not.
type Trade struct {
	ID               int64
	BotID            int64
	TradeID          string // executor-assigned or internal id
	FromCoin         string
	ToCoin           string
	FromAmount       float64
	ToAmount         float64
	CommissionAmount float64
	CommissionRate   float64
	PriceChange      float64 // deviation percent that triggered the swap
	Status           TradeStatus
	ExecutedAt       time.Time
}

// DecisionFilter narrows history queries for the dashboard.
type DecisionFilter struct {
	FromCoin      string
	ToCoin        string
	Since         time.Time
	Until         time.Time
	SwapPerformed *bool
	Limit         int
	Offset        int
}

// TradeFilter narrows trade history queries.
type TradeFilter struct {
	FromCoin string
	ToCoin   string
	Since    time.Time
	Until    time.Time
	Status   TradeStatus
	Limit    int
	Offset   int
}
