package usecase

import (
	"context"

	"github.com/vitos/crypto_rebalancer/internal/domain"
)

// SizingPolicy decides how many units of the held coin one swap should
// move. A result <= 0 means "swap the full holding". The exact sizing
// algorithm is deliberately pluggable; the executor only sees the number.
type SizingPolicy interface {
	Amount(ctx context.Context, bot *domain.Bot, heldUnits, heldPrice float64) (float64, error)
}

// ConfiguredSizing is the default policy: a fixed stablecoin budget wins
// over an allocation percentage, and with neither set the whole holding
// moves.
type ConfiguredSizing struct{}

func NewConfiguredSizing() *ConfiguredSizing {
	return &ConfiguredSizing{}
}

func (p *ConfiguredSizing) Amount(ctx context.Context, bot *domain.Bot, heldUnits, heldPrice float64) (float64, error) {
	if bot.BudgetAmount > 0 && heldPrice > 0 {
		units := bot.BudgetAmount / heldPrice
		if units > heldUnits && heldUnits > 0 {
			units = heldUnits
		}
		return units, nil
	}
	if bot.AllocationPct > 0 && heldUnits > 0 {
		return heldUnits * bot.AllocationPct / 100, nil
	}
	return 0, nil // full holding
}
