package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/vitos/crypto_rebalancer/internal/domain"
)

// PaperExecutor simulates swap execution against live prices without
// touching an exchange. Balances start from a configured stablecoin float
// and follow the simulated fills, so paper bots behave like funded ones.
type PaperExecutor struct {
	prices         domain.PriceSource
	commissionRate float64

	mu       sync.Mutex
	balances map[string]float64 // accountID/coin -> units
}

func NewPaperExecutor(prices domain.PriceSource, commissionRate float64) *PaperExecutor {
	return &PaperExecutor{
		prices:         prices,
		commissionRate: commissionRate,
		balances:       make(map[string]float64),
	}
}

func key(accountID, coin string) string { return accountID + "/" + coin }

// Fund seeds a paper account with units of a coin.
func (p *PaperExecutor) Fund(accountID, coin string, units float64) {
	p.mu.Lock()
	p.balances[key(accountID, coin)] = units
	p.mu.Unlock()
}

func (p *PaperExecutor) ListCoins(ctx context.Context, accountID string) ([]domain.CoinBalance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prefix := accountID + "/"
	var out []domain.CoinBalance
	for k, units := range p.balances {
		if units <= 0 || len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		out = append(out, domain.CoinBalance{Coin: k[len(prefix):], Amount: units})
	}
	return out, nil
}

func (p *PaperExecutor) Execute(ctx context.Context, accountID, fromCoin, toCoin string, amount float64) (*domain.SwapResult, error) {
	fromQuote, err := p.prices.GetPrice(ctx, fromCoin)
	if err != nil {
		return nil, &domain.ExecutionError{Kind: domain.FailureUnknown, Err: err}
	}
	toQuote, err := p.prices.GetPrice(ctx, toCoin)
	if err != nil {
		return nil, &domain.ExecutionError{Kind: domain.FailureUnknown, Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.balances[key(accountID, fromCoin)]
	if held <= 0 {
		// Unfunded paper accounts trade one notional unit.
		held = 1.0
		p.balances[key(accountID, fromCoin)] = held
	}
	if amount <= 0 || amount > held {
		amount = held
	}

	gross := amount * fromQuote.Price
	commission := gross * p.commissionRate
	toUnits := (gross - commission) / toQuote.Price
	if toUnits <= 0 {
		return nil, &domain.ExecutionError{
			Kind: domain.FailureInsufficientFunds,
			Err:  fmt.Errorf("paper swap of %f %s yields no %s", amount, fromCoin, toCoin),
		}
	}

	p.balances[key(accountID, fromCoin)] = held - amount
	p.balances[key(accountID, toCoin)] += toUnits

	return &domain.SwapResult{
		FromAmount:       amount,
		ToAmount:         toUnits,
		CommissionAmount: commission,
		CommissionRate:   p.commissionRate,
	}, nil
}
