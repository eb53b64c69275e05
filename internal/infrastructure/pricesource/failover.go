package pricesource

import (
	"context"
	"fmt"

	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/zap"
)

// Failover tries the primary provider and, on any failure, the fallback
// exactly once. The returned quote names the source that actually answered.
type Failover struct {
	primary  domain.PriceSource
	fallback domain.PriceSource
	logger   *zap.Logger
}

func NewFailover(primary, fallback domain.PriceSource, logger *zap.Logger) *Failover {
	return &Failover{primary: primary, fallback: fallback, logger: logger}
}

func (f *Failover) Name() string { return f.primary.Name() }

func (f *Failover) GetPrice(ctx context.Context, coin string) (domain.Quote, error) {
	quote, err := f.primary.GetPrice(ctx, coin)
	if err == nil {
		return quote, nil
	}
	if f.fallback == nil {
		return domain.Quote{}, fmt.Errorf("%w: %s failed for %s: %v", domain.ErrPriceUnavailable, f.primary.Name(), coin, err)
	}
	f.logger.Warn("primary price source failed, trying fallback",
		zap.String("primary", f.primary.Name()),
		zap.String("fallback", f.fallback.Name()),
		zap.String("coin", coin),
		zap.Error(err))

	quote, fbErr := f.fallback.GetPrice(ctx, coin)
	if fbErr == nil {
		return quote, nil
	}
	return domain.Quote{}, fmt.Errorf("%w: %s (%v), %s (%v)",
		domain.ErrPriceUnavailable, f.primary.Name(), err, f.fallback.Name(), fbErr)
}

// Registry holds the named providers and assembles per-bot failover chains.
type Registry struct {
	sources map[string]domain.PriceSource
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{sources: make(map[string]domain.PriceSource), logger: logger}
}

func (r *Registry) Register(s domain.PriceSource) {
	r.sources[s.Name()] = s
}

// Resolve builds the failover source for a bot's configured provider names.
// An empty fallback name yields a chain with no second attempt.
func (r *Registry) Resolve(primary, fallback string) (domain.PriceSource, error) {
	p, ok := r.sources[primary]
	if !ok {
		return nil, fmt.Errorf("unknown price source %q", primary)
	}
	var fb domain.PriceSource
	if fallback != "" && fallback != primary {
		fb, ok = r.sources[fallback]
		if !ok {
			return nil, fmt.Errorf("unknown fallback price source %q", fallback)
		}
	}
	return NewFailover(p, fb, r.logger), nil
}
