package usecase

import "github.com/vitos/crypto_rebalancer/internal/domain"

// DeviationCalculator computes relative price movement of a target coin
// against the held coin, measured from the recorded snapshot baseline.
type DeviationCalculator struct{}

func NewDeviationCalculator() *DeviationCalculator {
	return &DeviationCalculator{}
}

// Deviation returns the signed percent by which the target outperformed the
// base since the snapshots were taken:
//
//	currentRatio  = targetPrice / basePrice
//	originalRatio = targetSnapshot / baseSnapshot
//	deviation     = (currentRatio/originalRatio - 1) * 100
//
// A zero base price, zero snapshot, or zero original ratio means the pair
// has no usable baseline and is excluded from candidacy.
func (c *DeviationCalculator) Deviation(basePrice, targetPrice, baseSnapshot, targetSnapshot float64) (float64, error) {
	if basePrice == 0 || baseSnapshot == 0 || targetSnapshot == 0 {
		return 0, domain.ErrNoBaseline
	}
	currentRatio := targetPrice / basePrice
	originalRatio := targetSnapshot / baseSnapshot
	if originalRatio == 0 {
		return 0, domain.ErrNoBaseline
	}
	return (currentRatio/originalRatio - 1) * 100, nil
}
