package usecase

import (
	"errors"
	"math"
	"testing"

	"github.com/vitos/crypto_rebalancer/internal/domain"
)

func TestDeviationTargetOutperforms(t *testing.T) {
	calc := NewDeviationCalculator()

	// Held BTC flat at 50000, ETH moved 3000 -> 3300: ETH outperformed
	// by exactly 10%.
	dev, err := calc.Deviation(50000, 3300, 50000, 3000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(dev-10.0) > 1e-9 {
		t.Errorf("expected deviation 10%%, got %f", dev)
	}
}

func TestDeviationIsRelativeNotAbsolute(t *testing.T) {
	calc := NewDeviationCalculator()

	// Both coins doubled: the ratio is unchanged, deviation is zero.
	dev, err := calc.Deviation(100000, 6000, 50000, 3000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(dev) > 1e-9 {
		t.Errorf("expected zero deviation, got %f", dev)
	}
}

func TestDeviationNegativeWhenTargetLags(t *testing.T) {
	calc := NewDeviationCalculator()

	// Held rose 10%, target flat: target underperformed.
	dev, err := calc.Deviation(55000, 3000, 50000, 3000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dev >= 0 {
		t.Errorf("expected negative deviation, got %f", dev)
	}
}

func TestDeviationZeroBaseline(t *testing.T) {
	calc := NewDeviationCalculator()

	cases := []struct {
		name                       string
		basePrice, targetPrice     float64
		baseSnap, targetSnap       float64
	}{
		{"zero base price", 0, 3300, 50000, 3000},
		{"zero base snapshot", 50000, 3300, 0, 3000},
		{"zero target snapshot", 50000, 3300, 50000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := calc.Deviation(tc.basePrice, tc.targetPrice, tc.baseSnap, tc.targetSnap); !errors.Is(err, domain.ErrNoBaseline) {
				t.Errorf("expected ErrNoBaseline, got %v", err)
			}
		})
	}
}
