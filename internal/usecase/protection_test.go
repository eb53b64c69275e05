package usecase

import (
	"math"
	"testing"

	"github.com/vitos/crypto_rebalancer/internal/domain"
)

func TestProtectionPeakOnlyRises(t *testing.T) {
	p := NewProtectionEvaluator()
	state := &domain.BotState{BotID: 1}

	p.Evaluate(state, 1000, 10)
	if state.GlobalPeakValue != 1000 {
		t.Fatalf("expected peak 1000, got %f", state.GlobalPeakValue)
	}

	p.Evaluate(state, 900, 10)
	if state.GlobalPeakValue != 1000 {
		t.Errorf("peak must not fall, got %f", state.GlobalPeakValue)
	}

	p.Evaluate(state, 1200, 10)
	if state.GlobalPeakValue != 1200 {
		t.Errorf("expected peak 1200, got %f", state.GlobalPeakValue)
	}
}

func TestProtectionFloorTracksPeak(t *testing.T) {
	p := NewProtectionEvaluator()
	state := &domain.BotState{BotID: 1}

	p.Evaluate(state, 1000, 10)
	if math.Abs(state.MinAcceptableValue-900) > 1e-9 {
		t.Errorf("expected floor 900, got %f", state.MinAcceptableValue)
	}
}

func TestProtectionTriggersBeyondTolerance(t *testing.T) {
	p := NewProtectionEvaluator()
	state := &domain.BotState{BotID: 1, GlobalPeakValue: 1000}

	// 15% below peak with 10% tolerance: veto.
	res := p.Evaluate(state, 850, 10)
	if !res.Triggered {
		t.Fatalf("expected protection to trigger at 15%% drawdown")
	}
	if math.Abs(res.DrawdownPercent-15) > 1e-9 {
		t.Errorf("expected 15%% drawdown, got %f", res.DrawdownPercent)
	}
}

func TestProtectionDrawdownAtToleranceDoesNotTrigger(t *testing.T) {
	p := NewProtectionEvaluator()
	state := &domain.BotState{BotID: 1, GlobalPeakValue: 1000}

	// Exactly 10% below peak: the veto requires strictly more.
	res := p.Evaluate(state, 900, 10)
	if res.Triggered {
		t.Errorf("drawdown equal to tolerance must not trigger")
	}
}

func TestProtectionZeroPeakNeverTriggers(t *testing.T) {
	p := NewProtectionEvaluator()
	state := &domain.BotState{BotID: 1}

	res := p.Evaluate(state, 0, 10)
	if res.Triggered {
		t.Errorf("unfunded state must not trigger protection")
	}
}
