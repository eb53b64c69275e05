package usecase

import "github.com/vitos/crypto_rebalancer/internal/domain"

// ProtectionReason is the exact ledger text written when the drawdown veto
// blocks a cycle. The dashboard matches on it, so it must stay stable.
const ProtectionReason = "TRADE PREVENTED BY PROFIT PROTECTION"

// ProtectionResult is the verdict of one protection evaluation.
type ProtectionResult struct {
	CurrentValue    float64
	PeakValue       float64
	DrawdownPercent float64
	Triggered       bool
}

// ProtectionEvaluator tracks the portfolio's peak value and vetoes swaps
// while the current value sits too far below it. It runs strictly before
// candidate selection: the veto is a hard gate, never a tie-break.
type ProtectionEvaluator struct{}

func NewProtectionEvaluator() *ProtectionEvaluator {
	return &ProtectionEvaluator{}
}

// Evaluate updates state's peak and protection floor from currentValue and
// reports whether the drawdown veto is active for this cycle. The peak only
// ever rises here; Reset is the one place it comes back down.
func (p *ProtectionEvaluator) Evaluate(state *domain.BotState, currentValue, tolerancePct float64) ProtectionResult {
	if currentValue > state.GlobalPeakValue {
		state.GlobalPeakValue = currentValue
	}
	state.MinAcceptableValue = state.GlobalPeakValue * (1 - tolerancePct/100)

	res := ProtectionResult{
		CurrentValue: currentValue,
		PeakValue:    state.GlobalPeakValue,
	}
	if state.GlobalPeakValue <= 0 {
		return res
	}

	res.DrawdownPercent = (state.GlobalPeakValue - currentValue) / state.GlobalPeakValue * 100
	res.Triggered = res.DrawdownPercent > tolerancePct
	return res
}
