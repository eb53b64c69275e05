package usecase

import (
	"errors"
	"fmt"

	"github.com/vitos/crypto_rebalancer/internal/domain"
)

// Outcome classifies how a candidate fared in one evaluation cycle.
type Outcome string

const (
	OutcomeEligible       Outcome = "ELIGIBLE"
	OutcomeBelowThreshold Outcome = "NOT_TRADED_THRESHOLD"
	OutcomeCommissionGate Outcome = "NOT_TRADED_COMMISSION"
	OutcomeUnitProtection Outcome = "NOT_TRADED_UNITS"
	OutcomeNoBaseline     Outcome = "NO_BASELINE"
	OutcomeNoPrice        Outcome = "PRICE_UNAVAILABLE"
)

// Evaluation is the result of judging one candidate coin against the held
// coin. One Evaluation becomes one SwapDecisionRecord.
type Evaluation struct {
	Coin      string
	Price     float64
	Snapshot  float64
	Deviation float64
	Outcome   Outcome
	Reason    string
}

// Eligible reports whether the candidate passed every gate.
func (e Evaluation) Eligible() bool { return e.Outcome == OutcomeEligible }

// SelectorInput carries everything the selector needs for one cycle.
type SelectorInput struct {
	HeldCoin       string
	HeldPrice      float64
	HeldSnapshot   float64
	HeldValue      float64  // current holding value in stablecoin terms
	Candidates     []string // bot's configured order, held coin excluded
	Quotes         map[string]domain.Quote
	Snapshots      map[string]*domain.PriceSnapshot
	Threshold      float64
	CommissionRate float64
	UnitProtection bool
}

// CandidateSelector ranks target coins by deviation and applies the
// threshold, commission, and optional unit re-entry gates.
type CandidateSelector struct {
	calc *DeviationCalculator
}

func NewCandidateSelector() *CandidateSelector {
	return &CandidateSelector{calc: NewDeviationCalculator()}
}

// Evaluate judges every candidate and returns the evaluations in the bot's
// configured coin order plus the index of the winner, or -1 when no
// candidate qualifies. Iterating in config order and requiring a strictly
// higher deviation to replace the leader makes ties deterministic: the
// earliest configured coin wins.
func (s *CandidateSelector) Evaluate(in SelectorInput) ([]Evaluation, int) {
	evals := make([]Evaluation, 0, len(in.Candidates))
	winner := -1
	var winnerDeviation float64

	for _, coin := range in.Candidates {
		ev := Evaluation{Coin: coin}

		quote, ok := in.Quotes[coin]
		if !ok {
			ev.Outcome = OutcomeNoPrice
			ev.Reason = "price unavailable from all sources"
			evals = append(evals, ev)
			continue
		}
		ev.Price = quote.Price

		snap := in.Snapshots[coin]
		if snap == nil {
			ev.Outcome = OutcomeNoBaseline
			ev.Reason = "no baseline snapshot for coin"
			evals = append(evals, ev)
			continue
		}
		ev.Snapshot = snap.Price

		deviation, err := s.calc.Deviation(in.HeldPrice, quote.Price, in.HeldSnapshot, snap.Price)
		if err != nil {
			if errors.Is(err, domain.ErrNoBaseline) {
				ev.Outcome = OutcomeNoBaseline
				ev.Reason = "no baseline: zero price or snapshot"
				evals = append(evals, ev)
				continue
			}
			ev.Outcome = OutcomeNoPrice
			ev.Reason = err.Error()
			evals = append(evals, ev)
			continue
		}
		ev.Deviation = deviation

		// Strict inequality: a deviation exactly at the threshold does
		// not qualify.
		if deviation <= in.Threshold {
			ev.Outcome = OutcomeBelowThreshold
			ev.Reason = fmt.Sprintf("deviation %.4f%% does not exceed threshold %.4f%%", deviation, in.Threshold)
			evals = append(evals, ev)
			continue
		}

		// Round-trip commission must leave a positive net gain.
		roundTrip := 2 * in.CommissionRate * 100
		if deviation-roundTrip <= 0 {
			ev.Outcome = OutcomeCommissionGate
			ev.Reason = fmt.Sprintf("commission would exceed gain: net %.4f%% after %.4f%% round trip", deviation-roundTrip, roundTrip)
			evals = append(evals, ev)
			continue
		}

		if in.UnitProtection && snap.WasEverHeld && quote.Price > 0 {
			estimatedUnits := in.HeldValue / quote.Price
			if estimatedUnits <= snap.MaxUnits {
				ev.Outcome = OutcomeUnitProtection
				ev.Reason = fmt.Sprintf("re-entry would yield %.6f units, already reached %.6f", estimatedUnits, snap.MaxUnits)
				evals = append(evals, ev)
				continue
			}
		}

		ev.Outcome = OutcomeEligible
		ev.Reason = fmt.Sprintf("deviation %.4f%% exceeds threshold %.4f%%", deviation, in.Threshold)
		if winner == -1 || deviation > winnerDeviation {
			winner = len(evals)
			winnerDeviation = deviation
		}
		evals = append(evals, ev)
	}

	return evals, winner
}
