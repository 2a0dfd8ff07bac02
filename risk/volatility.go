package risk

import (
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VOLATILITY ADJUSTER - ATR + fear-index stop sizing
// ═══════════════════════════════════════════════════════════════════════════════

// Adjuster computes stop distances from local volatility (ATR) and a
// macro fear-index input.
//
// EntryWiden is a one-time widening applied in a volatile entry; Trail is
// recomputed fresh every cycle. Trail deliberately ignores the fear index:
// a macro-fear signal updates far slower than price and would make the
// stop stick instead of following price smoothly.
type Adjuster struct {
	fearThreshold  decimal.Decimal // fear index level where widening starts
	widenCap       decimal.Decimal // multiplier ceiling, e.g. 2.0
	baseRiskFactor decimal.Decimal // base ATR multiple for entry stops
	trailMult      decimal.Decimal // fixed trailing factor, e.g. 1.5
}

// NewAdjuster creates an adjuster with the given tunables
func NewAdjuster(fearThreshold, widenCap, baseRiskFactor, trailMult decimal.Decimal) *Adjuster {
	return &Adjuster{
		fearThreshold:  fearThreshold,
		widenCap:       widenCap,
		baseRiskFactor: baseRiskFactor,
		trailMult:      trailMult,
	}
}

// EntryWiden returns the widened stop distance for a volatile entry.
// The multiplier is 1.0 while the fear index sits below the threshold and
// scales linearly up to the cap as the index rises above it.
func (a *Adjuster) EntryWiden(atr, fearIndex decimal.Decimal) decimal.Decimal {
	mult := decimal.NewFromInt(1)

	if fearIndex.GreaterThan(a.fearThreshold) && a.fearThreshold.IsPositive() {
		excess := fearIndex.Sub(a.fearThreshold).Div(a.fearThreshold)
		mult = mult.Add(excess)
		if mult.GreaterThan(a.widenCap) {
			mult = a.widenCap
		}
	}

	return atr.Mul(mult).Mul(a.baseRiskFactor)
}

// ShouldWiden reports whether the fear index calls for entry widening
func (a *Adjuster) ShouldWiden(fearIndex decimal.Decimal) bool {
	return fearIndex.GreaterThan(a.fearThreshold)
}

// Trail returns the continuous trailing distance for the given ATR
func (a *Adjuster) Trail(atr decimal.Decimal) decimal.Decimal {
	return atr.Mul(a.trailMult)
}
