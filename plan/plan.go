package plan

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradesentry/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRADE PLAN - Declared conditional intent to enter a trade
// ═══════════════════════════════════════════════════════════════════════════════

// Status is the lifecycle state of a plan. Transitions are monotonic:
// once a plan reaches a terminal status it never moves again.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusTriggered Status = "TRIGGERED"
	StatusExecuted  Status = "EXECUTED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transition is allowed
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusExpired, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Class buckets plans by polling cadence
type Class string

const (
	// ClassFast plans carry at least one order-flow condition and are
	// polled on the short interval
	ClassFast Class = "FAST"
	// ClassStandard plans are polled on the long interval
	ClassStandard Class = "STANDARD"
)

// Condition is one typed predicate on a plan. Evaluate returns (met, known);
// known=false means the snapshot lacks the data this condition needs, which
// the evaluator treats as "not yet", never as an error.
type Condition interface {
	Name() string
	Evaluate(snap *types.Snapshot) (met bool, known bool)
}

// PriceNear passes when |price - target| <= tolerance
type PriceNear struct {
	Target    decimal.Decimal
	Tolerance decimal.Decimal
}

func (c PriceNear) Name() string {
	return fmt.Sprintf("price_near(%s±%s)", c.Target.String(), c.Tolerance.String())
}

func (c PriceNear) Evaluate(snap *types.Snapshot) (bool, bool) {
	if snap.Price.IsZero() {
		return false, false
	}
	return snap.Price.Sub(c.Target).Abs().LessThanOrEqual(c.Tolerance), true
}

// StructureKind selects which market-structure signal a StructureBreak waits for
type StructureKind string

const (
	BullishBOS   StructureKind = "BULLISH_BOS"
	BearishBOS   StructureKind = "BEARISH_BOS"
	BullishCHoCH StructureKind = "BULLISH_CHOCH"
	BearishCHoCH StructureKind = "BEARISH_CHOCH"
)

// StructureBreak passes when the snapshot confirms the given structure
// signal on the given timeframe
type StructureBreak struct {
	Kind      StructureKind
	Timeframe string // e.g. "M15"
}

func (c StructureBreak) Name() string {
	return fmt.Sprintf("structure(%s@%s)", c.Kind, c.Timeframe)
}

func (c StructureBreak) Evaluate(snap *types.Snapshot) (bool, bool) {
	st := snap.Structure
	if !st.Known {
		return false, false
	}
	if c.Timeframe != "" && st.Timeframe != c.Timeframe {
		// Structure block is for another timeframe: data missing, wait
		return false, false
	}
	switch c.Kind {
	case BullishBOS:
		return st.BullishBOS, true
	case BearishBOS:
		return st.BearishBOS, true
	case BullishCHoCH:
		return st.BullishCHoCH, true
	case BearishCHoCH:
		return st.BearishCHoCH, true
	}
	return false, true
}

// FlowKind selects which order-flow signal an OrderFlowSignal waits for
type FlowKind string

const (
	CVDBullish        FlowKind = "CVD_BULLISH"
	CVDBearish        FlowKind = "CVD_BEARISH"
	DivergenceBullish FlowKind = "DIVERGENCE_BULLISH"
	DivergenceBearish FlowKind = "DIVERGENCE_BEARISH"
)

// OrderFlowSignal passes when the snapshot's order-flow block shows the
// given signal
type OrderFlowSignal struct {
	Kind FlowKind
}

func (c OrderFlowSignal) Name() string {
	return fmt.Sprintf("order_flow(%s)", c.Kind)
}

func (c OrderFlowSignal) Evaluate(snap *types.Snapshot) (bool, bool) {
	of := snap.OrderFlow
	if !of.Known {
		return false, false
	}
	switch c.Kind {
	case CVDBullish:
		return of.CVDDirection == types.CVDBullish, true
	case CVDBearish:
		return of.CVDDirection == types.CVDBearish, true
	case DivergenceBullish:
		return of.BullishDivergence, true
	case DivergenceBearish:
		return of.BearishDivergence, true
	}
	return false, true
}

// TradePlan is a conditional intent to enter a trade once every declared
// condition holds against a single snapshot
type TradePlan struct {
	ID         string
	Symbol     string
	Direction  types.Direction
	Entry      decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Volume     decimal.Decimal
	Conditions []Condition

	Status    Status
	CreatedAt time.Time
	ExpiresAt time.Time

	// Observability
	LastCheckedAt time.Time
	CheckCount    int64
}

// New builds a PENDING plan with a fresh ID
func New(symbol string, dir types.Direction, entry, sl, tp, volume decimal.Decimal, conds []Condition, expiresAt time.Time) *TradePlan {
	return &TradePlan{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Direction:  dir,
		Entry:      entry,
		StopLoss:   sl,
		TakeProfit: tp,
		Volume:     volume,
		Conditions: conds,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
		ExpiresAt:  expiresAt,
	}
}

// ValidationError rejects a malformed plan at creation time. It never
// enters the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid plan: %s %s", e.Field, e.Reason)
}

// Validate checks plan structure synchronously at creation
func (p *TradePlan) Validate() error {
	if p.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "is required"}
	}
	if p.Direction != types.Buy && p.Direction != types.Sell {
		return &ValidationError{Field: "direction", Reason: "must be BUY or SELL"}
	}
	if !p.Volume.IsPositive() {
		return &ValidationError{Field: "volume", Reason: "must be positive"}
	}
	if !p.Entry.IsPositive() {
		return &ValidationError{Field: "entry", Reason: "must be positive"}
	}
	if len(p.Conditions) == 0 {
		return &ValidationError{Field: "conditions", Reason: "at least one is required"}
	}
	if !p.ExpiresAt.After(time.Now()) {
		return &ValidationError{Field: "expires_at", Reason: "must be in the future"}
	}
	if p.Direction == types.Buy {
		if p.StopLoss.GreaterThanOrEqual(p.Entry) {
			return &ValidationError{Field: "stop_loss", Reason: "must be below entry for BUY"}
		}
		if p.TakeProfit.LessThanOrEqual(p.Entry) {
			return &ValidationError{Field: "take_profit", Reason: "must be above entry for BUY"}
		}
	} else {
		if p.StopLoss.LessThanOrEqual(p.Entry) {
			return &ValidationError{Field: "stop_loss", Reason: "must be above entry for SELL"}
		}
		if p.TakeProfit.GreaterThanOrEqual(p.Entry) {
			return &ValidationError{Field: "take_profit", Reason: "must be below entry for SELL"}
		}
	}
	return nil
}

// HasOrderFlowCondition reports whether the plan belongs to the fast
// polling class
func (p *TradePlan) HasOrderFlowCondition() bool {
	for _, c := range p.Conditions {
		if _, ok := c.(OrderFlowSignal); ok {
			return true
		}
	}
	return false
}

// PollClass returns the plan's scheduling class
func (p *TradePlan) PollClass() Class {
	if p.HasOrderFlowCondition() {
		return ClassFast
	}
	return ClassStandard
}

// Expired reports whether the plan is past its expiry at now
func (p *TradePlan) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// PotentialProfit is |TP - entry| * volume, the basis for exit thresholds
func (p *TradePlan) PotentialProfit() decimal.Decimal {
	return p.TakeProfit.Sub(p.Entry).Abs().Mul(p.Volume)
}
