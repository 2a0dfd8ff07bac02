package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Direction is the side of a trade
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// CVDDirection is the current cumulative-volume-delta lean
type CVDDirection string

const (
	CVDBullish CVDDirection = "BULLISH"
	CVDBearish CVDDirection = "BEARISH"
	CVDNeutral CVDDirection = "NEUTRAL"
)

// OrderFlow carries the order-flow block of a market snapshot.
// Delivered by the data collaborator; never computed here.
type OrderFlow struct {
	Delta             decimal.Decimal `json:"delta"`
	CVDDirection      CVDDirection    `json:"cvd_direction"`
	BullishDivergence bool            `json:"bullish_divergence"`
	BearishDivergence bool            `json:"bearish_divergence"`
	Known             bool            `json:"known"` // false when the flow feed is degraded
}

// Structure carries the market-structure block of a snapshot
type Structure struct {
	BullishBOS   bool   `json:"bullish_bos"`
	BearishBOS   bool   `json:"bearish_bos"`
	BullishCHoCH bool   `json:"bullish_choch"`
	BearishCHoCH bool   `json:"bearish_choch"`
	Timeframe    string `json:"timeframe"` // e.g. "M15"
	Known        bool   `json:"known"`
}

// Snapshot is a point-in-time view of one symbol, delivered by the
// data-ingestion collaborator. The evaluator treats it as a fact, not a
// live subscription; bounded staleness is expected.
type Snapshot struct {
	Symbol          string          `json:"symbol"`
	Price           decimal.Decimal `json:"price"`
	ATR             decimal.Decimal `json:"atr"`
	VolatilityIndex decimal.Decimal `json:"volatility_index"`
	OrderFlow       OrderFlow       `json:"order_flow"`
	Structure       Structure       `json:"structure"`
	TakenAt         time.Time       `json:"taken_at"`
}

// Age returns how old the snapshot is
func (s *Snapshot) Age() time.Duration {
	return time.Since(s.TakenAt)
}

// IsFresh reports whether the snapshot is younger than ttl
func (s *Snapshot) IsFresh(ttl time.Duration) bool {
	return s.Age() <= ttl
}

// PositionState tracks where a position sits in its exit lifecycle
type PositionState string

const (
	PositionOpen           PositionState = "OPEN"
	PositionBreakevenArmed PositionState = "BREAKEVEN_ARMED"
	PositionTrailing       PositionState = "TRAILING"
	PositionPartialTaken   PositionState = "PARTIAL_TAKEN"
	PositionClosed         PositionState = "CLOSED"
)

// Position represents a live trade owned by the exit state machine
type Position struct {
	Ticket     string
	Symbol     string
	Direction  Direction
	EntryPrice decimal.Decimal
	Volume     decimal.Decimal
	CurrentSL  decimal.Decimal
	CurrentTP  decimal.Decimal
	State      PositionState
	OpenedAt   time.Time

	// Sibling bracket order, cancelled best-effort once this leg fills
	OCOSibling string

	// Fixed at open: |TP - entry| * volume. Exit thresholds are
	// percentages of this value.
	PotentialProfit decimal.Decimal

	// Order flow observed at entry, for flip-exit comparison
	EntryOrderFlow OrderFlow

	// One-shot flags, each settable exactly once
	BreakevenTriggered      bool
	PartialTriggered        bool
	HybridAdjustmentApplied bool

	// Last stop written by the trailing step, for idempotent-write detection
	LastTrailingSL decimal.Decimal
}

// UnrealizedProfit returns the signed open profit at price
func (p *Position) UnrealizedProfit(price decimal.Decimal) decimal.Decimal {
	if p.Direction == Buy {
		return price.Sub(p.EntryPrice).Mul(p.Volume)
	}
	return p.EntryPrice.Sub(price).Mul(p.Volume)
}

// Event kinds emitted to the notification sink
const (
	EventPlanExecuted     = "PLAN_EXECUTED"
	EventPlanFailed       = "PLAN_FAILED"
	EventPlanExpired      = "PLAN_EXPIRED"
	EventPlanCancelled    = "PLAN_CANCELLED"
	EventBreakevenArmed   = "BREAKEVEN_ARMED"
	EventPartialTaken     = "PARTIAL_TAKEN"
	EventTrailingAdjusted = "TRAILING_ADJUSTED"
	EventPositionClosed   = "POSITION_CLOSED"
)

// Event is a structured, fire-and-forget notification
type Event struct {
	Kind      string
	PlanID    string
	Ticket    string
	Payload   map[string]string
	Timestamp time.Time
}

// NewEvent builds an event stamped with the current time
func NewEvent(kind string, payload map[string]string) Event {
	if payload == nil {
		payload = make(map[string]string)
	}
	return Event{Kind: kind, Payload: payload, Timestamp: time.Now()}
}
