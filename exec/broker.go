package exec

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradesentry/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BROKER CONTRACT - External execution venue
// ═══════════════════════════════════════════════════════════════════════════════

// OrderType identifies how an order rests at the venue
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
	OrderStop   OrderType = "STOP"
)

// ResultCode classifies a broker response. Requote and timeout are
// transient and safe to retry; rejected is not.
type ResultCode string

const (
	CodeOK       ResultCode = "OK"
	CodeRequote  ResultCode = "REQUOTE"
	CodeRejected ResultCode = "REJECTED"
	CodeTimeout  ResultCode = "TIMEOUT"
)

// Retryable reports whether a retry with wider tolerance may succeed
func (c ResultCode) Retryable() bool {
	return c == CodeRequote || c == CodeTimeout
}

// OrderRequest is one order sent to the venue
type OrderRequest struct {
	Type       OrderType
	Symbol     string
	Direction  types.Direction
	Price      decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Volume     decimal.Decimal
	// Deviation is the accepted price slippage; the venue may requote a
	// stale-priced order outside this tolerance (fill-or-kill)
	Deviation decimal.Decimal
}

// OrderResult is the venue's answer to an order
type OrderResult struct {
	Ticket    string
	Code      ResultCode
	FillPrice decimal.Decimal
	Message   string
}

// Broker is the outbound execution venue. Every operation is
// idempotent-safe to retry on a transient result code.
type Broker interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	ModifyStop(ctx context.Context, ticket string, newSL decimal.Decimal) error
	ClosePosition(ctx context.Context, ticket string, fraction decimal.Decimal) error
	CancelOrder(ctx context.Context, ticket string) error
	MinLot() decimal.Decimal
}
