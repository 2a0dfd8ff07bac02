package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradesentry/plan"
	"github.com/web3guy0/tradesentry/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION GATEWAY - Satisfied plan → broker order → live position
// ═══════════════════════════════════════════════════════════════════════════════
//
// Retry policy: up to 3 attempts with escalating backoff and escalating
// price-deviation tolerance. The venue may requote a stale-priced order
// (fill-or-kill); retrying with a slightly wider tolerance beats failing
// outright. On exhausting retries the plan goes to FAILED - never left
// stuck in TRIGGERED.
//
// ═══════════════════════════════════════════════════════════════════════════════

// PositionSink receives freshly filled positions (the exit state machine)
type PositionSink interface {
	Adopt(pos *types.Position)
}

// Notifier receives fire-and-forget events
type Notifier interface {
	Notify(ev types.Event)
}

// GatewayConfig holds execution tunables
type GatewayConfig struct {
	MaxAttempts   int
	BackoffStep   time.Duration   // attempt n sleeps n * BackoffStep
	BaseDeviation decimal.Decimal // price tolerance on attempt 1, escalates per attempt
	// MarketBand: when the snapshot price is within this distance of the
	// plan entry the gateway fires a market order instead of resting one
	MarketBand decimal.Decimal
	// UseOCO places a protective sibling stop order alongside a resting
	// entry; a fill on one triggers best-effort cancellation of the other
	UseOCO bool
}

// DefaultGatewayConfig returns the stock retry schedule
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		MaxAttempts:   3,
		BackoffStep:   300 * time.Millisecond,
		BaseDeviation: decimal.NewFromFloat(0.0005),
		MarketBand:    decimal.NewFromFloat(0.001),
		UseOCO:        false,
	}
}

// Gateway turns satisfied plans into broker orders
type Gateway struct {
	cfg      GatewayConfig
	broker   Broker
	store    *plan.Store
	sink     PositionSink
	notifier Notifier
}

// NewGateway creates a gateway. notifier may be nil.
func NewGateway(cfg GatewayConfig, broker Broker, store *plan.Store, sink PositionSink, notifier Notifier) *Gateway {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Gateway{
		cfg:      cfg,
		broker:   broker,
		store:    store,
		sink:     sink,
		notifier: notifier,
	}
}

// Execute places the order for a TRIGGERED plan against the snapshot it
// was satisfied on. On success the plan is CAS'd to EXECUTED and the
// position handed to the sink; on exhausted retries it is CAS'd to FAILED.
func (g *Gateway) Execute(ctx context.Context, p *plan.TradePlan, snap *types.Snapshot) (*types.Position, error) {
	orderType := g.resolveOrderType(p, snap)

	log.Info().
		Str("plan_id", p.ID).
		Str("symbol", p.Symbol).
		Str("direction", string(p.Direction)).
		Str("type", string(orderType)).
		Str("entry", p.Entry.String()).
		Str("sl", p.StopLoss.String()).
		Str("tp", p.TakeProfit.String()).
		Msg("🎯 Executing plan")

	// A bracket rests the sibling first; whichever leg fills triggers
	// best-effort cancellation of the other
	var sibling string
	if g.cfg.UseOCO && orderType != OrderMarket {
		sibling = g.placeOCOSibling(ctx, p)
	}

	result, err := g.placeWithRetries(ctx, OrderRequest{
		Type:       orderType,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		Price:      p.Entry,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Volume:     p.Volume,
	})
	if err != nil {
		g.cancelSibling(ctx, sibling)
		g.fail(p, err)
		return nil, err
	}

	pos := &types.Position{
		Ticket:          result.Ticket,
		Symbol:          p.Symbol,
		Direction:       p.Direction,
		EntryPrice:      g.fillPrice(result, p),
		Volume:          p.Volume,
		CurrentSL:       p.StopLoss,
		CurrentTP:       p.TakeProfit,
		State:           types.PositionOpen,
		OpenedAt:        time.Now(),
		PotentialProfit: p.PotentialProfit(),
		EntryOrderFlow:  snap.OrderFlow,
	}

	// Entry leg filled: drop the sibling
	pos.OCOSibling = sibling
	g.cancelSibling(ctx, sibling)

	if !g.store.CompareAndSetStatus(p.ID, plan.StatusTriggered, plan.StatusExecuted) {
		// Should not happen: we own the TRIGGERED state
		log.Error().Str("plan_id", p.ID).Msg("Plan vanished from TRIGGERED after fill")
	}

	g.sink.Adopt(pos)

	log.Info().
		Str("plan_id", p.ID).
		Str("ticket", pos.Ticket).
		Str("fill", pos.EntryPrice.String()).
		Msg("✅ Plan executed")

	g.notify(types.Event{
		Kind:      types.EventPlanExecuted,
		PlanID:    p.ID,
		Ticket:    pos.Ticket,
		Payload:   map[string]string{"symbol": p.Symbol, "fill": pos.EntryPrice.String()},
		Timestamp: time.Now(),
	})

	return pos, nil
}

// placeWithRetries drives the escalating retry schedule
func (g *Gateway) placeWithRetries(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	var lastErr error

	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		// Tolerance widens with each attempt
		req.Deviation = g.cfg.BaseDeviation.Mul(decimal.NewFromInt(int64(attempt)))

		result, err := g.broker.PlaceOrder(ctx, req)
		switch {
		case err != nil:
			lastErr = err
		case result.Code == CodeOK:
			return result, nil
		case result.Code.Retryable():
			lastErr = fmt.Errorf("broker %s: %s", result.Code, result.Message)
		default:
			// Hard rejection: retries cannot help
			return nil, fmt.Errorf("broker rejected order: %s", result.Message)
		}

		log.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Str("symbol", req.Symbol).
			Str("deviation", req.Deviation.String()).
			Msg("⚠️ Order attempt failed")

		if attempt < g.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * g.cfg.BackoffStep):
			}
		}
	}

	return nil, fmt.Errorf("order failed after %d attempts: %w", g.cfg.MaxAttempts, lastErr)
}

// resolveOrderType picks market vs resting entry from where the snapshot
// price sits relative to the plan entry
func (g *Gateway) resolveOrderType(p *plan.TradePlan, snap *types.Snapshot) OrderType {
	if snap == nil || snap.Price.IsZero() {
		return OrderMarket
	}

	gap := snap.Price.Sub(p.Entry).Abs()
	if gap.LessThanOrEqual(g.cfg.MarketBand.Mul(p.Entry)) {
		return OrderMarket
	}

	// BUY below market or SELL above market rests as a limit; entering on
	// a breakout through the entry rests as a stop order
	if p.Direction == types.Buy {
		if p.Entry.LessThan(snap.Price) {
			return OrderLimit
		}
		return OrderStop
	}
	if p.Entry.GreaterThan(snap.Price) {
		return OrderLimit
	}
	return OrderStop
}

// placeOCOSibling rests the opposite-style entry at the same level so
// whichever side the market approaches from can fill. Only the primary
// leg's resolution is observed: a sibling that fills first is not adopted
// by the exit machine and has to be handled at the venue.
func (g *Gateway) placeOCOSibling(ctx context.Context, p *plan.TradePlan) string {
	siblingType := OrderStop
	result, err := g.broker.PlaceOrder(ctx, OrderRequest{
		Type:       siblingType,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		Price:      p.Entry,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Volume:     p.Volume,
		Deviation:  g.cfg.BaseDeviation,
	})
	if err != nil || result.Code != CodeOK {
		log.Warn().Err(err).Str("plan_id", p.ID).Msg("OCO sibling placement failed")
		return ""
	}
	return result.Ticket
}

func (g *Gateway) cancelSibling(ctx context.Context, sibling string) {
	if sibling == "" {
		return
	}
	if err := g.broker.CancelOrder(ctx, sibling); err != nil {
		log.Warn().Err(err).Str("sibling", sibling).Msg("OCO sibling cancel failed")
	}
}

func (g *Gateway) fillPrice(result *OrderResult, p *plan.TradePlan) decimal.Decimal {
	if !result.FillPrice.IsZero() {
		return result.FillPrice
	}
	return p.Entry
}

func (g *Gateway) fail(p *plan.TradePlan, err error) {
	if !g.store.CompareAndSetStatus(p.ID, plan.StatusTriggered, plan.StatusFailed) {
		log.Error().Str("plan_id", p.ID).Msg("Failed plan not in TRIGGERED state")
	}

	log.Error().
		Err(err).
		Str("plan_id", p.ID).
		Str("symbol", p.Symbol).
		Msg("❌ Plan execution failed")

	g.notify(types.Event{
		Kind:      types.EventPlanFailed,
		PlanID:    p.ID,
		Payload:   map[string]string{"symbol": p.Symbol, "error": err.Error()},
		Timestamp: time.Now(),
	})
}

func (g *Gateway) notify(ev types.Event) {
	if g.notifier != nil {
		g.notifier.Notify(ev)
	}
}
