package exec

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradesentry/plan"
	"github.com/web3guy0/tradesentry/types"
)

// scriptedBroker answers PlaceOrder from a queue of result codes
type scriptedBroker struct {
	script     []ResultCode
	placed     []OrderRequest
	cancelled  []string
	nextTicket int
}

func (b *scriptedBroker) PlaceOrder(_ context.Context, req OrderRequest) (*OrderResult, error) {
	b.placed = append(b.placed, req)
	code := CodeOK
	if len(b.script) > 0 {
		code = b.script[0]
		b.script = b.script[1:]
	}
	b.nextTicket++
	if code != CodeOK {
		return &OrderResult{Code: code, Message: string(code)}, nil
	}
	return &OrderResult{
		Ticket:    fmt.Sprintf("TICK%d", b.nextTicket),
		Code:      CodeOK,
		FillPrice: req.Price,
	}, nil
}

func (b *scriptedBroker) ModifyStop(context.Context, string, decimal.Decimal) error { return nil }

func (b *scriptedBroker) ClosePosition(context.Context, string, decimal.Decimal) error { return nil }

func (b *scriptedBroker) CancelOrder(_ context.Context, ticket string) error {
	b.cancelled = append(b.cancelled, ticket)
	return nil
}

func (b *scriptedBroker) MinLot() decimal.Decimal { return decimal.NewFromFloat(0.01) }

type fakeSink struct {
	adopted []*types.Position
}

func (s *fakeSink) Adopt(pos *types.Position) { s.adopted = append(s.adopted, pos) }

func triggeredPlan(t *testing.T, store *plan.Store) *plan.TradePlan {
	t.Helper()
	p := plan.New(
		"EURUSD",
		types.Buy,
		decimal.NewFromFloat(100.00),
		decimal.NewFromFloat(99.40),
		decimal.NewFromFloat(101.50),
		decimal.NewFromFloat(0.10),
		[]plan.Condition{plan.PriceNear{Target: decimal.NewFromFloat(100.00), Tolerance: decimal.NewFromFloat(0.10)}},
		time.Now().Add(time.Hour),
	)
	if _, err := store.Create(p); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if !store.CompareAndSetStatus(p.ID, plan.StatusPending, plan.StatusTriggered) {
		t.Fatal("trigger plan")
	}
	return p
}

func fastConfig() GatewayConfig {
	cfg := DefaultGatewayConfig()
	cfg.BackoffStep = time.Millisecond
	return cfg
}

func TestExecuteSuccess(t *testing.T) {
	store := plan.NewStore(nil)
	broker := &scriptedBroker{}
	sink := &fakeSink{}
	g := NewGateway(fastConfig(), broker, store, sink, nil)

	p := triggeredPlan(t, store)
	snap := &types.Snapshot{Symbol: "EURUSD", Price: decimal.NewFromFloat(100.03), TakenAt: time.Now()}

	pos, err := g.Execute(context.Background(), p, snap)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if pos.Ticket == "" {
		t.Fatal("position has no ticket")
	}
	if !pos.PotentialProfit.Equal(decimal.NewFromFloat(0.15)) {
		t.Fatalf("potential profit = %s, want 0.15", pos.PotentialProfit)
	}

	got, _ := store.Get(p.ID)
	if got.Status != plan.StatusExecuted {
		t.Fatalf("plan status = %s, want EXECUTED", got.Status)
	}
	if len(sink.adopted) != 1 {
		t.Fatalf("sink adopted %d positions, want 1", len(sink.adopted))
	}
}

func TestExecuteRetriesWithEscalatingDeviation(t *testing.T) {
	store := plan.NewStore(nil)
	broker := &scriptedBroker{script: []ResultCode{CodeRequote, CodeRequote, CodeOK}}
	g := NewGateway(fastConfig(), broker, store, &fakeSink{}, nil)

	p := triggeredPlan(t, store)
	snap := &types.Snapshot{Symbol: "EURUSD", Price: decimal.NewFromFloat(100.03), TakenAt: time.Now()}

	if _, err := g.Execute(context.Background(), p, snap); err != nil {
		t.Fatalf("execute should survive two requotes: %v", err)
	}
	if len(broker.placed) != 3 {
		t.Fatalf("placed %d orders, want 3", len(broker.placed))
	}

	base := decimal.NewFromFloat(0.0005)
	for i, req := range broker.placed {
		want := base.Mul(decimal.NewFromInt(int64(i + 1)))
		if !req.Deviation.Equal(want) {
			t.Errorf("attempt %d deviation = %s, want %s", i+1, req.Deviation, want)
		}
	}
}

func TestExecuteFailsAfterExhaustedRetries(t *testing.T) {
	store := plan.NewStore(nil)
	broker := &scriptedBroker{script: []ResultCode{CodeRequote, CodeTimeout, CodeRequote}}
	sink := &fakeSink{}
	g := NewGateway(fastConfig(), broker, store, sink, nil)

	p := triggeredPlan(t, store)
	snap := &types.Snapshot{Symbol: "EURUSD", Price: decimal.NewFromFloat(100.03), TakenAt: time.Now()}

	if _, err := g.Execute(context.Background(), p, snap); err == nil {
		t.Fatal("execute should fail after 3 transient errors")
	}

	got, _ := store.Get(p.ID)
	if got.Status != plan.StatusFailed {
		t.Fatalf("plan status = %s, want FAILED", got.Status)
	}
	if len(sink.adopted) != 0 {
		t.Fatal("failed execution must not hand a position to the sink")
	}
}

func TestExecuteHardRejectionAbortsImmediately(t *testing.T) {
	store := plan.NewStore(nil)
	broker := &scriptedBroker{script: []ResultCode{CodeRejected}}
	g := NewGateway(fastConfig(), broker, store, &fakeSink{}, nil)

	p := triggeredPlan(t, store)
	snap := &types.Snapshot{Symbol: "EURUSD", Price: decimal.NewFromFloat(100.03), TakenAt: time.Now()}

	if _, err := g.Execute(context.Background(), p, snap); err == nil {
		t.Fatal("rejection should abort execution")
	}
	if len(broker.placed) != 1 {
		t.Fatalf("rejected order retried %d times, want no retries", len(broker.placed))
	}

	got, _ := store.Get(p.ID)
	if got.Status != plan.StatusFailed {
		t.Fatalf("plan status = %s, want FAILED", got.Status)
	}
}

func TestResolveOrderType(t *testing.T) {
	g := NewGateway(DefaultGatewayConfig(), &scriptedBroker{}, plan.NewStore(nil), &fakeSink{}, nil)

	buy := &plan.TradePlan{Direction: types.Buy, Entry: decimal.NewFromFloat(100.00)}
	sell := &plan.TradePlan{Direction: types.Sell, Entry: decimal.NewFromFloat(100.00)}

	cases := []struct {
		name  string
		p     *plan.TradePlan
		price float64
		want  OrderType
	}{
		{"buy at market", buy, 100.05, OrderMarket},
		{"buy pullback limit", buy, 100.80, OrderLimit},
		{"buy breakout stop", buy, 99.20, OrderStop},
		{"sell rally limit", sell, 99.20, OrderLimit},
		{"sell breakdown stop", sell, 100.80, OrderStop},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := &types.Snapshot{Price: decimal.NewFromFloat(tc.price)}
			if got := g.resolveOrderType(tc.p, snap); got != tc.want {
				t.Fatalf("order type = %s, want %s", got, tc.want)
			}
		})
	}

	// No usable snapshot price: market is the only honest answer
	if got := g.resolveOrderType(buy, &types.Snapshot{}); got != OrderMarket {
		t.Fatalf("zero-price snapshot resolved %s, want MARKET", got)
	}
}

func TestExecuteCancelsOCOSiblingAfterFill(t *testing.T) {
	store := plan.NewStore(nil)
	broker := &scriptedBroker{}
	cfg := fastConfig()
	cfg.UseOCO = true
	g := NewGateway(cfg, broker, store, &fakeSink{}, nil)

	p := triggeredPlan(t, store)
	// Price far from entry so the order rests and the sibling is placed
	snap := &types.Snapshot{Symbol: "EURUSD", Price: decimal.NewFromFloat(100.80), TakenAt: time.Now()}

	pos, err := g.Execute(context.Background(), p, snap)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if pos.OCOSibling == "" {
		t.Fatal("sibling ticket not recorded")
	}
	if len(broker.cancelled) != 1 || broker.cancelled[0] != pos.OCOSibling {
		t.Fatalf("cancelled = %v, want the sibling %s", broker.cancelled, pos.OCOSibling)
	}
}

func TestExecuteCancelsOCOSiblingOnFailure(t *testing.T) {
	store := plan.NewStore(nil)
	// Sibling placement succeeds, then every primary attempt requotes
	broker := &scriptedBroker{script: []ResultCode{CodeOK, CodeRequote, CodeRequote, CodeRequote}}
	cfg := fastConfig()
	cfg.UseOCO = true
	g := NewGateway(cfg, broker, store, &fakeSink{}, nil)

	p := triggeredPlan(t, store)
	snap := &types.Snapshot{Symbol: "EURUSD", Price: decimal.NewFromFloat(100.80), TakenAt: time.Now()}

	if _, err := g.Execute(context.Background(), p, snap); err == nil {
		t.Fatal("execute should fail")
	}
	if len(broker.cancelled) != 1 {
		t.Fatalf("orphaned sibling: cancelled = %v", broker.cancelled)
	}
}
