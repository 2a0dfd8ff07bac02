package plan

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradesentry/types"
)

func snapshotAt(price float64) *types.Snapshot {
	return &types.Snapshot{
		Symbol:  "EURUSD",
		Price:   decimal.NewFromFloat(price),
		TakenAt: time.Now(),
	}
}

func TestEvaluateProximityEntry(t *testing.T) {
	// BUY 100.00 / SL 99.40 / TP 101.50, trigger within 0.10 of entry
	p := validBuyPlan()

	if ok, _ := Evaluate(p, snapshotAt(100.30)); ok {
		t.Fatal("price 100.30 is outside tolerance, must not satisfy")
	}
	if ok, reasons := Evaluate(p, snapshotAt(100.03)); !ok {
		t.Fatalf("price 100.03 within tolerance should satisfy: %v", reasons)
	}
	if ok, _ := Evaluate(p, snapshotAt(99.91)); !ok {
		t.Fatal("price 99.91 is within tolerance below entry")
	}
}

func TestEvaluateAllConditionsMustHold(t *testing.T) {
	p := validBuyPlan()
	p.Conditions = append(p.Conditions, StructureBreak{Kind: BullishBOS, Timeframe: "M15"})

	snap := snapshotAt(100.03)
	snap.Structure = types.Structure{Known: true, Timeframe: "M15", BullishBOS: false}
	if ok, _ := Evaluate(p, snap); ok {
		t.Fatal("one failing condition must fail the plan")
	}

	snap.Structure.BullishBOS = true
	if ok, reasons := Evaluate(p, snap); !ok {
		t.Fatalf("all conditions hold, should satisfy: %v", reasons)
	}
}

func TestEvaluateUnknownDataIsNotSatisfied(t *testing.T) {
	p := validBuyPlan()
	p.Conditions = []Condition{OrderFlowSignal{Kind: CVDBullish}}

	// Snapshot without an order-flow block: wait, don't fail
	snap := snapshotAt(100.00)
	ok, reasons := Evaluate(p, snap)
	if ok {
		t.Fatal("missing order-flow data must not satisfy")
	}
	if len(reasons) != 1 || !strings.Contains(reasons[0], "data unavailable") {
		t.Fatalf("expected a data-unavailable reason, got %v", reasons)
	}
}

func TestEvaluateStructureTimeframeMismatch(t *testing.T) {
	p := validBuyPlan()
	p.Conditions = []Condition{StructureBreak{Kind: BearishCHoCH, Timeframe: "H1"}}

	snap := snapshotAt(100.00)
	snap.Structure = types.Structure{Known: true, Timeframe: "M15", BearishCHoCH: true}

	ok, reasons := Evaluate(p, snap)
	if ok {
		t.Fatal("structure on the wrong timeframe must not satisfy")
	}
	if !strings.Contains(reasons[0], "data unavailable") {
		t.Fatalf("wrong-timeframe structure should read as missing data, got %v", reasons)
	}
}

func TestEvaluateOrderFlowSignals(t *testing.T) {
	snap := snapshotAt(100.00)
	snap.OrderFlow = types.OrderFlow{
		Known:             true,
		Delta:             decimal.NewFromInt(420),
		CVDDirection:      types.CVDBullish,
		BearishDivergence: true,
	}

	cases := []struct {
		kind FlowKind
		want bool
	}{
		{CVDBullish, true},
		{CVDBearish, false},
		{DivergenceBearish, true},
		{DivergenceBullish, false},
	}
	for _, tc := range cases {
		p := validBuyPlan()
		p.Conditions = []Condition{OrderFlowSignal{Kind: tc.kind}}
		if ok, _ := Evaluate(p, snap); ok != tc.want {
			t.Errorf("%s: satisfied = %v, want %v", tc.kind, ok, tc.want)
		}
	}
}

func TestEvaluateNilSnapshot(t *testing.T) {
	p := validBuyPlan()
	if ok, _ := Evaluate(p, nil); ok {
		t.Fatal("nil snapshot must not satisfy")
	}
}
