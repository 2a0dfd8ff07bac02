package plan

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradesentry/types"
)

func validBuyPlan() *TradePlan {
	return New(
		"EURUSD",
		types.Buy,
		decimal.NewFromFloat(100.00),
		decimal.NewFromFloat(99.40),
		decimal.NewFromFloat(101.50),
		decimal.NewFromFloat(0.10),
		[]Condition{PriceNear{Target: decimal.NewFromFloat(100.00), Tolerance: decimal.NewFromFloat(0.10)}},
		time.Now().Add(time.Hour),
	)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(p *TradePlan)
		wantErr bool
	}{
		{"valid", func(p *TradePlan) {}, false},
		{"missing symbol", func(p *TradePlan) { p.Symbol = "" }, true},
		{"bad direction", func(p *TradePlan) { p.Direction = "LONG" }, true},
		{"zero volume", func(p *TradePlan) { p.Volume = decimal.Zero }, true},
		{"no conditions", func(p *TradePlan) { p.Conditions = nil }, true},
		{"expired already", func(p *TradePlan) { p.ExpiresAt = time.Now().Add(-time.Minute) }, true},
		{"buy sl above entry", func(p *TradePlan) { p.StopLoss = decimal.NewFromFloat(100.50) }, true},
		{"buy tp below entry", func(p *TradePlan) { p.TakeProfit = decimal.NewFromFloat(99.50) }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validBuyPlan()
			tc.mutate(p)
			err := p.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateSellSides(t *testing.T) {
	p := New(
		"EURUSD",
		types.Sell,
		decimal.NewFromFloat(100.00),
		decimal.NewFromFloat(100.60),
		decimal.NewFromFloat(98.50),
		decimal.NewFromFloat(0.10),
		[]Condition{PriceNear{Target: decimal.NewFromFloat(100.00), Tolerance: decimal.NewFromFloat(0.10)}},
		time.Now().Add(time.Hour),
	)
	if err := p.Validate(); err != nil {
		t.Fatalf("valid sell plan rejected: %v", err)
	}

	p.StopLoss = decimal.NewFromFloat(99.00)
	if err := p.Validate(); err == nil {
		t.Fatal("sell plan with SL below entry accepted")
	}
}

func TestPollClass(t *testing.T) {
	p := validBuyPlan()
	if got := p.PollClass(); got != ClassStandard {
		t.Fatalf("expected STANDARD class, got %s", got)
	}

	p.Conditions = append(p.Conditions, OrderFlowSignal{Kind: CVDBullish})
	if got := p.PollClass(); got != ClassFast {
		t.Fatalf("plan with order-flow condition should be FAST, got %s", got)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusExecuted, StatusExpired, StatusCancelled, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusTriggered} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestPotentialProfit(t *testing.T) {
	p := validBuyPlan()
	want := decimal.NewFromFloat(0.15) // |101.50 - 100.00| * 0.10
	if !p.PotentialProfit().Equal(want) {
		t.Fatalf("potential profit = %s, want %s", p.PotentialProfit(), want)
	}
}
