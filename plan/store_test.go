package plan

import (
	"sync"
	"testing"
	"time"

	"github.com/web3guy0/tradesentry/types"
)

type memJournal struct {
	mu    sync.Mutex
	saves []Status
	plans []*TradePlan
}

func (j *memJournal) SavePlan(p *TradePlan) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.saves = append(j.saves, p.Status)
	return nil
}

func (j *memJournal) LoadActivePlans() ([]*TradePlan, error) {
	return j.plans, nil
}

func TestCreateRejectsInvalid(t *testing.T) {
	s := NewStore(nil)
	p := validBuyPlan()
	p.Symbol = ""
	if _, err := s.Create(p); err == nil {
		t.Fatal("invalid plan accepted")
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := NewStore(nil)
	p := validBuyPlan()
	if _, err := s.Create(p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(p); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCompareAndSetStatus(t *testing.T) {
	s := NewStore(nil)
	p := validBuyPlan()
	s.Create(p)

	if !s.CompareAndSetStatus(p.ID, StatusPending, StatusTriggered) {
		t.Fatal("PENDING->TRIGGERED should succeed")
	}
	if s.CompareAndSetStatus(p.ID, StatusPending, StatusTriggered) {
		t.Fatal("second PENDING->TRIGGERED should lose the CAS")
	}
	if !s.CompareAndSetStatus(p.ID, StatusTriggered, StatusExecuted) {
		t.Fatal("TRIGGERED->EXECUTED should succeed")
	}

	// Terminal states absorb everything
	if s.CompareAndSetStatus(p.ID, StatusExecuted, StatusPending) {
		t.Fatal("terminal plan must never transition")
	}
	got, _ := s.Get(p.ID)
	if got.Status != StatusExecuted {
		t.Fatalf("status = %s, want EXECUTED", got.Status)
	}
}

func TestCompareAndSetStatusMissing(t *testing.T) {
	s := NewStore(nil)
	if s.CompareAndSetStatus("nope", StatusPending, StatusTriggered) {
		t.Fatal("CAS on missing plan should fail")
	}
}

func TestConcurrentTriggerExactlyOnce(t *testing.T) {
	s := NewStore(nil)
	p := validBuyPlan()
	s.Create(p)

	const racers = 50
	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			if s.CompareAndSetStatus(p.ID, StatusPending, StatusTriggered) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("%d racers won the CAS, want exactly 1", wins)
	}
}

func TestRestoreSkipsTerminal(t *testing.T) {
	active := validBuyPlan()
	done := validBuyPlan()
	done.Status = StatusExecuted

	j := &memJournal{plans: []*TradePlan{active, done}}
	s := NewStore(j)
	if err := s.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if _, err := s.Get(active.ID); err != nil {
		t.Fatalf("active plan missing after restore: %v", err)
	}
	if _, err := s.Get(done.ID); err != ErrNotFound {
		t.Fatal("executed plan must not be restored")
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *eventRecorder) Notify(ev types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestReconcileInterrupted(t *testing.T) {
	interrupted := validBuyPlan()
	interrupted.Status = StatusTriggered
	pending := validBuyPlan()

	j := &memJournal{plans: []*TradePlan{interrupted, pending}}
	s := NewStore(j)
	if err := s.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	rec := &eventRecorder{}
	if n := s.ReconcileInterrupted(rec); n != 1 {
		t.Fatalf("reconciled %d plans, want 1", n)
	}

	got, _ := s.Get(interrupted.ID)
	if got.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}

	// Failed plan is out of every evaluation view
	if list := s.ListBySymbolAndClass("EURUSD", ClassStandard); len(list) != 1 || list[0].ID != pending.ID {
		t.Fatalf("evaluation list = %d plans, want only the pending one", len(list))
	}

	rec.mu.Lock()
	if len(rec.events) != 1 || rec.events[0].Kind != types.EventPlanFailed {
		t.Fatalf("events = %v, want one PLAN_FAILED", rec.events)
	}
	if rec.events[0].PlanID != interrupted.ID {
		t.Fatal("event carries the wrong plan ID")
	}
	rec.mu.Unlock()

	// Second pass finds nothing left to fail
	if n := s.ReconcileInterrupted(rec); n != 0 {
		t.Fatalf("second reconcile failed %d plans, want 0", n)
	}
}

func TestConcurrentTouchAndGet(t *testing.T) {
	s := NewStore(nil)
	p := validBuyPlan()
	s.Create(p)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			s.Touch(p.ID, time.Now())
		}
	}()

	// Readers get copies, so these field reads must never tear against
	// the touch writes above.
	for i := 0; i < 1000; i++ {
		got, err := s.Get(p.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		_ = got.CheckCount
		_ = got.LastCheckedAt
	}
	<-done

	got, _ := s.Get(p.ID)
	if got.CheckCount != 1000 {
		t.Fatalf("check count = %d, want 1000", got.CheckCount)
	}
}

func TestJournalWriteThrough(t *testing.T) {
	j := &memJournal{}
	s := NewStore(j)
	p := validBuyPlan()
	s.Create(p)
	s.CompareAndSetStatus(p.ID, StatusPending, StatusTriggered)

	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.saves) != 2 {
		t.Fatalf("journal saw %d saves, want 2", len(j.saves))
	}
	if j.saves[1] != StatusTriggered {
		t.Fatalf("last journalled status = %s, want TRIGGERED", j.saves[1])
	}
}

func TestListBySymbolAndClass(t *testing.T) {
	s := NewStore(nil)

	std := validBuyPlan()
	fast := validBuyPlan()
	fast.Conditions = append(fast.Conditions, OrderFlowSignal{Kind: CVDBullish})
	other := validBuyPlan()
	other.Symbol = "GBPUSD"

	s.Create(std)
	s.Create(fast)
	s.Create(other)

	if got := s.ListBySymbolAndClass("EURUSD", ClassStandard); len(got) != 1 || got[0].ID != std.ID {
		t.Fatalf("standard list = %d plans", len(got))
	}
	if got := s.ListBySymbolAndClass("EURUSD", ClassFast); len(got) != 1 || got[0].ID != fast.ID {
		t.Fatalf("fast list = %d plans", len(got))
	}

	// TRIGGERED plans leave the evaluation set
	s.CompareAndSetStatus(std.ID, StatusPending, StatusTriggered)
	if got := s.ListBySymbolAndClass("EURUSD", ClassStandard); len(got) != 0 {
		t.Fatal("triggered plan still listed for evaluation")
	}
}

func TestActiveSymbolsDeduplicates(t *testing.T) {
	s := NewStore(nil)
	a := validBuyPlan()
	b := validBuyPlan()
	s.Create(a)
	s.Create(b)

	syms := s.ActiveSymbols(ClassStandard)
	if len(syms) != 1 || syms[0] != "EURUSD" {
		t.Fatalf("active symbols = %v, want [EURUSD]", syms)
	}
}

func TestCancel(t *testing.T) {
	s := NewStore(nil)
	p := validBuyPlan()
	s.Create(p)

	if !s.Cancel(p.ID) {
		t.Fatal("cancel of pending plan should succeed")
	}
	if s.Cancel(p.ID) {
		t.Fatal("cancel of cancelled plan should fail")
	}
	got, _ := s.Get(p.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}
}

func TestTouch(t *testing.T) {
	s := NewStore(nil)
	p := validBuyPlan()
	s.Create(p)

	at := time.Now()
	s.Touch(p.ID, at)
	s.Touch(p.ID, at.Add(time.Second))

	got, _ := s.Get(p.ID)
	if got.CheckCount != 2 {
		t.Fatalf("check count = %d, want 2", got.CheckCount)
	}
	if !got.LastCheckedAt.Equal(at.Add(time.Second)) {
		t.Fatal("last checked time not updated")
	}
}

func TestExpiredHelper(t *testing.T) {
	p := validBuyPlan()
	p.ExpiresAt = time.Now().Add(-time.Minute)
	if !p.Expired(time.Now()) {
		t.Fatal("past-expiry plan should report expired")
	}
}
