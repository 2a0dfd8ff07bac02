package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/tradesentry/plan"
	"github.com/web3guy0/tradesentry/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SCHEDULER - Tiered polling over pending plans
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two cadences bound evaluation cost: plans carrying an order-flow
// condition poll on the fast interval, everything else on the standard
// one. Within a cycle plans are grouped by symbol so one snapshot fetch
// serves every plan on that symbol, and all of them see the same
// point-in-time data.
//
// Concurrent cycles may race on the same satisfied plan; only the loop
// that wins the PENDING→TRIGGERED CAS proceeds to execution. Losing the
// race is expected, not an error.
//
// ═══════════════════════════════════════════════════════════════════════════════

// SnapshotFetcher serves one fresh snapshot per symbol per cycle
type SnapshotFetcher interface {
	GetOrFetch(ctx context.Context, symbol string) (*types.Snapshot, error)
}

// Executor hands a satisfied, TRIGGERED plan to the broker
type Executor interface {
	Execute(ctx context.Context, p *plan.TradePlan, snap *types.Snapshot) (*types.Position, error)
}

// Notifier receives fire-and-forget events
type Notifier interface {
	Notify(ev types.Event)
}

// SchedulerConfig holds the polling cadences
type SchedulerConfig struct {
	FastInterval     time.Duration // order-flow class, e.g. 5s
	StandardInterval time.Duration // everything else, e.g. 30s
}

// DefaultSchedulerConfig returns the stock cadences
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		FastInterval:     5 * time.Second,
		StandardInterval: 30 * time.Second,
	}
}

// Scheduler drives evaluation cycles over the plan store
type Scheduler struct {
	mu sync.Mutex

	cfg      SchedulerConfig
	store    *plan.Store
	fetcher  SnapshotFetcher
	executor Executor
	notifier Notifier

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. notifier may be nil.
func NewScheduler(cfg SchedulerConfig, store *plan.Store, fetcher SnapshotFetcher, executor Executor, notifier Notifier) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		fetcher:  fetcher,
		executor: executor,
		notifier: notifier,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the fast and standard polling loops
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.pollLoop(plan.ClassFast, s.cfg.FastInterval)
	go s.pollLoop(plan.ClassStandard, s.cfg.StandardInterval)

	log.Info().
		Dur("fast", s.cfg.FastInterval).
		Dur("standard", s.cfg.StandardInterval).
		Msg("⚡ Scheduler started")
}

// Stop stops both loops and waits for in-flight cycles
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) pollLoop(class plan.Class, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunCycle(context.Background(), class)
		}
	}
}

// RunCycle evaluates every pending plan of one class and executes the
// satisfied ones. Exposed for deterministic testing.
func (s *Scheduler) RunCycle(ctx context.Context, class plan.Class) {
	now := time.Now()
	s.sweepExpired(now)

	for _, symbol := range s.store.ActiveSymbols(class) {
		snap, err := s.fetcher.GetOrFetch(ctx, symbol)
		if err != nil {
			// Stale or missing snapshot: skip the symbol, retry next cycle
			log.Debug().Str("symbol", symbol).Str("class", string(class)).
				Msg("Snapshot unavailable, symbol skipped this cycle")
			continue
		}

		for _, p := range s.store.ListBySymbolAndClass(symbol, class) {
			s.evaluate(ctx, p, snap, now)
		}
	}
}

func (s *Scheduler) evaluate(ctx context.Context, p *plan.TradePlan, snap *types.Snapshot, now time.Time) {
	s.store.Touch(p.ID, now)

	satisfied, reasons := plan.Evaluate(p, snap)
	if !satisfied {
		log.Debug().
			Str("plan_id", p.ID).
			Strs("reasons", reasons).
			Msg("Plan not satisfied")
		return
	}

	// Only the CAS winner executes; losers drop silently
	if !s.store.CompareAndSetStatus(p.ID, plan.StatusPending, plan.StatusTriggered) {
		log.Debug().Str("plan_id", p.ID).Msg("Lost trigger race, dropping")
		return
	}

	log.Info().
		Str("plan_id", p.ID).
		Str("symbol", p.Symbol).
		Strs("reasons", reasons).
		Msg("✨ Plan conditions satisfied")

	if _, err := s.executor.Execute(ctx, p, snap); err != nil {
		// Gateway already moved the plan to FAILED and notified
		log.Warn().Err(err).Str("plan_id", p.ID).Msg("Execution failed")
	}
}

// sweepExpired retires plans past their expiry, removing them from all
// future polling regardless of class
func (s *Scheduler) sweepExpired(now time.Time) {
	for _, p := range s.store.Pending() {
		if !p.Expired(now) {
			continue
		}
		if !s.store.CompareAndSetStatus(p.ID, plan.StatusPending, plan.StatusExpired) {
			continue
		}

		log.Info().
			Str("plan_id", p.ID).
			Str("symbol", p.Symbol).
			Time("expired_at", p.ExpiresAt).
			Msg("⌛ Plan expired")

		if s.notifier != nil {
			s.notifier.Notify(types.Event{
				Kind:      types.EventPlanExpired,
				PlanID:    p.ID,
				Payload:   map[string]string{"symbol": p.Symbol},
				Timestamp: now,
			})
		}
	}
}
