package plan

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/tradesentry/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PLAN STORE - Single source of truth for plan status transitions
// ═══════════════════════════════════════════════════════════════════════════════
//
// All status mutation goes through CompareAndSetStatus. The scheduler and
// the gateway never write status directly; losing a CAS race is expected
// under concurrent polling and is not an error.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	ErrNotFound  = errors.New("plan not found")
	ErrDuplicate = errors.New("plan already exists")
)

// Journal persists transitions synchronously so a restart recovers
// PENDING plans unchanged and never replays an EXECUTED one
type Journal interface {
	SavePlan(p *TradePlan) error
	LoadActivePlans() ([]*TradePlan, error)
}

// Notifier receives fire-and-forget events
type Notifier interface {
	Notify(ev types.Event)
}

// Store is a concurrency-safe registry of plans keyed by ID
type Store struct {
	mu      sync.RWMutex
	plans   map[string]*TradePlan
	journal Journal
}

// NewStore creates a store. journal may be nil for ephemeral operation.
func NewStore(journal Journal) *Store {
	return &Store{
		plans:   make(map[string]*TradePlan),
		journal: journal,
	}
}

// Restore loads non-terminal plans from the journal on boot
func (s *Store) Restore() error {
	if s.journal == nil {
		return nil
	}

	plans, err := s.journal.LoadActivePlans()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range plans {
		if p.Status.Terminal() {
			continue
		}
		s.plans[p.ID] = p
	}

	log.Info().Int("plans", len(plans)).Msg("💾 Plan store restored")
	return nil
}

// ReconcileInterrupted fails every plan recovered in TRIGGERED. The
// previous process died between winning the trigger CAS and the order
// resolving, so a broker order may be live; FAILED surfaces the plan for
// operator review instead of leaving it parked forever, since only
// PENDING plans are ever polled. notifier may be nil. Returns the number
// of plans failed.
func (s *Store) ReconcileInterrupted(notifier Notifier) int {
	s.mu.Lock()
	var interrupted []*TradePlan
	for _, p := range s.plans {
		if p.Status == StatusTriggered {
			p.Status = StatusFailed
			interrupted = append(interrupted, clone(p))
		}
	}
	s.mu.Unlock()

	for _, p := range interrupted {
		s.persist(p)

		log.Warn().
			Str("plan_id", p.ID).
			Str("symbol", p.Symbol).
			Msg("⚠️ Plan was mid-execution at shutdown, failed for review")

		if notifier != nil {
			notifier.Notify(types.Event{
				Kind:      types.EventPlanFailed,
				PlanID:    p.ID,
				Payload:   map[string]string{"symbol": p.Symbol, "error": "interrupted during execution, check broker"},
				Timestamp: time.Now(),
			})
		}
	}
	return len(interrupted)
}

// Create validates and registers a plan, returning its ID
func (s *Store) Create(p *TradePlan) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if _, ok := s.plans[p.ID]; ok {
		s.mu.Unlock()
		return "", ErrDuplicate
	}
	s.plans[p.ID] = p
	rec := clone(p)
	s.mu.Unlock()

	s.persist(rec)

	log.Info().
		Str("plan_id", p.ID).
		Str("symbol", p.Symbol).
		Str("direction", string(p.Direction)).
		Str("entry", p.Entry.String()).
		Int("conditions", len(p.Conditions)).
		Time("expires_at", p.ExpiresAt).
		Msg("📋 Plan created")

	return p.ID, nil
}

// Get returns a copy of the plan. Mutation goes through the store, never
// through the returned value.
func (s *Store) Get(id string) (*TradePlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

// CompareAndSetStatus transitions id from expected to next atomically.
// Returns false when the plan is missing, already terminal, or not in the
// expected status; exactly one caller racing on the same transition wins.
func (s *Store) CompareAndSetStatus(id string, expected, next Status) bool {
	s.mu.Lock()

	p, ok := s.plans[id]
	if !ok || p.Status != expected || p.Status.Terminal() {
		s.mu.Unlock()
		return false
	}
	p.Status = next
	rec := clone(p)
	s.mu.Unlock()

	s.persist(rec)

	log.Debug().
		Str("plan_id", id).
		Str("from", string(expected)).
		Str("to", string(next)).
		Msg("Plan status transition")

	return true
}

// ListBySymbolAndClass returns copies of the active plans for one symbol
// in one polling class. Only PENDING plans are candidates for evaluation.
func (s *Store) ListBySymbolAndClass(symbol string, class Class) []*TradePlan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*TradePlan
	for _, p := range s.plans {
		if p.Symbol == symbol && p.Status == StatusPending && p.PollClass() == class {
			out = append(out, clone(p))
		}
	}
	return out
}

// ActiveSymbols returns the distinct symbols carrying PENDING plans in the
// given class, so the scheduler fetches one snapshot per symbol per cycle
func (s *Store) ActiveSymbols(class Class) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, p := range s.plans {
		if p.Status != StatusPending || p.PollClass() != class {
			continue
		}
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	return out
}

// Pending returns copies of every PENDING plan regardless of class
// (expiry sweep, status display)
func (s *Store) Pending() []*TradePlan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*TradePlan
	for _, p := range s.plans {
		if p.Status == StatusPending {
			out = append(out, clone(p))
		}
	}
	return out
}

// Touch records an evaluation pass for observability
func (s *Store) Touch(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.plans[id]; ok {
		p.LastCheckedAt = at
		p.CheckCount++
	}
}

// Cancel cooperatively cancels a pending plan
func (s *Store) Cancel(id string) bool {
	return s.CompareAndSetStatus(id, StatusPending, StatusCancelled)
}

// clone is a shallow copy; decimals are immutable values and the
// condition set is never mutated after creation
func clone(p *TradePlan) *TradePlan {
	c := *p
	return &c
}

func (s *Store) persist(p *TradePlan) {
	if s.journal == nil {
		return
	}
	if err := s.journal.SavePlan(p); err != nil {
		log.Error().Err(err).Str("plan_id", p.ID).Msg("Failed to persist plan")
	}
}
