package risk

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradesentry/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXIT STATE MACHINE - Owns every position from fill to close
// ═══════════════════════════════════════════════════════════════════════════════
//
// One machine per process; one state record per position. Check priority
// each cycle:
//
//   1. Order-flow flip exit (risk-of-reversal signal, pre-empts everything)
//   2. One-time pre-breakeven volatility widening
//   3. Breakeven arm (stop to entry + spread buffer)
//   4. Partial profit (post-breakeven only, min-lot aware)
//   5. Continuous ATR trailing (monotonic, regressions discarded)
//
// Breakeven and partial are irreversible one-shot events driven by the
// triggered flags, not re-derived from current state, so a manual SL change
// cannot re-arm them.
//
// ═══════════════════════════════════════════════════════════════════════════════

// StopBroker is the slice of the execution venue the exit machine needs
type StopBroker interface {
	ModifyStop(ctx context.Context, ticket string, newSL decimal.Decimal) error
	ClosePosition(ctx context.Context, ticket string, fraction decimal.Decimal) error
	MinLot() decimal.Decimal
}

// SnapshotProvider serves the latest fresh snapshot per symbol
type SnapshotProvider interface {
	Get(symbol string) (*types.Snapshot, error)
}

// Notifier receives fire-and-forget events
type Notifier interface {
	Notify(ev types.Event)
}

// PositionJournal persists position state across restarts
type PositionJournal interface {
	SavePosition(pos *types.Position) error
	LoadOpenPositions() ([]*types.Position, error)
}

// ExitConfig holds the exit machine tunables. Thresholds are fractions of
// the position's potential profit fixed at open.
type ExitConfig struct {
	CheckInterval      time.Duration
	BreakevenThreshold decimal.Decimal // e.g. 0.30
	PartialThreshold   decimal.Decimal // e.g. 0.60
	PartialClosePct    decimal.Decimal // e.g. 0.50
	SpreadBuffer       decimal.Decimal // price units added past entry on breakeven
	FlipThreshold      decimal.Decimal // e.g. 0.80 reversal vs entry flow
	VolIndexThreshold  decimal.Decimal // volatility index level that arms entry widening
	MaxHoldTime        time.Duration   // 0 disables the time-based exit
}

// DefaultExitConfig returns the stock tunables
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		CheckInterval:      30 * time.Second,
		BreakevenThreshold: decimal.NewFromFloat(0.30),
		PartialThreshold:   decimal.NewFromFloat(0.60),
		PartialClosePct:    decimal.NewFromFloat(0.50),
		SpreadBuffer:       decimal.NewFromFloat(0.0002),
		FlipThreshold:      decimal.NewFromFloat(0.80),
		VolIndexThreshold:  decimal.NewFromFloat(25),
	}
}

// ExitMachine drives breakeven, partial-close and trailing transitions for
// every open position
type ExitMachine struct {
	mu sync.RWMutex

	cfg       ExitConfig
	broker    StopBroker
	snapshots SnapshotProvider
	adjuster  *Adjuster
	notifier  Notifier
	journal   PositionJournal

	positions map[string]*types.Position

	running bool
	stopCh  chan struct{}
}

// NewExitMachine creates the machine. notifier and journal may be nil.
func NewExitMachine(cfg ExitConfig, broker StopBroker, snapshots SnapshotProvider, adjuster *Adjuster, notifier Notifier, journal PositionJournal) *ExitMachine {
	return &ExitMachine{
		cfg:       cfg,
		broker:    broker,
		snapshots: snapshots,
		adjuster:  adjuster,
		notifier:  notifier,
		journal:   journal,
		positions: make(map[string]*types.Position),
		stopCh:    make(chan struct{}),
	}
}

// Restore reloads open positions from the journal on boot
func (m *ExitMachine) Restore() error {
	if m.journal == nil {
		return nil
	}

	positions, err := m.journal.LoadOpenPositions()
	if err != nil {
		return err
	}

	m.mu.Lock()
	for _, pos := range positions {
		if pos.State == types.PositionClosed {
			continue
		}
		m.positions[pos.Ticket] = pos
	}
	count := len(m.positions)
	m.mu.Unlock()

	log.Info().Int("positions", count).Msg("💾 Exit machine restored")
	return nil
}

// Adopt takes ownership of a freshly filled position
func (m *ExitMachine) Adopt(pos *types.Position) {
	if pos.State == "" {
		pos.State = types.PositionOpen
	}

	m.mu.Lock()
	m.positions[pos.Ticket] = pos
	m.mu.Unlock()

	m.persist(pos)

	log.Info().
		Str("ticket", pos.Ticket).
		Str("symbol", pos.Symbol).
		Str("direction", string(pos.Direction)).
		Str("entry", pos.EntryPrice.String()).
		Str("volume", pos.Volume.String()).
		Msg("🎯 Position adopted")
}

// Open returns copies of the positions not yet closed. Mutation happens
// only inside the machine, never through the returned values.
func (m *ExitMachine) Open() []*types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		c := *pos
		out = append(out, &c)
	}
	return out
}

// tracked returns the live position records for the monitor loop
func (m *ExitMachine) tracked() []*types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	return out
}

// Start begins the monitor loop
func (m *ExitMachine) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.monitorLoop()
	log.Info().Dur("interval", m.cfg.CheckInterval).Msg("⚡ Exit machine started")
}

// Stop stops the monitor loop
func (m *ExitMachine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	m.running = false
	close(m.stopCh)
	log.Info().Msg("Exit machine stopped")
}

func (m *ExitMachine) monitorLoop() {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkAll(context.Background())
		}
	}
}

func (m *ExitMachine) checkAll(ctx context.Context) {
	for _, pos := range m.tracked() {
		snap, err := m.snapshots.Get(pos.Symbol)
		if err != nil {
			log.Debug().Str("ticket", pos.Ticket).Str("symbol", pos.Symbol).
				Msg("No fresh snapshot, skipping position this cycle")
			continue
		}
		m.Check(ctx, pos, snap)
	}
}

// Check runs one evaluation cycle for a single position against a single
// snapshot. Exposed for deterministic testing.
func (m *ExitMachine) Check(ctx context.Context, pos *types.Position, snap *types.Snapshot) {
	if pos.State == types.PositionClosed {
		return
	}

	// 1. Flip exit pre-empts everything else
	if m.checkFlipExit(ctx, pos, snap) {
		return
	}

	// Venue-side stop or target may already have been hit
	if m.checkStopAndTarget(ctx, pos, snap) {
		return
	}

	if m.cfg.MaxHoldTime > 0 && time.Since(pos.OpenedAt) > m.cfg.MaxHoldTime {
		m.close(ctx, pos, snap.Price, decimal.NewFromInt(1), "MAX_HOLD_TIME")
		return
	}

	// 2. One-time pre-breakeven widening
	m.checkEntryWidening(ctx, pos, snap)

	// 3. Breakeven
	m.checkBreakeven(ctx, pos, snap)

	// 4. Partial profit (post-breakeven only)
	m.checkPartial(ctx, pos, snap)

	// 5. Continuous trailing
	m.checkTrailing(ctx, pos, snap)
}

// checkFlipExit closes the position when live order flow has reversed
// beyond the threshold relative to the flow captured at entry
func (m *ExitMachine) checkFlipExit(ctx context.Context, pos *types.Position, snap *types.Snapshot) bool {
	entry := pos.EntryOrderFlow
	now := snap.OrderFlow

	if !entry.Known || !now.Known || entry.Delta.IsZero() {
		return false
	}

	// Reversal: delta sign has flipped and the opposing magnitude has
	// reached the threshold fraction of the entry magnitude
	if entry.Delta.Sign() == now.Delta.Sign() {
		return false
	}
	required := entry.Delta.Abs().Mul(m.cfg.FlipThreshold)
	if now.Delta.Abs().LessThan(required) {
		return false
	}

	log.Warn().
		Str("ticket", pos.Ticket).
		Str("entry_delta", entry.Delta.String()).
		Str("current_delta", now.Delta.String()).
		Msg("🔄 Order-flow flip detected")

	m.close(ctx, pos, snap.Price, decimal.NewFromInt(1), "ORDER_FLOW_FLIP")
	return true
}

// checkStopAndTarget closes the position when price has crossed the
// current stop or the take profit
func (m *ExitMachine) checkStopAndTarget(ctx context.Context, pos *types.Position, snap *types.Snapshot) bool {
	price := snap.Price

	if pos.Direction == types.Buy {
		if !pos.CurrentSL.IsZero() && price.LessThanOrEqual(pos.CurrentSL) {
			m.close(ctx, pos, price, decimal.NewFromInt(1), "STOP_LOSS")
			return true
		}
		if !pos.CurrentTP.IsZero() && price.GreaterThanOrEqual(pos.CurrentTP) {
			m.close(ctx, pos, price, decimal.NewFromInt(1), "TAKE_PROFIT")
			return true
		}
		return false
	}

	if !pos.CurrentSL.IsZero() && price.GreaterThanOrEqual(pos.CurrentSL) {
		m.close(ctx, pos, price, decimal.NewFromInt(1), "STOP_LOSS")
		return true
	}
	if !pos.CurrentTP.IsZero() && price.LessThanOrEqual(pos.CurrentTP) {
		m.close(ctx, pos, price, decimal.NewFromInt(1), "TAKE_PROFIT")
		return true
	}
	return false
}

// checkEntryWidening applies the one-time volatility widening before
// breakeven. It only ever widens the stop; once breakeven has armed the
// monotonic regime owns the stop and widening is off the table.
func (m *ExitMachine) checkEntryWidening(ctx context.Context, pos *types.Position, snap *types.Snapshot) {
	if pos.HybridAdjustmentApplied || pos.BreakevenTriggered {
		return
	}
	if !m.adjuster.ShouldWiden(snap.VolatilityIndex) {
		return
	}
	if snap.ATR.IsZero() {
		return
	}

	distance := m.adjuster.EntryWiden(snap.ATR, snap.VolatilityIndex)

	var newSL decimal.Decimal
	if pos.Direction == types.Buy {
		newSL = pos.EntryPrice.Sub(distance)
		if newSL.GreaterThanOrEqual(pos.CurrentSL) {
			// Computed stop is not wider than the current one
			m.update(pos, func() { pos.HybridAdjustmentApplied = true })
			return
		}
	} else {
		newSL = pos.EntryPrice.Add(distance)
		if newSL.LessThanOrEqual(pos.CurrentSL) {
			m.update(pos, func() { pos.HybridAdjustmentApplied = true })
			return
		}
	}

	if err := m.broker.ModifyStop(ctx, pos.Ticket, newSL); err != nil {
		log.Warn().Err(err).Str("ticket", pos.Ticket).Msg("Entry widening stop modify failed")
		return
	}

	m.update(pos, func() {
		pos.CurrentSL = newSL
		pos.HybridAdjustmentApplied = true
	})

	log.Info().
		Str("ticket", pos.Ticket).
		Str("new_sl", newSL.String()).
		Str("vol_index", snap.VolatilityIndex.String()).
		Msg("🌪️ Entry stop widened for volatility")
}

// checkBreakeven moves the stop to entry plus a spread buffer once
// unrealized profit reaches the breakeven threshold
func (m *ExitMachine) checkBreakeven(ctx context.Context, pos *types.Position, snap *types.Snapshot) {
	if pos.BreakevenTriggered || pos.PotentialProfit.IsZero() {
		return
	}

	profit := pos.UnrealizedProfit(snap.Price)
	required := pos.PotentialProfit.Mul(m.cfg.BreakevenThreshold)
	if profit.LessThan(required) {
		return
	}

	m.update(pos, func() { pos.State = types.PositionBreakevenArmed })

	var newSL decimal.Decimal
	if pos.Direction == types.Buy {
		newSL = pos.EntryPrice.Add(m.cfg.SpreadBuffer)
	} else {
		newSL = pos.EntryPrice.Sub(m.cfg.SpreadBuffer)
	}

	if err := m.broker.ModifyStop(ctx, pos.Ticket, newSL); err != nil {
		// Stays armed; retried next cycle without consuming the flag
		log.Warn().Err(err).Str("ticket", pos.Ticket).Msg("Breakeven stop modify failed")
		return
	}

	m.update(pos, func() {
		pos.CurrentSL = newSL
		pos.BreakevenTriggered = true
		pos.State = types.PositionTrailing
	})

	log.Info().
		Str("ticket", pos.Ticket).
		Str("sl", newSL.String()).
		Str("profit", profit.String()).
		Msg("🔒 Breakeven armed, trailing enabled")

	m.notify(types.Event{
		Kind:      types.EventBreakevenArmed,
		Ticket:    pos.Ticket,
		Payload:   map[string]string{"symbol": pos.Symbol, "sl": newSL.String()},
		Timestamp: time.Now(),
	})
}

// checkPartial closes a fraction of the position once profit reaches the
// partial threshold. Skipped and marked handled when either the closed
// chunk or the remainder would round below the broker minimum lot, so the
// rule is never re-attempted.
func (m *ExitMachine) checkPartial(ctx context.Context, pos *types.Position, snap *types.Snapshot) {
	if pos.PartialTriggered || !pos.BreakevenTriggered || pos.PotentialProfit.IsZero() {
		return
	}

	profit := pos.UnrealizedProfit(snap.Price)
	required := pos.PotentialProfit.Mul(m.cfg.PartialThreshold)
	if profit.LessThan(required) {
		return
	}

	minLot := m.broker.MinLot()
	chunk := pos.Volume.Mul(m.cfg.PartialClosePct)
	remainder := pos.Volume.Sub(chunk)

	if chunk.LessThan(minLot) || remainder.LessThan(minLot) {
		m.update(pos, func() { pos.PartialTriggered = true })
		log.Info().
			Str("ticket", pos.Ticket).
			Str("volume", pos.Volume.String()).
			Str("min_lot", minLot.String()).
			Msg("Partial close below minimum lot, marked handled")
		return
	}

	if err := m.broker.ClosePosition(ctx, pos.Ticket, m.cfg.PartialClosePct); err != nil {
		log.Warn().Err(err).Str("ticket", pos.Ticket).Msg("Partial close failed")
		return
	}

	m.update(pos, func() {
		pos.Volume = remainder
		pos.PartialTriggered = true
		pos.State = types.PositionPartialTaken
	})

	log.Info().
		Str("ticket", pos.Ticket).
		Str("closed", chunk.String()).
		Str("remaining", remainder.String()).
		Msg("💰 Partial profit taken")

	m.notify(types.Event{
		Kind:      types.EventPartialTaken,
		Ticket:    pos.Ticket,
		Payload:   map[string]string{"symbol": pos.Symbol, "closed": chunk.String(), "remaining": remainder.String()},
		Timestamp: time.Now(),
	})
}

// checkTrailing recomputes the ATR trailing stop and writes it only when
// it tightens risk in the position's favor. A computed value that would
// loosen the stop is discarded, not written.
func (m *ExitMachine) checkTrailing(ctx context.Context, pos *types.Position, snap *types.Snapshot) {
	if pos.State != types.PositionTrailing && pos.State != types.PositionPartialTaken {
		return
	}
	if snap.ATR.IsZero() {
		return
	}

	distance := m.adjuster.Trail(snap.ATR)

	var newSL decimal.Decimal
	if pos.Direction == types.Buy {
		newSL = snap.Price.Sub(distance)
		if newSL.LessThanOrEqual(pos.CurrentSL) {
			log.Debug().
				Str("ticket", pos.Ticket).
				Str("computed_sl", newSL.String()).
				Str("current_sl", pos.CurrentSL.String()).
				Msg("Trailing stop would loosen risk, discarded")
			return
		}
	} else {
		newSL = snap.Price.Add(distance)
		if newSL.GreaterThanOrEqual(pos.CurrentSL) {
			log.Debug().
				Str("ticket", pos.Ticket).
				Str("computed_sl", newSL.String()).
				Str("current_sl", pos.CurrentSL.String()).
				Msg("Trailing stop would loosen risk, discarded")
			return
		}
	}

	if newSL.Equal(pos.LastTrailingSL) {
		return
	}

	if err := m.broker.ModifyStop(ctx, pos.Ticket, newSL); err != nil {
		log.Warn().Err(err).Str("ticket", pos.Ticket).Msg("Trailing stop modify failed")
		return
	}

	m.update(pos, func() {
		pos.CurrentSL = newSL
		pos.LastTrailingSL = newSL
	})

	log.Debug().
		Str("ticket", pos.Ticket).
		Str("new_sl", newSL.String()).
		Msg("Trailing stop updated")

	m.notify(types.Event{
		Kind:      types.EventTrailingAdjusted,
		Ticket:    pos.Ticket,
		Payload:   map[string]string{"symbol": pos.Symbol, "sl": newSL.String()},
		Timestamp: time.Now(),
	})
}

// close exits fraction of the position and, on a full close, retires it
func (m *ExitMachine) close(ctx context.Context, pos *types.Position, price, fraction decimal.Decimal, reason string) {
	if err := m.broker.ClosePosition(ctx, pos.Ticket, fraction); err != nil {
		log.Error().Err(err).Str("ticket", pos.Ticket).Str("reason", reason).
			Msg("❌ Position close failed, retrying next cycle")
		return
	}

	pnl := pos.UnrealizedProfit(price)

	m.mu.Lock()
	pos.State = types.PositionClosed
	delete(m.positions, pos.Ticket)
	m.mu.Unlock()
	m.persist(pos)

	log.Info().
		Str("ticket", pos.Ticket).
		Str("symbol", pos.Symbol).
		Str("exit", price.String()).
		Str("pnl", pnl.String()).
		Str("reason", reason).
		Msg("📊 Position closed")

	m.notify(types.Event{
		Kind:      types.EventPositionClosed,
		Ticket:    pos.Ticket,
		Payload:   map[string]string{"symbol": pos.Symbol, "reason": reason, "pnl": pnl.String()},
		Timestamp: time.Now(),
	})
}

// update applies field writes under the machine lock so readers copying
// through Open never observe a torn record, then persists the result. The
// monitor loop is the only writer, so persisting outside the lock is safe.
func (m *ExitMachine) update(pos *types.Position, fn func()) {
	m.mu.Lock()
	fn()
	m.mu.Unlock()
	m.persist(pos)
}

func (m *ExitMachine) persist(pos *types.Position) {
	if m.journal == nil {
		return
	}
	if err := m.journal.SavePosition(pos); err != nil {
		log.Error().Err(err).Str("ticket", pos.Ticket).Msg("Failed to persist position")
	}
}

func (m *ExitMachine) notify(ev types.Event) {
	if m.notifier != nil {
		m.notifier.Notify(ev)
	}
}
