package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/tradesentry/plan"
	"github.com/web3guy0/tradesentry/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Durable plan/position journal
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every status transition is written through synchronously, so a restart
// recovers PENDING plans unchanged and never replays an EXECUTED one.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db *gorm.DB
}

// Models

// PlanRecord persists one trade plan
type PlanRecord struct {
	ID            string `gorm:"primaryKey"`
	Symbol        string `gorm:"index"`
	Direction     string
	Entry         decimal.Decimal `gorm:"type:decimal(20,8)"`
	StopLoss      decimal.Decimal `gorm:"type:decimal(20,8)"`
	TakeProfit    decimal.Decimal `gorm:"type:decimal(20,8)"`
	Volume        decimal.Decimal `gorm:"type:decimal(20,8)"`
	Conditions    string          // JSON-encoded condition set
	Status        string          `gorm:"index"`
	ExpiresAt     time.Time
	LastCheckedAt time.Time
	CheckCount    int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PositionRecord persists one live position
type PositionRecord struct {
	Ticket                  string `gorm:"primaryKey"`
	Symbol                  string `gorm:"index"`
	Direction               string
	EntryPrice              decimal.Decimal `gorm:"type:decimal(20,8)"`
	Volume                  decimal.Decimal `gorm:"type:decimal(20,8)"`
	CurrentSL               decimal.Decimal `gorm:"type:decimal(20,8)"`
	CurrentTP               decimal.Decimal `gorm:"type:decimal(20,8)"`
	State                   string          `gorm:"index"`
	OCOSibling              string
	PotentialProfit         decimal.Decimal `gorm:"type:decimal(20,8)"`
	EntryFlowDelta          decimal.Decimal `gorm:"type:decimal(20,8)"`
	EntryFlowDirection      string
	EntryFlowKnown          bool
	BreakevenTriggered      bool
	PartialTriggered        bool
	HybridAdjustmentApplied bool
	LastTrailingSL          decimal.Decimal `gorm:"type:decimal(20,8)"`
	OpenedAt                time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// EventRecord logs one emitted notification
type EventRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Kind      string `gorm:"index"`
	PlanID    string `gorm:"index"`
	Ticket    string `gorm:"index"`
	Payload   string // JSON
	CreatedAt time.Time
}

// New opens the journal. A postgres:// DSN connects to PostgreSQL;
// anything else is treated as a SQLite path.
func New(dsn string) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("💾 Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("💾 Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&PlanRecord{}, &PositionRecord{}, &EventRecord{}); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// PLAN JOURNAL
// ═══════════════════════════════════════════════════════════════════════════════

// SavePlan upserts the plan's current state
func (d *Database) SavePlan(p *plan.TradePlan) error {
	conds, err := plan.MarshalConditions(p.Conditions)
	if err != nil {
		return err
	}

	rec := PlanRecord{
		ID:            p.ID,
		Symbol:        p.Symbol,
		Direction:     string(p.Direction),
		Entry:         p.Entry,
		StopLoss:      p.StopLoss,
		TakeProfit:    p.TakeProfit,
		Volume:        p.Volume,
		Conditions:    string(conds),
		Status:        string(p.Status),
		ExpiresAt:     p.ExpiresAt,
		LastCheckedAt: p.LastCheckedAt,
		CheckCount:    p.CheckCount,
		CreatedAt:     p.CreatedAt,
	}
	return d.db.Save(&rec).Error
}

// LoadActivePlans returns every non-terminal plan for restart recovery
func (d *Database) LoadActivePlans() ([]*plan.TradePlan, error) {
	var records []PlanRecord
	err := d.db.
		Where("status IN ?", []string{string(plan.StatusPending), string(plan.StatusTriggered)}).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	plans := make([]*plan.TradePlan, 0, len(records))
	for _, rec := range records {
		conds, err := plan.UnmarshalConditions([]byte(rec.Conditions))
		if err != nil {
			log.Warn().Err(err).Str("plan_id", rec.ID).Msg("Skipping plan with bad condition data")
			continue
		}
		plans = append(plans, &plan.TradePlan{
			ID:            rec.ID,
			Symbol:        rec.Symbol,
			Direction:     types.Direction(rec.Direction),
			Entry:         rec.Entry,
			StopLoss:      rec.StopLoss,
			TakeProfit:    rec.TakeProfit,
			Volume:        rec.Volume,
			Conditions:    conds,
			Status:        plan.Status(rec.Status),
			CreatedAt:     rec.CreatedAt,
			ExpiresAt:     rec.ExpiresAt,
			LastCheckedAt: rec.LastCheckedAt,
			CheckCount:    rec.CheckCount,
		})
	}
	return plans, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION JOURNAL
// ═══════════════════════════════════════════════════════════════════════════════

// SavePosition upserts the position's current state
func (d *Database) SavePosition(pos *types.Position) error {
	rec := PositionRecord{
		Ticket:                  pos.Ticket,
		Symbol:                  pos.Symbol,
		Direction:               string(pos.Direction),
		EntryPrice:              pos.EntryPrice,
		Volume:                  pos.Volume,
		CurrentSL:               pos.CurrentSL,
		CurrentTP:               pos.CurrentTP,
		State:                   string(pos.State),
		OCOSibling:              pos.OCOSibling,
		PotentialProfit:         pos.PotentialProfit,
		EntryFlowDelta:          pos.EntryOrderFlow.Delta,
		EntryFlowDirection:      string(pos.EntryOrderFlow.CVDDirection),
		EntryFlowKnown:          pos.EntryOrderFlow.Known,
		BreakevenTriggered:      pos.BreakevenTriggered,
		PartialTriggered:        pos.PartialTriggered,
		HybridAdjustmentApplied: pos.HybridAdjustmentApplied,
		LastTrailingSL:          pos.LastTrailingSL,
		OpenedAt:                pos.OpenedAt,
	}
	return d.db.Save(&rec).Error
}

// LoadOpenPositions returns every position not yet closed
func (d *Database) LoadOpenPositions() ([]*types.Position, error) {
	var records []PositionRecord
	err := d.db.
		Where("state <> ?", string(types.PositionClosed)).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	positions := make([]*types.Position, 0, len(records))
	for _, rec := range records {
		positions = append(positions, &types.Position{
			Ticket:     rec.Ticket,
			Symbol:     rec.Symbol,
			Direction:  types.Direction(rec.Direction),
			EntryPrice: rec.EntryPrice,
			Volume:     rec.Volume,
			CurrentSL:  rec.CurrentSL,
			CurrentTP:  rec.CurrentTP,
			State:      types.PositionState(rec.State),
			OCOSibling: rec.OCOSibling,
			OpenedAt:   rec.OpenedAt,

			PotentialProfit: rec.PotentialProfit,
			EntryOrderFlow: types.OrderFlow{
				Delta:        rec.EntryFlowDelta,
				CVDDirection: types.CVDDirection(rec.EntryFlowDirection),
				Known:        rec.EntryFlowKnown,
			},
			BreakevenTriggered:      rec.BreakevenTriggered,
			PartialTriggered:        rec.PartialTriggered,
			HybridAdjustmentApplied: rec.HybridAdjustmentApplied,
			LastTrailingSL:          rec.LastTrailingSL,
		})
	}
	return positions, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// EVENT LOG
// ═══════════════════════════════════════════════════════════════════════════════

// LogEvent appends a notification event to the journal
func (d *Database) LogEvent(ev types.Event) error {
	payload := "{}"
	if len(ev.Payload) > 0 {
		if b, err := json.Marshal(ev.Payload); err == nil {
			payload = string(b)
		}
	}

	rec := EventRecord{
		Kind:      ev.Kind,
		PlanID:    ev.PlanID,
		Ticket:    ev.Ticket,
		Payload:   payload,
		CreatedAt: ev.Timestamp,
	}
	return d.db.Create(&rec).Error
}

// RecentEvents returns the latest notification events
func (d *Database) RecentEvents(limit int) ([]EventRecord, error) {
	var records []EventRecord
	err := d.db.Order("created_at DESC").Limit(limit).Find(&records).Error
	return records, err
}

// Close closes the underlying connection
func (d *Database) Close() {
	if sqlDB, err := d.db.DB(); err == nil {
		sqlDB.Close()
	}
}
