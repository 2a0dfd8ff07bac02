package bot

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradesentry/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM NOTIFICATION SINK
// ═══════════════════════════════════════════════════════════════════════════════
//
// Fire-and-forget delivery of engine events plus a small command surface:
//   /status — engine status
//   /plans — pending plans
//   /positions — open positions
//   /cancel <id> — cancel a pending plan
//
// ═══════════════════════════════════════════════════════════════════════════════

// PlanView is one pending plan for display
type PlanView struct {
	ID        string
	Symbol    string
	Direction string
	Entry     decimal.Decimal
	ExpiresAt time.Time
}

// PositionView is one open position for display
type PositionView struct {
	Ticket    string
	Symbol    string
	Direction string
	Entry     decimal.Decimal
	CurrentSL decimal.Decimal
	State     string
}

// StatusProvider serves the command surface
type StatusProvider interface {
	PendingPlans() []PlanView
	OpenPositions() []PositionView
	CancelPlan(id string) bool
}

// TelegramSink delivers events to a Telegram chat
type TelegramSink struct {
	mu      sync.Mutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	provider StatusProvider
	dryRun   bool
}

// NewTelegramSink creates the sink. provider may be nil to disable commands.
func NewTelegramSink(token string, chatID int64, provider StatusProvider, dryRun bool) (*TelegramSink, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	sink := &TelegramSink{
		api:      api,
		chatID:   chatID,
		stopCh:   make(chan struct{}),
		provider: provider,
		dryRun:   dryRun,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram sink initialized")
	return sink, nil
}

// Start begins listening for commands
func (s *TelegramSink) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.commandLoop()
	log.Info().Msg("📱 Telegram sink started")
}

// Stop stops the command loop
func (s *TelegramSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	close(s.stopCh)
	log.Info().Msg("Telegram sink stopped")
}

// Notify renders and delivers one event
func (s *TelegramSink) Notify(ev types.Event) {
	var msg string

	switch ev.Kind {
	case types.EventPlanExecuted:
		msg = fmt.Sprintf("✅ *PLAN EXECUTED*\n\n📊 %s\n🎫 Ticket: `%s`\n💵 Fill: *%s*",
			ev.Payload["symbol"], ev.Ticket, ev.Payload["fill"])
	case types.EventPlanFailed:
		msg = fmt.Sprintf("❌ *PLAN FAILED*\n\n📊 %s\n🆔 `%s`\n⚠️ %s",
			ev.Payload["symbol"], ev.PlanID, ev.Payload["error"])
	case types.EventPlanExpired:
		msg = fmt.Sprintf("⌛ *PLAN EXPIRED*\n\n📊 %s\n🆔 `%s`",
			ev.Payload["symbol"], ev.PlanID)
	case types.EventPlanCancelled:
		msg = fmt.Sprintf("🚫 *PLAN CANCELLED*\n\n🆔 `%s`", ev.PlanID)
	case types.EventBreakevenArmed:
		msg = fmt.Sprintf("🔒 *BREAKEVEN ARMED*\n\n📊 %s\n🎫 `%s`\n🛑 SL → *%s*",
			ev.Payload["symbol"], ev.Ticket, ev.Payload["sl"])
	case types.EventPartialTaken:
		msg = fmt.Sprintf("💰 *PARTIAL TAKEN*\n\n📊 %s\n🎫 `%s`\n📦 Closed: *%s* | Left: *%s*",
			ev.Payload["symbol"], ev.Ticket, ev.Payload["closed"], ev.Payload["remaining"])
	case types.EventTrailingAdjusted:
		msg = fmt.Sprintf("📈 *TRAILING ADJUSTED*\n\n📊 %s\n🎫 `%s`\n🛑 SL → *%s*",
			ev.Payload["symbol"], ev.Ticket, ev.Payload["sl"])
	case types.EventPositionClosed:
		emoji := "📊"
		if pnl, err := decimal.NewFromString(ev.Payload["pnl"]); err == nil {
			if pnl.IsPositive() {
				emoji = "📈"
			} else if pnl.IsNegative() {
				emoji = "📉"
			}
		}
		msg = fmt.Sprintf("%s *POSITION CLOSED*\n\n📊 %s\n🎫 `%s`\n📝 %s\n💵 P&L: *%s*",
			emoji, ev.Payload["symbol"], ev.Ticket, ev.Payload["reason"], ev.Payload["pnl"])
	default:
		msg = fmt.Sprintf("📌 *%s*\n\n`%v`", ev.Kind, ev.Payload)
	}

	s.sendMarkdown(msg)
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (s *TelegramSink) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := s.api.GetUpdatesChan(u)

	for {
		select {
		case <-s.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat.ID != s.chatID {
				continue
			}
			s.handleCommand(update.Message)
		}
	}
}

func (s *TelegramSink) handleCommand(msg *tgbotapi.Message) {
	switch strings.ToLower(msg.Command()) {
	case "start", "help":
		s.cmdHelp()
	case "status":
		s.cmdStatus()
	case "plans":
		s.cmdPlans()
	case "positions":
		s.cmdPositions()
	case "cancel":
		s.cmdCancel(strings.TrimSpace(msg.CommandArguments()))
	case "ping":
		s.send("🏓 Pong!")
	default:
		s.send("❓ Unknown command. Use /help")
	}
}

func (s *TelegramSink) cmdHelp() {
	s.sendMarkdown(`🤖 *TRADESENTRY COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Engine status
📋 /plans — Pending plans
💼 /positions — Open positions
🚫 /cancel <id> — Cancel a pending plan
🏓 /ping — Test connection`)
}

func (s *TelegramSink) cmdStatus() {
	mode := "LIVE"
	if s.dryRun {
		mode = "PAPER"
	}

	plans, positions := 0, 0
	if s.provider != nil {
		plans = len(s.provider.PendingPlans())
		positions = len(s.provider.OpenPositions())
	}

	s.sendMarkdown(fmt.Sprintf(`📊 *ENGINE STATUS*
━━━━━━━━━━━━━━━━━━━━

🟢 RUNNING
📊 Mode: *%s*
📋 Pending plans: *%d*
💼 Open positions: *%d*`, mode, plans, positions))
}

func (s *TelegramSink) cmdPlans() {
	if s.provider == nil {
		s.send("❌ Not available")
		return
	}

	plans := s.provider.PendingPlans()
	if len(plans) == 0 {
		s.send("📋 No pending plans")
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 *PENDING PLANS*\n━━━━━━━━━━━━━━━━━━━━\n")
	for _, p := range plans {
		fmt.Fprintf(&sb, "\n🆔 `%s`\n📊 %s %s @ %s · expires %s\n",
			p.ID, p.Symbol, p.Direction, p.Entry.String(), p.ExpiresAt.Format("15:04 Jan 2"))
	}
	s.sendMarkdown(sb.String())
}

func (s *TelegramSink) cmdPositions() {
	if s.provider == nil {
		s.send("❌ Not available")
		return
	}

	positions := s.provider.OpenPositions()
	if len(positions) == 0 {
		s.send("💼 No open positions")
		return
	}

	var sb strings.Builder
	sb.WriteString("💼 *OPEN POSITIONS*\n━━━━━━━━━━━━━━━━━━━━\n")
	for _, p := range positions {
		fmt.Fprintf(&sb, "\n🎫 `%s`\n📊 %s %s @ %s · SL %s · %s\n",
			p.Ticket, p.Symbol, p.Direction, p.Entry.String(), p.CurrentSL.String(), p.State)
	}
	s.sendMarkdown(sb.String())
}

func (s *TelegramSink) cmdCancel(id string) {
	if s.provider == nil || id == "" {
		s.send("❓ Usage: /cancel <plan-id>")
		return
	}

	if s.provider.CancelPlan(id) {
		s.send("🚫 Plan cancelled: " + id)
	} else {
		s.send("❌ Plan not found or not pending: " + id)
	}
}

func (s *TelegramSink) send(text string) {
	msg := tgbotapi.NewMessage(s.chatID, text)
	if _, err := s.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Telegram send failed")
	}
}

func (s *TelegramSink) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := s.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Telegram send failed")
	}
}
