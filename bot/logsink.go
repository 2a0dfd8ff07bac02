package bot

import (
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/tradesentry/types"
)

// LogSink is the fallback notification sink used when no Telegram token is
// configured. Events land in the structured log and nowhere else.
type LogSink struct{}

// Notify logs the event
func (LogSink) Notify(ev types.Event) {
	log.Info().
		Str("kind", ev.Kind).
		Str("plan_id", ev.PlanID).
		Str("ticket", ev.Ticket).
		Interface("payload", ev.Payload).
		Msg("🔔 Event")
}
