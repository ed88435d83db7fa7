package cmd

import (
	"github.com/rs/zerolog"

	"github.com/relaywatch/relaywatch/model/nostr"
	"github.com/relaywatch/relaywatch/module"
)

const previewLength = 140

// logSink surfaces matched events as log lines.
type logSink struct {
	log zerolog.Logger
}

var _ module.NotificationSink = (*logSink)(nil)

func newLogSink(log zerolog.Logger) *logSink {
	return &logSink{log: log.With().Str("component", "notifications").Logger()}
}

func (s *logSink) OnMatchedEvent(config nostr.SubscriptionConfig, ev nostr.Event) {
	s.log.Info().
		Str("config_id", config.ID).
		Str("config_name", config.Name).
		Str("event_id", ev.ID).
		Str("author", ev.PubKey).
		Int("kind", ev.Kind).
		Int64("created_at", ev.CreatedAt).
		Str("content", preview(ev.Content)).
		Msg("matched event")
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength]) + "…"
}
