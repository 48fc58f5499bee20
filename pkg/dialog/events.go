package dialog

import (
	"context"
	"log/slog"
	"time"

	"botserver/pkg/bus"
)

// ObserveEvents logs engine events from the bus until ctx ends or the bus
// closes.
func ObserveEvents(ctx context.Context, messageBus *bus.MessageBus, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bus.events")

	events, unsubscribe := messageBus.SubscribeEvents(ctx, 64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{
		"event_type", event.Type,
		"request_id", event.RequestID,
		"channel", event.Channel,
		"session_id", event.SessionKey,
		"bot", event.Bot,
		"dialog", event.Dialog,
		"timestamp", event.At.UTC().Format(time.RFC3339Nano),
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case bus.EventDialogFailed:
		log.Error("Dialog event", append(attrs, "error", event.Error)...)
	case bus.EventHearRejected, bus.EventHearAbandoned:
		log.Warn("Dialog event", append(attrs, "error", event.Error)...)
	case bus.EventDialogStarted, bus.EventDialogCompleted:
		log.Info("Dialog event", attrs...)
	default:
		log.Debug("Dialog event", attrs...)
	}
}
