package dialog

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync/atomic"

	"botserver/pkg/bus"
)

const (
	localChannelName = "cli"
	localChatID      = "local"
)

// LocalSession drives one terminal conversation with a bot. Messages go
// through an in-process bus to a worker that calls the engine, so the
// terminal uses the same request/reply path as the network channels.
type LocalSession struct {
	bot        string
	messageBus *bus.MessageBus
	log        *slog.Logger

	cancelWorker context.CancelFunc
	workerDone   chan struct{}

	requestCounter atomic.Uint64
}

// StartLocalSession starts the bus worker for bot. When observeEvents is set
// engine events are logged.
func StartLocalSession(ctx context.Context, engine *Engine, messageBus *bus.MessageBus, bot string, observeEvents bool, log *slog.Logger) (*LocalSession, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if messageBus == nil {
		messageBus = bus.NewMessageBus()
	}
	if log == nil {
		log = slog.Default()
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	session := &LocalSession{
		bot:          bot,
		messageBus:   messageBus,
		log:          log.With("component", "dialog.local"),
		cancelWorker: cancelWorker,
		workerDone:   make(chan struct{}),
	}

	go func() {
		defer close(session.workerDone)
		runBusWorker(workerCtx, engine, messageBus)
	}()
	if observeEvents {
		go ObserveEvents(workerCtx, messageBus, log)
	}

	return session, nil
}

// Send delivers one message and waits for the bot's reply.
func (s *LocalSession) Send(ctx context.Context, text string, attachments ...bus.Attachment) (bus.OutboundMessage, error) {
	if s == nil {
		return bus.OutboundMessage{}, errors.New("local session is nil")
	}

	inbound := bus.InboundMessage{
		Channel:     localChannelName,
		Bot:         s.bot,
		ChatID:      localChatID,
		SenderID:    localChatID,
		SessionKey:  localChannelName + ":" + localChatID,
		Content:     text,
		Attachments: attachments,
		Metadata: map[string]string{
			"request_id": strconv.FormatUint(s.requestCounter.Add(1), 10),
		},
	}

	if ok := s.messageBus.PublishInbound(ctx, inbound); !ok {
		if err := ctx.Err(); err != nil {
			return bus.OutboundMessage{}, err
		}
		return bus.OutboundMessage{}, errors.New("unable to enqueue message")
	}

	outbound, ok := s.messageBus.SubscribeOutbound(ctx)
	if !ok {
		if err := ctx.Err(); err != nil {
			return bus.OutboundMessage{}, err
		}
		return bus.OutboundMessage{}, errors.New("unable to receive reply")
	}
	if outbound.Error != "" {
		return outbound, errors.New(outbound.Error)
	}
	return outbound, nil
}

// Close stops the worker and closes the bus.
func (s *LocalSession) Close() {
	if s == nil {
		return
	}
	s.cancelWorker()
	s.messageBus.Close()
	<-s.workerDone
}

func runBusWorker(ctx context.Context, engine *Engine, messageBus *bus.MessageBus) {
	for {
		inbound, ok := messageBus.ConsumeInbound(ctx)
		if !ok {
			return
		}

		outbound, err := engine.Handle(ctx, inbound)
		if err != nil && outbound.Error == "" {
			outbound.Error = err.Error()
		}
		if ok := messageBus.PublishOutbound(ctx, outbound); !ok {
			return
		}
	}
}
