// Package dialog routes inbound messages to bot dialogs. A message either
// resumes the HEAR its session is waiting on or starts a fresh dialog run.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"botserver/pkg/bots"
	"botserver/pkg/bus"
	"botserver/pkg/dialog/hear"
	"botserver/pkg/dialog/wait"
	"botserver/pkg/script"
	"botserver/pkg/session"
	"botserver/pkg/store"
)

const (
	// CancelledMessage is sent when a wait runs out of retries.
	CancelledMessage = "Too many invalid answers. The conversation was cancelled, send a message to start again."
	// FailureMessage is sent when a dialog stops on a runtime error.
	FailureMessage = "Sorry, something went wrong. Please try again later."
)

// Options configures an Engine.
type Options struct {
	Catalog  *bots.Catalog
	Runs     store.Repository
	Waits    wait.Store
	Registry *session.Registry
	// Media may be nil; attachment waits then reject their input.
	Media hear.MediaServices
	// Events receives lifecycle events when set.
	Events     *bus.MessageBus
	MaxRetries int
	Log        *slog.Logger
}

// Engine is the conversation engine.
type Engine struct {
	catalog    *bots.Catalog
	runs       store.Repository
	waits      wait.Store
	registry   *session.Registry
	resumer    *hear.Resumer
	events     *bus.MessageBus
	maxRetries int
	locks      *sessionLocks
	log        *slog.Logger
}

func New(opts Options) (*Engine, error) {
	if opts.Catalog == nil {
		return nil, errors.New("bot catalog is required")
	}
	if opts.Runs == nil {
		return nil, errors.New("run repository is required")
	}
	if opts.Waits == nil {
		return nil, errors.New("wait store is required")
	}
	if opts.Registry == nil {
		opts.Registry = session.NewRegistry()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = hear.DefaultMaxRetries
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		catalog:    opts.Catalog,
		runs:       opts.Runs,
		waits:      opts.Waits,
		registry:   opts.Registry,
		resumer:    hear.NewResumer(opts.Waits, opts.Media, log),
		events:     opts.Events,
		maxRetries: opts.MaxRetries,
		locks:      newSessionLocks(),
		log:        log.With("component", "dialog.engine"),
	}, nil
}

// SessionID scopes a channel session key to a bot.
func SessionID(bot, sessionKey string) string {
	return bot + ":" + sessionKey
}

// turnContext carries what one Handle call needs across its steps.
type turnContext struct {
	inbound  bus.InboundMessage
	bot      *bots.Bot
	scope    *session.Scope
	log      *slog.Logger
	messages []string
	pending  []wait.Suggestion
}

// Handle processes one inbound message and returns the reply.
func (e *Engine) Handle(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	if strings.TrimSpace(inbound.Bot) == "" {
		err := errors.New("inbound message has no bot")
		return e.errorReply(inbound, err), err
	}
	if strings.TrimSpace(inbound.SessionKey) == "" {
		err := errors.New("inbound message has no session key")
		return e.errorReply(inbound, err), err
	}

	bot, err := e.catalog.Get(inbound.Bot)
	if err != nil {
		return e.errorReply(inbound, err), err
	}

	sessionID := SessionID(bot.Name(), inbound.SessionKey)
	unlock := e.locks.lock(sessionID)
	defer unlock()

	tc := &turnContext{
		inbound: inbound,
		bot:     bot,
		scope:   e.registry.Scope(sessionID),
		log:     e.log.With("session_id", sessionID, "bot", bot.Name()),
	}

	e.transcript(ctx, tc, store.Inbound, describeInbound(inbound))
	e.publish(ctx, tc, bus.EventMessageReceived, "", nil, "")

	if err := e.dispatch(ctx, tc); err != nil {
		return e.errorReply(inbound, err), err
	}

	for _, text := range tc.messages {
		e.transcript(ctx, tc, store.Outbound, text)
	}
	return e.reply(tc), nil
}

func (e *Engine) dispatch(ctx context.Context, tc *turnContext) error {
	run, err := e.runs.GetRun(ctx, tc.scope.ID())
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}

	variable := ""
	if run != nil && run.State == script.StateAwaitingInput {
		variable = run.Pending
	} else if flagged, ok := tc.scope.Waiting(); ok {
		variable = flagged
	}

	if variable != "" && run != nil {
		resumed, err := e.resume(ctx, tc, run, variable)
		if err != nil || resumed {
			return err
		}
	}
	if run == nil && variable != "" {
		// A flag without a run has nothing to resume into.
		tc.scope.ClearWaiting()
	}

	return e.start(ctx, tc)
}

// resume offers the message to the pending wait. It reports false when the
// wait is gone and the message should start a fresh dialog instead.
func (e *Engine) resume(ctx context.Context, tc *turnContext, run *store.Run, variable string) (bool, error) {
	program, ok := tc.bot.Dialog(run.Dialog)
	if !ok {
		tc.log.Warn("Pending dialog is no longer loaded", "dialog", run.Dialog)
		return false, e.discard(ctx, tc, variable)
	}

	resolution, err := e.resumer.Process(ctx, tc.scope, variable, toHearMessage(tc.inbound))
	switch {
	case errors.Is(err, hear.ErrNoPendingWait):
		tc.log.Debug("Wait expired, treating message as a new command", "variable", variable)
		return false, e.discard(ctx, tc, variable)
	case hear.UserMessage(err) != "":
		return true, e.reject(ctx, tc, run, variable, err)
	case err != nil:
		return true, err
	}

	e.publish(ctx, tc, bus.EventHearResolved, run.Dialog, map[string]string{"variable": variable}, "")

	run.Answers = append(run.Answers, script.Answer{Variable: resolution.Variable, Value: resolution.Value})
	return true, e.execute(ctx, tc, program, run)
}

func (e *Engine) reject(ctx context.Context, tc *turnContext, run *store.Run, variable string, cause error) error {
	tc.messages = append(tc.messages, hear.UserMessage(cause))
	e.publish(ctx, tc, bus.EventHearRejected, run.Dialog, map[string]string{"variable": variable}, cause.Error())

	d, err := e.resumer.RecordFailure(ctx, tc.scope, variable)
	if errors.Is(err, hear.ErrNoPendingWait) {
		return e.discard(ctx, tc, variable)
	}
	if err != nil {
		return fmt.Errorf("record failed answer: %w", err)
	}

	if !d.Exhausted() {
		tc.pending = d.Suggestions()
		return nil
	}

	tc.log.Info("Wait abandoned after repeated invalid answers", "variable", variable, "retries", d.RetryCount)
	if err := e.resumer.Abandon(ctx, tc.scope, variable); err != nil {
		return err
	}
	if err := e.runs.DeleteRun(ctx, tc.scope.ID()); err != nil {
		return err
	}
	tc.messages = append(tc.messages, CancelledMessage)
	e.publish(ctx, tc, bus.EventHearAbandoned, run.Dialog, map[string]string{"variable": variable}, "")
	return nil
}

// discard drops a run whose wait can no longer be resumed.
func (e *Engine) discard(ctx context.Context, tc *turnContext, variable string) error {
	if err := e.resumer.Abandon(ctx, tc.scope, variable); err != nil {
		return err
	}
	return e.runs.DeleteRun(ctx, tc.scope.ID())
}

func (e *Engine) start(ctx context.Context, tc *turnContext) error {
	program, err := tc.bot.Select(tc.inbound.Content)
	if err != nil {
		return err
	}
	// Stale suggestions from an abandoned menu must not leak into this reply.
	if _, err := e.waits.TakeSuggestions(ctx, tc.scope.ID()); err != nil {
		return fmt.Errorf("clear suggestions: %w", err)
	}

	run := &store.Run{
		SessionID: tc.scope.ID(),
		Bot:       tc.bot.Name(),
		Dialog:    program.Name(),
		State:     script.StateRunning,
	}
	e.publish(ctx, tc, bus.EventDialogStarted, program.Name(), nil, "")
	return e.execute(ctx, tc, program, run)
}

func (e *Engine) execute(ctx context.Context, tc *turnContext, program *script.Program, run *store.Run) error {
	grammar := hear.NewGrammar(e.waits, tc.bot.MaxRetries(e.maxRetries), e.log)

	turn, err := program.Run(ctx, tc.scope, grammar, run.Answers)
	tc.messages = append(tc.messages, turn.Output...)
	for _, text := range turn.Output {
		e.publish(ctx, tc, bus.EventTalk, program.Name(), map[string]string{"text": text}, "")
	}

	if err != nil {
		var runtimeErr *script.RuntimeError
		if !errors.As(err, &runtimeErr) {
			return fmt.Errorf("run dialog %s: %w", program.Name(), err)
		}
		tc.log.Error("Dialog failed", "dialog", program.Name(), "line", runtimeErr.Line, "error", err)
		e.publish(ctx, tc, bus.EventDialogFailed, program.Name(), nil, err.Error())
		tc.messages = append(tc.messages, FailureMessage)
		if pending, ok := tc.scope.Waiting(); ok {
			if err := e.resumer.Abandon(ctx, tc.scope, pending); err != nil {
				return err
			}
		}
		return e.runs.DeleteRun(ctx, tc.scope.ID())
	}

	switch turn.State {
	case script.StateAwaitingInput:
		tc.log.Debug("Dialog waiting for input", "dialog", program.Name(), "variable", turn.Pending)
		run.State = turn.State
		run.Pending = turn.Pending
		if err := e.runs.SaveRun(ctx, run); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		suggestions, err := e.waits.TakeSuggestions(ctx, tc.scope.ID())
		if err != nil {
			return fmt.Errorf("take suggestions: %w", err)
		}
		tc.pending = suggestions
		e.publish(ctx, tc, bus.EventHearWaiting, program.Name(), map[string]string{"variable": turn.Pending}, "")
		return nil
	default:
		tc.log.Debug("Dialog completed", "dialog", program.Name(), "answers", len(run.Answers))
		e.publish(ctx, tc, bus.EventDialogCompleted, program.Name(), nil, "")
		return e.runs.DeleteRun(ctx, tc.scope.ID())
	}
}

func (e *Engine) reply(tc *turnContext) bus.OutboundMessage {
	outbound := bus.OutboundMessage{
		Channel:    tc.inbound.Channel,
		ChatID:     tc.inbound.ChatID,
		SessionKey: tc.inbound.SessionKey,
		Messages:   tc.messages,
		Content:    strings.Join(tc.messages, "\n\n"),
	}
	for _, s := range tc.pending {
		outbound.Suggestions = append(outbound.Suggestions, bus.Suggestion{Text: s.Text, Value: s.Value})
	}
	return outbound
}

func (e *Engine) errorReply(inbound bus.InboundMessage, err error) bus.OutboundMessage {
	return bus.OutboundMessage{
		Channel:    inbound.Channel,
		ChatID:     inbound.ChatID,
		SessionKey: inbound.SessionKey,
		Error:      err.Error(),
	}
}

func (e *Engine) transcript(ctx context.Context, tc *turnContext, direction store.Direction, text string) {
	if text == "" {
		return
	}
	entry := store.TranscriptEntry{
		SessionID: tc.scope.ID(),
		Bot:       tc.bot.Name(),
		Direction: direction,
		Text:      text,
	}
	if err := e.runs.AppendTranscript(ctx, entry); err != nil {
		tc.log.Warn("Failed to append transcript", "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, tc *turnContext, eventType bus.EventType, dialogName string, payload map[string]string, errText string) {
	if e.events == nil {
		return
	}
	_ = e.events.PublishEvent(ctx, bus.Event{
		Type:       eventType,
		Channel:    tc.inbound.Channel,
		ChatID:     tc.inbound.ChatID,
		SessionKey: tc.scope.ID(),
		Bot:        tc.bot.Name(),
		Dialog:     dialogName,
		RequestID:  tc.inbound.Metadata["request_id"],
		Payload:    payload,
		Error:      errText,
	})
}

func toHearMessage(inbound bus.InboundMessage) hear.Message {
	msg := hear.Message{Text: inbound.Content}
	for _, a := range inbound.Attachments {
		msg.Attachments = append(msg.Attachments, hear.Attachment{URL: a.URL, MediaType: a.MediaType, Ref: a.Ref})
	}
	return msg
}

func describeInbound(inbound bus.InboundMessage) string {
	text := strings.TrimSpace(inbound.Content)
	for _, a := range inbound.Attachments {
		item := "[" + a.MediaType + "]"
		if text == "" {
			text = item
			continue
		}
		text += " " + item
	}
	return text
}
