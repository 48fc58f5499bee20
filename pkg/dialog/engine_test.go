package dialog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"botserver/pkg/bots"
	"botserver/pkg/bus"
	"botserver/pkg/dialog/wait"
	"botserver/pkg/logger"
	"botserver/pkg/script"
	"botserver/pkg/session"
	"botserver/pkg/store"
)

var testDialogs = map[string]string{
	"start": `TALK "What is your name?"
HEAR name
TALK "Hello " + name
TALK "How old are you?"
HEAR age AS INTEGER
TALK name + " is " + age`,
	"order": `BEGIN TALK
Welcome to the shop.
Pick a size:
END TALK
HEAR size AS ["S", "M", "L"]
TALK "You picked " + size`,
	"broken": `TALK "before"
TALK missing`,
}

type fixture struct {
	engine   *Engine
	runs     *store.SQLiteStore
	waits    *wait.MemoryStore
	registry *session.Registry
	events   *bus.MessageBus
}

func newFixture(t *testing.T, manifest bots.Manifest) *fixture {
	t.Helper()

	bot, err := bots.FromSources("shop", manifest, testDialogs)
	require.NoError(t, err)

	runs, err := store.NewSQLite(filepath.Join(t.TempDir(), "botserver.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })

	events := bus.NewMessageBus()
	t.Cleanup(events.Close)

	f := &fixture{
		runs:     runs,
		waits:    wait.NewMemoryStore(time.Hour),
		registry: session.NewRegistry(),
		events:   events,
	}
	f.engine, err = New(Options{
		Catalog:  bots.NewCatalog(bot),
		Runs:     runs,
		Waits:    f.waits,
		Registry: f.registry,
		Events:   events,
		Log:      logger.Discard(),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) send(t *testing.T, text string) bus.OutboundMessage {
	t.Helper()

	out, err := f.engine.Handle(context.Background(), bus.InboundMessage{
		Channel:    "web",
		Bot:        "shop",
		ChatID:     "c1",
		SessionKey: "web:c1",
		Content:    text,
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) run(t *testing.T) *store.Run {
	t.Helper()

	run, err := f.runs.GetRun(context.Background(), SessionID("shop", "web:c1"))
	require.NoError(t, err)
	return run
}

func TestConversationAcrossTurns(t *testing.T) {
	f := newFixture(t, bots.Manifest{})

	out := f.send(t, "hi")
	require.Equal(t, []string{"What is your name?"}, out.Messages)
	require.Equal(t, "name", f.run(t).Pending)
	variable, waiting := f.registry.Waiting("shop:web:c1")
	require.True(t, waiting)
	require.Equal(t, "name", variable)

	out = f.send(t, "ana")
	require.Equal(t, []string{"Hello ana", "How old are you?"}, out.Messages)
	require.Equal(t, "Hello ana\n\nHow old are you?", out.Content)

	out = f.send(t, "thirty")
	require.Equal(t, []string{"Please enter a valid whole number"}, out.Messages)
	run := f.run(t)
	require.Equal(t, script.StateAwaitingInput, run.State)
	require.Equal(t, "age", run.Pending)

	out = f.send(t, "30")
	require.Equal(t, []string{"ana is 30"}, out.Messages)
	require.Nil(t, f.run(t))
	_, waiting = f.registry.Waiting("shop:web:c1")
	require.False(t, waiting)

	transcript, err := f.runs.Transcript(context.Background(), "shop:web:c1", 0)
	require.NoError(t, err)
	require.Len(t, transcript, 9)
	require.Equal(t, store.Inbound, transcript[0].Direction)
	require.Equal(t, "hi", transcript[0].Text)
	require.Equal(t, "ana is 30", transcript[8].Text)
}

func TestMenuSuggestionsAndChoice(t *testing.T) {
	f := newFixture(t, bots.Manifest{})

	out := f.send(t, "/order")
	require.Equal(t, []string{"Welcome to the shop.\nPick a size:"}, out.Messages)
	require.Equal(t, []bus.Suggestion{
		{Text: "S", Value: "S"},
		{Text: "M", Value: "M"},
		{Text: "L", Value: "L"},
	}, out.Suggestions)

	out = f.send(t, "XL please")
	require.Equal(t, []string{"Please select one of: S, M, L"}, out.Messages)
	require.Len(t, out.Suggestions, 3)

	out = f.send(t, "2")
	require.Equal(t, []string{"You picked M"}, out.Messages)
	require.Empty(t, out.Suggestions)
}

func TestRetriesExhaustedCancelDialog(t *testing.T) {
	f := newFixture(t, bots.Manifest{MaxRetries: 2})
	ctx := context.Background()

	f.send(t, "hi")
	f.send(t, "Ana")

	out := f.send(t, "x")
	require.Equal(t, []string{"Please enter a valid whole number"}, out.Messages)

	out = f.send(t, "y")
	require.Equal(t, []string{"Please enter a valid whole number", CancelledMessage}, out.Messages)
	require.Nil(t, f.run(t))

	_, err := f.waits.Get(ctx, "shop:web:c1", "age")
	require.ErrorIs(t, err, wait.ErrNotFound)
	_, waiting := f.registry.Waiting("shop:web:c1")
	require.False(t, waiting)

	out = f.send(t, "hello again")
	require.Equal(t, []string{"What is your name?"}, out.Messages)
}

func TestExpiredWaitStartsFreshCommand(t *testing.T) {
	f := newFixture(t, bots.Manifest{})
	ctx := context.Background()

	f.send(t, "hi")
	removed, err := f.waits.Delete(ctx, "shop:web:c1", "name")
	require.NoError(t, err)
	require.True(t, removed)

	out := f.send(t, "/order")
	require.Equal(t, []string{"Welcome to the shop.\nPick a size:"}, out.Messages)
	require.Equal(t, "order", f.run(t).Dialog)
}

func TestRuntimeErrorEndsRun(t *testing.T) {
	f := newFixture(t, bots.Manifest{})

	out := f.send(t, "broken")
	require.Equal(t, []string{"before", FailureMessage}, out.Messages)
	require.Nil(t, f.run(t))
}

func TestUnknownBotAndMissingSession(t *testing.T) {
	f := newFixture(t, bots.Manifest{})

	out, err := f.engine.Handle(context.Background(), bus.InboundMessage{Bot: "ghost", SessionKey: "web:1"})
	require.Error(t, err)
	require.Equal(t, bots.ErrorBotNotFound, bots.CategoryFromError(err))
	require.NotEmpty(t, out.Error)

	_, err = f.engine.Handle(context.Background(), bus.InboundMessage{Bot: "shop"})
	require.Error(t, err)
}

func TestEngineEmitsLifecycleEvents(t *testing.T) {
	f := newFixture(t, bots.Manifest{})
	events, unsubscribe := f.events.SubscribeEvents(context.Background(), 64)
	defer unsubscribe()

	f.send(t, "/order")
	f.send(t, "S")

	var got []bus.EventType
	timeout := time.After(time.Second)
	for len(got) < 8 {
		select {
		case event := <-events:
			got = append(got, event.Type)
		case <-timeout:
			t.Fatalf("events = %v, want 8", got)
		}
	}
	require.Equal(t, []bus.EventType{
		bus.EventMessageReceived,
		bus.EventDialogStarted,
		bus.EventTalk,
		bus.EventHearWaiting,
		bus.EventMessageReceived,
		bus.EventHearResolved,
		bus.EventTalk,
		bus.EventDialogCompleted,
	}, got)
}

func TestConcurrentSessionsStayIsolated(t *testing.T) {
	f := newFixture(t, bots.Manifest{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("web:%d", i)
			for _, text := range []string{"hi", fmt.Sprintf("user%d", i)} {
				out, err := f.engine.Handle(ctx, bus.InboundMessage{Bot: "shop", SessionKey: key, Content: text})
				if err != nil {
					errs <- err
					return
				}
				if text != "hi" && out.Messages[0] != "Hello "+text {
					errs <- errors.New("unexpected reply " + out.Content)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	require.Zero(t, f.engine.locks.len())
	require.Equal(t, 16, f.registry.Len())
}

func TestLocalSessionRoundTrip(t *testing.T) {
	f := newFixture(t, bots.Manifest{})

	local, err := StartLocalSession(context.Background(), f.engine, nil, "shop", false, logger.Discard())
	require.NoError(t, err)
	defer local.Close()

	out, err := local.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, []string{"What is your name?"}, out.Messages)

	out, err = local.Send(context.Background(), "Bo")
	require.NoError(t, err)
	require.Equal(t, "Hello Bo", out.Messages[0])
}

func TestLocalSessionReportsEngineErrors(t *testing.T) {
	f := newFixture(t, bots.Manifest{})

	local, err := StartLocalSession(context.Background(), f.engine, nil, "ghost", false, logger.Discard())
	require.NoError(t, err)
	defer local.Close()

	_, err = local.Send(context.Background(), "hi")
	require.Error(t, err)
}
