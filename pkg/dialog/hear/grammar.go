// Package hear implements the HEAR statement: publishing a wait when a dialog
// asks for input, and resolving that wait when the next message arrives.
package hear

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"botserver/pkg/dialog/inputtype"
	"botserver/pkg/dialog/wait"
	"botserver/pkg/session"
)

// DefaultMaxRetries bounds typed waits when no limit is configured.
const DefaultMaxRetries = 3

// Grammar handles the three HEAR forms. Each handler persists the wait and
// flags the session before it returns ErrWaitingForInput, so a reply that
// races the suspension always finds its descriptor.
type Grammar struct {
	store      wait.Store
	maxRetries int
	log        *slog.Logger
}

// NewGrammar creates HEAR handlers writing to store. Typed waits get
// maxRetries attempts (DefaultMaxRetries when not positive).
func NewGrammar(store wait.Store, maxRetries int, log *slog.Logger) *Grammar {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if log == nil {
		log = slog.Default()
	}
	return &Grammar{
		store:      store,
		maxRetries: maxRetries,
		log:        log.With("component", "hear.grammar"),
	}
}

// Hear handles `HEAR variable`.
func (g *Grammar) Hear(ctx context.Context, scope *session.Scope, variable string) error {
	return g.publish(ctx, scope, wait.New(variable, wait.AnyType()))
}

// HearAs handles `HEAR variable AS type`. Unknown type names wait for any input.
func (g *Grammar) HearAs(ctx context.Context, scope *session.Scope, variable, typeName string) error {
	kind := inputtype.Parse(typeName)
	return g.publish(ctx, scope, wait.New(variable, wait.Named(kind)).WithMaxRetries(g.maxRetries))
}

// HearMenu handles `HEAR variable AS expr` when expr evaluated to a list.
func (g *Grammar) HearMenu(ctx context.Context, scope *session.Scope, variable string, options []string) error {
	clean := make([]string, 0, len(options))
	for _, option := range options {
		if trimmed := strings.TrimSpace(option); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		return ErrEmptyMenu
	}
	return g.publish(ctx, scope, wait.New(variable, wait.MenuOf(clean)))
}

// HearChoice handles `HEAR variable AS expr` when expr evaluated to text:
// either a JSON array or a comma-separated option list. Text naming an input
// type is rejected with ErrUseTypedForm.
func (g *Grammar) HearChoice(ctx context.Context, scope *session.Scope, variable, text string) error {
	if kind, known := inputtype.Lookup(text); known && kind != inputtype.Any {
		return fmt.Errorf("%w: %q", ErrUseTypedForm, strings.TrimSpace(text))
	}
	return g.HearMenu(ctx, scope, variable, ParseOptions(text))
}

func (g *Grammar) publish(ctx context.Context, scope *session.Scope, d wait.Descriptor) error {
	if d.Variable == "" {
		return fmt.Errorf("hear: variable name is required")
	}

	if err := g.store.Put(ctx, scope.ID(), d); err != nil {
		return fmt.Errorf("hear %s: %w", d.Variable, err)
	}
	scope.MarkWaiting(d.Variable)

	g.log.Debug("Wait published",
		"session_id", scope.ID(),
		"variable", d.Variable,
		"type", d.Type.String(),
	)
	return ErrWaitingForInput
}

// ParseOptions splits menu option text. Text starting with '[' is decoded as
// a JSON array of strings; anything else is split on commas. Surrounding
// quotes and blanks are dropped.
func ParseOptions(text string) []string {
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(trimmed, "[") {
		var decoded []string
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return compact(decoded)
		}
	}

	return compact(strings.Split(trimmed, ","))
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}
