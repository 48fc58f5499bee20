// Package script compiles dialog source into programs and runs them one
// conversational turn at a time.
//
// A program has no way to pause mid-statement, so a turn always executes from
// the top. Answers recorded on earlier turns are fed back to their HEAR
// statements in order and TALK output is held back until the replay passes
// the last of them. The first HEAR without an answer publishes its wait and
// ends the turn.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"botserver/pkg/dialog/hear"
	"botserver/pkg/dialog/inputtype"
	"botserver/pkg/session"
)

// Program is a compiled dialog.
type Program struct {
	name  string
	lines []Line
	stmts []stmt
}

// Compile preprocesses and parses dialog source.
func Compile(name, source string) (*Program, error) {
	lines, err := Preprocess(source)
	if err != nil {
		return nil, err
	}

	program := &Program{name: name, lines: lines}
	for _, line := range lines {
		stmts, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		program.stmts = append(program.stmts, stmts...)
	}
	return program, nil
}

func (p *Program) Name() string {
	return p.name
}

// Source returns the runtime statements the dialog compiled to.
func (p *Program) Source() string {
	texts := make([]string, 0, len(p.lines))
	for _, line := range p.lines {
		texts = append(texts, line.Text)
	}
	return strings.Join(texts, "\n")
}

// State is where a run stands after a turn.
type State string

const (
	StateRunning       State = "running"
	StateAwaitingInput State = "awaiting_input"
	StateCompleted     State = "completed"
)

// Answer is a resolved HEAR, replayed on later turns.
type Answer struct {
	Variable string `json:"variable"`
	Value    string `json:"value"`
}

// Hearer publishes waits for HEAR statements. *hear.Grammar implements it.
type Hearer interface {
	Hear(ctx context.Context, scope *session.Scope, variable string) error
	HearAs(ctx context.Context, scope *session.Scope, variable, typeName string) error
	HearMenu(ctx context.Context, scope *session.Scope, variable string, options []string) error
	HearChoice(ctx context.Context, scope *session.Scope, variable, text string) error
}

// Turn is the outcome of running a program once.
type Turn struct {
	State   State
	Output  []string
	Pending string
}

type runner struct {
	ctx     context.Context
	scope   *session.Scope
	hearer  Hearer
	answers []Answer
	next    int
	env     map[string]Value
	output  []string
}

// Run executes the program for one turn with the answers collected so far.
func (p *Program) Run(ctx context.Context, scope *session.Scope, hearer Hearer, answers []Answer) (Turn, error) {
	r := &runner{
		ctx:     ctx,
		scope:   scope,
		hearer:  hearer,
		answers: answers,
		env:     make(map[string]Value),
	}

	for _, s := range p.stmts {
		if err := ctx.Err(); err != nil {
			return Turn{State: StateRunning, Output: r.output}, err
		}

		switch s := s.(type) {
		case letStmt:
			value, err := r.eval(s.value)
			if err != nil {
				return r.fail(s, err)
			}
			r.env[s.name] = value

		case talkStmt:
			value, err := r.eval(s.value)
			if err != nil {
				return r.fail(s, err)
			}
			if r.replayed() {
				r.output = append(r.output, value.String())
			}

		case hearStmt:
			if !r.replayed() {
				answer := r.answers[r.next]
				if answer.Variable != s.variable {
					return r.fail(s, fmt.Errorf("%w: expected answer for %q, have %q", ErrReplayMismatch, s.variable, answer.Variable))
				}
				r.env[s.variable] = String(answer.Value)
				r.next++
				continue
			}

			err := r.hear(s)
			if hear.IsSuspension(err) {
				return Turn{State: StateAwaitingInput, Output: r.output, Pending: s.variable}, nil
			}
			if err == nil {
				err = errors.New("HEAR returned without suspending")
			}
			return r.fail(s, err)
		}
	}

	if !r.replayed() {
		return Turn{State: StateRunning, Output: r.output}, &RuntimeError{Err: fmt.Errorf("%w: %d unused answers", ErrReplayMismatch, len(r.answers)-r.next)}
	}
	return Turn{State: StateCompleted, Output: r.output}, nil
}

func (r *runner) replayed() bool {
	return r.next >= len(r.answers)
}

func (r *runner) fail(s stmt, err error) (Turn, error) {
	return Turn{State: StateRunning, Output: r.output}, &RuntimeError{Line: s.line(), Err: err}
}

func (r *runner) hear(s hearStmt) error {
	if s.form == hearAny {
		return r.hearer.Hear(r.ctx, r.scope, s.variable)
	}

	if s.typeName != "" {
		if _, known := inputtype.Lookup(s.typeName); known {
			return r.hearer.HearAs(r.ctx, r.scope, s.variable, s.typeName)
		}
		if _, bound := r.env[s.typeName]; !bound {
			return r.hearer.HearAs(r.ctx, r.scope, s.variable, s.typeName)
		}
	}

	options, err := r.eval(s.options)
	if err != nil {
		return err
	}
	if options.IsList() {
		return r.hearer.HearMenu(r.ctx, r.scope, s.variable, options.Strings())
	}
	return r.hearer.HearChoice(r.ctx, r.scope, s.variable, options.String())
}

func (r *runner) eval(e expr) (Value, error) {
	switch e := e.(type) {
	case stringLit:
		return String(e.value), nil
	case numberLit:
		return Number(e.value), nil
	case identRef:
		value, ok := r.env[e.name]
		if !ok {
			return Value{}, fmt.Errorf("variable %q is not set", e.name)
		}
		return value, nil
	case concat:
		left, err := r.eval(e.left)
		if err != nil {
			return Value{}, err
		}
		right, err := r.eval(e.right)
		if err != nil {
			return Value{}, err
		}
		return add(left, right), nil
	case arrayLit:
		items := make([]Value, 0, len(e.items))
		for _, item := range e.items {
			value, err := r.eval(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, value)
		}
		return List(items), nil
	case call:
		fn, ok := builtins[e.name]
		if !ok {
			return Value{}, fmt.Errorf("unknown function %s", e.name)
		}
		args := make([]Value, 0, len(e.args))
		for _, arg := range e.args {
			value, err := r.eval(arg)
			if err != nil {
				return Value{}, err
			}
			args = append(args, value)
		}
		value, err := fn(args)
		if err != nil {
			return Value{}, fmt.Errorf("%s: %w", e.name, err)
		}
		return value, nil
	default:
		return Value{}, fmt.Errorf("unsupported expression %T", e)
	}
}
