package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"botserver/pkg/dialog/hear"
	"botserver/pkg/dialog/inputtype"
	"botserver/pkg/dialog/wait"
	"botserver/pkg/logger"
	"botserver/pkg/session"
)

type hearCall struct {
	form     string
	variable string
	detail   string
}

type recordingHearer struct {
	calls []hearCall
}

func (h *recordingHearer) Hear(_ context.Context, _ *session.Scope, variable string) error {
	h.calls = append(h.calls, hearCall{form: "any", variable: variable})
	return hear.ErrWaitingForInput
}

func (h *recordingHearer) HearAs(_ context.Context, _ *session.Scope, variable, typeName string) error {
	h.calls = append(h.calls, hearCall{form: "as", variable: variable, detail: typeName})
	return hear.ErrWaitingForInput
}

func (h *recordingHearer) HearMenu(_ context.Context, _ *session.Scope, variable string, options []string) error {
	h.calls = append(h.calls, hearCall{form: "menu", variable: variable, detail: strings.Join(options, "|")})
	return hear.ErrWaitingForInput
}

func (h *recordingHearer) HearChoice(_ context.Context, _ *session.Scope, variable, text string) error {
	h.calls = append(h.calls, hearCall{form: "choice", variable: variable, detail: text})
	return hear.ErrWaitingForInput
}

func mustCompile(t *testing.T, source string) *Program {
	t.Helper()

	program, err := Compile("test", source)
	require.NoError(t, err)
	return program
}

func scope() *session.Scope {
	return session.NewRegistry().Scope("bot:test:1")
}

func TestPreprocess(t *testing.T) {
	source := strings.Join([]string{
		"' greeting dialog",
		"REM nothing here",
		"",
		`TALK "Hi"`,
		"count = 2",
		"LET label = \"x\";",
		"HEAR name",
		"BEGIN TALK",
		"Hello ${name}",
		"END TALK",
	}, "\n")

	lines, err := Preprocess(source)
	require.NoError(t, err)

	want := []Line{
		{Number: 4, Text: `TALK "Hi";`},
		{Number: 5, Text: `let count = 2;`},
		{Number: 6, Text: `let label = "x";`},
		{Number: 7, Text: `HEAR name;`},
		{Number: 8, Text: `let __talk_0_0_0__ = "Hello " + name;`},
		{Number: 8, Text: `TALK __talk_0_0_0__;`},
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Fatalf("Preprocess mismatch (-want +got):\n%s", diff)
	}
}

func TestPreprocessErrors(t *testing.T) {
	tests := map[string]int{
		"TALK \"a\"\nBEGIN TALK\nline": 2,
		"END TALK":                     1,
		"TALK \"ok\"\nGOTO 10":         2,
		"BEGIN MAIL x":                 1,
	}
	for source, line := range tests {
		_, err := Preprocess(source)
		var compileErr *CompileError
		if !errors.As(err, &compileErr) {
			t.Fatalf("Preprocess(%q) error = %v, want CompileError", source, err)
		}
		if compileErr.Line != line {
			t.Fatalf("Preprocess(%q) line = %d, want %d", source, compileErr.Line, line)
		}
	}
}

func TestCompileReportsParseErrors(t *testing.T) {
	tests := []string{
		`TALK "unterminated`,
		`TALK "a" +`,
		`HEAR`,
		`x = (1 + 2`,
		`TALK UPPER("a" "b")`,
		`TALK "a" # "b"`,
	}
	for _, source := range tests {
		_, err := Compile("bad", source)
		var compileErr *CompileError
		if !errors.As(err, &compileErr) {
			t.Fatalf("Compile(%q) error = %v, want CompileError", source, err)
		}
	}
}

func TestRunCompletesWithoutHear(t *testing.T) {
	program := mustCompile(t, strings.Join([]string{
		`n = 3`,
		`TALK "n=" + n`,
		`TALK n + 4`,
		`TALK UPPER("abc") + LEN("héllo") + LOWER("X") + TRIM("  y ")`,
		`TALK FORMAT(2.5, "0.00") + " " + FORMAT("7", 1)`,
		`TALK "a\"b\\c"`,
	}, "\n"))

	turn, err := program.Run(context.Background(), scope(), &recordingHearer{}, nil)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, turn.State)
	require.Equal(t, []string{"n=3", "7", "ABC5xy", "2.50 7.0", `a"b\c`}, turn.Output)
}

func TestTalkBlockOutputMatchesJoinedLines(t *testing.T) {
	for _, n := range []int{1, 5, 6, 26, 31} {
		lines := make([]string, n)
		for i := range lines {
			lines[i] = fmt.Sprintf(`line %d says "hi" \ bye`, i+1)
		}
		source := "BEGIN TALK\n" + strings.Join(lines, "\n") + "\nEND TALK"

		turn, err := mustCompile(t, source).Run(context.Background(), scope(), &recordingHearer{}, nil)
		require.NoError(t, err)
		require.Equal(t, []string{strings.Join(lines, "\n")}, turn.Output, "block of %d lines", n)
	}
}

func TestRunSuspendsAtFirstUnansweredHear(t *testing.T) {
	program := mustCompile(t, strings.Join([]string{
		`TALK "What is your name?"`,
		`HEAR name`,
		`TALK "Hi " + name`,
		`HEAR age AS INTEGER`,
		`TALK name + " is " + age`,
	}, "\n"))
	hearer := &recordingHearer{}

	turn, err := program.Run(context.Background(), scope(), hearer, nil)
	require.NoError(t, err)
	require.Equal(t, Turn{State: StateAwaitingInput, Output: []string{"What is your name?"}, Pending: "name"}, turn)

	turn, err = program.Run(context.Background(), scope(), hearer, []Answer{{Variable: "name", Value: "Ana"}})
	require.NoError(t, err)
	require.Equal(t, Turn{State: StateAwaitingInput, Output: []string{"Hi Ana"}, Pending: "age"}, turn)

	turn, err = program.Run(context.Background(), scope(), hearer, []Answer{
		{Variable: "name", Value: "Ana"},
		{Variable: "age", Value: "30"},
	})
	require.NoError(t, err)
	require.Equal(t, Turn{State: StateCompleted, Output: []string{"Ana is 30"}}, turn)

	want := []hearCall{
		{form: "any", variable: "name"},
		{form: "as", variable: "age", detail: "integer"},
	}
	if diff := cmp.Diff(want, hearer.calls, cmp.AllowUnexported(hearCall{})); diff != "" {
		t.Fatalf("hear calls mismatch (-want +got):\n%s", diff)
	}
}

func TestHearAsFormsResolveAtRunTime(t *testing.T) {
	program := mustCompile(t, strings.Join([]string{
		`sizes = ["S", "M"]`,
		`csv = "red, green"`,
		`HEAR size AS sizes`,
		`HEAR colour AS csv`,
		`HEAR pick AS "a,b"`,
		`HEAR thing AS whatever`,
	}, "\n"))
	hearer := &recordingHearer{}

	var answers []Answer
	for _, variable := range []string{"size", "colour", "pick", "thing"} {
		turn, err := program.Run(context.Background(), scope(), hearer, answers)
		require.NoError(t, err)
		require.Equal(t, variable, turn.Pending)
		answers = append(answers, Answer{Variable: variable, Value: "x"})
	}

	want := []hearCall{
		{form: "menu", variable: "size", detail: "S|M"},
		{form: "choice", variable: "colour", detail: "red, green"},
		{form: "choice", variable: "pick", detail: "a,b"},
		{form: "as", variable: "thing", detail: "whatever"},
	}
	if diff := cmp.Diff(want, hearer.calls, cmp.AllowUnexported(hearCall{})); diff != "" {
		t.Fatalf("hear calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRunReplayMismatch(t *testing.T) {
	program := mustCompile(t, "HEAR email AS EMAIL\nTALK email")

	_, err := program.Run(context.Background(), scope(), &recordingHearer{}, []Answer{{Variable: "name", Value: "x"}})
	require.ErrorIs(t, err, ErrReplayMismatch)

	_, err = program.Run(context.Background(), scope(), &recordingHearer{}, []Answer{
		{Variable: "email", Value: "a@b.co"},
		{Variable: "extra", Value: "x"},
	})
	require.ErrorIs(t, err, ErrReplayMismatch)
}

func TestRunUndefinedVariable(t *testing.T) {
	program := mustCompile(t, "TALK \"ok\"\nTALK missing")

	turn, err := program.Run(context.Background(), scope(), &recordingHearer{}, nil)
	var runtimeErr *RuntimeError
	require.ErrorAs(t, err, &runtimeErr)
	require.Equal(t, 2, runtimeErr.Line)
	require.Equal(t, []string{"ok"}, turn.Output)
}

func TestRunWithGrammarPublishesWait(t *testing.T) {
	store := wait.NewMemoryStore(time.Hour)
	registry := session.NewRegistry()
	s := registry.Scope("bot:web:9")
	grammar := hear.NewGrammar(store, 3, logger.Discard())

	program := mustCompile(t, "HEAR fruit AS [\"Apple\", \"Pear\"]")
	turn, err := program.Run(context.Background(), s, grammar, nil)
	require.NoError(t, err)
	require.Equal(t, StateAwaitingInput, turn.State)

	d, err := store.Get(context.Background(), s.ID(), "fruit")
	require.NoError(t, err)
	require.Equal(t, inputtype.Menu, d.Type.Kind())

	program = mustCompile(t, "HEAR fruit AS []")
	_, err = program.Run(context.Background(), s, grammar, nil)
	require.ErrorIs(t, err, hear.ErrEmptyMenu)

	program = mustCompile(t, `HEAR when AS "date"`)
	_, err = program.Run(context.Background(), s, grammar, nil)
	require.ErrorIs(t, err, hear.ErrUseTypedForm)
}

func TestProgramSource(t *testing.T) {
	program := mustCompile(t, "TALK \"a\"\nHEAR x AS EMAIL")
	require.Equal(t, "TALK \"a\";\nHEAR x AS EMAIL;", program.Source())
	require.Equal(t, "test", program.Name())
}
