package talk

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCompileLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{name: "substitution", line: "Hello ${name}!", want: `TALK "Hello " + name + "!";`},
		{name: "expression first", line: "${name}, welcome", want: `TALK name + ", welcome";`},
		{name: "plain text", line: "Just text", want: `TALK "Just text";`},
		{name: "empty", line: "", want: `TALK "";`},
		{name: "quotes escaped", line: `Say "hi"`, want: `TALK "Say \"hi\"";`},
		{name: "backslash escaped", line: `C:\temp`, want: `TALK "C:\\temp";`},
		{name: "dollar without brace", line: "Costs $5", want: `TALK "Costs $5";`},
		{name: "nested call", line: "Total: ${FORMAT(total, 2)} now", want: `TALK "Total: " + FORMAT(total, 2) + " now";`},
		{name: "adjacent substitutions", line: "${a}${b}", want: `TALK a + b;`},
		{name: "empty substitution", line: "x${}y", want: `TALK "x" + "y";`},
		{name: "unterminated at end", line: "Bye ${name", want: `TALK "Bye " + name;`},
		{name: "recovery on colon", line: "Hi ${name: welcome", want: `TALK "Hi " + name + ": welcome";`},
		{name: "recovery on space", line: "${first last}", want: `TALK first + " last}";`},
		{name: "escape inside substitution", line: `${a\}b}`, want: `TALK a}b;`},
		{name: "unbalanced close paren", line: "${f())}", want: `TALK f());`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := CompileLine(tc.line); got != tc.want {
				t.Fatalf("CompileLine(%q) = %q, want %q", tc.line, got, tc.want)
			}
		})
	}
}

func numberedLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return lines
}

var bindingPattern = regexp.MustCompile(`(?m)^let __talk_\d+_(\d+)_\d+__ =`)

func bindingCounts(compiled string) map[int]int {
	counts := make(map[int]int)
	for _, match := range bindingPattern.FindAllStringSubmatch(compiled, -1) {
		level, _ := strconv.Atoi(match[1])
		counts[level]++
	}
	return counts
}

func TestCompileBlockFiveLines(t *testing.T) {
	got := CompileBlock(0, numberedLines(5))
	want := strings.Join([]string{
		`let __talk_0_0_0__ = "line 1" + "\n" + "line 2" + "\n" + "line 3" + "\n" + "line 4" + "\n" + "line 5";`,
		`TALK __talk_0_0_0__;`,
	}, "\n")

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("CompileBlock mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileBlockSixLines(t *testing.T) {
	got := CompileBlock(2, numberedLines(6))

	if diff := cmp.Diff(map[int]int{0: 2}, bindingCounts(got)); diff != "" {
		t.Fatalf("binding counts mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasSuffix(got, `TALK __talk_2_0_0__ + "\n" + __talk_2_0_1__;`) {
		t.Fatalf("final statement = %q", got[strings.LastIndex(got, "\n")+1:])
	}
}

func TestCompileBlockTwentySixLines(t *testing.T) {
	got := CompileBlock(0, numberedLines(26))

	if diff := cmp.Diff(map[int]int{0: 6, 1: 2}, bindingCounts(got)); diff != "" {
		t.Fatalf("binding counts mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(got, `let __talk_0_1_1__ = __talk_0_0_5__;`) {
		t.Fatalf("missing second combination binding in:\n%s", got)
	}
	if !strings.HasSuffix(got, `TALK __talk_0_1_0__ + "\n" + __talk_0_1_1__;`) {
		t.Fatalf("final statement = %q", got[strings.LastIndex(got, "\n")+1:])
	}
}

func TestCompileBlockEmpty(t *testing.T) {
	if got := CompileBlock(0, nil); got != `TALK "";` {
		t.Fatalf("CompileBlock(nil) = %q, want %q", got, `TALK "";`)
	}
}

func TestCompileBlockKeepsSubstitutions(t *testing.T) {
	got := CompileBlock(1, []string{"Hi ${name}", "Bye"})
	want := "let __talk_1_0_0__ = \"Hi \" + name + \"\\n\" + \"Bye\";\nTALK __talk_1_0_0__;"

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("CompileBlock mismatch (-want +got):\n%s", diff)
	}
}
