// Package talk compiles dialog text lines containing ${...} markers into
// runtime TALK statements.
package talk

import (
	"fmt"
	"strings"
)

// ChunkSize bounds how many operands a single generated binding joins.
const ChunkSize = 5

const newlineJoin = ` + "\n" + `

type fragment struct {
	text    string
	literal bool
}

func (f fragment) render() string {
	if !f.literal {
		return f.text
	}
	return Quote(f.text)
}

// Quote renders s as a runtime string literal.
func Quote(s string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
	return `"` + escaped + `"`
}

// Expression converts one line of dialog text into a runtime expression that
// concatenates its literal parts and substituted expressions.
func Expression(line string) string {
	fragments := scan(line)
	if len(fragments) == 0 {
		return `""`
	}

	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		parts = append(parts, f.render())
	}
	return strings.Join(parts, " + ")
}

// CompileLine converts one line of dialog text into a TALK statement.
func CompileLine(line string) string {
	return "TALK " + Expression(line) + ";"
}

func scan(line string) []fragment {
	var (
		fragments    []fragment
		literal      strings.Builder
		expr         strings.Builder
		inSubst      bool
		depth        int
		escapeNext   bool
		flushLiteral = func() {
			if literal.Len() > 0 {
				fragments = append(fragments, fragment{text: literal.String(), literal: true})
				literal.Reset()
			}
		}
		flushExpr = func() {
			if text := strings.TrimSpace(expr.String()); text != "" {
				fragments = append(fragments, fragment{text: text})
			}
			expr.Reset()
			inSubst = false
			depth = 0
		}
	)

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if !inSubst {
			if c == '$' && i+1 < len(runes) && runes[i+1] == '{' {
				flushLiteral()
				inSubst = true
				i++
				continue
			}
			literal.WriteRune(c)
			continue
		}

		if escapeNext {
			expr.WriteRune(c)
			escapeNext = false
			continue
		}

		switch {
		case c == '\\':
			escapeNext = true
		case c == '(':
			depth++
			expr.WriteRune(c)
		case c == ')':
			if depth > 0 {
				depth--
			}
			expr.WriteRune(c)
		case c == '}' && depth == 0:
			flushExpr()
		case depth == 0 && (c == ':' || c == '=' || c == ' '):
			// Unterminated marker: close it here and keep the character as text.
			flushExpr()
			literal.WriteRune(c)
		default:
			expr.WriteRune(c)
		}
	}

	if inSubst {
		flushExpr()
	}
	flushLiteral()
	return fragments
}

// CompileBlock compiles the lines of one BEGIN TALK block. The block index
// keeps the generated binding names of different blocks apart. Lines are
// grouped into bindings of at most ChunkSize operands, and binding names are
// grouped again, level by level, until ChunkSize or fewer remain for the
// final TALK statement.
func CompileBlock(block int, lines []string) string {
	if len(lines) == 0 {
		return `TALK "";`
	}

	exprs := make([]string, 0, len(lines))
	for _, line := range lines {
		stmt := CompileLine(line)
		exprs = append(exprs, strings.TrimSuffix(strings.TrimPrefix(stmt, "TALK "), ";"))
	}

	var out strings.Builder
	operands := exprs
	for level := 0; level == 0 || len(operands) > ChunkSize; level++ {
		names := make([]string, 0, (len(operands)+ChunkSize-1)/ChunkSize)
		for i := 0; i < len(operands); i += ChunkSize {
			end := min(i+ChunkSize, len(operands))
			name := bindingName(block, level, len(names))
			fmt.Fprintf(&out, "let %s = %s;\n", name, strings.Join(operands[i:end], newlineJoin))
			names = append(names, name)
		}
		operands = names
	}

	fmt.Fprintf(&out, "TALK %s;", strings.Join(operands, newlineJoin))
	return out.String()
}

func bindingName(block, level, index int) string {
	return fmt.Sprintf("__talk_%d_%d_%d__", block, level, index)
}
