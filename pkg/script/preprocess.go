package script

import (
	"regexp"
	"strings"

	"botserver/pkg/dialog/talk"
)

// Line is one runtime statement produced from dialog source, tagged with the
// dialog line it came from.
type Line struct {
	Number int
	Text   string
}

var assignment = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=(.*)$`)

// Preprocess rewrites dialog source into runtime statements. It drops blank
// lines and comments, compiles BEGIN TALK blocks, and normalizes TALK, HEAR
// and assignment statements.
func Preprocess(source string) ([]Line, error) {
	var (
		out        []Line
		block      []string
		blockStart int
		inBlock    bool
		blocks     int
	)

	rawLines := strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")
	for i, raw := range rawLines {
		number := i + 1
		text := strings.TrimSpace(raw)
		keyword, rest := splitKeyword(text)

		if inBlock {
			if keyword == "END" && strings.EqualFold(strings.TrimSpace(rest), "TALK") {
				for _, compiled := range strings.Split(talk.CompileBlock(blocks, block), "\n") {
					out = append(out, Line{Number: blockStart, Text: compiled})
				}
				blocks++
				inBlock = false
				block = nil
				continue
			}
			block = append(block, text)
			continue
		}

		if text == "" || isComment(text, keyword) {
			continue
		}

		switch keyword {
		case "BEGIN":
			if !strings.EqualFold(strings.TrimSpace(rest), "TALK") {
				return nil, compileErrorf(number, "unsupported block %q", text)
			}
			inBlock = true
			blockStart = number
		case "END":
			return nil, compileErrorf(number, "%q without matching BEGIN", text)
		case "TALK":
			expr := trimStatement(rest)
			if expr == "" {
				expr = `""`
			}
			out = append(out, Line{Number: number, Text: "TALK " + expr + ";"})
		case "HEAR":
			out = append(out, Line{Number: number, Text: "HEAR " + trimStatement(rest) + ";"})
		case "LET":
			out = append(out, Line{Number: number, Text: "let " + trimStatement(rest) + ";"})
		default:
			match := assignment.FindStringSubmatch(trimStatement(text))
			if match == nil {
				return nil, compileErrorf(number, "unsupported statement %q", text)
			}
			out = append(out, Line{Number: number, Text: "let " + match[1] + " = " + strings.TrimSpace(match[2]) + ";"})
		}
	}

	if inBlock {
		return nil, compileErrorf(blockStart, "BEGIN TALK without END TALK")
	}
	return out, nil
}

func splitKeyword(text string) (string, string) {
	head, rest, _ := strings.Cut(text, " ")
	return strings.ToUpper(head), rest
}

func isComment(text, keyword string) bool {
	return strings.HasPrefix(text, "'") || keyword == "REM"
}

func trimStatement(text string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), ";"))
}
