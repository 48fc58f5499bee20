package script

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenError
	tokenIdent
	tokenString
	tokenNumber
	tokenPlus
	tokenAssign
	tokenComma
	tokenSemicolon
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
)

var punctuation = map[rune]tokenKind{
	'+': tokenPlus,
	'=': tokenAssign,
	',': tokenComma,
	';': tokenSemicolon,
	'(': tokenLParen,
	')': tokenRParen,
	'[': tokenLBracket,
	']': tokenRBracket,
}

const eof rune = -1

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tokenEOF:
		return "end of statement"
	case tokenError:
		return t.text
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

// lexer is a state-function scanner: each state consumes input and returns
// the next state, emitting tokens along the way.
type lexer struct {
	input  string
	start  int
	pos    int
	width  int
	tokens []token
}

type stateFn func(*lexer) stateFn

func lex(input string) []token {
	l := &lexer{input: input}
	for state := lexAny; state != nil; {
		state = state(l)
	}
	return l.tokens
}

func (l *lexer) next() rune {
	if l.pos >= len(l.input) {
		l.width = 0
		return eof
	}
	r, w := utf8.DecodeRuneInString(l.input[l.pos:])
	l.width = w
	l.pos += w
	return r
}

func (l *lexer) backup() {
	l.pos -= l.width
}

func (l *lexer) peek() rune {
	r := l.next()
	l.backup()
	return r
}

func (l *lexer) ignore() {
	l.start = l.pos
}

func (l *lexer) emit(kind tokenKind, text string) {
	l.tokens = append(l.tokens, token{kind: kind, text: text, pos: l.start})
	l.start = l.pos
}

func (l *lexer) errorf(format string, args ...any) stateFn {
	l.tokens = append(l.tokens, token{kind: tokenError, text: fmt.Sprintf(format, args...), pos: l.start})
	return nil
}

func lexAny(l *lexer) stateFn {
	for {
		r := l.next()
		switch {
		case r == eof:
			l.emit(tokenEOF, "")
			return nil
		case unicode.IsSpace(r):
			l.ignore()
		case r == '"':
			return lexString
		case unicode.IsDigit(r):
			l.backup()
			return lexNumber
		case r == '_' || unicode.IsLetter(r):
			l.backup()
			return lexIdent
		default:
			kind, ok := punctuation[r]
			if !ok {
				return l.errorf("unexpected character %q", r)
			}
			l.emit(kind, string(r))
			return lexAny
		}
	}
}

func lexIdent(l *lexer) stateFn {
	for {
		r := l.next()
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		if r != eof {
			l.backup()
		}
		l.emit(tokenIdent, l.input[l.start:l.pos])
		return lexAny
	}
}

func lexNumber(l *lexer) stateFn {
	seenDot := false
	for {
		r := l.next()
		switch {
		case unicode.IsDigit(r):
		case r == '.' && !seenDot && unicode.IsDigit(l.peek()):
			seenDot = true
		default:
			if r != eof {
				l.backup()
			}
			l.emit(tokenNumber, l.input[l.start:l.pos])
			return lexAny
		}
	}
}

func lexString(l *lexer) stateFn {
	var b strings.Builder
	for {
		switch r := l.next(); r {
		case eof:
			return l.errorf("unterminated string")
		case '\\':
			switch escaped := l.next(); escaped {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case '"', '\\':
				b.WriteRune(escaped)
			case eof:
				return l.errorf("unterminated string")
			default:
				b.WriteRune('\\')
				b.WriteRune(escaped)
			}
		case '"':
			l.emit(tokenString, b.String())
			return lexAny
		default:
			b.WriteRune(r)
		}
	}
}
