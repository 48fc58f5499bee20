package script

import (
	"fmt"
	"strconv"
	"strings"
)

type expr interface {
	exprNode()
}

type stringLit struct{ value string }
type numberLit struct{ value float64 }
type identRef struct{ name string }
type concat struct{ left, right expr }
type call struct {
	name string
	args []expr
}
type arrayLit struct{ items []expr }

func (stringLit) exprNode() {}
func (numberLit) exprNode() {}
func (identRef) exprNode()  {}
func (concat) exprNode()    {}
func (call) exprNode()      {}
func (arrayLit) exprNode()  {}

type stmt interface {
	line() int
}

type talkStmt struct {
	at    int
	value expr
}

type letStmt struct {
	at    int
	name  string
	value expr
}

type hearForm int

const (
	hearAny hearForm = iota
	// hearAs covers both `AS type` and `AS expr`; which one applies is
	// decided when the statement runs.
	hearAs
)

type hearStmt struct {
	at       int
	variable string
	form     hearForm
	typeName string
	options  expr
}

func (s talkStmt) line() int { return s.at }
func (s letStmt) line() int  { return s.at }
func (s hearStmt) line() int { return s.at }

type parser struct {
	tokens []token
	pos    int
	line   int
}

// parseLine parses the statements of one runtime line.
func parseLine(line Line) ([]stmt, error) {
	p := &parser{tokens: lex(line.Text), line: line.Number}

	var stmts []stmt
	for p.peek().kind != tokenEOF {
		s, err := p.statement()
		if err != nil {
			return nil, &CompileError{Line: line.Number, Msg: err.Error()}
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

func (p *parser) peek() token {
	if p.pos >= len(p.tokens) {
		return token{kind: tokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind == tokenError {
		return t, fmt.Errorf("%s", t.text)
	}
	if t.kind != kind {
		return t, fmt.Errorf("expected %s, found %s", what, t)
	}
	return t, nil
}

func isKeyword(t token, keyword string) bool {
	return t.kind == tokenIdent && strings.EqualFold(t.text, keyword)
}

func (p *parser) statement() (stmt, error) {
	head := p.next()
	if head.kind == tokenError {
		return nil, fmt.Errorf("%s", head.text)
	}

	var (
		s   stmt
		err error
	)
	switch {
	case isKeyword(head, "TALK"):
		s, err = p.talk()
	case isKeyword(head, "LET"):
		s, err = p.let()
	case isKeyword(head, "HEAR"):
		s, err = p.hear()
	default:
		return nil, fmt.Errorf("unknown statement %s", head)
	}
	if err != nil {
		return nil, err
	}

	if _, err := p.expect(tokenSemicolon, `";"`); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *parser) talk() (stmt, error) {
	value, err := p.expression()
	if err != nil {
		return nil, err
	}
	return talkStmt{at: p.line, value: value}, nil
}

func (p *parser) let() (stmt, error) {
	name, err := p.expect(tokenIdent, "variable name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenAssign, `"="`); err != nil {
		return nil, err
	}
	value, err := p.expression()
	if err != nil {
		return nil, err
	}
	return letStmt{at: p.line, name: strings.ToLower(name.text), value: value}, nil
}

func (p *parser) hear() (stmt, error) {
	name, err := p.expect(tokenIdent, "variable name")
	if err != nil {
		return nil, err
	}
	s := hearStmt{at: p.line, variable: strings.ToLower(name.text), form: hearAny}

	if !isKeyword(p.peek(), "AS") {
		return s, nil
	}
	p.next()

	options, err := p.expression()
	if err != nil {
		return nil, err
	}
	s.form = hearAs
	s.options = options
	if ref, ok := options.(identRef); ok {
		s.typeName = ref.name
	}
	return s, nil
}

func (p *parser) expression() (expr, error) {
	left, err := p.operand()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenPlus {
		p.next()
		right, err := p.operand()
		if err != nil {
			return nil, err
		}
		left = concat{left: left, right: right}
	}
	return left, nil
}

func (p *parser) operand() (expr, error) {
	t := p.next()
	switch t.kind {
	case tokenString:
		return stringLit{value: t.text}, nil
	case tokenNumber:
		value, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %s", t)
		}
		return numberLit{value: value}, nil
	case tokenIdent:
		if p.peek().kind == tokenLParen {
			p.next()
			args, err := p.list(tokenRParen, `")"`)
			if err != nil {
				return nil, err
			}
			return call{name: strings.ToUpper(t.text), args: args}, nil
		}
		return identRef{name: strings.ToLower(t.text)}, nil
	case tokenLParen:
		inner, err := p.expression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, `")"`); err != nil {
			return nil, err
		}
		return inner, nil
	case tokenLBracket:
		items, err := p.list(tokenRBracket, `"]"`)
		if err != nil {
			return nil, err
		}
		return arrayLit{items: items}, nil
	case tokenError:
		return nil, fmt.Errorf("%s", t.text)
	default:
		return nil, fmt.Errorf("expected expression, found %s", t)
	}
}

func (p *parser) list(closing tokenKind, what string) ([]expr, error) {
	var items []expr
	if p.peek().kind == closing {
		p.next()
		return items, nil
	}
	for {
		item, err := p.expression()
		if err != nil {
			return nil, err
		}
		items = append(items, item)

		t := p.next()
		switch t.kind {
		case tokenComma:
			continue
		case closing:
			return items, nil
		default:
			return nil, fmt.Errorf("expected \",\" or %s, found %s", what, t)
		}
	}
}
