package script

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindList
)

// Value is a runtime value: text, a number, or a list.
type Value struct {
	kind  valueKind
	str   string
	num   float64
	items []Value
}

func String(s string) Value    { return Value{kind: kindString, str: s} }
func Number(n float64) Value   { return Value{kind: kindNumber, num: n} }
func List(items []Value) Value { return Value{kind: kindList, items: items} }

func (v Value) IsList() bool { return v.kind == kindList }

// Strings renders each list element as text. A non-list yields a single
// element.
func (v Value) Strings() []string {
	if v.kind != kindList {
		return []string{v.String()}
	}
	out := make([]string, 0, len(v.items))
	for _, item := range v.items {
		out = append(out, item.String())
	}
	return out
}

func (v Value) String() string {
	switch v.kind {
	case kindNumber:
		return formatNumber(v.num)
	case kindList:
		return "[" + strings.Join(v.Strings(), ", ") + "]"
	default:
		return v.str
	}
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// add is `+`: numeric addition when both sides are numbers, otherwise text
// concatenation.
func add(left, right Value) Value {
	if left.kind == kindNumber && right.kind == kindNumber {
		return Number(left.num + right.num)
	}
	return String(left.String() + right.String())
}

type builtin func(args []Value) (Value, error)

var builtins = map[string]builtin{
	"UPPER": unaryText(strings.ToUpper),
	"LOWER": unaryText(strings.ToLower),
	"TRIM":  unaryText(strings.TrimSpace),
	"LEN": func(args []Value) (Value, error) {
		if len(args) != 1 {
			return Value{}, fmt.Errorf("LEN expects 1 argument, got %d", len(args))
		}
		if args[0].IsList() {
			return Number(float64(len(args[0].items))), nil
		}
		return Number(float64(utf8.RuneCountInString(args[0].String()))), nil
	},
	"FORMAT": format,
}

func unaryText(fn func(string) string) builtin {
	return func(args []Value) (Value, error) {
		if len(args) != 1 {
			return Value{}, fmt.Errorf("expects 1 argument, got %d", len(args))
		}
		return String(fn(args[0].String())), nil
	}
}

// format renders a value with a number of decimals given either as a number
// or as a pattern such as "0.00".
func format(args []Value) (Value, error) {
	if len(args) != 2 {
		return Value{}, fmt.Errorf("FORMAT expects 2 arguments, got %d", len(args))
	}

	value := args[0]
	number := value.num
	if value.kind != kindNumber {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value.String()), 64)
		if err != nil {
			return String(value.String()), nil
		}
		number = parsed
	}

	decimals := 0
	switch pattern := args[1]; pattern.kind {
	case kindNumber:
		decimals = int(pattern.num)
	default:
		if _, fraction, ok := strings.Cut(pattern.String(), "."); ok {
			decimals = len(fraction)
		}
	}
	if decimals < 0 {
		decimals = 0
	}
	return String(strconv.FormatFloat(number, 'f', decimals, 64)), nil
}
