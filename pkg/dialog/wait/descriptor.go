// Package wait models pending HEAR statements: the wait descriptor persisted
// per (session, variable), its declared input type, and the menu suggestion
// entries that accompany menu waits.
package wait

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"botserver/pkg/dialog/inputtype"
)

// DeclaredType is what a wait expects: any input, a named kind, or a choice
// from a menu. The zero value is Any.
type DeclaredType struct {
	kind    inputtype.Kind
	options []string
}

// AnyType accepts any non-attachment text.
func AnyType() DeclaredType {
	return DeclaredType{kind: inputtype.Any}
}

// Named expects input of one catalog kind. Menu cannot be requested by name,
// so it degrades to Any.
func Named(kind inputtype.Kind) DeclaredType {
	if kind == inputtype.Menu {
		return AnyType()
	}
	return DeclaredType{kind: kind}
}

// MenuOf expects one of options.
func MenuOf(options []string) DeclaredType {
	return DeclaredType{kind: inputtype.Menu, options: slices.Clone(options)}
}

// Kind is the effective input kind. A declared type carrying options is
// always a menu.
func (t DeclaredType) Kind() inputtype.Kind {
	if len(t.options) > 0 {
		return inputtype.Menu
	}
	return t.kind
}

// Options returns a copy of the menu options, or nil.
func (t DeclaredType) Options() []string {
	return slices.Clone(t.options)
}

func (t DeclaredType) IsMenu() bool {
	return t.Kind() == inputtype.Menu
}

func (t DeclaredType) String() string {
	if t.IsMenu() {
		return fmt.Sprintf("menu[%s]", strings.Join(t.options, ", "))
	}
	return t.kind.String()
}

// Descriptor is the persisted record of a pending HEAR.
type Descriptor struct {
	Variable   string
	Type       DeclaredType
	RetryCount int
	// MaxRetries is set only for typed waits.
	MaxRetries *int
}

// New builds a descriptor for variable, lower-casing the name.
func New(variable string, declared DeclaredType) Descriptor {
	return Descriptor{
		Variable: strings.ToLower(strings.TrimSpace(variable)),
		Type:     declared,
	}
}

// WithMaxRetries returns a copy of d limited to limit failed attempts.
func (d Descriptor) WithMaxRetries(limit int) Descriptor {
	d.MaxRetries = &limit
	return d
}

// Exhausted reports whether a bounded wait has used up its retries.
func (d Descriptor) Exhausted() bool {
	return d.MaxRetries != nil && d.RetryCount >= *d.MaxRetries
}

// Suggestions returns one entry per menu option.
func (d Descriptor) Suggestions() []Suggestion {
	options := d.Type.options
	if len(options) == 0 {
		return nil
	}
	out := make([]Suggestion, 0, len(options))
	for _, option := range options {
		out = append(out, Suggestion{Text: option, Value: option})
	}
	return out
}

// Suggestion is a quick-reply entry rendered by channels for menu waits.
type Suggestion struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

type descriptorRecord struct {
	Variable   string   `json:"variable"`
	Type       string   `json:"type"`
	Options    []string `json:"options,omitempty"`
	Waiting    bool     `json:"waiting"`
	RetryCount int      `json:"retry_count"`
	MaxRetries *int     `json:"max_retries,omitempty"`
}

func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(descriptorRecord{
		Variable:   d.Variable,
		Type:       d.Type.Kind().String(),
		Options:    d.Type.options,
		Waiting:    true,
		RetryCount: d.RetryCount,
		MaxRetries: d.MaxRetries,
	})
}

func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var record descriptorRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return err
	}

	declared := Named(inputtype.Parse(record.Type))
	if len(record.Options) > 0 {
		declared = MenuOf(record.Options)
	}

	*d = Descriptor{
		Variable:   record.Variable,
		Type:       declared,
		RetryCount: record.RetryCount,
		MaxRetries: record.MaxRetries,
	}
	return nil
}
