// Package inputtype is the catalog of semantic input kinds a HEAR statement
// can request. Each kind has a case-insensitive name, a validation rule that
// normalizes raw text, and a canonical error message.
package inputtype

import "strings"

// Kind identifies one semantic input kind.
type Kind int

const (
	Any Kind = iota
	Email
	Date
	Name
	Integer
	Float
	Boolean
	Hour
	Money
	Mobile
	Zipcode
	Language
	Cpf
	Cnpj
	QrCode
	Login
	URL
	UUID
	Color
	CreditCard
	Password
	Image
	Audio
	Video
	File
	Document
	Menu
)

type kindInfo struct {
	name    string
	aliases []string
	errMsg  string
}

var catalog = map[Kind]kindInfo{
	Any:        {name: "any", errMsg: "Please provide a response"},
	Email:      {name: "email", errMsg: "Please enter a valid email address"},
	Date:       {name: "date", errMsg: "Please enter a valid date (e.g. 25/12/2024 or 2024-12-25)"},
	Name:       {name: "name", errMsg: "Please enter a valid name (letters and spaces only)"},
	Integer:    {name: "integer", aliases: []string{"number", "int"}, errMsg: "Please enter a valid whole number"},
	Float:      {name: "float", aliases: []string{"decimal", "double"}, errMsg: "Please enter a valid number"},
	Boolean:    {name: "boolean", aliases: []string{"bool", "yesno"}, errMsg: "Please answer yes or no"},
	Hour:       {name: "hour", aliases: []string{"time"}, errMsg: "Please enter a valid time (e.g. 14:30 or 2:30 PM)"},
	Money:      {name: "money", aliases: []string{"currency", "amount"}, errMsg: "Please enter a valid amount (e.g. 100.00)"},
	Mobile:     {name: "mobile", aliases: []string{"phone", "cellphone"}, errMsg: "Please enter a valid phone number"},
	Zipcode:    {name: "zipcode", aliases: []string{"zip", "cep", "postalcode"}, errMsg: "Please enter a valid postal code"},
	Language:   {name: "language", aliases: []string{"lang"}, errMsg: "Please enter a valid language code (e.g. en, pt, es)"},
	Cpf:        {name: "cpf", errMsg: "Please enter a valid CPF (11 digits)"},
	Cnpj:       {name: "cnpj", errMsg: "Please enter a valid CNPJ (14 digits)"},
	QrCode:     {name: "qrcode", aliases: []string{"qr"}, errMsg: "Please send an image containing a QR code"},
	Login:      {name: "login", errMsg: "Please complete the login"},
	URL:        {name: "url", aliases: []string{"link"}, errMsg: "Please enter a valid URL"},
	UUID:       {name: "uuid", aliases: []string{"guid"}, errMsg: "Please enter a valid UUID"},
	Color:      {name: "color", aliases: []string{"colour"}, errMsg: "Please enter a valid color (e.g. #FF0000 or red)"},
	CreditCard: {name: "creditcard", aliases: []string{"card"}, errMsg: "Please enter a valid card number"},
	Password:   {name: "password", errMsg: "Password must be at least 8 characters"},
	Image:      {name: "image", aliases: []string{"photo", "picture"}, errMsg: "Please send an image"},
	Audio:      {name: "audio", aliases: []string{"voice"}, errMsg: "Please send an audio or voice message"},
	Video:      {name: "video", errMsg: "Please send a video"},
	File:       {name: "file", errMsg: "Please send a file"},
	Document:   {name: "document", aliases: []string{"doc", "pdf"}, errMsg: "Please send a document"},
	Menu:       {name: "menu", errMsg: "Please select one of the options"},
}

var byName = buildNameIndex()

func buildNameIndex() map[string]Kind {
	index := make(map[string]Kind, len(catalog)*2)
	for kind, info := range catalog {
		// Menu is only reachable through an option list, never by name.
		if kind == Menu {
			continue
		}
		index[info.name] = kind
		for _, alias := range info.aliases {
			index[alias] = kind
		}
	}
	return index
}

// Parse classifies a declared type name. Matching is case-insensitive and
// ignores surrounding whitespace, quotes, underscores and hyphens. Unknown
// names classify as Any.
func Parse(name string) Kind {
	kind, _ := Lookup(name)
	return kind
}

// Lookup is Parse that also reports whether the name was recognized.
func Lookup(name string) (Kind, bool) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.Trim(normalized, `"'`)
	normalized = strings.NewReplacer("_", "", "-", "", " ", "").Replace(normalized)
	if normalized == "" {
		return Any, false
	}

	kind, ok := byName[normalized]
	if !ok {
		return Any, false
	}
	return kind, true
}

// String returns the canonical lower-case name persisted in wait descriptors.
func (k Kind) String() string {
	if info, ok := catalog[k]; ok {
		return info.name
	}
	return catalog[Any].name
}

// ErrorMessage is the default user-facing message for a failed validation.
func (k Kind) ErrorMessage() string {
	if info, ok := catalog[k]; ok {
		return info.errMsg
	}
	return catalog[Any].errMsg
}

// RequiresAttachment reports kinds the resume path satisfies from message
// attachments rather than from message text.
func (k Kind) RequiresAttachment() bool {
	switch k {
	case Image, QrCode, Audio, Video, File, Document:
		return true
	default:
		return false
	}
}

// Kinds returns every kind that can be requested by name, in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(catalog)-1)
	for k := Any; k < Menu; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}
