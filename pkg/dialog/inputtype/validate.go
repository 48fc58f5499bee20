package inputtype

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Result is a normalized value plus optional metadata describing how it was
// derived.
type Result struct {
	Value    string
	Metadata map[string]any
}

// ValidationError is returned when raw input does not satisfy a kind.
type ValidationError struct {
	Kind    Kind
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// MessageFromError returns the user-facing message carried by a validation
// error, or the empty string when err is not one.
func MessageFromError(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	return ""
}

// now is replaced in tests that exercise relative dates.
var now = time.Now

var (
	emailPattern  = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$")
	namePattern   = regexp.MustCompile(`^[\p{L}\s\-']+$`)
	hour24Pattern = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)
	hour12Pattern = regexp.MustCompile(`^(1[0-2]|0?[1-9]):([0-5]\d)\s*(AM|PM|am|pm|a\.m\.|p\.m\.)$`)
	ukPostcode    = regexp.MustCompile(`^[A-Z]{1,2}\d[A-Z\d]?\s?\d[A-Z]{2}$`)
	urlPattern    = regexp.MustCompile(`^https?://[a-zA-Z0-9][-a-zA-Z0-9]*(\.[a-zA-Z0-9][-a-zA-Z0-9]*)+(/[-a-zA-Z0-9()@:%_\+.~#?&/=]*)?$`)
	hexColor      = regexp.MustCompile(`^#?([A-Fa-f0-9]{6}|[A-Fa-f0-9]{3})$`)
	rgbColor      = regexp.MustCompile(`^rgb\s*\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})\s*\)$`)
)

var dateLayouts = []string{
	"2/1/2006",
	"2-1-2006",
	"2006-1-2",
	"2006/1/2",
	"2.1.2006",
	"1/2/2006",
	"2 Jan 2006",
	"2 January 2006",
}

// Validate checks raw text against a kind. Menu input must go through
// ValidateMenu since it needs the option list.
func Validate(kind Kind, input string) (Result, error) {
	trimmed := strings.TrimSpace(input)

	switch kind {
	case Email:
		return validateEmail(trimmed)
	case Date:
		return validateDate(trimmed)
	case Name:
		return validateName(trimmed)
	case Integer:
		return validateInteger(trimmed)
	case Float:
		return validateFloat(trimmed)
	case Boolean:
		return validateBoolean(trimmed)
	case Hour:
		return validateHour(trimmed)
	case Money:
		return validateMoney(trimmed)
	case Mobile:
		return validateMobile(trimmed)
	case Zipcode:
		return validateZipcode(trimmed)
	case Language:
		return validateLanguage(trimmed)
	case Cpf:
		return validateCPF(trimmed)
	case Cnpj:
		return validateCNPJ(trimmed)
	case URL:
		return validateURL(trimmed)
	case UUID:
		return validateUUID(trimmed)
	case Color:
		return validateColor(trimmed)
	case CreditCard:
		return validateCreditCard(trimmed)
	case Password:
		return validatePassword(trimmed)
	case Menu:
		return Result{}, invalid(Menu, Menu.ErrorMessage())
	default:
		return Result{Value: trimmed}, nil
	}
}

func valid(value string) (Result, error) {
	return Result{Value: value}, nil
}

func validWith(value string, metadata map[string]any) (Result, error) {
	return Result{Value: value, Metadata: metadata}, nil
}

func invalid(kind Kind, message string) error {
	return &ValidationError{Kind: kind, Message: message}
}

func validateEmail(input string) (Result, error) {
	if !emailPattern.MatchString(input) {
		return Result{}, invalid(Email, Email.ErrorMessage())
	}
	return valid(strings.ToLower(input))
}

func validateDate(input string) (Result, error) {
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, input); err == nil {
			return validWith(parsed.Format("2006-01-02"), map[string]any{
				"original":      input,
				"parsed_format": layout,
			})
		}
	}

	today := now()
	switch strings.ToLower(input) {
	case "today", "hoje":
		return valid(today.Format("2006-01-02"))
	case "tomorrow", "amanhã", "amanha":
		return valid(today.AddDate(0, 0, 1).Format("2006-01-02"))
	case "yesterday", "ontem":
		return valid(today.AddDate(0, 0, -1).Format("2006-01-02"))
	}

	return Result{}, invalid(Date, Date.ErrorMessage())
}

func validateName(input string) (Result, error) {
	if len(input) < 2 {
		return Result{}, invalid(Name, "Name must be at least 2 characters")
	}
	if len(input) > 100 {
		return Result{}, invalid(Name, "Name is too long")
	}
	if !namePattern.MatchString(input) {
		return Result{}, invalid(Name, Name.ErrorMessage())
	}

	// Casers carry state, so each call gets its own. Only the first rune of
	// a word changes: "mary-jane" stays "Mary-jane".
	upper := cases.Upper(language.Und)
	words := strings.Fields(input)
	for i, word := range words {
		first, size := utf8.DecodeRuneInString(word)
		words[i] = upper.String(string(first)) + word[size:]
	}
	return valid(strings.Join(words, " "))
}

func validateInteger(input string) (Result, error) {
	cleaned := strings.NewReplacer(",", "", ".", "", " ", "").Replace(input)
	number, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return Result{}, invalid(Integer, Integer.ErrorMessage())
	}
	return validWith(strconv.FormatInt(number, 10), map[string]any{"value": number})
}

func validateFloat(input string) (Result, error) {
	cleaned := strings.ReplaceAll(strings.ReplaceAll(input, " ", ""), ",", ".")
	number, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(number) || math.IsInf(number, 0) {
		return Result{}, invalid(Float, Float.ErrorMessage())
	}
	return validWith(fmt.Sprintf("%.2f", number), map[string]any{"value": number})
}

var (
	trueWords = map[string]struct{}{
		"yes": {}, "y": {}, "true": {}, "1": {}, "sim": {}, "s": {}, "si": {}, "oui": {},
		"ja": {}, "da": {}, "ok": {}, "yeah": {}, "yep": {}, "sure": {}, "confirm": {},
		"confirmed": {}, "accept": {}, "agreed": {}, "agree": {},
	}
	falseWords = map[string]struct{}{
		"no": {}, "n": {}, "false": {}, "0": {}, "não": {}, "nao": {}, "non": {}, "nein": {},
		"net": {}, "nope": {}, "cancel": {}, "deny": {}, "denied": {}, "reject": {},
		"declined": {}, "disagree": {},
	}
)

func validateBoolean(input string) (Result, error) {
	lower := strings.ToLower(input)
	if _, ok := trueWords[lower]; ok {
		return validWith("true", map[string]any{"value": true})
	}
	if _, ok := falseWords[lower]; ok {
		return validWith("false", map[string]any{"value": false})
	}
	return Result{}, invalid(Boolean, Boolean.ErrorMessage())
}

func validateHour(input string) (Result, error) {
	if groups := hour24Pattern.FindStringSubmatch(input); groups != nil {
		hour, _ := strconv.Atoi(groups[1])
		minute, _ := strconv.Atoi(groups[2])
		return validWith(fmt.Sprintf("%02d:%02d", hour, minute), map[string]any{"hour": hour, "minute": minute})
	}

	if groups := hour12Pattern.FindStringSubmatch(input); groups != nil {
		hour, _ := strconv.Atoi(groups[1])
		minute, _ := strconv.Atoi(groups[2])
		period := strings.ToUpper(groups[3])
		if strings.HasPrefix(period, "P") && hour != 12 {
			hour += 12
		} else if strings.HasPrefix(period, "A") && hour == 12 {
			hour = 0
		}
		return validWith(fmt.Sprintf("%02d:%02d", hour, minute), map[string]any{"hour": hour, "minute": minute})
	}

	return Result{}, invalid(Hour, Hour.ErrorMessage())
}

func validateMoney(input string) (Result, error) {
	cleaned := strings.ReplaceAll(input, "R$", "")
	cleaned = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", " ", "").Replace(cleaned)

	normalized := cleaned
	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")
	switch {
	case hasComma && hasDot:
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			normalized = strings.ReplaceAll(strings.ReplaceAll(cleaned, ".", ""), ",", ".")
		} else {
			normalized = strings.ReplaceAll(cleaned, ",", "")
		}
	case hasComma:
		normalized = strings.ReplaceAll(cleaned, ",", ".")
	}

	amount, err := strconv.ParseFloat(normalized, 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return Result{}, invalid(Money, Money.ErrorMessage())
	}
	return validWith(fmt.Sprintf("%.2f", amount), map[string]any{"value": amount})
}

func digitsOnly(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allDigits(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}

func validateMobile(input string) (Result, error) {
	digits := digitsOnly(input)
	if len(digits) < 10 || len(digits) > 15 {
		return Result{}, invalid(Mobile, Mobile.ErrorMessage())
	}

	var formatted string
	switch len(digits) {
	case 11:
		formatted = fmt.Sprintf("(%s) %s-%s", digits[0:2], digits[2:7], digits[7:11])
	case 10:
		formatted = fmt.Sprintf("(%s) %s-%s", digits[0:3], digits[3:6], digits[6:10])
	default:
		formatted = "+" + digits
	}
	return validWith(formatted, map[string]any{"digits": digits, "formatted": formatted})
}

func validateZipcode(input string) (Result, error) {
	var b strings.Builder
	for _, r := range input {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	if len(cleaned) == 8 && allDigits(cleaned) {
		formatted := cleaned[0:5] + "-" + cleaned[5:8]
		return validWith(formatted, map[string]any{"digits": cleaned, "formatted": formatted, "country": "BR"})
	}

	if (len(cleaned) == 5 || len(cleaned) == 9) && allDigits(cleaned) {
		formatted := cleaned
		if len(cleaned) == 9 {
			formatted = cleaned[0:5] + "-" + cleaned[5:9]
		}
		return validWith(formatted, map[string]any{"digits": cleaned, "formatted": formatted, "country": "US"})
	}

	upper := strings.ToUpper(cleaned)
	if ukPostcode.MatchString(upper) {
		return validWith(upper, map[string]any{"formatted": upper, "country": "UK"})
	}

	return Result{}, invalid(Zipcode, Zipcode.ErrorMessage())
}

var languageNames = []struct {
	code  string
	names []string
}{
	{"en", []string{"english", "inglês", "ingles"}},
	{"pt", []string{"portuguese", "português", "portugues"}},
	{"es", []string{"spanish", "espanhol", "español"}},
	{"fr", []string{"french", "francês", "frances"}},
	{"de", []string{"german", "alemão", "alemao"}},
	{"it", []string{"italian", "italiano"}},
	{"ja", []string{"japanese", "japonês", "japones"}},
	{"zh", []string{"chinese", "chinês", "chines"}},
	{"ko", []string{"korean", "coreano"}},
	{"ru", []string{"russian", "russo"}},
	{"ar", []string{"arabic", "árabe", "arabe"}},
	{"hi", []string{"hindi"}},
	{"nl", []string{"dutch", "holandês", "holandes"}},
	{"pl", []string{"polish", "polonês", "polones"}},
	{"tr", []string{"turkish", "turco"}},
}

func validateLanguage(input string) (Result, error) {
	lower := strings.ToLower(strings.TrimSpace(input))

	for _, entry := range languageNames {
		if lower == entry.code {
			return validWith(entry.code, map[string]any{"code": entry.code, "input": input})
		}
		for _, name := range entry.names {
			if lower == name {
				return validWith(entry.code, map[string]any{"code": entry.code, "input": input})
			}
		}
	}

	if len(lower) == 2 {
		if base, err := language.ParseBase(lower); err == nil {
			return valid(base.String())
		}
	}

	return Result{}, invalid(Language, Language.ErrorMessage())
}

func checkDigits(digits string) []int {
	values := make([]int, len(digits))
	for i, r := range digits {
		values[i] = int(r - '0')
	}
	return values
}

func validateCPF(input string) (Result, error) {
	digits := digitsOnly(input)
	if len(digits) != 11 {
		return Result{}, invalid(Cpf, Cpf.ErrorMessage())
	}
	if strings.Count(digits, digits[:1]) == len(digits) {
		return Result{}, invalid(Cpf, "Invalid CPF")
	}

	values := checkDigits(digits)
	sum := 0
	for i := 0; i < 9; i++ {
		sum += values[i] * (10 - i)
	}
	check := (sum * 10) % 11
	if check == 10 {
		check = 0
	}
	if check != values[9] {
		return Result{}, invalid(Cpf, "Invalid CPF")
	}

	sum = 0
	for i := 0; i < 10; i++ {
		sum += values[i] * (11 - i)
	}
	check = (sum * 10) % 11
	if check == 10 {
		check = 0
	}
	if check != values[10] {
		return Result{}, invalid(Cpf, "Invalid CPF")
	}

	formatted := fmt.Sprintf("%s.%s.%s-%s", digits[0:3], digits[3:6], digits[6:9], digits[9:11])
	return validWith(formatted, map[string]any{"digits": digits, "formatted": formatted})
}

func validateCNPJ(input string) (Result, error) {
	digits := digitsOnly(input)
	if len(digits) != 14 {
		return Result{}, invalid(Cnpj, Cnpj.ErrorMessage())
	}

	values := checkDigits(digits)
	cnpjCheck := func(weights []int) int {
		sum := 0
		for i, w := range weights {
			sum += values[i] * w
		}
		rem := sum % 11
		if rem < 2 {
			return 0
		}
		return 11 - rem
	}

	if cnpjCheck([]int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}) != values[12] {
		return Result{}, invalid(Cnpj, "Invalid CNPJ")
	}
	if cnpjCheck([]int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}) != values[13] {
		return Result{}, invalid(Cnpj, "Invalid CNPJ")
	}

	formatted := fmt.Sprintf("%s.%s.%s/%s-%s", digits[0:2], digits[2:5], digits[5:8], digits[8:12], digits[12:14])
	return validWith(formatted, map[string]any{"digits": digits, "formatted": formatted})
}

func validateURL(input string) (Result, error) {
	candidate := input
	if !strings.HasPrefix(candidate, "http://") && !strings.HasPrefix(candidate, "https://") {
		candidate = "https://" + candidate
	}
	if !urlPattern.MatchString(candidate) {
		return Result{}, invalid(URL, URL.ErrorMessage())
	}
	return valid(candidate)
}

func validateUUID(input string) (Result, error) {
	parsed, err := uuid.Parse(input)
	if err != nil {
		return Result{}, invalid(UUID, UUID.ErrorMessage())
	}
	return valid(parsed.String())
}

var namedColors = map[string]string{
	"red":     "#FF0000",
	"green":   "#00FF00",
	"blue":    "#0000FF",
	"white":   "#FFFFFF",
	"black":   "#000000",
	"yellow":  "#FFFF00",
	"orange":  "#FFA500",
	"purple":  "#800080",
	"pink":    "#FFC0CB",
	"gray":    "#808080",
	"grey":    "#808080",
	"brown":   "#A52A2A",
	"cyan":    "#00FFFF",
	"magenta": "#FF00FF",
}

func validateColor(input string) (Result, error) {
	lower := strings.ToLower(strings.TrimSpace(input))

	if hex, ok := namedColors[lower]; ok {
		return validWith(hex, map[string]any{"name": lower, "hex": hex})
	}

	if groups := hexColor.FindStringSubmatch(lower); groups != nil {
		hex := strings.ToUpper(groups[1])
		if len(hex) == 3 {
			hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
		}
		return valid("#" + hex)
	}

	if groups := rgbColor.FindStringSubmatch(lower); groups != nil {
		channels := make([]int, 3)
		for i := range channels {
			value, err := strconv.Atoi(groups[i+1])
			if err != nil || value > 255 {
				return Result{}, invalid(Color, Color.ErrorMessage())
			}
			channels[i] = value
		}
		return valid(fmt.Sprintf("#%02X%02X%02X", channels[0], channels[1], channels[2]))
	}

	return Result{}, invalid(Color, Color.ErrorMessage())
}

func validateCreditCard(input string) (Result, error) {
	digits := digitsOnly(input)
	if len(digits) < 13 || len(digits) > 19 {
		return Result{}, invalid(CreditCard, CreditCard.ErrorMessage())
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		digit := int(digits[i] - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}
	if sum%10 != 0 {
		return Result{}, invalid(CreditCard, "Invalid card number")
	}

	lastFour := digits[len(digits)-4:]
	masked := fmt.Sprintf("%s **** **** %s", digits[0:4], lastFour)
	return validWith(masked, map[string]any{
		"masked":    masked,
		"last_four": lastFour,
		"card_type": cardBrand(digits),
	})
}

func cardBrand(digits string) string {
	hasAny := func(prefixes ...string) bool {
		for _, prefix := range prefixes {
			if strings.HasPrefix(digits, prefix) {
				return true
			}
		}
		return false
	}

	switch {
	case hasAny("4"):
		return "Visa"
	case hasAny("51", "52", "53", "54", "55"):
		return "Mastercard"
	case hasAny("34", "37"):
		return "American Express"
	case hasAny("36", "38"):
		return "Diners Club"
	case hasAny("6011", "65"):
		return "Discover"
	default:
		return "Unknown"
	}
}

func validatePassword(input string) (Result, error) {
	if len(input) < 8 {
		return Result{}, invalid(Password, Password.ErrorMessage())
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range input {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		}
		if r >= '0' && r <= '9' {
			hasDigit = true
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			hasSpecial = true
		}
	}

	strength := "weak"
	switch {
	case hasUpper && hasLower && hasDigit && hasSpecial:
		strength = "strong"
	case hasUpper && hasLower && (hasDigit || hasSpecial), hasUpper && hasDigit && hasSpecial:
		strength = "medium"
	}

	return validWith("[PASSWORD SET]", map[string]any{"strength": strength, "length": len(input)})
}

// ValidateMenu resolves input to one of options: an exact case-insensitive
// match, a 1-based option number, or a substring matching exactly one option.
func ValidateMenu(input string, options []string) (Result, error) {
	lower := strings.ToLower(strings.TrimSpace(input))

	for i, option := range options {
		if strings.ToLower(option) == lower {
			return validWith(option, map[string]any{"index": i, "value": option})
		}
	}

	if number, err := strconv.Atoi(lower); err == nil && number >= 1 && number <= len(options) {
		selected := options[number-1]
		return validWith(selected, map[string]any{"index": number - 1, "value": selected})
	}

	if lower != "" {
		match := -1
		for i, option := range options {
			if strings.Contains(strings.ToLower(option), lower) {
				if match >= 0 {
					match = -1
					break
				}
				match = i
			}
		}
		if match >= 0 {
			return validWith(options[match], map[string]any{"index": match, "value": options[match]})
		}
	}

	return Result{}, invalid(Menu, "Please select one of: "+strings.Join(options, ", "))
}
