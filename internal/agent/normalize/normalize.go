// Package normalize turns raw matched text into canonical field values.
//
// Every function is pure and returns ok=false instead of failing.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

// Func canonicalizes one raw value.
type Func func(raw string) (string, bool)

var (
	dateRe      = regexp.MustCompile(`(?:^|\D)(\d{1,4})[/-](\d{1,2})[/-](\d{1,4})(?:\D|$)`)
	nonDigitRe  = regexp.MustCompile(`\D`)
	crmRe       = regexp.MustCompile(`(?i)crm[:\s]*(\d+)(?:[\s/-]*([a-z]{2})\b)?`)
	crmStateRe  = regexp.MustCompile(`(?i)crm[/-]([a-z]{2})[:\s]*(\d+)`)
	whitespaceR = regexp.MustCompile(`\s+`)
)

// Date emits DD/MM/YYYY from DD/MM/YYYY, DD-MM-YYYY, DD/MM/YY or YYYY/MM/DD.
// Any other three-group shape is rejected rather than guessed.
func Date(raw string) (string, bool) {
	m := dateRe.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	a, b, c := m[1], m[2], m[3]

	switch {
	case len(a) == 2 && len(b) == 2 && len(c) == 4:
		return fmt.Sprintf("%s/%s/%s", a, b, c), true
	case len(a) == 2 && len(b) == 2 && len(c) == 2:
		century := "20"
		if c >= "50" {
			century = "19"
		}
		return fmt.Sprintf("%s/%s/%s%s", a, b, century, c), true
	case len(a) == 4 && len(b) == 2 && len(c) == 2:
		return fmt.Sprintf("%s/%s/%s", c, b, a), true
	default:
		return "", false
	}
}

// CPF emits XXX.XXX.XXX-XX when exactly eleven digits are present.
func CPF(raw string) (string, bool) {
	d := digits(raw)
	if len(d) != 11 {
		return "", false
	}
	return fmt.Sprintf("%s.%s.%s-%s", d[:3], d[3:6], d[6:9], d[9:]), true
}

// CRM emits "CRM <number> <STATE>", or "CRM <number>" without a state.
// The "CRM/SP 123456" form is accepted as well.
func CRM(raw string) (string, bool) {
	var number, state string
	if m := crmRe.FindStringSubmatch(raw); m != nil {
		number, state = m[1], m[2]
	} else if m := crmStateRe.FindStringSubmatch(raw); m != nil {
		number, state = m[2], m[1]
	} else {
		return "", false
	}
	return strings.TrimSpace("CRM " + number + " " + strings.ToUpper(state)), true
}

// Phone emits (XX) XXXX-XXXX for ten digits and (XX) XXXXX-XXXX for eleven.
func Phone(raw string) (string, bool) {
	d := digits(raw)
	switch len(d) {
	case 10:
		return fmt.Sprintf("(%s) %s-%s", d[:2], d[2:6], d[6:]), true
	case 11:
		return fmt.Sprintf("(%s) %s-%s", d[:2], d[2:7], d[7:]), true
	default:
		return "", false
	}
}

// Clean collapses whitespace runs to a single space and trims the ends.
func Clean(raw string) string {
	return strings.TrimSpace(whitespaceR.ReplaceAllString(raw, " "))
}

// Text is Clean as a Func; it only rejects values that clean to nothing.
func Text(raw string) (string, bool) {
	s := Clean(raw)
	return s, s != ""
}

func digits(s string) string {
	return nonDigitRe.ReplaceAllString(s, "")
}

var registry = map[string]Func{
	"date":  Date,
	"cpf":   CPF,
	"crm":   CRM,
	"phone": Phone,
	"text":  Text,
}

// Lookup resolves a normalizer by the name used in catalog files.
func Lookup(name string) (Func, bool) {
	fn, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return fn, ok
}
