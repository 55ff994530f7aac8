// Package transform holds pure value rewrites used to standardize silver columns.
// Every function maps NULL to NULL unless documented otherwise.
package transform

import (
	"regexp"
	"strings"

	"github.com/David-Botos/data-cleansing/pkg/model"
)

// Func rewrites a single field value
type Func func(value interface{}) interface{}

// NoneSentinel is written by FillNone in place of NULL. Downstream consumers
// must read it as "value absent".
const NoneSentinel = "None"

var (
	whitespacePattern  = regexp.MustCompile(`\s+`)
	digitsOnlyPattern  = regexp.MustCompile(`^[0-9]+$`)
	phoneStripPattern  = regexp.MustCompile(`[^0-9+]`)
	postalInTextRegexp = regexp.MustCompile(`\b([0-9]{6})\b`)
)

// Canonical mappings, first match wins
var (
	countryCanonical = map[string]string{
		"USA": "US", "US": "US",
		"UK": "GB", "GB": "GB",
		"SG": "SG", "SINGAPORE": "SG",
		"CN": "CN", "CHINA": "CN",
		"TW": "TW", "TAIWAN": "TW",
		"FR": "FR", "FRANCE": "FR",
		"DK": "DK", "DENMARK": "DK",
	}
	currencyCanonical = map[string]string{
		"USD": "USD",
		"RMB": "CNY", "CNY": "CNY",
		"YEN": "JPY", "JPY": "JPY",
		"SGD": "SGD",
	}
)

// UpperTrim trims surrounding whitespace and uppercases
func UpperTrim(value interface{}) interface{} {
	s, ok := model.StringValue(value)
	if !ok {
		return nil
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// StandardizeNRIC trims and uppercases an NRIC/FIN without reformatting it
func StandardizeNRIC(value interface{}) interface{} {
	return UpperTrim(value)
}

// NormalizeName trims and uppercases a person name
func NormalizeName(value interface{}) interface{} {
	return UpperTrim(value)
}

// NormalizeGender keeps M, F or X and maps anything else to NULL
func NormalizeGender(value interface{}) interface{} {
	s, ok := model.StringValue(value)
	if !ok {
		return nil
	}
	switch g := strings.ToUpper(strings.TrimSpace(s)); g {
	case "M", "F", "X":
		return g
	default:
		return nil
	}
}

// NormalizeCountry maps country names and codes to a 2-letter code. Unknown
// values pass through uppercased.
func NormalizeCountry(value interface{}) interface{} {
	return canonicalize(value, countryCanonical)
}

// NormalizeCurrency maps currency aliases to ISO codes. Unknown values pass
// through uppercased.
func NormalizeCurrency(value interface{}) interface{} {
	return canonicalize(value, currencyCanonical)
}

func canonicalize(value interface{}, mapping map[string]string) interface{} {
	s, ok := model.StringValue(value)
	if !ok {
		return nil
	}
	upper := strings.ToUpper(strings.TrimSpace(s))
	if canonical, found := mapping[upper]; found {
		return canonical
	}
	return upper
}

// StandardizePhone reduces a phone number to digits and '+', then coerces it
// to the +65 form when the shape is recognized. Unrecognized shapes are
// returned cleaned but otherwise untouched.
func StandardizePhone(value interface{}) interface{} {
	s, ok := model.StringValue(value)
	if !ok {
		return nil
	}
	cleaned := phoneStripPattern.ReplaceAllString(s, "")

	switch {
	case strings.HasPrefix(cleaned, "+65"):
		return cleaned
	case strings.HasPrefix(cleaned, "65"):
		return "+" + cleaned
	case strings.HasPrefix(cleaned, "0"):
		return "+65" + cleaned[1:]
	case len(cleaned) == 8:
		return "+65" + cleaned
	default:
		return cleaned
	}
}

// ExtractPostalCode returns the first word-delimited 6 digit run in a free-text
// address, or "" when there is none
func ExtractPostalCode(value interface{}) interface{} {
	s, ok := model.StringValue(value)
	if !ok {
		return nil
	}
	return ExtractPostalCodeString(s)
}

// ExtractPostalCodeString is ExtractPostalCode over a plain string
func ExtractPostalCodeString(s string) string {
	m := postalInTextRegexp.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// StandardizePostalCode removes whitespace and left-pads short all-digit codes
// with zeros to 6 digits. Anything else is returned without whitespace.
func StandardizePostalCode(value interface{}) interface{} {
	s, ok := model.StringValue(value)
	if !ok {
		return nil
	}
	cleaned := whitespacePattern.ReplaceAllString(s, "")
	if digitsOnlyPattern.MatchString(cleaned) && len(cleaned) <= 6 {
		return strings.Repeat("0", 6-len(cleaned)) + cleaned
	}
	return cleaned
}

// FillNone replaces NULL with the "None" sentinel
func FillNone(value interface{}) interface{} {
	if value == nil {
		return NoneSentinel
	}
	return value
}
