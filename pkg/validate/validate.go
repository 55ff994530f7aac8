// Package validate provides pure format and range checks over field values.
// Every validator is total: NULL and malformed input simply fail.
package validate

import (
	"regexp"
	"strings"

	"github.com/David-Botos/data-cleansing/pkg/model"
)

// Validator reports whether a field value passes a check
type Validator func(value interface{}) bool

// Patterns for format checks
var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	postalPattern     = regexp.MustCompile(`^[0-9]{6}$`)
	nricPattern       = regexp.MustCompile(`^[STFGM][0-9]{7}[A-Z]$`)
	nric9Pattern      = regexp.MustCompile(`^[A-Z0-9]{9}$`)
	emailPattern      = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// Accepted code sets
var (
	genderCodes   = setOf("M", "F", "X")
	countryCodes  = setOf("USA", "US", "UK", "GB", "SG", "CN", "TW", "FR", "DK")
	currencyCodes = setOf("USD", "RMB", "YEN", "SGD", "CNY", "JPY")
)

// SingaporePostalCode checks for exactly 6 digits once whitespace is removed
func SingaporePostalCode(value interface{}) bool {
	s, ok := model.StringValue(value)
	if !ok {
		return false
	}
	return postalPattern.MatchString(whitespacePattern.ReplaceAllString(s, ""))
}

// SingaporeNRIC checks the NRIC/FIN format: prefix S, T, F, G or M, 7 digits, 1 letter.
// The checksum letter is not verified; see SingaporeNRICWithChecksum.
func SingaporeNRIC(value interface{}) bool {
	s, ok := model.StringValue(value)
	if !ok {
		return false
	}
	return nricPattern.MatchString(s)
}

// SingaporeNRICWithChecksum checks the format and the checksum letter
func SingaporeNRICWithChecksum(value interface{}) bool {
	if !SingaporeNRIC(value) {
		return false
	}
	s := model.ToString(value)
	expected, ok := NRICChecksum(s)
	return ok && s[8] == expected
}

// NRIC9Char checks for exactly 9 uppercase alphanumeric characters
func NRIC9Char(value interface{}) bool {
	s, ok := model.StringValue(value)
	if !ok {
		return false
	}
	return nric9Pattern.MatchString(s)
}

// Email checks for a local@domain.tld shape
func Email(value interface{}) bool {
	s, ok := model.StringValue(value)
	if !ok {
		return false
	}
	return emailPattern.MatchString(s)
}

// Gender accepts M, F or X in any case
func Gender(value interface{}) bool {
	return inSet(value, genderCodes)
}

// CountryCode accepts the supported nationality codes in any case. The set is
// wider than the canonical output of transform.NormalizeCountry.
func CountryCode(value interface{}) bool {
	return inSet(value, countryCodes)
}

// CurrencyCode accepts the supported currency codes in any case
func CurrencyCode(value interface{}) bool {
	return inSet(value, currencyCodes)
}

func inSet(value interface{}, set map[string]struct{}) bool {
	s, ok := model.StringValue(value)
	if !ok {
		return false
	}
	_, found := set[strings.ToUpper(s)]
	return found
}

func setOf(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}
