// Package masking rewrites PII values according to the caller's access tier.
package masking

import (
	"strings"

	"github.com/David-Botos/data-cleansing/pkg/model"
	"github.com/David-Botos/data-cleansing/pkg/transform"
)

// Fully masked forms
const (
	maskedEmail = "***@***"
	maskedValue = "***"
)

// MaskEmail keeps the first character of the local part and the domain at
// the partial tier. An email without '@' has no domain to show and gets the
// fully masked form.
func MaskEmail(email string, level model.AccessLevel) string {
	switch level {
	case model.AccessFull:
		return email
	case model.AccessPartial:
		local, domain, ok := strings.Cut(email, "@")
		if !ok {
			return maskedEmail
		}
		// Only the text up to a second '@' counts as the domain
		domain, _, _ = strings.Cut(domain, "@")
		return head(local, 1) + "***@" + domain
	default:
		return maskedEmail
	}
}

// MaskPhone keeps the first and last 4 characters at the partial tier
func MaskPhone(phone string, level model.AccessLevel) string {
	switch level {
	case model.AccessFull:
		return phone
	case model.AccessPartial:
		return head(phone, 4) + " ****" + tail(phone, 4)
	default:
		return maskedValue
	}
}

// MaskNRIC keeps the first character and the last 3 at the partial tier
func MaskNRIC(nric string, level model.AccessLevel) string {
	switch level {
	case model.AccessFull:
		return nric
	case model.AccessPartial:
		return head(nric, 1) + "****" + tail(nric, 3)
	default:
		return maskedValue
	}
}

// MaskAddress keeps only the postal code at the partial tier
func MaskAddress(address string, level model.AccessLevel) string {
	switch level {
	case model.AccessFull:
		return address
	case model.AccessPartial:
		return "*** Singapore " + transform.ExtractPostalCodeString(address)
	default:
		return maskedValue
	}
}

// MaskSSN keeps the last 4 characters at the partial tier
func MaskSSN(ssn string, level model.AccessLevel) string {
	switch level {
	case model.AccessFull:
		return ssn
	case model.AccessPartial:
		return "***-**-" + tail(ssn, 4)
	default:
		return maskedValue
	}
}

// head returns the first n characters of s, or all of s when shorter
func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// tail returns the last n characters of s, or all of s when shorter
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
