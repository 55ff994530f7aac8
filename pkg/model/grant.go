// pkg/model/grant.go
package model

import (
	"strings"
	"time"
)

// AccessLevel is the PII disclosure tier granted to a user
type AccessLevel string

const (
	AccessFull       AccessLevel = "full_access"
	AccessPartial    AccessLevel = "partial_access"
	AccessMaskedOnly AccessLevel = "masked_only"
)

// ParseAccessLevel maps a tier name to an AccessLevel. Anything that is not a
// recognized full or partial tier resolves to AccessMaskedOnly.
func ParseAccessLevel(s string) AccessLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "full_access":
		return AccessFull
	case "partial", "partial_access":
		return AccessPartial
	default:
		return AccessMaskedOnly
	}
}

// Rank orders tiers from most restrictive (0) to least restrictive (2)
func (l AccessLevel) Rank() int {
	switch l {
	case AccessFull:
		return 2
	case AccessPartial:
		return 1
	default:
		return 0
	}
}

// AccessGrant is a temporal PII access grant for one user
type AccessGrant struct {
	UserEmail        string      `db:"user_email"`
	UserGroup        string      `db:"user_group"`
	AccessLevel      AccessLevel `db:"access_level"`
	GrantedBy        string      `db:"granted_by"`
	GrantedAt        time.Time   `db:"granted_at"`
	ExpiresAt        *time.Time  `db:"expires_at"`
	IsActive         bool        `db:"is_active"`
	Reason           *string     `db:"reason"`
	ApprovalTicketID *string     `db:"approval_ticket_id"`
}

// EffectiveAt reports whether the grant is in force at time t
func (g AccessGrant) EffectiveAt(t time.Time) bool {
	if !g.IsActive {
		return false
	}
	if g.GrantedAt.After(t) {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(t)
}
