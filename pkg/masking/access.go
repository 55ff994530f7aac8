// pkg/masking/access.go
package masking

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/model"
)

// GrantSource loads the access grants recorded for a user
type GrantSource interface {
	GrantsFor(ctx context.Context, userEmail string) ([]model.AccessGrant, error)
}

// StaticGrants is an in-memory GrantSource
type StaticGrants []model.AccessGrant

// GrantsFor returns the grants whose user email matches exactly
func (s StaticGrants) GrantsFor(_ context.Context, userEmail string) ([]model.AccessGrant, error) {
	var out []model.AccessGrant
	for _, g := range s {
		if g.UserEmail == userEmail {
			out = append(out, g)
		}
	}
	return out, nil
}

// DefaultGrants returns the initial per-group grants
func DefaultGrants(now time.Time) []model.AccessGrant {
	reason := "Default group access"
	grant := func(email, group string, level model.AccessLevel) model.AccessGrant {
		r := reason
		return model.AccessGrant{
			UserEmail:   email,
			UserGroup:   group,
			AccessLevel: level,
			GrantedBy:   "system",
			GrantedAt:   now,
			IsActive:    true,
			Reason:      &r,
		}
	}
	return []model.AccessGrant{
		grant("analyst@company.com", "analyst", model.AccessMaskedOnly),
		grant("scientist@company.com", "scientist", model.AccessPartial),
		grant("governance@company.com", "governance_officer", model.AccessFull),
	}
}

// SelectGrant picks the grant in force for identity at time t. Among several
// effective grants the most recently granted wins; on equal grant times the
// most restrictive tier wins. Returns nil when none is effective.
func SelectGrant(grants []model.AccessGrant, identity string, t time.Time) *model.AccessGrant {
	var effective []model.AccessGrant
	for _, g := range grants {
		if g.UserEmail == identity && g.EffectiveAt(t) {
			effective = append(effective, g)
		}
	}
	if len(effective) == 0 {
		return nil
	}

	sort.SliceStable(effective, func(i, j int) bool {
		if !effective[i].GrantedAt.Equal(effective[j].GrantedAt) {
			return effective[i].GrantedAt.After(effective[j].GrantedAt)
		}
		return levelOf(effective[i]).Rank() < levelOf(effective[j]).Rank()
	})
	chosen := effective[0]
	return &chosen
}

// ResolveLevel returns the tier in force for identity at time t, masked-only
// when no grant is effective
func ResolveLevel(grants []model.AccessGrant, identity string, t time.Time) model.AccessLevel {
	g := SelectGrant(grants, identity, t)
	if g == nil {
		return model.AccessMaskedOnly
	}
	return levelOf(*g)
}

func levelOf(g model.AccessGrant) model.AccessLevel {
	return model.ParseAccessLevel(string(g.AccessLevel))
}

// Resolution is the outcome of resolving one identity's tier
type Resolution struct {
	Identity   string
	Level      model.AccessLevel
	Grant      *model.AccessGrant // nil when the default tier applied
	ResolvedAt time.Time
	Fallback   bool // The grant lookup failed and the default tier applied
}

// Resolver resolves access tiers against a grant source. It does not cache;
// every call performs a fresh lookup.
type Resolver struct {
	source GrantSource
	logger *zap.Logger
	now    func() time.Time
}

// NewResolver creates a resolver over source
func NewResolver(source GrantSource, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		source: source,
		logger: logger.Named("access"),
		now:    time.Now,
	}
}

// WithClock overrides the resolution time source
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve returns the tier for identity now. A failed lookup is logged and
// resolves to masked-only.
func (r *Resolver) Resolve(ctx context.Context, identity string) Resolution {
	res := Resolution{
		Identity:   identity,
		Level:      model.AccessMaskedOnly,
		ResolvedAt: r.now(),
	}

	grants, err := r.source.GrantsFor(ctx, identity)
	if err != nil {
		r.logger.Warn("Access grant lookup failed, using masked_only",
			zap.String("identity", identity),
			zap.Error(err))
		res.Fallback = true
		return res
	}

	if g := SelectGrant(grants, identity, res.ResolvedAt); g != nil {
		res.Grant = g
		res.Level = levelOf(*g)
	}

	r.logger.Info("Resolved access level",
		zap.String("identity", identity),
		zap.String("accessLevel", string(res.Level)),
		zap.Bool("explicitGrant", res.Grant != nil))
	return res
}
