package masking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/David-Botos/data-cleansing/pkg/model"
)

func TestMaskEmail(t *testing.T) {
	const email = "alice@example.com"

	assert.Equal(t, email, MaskEmail(email, model.AccessFull))
	assert.Equal(t, "a***@example.com", MaskEmail(email, model.AccessPartial))
	assert.Equal(t, "***@***", MaskEmail(email, model.AccessMaskedOnly))
	assert.Equal(t, "***@***", MaskEmail(email, model.AccessLevel("unknown_tier")))
	assert.Equal(t, "***@***", MaskEmail(email, model.ParseAccessLevel("unknown_tier")))

	assert.Equal(t, "***@***", MaskEmail("no-at-sign", model.AccessPartial))
	assert.Equal(t, "***@", MaskEmail("@", model.AccessPartial))
	assert.Equal(t, "a***@b", MaskEmail("a@b@c", model.AccessPartial))
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "+659 ****4567", MaskPhone("+6591234567", model.AccessPartial))
	assert.Equal(t, "123 ****123", MaskPhone("123", model.AccessPartial))
	assert.Equal(t, "***", MaskPhone("+6591234567", model.AccessMaskedOnly))
	assert.Equal(t, "+6591234567", MaskPhone("+6591234567", model.AccessFull))
}

func TestMaskNRIC(t *testing.T) {
	assert.Equal(t, "S****67D", MaskNRIC("S1234567D", model.AccessPartial))
	assert.Equal(t, "***", MaskNRIC("S1234567D", model.AccessMaskedOnly))
	assert.Equal(t, "S1234567D", MaskNRIC("S1234567D", model.AccessFull))
}

func TestMaskAddress(t *testing.T) {
	addr := "1 Raffles Place, Singapore 048616"
	assert.Equal(t, "*** Singapore 048616", MaskAddress(addr, model.AccessPartial))
	assert.Equal(t, "*** Singapore ", MaskAddress("somewhere", model.AccessPartial))
	assert.Equal(t, "***", MaskAddress(addr, model.AccessMaskedOnly))
	assert.Equal(t, addr, MaskAddress(addr, model.AccessFull))
}

func TestMaskSSN(t *testing.T) {
	assert.Equal(t, "***-**-6789", MaskSSN("123-45-6789", model.AccessPartial))
	assert.Equal(t, "***", MaskSSN("123-45-6789", model.AccessMaskedOnly))
}

func TestMaskValueNull(t *testing.T) {
	assert.Nil(t, MaskValue(nil, model.AccessFull, MaskEmail))
	assert.Nil(t, MaskValue(nil, model.AccessPartial, MaskEmail))
	assert.Equal(t, "***@***", MaskValue(nil, model.AccessMaskedOnly, MaskEmail))
	assert.Equal(t, "***", MaskValue(nil, model.AccessMaskedOnly, MaskPhone))
}

func TestPolicyApply(t *testing.T) {
	rec := model.RecordFromPairs(
		"customer_id", "C1",
		"email", "alice@example.com",
		"phone", "+6591234567",
		"status", "active",
	)

	masked := DefaultPolicy().Apply(rec, model.AccessPartial)

	assert.Equal(t, "a***@example.com", masked.Value("email"))
	assert.Equal(t, "+659 ****4567", masked.Value("phone"))
	assert.Equal(t, "active", masked.Value("status"))
	assert.False(t, masked.Has("nric"))
	assert.Equal(t, rec.Columns(), masked.Columns())
	assert.Equal(t, "alice@example.com", rec.Value("email"))
}

func TestSelectGrant(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	user := "dana@company.com"

	grant := func(level model.AccessLevel, grantedAt time.Time, expires *time.Time, active bool) model.AccessGrant {
		return model.AccessGrant{
			UserEmail:   user,
			UserGroup:   "scientist",
			AccessLevel: level,
			GrantedBy:   "lead@company.com",
			GrantedAt:   grantedAt,
			ExpiresAt:   expires,
			IsActive:    active,
		}
	}

	tests := []struct {
		name   string
		grants []model.AccessGrant
		want   model.AccessLevel
	}{
		{"no grants", nil, model.AccessMaskedOnly},
		{"expired", []model.AccessGrant{grant(model.AccessFull, past.Add(-time.Hour), &past, true)}, model.AccessMaskedOnly},
		{"inactive", []model.AccessGrant{grant(model.AccessFull, past, nil, false)}, model.AccessMaskedOnly},
		{"not yet granted", []model.AccessGrant{grant(model.AccessFull, future, nil, true)}, model.AccessMaskedOnly},
		{"expiring later", []model.AccessGrant{grant(model.AccessPartial, past, &future, true)}, model.AccessPartial},
		{"expires exactly now", []model.AccessGrant{grant(model.AccessFull, past, &now, true)}, model.AccessMaskedOnly},
		{"most recent wins", []model.AccessGrant{
			grant(model.AccessFull, past.Add(-time.Hour), nil, true),
			grant(model.AccessPartial, past, nil, true),
		}, model.AccessPartial},
		{"tie goes to most restrictive", []model.AccessGrant{
			grant(model.AccessFull, past, nil, true),
			grant(model.AccessMaskedOnly, past, nil, true),
		}, model.AccessMaskedOnly},
		{"unknown tier is masked", []model.AccessGrant{grant(model.AccessLevel("superuser"), past, nil, true)}, model.AccessMaskedOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveLevel(tt.grants, user, now))
		})
	}

	other := []model.AccessGrant{grant(model.AccessFull, past, nil, true)}
	assert.Equal(t, model.AccessMaskedOnly, ResolveLevel(other, "someone@company.com", now))
}

type failingSource struct{}

func (failingSource) GrantsFor(context.Context, string) ([]model.AccessGrant, error) {
	return nil, errors.New("connection refused")
}

func TestResolver(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	source := StaticGrants(DefaultGrants(now.Add(-time.Minute)))
	r := NewResolver(source, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })
	ctx := context.Background()

	res := r.Resolve(ctx, "scientist@company.com")
	assert.Equal(t, model.AccessPartial, res.Level)
	require.NotNil(t, res.Grant)
	assert.Equal(t, "system", res.Grant.GrantedBy)

	assert.Equal(t, model.AccessFull, r.Resolve(ctx, "governance@company.com").Level)
	assert.Equal(t, model.AccessMaskedOnly, r.Resolve(ctx, "analyst@company.com").Level)

	unknown := r.Resolve(ctx, "intern@company.com")
	assert.Equal(t, model.AccessMaskedOnly, unknown.Level)
	assert.Nil(t, unknown.Grant)

	failed := NewResolver(failingSource{}, nil).Resolve(ctx, "governance@company.com")
	assert.Equal(t, model.AccessMaskedOnly, failed.Level)
	assert.True(t, failed.Fallback)
}

func TestResolverDoesNotCache(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	expires := start.Add(time.Hour)
	source := StaticGrants{{
		UserEmail:   "dana@company.com",
		AccessLevel: model.AccessFull,
		GrantedAt:   start.Add(-time.Hour),
		ExpiresAt:   &expires,
		IsActive:    true,
	}}

	clock := start
	r := NewResolver(source, nil).WithClock(func() time.Time { return clock })

	assert.Equal(t, model.AccessFull, r.Resolve(context.Background(), "dana@company.com").Level)
	clock = expires.Add(time.Second)
	assert.Equal(t, model.AccessMaskedOnly, r.Resolve(context.Background(), "dana@company.com").Level)
}
