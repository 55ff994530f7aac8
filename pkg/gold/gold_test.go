package gold

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/David-Botos/data-cleansing/pkg/masking"
	"github.com/David-Botos/data-cleansing/pkg/model"
)

func silverCustomer() *model.Record {
	return model.RecordFromPairs(
		"customer_id", "C1",
		"full_name", "ALICE TAN",
		"email", "alice@example.com",
		"phone", "+6591234567",
		"nric", "S1234567D",
		"address", "1 Raffles Place 048616",
		"postal_code", "048616",
		"ingested_file", "customers_1.csv",
		"quality_score", 100.0,
		"data_quality_flags", nil,
	)
}

func TestProject(t *testing.T) {
	maskedAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	out := Project(silverCustomer(), GoldPolicy(), model.AccessPartial, maskedAt, "scientist@company.com")

	assert.Equal(t, Columns, out.Columns())
	assert.Equal(t, "a***@example.com", out.Value("email"))
	assert.Equal(t, "S****67D", out.Value("nric"))
	assert.Equal(t, "*** Singapore 048616", out.Value("address"))
	assert.Equal(t, "048616", out.Value("postal_code"))
	assert.Nil(t, out.Value("segment"))
	assert.False(t, out.Has("ingested_file"))
	assert.Equal(t, maskedAt, out.Value(MaskedAtColumn))
	assert.Equal(t, "scientist@company.com", out.Value(MaskedForUserColumn))
}

func TestBuildUsesResolvedTier(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	source := masking.StaticGrants(masking.DefaultGrants(now.Add(-time.Hour)))
	resolver := masking.NewResolver(source, nil).WithClock(func() time.Time { return now })
	b := NewBuilder(resolver, nil)

	full := b.Build(context.Background(), "governance@company.com", []*model.Record{silverCustomer()})
	require.Len(t, full.Records, 1)
	assert.Equal(t, "alice@example.com", full.Records[0].Value("email"))

	none := b.Build(context.Background(), "nobody@company.com", []*model.Record{silverCustomer()})
	assert.Equal(t, model.AccessMaskedOnly, none.Resolution.Level)
	assert.Equal(t, "***@***", none.Records[0].Value("email"))
	assert.Equal(t, "***", none.Records[0].Value("phone"))
	assert.Equal(t, now, none.Records[0].Value(MaskedAtColumn))
}
