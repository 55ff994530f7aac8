// Package gold builds the masked consumption layer from current silver versions.
package gold

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/masking"
	"github.com/David-Botos/data-cleansing/pkg/model"
)

// Masking metadata columns
const (
	MaskedAtColumn      = "masked_at"
	MaskedForUserColumn = "masked_for_user"
)

// Columns is the gold projection, in output order
var Columns = []string{
	"customer_id",
	"full_name",
	"email",
	"phone",
	"nric",
	"dob",
	"address",
	"postal_code",
	"country",
	"gender",
	"signup_ts",
	"last_login_ts",
	"status",
	"segment",
	"credit_score",
	"annual_income",
	"data_quality_flags",
	"quality_score",
	MaskedAtColumn,
	MaskedForUserColumn,
}

// GoldPolicy masks the PII columns that appear in the gold projection
func GoldPolicy() masking.Policy {
	return masking.Policy{
		{Column: "email", Mask: masking.MaskEmail},
		{Column: "phone", Mask: masking.MaskPhone},
		{Column: "nric", Mask: masking.MaskNRIC},
		{Column: "address", Mask: masking.MaskAddress},
	}
}

// Project masks rec for level, stamps the masking metadata and returns the
// fixed gold column list. Columns missing from rec are NULL.
func Project(rec *model.Record, policy masking.Policy, level model.AccessLevel, maskedAt time.Time, user string) *model.Record {
	masked := policy.Apply(rec, level)
	masked.Set(MaskedAtColumn, maskedAt)
	masked.Set(MaskedForUserColumn, user)

	out := model.NewRecord()
	for _, col := range Columns {
		out.Set(col, masked.Value(col))
	}
	return out
}

// Result is one gold refresh
type Result struct {
	Records    []*model.Record
	Resolution masking.Resolution
}

// Builder produces gold records for one identity per refresh
type Builder struct {
	resolver *masking.Resolver
	policy   masking.Policy
	logger   *zap.Logger
}

// NewBuilder creates a gold builder resolving tiers through resolver
func NewBuilder(resolver *masking.Resolver, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		resolver: resolver,
		policy:   GoldPolicy(),
		logger:   logger.Named("gold"),
	}
}

// WithPolicy replaces the masking policy
func (b *Builder) WithPolicy(policy masking.Policy) *Builder {
	b.policy = policy
	return b
}

// Build resolves the identity's tier once and masks every record with it
func (b *Builder) Build(ctx context.Context, identity string, silver []*model.Record) Result {
	res := b.resolver.Resolve(ctx, identity)

	out := make([]*model.Record, len(silver))
	for i, rec := range silver {
		out[i] = Project(rec, b.policy, res.Level, res.ResolvedAt, identity)
	}

	b.logger.Info("Built gold records",
		zap.String("maskedForUser", identity),
		zap.String("accessLevel", string(res.Level)),
		zap.Int("records", len(out)))

	return Result{Records: out, Resolution: res}
}
