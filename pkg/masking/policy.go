// pkg/masking/policy.go
package masking

import (
	"github.com/David-Botos/data-cleansing/pkg/model"
)

// StringMasker masks a single string value for a tier
type StringMasker func(value string, level model.AccessLevel) string

// Rule masks one column
type Rule struct {
	Column string
	Mask   StringMasker
}

// Policy is the ordered set of PII columns masked on a record
type Policy []Rule

// DefaultPolicy masks the customer PII columns
func DefaultPolicy() Policy {
	return Policy{
		{Column: "email", Mask: MaskEmail},
		{Column: "phone", Mask: MaskPhone},
		{Column: "nric", Mask: MaskNRIC},
		{Column: "address", Mask: MaskAddress},
		{Column: "ssn", Mask: MaskSSN},
	}
}

// Columns returns the masked column names
func (p Policy) Columns() []string {
	cols := make([]string, len(p))
	for i, r := range p {
		cols[i] = r.Column
	}
	return cols
}

// MaskValue applies a string masker to a column value. NULL stays NULL unless
// the tier hides everything, in which case the fully masked form is returned.
func MaskValue(value interface{}, level model.AccessLevel, mask StringMasker) interface{} {
	s, ok := model.StringValue(value)
	if !ok {
		if level == model.AccessFull || level == model.AccessPartial {
			return nil
		}
		return mask("", level)
	}
	return mask(s, level)
}

// Apply returns a copy of rec with every policy column that is present masked
// for the given tier. Columns not in the policy are untouched.
func (p Policy) Apply(rec *model.Record, level model.AccessLevel) *model.Record {
	out := rec.Clone()
	for _, r := range p {
		v, ok := out.Get(r.Column)
		if !ok {
			continue
		}
		out.Set(r.Column, MaskValue(v, level, r.Mask))
	}
	return out
}
