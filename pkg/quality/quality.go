// Package quality flags records that fail validation rules and scores them.
package quality

import (
	"math"
	"strings"

	"github.com/David-Botos/data-cleansing/pkg/model"
	"github.com/David-Botos/data-cleansing/pkg/validate"
)

// Default column names written onto scored records
const (
	FlagsColumn      = "data_quality_flags"
	ScoreColumn      = "quality_score"
	ValidationPrefix = "is_valid_"
	flagSeparator    = ", "
)

// Rule applies a validator to one column of a record
type Rule struct {
	Name   string
	Column string
	Check  validate.Validator
}

// Rules is an ordered rule set. Flags are reported in this order.
type Rules []Rule

// Names returns the rule names in order
func (rs Rules) Names() []string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.Name
	}
	return names
}

// Assessment is the outcome of evaluating a rule set against one record
type Assessment struct {
	Failed []string // Failed rule names in rule order
	Passed int
	Total  int
}

// Evaluate runs every rule against the record. A rule whose column is absent
// sees NULL and fails; callers that want presence gating filter rules first.
func Evaluate(rec *model.Record, rules Rules) Assessment {
	a := Assessment{Total: len(rules)}
	for _, rule := range rules {
		if rule.Check(rec.Value(rule.Column)) {
			a.Passed++
		} else {
			a.Failed = append(a.Failed, rule.Name)
		}
	}
	return a
}

// HasFlags reports whether any rule failed
func (a Assessment) HasFlags() bool {
	return len(a.Failed) > 0
}

// Flags renders the failed rule names as a comma separated string, or nil
// when nothing failed
func (a Assessment) Flags() interface{} {
	if len(a.Failed) == 0 {
		return nil
	}
	return strings.Join(a.Failed, flagSeparator)
}

// Score is 100 * passed/total rounded to 2 decimals, nil when there are no rules
func (a Assessment) Score() interface{} {
	if a.Total == 0 {
		return nil
	}
	return round2(float64(a.Passed) / float64(a.Total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FlagInvalidValues writes the flags column for the record
func FlagInvalidValues(rec *model.Record, rules Rules, column string) Assessment {
	a := Evaluate(rec, rules)
	rec.Set(column, a.Flags())
	return a
}

// AddQualityScore writes the score column for the record
func AddQualityScore(rec *model.Record, rules Rules, column string) Assessment {
	a := Evaluate(rec, rules)
	rec.Set(column, a.Score())
	return a
}

// Apply evaluates the rules once and writes both the flags and score columns
func Apply(rec *model.Record, rules Rules) Assessment {
	a := Evaluate(rec, rules)
	rec.Set(FlagsColumn, a.Flags())
	rec.Set(ScoreColumn, a.Score())
	return a
}

// AddValidationColumns writes one boolean column per rule named prefix+rule
func AddValidationColumns(rec *model.Record, rules Rules, prefix string) {
	for _, rule := range rules {
		rec.Set(prefix+rule.Name, rule.Check(rec.Value(rule.Column)))
	}
}
