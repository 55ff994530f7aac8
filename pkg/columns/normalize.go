// Package columns standardizes column names across all ingestions.
package columns

import (
	"strings"

	"github.com/David-Botos/data-cleansing/pkg/model"
)

// NormalizeName trims, lowercases, replaces spaces with underscores and then
// collapses "__" into "_" in a single pass. Three or more consecutive spaces
// therefore still leave a run of underscores behind.
func NormalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, "__", "_")
}

// NormalizeNames normalizes a header row
func NormalizeNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = NormalizeName(n)
	}
	return out
}

// NormalizeRecord renames every column of the record in place
func NormalizeRecord(rec *model.Record) *model.Record {
	for _, col := range rec.Columns() {
		rec.Rename(col, NormalizeName(col))
	}
	return rec
}
