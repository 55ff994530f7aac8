// pkg/scd/config.go
package scd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/David-Botos/data-cleansing/pkg/model"
)

var (
	// ErrMissingKey is returned when a change record has a NULL or absent key column
	ErrMissingKey = errors.New("missing key column")
	// ErrMissingSequence is returned when a change record has no usable sequence value
	ErrMissingSequence = errors.New("missing sequence value")
	// ErrInvalidConfig is returned by Config.Validate
	ErrInvalidConfig = errors.New("invalid scd config")
	// ErrVersionNotFound is returned when a close targets a version that is not current
	ErrVersionNotFound = errors.New("current version not found")
)

// keySeparator joins composite key values
const keySeparator = "\x1f"

// Predicate decides something about an incoming change record
type Predicate func(rec *model.Record) bool

// ColumnEquals is a delete predicate matching records whose column equals value
func ColumnEquals(column string, value interface{}) Predicate {
	return func(rec *model.Record) bool {
		v, ok := rec.Get(column)
		return ok && model.ValuesEqual(v, value)
	}
}

// Config describes how a change stream is merged into a versioned table
type Config struct {
	TargetName string
	SourceName string
	Keys       []string
	SequenceBy string
	// TrackColumns limits history to these columns; nil tracks every column
	TrackColumns []string
	// TrackExcept removes columns from history tracking
	TrackExcept []string
	// IgnoreNullUpdates keeps existing values when the incoming value is NULL
	IgnoreNullUpdates bool
	// DeletePredicate marks incoming records as logical deletes
	DeletePredicate Predicate
}

// CustomerMetadataColumns are pipeline columns excluded from customer history
var CustomerMetadataColumns = []string{
	"ingested_file",
	"ingestion_ts",
	"silver_processed_ts",
	"data_quality_flags",
	"quality_score",
	"is_valid_postal_code",
}

// NewConfig creates a config for table with the usual source/target naming
func NewConfig(table string, keys []string, sequenceBy string) Config {
	return Config{
		TargetName:        table + "_silver",
		SourceName:        table + "_silver_source",
		Keys:              keys,
		SequenceBy:        sequenceBy,
		IgnoreNullUpdates: true,
	}
}

// CustomerConfig tracks every customer column except pipeline metadata,
// unless trackAll is set
func CustomerConfig(table string, trackAll bool) Config {
	if table == "" {
		table = "customers"
	}
	c := NewConfig(table, []string{"customer_id"}, "silver_processed_ts")
	if !trackAll {
		c.TrackExcept = append([]string(nil), CustomerMetadataColumns...)
	}
	return c
}

// TransactionConfig optionally limits history to status changes
func TransactionConfig(table string, statusOnly bool) Config {
	if table == "" {
		table = "transactions"
	}
	c := NewConfig(table, []string{"transaction_id"}, "transaction_ts")
	if statusOnly {
		c.TrackColumns = []string{"status", "amount", "updated_at"}
	}
	return c
}

// ProductConfig optionally limits history to price and availability changes
func ProductConfig(table string, trackPrice bool) Config {
	if table == "" {
		table = "products"
	}
	c := NewConfig(table, []string{"product_id"}, "updated_at")
	if trackPrice {
		c.TrackColumns = []string{"price", "cost", "availability", "status"}
	}
	return c
}

// WithTrackColumns returns a copy tracking only the given columns
func (c Config) WithTrackColumns(columns ...string) Config {
	c.TrackColumns = columns
	return c
}

// WithTrackExcept returns a copy excluding the given columns from history
func (c Config) WithTrackExcept(columns ...string) Config {
	c.TrackExcept = columns
	return c
}

// WithIgnoreNullUpdates returns a copy with null update suppression toggled
func (c Config) WithIgnoreNullUpdates(ignore bool) Config {
	c.IgnoreNullUpdates = ignore
	return c
}

// WithDeletePredicate returns a copy treating matching records as deletes
func (c Config) WithDeletePredicate(p Predicate) Config {
	c.DeletePredicate = p
	return c
}

// Validate checks that the config can drive a merge
func (c Config) Validate() error {
	if len(c.Keys) == 0 {
		return fmt.Errorf("%w: at least one key column is required", ErrInvalidConfig)
	}
	if c.SequenceBy == "" {
		return fmt.Errorf("%w: sequence column is required", ErrInvalidConfig)
	}
	for _, k := range c.Keys {
		if k == c.SequenceBy {
			return fmt.Errorf("%w: sequence column %s is also a key", ErrInvalidConfig, k)
		}
	}
	return nil
}

// Tracked reports whether a change in column opens a new version.
// Key and sequence columns are never tracked.
func (c Config) Tracked(column string) bool {
	if column == c.SequenceBy || contains(c.Keys, column) {
		return false
	}
	if c.TrackColumns != nil && !contains(c.TrackColumns, column) {
		return false
	}
	return !contains(c.TrackExcept, column)
}

// KeyOf returns the merge key of a record
func (c Config) KeyOf(rec *model.Record) (string, error) {
	values := make([]interface{}, len(c.Keys))
	for i, k := range c.Keys {
		v := rec.Value(k)
		if v == nil {
			return "", fmt.Errorf("%w: %s", ErrMissingKey, k)
		}
		values[i] = v
	}
	return KeyFromValues(values...), nil
}

// SequenceOf returns the sequence value of a record
func (c Config) SequenceOf(rec *model.Record) (time.Time, error) {
	v := rec.Value(c.SequenceBy)
	if v == nil {
		return time.Time{}, fmt.Errorf("%w: %s is NULL", ErrMissingSequence, c.SequenceBy)
	}
	t, err := model.ToTime(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrMissingSequence, c.SequenceBy, err)
	}
	return t, nil
}

// KeyFromValues builds a merge key from key column values in key order
func KeyFromValues(values ...interface{}) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = model.ToString(v)
	}
	return strings.Join(parts, keySeparator)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
