// pkg/scd/version.go
package scd

import (
	"time"

	"github.com/David-Botos/data-cleansing/pkg/model"
)

// Validity interval columns added to rows read from a versioned table
const (
	StartColumn = "__START_AT"
	EndColumn   = "__END_AT"
)

// Version is one row of a versioned table, valid over [StartAt, EndAt)
type Version struct {
	Key           string
	Record        *model.Record
	StartAt       time.Time
	EndAt         *time.Time // nil while the version is current
	EndedByDelete bool       // Closed by a logical delete rather than a newer version
}

// IsCurrent reports whether the version is still open
func (v Version) IsCurrent() bool {
	return v.EndAt == nil
}

// ValidAt reports whether start <= t < end
func (v Version) ValidAt(t time.Time) bool {
	if t.Before(v.StartAt) {
		return false
	}
	return v.EndAt == nil || t.Before(*v.EndAt)
}

// Row returns the record with the validity interval appended as columns
func (v Version) Row() *model.Record {
	row := v.Record.Clone()
	row.Set(StartColumn, v.StartAt)
	if v.EndAt != nil {
		row.Set(EndColumn, *v.EndAt)
	} else {
		row.Set(EndColumn, nil)
	}
	return row
}

// closedAt returns a copy of the version closed at t
func (v Version) closedAt(t time.Time, byDelete bool) Version {
	end := t
	v.EndAt = &end
	v.EndedByDelete = byDelete
	return v
}
