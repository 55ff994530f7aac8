// pkg/model/cleaning.go
package model

import (
	"time"
)

// Cleaning operation kinds emitted by the silver builder
const (
	OperationTransformation   = "transformation"
	OperationUppercase        = "uppercase"
	OperationNullFill         = "null_fill"
	OperationPostalExtraction = "postal_extraction"
)

// CleaningOperation records a single value rewrite made while shaping a silver record
type CleaningOperation struct {
	SchemaName        string      // Target schema name
	TableName         string      // Target table name
	ColumnName        string      // Column that was rewritten
	OriginalValue     interface{} // Value before the rewrite (may be nil)
	NewValue          interface{} // Value after the rewrite (may be nil)
	RowIdentifier     string      // Business key of the row
	CleaningOperation string      // Kind of rewrite (e.g. "transformation")
	CleaningReason    string      // Rule that caused it (e.g. "standardize_phone_number")
	CleanedAt         time.Time   // When the rewrite happened (set by database)
}

// CleaningContext identifies where a rewrite happened
type CleaningContext struct {
	SchemaName    string
	TableName     string
	RowIdentifier string
}

// NewOperation builds an operation for a column rewrite within this context
func (c CleaningContext) NewOperation(column string, before, after interface{}, kind, reason string) CleaningOperation {
	return CleaningOperation{
		SchemaName:        c.SchemaName,
		TableName:         c.TableName,
		ColumnName:        column,
		OriginalValue:     before,
		NewValue:          after,
		RowIdentifier:     c.RowIdentifier,
		CleaningOperation: kind,
		CleaningReason:    reason,
	}
}
