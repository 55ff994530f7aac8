// pkg/model/metadata.go
package model

// TableMetadata contains the structure information for a pipeline table
type TableMetadata struct {
	Schema      string   // Schema name
	Table       string   // Table name
	Columns     []Column // Column definitions
	PrimaryKeys []string // List of primary key column names
}

// Column represents metadata about a table column
type Column struct {
	Name         string // Column name
	DataType     string // Inferred or declared type (BIGINT, DOUBLE PRECISION, TEXT, ...)
	Nullable     bool   // Whether column allows NULL values
	IsPrimaryKey bool   // Whether column is part of primary key
}

// FullName returns schema.table, or just the table when no schema is set
func (tm *TableMetadata) FullName() string {
	if tm.Schema == "" {
		return tm.Table
	}
	return tm.Schema + "." + tm.Table
}

// ColumnNames returns the column names in order
func (tm *TableMetadata) ColumnNames() []string {
	names := make([]string, len(tm.Columns))
	for i, col := range tm.Columns {
		names[i] = col.Name
	}
	return names
}
