// pkg/model/record.go
package model

// Record is a single row flowing through the pipeline. Column order is preserved
// so that layers which only touch a few columns keep the rest of the row intact.
// A nil value represents SQL NULL.
type Record struct {
	columns []string
	values  map[string]interface{}
}

// NewRecord creates an empty record
func NewRecord() *Record {
	return &Record{
		values: make(map[string]interface{}),
	}
}

// RecordFromPairs builds a record from alternating column/value arguments.
// Panics on an odd argument count or a non-string column name.
func RecordFromPairs(pairs ...interface{}) *Record {
	if len(pairs)%2 != 0 {
		panic("model: RecordFromPairs requires column/value pairs")
	}
	r := NewRecord()
	for i := 0; i < len(pairs); i += 2 {
		col, ok := pairs[i].(string)
		if !ok {
			panic("model: RecordFromPairs column names must be strings")
		}
		r.Set(col, pairs[i+1])
	}
	return r
}

// Columns returns a copy of the column names in order
func (r *Record) Columns() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

// Len returns the number of columns
func (r *Record) Len() int {
	return len(r.columns)
}

// Has reports whether the column exists (its value may still be NULL)
func (r *Record) Has(column string) bool {
	_, ok := r.values[column]
	return ok
}

// Get returns the value of a column and whether the column exists
func (r *Record) Get(column string) (interface{}, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Value returns the value of a column, nil when absent
func (r *Record) Value(column string) interface{} {
	return r.values[column]
}

// IsNull reports whether the column is absent or holds NULL
func (r *Record) IsNull(column string) bool {
	return r.values[column] == nil
}

// Set assigns a value, appending the column if it does not exist yet
func (r *Record) Set(column string, value interface{}) {
	if _, ok := r.values[column]; !ok {
		r.columns = append(r.columns, column)
	}
	r.values[column] = value
}

// Rename changes a column name in place, keeping its position.
// Renaming onto an existing column replaces that column.
func (r *Record) Rename(from, to string) {
	if from == to {
		return
	}
	v, ok := r.values[from]
	if !ok {
		return
	}
	if _, exists := r.values[to]; exists {
		r.Delete(to)
	}
	for i, c := range r.columns {
		if c == from {
			r.columns[i] = to
			break
		}
	}
	delete(r.values, from)
	r.values[to] = v
}

// Delete removes a column
func (r *Record) Delete(column string) {
	if _, ok := r.values[column]; !ok {
		return
	}
	delete(r.values, column)
	for i, c := range r.columns {
		if c == column {
			r.columns = append(r.columns[:i], r.columns[i+1:]...)
			break
		}
	}
}

// Clone returns a shallow copy; values are immutable scalars so this is sufficient
func (r *Record) Clone() *Record {
	out := &Record{
		columns: make([]string, len(r.columns)),
		values:  make(map[string]interface{}, len(r.values)),
	}
	copy(out.columns, r.columns)
	for k, v := range r.values {
		out.values[k] = v
	}
	return out
}

// Map returns the values keyed by column name
func (r *Record) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Project returns the values for the given columns in order, nil for absent ones
func (r *Record) Project(columns []string) []interface{} {
	out := make([]interface{}, len(columns))
	for i, c := range columns {
		out[i] = r.values[c]
	}
	return out
}
