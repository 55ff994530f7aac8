// pkg/converter/infer.go
package converter

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/model"
)

var (
	integerPattern = regexp.MustCompile(`^[-+]?[0-9]+$`)
	decimalPattern = regexp.MustCompile(`^[-+]?[0-9]*\.?[0-9]+([eE][-+]?[0-9]+)?$`)
	// A leading zero on a multi-digit number means it is a code, not a quantity
	leadingZeroPattern = regexp.MustCompile(`^[-+]?0[0-9]`)
)

// dateLayout is the only layout inferred as DATE; everything else with a time
// component is a TIMESTAMP
const dateLayout = "2006-01-02"

// timestampLayouts are tried in order when detecting timestamps
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",             // ISO8601 UTC
	"2006-01-02T15:04:05-07:00",        // ISO8601 with timezone
	"2006-01-02T15:04:05.999999Z",      // ISO8601 with microseconds
	"2006-01-02T15:04:05.999999-07:00", // ISO8601 with microseconds and TZ
	"2006-01-02T15:04:05",              // ISO8601 without zone
	"2006-01-02 15:04:05",              // SQL timestamp
	"2006-01-02 15:04:05.999999",       // SQL timestamp with fraction
	"20060102T150405Z",                 // Compact ISO8601
}

// DetectTimeFormat returns the layout that parses value, or "" if none does
func DetectTimeFormat(value string) string {
	if _, err := time.Parse(dateLayout, value); err == nil {
		return dateLayout
	}
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return layout
		}
	}
	return ""
}

// isIdentifierColumn matches columns whose values are codes even when numeric
func isIdentifierColumn(name string) bool {
	name = strings.ToLower(name)
	if name == "id" || strings.HasSuffix(name, "_id") {
		return true
	}
	for _, field := range []string{"phone", "postal", "zip", "nric", "ssn", "code"} {
		if strings.Contains(name, field) {
			return true
		}
	}
	return false
}

// InferColumnType picks the narrowest logical type every non-empty sample fits
func (c *TypeConverter) InferColumnType(name string, samples []string) string {
	if !c.config.InferTypes {
		return TypeText
	}
	if c.config.PreserveIdentifiers && isIdentifierColumn(name) {
		return TypeText
	}

	var values []string
	for _, s := range samples {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		values = append(values, s)
		if c.config.SampleSize > 0 && len(values) >= c.config.SampleSize {
			break
		}
	}
	if len(values) == 0 {
		return TypeText
	}

	candidates := []struct {
		logicalType string
		fits        func(string) bool
	}{
		{TypeBoolean, isBoolean},
		{TypeBigint, isInteger},
		{TypeDouble, isDecimal},
		{TypeDate, isDate},
		{TypeTimestamp, isTimestamp},
	}

	for _, cand := range candidates {
		if all(values, cand.fits) {
			return cand.logicalType
		}
	}
	return TypeText
}

// InferMetadata infers column types for a parsed CSV file
func (c *TypeConverter) InferMetadata(schema, table string, header []string, rows [][]string) *model.TableMetadata {
	metadata := &model.TableMetadata{
		Schema:  schema,
		Table:   table,
		Columns: make([]model.Column, len(header)),
	}

	for i, name := range header {
		samples := make([]string, 0, len(rows))
		for _, row := range rows {
			if i < len(row) {
				samples = append(samples, row[i])
			}
		}
		metadata.Columns[i] = model.Column{
			Name:     name,
			DataType: c.InferColumnType(name, samples),
			Nullable: true,
		}
	}

	c.logger.Debug("Inferred column types",
		zap.String("table", metadata.FullName()),
		zap.Int("columns", len(header)),
		zap.Int("rows", len(rows)))

	return metadata
}

// ConvertCSVValue parses a raw CSV field into the Go value for logicalType.
// When parsing fails the raw string is returned along with the error.
func (c *TypeConverter) ConvertCSVValue(raw, logicalType string) (interface{}, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" && c.config.EmptyStringAsNull {
		return nil, nil
	}

	switch logicalType {
	case TypeBoolean:
		b, err := strconv.ParseBool(strings.ToLower(trimmed))
		if err != nil {
			return raw, err
		}
		return b, nil
	case TypeBigint:
		n, err := strconv.ParseInt(strings.TrimPrefix(trimmed, "+"), 10, 64)
		if err != nil {
			return raw, err
		}
		return n, nil
	case TypeDouble:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return raw, err
		}
		return f, nil
	case TypeDate, TypeTimestamp:
		layout := DetectTimeFormat(trimmed)
		if layout == "" {
			return raw, &time.ParseError{Value: trimmed, Message: ": unrecognized timestamp format"}
		}
		t, err := time.Parse(layout, trimmed)
		if err != nil {
			return raw, err
		}
		return t, nil
	default:
		return raw, nil
	}
}

// MetadataFromRecords derives table metadata from typed records, using the
// union of their columns in first-seen order
func MetadataFromRecords(schema, table string, records []*model.Record, keys []string) *model.TableMetadata {
	metadata := &model.TableMetadata{
		Schema:      schema,
		Table:       table,
		PrimaryKeys: keys,
	}

	index := make(map[string]int)
	for _, rec := range records {
		for _, col := range rec.Columns() {
			logicalType := goValueType(rec.Value(col))
			if i, ok := index[col]; ok {
				existing := &metadata.Columns[i]
				if logicalType != "" && existing.DataType != logicalType {
					if existing.DataType == "" {
						existing.DataType = logicalType
					} else {
						existing.DataType = widen(existing.DataType, logicalType)
					}
				}
				continue
			}
			index[col] = len(metadata.Columns)
			metadata.Columns = append(metadata.Columns, model.Column{
				Name:         col,
				DataType:     logicalType,
				Nullable:     !contains(keys, col),
				IsPrimaryKey: contains(keys, col),
			})
		}
	}

	for i := range metadata.Columns {
		if metadata.Columns[i].DataType == "" {
			metadata.Columns[i].DataType = TypeText
		}
	}
	return metadata
}

// goValueType maps a Go value to a logical type, "" for NULL
func goValueType(v interface{}) string {
	switch v.(type) {
	case nil:
		return ""
	case bool:
		return TypeBoolean
	case int, int32, int64:
		return TypeBigint
	case float32, float64:
		return TypeDouble
	case time.Time:
		return TypeTimestamp
	default:
		return TypeText
	}
}

// widen returns a type that can hold values of both a and b
func widen(a, b string) string {
	if (a == TypeBigint && b == TypeDouble) || (a == TypeDouble && b == TypeBigint) {
		return TypeDouble
	}
	if (a == TypeDate && b == TypeTimestamp) || (a == TypeTimestamp && b == TypeDate) {
		return TypeTimestamp
	}
	return TypeText
}

func isBoolean(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false":
		return true
	}
	return false
}

func isInteger(s string) bool {
	if !integerPattern.MatchString(s) || leadingZeroPattern.MatchString(s) {
		return false
	}
	_, err := strconv.ParseInt(strings.TrimPrefix(s, "+"), 10, 64)
	return err == nil
}

func isDecimal(s string) bool {
	return decimalPattern.MatchString(s) && !leadingZeroPattern.MatchString(s)
}

func isDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

func isTimestamp(s string) bool {
	return DetectTimeFormat(s) != ""
}

func all(values []string, fn func(string) bool) bool {
	for _, v := range values {
		if !fn(v) {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
