// pkg/converter/values.go
package converter

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const typeJSON = "JSON"

// logicalTypeOf folds a Postgres or Snowflake column type back onto the
// logical type it was generated from. Unknown types fold to TEXT.
func logicalTypeOf(sqlType string) string {
	t := strings.ToUpper(strings.TrimSpace(sqlType))
	switch {
	case t == "BOOLEAN":
		return TypeBoolean
	case t == "BIGINT", t == "INTEGER", t == "SMALLINT", t == "NUMBER(38,0)":
		return TypeBigint
	case t == "DOUBLE PRECISION", t == "FLOAT", t == "REAL", t == "DOUBLE",
		strings.HasPrefix(t, "NUMERIC"), strings.HasPrefix(t, "DECIMAL"), strings.HasPrefix(t, "NUMBER"):
		return TypeDouble
	case t == "DATE":
		return TypeDate
	case strings.HasPrefix(t, "TIMESTAMP"):
		return TypeTimestamp
	case t == "JSON", t == "JSONB", t == "VARIANT":
		return typeJSON
	default:
		return TypeText
	}
}

// ConvertValue converts a record value to a driver value for the given SQL
// column type. Both Postgres and Snowflake type names are understood.
func (c *TypeConverter) ConvertValue(value interface{}, targetType string, colName string) (interface{}, error) {
	if isNull(value) {
		return nil, nil
	}

	var (
		out interface{}
		err error
	)
	switch logicalTypeOf(targetType) {
	case TypeBoolean:
		out, err = toBool(value)
	case TypeBigint:
		out, err = toInt64(value)
	case TypeDouble:
		out, err = toFloat64(value)
	case TypeDate, TypeTimestamp:
		out, err = toTime(value)
	case typeJSON:
		out, err = toJSON(value)
	default:
		s := toText(value)
		if s == "" && c.config.EmptyStringAsNull {
			return nil, nil
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("column %s (%s): %w", colName, targetType, err)
	}
	return out, nil
}

// isNull reports values written to the database as NULL
func isNull(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		switch strings.ToLower(v) {
		case "", "null", "nil":
			return true
		}
	}
	return false
}

func toText(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(v)
	}
	if b, err := json.Marshal(value); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", value)
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not numeric", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to a number", value)
	}
}

// toInt64 accepts integral floats such as "42.0" and rejects fractions
func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case string:
		if n, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(v), "+"), 10, 64); err == nil {
			return n, nil
		}
	}
	f, err := toFloat64(value)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an integer", value)
	}
	return int64(f), nil
}

func toBool(value interface{}) (bool, error) {
	if s, ok := value.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "t", "yes", "y", "1", "on":
			return true, nil
		case "false", "f", "no", "n", "0", "off":
			return false, nil
		}
		return false, fmt.Errorf("%q is not a boolean", s)
	}
	if b, ok := value.(bool); ok {
		return b, nil
	}
	f, err := toFloat64(value)
	if err != nil {
		return false, err
	}
	return f != 0, nil
}

// toTime parses the layouts DetectTimeFormat knows plus RFC1123, and reads
// numbers as Unix seconds
func toTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case float64:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	case string:
		s := strings.TrimSpace(v)
		layouts := []string{time.RFC1123, time.RFC1123Z}
		if detected := DetectTimeFormat(s); detected != "" {
			layouts = append([]string{detected}, layouts...)
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as a timestamp", v)
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to a timestamp", value)
	}
}

// toJSON passes valid JSON text through and marshals everything else
func toJSON(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		if json.Valid([]byte(v)) {
			return v, nil
		}
	case []byte:
		if json.Valid(v) {
			return string(v), nil
		}
		value = string(v)
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return string(b), nil
}
