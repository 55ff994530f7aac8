// pkg/model/values.go
package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timeLayouts are tried in order when parsing timestamps out of strings
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"2006/01/02",
}

// ToString converts a value to its string form. NULL becomes "".
func ToString(v interface{}) string {
	if v == nil {
		return ""
	}

	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// StringValue converts a value to a string, reporting false for NULL
func StringValue(v interface{}) (string, bool) {
	if v == nil {
		return "", false
	}
	return ToString(v), true
}

// ToNullableString converts a value to a nullable string
func ToNullableString(v interface{}) *string {
	if v == nil {
		return nil
	}
	s := ToString(v)
	return &s
}

// ToFloat attempts to convert a value to float64
func ToFloat(v interface{}) (float64, error) {
	if v == nil {
		return 0, errors.New("nil value")
	}

	switch val := v.(type) {
	case int:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case float32:
		return float64(val), nil
	case float64:
		return val, nil
	case string:
		cleaned := strings.TrimSpace(val)
		if cleaned == "" {
			return 0, errors.New("empty string")
		}
		return strconv.ParseFloat(cleaned, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
}

// ToBool attempts to convert a value to bool
func ToBool(v interface{}) (bool, error) {
	if v == nil {
		return false, errors.New("nil value")
	}

	switch val := v.(type) {
	case bool:
		return val, nil
	case int64:
		return val != 0, nil
	case int:
		return val != 0, nil
	case string:
		switch strings.TrimSpace(strings.ToLower(val)) {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0":
			return false, nil
		default:
			return false, fmt.Errorf("cannot parse '%s' as boolean", val)
		}
	default:
		return false, fmt.Errorf("cannot convert %T to bool", v)
	}
}

// ToTime attempts to convert a value to time.Time
func ToTime(v interface{}) (time.Time, error) {
	if v == nil {
		return time.Time{}, errors.New("nil value")
	}

	switch val := v.(type) {
	case time.Time:
		return val, nil
	case *time.Time:
		if val == nil {
			return time.Time{}, errors.New("nil value")
		}
		return *val, nil
	case string:
		cleaned := strings.TrimSpace(val)
		if cleaned == "" {
			return time.Time{}, errors.New("empty string")
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, cleaned); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse time from '%s'", cleaned)
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
	}
}

// ValuesEqual compares two column values, tolerating representation differences
// such as int vs int64 or a timestamp vs its string form
func ValuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch av := a.(type) {
	case time.Time:
		bt, err := ToTime(b)
		return err == nil && av.Equal(bt)
	case int, int32, int64, float32, float64:
		af, _ := ToFloat(av)
		bf, err := ToFloat(b)
		return err == nil && af == bf
	case bool:
		bb, err := ToBool(b)
		return err == nil && av == bb
	}

	if bt, ok := b.(time.Time); ok {
		at, err := ToTime(a)
		return err == nil && at.Equal(bt)
	}

	return ToString(a) == ToString(b)
}
