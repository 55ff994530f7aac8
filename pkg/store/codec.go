// pkg/store/codec.go
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/David-Botos/data-cleansing/pkg/model"
)

// Value kinds kept alongside each stored value so records read back with the
// Go types they were written with
const (
	kindString = "string"
	kindInt    = "int"
	kindFloat  = "float"
	kindBool   = "bool"
	kindTime   = "time"
	kindJSON   = "json"
)

type storedValue struct {
	Kind  string          `json:"k,omitempty"`
	Value json.RawMessage `json:"v,omitempty"`
}

// encodeRecord splits a record into a JSON document of typed values and the
// column order
func encodeRecord(rec *model.Record) ([]byte, pq.StringArray, error) {
	doc := make(map[string]storedValue, rec.Len())
	for _, col := range rec.Columns() {
		sv, err := encodeValue(rec.Value(col))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode column %s: %w", col, err)
		}
		doc[col] = sv
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return data, pq.StringArray(rec.Columns()), nil
}

func encodeValue(v interface{}) (storedValue, error) {
	var kind string
	switch val := v.(type) {
	case nil:
		return storedValue{}, nil
	case string:
		kind = kindString
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		kind = kindInt
	case float32, float64:
		kind = kindFloat
	case bool:
		kind = kindBool
	case time.Time:
		kind = kindTime
		v = val.UTC().Format(time.RFC3339Nano)
	default:
		kind = kindJSON
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return storedValue{}, err
	}
	return storedValue{Kind: kind, Value: raw}, nil
}

// decodeRecord rebuilds a record from its stored document and column order
func decodeRecord(data []byte, order []string) (*model.Record, error) {
	var doc map[string]storedValue
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	rec := model.NewRecord()
	for _, col := range order {
		v, err := decodeValue(doc[col])
		if err != nil {
			return nil, fmt.Errorf("failed to decode column %s: %w", col, err)
		}
		rec.Set(col, v)
	}
	return rec, nil
}

func decodeValue(sv storedValue) (interface{}, error) {
	if sv.Kind == "" || len(sv.Value) == 0 {
		return nil, nil
	}

	switch sv.Kind {
	case kindString:
		var s string
		err := json.Unmarshal(sv.Value, &s)
		return s, err
	case kindInt:
		var n int64
		err := json.Unmarshal(sv.Value, &n)
		return n, err
	case kindFloat:
		var f float64
		err := json.Unmarshal(sv.Value, &f)
		return f, err
	case kindBool:
		var b bool
		err := json.Unmarshal(sv.Value, &b)
		return b, err
	case kindTime:
		var s string
		if err := json.Unmarshal(sv.Value, &s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	case kindJSON:
		var x interface{}
		err := json.Unmarshal(sv.Value, &x)
		return x, err
	default:
		return nil, fmt.Errorf("unknown value kind %q", sv.Kind)
	}
}
