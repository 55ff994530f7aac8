package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/converter"
	"github.com/David-Botos/data-cleansing/pkg/model"
)

func TestRecordCodecPreservesTypesAndOrder(t *testing.T) {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 789, time.UTC)
	rec := model.RecordFromPairs(
		"customer_id", "C001",
		"credit_score", int64(720),
		"annual_income", 85000.5,
		"is_valid_postal_code", true,
		"signup_ts", ts,
		"segment", nil,
	)

	doc, order, err := encodeRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, []string(order), rec.Columns())

	decoded, err := decodeRecord(doc, order)
	require.NoError(t, err)

	assert.Equal(t, rec.Columns(), decoded.Columns())
	assert.Equal(t, "C001", decoded.Value("customer_id"))
	assert.Equal(t, int64(720), decoded.Value("credit_score"))
	assert.Equal(t, 85000.5, decoded.Value("annual_income"))
	assert.Equal(t, true, decoded.Value("is_valid_postal_code"))
	assert.True(t, ts.Equal(decoded.Value("signup_ts").(time.Time)))
	assert.True(t, decoded.Has("segment"))
	assert.Nil(t, decoded.Value("segment"))
}

func TestDecodeRecordRejectsUnknownKind(t *testing.T) {
	_, err := decodeRecord([]byte(`{"a":{"k":"blob","v":"x"}}`), []string{"a"})
	assert.Error(t, err)
}

func TestQualified(t *testing.T) {
	assert.Equal(t, `"dev"."customers_silver"`, qualified("dev", "customers_silver"))
	assert.Equal(t, `"access_grants"`, qualified("", "access_grants"))
}

// fakeConnector records the statements a sink issues and remembers the
// column types of the tables it created
type fakeConnector struct {
	execs      []string
	created    map[string][]string
	inserted   map[string][][]interface{}
	columns    map[string][]string
	tables     map[string]map[string]string
	added      map[string][]string
	replaced   map[string]int
	execErr    error
	replaceErr error
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		created:  make(map[string][]string),
		inserted: make(map[string][][]interface{}),
		columns:  make(map[string][]string),
		tables:   make(map[string]map[string]string),
		added:    make(map[string][]string),
		replaced: make(map[string]int),
	}
}

func (f *fakeConnector) DB() *sql.DB { return nil }
func (f *fakeConnector) Dialect() converter.Dialect { return converter.DialectPostgres }
func (f *fakeConnector) Validate(ctx context.Context) error { return nil }
func (f *fakeConnector) Close() error { return nil }

func (f *fakeConnector) ExecWithTimeout(_ context.Context, query string, _ time.Duration, _ ...interface{}) (sql.Result, error) {
	f.execs = append(f.execs, query)
	return nil, f.execErr
}

func (f *fakeConnector) EnsureSchema(_ context.Context, schema string) error {
	f.execs = append(f.execs, "schema "+schema)
	return nil
}

// defColumn splits `"name" TYPE NULL` into name and type
func defColumn(def string) (string, string) {
	name, rest, _ := strings.Cut(def, " ")
	rest = strings.TrimSuffix(strings.TrimSuffix(rest, " NOT NULL"), " NULL")
	return strings.Trim(name, `"`), rest
}

func (f *fakeConnector) CreateTableIfNotExists(_ context.Context, schema, table string, defs []string, primaryKey string) error {
	f.created[table] = append(append([]string(nil), defs...), "pk:"+primaryKey)
	f.tables[table] = make(map[string]string)
	for _, def := range defs {
		name, sqlType := defColumn(def)
		f.tables[table][name] = sqlType
	}
	return nil
}

func (f *fakeConnector) BatchInsert(_ context.Context, schema, table string, columns []string, rows [][]interface{}, _ int) (int64, error) {
	f.columns[table] = columns
	f.inserted[table] = append(f.inserted[table], rows...)
	return int64(len(rows)), nil
}

func (f *fakeConnector) ReplaceRows(_ context.Context, schema, table string, columns []string, rows [][]interface{}, _ int) (int64, error) {
	if f.replaceErr != nil {
		return 0, f.replaceErr
	}
	f.replaced[table]++
	f.columns[table] = columns
	f.inserted[table] = append([][]interface{}(nil), rows...)
	return int64(len(rows)), nil
}

func (f *fakeConnector) TableColumns(_ context.Context, schema, table string) (map[string]string, error) {
	out := make(map[string]string)
	for name, sqlType := range f.tables[table] {
		out[name] = sqlType
	}
	return out, nil
}

func (f *fakeConnector) AddColumns(_ context.Context, schema, table string, defs []string) error {
	f.added[table] = append(f.added[table], defs...)
	for _, def := range defs {
		name, sqlType := defColumn(def)
		f.tables[table][name] = sqlType
	}
	return nil
}

func TestTableSinkAppend(t *testing.T) {
	conn := newFakeConnector()
	sink := NewTableSink(conn, nil, "dev", 100, zap.NewNop())

	records := []*model.Record{
		model.RecordFromPairs("customer_id", "C1", "credit_score", int64(700), "email", ""),
		model.RecordFromPairs("customer_id", "C2", "credit_score", nil, "email", "b@x.com"),
	}

	n, err := sink.Append(context.Background(), "customers_raw", records, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.Equal(t, []string{"customer_id", "credit_score", "email"}, conn.columns["customers_raw"])
	assert.Equal(t, []interface{}{"C1", int64(700), nil}, conn.inserted["customers_raw"][0])
	assert.Equal(t, []interface{}{"C2", nil, "b@x.com"}, conn.inserted["customers_raw"][1])
	assert.Contains(t, conn.created["customers_raw"], `"credit_score" BIGINT NULL`)
	assert.Contains(t, conn.execs, "schema dev")
}

func TestTableSinkAppendEvolvesSchema(t *testing.T) {
	conn := newFakeConnector()
	sink := NewTableSink(conn, nil, "dev", 100, nil)
	ctx := context.Background()

	first := []*model.Record{model.RecordFromPairs("customer_id", "C1", "credit_score", int64(700))}
	_, err := sink.Append(ctx, "customers_raw", first, nil)
	require.NoError(t, err)

	// A later file adds a column and carries text where the first file had numbers
	second := []*model.Record{model.RecordFromPairs("customer_id", "C2", "credit_score", "720", "segment", "gold")}
	n, err := sink.Append(ctx, "customers_raw", second, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, []string{`"segment" TEXT NULL`}, conn.added["customers_raw"])
	assert.Len(t, conn.created, 1)
	assert.Equal(t, []string{"customer_id", "credit_score", "segment"}, conn.columns["customers_raw"])
	assert.Equal(t, []interface{}{"C2", int64(720), "gold"}, conn.inserted["customers_raw"][1])
}

func TestTableSinkAppendRejectsUnconvertibleValue(t *testing.T) {
	conn := newFakeConnector()
	sink := NewTableSink(conn, nil, "dev", 100, nil)
	ctx := context.Background()

	_, err := sink.Append(ctx, "customers_raw", []*model.Record{model.RecordFromPairs("credit_score", int64(700))}, nil)
	require.NoError(t, err)

	_, err = sink.Append(ctx, "customers_raw", []*model.Record{model.RecordFromPairs("credit_score", "n/a")}, nil)
	assert.ErrorContains(t, err, "credit_score")
}

func TestTableSinkAppendEmpty(t *testing.T) {
	conn := newFakeConnector()
	n, err := NewTableSink(conn, nil, "dev", 0, nil).Append(context.Background(), "t", nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, conn.execs)
}

func TestTableSinkReplace(t *testing.T) {
	conn := newFakeConnector()
	sink := NewTableSink(conn, nil, "dev", 100, nil)

	records := []*model.Record{model.RecordFromPairs("customer_id", "C1", "email", "a***@x.com")}
	_, err := sink.Replace(context.Background(), "customers_gold", records, []string{"customer_id"})
	require.NoError(t, err)

	assert.Equal(t, 1, conn.replaced["customers_gold"])
	assert.Contains(t, conn.created["customers_gold"], `pk:"customer_id"`)
	assert.Contains(t, conn.created["customers_gold"], `"customer_id" TEXT NOT NULL`)
	assert.Len(t, conn.inserted["customers_gold"], 1)

	_, err = sink.Replace(context.Background(), "customers_gold", records, []string{"customer_id"})
	require.NoError(t, err)
	assert.Equal(t, 2, conn.replaced["customers_gold"])
	assert.Len(t, conn.inserted["customers_gold"], 1)
	assert.Len(t, conn.created, 1)
}

func TestTableSinkReplaceEmptyIgnoresMissingTable(t *testing.T) {
	conn := newFakeConnector()
	conn.execErr = errors.New("relation does not exist")

	n, err := NewTableSink(conn, nil, "dev", 100, nil).Replace(context.Background(), "customers_gold", nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTableSinkReplaceFailureKeepsRows(t *testing.T) {
	conn := newFakeConnector()
	sink := NewTableSink(conn, nil, "dev", 100, nil)
	ctx := context.Background()

	records := []*model.Record{model.RecordFromPairs("customer_id", "C1")}
	_, err := sink.Replace(ctx, "customers_gold", records, nil)
	require.NoError(t, err)

	conn.replaceErr = errors.New("permission denied")
	_, err = sink.Replace(ctx, "customers_gold", []*model.Record{model.RecordFromPairs("customer_id", "C2")}, nil)
	assert.ErrorContains(t, err, "permission denied")
	assert.Equal(t, []interface{}{"C1"}, conn.inserted["customers_gold"][0])
}
