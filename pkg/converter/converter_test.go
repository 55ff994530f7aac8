package converter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/David-Botos/data-cleansing/pkg/model"
)

func TestInferColumnType(t *testing.T) {
	c := NewTypeConverter(nil)

	tests := []struct {
		name    string
		column  string
		samples []string
		want    string
	}{
		{"integers", "credit_score", []string{"700", " 650", "", "-1"}, TypeBigint},
		{"decimals", "annual_income", []string{"85000.50", "120000"}, TypeDouble},
		{"booleans", "is_vip", []string{"true", "FALSE"}, TypeBoolean},
		{"dates", "dob", []string{"1990-01-01", "1985-12-31"}, TypeDate},
		{"timestamps", "signup_ts", []string{"2023-01-15 10:30:00", "2023-02-01T08:00:00Z"}, TypeTimestamp},
		{"mixed dates widen to text", "dob", []string{"1990-01-01", "next week"}, TypeText},
		{"leading zeros stay text", "branch", []string{"0123", "456"}, TypeText},
		{"identifier columns stay text", "customer_id", []string{"1001", "1002"}, TypeText},
		{"postal codes stay text", "postal_code", []string{"123456"}, TypeText},
		{"all empty", "notes", []string{"", "  "}, TypeText},
		{"free text", "full_name", []string{"Alice", "Bob"}, TypeText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.InferColumnType(tt.column, tt.samples))
		})
	}
}

func TestInferDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InferTypes = false
	c := NewTypeConverterWithConfig(nil, cfg)

	assert.Equal(t, TypeText, c.InferColumnType("credit_score", []string{"1", "2"}))
}

func TestInferMetadataAndConvert(t *testing.T) {
	c := NewTypeConverter(nil)
	header := []string{"customer_id", "credit_score", "signup_ts"}
	rows := [][]string{
		{"C1", "700", "2023-01-15 10:30:00"},
		{"C2", "", "2023-01-16 11:00:00"},
	}

	md := c.InferMetadata("dev", "customers_raw", header, rows)
	require.Len(t, md.Columns, 3)
	assert.Equal(t, []string{TypeText, TypeBigint, TypeTimestamp},
		[]string{md.Columns[0].DataType, md.Columns[1].DataType, md.Columns[2].DataType})

	v, err := c.ConvertCSVValue("700", TypeBigint)
	require.NoError(t, err)
	assert.Equal(t, int64(700), v)

	v, err = c.ConvertCSVValue("", TypeBigint)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = c.ConvertCSVValue("2023-01-15 10:30:00", TypeTimestamp)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 1, 15, 10, 30, 0, 0, time.UTC), v)

	v, err = c.ConvertCSVValue("abc", TypeBigint)
	assert.Error(t, err)
	assert.Equal(t, "abc", v)
}

func TestMapTypeAndDefinitions(t *testing.T) {
	c := NewTypeConverter(nil)

	pg, err := c.MapType(TypeDouble, DialectPostgres)
	require.NoError(t, err)
	assert.Equal(t, "DOUBLE PRECISION", pg)

	sf, err := c.MapType(TypeTimestamp, DialectSnowflake)
	require.NoError(t, err)
	assert.Equal(t, "TIMESTAMP_TZ", sf)

	fallback, err := c.MapType("GEOGRAPHY", DialectPostgres)
	assert.Error(t, err)
	assert.Equal(t, "TEXT", fallback)

	md := &model.TableMetadata{Columns: []model.Column{
		{Name: "Customer_ID", DataType: TypeText, IsPrimaryKey: true},
		{Name: "quality_score", DataType: TypeDouble, Nullable: true},
	}}
	defs, err := c.GenerateColumnDefinitions(md, DialectPostgres)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`"customer_id" TEXT NOT NULL`,
		`"quality_score" DOUBLE PRECISION NULL`,
	}, defs)
}

func TestMetadataFromRecords(t *testing.T) {
	records := []*model.Record{
		model.RecordFromPairs("customer_id", "C1", "score", int64(5), "seen", nil),
		model.RecordFromPairs("customer_id", "C2", "score", 5.5, "seen", time.Now(), "extra", true),
	}

	md := MetadataFromRecords("dev", "customers_gold", records, []string{"customer_id"})
	require.Equal(t, []string{"customer_id", "score", "seen", "extra"}, md.ColumnNames())
	assert.True(t, md.Columns[0].IsPrimaryKey)
	assert.Equal(t, TypeDouble, md.Columns[1].DataType)
	assert.Equal(t, TypeTimestamp, md.Columns[2].DataType)
	assert.Equal(t, TypeBoolean, md.Columns[3].DataType)
}

func TestConvertValue(t *testing.T) {
	c := NewTypeConverter(nil)

	v, err := c.ConvertValue("42", "BIGINT", "n")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = c.ConvertValue("None", "TEXT", "email")
	require.NoError(t, err)
	assert.Equal(t, "None", v)

	v, err = c.ConvertValue(int64(0), "BOOLEAN", "flag")
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = c.ConvertValue(map[string]interface{}{"a": 1}, "JSONB", "doc")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, v)

	v, err = c.ConvertValue(nil, "TIMESTAMP WITH TIME ZONE", "ts")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestLogicalTypeOf(t *testing.T) {
	cases := map[string]string{
		"NUMBER(38,0)":             TypeBigint,
		"numeric(10,2)":            TypeDouble,
		"DOUBLE PRECISION":         TypeDouble,
		"TIMESTAMP_TZ":             TypeTimestamp,
		"TIMESTAMP WITH TIME ZONE": TypeTimestamp,
		"VARCHAR":                  TypeText,
		"variant":                  typeJSON,
		"geography":                TypeText,
	}
	for sqlType, want := range cases {
		assert.Equal(t, want, logicalTypeOf(sqlType), sqlType)
	}
}

func TestConvertValueRejectsFractionalIntegers(t *testing.T) {
	c := NewTypeConverter(nil)

	v, err := c.ConvertValue("42.0", "BIGINT", "age")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	_, err = c.ConvertValue("42.5", "BIGINT", "age")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "age")
}

func TestConvertValueParsesTimestamps(t *testing.T) {
	c := NewTypeConverter(nil)

	v, err := c.ConvertValue("Mon, 02 Jan 2006 15:04:05 MST", "TIMESTAMP_TZ", "ts")
	require.NoError(t, err)
	assert.Equal(t, 2006, v.(time.Time).Year())

	_, err = c.ConvertValue("yesterday", "DATE", "d")
	assert.Error(t, err)
}
