// pkg/converter/converter.go
package converter

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/model"
)

// Logical column types inferred from source data
const (
	TypeBoolean   = "BOOLEAN"
	TypeBigint    = "BIGINT"
	TypeDouble    = "DOUBLE"
	TypeDate      = "DATE"
	TypeTimestamp = "TIMESTAMP"
	TypeText      = "TEXT"
)

// Dialect selects the SQL type names used when generating DDL
type Dialect string

const (
	DialectPostgres  Dialect = "postgres"
	DialectSnowflake Dialect = "snowflake"
)

var postgresTypes = map[string]string{
	TypeBoolean:   "BOOLEAN",
	TypeBigint:    "BIGINT",
	TypeDouble:    "DOUBLE PRECISION",
	TypeDate:      "DATE",
	TypeTimestamp: "TIMESTAMP WITH TIME ZONE",
	TypeText:      "TEXT",
}

var snowflakeTypes = map[string]string{
	TypeBoolean:   "BOOLEAN",
	TypeBigint:    "NUMBER(38,0)",
	TypeDouble:    "FLOAT",
	TypeDate:      "DATE",
	TypeTimestamp: "TIMESTAMP_TZ",
	TypeText:      "VARCHAR",
}

// TypeConverter infers column types from raw values and maps them to SQL types
type TypeConverter struct {
	logger *zap.Logger
	// Configuration options
	config TypeConverterConfig
}

// TypeConverterConfig provides configuration options for type conversion
type TypeConverterConfig struct {
	// Whether to infer typed columns at all; when false every column is TEXT
	InferTypes bool
	// Whether to treat empty strings as NULL
	EmptyStringAsNull bool
	// Keep identifier-like columns (ids, phone numbers, postal codes) as TEXT
	// so leading zeros and '+' prefixes survive
	PreserveIdentifiers bool
	// Maximum number of non-empty values sampled per column, 0 for all
	SampleSize int
}

// DefaultConfig returns the default configuration
func DefaultConfig() TypeConverterConfig {
	return TypeConverterConfig{
		InferTypes:          true,
		EmptyStringAsNull:   true,
		PreserveIdentifiers: true,
		SampleSize:          0,
	}
}

// NewTypeConverter creates a new TypeConverter with default configuration
func NewTypeConverter(logger *zap.Logger) *TypeConverter {
	return NewTypeConverterWithConfig(logger, DefaultConfig())
}

// NewTypeConverterWithConfig creates a TypeConverter with custom configuration
func NewTypeConverterWithConfig(logger *zap.Logger, config TypeConverterConfig) *TypeConverter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TypeConverter{
		logger: logger,
		config: config,
	}
}

// Config returns the converter configuration
func (c *TypeConverter) Config() TypeConverterConfig {
	return c.config
}

// MapType converts a logical type to the dialect's SQL type
func (c *TypeConverter) MapType(logicalType string, dialect Dialect) (string, error) {
	types := postgresTypes
	if dialect == DialectSnowflake {
		types = snowflakeTypes
	}

	if sqlType, ok := types[strings.ToUpper(logicalType)]; ok {
		return sqlType, nil
	}

	c.logger.Warn("Unknown logical type encountered",
		zap.String("logicalType", logicalType),
		zap.String("dialect", string(dialect)))
	return types[TypeText], fmt.Errorf("unknown logical type: %s (mapped to TEXT as fallback)", logicalType)
}

// GenerateColumnDefinitions creates column definitions for CREATE TABLE
func (c *TypeConverter) GenerateColumnDefinitions(metadata *model.TableMetadata, dialect Dialect) ([]string, error) {
	definitions := make([]string, 0, len(metadata.Columns))

	for _, col := range metadata.Columns {
		sqlType, _ := c.MapType(col.DataType, dialect)

		nullability := "NULL"
		if col.IsPrimaryKey || !col.Nullable {
			nullability = "NOT NULL"
		}

		def := fmt.Sprintf("%s %s %s",
			QuoteIdentifier(col.Name),
			sqlType,
			nullability)

		definitions = append(definitions, def)
	}

	return definitions, nil
}

// QuoteIdentifier quotes and escapes a lowercase SQL identifier
func QuoteIdentifier(name string) string {
	return fmt.Sprintf("\"%s\"", strings.ToLower(strings.ReplaceAll(name, "\"", "\"\"")))
}
