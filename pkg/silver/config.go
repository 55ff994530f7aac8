// pkg/silver/config.go
package silver

import (
	"github.com/David-Botos/data-cleansing/pkg/quality"
	"github.com/David-Botos/data-cleansing/pkg/transform"
	"github.com/David-Botos/data-cleansing/pkg/validate"
)

// Default columns added by the silver pass
const (
	DefaultProcessedColumn = "silver_processed_ts"
	DefaultPostalColumn    = "postal_code"
	DefaultAddressColumn   = "address"
)

// Transformation binds a transform to the column it rewrites
type Transformation struct {
	Column string
	Name   string // Registered name, used as the cleaning reason
	Fn     transform.Func
}

// Validation binds a validator to a rule name and the column it checks
type Validation struct {
	Name   string
	Column string
	Check  validate.Validator
}

// PostalCodeStep extracts a postal code from a free-text address after scoring
type PostalCodeStep struct {
	AddressColumn string
	PostalColumn  string
	ValidColumn   string
}

// TableConfig declares how one table family is shaped from bronze to silver.
// Transformations and validations keep insertion order; re-adding a column or
// rule name replaces the earlier entry in place.
type TableConfig struct {
	Schema          string
	Table           string
	SourcePrefix    string // Prefix added to every column not already carrying it
	KeyColumn       string // Column used as the row identifier in cleaning operations
	ProcessedColumn string // Timestamp column stamped on every record, empty to skip
	AddQualityFlags bool
	AddQualityScore bool
	PostalCode      *PostalCodeStep

	transformations []Transformation
	validations     []Validation
	uppercase       []string
	fillNulls       []string
}

// NewTableConfig creates an empty configuration with quality flags and score enabled
func NewTableConfig(schema, table string) *TableConfig {
	return &TableConfig{
		Schema:          schema,
		Table:           table,
		ProcessedColumn: DefaultProcessedColumn,
		AddQualityFlags: true,
		AddQualityScore: true,
	}
}

// WithSourcePrefix sets the column prefix
func (c *TableConfig) WithSourcePrefix(prefix string) *TableConfig {
	c.SourcePrefix = prefix
	return c
}

// WithKeyColumn sets the row identifier column
func (c *TableConfig) WithKeyColumn(column string) *TableConfig {
	c.KeyColumn = column
	return c
}

// WithQualityColumns toggles the flags and score columns
func (c *TableConfig) WithQualityColumns(flags, score bool) *TableConfig {
	c.AddQualityFlags = flags
	c.AddQualityScore = score
	return c
}

// WithPostalCodeExtraction enables the postal code step reading from addressColumn
func (c *TableConfig) WithPostalCodeExtraction(addressColumn string) *TableConfig {
	c.PostalCode = &PostalCodeStep{
		AddressColumn: addressColumn,
		PostalColumn:  DefaultPostalColumn,
		ValidColumn:   quality.ValidationPrefix + DefaultPostalColumn,
	}
	return c
}

// AddTransformation registers fn for column under the given name
func (c *TableConfig) AddTransformation(column, name string, fn transform.Func) *TableConfig {
	t := Transformation{Column: column, Name: name, Fn: fn}
	for i := range c.transformations {
		if c.transformations[i].Column == column {
			c.transformations[i] = t
			return c
		}
	}
	c.transformations = append(c.transformations, t)
	return c
}

// AddValidation registers a rule checking the column of the same name
func (c *TableConfig) AddValidation(name string, check validate.Validator) *TableConfig {
	return c.AddColumnValidation(name, name, check)
}

// AddColumnValidation registers a rule checking a column under a different name
func (c *TableConfig) AddColumnValidation(name, column string, check validate.Validator) *TableConfig {
	v := Validation{Name: name, Column: column, Check: check}
	for i := range c.validations {
		if c.validations[i].Name == name {
			c.validations[i] = v
			return c
		}
	}
	c.validations = append(c.validations, v)
	return c
}

// ToUppercase marks columns to be trimmed and uppercased
func (c *TableConfig) ToUppercase(columns ...string) *TableConfig {
	c.uppercase = append(c.uppercase, columns...)
	return c
}

// FillNulls marks columns whose NULLs become the "None" sentinel
func (c *TableConfig) FillNulls(columns ...string) *TableConfig {
	c.fillNulls = append(c.fillNulls, columns...)
	return c
}

// Transformations returns the configured transformations in order
func (c *TableConfig) Transformations() []Transformation {
	return append([]Transformation(nil), c.transformations...)
}

// Validations returns the configured validations in order
func (c *TableConfig) Validations() []Validation {
	return append([]Validation(nil), c.validations...)
}

// UppercaseColumns returns the uppercase column list
func (c *TableConfig) UppercaseColumns() []string {
	return append([]string(nil), c.uppercase...)
}

// NullFillColumns returns the null-fill column list
func (c *TableConfig) NullFillColumns() []string {
	return append([]string(nil), c.fillNulls...)
}

// Rules returns every configured validation as a quality rule set
func (c *TableConfig) Rules() quality.Rules {
	rules := make(quality.Rules, 0, len(c.validations))
	for _, v := range c.validations {
		rules = append(rules, quality.Rule{Name: v.Name, Column: v.Column, Check: v.Check})
	}
	return rules
}

// StandardCustomerConfig returns the configuration shared by customer tables
func StandardCustomerConfig(schema, table string) *TableConfig {
	return NewTableConfig(schema, table).
		WithKeyColumn("customer_id").
		AddTransformation("nric", "standardize_nric", transform.StandardizeNRIC).
		AddTransformation("gender", "normalize_gender", transform.NormalizeGender).
		AddTransformation("country", "normalize_nationality_code", transform.NormalizeCountry).
		AddTransformation("phone", "standardize_phone_number", transform.StandardizePhone).
		AddValidation("nric", validate.SingaporeNRIC).
		AddValidation("email", validate.Email).
		AddValidation("gender", validate.Gender).
		AddValidation("country", validate.CountryCode).
		ToUppercase("full_name", "nric", "gender", "country").
		FillNulls("email", "phone", "address").
		WithPostalCodeExtraction(DefaultAddressColumn)
}
