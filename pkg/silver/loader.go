// pkg/silver/loader.go
package silver

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/David-Botos/data-cleansing/pkg/transform"
	"github.com/David-Botos/data-cleansing/pkg/validate"
)

var (
	// ErrUnknownFunction is returned when a config names an unregistered transform or validator
	ErrUnknownFunction = errors.New("unknown function")
	// ErrInvalidConfig is returned for structurally invalid table configs
	ErrInvalidConfig = errors.New("invalid silver config")
)

// fileConfig is the on-disk shape of a table config
type fileConfig struct {
	Schema          string           `toml:"schema"`
	Table           string           `toml:"table"`
	Standard        string           `toml:"standard"`
	SourcePrefix    string           `toml:"source_prefix"`
	KeyColumn       string           `toml:"key_column"`
	ProcessedColumn *string          `toml:"processed_column"`
	QualityFlags    *bool            `toml:"quality_flags"`
	QualityScore    *bool            `toml:"quality_score"`
	Uppercase       []string         `toml:"uppercase"`
	FillNulls       []string         `toml:"fill_nulls"`
	PostalCode      *fileStep        `toml:"postal_code"`
	Transformations []fileTransform  `toml:"transformations"`
	Validations     []fileValidation `toml:"validations"`
}

type fileStep struct {
	AddressColumn string `toml:"address_column"`
}

type fileTransform struct {
	Column   string `toml:"column"`
	Function string `toml:"function"`
}

type fileValidation struct {
	Name      string `toml:"name"`
	Column    string `toml:"column"`
	Validator string `toml:"validator"`
}

// LoadTableConfigFile reads a TOML table config from disk
func LoadTableConfigFile(path string) (*TableConfig, error) {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode silver config %s: %w", path, err)
	}
	return buildFromFile(fc, md)
}

// LoadTableConfig reads a TOML table config from r
func LoadTableConfig(r io.Reader) (*TableConfig, error) {
	var fc fileConfig
	md, err := toml.NewDecoder(r).Decode(&fc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode silver config: %w", err)
	}
	return buildFromFile(fc, md)
}

func buildFromFile(fc fileConfig, md toml.MetaData) (*TableConfig, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}
	if fc.Table == "" {
		return nil, fmt.Errorf("%w: table is required", ErrInvalidConfig)
	}

	var cfg *TableConfig
	switch fc.Standard {
	case "":
		cfg = NewTableConfig(fc.Schema, fc.Table)
	case "customer":
		cfg = StandardCustomerConfig(fc.Schema, fc.Table)
	default:
		return nil, fmt.Errorf("%w: unknown standard config %q", ErrInvalidConfig, fc.Standard)
	}

	if fc.SourcePrefix != "" {
		cfg.WithSourcePrefix(fc.SourcePrefix)
	}
	if fc.KeyColumn != "" {
		cfg.WithKeyColumn(fc.KeyColumn)
	}
	if fc.ProcessedColumn != nil {
		cfg.ProcessedColumn = *fc.ProcessedColumn
	}
	if fc.QualityFlags != nil {
		cfg.AddQualityFlags = *fc.QualityFlags
	}
	if fc.QualityScore != nil {
		cfg.AddQualityScore = *fc.QualityScore
	}

	for _, t := range fc.Transformations {
		if t.Column == "" {
			return nil, fmt.Errorf("%w: transformation without column", ErrInvalidConfig)
		}
		fn, ok := transform.Lookup(t.Function)
		if !ok {
			return nil, fmt.Errorf("%w: transformation %q for column %s", ErrUnknownFunction, t.Function, t.Column)
		}
		cfg.AddTransformation(t.Column, t.Function, fn)
	}

	for _, v := range fc.Validations {
		if v.Name == "" {
			return nil, fmt.Errorf("%w: validation without name", ErrInvalidConfig)
		}
		check, ok := validate.Lookup(v.Validator)
		if !ok {
			return nil, fmt.Errorf("%w: validator %q for rule %s", ErrUnknownFunction, v.Validator, v.Name)
		}
		column := v.Column
		if column == "" {
			column = v.Name
		}
		cfg.AddColumnValidation(v.Name, column, check)
	}

	cfg.ToUppercase(fc.Uppercase...)
	cfg.FillNulls(fc.FillNulls...)

	if fc.PostalCode != nil {
		address := fc.PostalCode.AddressColumn
		if address == "" {
			address = DefaultAddressColumn
		}
		cfg.WithPostalCodeExtraction(address)
	}

	return cfg, nil
}
