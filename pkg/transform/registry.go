package transform

import "sort"

var registry = map[string]Func{
	"upper_trim":                        UpperTrim,
	"standardize_nric":                  StandardizeNRIC,
	"normalize_name":                    NormalizeName,
	"normalize_gender":                  NormalizeGender,
	"normalize_nationality_code":        NormalizeCountry,
	"normalize_currency_code":           NormalizeCurrency,
	"standardize_phone_number":          StandardizePhone,
	"extract_postal_code_from_address":  ExtractPostalCode,
	"standardize_singapore_postal_code": StandardizePostalCode,
	"fill_null_with_none_string":        FillNone,
}

// Lookup returns a transformation by its registered name
func Lookup(name string) (Func, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Names returns the registered transformation names, sorted
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
