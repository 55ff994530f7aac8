package validate

import "sort"

var registry = map[string]Validator{
	"singapore_postal_code":   SingaporePostalCode,
	"singapore_nric":          SingaporeNRIC,
	"singapore_nric_checksum": SingaporeNRICWithChecksum,
	"nric_9char":              NRIC9Char,
	"email":                   Email,
	"gender":                  Gender,
	"nationality_code":        CountryCode,
	"currency_code":           CurrencyCode,
}

// Lookup returns a validator by its registered name
func Lookup(name string) (Validator, bool) {
	v, ok := registry[name]
	return v, ok
}

// Names returns the registered validator names, sorted
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
