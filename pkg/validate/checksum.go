package validate

import "strings"

var nricWeights = [7]int{2, 7, 6, 5, 4, 3, 2}

// Checksum letter tables indexed by 10 - (weighted sum mod 11)
var (
	checksumST = []byte("JZIHGFEDCBA")
	checksumFG = []byte("XWUTRQPNMLK")
	checksumM  = []byte("KLJNPQRTUWX")
)

// NRICChecksum computes the reference checksum letter for a 9 character
// NRIC/FIN: weighted digit sum, +4 for T, G and M, then the prefix table at
// 10 - sum mod 11. It returns false when the input is not 9 characters, has a
// non-digit body or an unknown prefix.
//
// The reference reads its reversed tables with a reversed index, so its
// letters do not agree with the government-issued ones. Only
// SingaporeNRICWithChecksum uses it; the default NRIC validator is
// format-only.
func NRICChecksum(nric string) (byte, bool) {
	if len(nric) != 9 {
		return 0, false
	}
	prefix := strings.ToUpper(nric[:1])[0]

	var table []byte
	switch prefix {
	case 'S', 'T':
		table = checksumST
	case 'F', 'G':
		table = checksumFG
	case 'M':
		table = checksumM
	default:
		return 0, false
	}

	total := 0
	for i, w := range nricWeights {
		c := nric[i+1]
		if c < '0' || c > '9' {
			return 0, false
		}
		total += int(c-'0') * w
	}
	if prefix == 'T' || prefix == 'G' || prefix == 'M' {
		total += 4
	}
	return table[10-total%11], true
}
