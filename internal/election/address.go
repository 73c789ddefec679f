package election

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

// IsAddress reports whether s is a syntactically valid chain address:
// "0x" followed by 40 hex digits. All-lower and all-upper digit strings are
// accepted as is; mixed case must carry a valid EIP-55 checksum.
func IsAddress(s string) bool {
	if len(s) != 42 || !(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return false
	}
	digits := s[2:]
	if _, err := hex.DecodeString(digits); err != nil {
		return false
	}
	lower := strings.ToLower(digits)
	if digits == lower || digits == strings.ToUpper(digits) {
		return true
	}
	return ChecksumAddress(s) == "0x"+digits
}

// ChecksumAddress returns the EIP-55 mixed-case form of a hex address.
// The input is assumed to be 0x-prefixed with 40 hex digits.
func ChecksumAddress(s string) string {
	lower := strings.ToLower(s[2:])
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	sum := hex.EncodeToString(h.Sum(nil))

	out := make([]byte, len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c >= 'a' && c <= 'f' && sum[i] >= '8' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return "0x" + string(out)
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
