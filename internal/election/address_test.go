package election

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAddress(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"checksummed", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"checksummed second", "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359", true},
		{"all lower", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", true},
		{"all upper", "0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED", true},
		{"bad checksum", "0x5aaeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false},
		{"too short", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1bea", false},
		{"no prefix", "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed00", false},
		{"non hex", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaeg", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsAddress(tc.in))
		})
	}
}

func TestChecksumAddress(t *testing.T) {
	assert.Equal(t,
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		ChecksumAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"),
	)
}

func TestParseOperationKind(t *testing.T) {
	for _, k := range AllOperations {
		got, ok := ParseOperationKind(k.String())
		assert.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := ParseOperationKind("mint")
	assert.False(t, ok)
}
