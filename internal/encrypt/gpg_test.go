package encrypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const colonsListing = `tru::1:1700000000:0:3:1:5
pub:u:4096:1:AABBCCDDEEFF0011:1600000000:::u:::scESC::::::23::0:
fpr:::::::::1234567890ABCDEF1234567890ABCDEFAABBCCDD:
uid:u::::1600000000::deadbeef::Backup Key <backup@example.com>::::::::::0:
sub:u:4096:1:1122334455667788:1600000000::::::e::::::23:
fpr:::::::::FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF11223344:
pub:u:4096:1:0102030405060708:1600000001:::u:::scESC::::::23::0:
fpr:::::::::ABCDABCDABCDABCDABCDABCDABCDABCD01020304:
`

func TestParseFingerprints_PrimaryKeysOnly(t *testing.T) {
	fprs := parseFingerprints([]byte(colonsListing))

	// Subkey fingerprints must not be returned.
	assert.Equal(t, []string{
		"1234567890ABCDEF1234567890ABCDEFAABBCCDD",
		"ABCDABCDABCDABCDABCDABCDABCDABCD01020304",
	}, fprs)
}

func TestParseFingerprints_Empty(t *testing.T) {
	assert.Empty(t, parseFingerprints([]byte("")))
	assert.Empty(t, parseFingerprints([]byte("tru::1:1700000000:0:3:1:5\n")))
}

func TestMatchesKeyID(t *testing.T) {
	fpr := "1234567890ABCDEF1234567890ABCDEFAABBCCDD"

	cases := []struct {
		keyID string
		want  bool
	}{
		{fpr, true},
		{"aabbccdd", true},                 // short id, case-insensitive
		{"0xAABBCCDD", true},               // 0x prefix stripped
		{"1234567890ABCDEFAABBCCDD", true}, // long suffix
		{"11223344", false},
		{"", false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, matchesKeyID(fpr, tc.keyID), "keyID=%q", tc.keyID)
	}
}

func TestIntersect_PreservesSuppliedOrder(t *testing.T) {
	supplied := []string{"CCC", "AAA", "BBB"}
	present := map[string]bool{"AAA": true, "CCC": true}

	assert.Equal(t, []string{"CCC", "AAA"}, intersect(supplied, present))
}
