package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectorySerializeRoundTrip(t *testing.T) {
	d := Directory{
		"203.0.113.1": 55000,
		"203.0.113.2": 55010,
	}

	serialized := d.Serialize()
	parsed, err := ParseDirectory(serialized)
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestDirectorySerializeEmpty(t *testing.T) {
	d := Directory{}
	assert.Equal(t, "[]", d.Serialize())

	parsed, err := ParseDirectory("[]")
	require.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestParseDirectoryAcceptsWhitespace(t *testing.T) {
	parsed, err := ParseDirectory(`[ ["203.0.113.1", 55000] , ["203.0.113.2", 55010] ]`)
	require.NoError(t, err)
	assert.Equal(t, Directory{"203.0.113.1": 55000, "203.0.113.2": 55010}, parsed)
}

func TestParseDirectoryRejectsMalformed(t *testing.T) {
	cases := []string{
		``,
		`not a list`,
		`[("203.0.113.1", 55000)]`, // original's tuple-literal shape, not accepted
		`[["203.0.113.1", 55000]`,  // missing closing bracket
		`[["203.0.113.1", "55000"]]`,
		`[["203.0.113.1", 55000], ]`,
		`[["203.0.113.1", 99999999]]`,
		`[["203.0.113.1", 55000]] trailing`,
	}
	for _, c := range cases {
		_, err := ParseDirectory(c)
		assert.Error(t, err, "expected parse error for %q", c)
	}
}

func TestPairsThenSerializeParity(t *testing.T) {
	d := Directory{"10.0.0.1": 1}
	pairs := d.Pairs()
	require.Len(t, pairs, 1)
	assert.Equal(t, "10.0.0.1", pairs[0].Addr)
	assert.Equal(t, uint16(1), pairs[0].Port)
	assert.Equal(t, `[["10.0.0.1", 1]]`, d.Serialize())
}
