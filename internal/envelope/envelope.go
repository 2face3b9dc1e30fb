// Package envelope implements the torrent-metadata envelope: an MD5
// digest prefixed onto a torrent file whose binary "pieces" field has been
// base64-wrapped so the whole payload survives datagram transit as
// printable ASCII.
//
// Grounded on original_source/NAT-traversal/torrentformat.py
// (encodetorrent/decodetorrent/appendmd5/removemd5); the
// pieces-field byte scan reuses the technique in internal/torrentfile.
package envelope

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/fruit-testbed/p2p-update/internal/torrentfile"
)

const md5HexLen = 32

const privateSentinel = ":private"

// Encode builds the envelope for a torrent file's raw bytes: the MD5 of
// torrentData (pre-wrapping) followed by torrentData with its pieces field
// base64-encoded in place. The decimal length prefixing the pieces field
// is left untouched — receivers locate the end of the wrapped section by
// searching for privateSentinel, not by trusting the now-stale length.
// torrentfile.PiecesRange wraps one byte past the declared pieces length,
// swallowing the single-digit bencode length prefix of the following
// "private" key, so the wrapped region ends exactly where privateSentinel
// begins with nothing left over in between.
func Encode(torrentData []byte) (string, error) {
	if _, err := torrentfile.Decode(torrentData); err != nil {
		return "", fmt.Errorf("envelope: refusing to encode malformed torrent: %w", err)
	}

	sum := md5.Sum(torrentData)
	hash := hex.EncodeToString(sum[:])

	start, end, err := torrentfile.PiecesRange(torrentData)
	if err != nil {
		return "", fmt.Errorf("envelope: locate pieces field: %w", err)
	}

	var body bytes.Buffer
	body.Write(torrentData[:start])
	body.WriteString(base64.StdEncoding.EncodeToString(torrentData[start:end]))
	body.Write(torrentData[end:])

	return hash + body.String(), nil
}

// Decode splits an envelope back into its MD5 hash and the reconstructed
// torrent bytes, base64-decoding the pieces field back to binary. It does
// not itself verify the hash — callers compare it against
// MD5(reconstructed bytes) themselves.
func Decode(env string) (hash string, torrentData []byte, err error) {
	if len(env) < md5HexLen {
		return "", nil, fmt.Errorf("envelope: too short to contain an md5 prefix (%d bytes)", len(env))
	}
	hash = env[:md5HexLen]
	if _, decErr := hex.DecodeString(hash); decErr != nil {
		return "", nil, fmt.Errorf("envelope: malformed md5 prefix %q: %w", hash, decErr)
	}

	body := env[md5HexLen:]
	bodyBytes := []byte(body)

	start, err := wrappedPiecesStart(bodyBytes)
	if err != nil {
		return "", nil, fmt.Errorf("envelope: %w", err)
	}
	privateIdx := bytes.Index(bodyBytes, []byte(privateSentinel))
	if privateIdx < 0 || privateIdx < start {
		return "", nil, fmt.Errorf("envelope: no %q sentinel found after pieces field", privateSentinel)
	}

	decoded, decErr := base64.StdEncoding.DecodeString(body[start:privateIdx])
	if decErr != nil {
		return "", nil, fmt.Errorf("envelope: pieces field is not valid base64: %w", decErr)
	}

	var out bytes.Buffer
	out.Write(bodyBytes[:start])
	out.Write(decoded)
	out.Write(bodyBytes[privateIdx:])

	reconstructed := out.Bytes()
	if _, decodeErr := torrentfile.Decode(reconstructed); decodeErr != nil {
		return "", nil, fmt.Errorf("envelope: reconstructed torrent is malformed: %w", decodeErr)
	}

	return hash, reconstructed, nil
}

// wrappedPiecesStart finds "pieces", skips the (now stale) decimal length
// and the ':' separator, and returns the offset of the first byte of the
// base64-wrapped section.
func wrappedPiecesStart(data []byte) (int, error) {
	idx := bytes.Index(data, []byte("pieces"))
	if idx < 0 {
		return 0, fmt.Errorf("no %q field found", "pieces")
	}
	i := idx + len("pieces")
	digitsStart := i
	for i < len(data) && data[i] >= '0' && data[i] <= '9' {
		i++
	}
	if i == digitsStart {
		return 0, fmt.Errorf("%q not followed by a length", "pieces")
	}
	if i >= len(data) || data[i] != ':' {
		return 0, fmt.Errorf("expected ':' after pieces length at byte %d", i)
	}
	return i + 1, nil
}
