// Package torrentfile decodes the subset of a .torrent file's bencoded
// structure the envelope codec needs, and locates the byte range of the
// info dictionary's "pieces" field without fully re-serializing the file
// (doing so would not reproduce the original byte-for-byte framing).
//
// The struct shape and the manual bencode scanner below are adapted from
// a BitTorrent client's .torrent parsing code; the BitTorrent wire-protocol
// pieces (handshake, tracker, piece download) are out of scope here and
// are not carried over.
package torrentfile

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/jackpal/bencode-go"
)

// File is the root dictionary of a .torrent file, trimmed to the fields
// the envelope codec and its diagnostics use.
type File struct {
	Announce string `bencode:"announce"`
	Comment  string `bencode:"comment"`
	Info     Info   `bencode:"info"`
}

// Info is the torrent's "info" dictionary.
type Info struct {
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Name        string `bencode:"name"`
	Length      int64  `bencode:"length"`
	Private     int    `bencode:"private"`
}

// Decode bencode-decodes raw torrent bytes into a File. It is used as a
// structural sanity check before/after the raw pieces-substitution the
// envelope codec performs: if the bytes don't decode as a well-formed
// torrent, the envelope is rejected rather than shipped.
func Decode(data []byte) (*File, error) {
	var f File
	if err := bencode.Unmarshal(bytes.NewReader(data), &f); err != nil {
		return nil, fmt.Errorf("torrentfile: decode: %v", err)
	}
	return &f, nil
}

// PiecesRange locates the byte range of the info dictionary's "pieces"
// field value within raw bencoded torrent bytes, returning the start and
// end offsets of the wrapped region: walk the literal "pieces" substring,
// read the decimal length that follows it, skip the ':' separator. The
// returned range runs one byte past the N declared pieces bytes, swallowing
// the single bencode length-prefix digit of the "private" key that
// immediately follows ("pieces<N>:<N bytes>7:private..." — "private" is
// always 7 characters, so that digit is always exactly one byte). Wrapping
// that digit along with the pieces bytes is what lets the decode side find
// an intact ":private" landmark immediately after the wrapped region
// instead of a stray digit in front of it.
func PiecesRange(data []byte) (start, end int, err error) {
	idx := bytes.Index(data, []byte("pieces"))
	if idx < 0 {
		return 0, 0, fmt.Errorf("torrentfile: no %q field found", "pieces")
	}

	i := idx + len("pieces")
	lenStart := i
	for i < len(data) && data[i] >= '0' && data[i] <= '9' {
		i++
	}
	if i == lenStart {
		return 0, 0, fmt.Errorf("torrentfile: %q not followed by a length", "pieces")
	}
	n, convErr := strconv.Atoi(string(data[lenStart:i]))
	if convErr != nil {
		return 0, 0, fmt.Errorf("torrentfile: invalid pieces length: %w", convErr)
	}
	if i >= len(data) || data[i] != ':' {
		return 0, 0, fmt.Errorf("torrentfile: expected ':' after pieces length at byte %d", i)
	}
	i++ // skip ':'

	start = i
	end = start + n + 1
	if end > len(data) {
		return 0, 0, fmt.Errorf("torrentfile: pieces field length %d overruns file", n)
	}
	return start, end, nil
}
