package envelope

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Handoff names the three files C writes in a known directory to notify
// the Agent that a new torrent has arrived.
type Handoff struct {
	Dir string
}

const (
	hashFileName    = "md5hash.txt"
	torrentFileName = "receivedtorrent.torrent"
	eventsFileName  = "events.log"
)

// Write destructures an envelope and writes the three handoff files in the
// mandated order — hash, then torrent body, then events.log — so the
// event is never visible to the Agent before its payload.
//
// clock lets tests control the timestamp written to events.log; production
// callers pass time.Now.
func (h Handoff) Write(env string, clock func() time.Time) error {
	hash, torrentData, err := Decode(env)
	if err != nil {
		return fmt.Errorf("envelope: handoff: %w", err)
	}

	if err := os.WriteFile(filepath.Join(h.Dir, hashFileName), []byte(hash), 0o644); err != nil {
		return fmt.Errorf("envelope: handoff: writing %s: %w", hashFileName, err)
	}

	if err := os.WriteFile(filepath.Join(h.Dir, torrentFileName), torrentData, 0o644); err != nil {
		return fmt.Errorf("envelope: handoff: writing %s: %w", torrentFileName, err)
	}

	ts := clock().Unix()
	events := fmt.Sprintf("%d\ntorrent", ts)
	if err := os.WriteFile(filepath.Join(h.Dir, eventsFileName), []byte(events), 0o644); err != nil {
		return fmt.Errorf("envelope: handoff: writing %s: %w", eventsFileName, err)
	}

	return nil
}

// VerifyHash reports whether the md5hash.txt previously written matches
// MD5(receivedtorrent.torrent), a property that must hold for every
// handoff the Agent observes. It is provided for tests and for an
// Agent-equivalent consumer; normal Write callers don't need it since
// Write always derives the hash from the envelope's own prefix.
func (h Handoff) VerifyHash() (bool, error) {
	wantHex, err := os.ReadFile(filepath.Join(h.Dir, hashFileName))
	if err != nil {
		return false, fmt.Errorf("envelope: handoff: reading %s: %w", hashFileName, err)
	}
	data, err := os.ReadFile(filepath.Join(h.Dir, torrentFileName))
	if err != nil {
		return false, fmt.Errorf("envelope: handoff: reading %s: %w", torrentFileName, err)
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]) == string(wantHex), nil
}
