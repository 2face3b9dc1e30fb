package wire

import (
	"fmt"
	"strings"
)

// AddrMessage covers every wire message whose entire argument is a single
// peer address: TalkTo, RepeatTalkTo, RespondTo, ClientShutdown,
// TalkRequest, RepeatTalkRequest, TalkResponse, SessionStart and PeerLeave.
// KeepAlivePeer has its own KeepAlivePeerMessage type.
type AddrMessage struct {
	Tag  Tag
	Addr string
}

// Encode renders "<Tag> <Addr>".
func (m AddrMessage) Encode() string {
	return string(m.Tag) + " " + m.Addr
}

// ParseAddrMessage parses "<tag> <addr>" and checks the leading tag
// matches want. Anything else is MalformedMessage.
func ParseAddrMessage(raw string, want Tag) (AddrMessage, error) {
	fields := Fields(raw)
	if len(fields) < 2 || Tag(fields[0]) != want {
		return AddrMessage{}, fmt.Errorf("wire: %s: %w", raw, errMalformed)
	}
	return AddrMessage{Tag: want, Addr: fields[1]}, nil
}

var errMalformed = malformedError{}

type malformedError struct{}

func (malformedError) Error() string { return "malformed message" }

// IsMalformed reports whether err (or one it wraps) marks a MalformedMessage
// drop, letting handlers translate a parse failure into a tagged outcome.
func IsMalformed(err error) bool {
	return err != nil && strings.Contains(err.Error(), errMalformed.Error())
}

// GetInfoMessage is the client-to-server bootstrap request. Its payload is
// free text in the original ("My locally detected address is ...") and is
// never parsed by R; only the tag and the UDP source address/port matter.
type GetInfoMessage struct {
	Payload string
}

func (m GetInfoMessage) Encode() string {
	if m.Payload == "" {
		return string(TagGetInfo)
	}
	return string(TagGetInfo) + " " + m.Payload
}

// KeepAliveProxyMessage covers both the bare keepalive ping/pong and the
// peerupdate-carrying reply ("KeepAliveProxy peerupdate <dir>").
type KeepAliveProxyMessage struct {
	Directory *Directory // nil when this is a bare ping, non-nil for peerupdate
}

const keepAliveProxyPeerupdateSep = " peerupdate "

func (m KeepAliveProxyMessage) Encode() string {
	if m.Directory == nil {
		return string(TagKeepAliveProxy) + " ..."
	}
	return string(TagKeepAliveProxy) + keepAliveProxyPeerupdateSep + m.Directory.Serialize()
}

// ParseKeepAliveProxy parses either form. A bare ping with no "peerupdate"
// marker yields Directory == nil; malformed peerupdate payloads are
// reported as MalformedMessage rather than silently dropping the update.
func ParseKeepAliveProxy(raw string) (KeepAliveProxyMessage, error) {
	if ClassifyTag(raw) != TagKeepAliveProxy {
		return KeepAliveProxyMessage{}, fmt.Errorf("wire: %s: %w", raw, errMalformed)
	}
	idx := strings.Index(raw, keepAliveProxyPeerupdateSep)
	if idx < 0 {
		return KeepAliveProxyMessage{}, nil
	}
	dirLiteral := raw[idx+len(keepAliveProxyPeerupdateSep):]
	dir, err := ParseDirectory(dirLiteral)
	if err != nil {
		return KeepAliveProxyMessage{}, fmt.Errorf("wire: keepalive peerupdate: %w", err)
	}
	return KeepAliveProxyMessage{Directory: &dir}, nil
}

// KeepAlivePeerMessage is "KeepAlivePeer <addr> ..." sent directly between
// session peers.
type KeepAlivePeerMessage struct {
	Addr string
}

func (m KeepAlivePeerMessage) Encode() string {
	return string(TagKeepAlivePeer) + " " + m.Addr + " ..."
}

func ParseKeepAlivePeer(raw string) (KeepAlivePeerMessage, error) {
	fields := Fields(raw)
	if len(fields) < 2 || Tag(fields[0]) != TagKeepAlivePeer {
		return KeepAlivePeerMessage{}, fmt.Errorf("wire: %s: %w", raw, errMalformed)
	}
	return KeepAlivePeerMessage{Addr: fields[1]}, nil
}

// SharePeersMessage carries a snapshot of the sender's SessionPeers to a
// peer that just joined, so the new peer can attempt sessions with
// everyone already present ("SharePeers split <list>").
type SharePeersMessage struct {
	Peers Directory
}

const splitSep = " split "

func (m SharePeersMessage) Encode() string {
	return string(TagSharePeers) + splitSep + m.Peers.Serialize()
}

func ParseSharePeers(raw string) (SharePeersMessage, error) {
	if ClassifyTag(raw) != TagSharePeers {
		return SharePeersMessage{}, fmt.Errorf("wire: %s: %w", raw, errMalformed)
	}
	idx := strings.Index(raw, splitSep)
	if idx < 0 {
		return SharePeersMessage{}, fmt.Errorf("wire: sharepeers missing %q: %w", splitSep, errMalformed)
	}
	dir, err := ParseDirectory(raw[idx+len(splitSep):])
	if err != nil {
		return SharePeersMessage{}, fmt.Errorf("wire: sharepeers: %w", err)
	}
	return SharePeersMessage{Peers: dir}, nil
}

// SendTorrentFileMessage is "SendTorrentFile <origin-addr> split <envelope>".
type SendTorrentFileMessage struct {
	Origin   string
	Envelope string
}

func (m SendTorrentFileMessage) Encode() string {
	return string(TagSendTorrentFile) + " " + m.Origin + splitSep + m.Envelope
}

func ParseSendTorrentFile(raw string) (SendTorrentFileMessage, error) {
	fields := strings.SplitN(raw, " ", 2)
	if len(fields) != 2 || Tag(fields[0]) != TagSendTorrentFile {
		return SendTorrentFileMessage{}, fmt.Errorf("wire: %s: %w", raw, errMalformed)
	}
	rest := fields[1]
	idx := strings.Index(rest, splitSep)
	if idx < 0 {
		return SendTorrentFileMessage{}, fmt.Errorf("wire: sendtorrentfile missing %q: %w", splitSep, errMalformed)
	}
	return SendTorrentFileMessage{
		Origin:   rest[:idx],
		Envelope: rest[idx+len(splitSep):],
	}, nil
}

// Local control-channel commands (Agent -> C), spec §4.2.
const (
	LocalSendTorrent Tag = "SendTorrent"
	LocalEndSession  Tag = "EndSession"
	LocalTalkTo      Tag = "TalkTo"
	LocalExitScript  Tag = "ExitScript"
)

// LocalSendTorrentMessage is "SendTorrent <envelope>".
type LocalSendTorrentMessage struct {
	Envelope string
}

func (m LocalSendTorrentMessage) Encode() string {
	return string(LocalSendTorrent) + " " + m.Envelope
}

func ParseLocalSendTorrent(raw string) (LocalSendTorrentMessage, error) {
	fields := strings.SplitN(raw, " ", 2)
	if len(fields) != 2 || Tag(fields[0]) != LocalSendTorrent {
		return LocalSendTorrentMessage{}, fmt.Errorf("wire: %s: %w", raw, errMalformed)
	}
	return LocalSendTorrentMessage{Envelope: fields[1]}, nil
}
