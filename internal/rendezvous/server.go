// Package rendezvous implements the Rendezvous Server (R): a single-loop
// UDP dispatcher that maintains the authoritative PeerDirectory and relays
// TalkTo/TalkRequest/RespondTo/TalkResponse between peers.
//
// Grounded on original_source/NAT-traversal/stunserverlite.py's
// serverloop/addpeer/keepalive/talkto/respondto, generalized from its
// single flat peerlist slice to the typed wire.Directory, and from its
// "except: print" catch-alls to tagged DropReason outcomes.
package rendezvous

import (
	"fmt"
	"log"
	"net"

	"github.com/fruit-testbed/p2p-update/internal/wire"
)

// Server owns the PeerDirectory exclusively; every mutation happens on the
// goroutine running Serve.
type Server struct {
	conn *net.UDPConn
	dir  wire.Directory

	// OnDrop, when set, is called for every dropped/malformed datagram
	// with a tagged reason, so tests can assert on drop outcomes without
	// scraping log output.
	OnDrop func(reason wire.DropReason, detail string)
}

// NewServer binds a UDP socket at (host, port) and returns a Server ready
// for Serve. A bind failure is non-zero-exit.
func NewServer(host string, port int) (*Server, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: bind %s:%d: %v", host, port, err)
	}
	return &Server{
		conn: conn,
		dir:  make(wire.Directory),
	}, nil
}

// Directory returns a snapshot copy of the current PeerDirectory, safe for
// callers (tests, the agentctl CLI) to inspect without racing Serve.
func (s *Server) Directory() wire.Directory {
	return s.dir.Clone()
}

// Close releases the underlying socket.
func (s *Server) Close() error {
	return s.conn.Close()
}

const maxDatagram = 4096

// Serve runs the main dispatch loop: blocking recv, classify by tag,
// dispatch, repeat. It returns only on a fatal recv error.
func (s *Server) Serve() error {
	buf := make([]byte, maxDatagram)
	for {
		n, peer, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return fmt.Errorf("rendezvous: fatal recv error: %v", err)
		}
		s.dispatch(string(buf[:n]), peer)
	}
}

func (s *Server) dispatch(raw string, peer *net.UDPAddr) {
	tag := wire.ClassifyTag(raw)
	switch tag {
	case wire.TagGetInfo:
		s.handleGetInfo(raw, peer)
	case wire.TagKeepAliveProxy:
		s.handleKeepAliveProxy(peer)
	case wire.TagTalkTo:
		s.handleTalkTo(raw, peer, wire.TagTalkRequest)
	case wire.TagRepeatTalkTo:
		s.handleTalkTo(raw, peer, wire.TagRepeatTalkRequest)
	case wire.TagRespondTo:
		s.handleRespondTo(raw, peer)
	case wire.TagClientShutdown:
		s.handleClientShutdown(raw)
	case "":
		s.drop(wire.MalformedMessage, "empty datagram from "+peer.String())
	default:
		s.drop(wire.MalformedMessage, fmt.Sprintf("unknown tag %q from %s", tag, peer))
	}
}

func (s *Server) drop(reason wire.DropReason, detail string) {
	log.Printf("[RENDEZVOUS] [FAIL] dropping message: %s: %s", reason, detail)
	if s.OnDrop != nil {
		s.OnDrop(reason, detail)
	}
}

func (s *Server) send(raw string, to *net.UDPAddr) {
	if _, err := s.conn.WriteToUDP([]byte(raw), to); err != nil {
		s.drop(wire.IOError, fmt.Sprintf("send to %s: %v", to, err))
	}
}

// handleGetInfo replies with the acknowledgement/addr/port/directory
// sequence and the opening KeepAliveProxy, then inserts the sender into
// the directory. The directory sent to the caller omits the caller's
// own just-inserted entry, mirroring the original's `list[:-1]` slice
// (the sender already knows its own mapping).
func (s *Server) handleGetInfo(raw string, peer *net.UDPAddr) {
	log.Printf("[RENDEZVOUS] [INFO] GetInfo from %s: %q", peer, raw)

	before := s.dir.Serialize()

	s.send("Message received", peer)
	s.send(peer.IP.String(), peer)
	s.send(fmt.Sprintf("%d", peer.Port), peer)
	s.send(before, peer)
	s.send(wire.KeepAliveProxyMessage{}.Encode(), peer)

	s.dir[peer.IP.String()] = uint16(peer.Port)
}

func (s *Server) handleKeepAliveProxy(peer *net.UDPAddr) {
	snapshot := s.dir.Clone()
	msg := wire.KeepAliveProxyMessage{Directory: &snapshot}
	s.send(msg.Encode(), peer)
}

// handleTalkTo relays TalkTo/RepeatTalkTo as TalkRequest/RepeatTalkRequest
// to the named target, using the port R learned from the target's own
// prior GetInfo — never a port carried in the incoming message.
func (s *Server) handleTalkTo(raw string, sender *net.UDPAddr, emit wire.Tag) {
	msg, err := wire.ParseAddrMessage(raw, wire.ClassifyTag(raw))
	if err != nil {
		s.drop(wire.MalformedMessage, raw)
		return
	}
	port, ok := s.dir[msg.Addr]
	if !ok {
		s.drop(wire.UnknownPeer, fmt.Sprintf("talkto target %s not in directory", msg.Addr))
		return
	}
	target := &net.UDPAddr{IP: net.ParseIP(msg.Addr), Port: int(port)}
	out := wire.AddrMessage{Tag: emit, Addr: sender.IP.String()}
	s.send(out.Encode(), target)
}

func (s *Server) handleRespondTo(raw string, sender *net.UDPAddr) {
	msg, err := wire.ParseAddrMessage(raw, wire.TagRespondTo)
	if err != nil {
		s.drop(wire.MalformedMessage, raw)
		return
	}
	port, ok := s.dir[msg.Addr]
	if !ok {
		s.drop(wire.UnknownPeer, fmt.Sprintf("respondto target %s not in directory", msg.Addr))
		return
	}
	target := &net.UDPAddr{IP: net.ParseIP(msg.Addr), Port: int(port)}
	out := wire.AddrMessage{Tag: wire.TagTalkResponse, Addr: sender.IP.String()}
	s.send(out.Encode(), target)
}

func (s *Server) handleClientShutdown(raw string) {
	msg, err := wire.ParseAddrMessage(raw, wire.TagClientShutdown)
	if err != nil {
		s.drop(wire.MalformedMessage, raw)
		return
	}
	delete(s.dir, msg.Addr)
}
