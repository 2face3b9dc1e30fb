// Package peerclient implements the Peer Client (C): the per-node state
// machine that bootstraps against the Rendezvous Server, punches holes to
// other peers, and relays torrent-metadata envelopes within its session.
//
// Grounded on original_source/NAT-traversal/stunclientlite.py's
// getnatinfo/keepaliveproxy/keepalivepeer/sendresponse/sessionstart/
// addsessionpeer/removesessionpeer/endsession/talkto/talktorepeat/
// sendTorrentFile/processtorrent/sharepeers, generalized from its four
// bare module-level dicts to a single owning Client struct.
package peerclient

import (
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fruit-testbed/p2p-update/internal/envelope"
	"github.com/fruit-testbed/p2p-update/internal/wire"
)

const maxDatagram = 4096

// retransmitCeiling bounds RetransmitCounter: no further TalkTo/TalkRequest
// once reached.
const retransmitCeiling = 2

// Client owns PeerCandidates, SessionPeers and RetransmitCounter
// exclusively; every mutation happens on the goroutine running Run.
type Client struct {
	conn       *net.UDPConn
	localConn  *net.UDPConn
	serverAddr *net.UDPAddr

	// NATBinding is the (address, port) this process learned from R at
	// Bootstrap; it is treated as immutable thereafter.
	NATBinding wire.Pair

	PeerCandidates    wire.Directory
	SessionPeers      wire.Directory
	RetransmitCounter map[string]int

	proxycontact bool
	sessionlink  bool

	handoff envelope.Handoff
	clock   func() time.Time

	sessionID string

	// candidateCount and sessionLinkGauge mirror len(PeerCandidates) and
	// sessionlink for readers outside the owning loop (e.g. a status
	// gauge goroutine) without them touching the maps directly — the
	// maps themselves stay single-owner.
	candidateCount   atomic.Int32
	sessionLinkGauge atomic.Bool

	// OnDrop is called for every dropped/malformed datagram, letting
	// tests assert on tagged outcomes instead of log output.
	OnDrop func(reason wire.DropReason, detail string)
}

// Config carries NewClient's inputs, mirroring C's CLI surface:
// (server-addr, server-port, own-external-addr-hint), plus the local
// control port and the AgentHandoff directory.
type Config struct {
	ServerHost     string
	ServerPort     int
	LocalHost      string
	LocalPort      int // cmd/peerclient passes 5044; 0 binds an ephemeral port
	HandoffDir     string
	OwnAddressHint string // seeds NATBinding speculatively before Bootstrap completes
}

// NewClient opens the external socket (ephemeral local port, mapped by
// the NAT toward ServerHost:ServerPort) and the loopback-only local
// control socket, returning a Client ready for Bootstrap then Run.
func NewClient(cfg Config) (*Client, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("peerclient: open external socket: %v", err)
	}
	localConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(cfg.LocalHost), Port: cfg.LocalPort})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("peerclient: bind local control socket: %v", err)
	}

	serverAddr := &net.UDPAddr{IP: net.ParseIP(cfg.ServerHost), Port: cfg.ServerPort}

	c := &Client{
		conn:              conn,
		localConn:         localConn,
		serverAddr:        serverAddr,
		PeerCandidates:    make(wire.Directory),
		SessionPeers:      make(wire.Directory),
		RetransmitCounter: make(map[string]int),
		proxycontact:      true,
		handoff:           envelope.Handoff{Dir: cfg.HandoffDir},
		clock:             time.Now,
		sessionID:         uuid.NewString(),
	}
	if cfg.OwnAddressHint != "" {
		c.NATBinding = wire.Pair{Addr: cfg.OwnAddressHint}
	}
	return c, nil
}

// Close releases both sockets.
func (c *Client) Close() error {
	err1 := c.conn.Close()
	err2 := c.localConn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Bootstrap performs the synchronous GetInfo exchange: send once, then
// read the four reply datagrams R sends in order (ack, address, port,
// directory). It deliberately leaves the fifth datagram — the opening
// KeepAliveProxy — unread; Run's first loop iteration picks it up like
// any other external message, exactly as the original getnatinfo leaves
// it for the main loop.
func (c *Client) Bootstrap() error {
	local := c.conn.LocalAddr().(*net.UDPAddr)
	hello := wire.GetInfoMessage{
		Payload: fmt.Sprintf("My locally detected address is %s on port %d", local.IP, local.Port),
	}
	if _, err := c.conn.WriteToUDP([]byte(hello.Encode()), c.serverAddr); err != nil {
		return fmt.Errorf("peerclient: bootstrap: send GetInfo: %v", err)
	}

	ack, err := c.recvExternal()
	if err != nil {
		return fmt.Errorf("peerclient: bootstrap: recv ack: %v", err)
	}
	log.Printf("[CLIENT %s] [INFO] bootstrap ack: %q", c.sessionID, ack)

	addr, err := c.recvExternal()
	if err != nil {
		return fmt.Errorf("peerclient: bootstrap: recv address: %v", err)
	}
	port, err := c.recvExternal()
	if err != nil {
		return fmt.Errorf("peerclient: bootstrap: recv port: %v", err)
	}
	var portNum uint16
	if _, err := fmt.Sscanf(port, "%d", &portNum); err != nil {
		return fmt.Errorf("peerclient: bootstrap: malformed port %q: %v", port, err)
	}
	c.NATBinding = wire.Pair{Addr: addr, Port: portNum}

	dirLiteral, err := c.recvExternal()
	if err != nil {
		return fmt.Errorf("peerclient: bootstrap: recv directory: %v", err)
	}
	dir, err := wire.ParseDirectory(dirLiteral)
	if err != nil {
		return fmt.Errorf("peerclient: bootstrap: parse directory: %v", err)
	}
	c.PeerCandidates = dir

	log.Printf("[CLIENT %s] [INFO] bootstrapped as %s:%d, %d peer candidate(s)",
		c.sessionID, c.NATBinding.Addr, c.NATBinding.Port, len(c.PeerCandidates))
	return nil
}

func (c *Client) recvExternal() (string, error) {
	buf := make([]byte, maxDatagram)
	n, _, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// Run drives the reactive loop: one blocking recv on the external
// socket, dispatch, then one non-blocking drain attempt on the local
// control socket. It returns when a local ExitScript command is
// processed, or on a fatal external recv error.
func (c *Client) Run() error {
	buf := make([]byte, maxDatagram)
	for {
		n, peer, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			return fmt.Errorf("peerclient: fatal recv error: %v", err)
		}
		c.dispatchExternal(string(buf[:n]), peer)
		c.sessionlink = len(c.SessionPeers) > 0
		c.publishStats()

		exit, err := c.drainLocal()
		if err != nil {
			log.Printf("[CLIENT %s] [ERROR] local drain: %v", c.sessionID, err)
		}
		if exit {
			return nil
		}
	}
}

// drainLocal attempts exactly one non-blocking read of the local control
// socket. Absence of a datagram is not an error.
func (c *Client) drainLocal() (exit bool, err error) {
	if err := c.localConn.SetReadDeadline(time.Now()); err != nil {
		return false, err
	}
	buf := make([]byte, maxDatagram)
	n, _, err := c.localConn.ReadFromUDP(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return false, nil
		}
		return false, err
	}
	return c.dispatchLocal(string(buf[:n])), nil
}

func (c *Client) drop(reason wire.DropReason, detail string) {
	log.Printf("[CLIENT %s] [FAIL] dropping message: %s: %s", c.sessionID, reason, detail)
	if c.OnDrop != nil {
		c.OnDrop(reason, detail)
	}
}

func (c *Client) sendToServer(raw string) {
	if _, err := c.conn.WriteToUDP([]byte(raw), c.serverAddr); err != nil {
		c.drop(wire.IOError, fmt.Sprintf("send to server: %v", err))
	}
}

func (c *Client) sendToPeer(addr string, port uint16, raw string) {
	target := &net.UDPAddr{IP: net.ParseIP(addr), Port: int(port)}
	if _, err := c.conn.WriteToUDP([]byte(raw), target); err != nil {
		c.drop(wire.IOError, fmt.Sprintf("send to peer %s:%d: %v", addr, port, err))
	}
}

// Sessionlink reports whether SessionPeers is currently non-empty.
func (c *Client) Sessionlink() bool { return c.sessionlink }

// Proxycontact reports the flag's current value. It never flips false
// in this design; it is exposed for tests and for the documented
// future hook.
func (c *Client) Proxycontact() bool { return c.proxycontact }

func (c *Client) publishStats() {
	c.candidateCount.Store(int32(len(c.PeerCandidates)))
	c.sessionLinkGauge.Store(c.sessionlink)
}

// Stats returns a snapshot safe to read from a goroutine other than the
// one running Run — e.g. cmd/peerclient's swarm-health gauge — without
// touching PeerCandidates/SessionPeers directly.
func (c *Client) Stats() (candidateCount int, sessionlink bool) {
	return int(c.candidateCount.Load()), c.sessionLinkGauge.Load()
}
