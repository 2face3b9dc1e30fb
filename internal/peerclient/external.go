package peerclient

import (
	"fmt"
	"log"
	"time"

	"github.com/fruit-testbed/p2p-update/internal/wire"
)

// dispatchExternal classifies and handles one datagram arriving on the
// external socket.
func (c *Client) dispatchExternal(raw string, peer fmt.Stringer) {
	tag := wire.ClassifyTag(raw)
	switch tag {
	case wire.TagKeepAliveProxy:
		c.handleKeepAliveProxy(raw)
	case wire.TagKeepAlivePeer:
		c.handleKeepAlivePeer(raw)
	case wire.TagTalkRequest:
		c.handleTalkRequest(raw)
	case wire.TagRepeatTalkRequest:
		c.handleRepeatTalkRequest(raw)
	case wire.TagTalkResponse:
		c.handleTalkResponse(raw)
	case wire.TagSessionStart:
		c.handleSessionStart(raw)
	case wire.TagPeerLeave:
		c.handlePeerLeave(raw)
	case wire.TagSendTorrentFile:
		c.handleSendTorrentFile(raw)
	case wire.TagSharePeers:
		c.handleSharePeers(raw)
	case "":
		c.drop(wire.MalformedMessage, "empty datagram from "+peer.String())
	default:
		c.drop(wire.MalformedMessage, fmt.Sprintf("unknown tag %q from %s", tag, peer.String()))
	}
}

// handleKeepAliveProxy merges R's piggybacked directory update, if any,
// into PeerCandidates, then replies to keep the NAT mapping to R open.
// Guarded by proxycontact; the flag is never flipped false in the
// current design, so this guard currently always passes.
func (c *Client) handleKeepAliveProxy(raw string) {
	if !c.proxycontact {
		log.Printf("[CLIENT %s] [INFO] proxy contact disabled, ignoring KeepAliveProxy", c.sessionID)
		return
	}
	msg, err := wire.ParseKeepAliveProxy(raw)
	if err != nil {
		c.drop(wire.MalformedMessage, raw)
		return
	}
	if msg.Directory != nil {
		for addr, port := range *msg.Directory {
			c.PeerCandidates[addr] = port
		}
	}
	c.sendToServer(wire.KeepAliveProxyMessage{}.Encode())
	time.Sleep(2 * time.Second)
}

// handleKeepAlivePeer replies directly to a session peer's keepalive
// ping, guarded by sessionlink.
func (c *Client) handleKeepAlivePeer(raw string) {
	if !c.sessionlink {
		log.Printf("[CLIENT %s] [INFO] no session link, ignoring KeepAlivePeer", c.sessionID)
		return
	}
	msg, err := wire.ParseKeepAlivePeer(raw)
	if err != nil {
		c.drop(wire.MalformedMessage, raw)
		return
	}
	port, ok := c.SessionPeers[msg.Addr]
	if !ok {
		c.drop(wire.UnknownPeer, fmt.Sprintf("keepalivepeer from %s not in session", msg.Addr))
		return
	}
	c.sendKeepAlivePeer(msg.Addr, port)
	time.Sleep(2 * time.Second)
}

func (c *Client) sendKeepAlivePeer(addr string, port uint16) {
	out := wire.KeepAlivePeerMessage{Addr: c.NATBinding.Addr}
	c.sendToPeer(addr, port, out.Encode())
}

// sendResponse is the core NAT-punching rule: while the counter hasn't
// reached retransmitCeiling, send both RespondTo and TalkTo to R for
// the same peer, then increment once.
func (c *Client) sendResponse(addr string) {
	if c.RetransmitCounter[addr] >= retransmitCeiling {
		return
	}
	c.sendToServer(wire.AddrMessage{Tag: wire.TagRespondTo, Addr: addr}.Encode())
	c.sendToServer(wire.AddrMessage{Tag: wire.TagTalkTo, Addr: addr}.Encode())
	c.RetransmitCounter[addr]++
}

func (c *Client) handleTalkRequest(raw string) {
	msg, err := wire.ParseAddrMessage(raw, wire.TagTalkRequest)
	if err != nil {
		c.drop(wire.MalformedMessage, raw)
		return
	}
	if _, ok := c.RetransmitCounter[msg.Addr]; !ok {
		c.RetransmitCounter[msg.Addr] = 0
	}
	c.sendResponse(msg.Addr)
}

func (c *Client) handleRepeatTalkRequest(raw string) {
	msg, err := wire.ParseAddrMessage(raw, wire.TagRepeatTalkRequest)
	if err != nil {
		c.drop(wire.MalformedMessage, raw)
		return
	}
	c.RetransmitCounter[msg.Addr] = 0
	c.sendResponse(msg.Addr)
}

// handleTalkResponse enters IN_SESSION for the responding peer and
// announces SessionStart to it.
func (c *Client) handleTalkResponse(raw string) {
	msg, err := wire.ParseAddrMessage(raw, wire.TagTalkResponse)
	if err != nil {
		c.drop(wire.MalformedMessage, raw)
		return
	}
	port, ok := c.PeerCandidates[msg.Addr]
	if !ok {
		c.drop(wire.UnknownPeer, fmt.Sprintf("talkresponse from %s not a known candidate", msg.Addr))
		return
	}
	c.SessionPeers[msg.Addr] = port
	out := wire.AddrMessage{Tag: wire.TagSessionStart, Addr: c.NATBinding.Addr}
	c.sendToPeer(msg.Addr, port, out.Encode())
}

// handleSessionStart admits the sender into SessionPeers, fans out the
// current session roster via SharePeers if this isn't the first peer,
// and opens the direct keepalive cycle with it.
func (c *Client) handleSessionStart(raw string) {
	msg, err := wire.ParseAddrMessage(raw, wire.TagSessionStart)
	if err != nil {
		c.drop(wire.MalformedMessage, raw)
		return
	}
	port, ok := c.PeerCandidates[msg.Addr]
	if !ok {
		c.drop(wire.UnknownPeer, fmt.Sprintf("sessionstart from %s not a known candidate", msg.Addr))
		return
	}
	c.SessionPeers[msg.Addr] = port

	if len(c.SessionPeers) > 1 {
		share := wire.SharePeersMessage{Peers: c.SessionPeers.Clone()}
		c.sendToPeer(msg.Addr, port, share.Encode())
	}
	c.sendKeepAlivePeer(msg.Addr, port)
}

func (c *Client) handlePeerLeave(raw string) {
	if !c.sessionlink {
		log.Printf("[CLIENT %s] [INFO] no session link, ignoring PeerLeave", c.sessionID)
		return
	}
	msg, err := wire.ParseAddrMessage(raw, wire.TagPeerLeave)
	if err != nil {
		c.drop(wire.MalformedMessage, raw)
		return
	}
	delete(c.SessionPeers, msg.Addr)
	delete(c.RetransmitCounter, msg.Addr)
}

// handleSendTorrentFile destructures the carried envelope and runs the
// AgentHandoff writer.
func (c *Client) handleSendTorrentFile(raw string) {
	msg, err := wire.ParseSendTorrentFile(raw)
	if err != nil {
		c.drop(wire.MalformedMessage, "sendtorrentfile: "+raw)
		return
	}
	log.Printf("[CLIENT %s] [INFO] torrent file received from %s", c.sessionID, msg.Origin)
	if err := c.handoff.Write(msg.Envelope, c.clock); err != nil {
		c.drop(wire.IOError, fmt.Sprintf("handoff write: %v", err))
		return
	}
}

// handleSharePeers admits every peer in the shared roster not already
// present and not itself, then initiates or repeats a TalkTo for each.
func (c *Client) handleSharePeers(raw string) {
	msg, err := wire.ParseSharePeers(raw)
	if err != nil {
		c.drop(wire.MalformedMessage, raw)
		return
	}
	for addr, port := range msg.Peers {
		if addr == c.NATBinding.Addr {
			continue
		}
		if _, already := c.SessionPeers[addr]; already {
			continue
		}
		c.SessionPeers[addr] = port
		if _, has := c.RetransmitCounter[addr]; !has {
			c.RetransmitCounter[addr] = 0
			c.sendTalkTo(addr)
		} else {
			c.RetransmitCounter[addr] = 0
			c.sendRepeatTalkTo(addr)
		}
	}
}

func (c *Client) sendTalkTo(addr string) {
	if c.RetransmitCounter[addr] >= retransmitCeiling {
		return
	}
	c.sendToServer(wire.AddrMessage{Tag: wire.TagTalkTo, Addr: addr}.Encode())
	c.RetransmitCounter[addr]++
}

func (c *Client) sendRepeatTalkTo(addr string) {
	if c.RetransmitCounter[addr] >= retransmitCeiling {
		return
	}
	c.sendToServer(wire.AddrMessage{Tag: wire.TagRepeatTalkTo, Addr: addr}.Encode())
	c.RetransmitCounter[addr]++
}
