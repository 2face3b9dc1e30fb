package peerclient

import (
	"log"

	"github.com/fruit-testbed/p2p-update/internal/wire"
)

// dispatchLocal classifies and handles one datagram arriving on the
// loopback control socket from the Agent. It reports whether the
// client should terminate (ExitScript).
func (c *Client) dispatchLocal(raw string) (exit bool) {
	tag := wire.ClassifyTag(raw)
	switch tag {
	case wire.LocalSendTorrent:
		c.handleLocalSendTorrent(raw)
	case wire.LocalEndSession:
		c.handleEndSession()
	case wire.LocalTalkTo:
		c.handleLocalTalkTo(raw)
	case wire.LocalExitScript:
		return c.handleExitScript()
	default:
		log.Printf("[CLIENT %s] [INFO] unknown local command: %q", c.sessionID, raw)
	}
	return false
}

// handleLocalSendTorrent fans the submitted envelope out to every peer
// currently in session.
func (c *Client) handleLocalSendTorrent(raw string) {
	msg, err := wire.ParseLocalSendTorrent(raw)
	if err != nil {
		c.drop(wire.MalformedMessage, raw)
		return
	}
	out := wire.SendTorrentFileMessage{Origin: c.NATBinding.Addr, Envelope: msg.Envelope}
	for addr, port := range c.SessionPeers {
		c.sendToPeer(addr, port, out.Encode())
	}
}

// handleEndSession notifies every session peer of departure and clears
// SessionPeers.
func (c *Client) handleEndSession() {
	for addr, port := range c.SessionPeers {
		out := wire.AddrMessage{Tag: wire.TagPeerLeave, Addr: c.NATBinding.Addr}
		c.sendToPeer(addr, port, out.Encode())
	}
	c.SessionPeers = make(wire.Directory)
	c.sessionlink = false
}

// handleLocalTalkTo applies the same counter-gated initial-or-repeat
// rule local commands share with SharePeers-triggered outreach.
func (c *Client) handleLocalTalkTo(raw string) {
	msg, err := wire.ParseAddrMessage(raw, wire.LocalTalkTo)
	if err != nil {
		c.drop(wire.MalformedMessage, raw)
		return
	}
	if _, has := c.RetransmitCounter[msg.Addr]; !has {
		c.RetransmitCounter[msg.Addr] = 0
		c.sendTalkTo(msg.Addr)
	} else {
		c.RetransmitCounter[msg.Addr] = 0
		c.sendRepeatTalkTo(msg.Addr)
	}
}

// handleExitScript winds down any live session, notifies R, and signals
// Run to terminate.
func (c *Client) handleExitScript() bool {
	if c.sessionlink {
		c.handleEndSession()
	}
	c.sendToServer(wire.AddrMessage{Tag: wire.TagClientShutdown, Addr: c.NATBinding.Addr}.Encode())
	log.Printf("[CLIENT %s] [INFO] exiting", c.sessionID)
	return true
}
