package wire

// DropReason tags why an incoming datagram was not acted on. The original
// Python core swallowed every failure mode behind a bare "except: pass";
// here each one is a distinct value so callers (and tests) can assert on
// what happened instead of grepping log output.
type DropReason string

const (
	// MalformedMessage means the datagram's tag or arguments didn't match
	// any known shape.
	MalformedMessage DropReason = "malformed_message"
	// UnknownPeer means the message named a peer address absent from the
	// directory or session the handler consulted.
	UnknownPeer DropReason = "unknown_peer"
	// IOError means a send or receive syscall failed.
	IOError DropReason = "io_error"
)
