package rendezvous

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruit-testbed/p2p-update/internal/wire"
)

// loopbackClient is a minimal UDP socket standing in for a peer in these
// tests; it has no state machine of its own.
type loopbackClient struct {
	conn *net.UDPConn
}

func newLoopbackClient(t *testing.T) *loopbackClient {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &loopbackClient{conn: conn}
}

func (c *loopbackClient) sendTo(t *testing.T, raw string, to *net.UDPAddr) {
	t.Helper()
	_, err := c.conn.WriteToUDP([]byte(raw), to)
	require.NoError(t, err)
}

func (c *loopbackClient) recv(t *testing.T) string {
	t.Helper()
	buf := make([]byte, maxDatagram)
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := c.conn.ReadFromUDP(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func startServer(t *testing.T) (*Server, *net.UDPAddr) {
	t.Helper()
	srv, err := NewServer("127.0.0.1", 0)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	go srv.Serve()
	return srv, srv.conn.LocalAddr().(*net.UDPAddr)
}

func TestGetInfoRepliesAndInsertsDirectory(t *testing.T) {
	srv, addr := startServer(t)
	c1 := newLoopbackClient(t)

	c1.sendTo(t, "GetInfo hello", addr)

	assert.Equal(t, "Message received", c1.recv(t))
	assert.Equal(t, "127.0.0.1", c1.recv(t))
	assert.NotEmpty(t, c1.recv(t)) // observed port
	assert.Equal(t, "[]", c1.recv(t))
	assert.Equal(t, wire.KeepAliveProxyMessage{}.Encode(), c1.recv(t))

	time.Sleep(50 * time.Millisecond)
	dir := srv.Directory()
	assert.Len(t, dir, 1)
	assert.Contains(t, dir, "127.0.0.1")
}

func TestDistinctPeersAllRemainUntilShutdown(t *testing.T) {
	srv, addr := startServer(t)
	c1 := newLoopbackClient(t)
	// c2 binds a second loopback address: the directory is keyed by IP, so
	// two sockets on 127.0.0.1 would be a single peer to R.
	c2conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.2"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { c2conn.Close() })
	c2 := &loopbackClient{conn: c2conn}
	c1Port := c1.conn.LocalAddr().(*net.UDPAddr).Port

	c1.sendTo(t, "GetInfo a", addr)
	for i := 0; i < 5; i++ {
		c1.recv(t)
	}

	var c2Dir string
	c2.sendTo(t, "GetInfo b", addr)
	for i := 0; i < 5; i++ {
		reply := c2.recv(t)
		if i == 3 {
			c2Dir = reply
		}
	}

	// c2's directory snapshot (the 4th reply) was taken before c2 itself
	// was inserted, so it must contain exactly c1.
	want := wire.Directory{"127.0.0.1": uint16(c1Port)}.Serialize()
	assert.Equal(t, want, c2Dir)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, srv.Directory(), 2)
}

func TestTalkToUnknownTargetIsDropped(t *testing.T) {
	srv, addr := startServer(t)
	var mu sync.Mutex
	var drops []wire.DropReason
	srv.OnDrop = func(reason wire.DropReason, detail string) {
		mu.Lock()
		drops = append(drops, reason)
		mu.Unlock()
	}
	c1 := newLoopbackClient(t)
	c1.sendTo(t, "TalkTo 10.0.0.99", addr)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, drops)
	assert.Equal(t, wire.UnknownPeer, drops[0])
}

func TestTalkToRelaysTalkRequestToKnownTarget(t *testing.T) {
	_, addr := startServer(t)
	c1 := newLoopbackClient(t)
	c2 := newLoopbackClient(t)

	c1.sendTo(t, "GetInfo a", addr)
	for i := 0; i < 5; i++ {
		c1.recv(t)
	}
	c2.sendTo(t, "GetInfo b", addr)
	for i := 0; i < 5; i++ {
		c2.recv(t)
	}
	time.Sleep(50 * time.Millisecond)

	c1.sendTo(t, "TalkTo 127.0.0.1", addr)
	msg := c2.recv(t)
	assert.Equal(t, "TalkRequest 127.0.0.1", msg)
}

func TestClientShutdownRemovesFromDirectory(t *testing.T) {
	srv, addr := startServer(t)
	c1 := newLoopbackClient(t)
	c1.sendTo(t, "GetInfo a", addr)
	for i := 0; i < 5; i++ {
		c1.recv(t)
	}
	time.Sleep(50 * time.Millisecond)
	require.Len(t, srv.Directory(), 1)

	c1.sendTo(t, "ClientShutdown 127.0.0.1", addr)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, srv.Directory())
}
