package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddrMessageRoundTrip(t *testing.T) {
	m := AddrMessage{Tag: TagTalkRequest, Addr: "203.0.113.2"}
	parsed, err := ParseAddrMessage(m.Encode(), TagTalkRequest)
	require.NoError(t, err)
	assert.Equal(t, m, parsed)
}

func TestParseAddrMessageWrongTag(t *testing.T) {
	_, err := ParseAddrMessage("TalkRequest 1.2.3.4", TagRespondTo)
	assert.Error(t, err)
	assert.True(t, IsMalformed(err))
}

func TestKeepAliveProxyBarePing(t *testing.T) {
	parsed, err := ParseKeepAliveProxy(KeepAliveProxyMessage{}.Encode())
	require.NoError(t, err)
	assert.Nil(t, parsed.Directory)
}

func TestKeepAliveProxyPeerupdateRoundTrip(t *testing.T) {
	dir := Directory{"203.0.113.1": 55000}
	msg := KeepAliveProxyMessage{Directory: &dir}
	parsed, err := ParseKeepAliveProxy(msg.Encode())
	require.NoError(t, err)
	require.NotNil(t, parsed.Directory)
	assert.Equal(t, dir, *parsed.Directory)
}

func TestSharePeersRoundTrip(t *testing.T) {
	peers := Directory{"203.0.113.1": 1, "203.0.113.2": 2}
	msg := SharePeersMessage{Peers: peers}
	parsed, err := ParseSharePeers(msg.Encode())
	require.NoError(t, err)
	assert.Equal(t, peers, parsed.Peers)
}

func TestSendTorrentFileRoundTrip(t *testing.T) {
	msg := SendTorrentFileMessage{Origin: "203.0.113.1", Envelope: "abc123=="}
	parsed, err := ParseSendTorrentFile(msg.Encode())
	require.NoError(t, err)
	assert.Equal(t, msg, parsed)
}

func TestLocalSendTorrentRoundTrip(t *testing.T) {
	msg := LocalSendTorrentMessage{Envelope: "deadbeef"}
	parsed, err := ParseLocalSendTorrent(msg.Encode())
	require.NoError(t, err)
	assert.Equal(t, msg, parsed)
}

func TestParseSendTorrentFileRejectsMissingSplit(t *testing.T) {
	_, err := ParseSendTorrentFile("SendTorrentFile 203.0.113.1 nosplit here")
	assert.Error(t, err)
}
