package wgconf

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendPeer(t *testing.T) {
	doc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	sec := NewPeerSection("laptop", "pubkey2=", "", netip.MustParseAddr("10.10.1.3"))
	doc.AppendPeer(sec)

	require.Len(t, doc.Peers(), 2)
	assert.Equal(t, "laptop", doc.Peers()[1].PeerName())

	// The appended section survives a round trip through text.
	reparsed, err := Parse(doc.Serialize())
	require.NoError(t, err)
	peer := reparsed.PeerByName("laptop")
	require.NotNil(t, peer)

	pub, _ := peer.Get("PublicKey")
	assert.Equal(t, "pubkey2=", pub)
	allowed, _ := peer.Get("AllowedIPs")
	assert.Equal(t, "10.10.1.3/32", allowed)
	_, hasPSK := peer.Get("PresharedKey")
	assert.False(t, hasPSK)
}

func TestAppendPeerWithPresharedKey(t *testing.T) {
	doc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	doc.AppendPeer(NewPeerSection("tablet", "pub=", "psk=", netip.MustParseAddr("10.10.1.4")))

	reparsed, err := Parse(doc.Serialize())
	require.NoError(t, err)
	psk, ok := reparsed.PeerByName("tablet").Get("PresharedKey")
	assert.True(t, ok)
	assert.Equal(t, "psk=", psk)
}

func TestAppendPeerGoesAfterExistingSections(t *testing.T) {
	doc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	doc.AppendPeer(NewPeerSection("laptop", "pub=", "", netip.MustParseAddr("10.10.1.3")))

	peers := doc.Peers()
	require.Len(t, peers, 2)
	assert.Equal(t, "phone", peers[0].PeerName())
	assert.Equal(t, "laptop", peers[1].PeerName())
}

func TestRemovePeerByName(t *testing.T) {
	doc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.True(t, doc.RemovePeerByName("phone"))
	assert.Empty(t, doc.Peers())

	reparsed, err := Parse(doc.Serialize())
	require.NoError(t, err)
	assert.Empty(t, reparsed.Peers())
}

func TestRemovePeerByNameMissing(t *testing.T) {
	doc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	before := string(doc.Serialize())
	assert.False(t, doc.RemovePeerByName("nope"))
	assert.Equal(t, before, string(doc.Serialize()))
}

func TestRemoveNeverTouchesUnmanagedPeers(t *testing.T) {
	text := sampleConfig + "\n[Peer]\nPublicKey = foreign=\nAllowedIPs = 10.10.1.200/32\n"
	doc, err := Parse([]byte(text))
	require.NoError(t, err)

	// Removing by any name leaves the unmanaged section alone.
	assert.False(t, doc.RemovePeerByName("foreign"))
	assert.True(t, doc.RemovePeerByName("phone"))

	reparsed, err := Parse(doc.Serialize())
	require.NoError(t, err)
	require.Len(t, reparsed.Peers(), 1)
	pub, _ := reparsed.Peers()[0].Get("PublicKey")
	assert.Equal(t, "foreign=", pub)
}

func TestInterfaceAddress(t *testing.T) {
	doc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	addr, err := doc.InterfaceAddress()
	require.NoError(t, err)
	assert.Equal(t, "10.10.1.1", addr.String())
}

func TestInterfaceAddressBareIP(t *testing.T) {
	doc, err := Parse([]byte("[Interface]\nAddress = 10.0.0.1\n"))
	require.NoError(t, err)

	addr, err := doc.InterfaceAddress()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", addr.String())
}

func TestInterfaceAddressMissing(t *testing.T) {
	doc, err := Parse([]byte("[Interface]\nListenPort = 51820\n"))
	require.NoError(t, err)

	_, err = doc.InterfaceAddress()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestPeerAddresses(t *testing.T) {
	text := sampleConfig + "\n[Peer]\nPublicKey = other=\nAllowedIPs = 10.10.1.7/32, 192.168.5.0/24\n"
	doc, err := Parse([]byte(text))
	require.NoError(t, err)

	addrs := doc.PeerAddresses()
	require.Len(t, addrs, 3)
	assert.Equal(t, "10.10.1.2", addrs[0].String())
	assert.Equal(t, "10.10.1.7", addrs[1].String())
	assert.Equal(t, "192.168.5.0", addrs[2].String())
}
