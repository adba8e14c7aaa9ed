package wgconf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `[Interface]
PrivateKey = cFg2/hGH2ycXnLRNMRTmP0K1HFufZTUspX2M72kVcEE=
Address = 10.10.1.1/24
ListenPort = 51820
Jc = 2
Jmin = 10

[Peer]
# Name = phone
PublicKey = xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg=
PresharedKey = FpCyhws9cxwWoV4xELtfJvjJN+zQVRPISllRWgeopVE=
AllowedIPs = 10.10.1.2/32
`

func TestParseSerializeRoundTrip(t *testing.T) {
	doc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, sampleConfig, string(doc.Serialize()))
}

func TestParseRoundTripNoTrailingNewline(t *testing.T) {
	text := "[Interface]\nPrivateKey = abc\nAddress = 10.0.0.1/24"
	doc, err := Parse([]byte(text))
	require.NoError(t, err)

	assert.Equal(t, text, string(doc.Serialize()))
}

func TestParseRoundTripIsStable(t *testing.T) {
	doc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	once := doc.Serialize()
	again, err := Parse(once)
	require.NoError(t, err)
	assert.Equal(t, once, again.Serialize())
}

func TestParsePreservesUnknownKeysAndComments(t *testing.T) {
	text := "# managed by wgkeeper\n[Interface]\nPrivateKey = abc\nAddress = 10.0.0.1/24\nFwMark = 0x8888\n; vendor note\n"
	doc, err := Parse([]byte(text))
	require.NoError(t, err)

	value, ok := doc.Interface().Get("FwMark")
	assert.True(t, ok)
	assert.Equal(t, "0x8888", value)
	assert.Equal(t, text, string(doc.Serialize()))
}

func TestParseSections(t *testing.T) {
	doc, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	require.NotNil(t, doc.Interface())
	port, ok := doc.Interface().Get("ListenPort")
	assert.True(t, ok)
	assert.Equal(t, "51820", port)

	peers := doc.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "phone", peers[0].PeerName())

	pub, ok := peers[0].Get("PublicKey")
	assert.True(t, ok)
	assert.Equal(t, "xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg=", pub)
}

func TestParseKeyLookupIsCaseInsensitive(t *testing.T) {
	doc, err := Parse([]byte("[Interface]\nprivatekey = abc\naddress = 10.0.0.1/24\n"))
	require.NoError(t, err)

	_, ok := doc.Interface().Get("PrivateKey")
	assert.True(t, ok)
}

func TestParseMalformed(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"no interface", "[Peer]\n# Name = x\nPublicKey = abc\n"},
		{"duplicate interface", "[Interface]\nAddress = 10.0.0.1/24\n[Interface]\nAddress = 10.0.0.2/24\n"},
		{"peer without public key", "[Interface]\nAddress = 10.0.0.1/24\n[Peer]\nAllowedIPs = 10.0.0.2/32\n"},
		{"key outside section", "PrivateKey = abc\n[Interface]\nAddress = 10.0.0.1/24\n"},
		{"unterminated header", "[Interface\nAddress = 10.0.0.1/24\n"},
		{"line without equals", "[Interface]\nAddress 10.0.0.1/24\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.text))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestParseUnmanagedPeerHasNoName(t *testing.T) {
	text := "[Interface]\nAddress = 10.0.0.1/24\n\n[Peer]\nPublicKey = abc\nAllowedIPs = 10.0.0.9/32\n"
	doc, err := Parse([]byte(text))
	require.NoError(t, err)

	peers := doc.Peers()
	require.Len(t, peers, 1)
	assert.Empty(t, peers[0].PeerName())
}

func TestPeerNameMarkerMustPrecedeKeys(t *testing.T) {
	// A stray name-like comment after key lines does not make the
	// section managed.
	text := "[Interface]\nAddress = 10.0.0.1/24\n\n[Peer]\nPublicKey = abc\n# Name = sneaky\nAllowedIPs = 10.0.0.9/32\n"
	doc, err := Parse([]byte(text))
	require.NoError(t, err)

	assert.Empty(t, doc.Peers()[0].PeerName())
}
