// Package profile renders client-side connection profiles and their
// scannable QR images.
package profile

import (
	"errors"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// ErrPayloadTooLarge is returned when the profile text exceeds the QR
// encoding capacity.
var ErrPayloadTooLarge = errors.New("profile too large for QR encoding")

// KV is one extra [Interface] key copied verbatim into the profile,
// used for vendor obfuscation parameters (AmneziaWG Jc/Jmin/... keys)
// that must match the server interface.
type KV struct {
	Key   string
	Value string
}

// Params contains everything needed to build a standalone client config.
type Params struct {
	PrivateKey       string // client's private key (base64)
	Address          string // client's assigned address, e.g. "10.10.1.2"
	DNS              []string
	ExtraInterface   []KV
	ServerPublicKey  string
	PresharedKey     string // optional
	Endpoint         string // host:port
	AllowedIPs       string // routes pushed to the client, e.g. "0.0.0.0/0"
	KeepaliveSeconds int
}

// Validate checks the fields a client cannot connect without.
func (p *Params) Validate() error {
	if p.PrivateKey == "" {
		return errors.New("client private key is required")
	}
	if p.Address == "" {
		return errors.New("client address is required")
	}
	if p.ServerPublicKey == "" {
		return errors.New("server public key is required")
	}
	if p.Endpoint == "" {
		return errors.New("server endpoint is required")
	}
	return nil
}

// Render builds the client configuration text. The result is complete:
// a client can import it and connect with no other information.
func Render(params Params) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}

	var sb strings.Builder

	sb.WriteString("[Interface]\n")
	sb.WriteString(fmt.Sprintf("PrivateKey = %s\n", params.PrivateKey))
	sb.WriteString(fmt.Sprintf("Address = %s/32\n", params.Address))
	if len(params.DNS) > 0 {
		sb.WriteString(fmt.Sprintf("DNS = %s\n", strings.Join(params.DNS, ", ")))
	}
	for _, kv := range params.ExtraInterface {
		sb.WriteString(fmt.Sprintf("%s = %s\n", kv.Key, kv.Value))
	}

	sb.WriteString("\n[Peer]\n")
	sb.WriteString(fmt.Sprintf("PublicKey = %s\n", params.ServerPublicKey))
	if params.PresharedKey != "" {
		sb.WriteString(fmt.Sprintf("PresharedKey = %s\n", params.PresharedKey))
	}
	sb.WriteString(fmt.Sprintf("Endpoint = %s\n", params.Endpoint))

	allowedIPs := params.AllowedIPs
	if allowedIPs == "" {
		allowedIPs = "0.0.0.0/0"
	}
	sb.WriteString(fmt.Sprintf("AllowedIPs = %s\n", allowedIPs))

	keepalive := params.KeepaliveSeconds
	if keepalive == 0 {
		keepalive = 25
	}
	sb.WriteString(fmt.Sprintf("PersistentKeepalive = %d\n", keepalive))

	return sb.String(), nil
}

// QRCode encodes profile text as a PNG image of the given pixel size.
func QRCode(text string, size int) ([]byte, error) {
	if text == "" {
		return nil, errors.New("profile text is empty")
	}
	if size <= 0 {
		size = 256
	}

	png, err := qrcode.Encode(text, qrcode.Medium, size)
	if err != nil {
		if strings.Contains(err.Error(), "content too long") {
			return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(text))
		}
		return nil, fmt.Errorf("encode QR code: %w", err)
	}
	return png, nil
}
