// Package keys generates and derives WireGuard key material.
package keys

import (
	"fmt"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// KeyPair holds a base64-encoded Curve25519 key pair.
type KeyPair struct {
	Private string
	Public  string
}

// NewKeyPair generates a new WireGuard key pair.
// Fails only when the system entropy source is unavailable.
func NewKeyPair() (KeyPair, error) {
	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate private key: %w", err)
	}
	return KeyPair{
		Private: priv.String(),
		Public:  priv.PublicKey().String(),
	}, nil
}

// DerivePublic computes the public key for a base64-encoded private key.
func DerivePublic(private string) (string, error) {
	key, err := wgtypes.ParseKey(private)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	return key.PublicKey().String(), nil
}

// NewPresharedKey generates a random preshared key.
func NewPresharedKey() (string, error) {
	psk, err := wgtypes.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("generate preshared key: %w", err)
	}
	return psk.String(), nil
}
