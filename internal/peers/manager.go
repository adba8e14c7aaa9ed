// Package peers orchestrates the peer lifecycle: key generation,
// address allocation, config persistence and interface reload, all
// serialized under one mutation lock.
package peers

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/zombar/wgkeeper/internal/config"
	"github.com/zombar/wgkeeper/internal/control"
	"github.com/zombar/wgkeeper/internal/ipalloc"
	"github.com/zombar/wgkeeper/internal/keys"
	"github.com/zombar/wgkeeper/internal/metrics"
	"github.com/zombar/wgkeeper/internal/profile"
	"github.com/zombar/wgkeeper/internal/wgconf"
)

var (
	// ErrInvalidName is returned for names that are empty, too long or
	// would break the config section grammar.
	ErrInvalidName = errors.New("invalid peer name")

	// ErrDuplicateName is returned when a managed peer with the name
	// already exists.
	ErrDuplicateName = errors.New("peer already exists")

	// ErrNotFound is returned when no managed peer has the name.
	ErrNotFound = errors.New("peer not found")
)

const maxNameLength = 64

// Identity is the full identity of a newly created peer. The private
// key appears here and in the peer's profile file, never in the server
// config.
type Identity struct {
	Name         string
	Address      netip.Addr
	PrivateKey   string
	PublicKey    string
	PresharedKey string // empty when preshared keys are disabled
}

// Summary is one row of a peer listing.
type Summary struct {
	Name      string
	Address   netip.Addr
	PublicKey string
}

// PeerState is the live status of one managed peer.
type PeerState struct {
	Summary
	NeverConnected bool
	Endpoint       string
	LastHandshake  int64 // unix seconds, 0 when never connected
	ReceiveBytes   int64
	TransmitBytes  int64
}

// ServerStatus is the joined config/runtime view returned by Status.
type ServerStatus struct {
	Interface string
	Peers     []PeerState
}

// ReloadError reports that the config change was persisted but the
// interface reload did not succeed: the peer state on disk is correct
// and a later reload will pick it up, but the running interface may be
// behind until then. Identity is set for add operations.
type ReloadError struct {
	Identity *Identity
	Err      error
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("config persisted but reload failed: %v", e.Err)
}

func (e *ReloadError) Unwrap() error { return e.Err }

// Manager owns the mutation lock over the server config file and the
// interface it describes.
type Manager struct {
	mu      sync.Mutex
	cfg     *config.Config
	ctrl    control.Controller
	metrics *metrics.Metrics // optional
}

// NewManager creates a peer lifecycle manager.
func NewManager(cfg *config.Config, ctrl control.Controller, m *metrics.Metrics) *Manager {
	return &Manager{cfg: cfg, ctrl: ctrl, metrics: m}
}

// ValidateName rejects names that cannot be carried in the config's
// name marker comment. The bot layer owns the friendlier checks.
func ValidateName(name string) error {
	switch {
	case name == "" || strings.TrimSpace(name) != name:
		return fmt.Errorf("%w: must be non-empty without surrounding whitespace", ErrInvalidName)
	case len(name) > maxNameLength:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidName, maxNameLength)
	case strings.ContainsAny(name, "[]#;=/\\"):
		return fmt.Errorf("%w: must not contain [ ] # ; = or path separators", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: reserved name", ErrInvalidName)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: must not contain control characters", ErrInvalidName)
		}
	}
	return nil
}

// AddPeer creates a peer: generates keys, allocates the next free
// address against a fresh parse of the config, persists both the server
// config and the peer's client profile, and reloads the interface.
// When everything up to the reload succeeds but the reload fails, the
// returned error is a *ReloadError carrying the new identity.
func (m *Manager) AddPeer(ctx context.Context, name string) (*Identity, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := wgconf.ReadFile(m.cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("add peer %q: %w", name, err)
	}
	if doc.PeerByName(name) != nil {
		return nil, fmt.Errorf("add peer %q: %w", name, ErrDuplicateName)
	}

	kp, err := keys.NewKeyPair()
	if err != nil {
		return nil, fmt.Errorf("add peer %q: %w", name, err)
	}
	var psk string
	if m.cfg.PresharedKeys {
		if psk, err = keys.NewPresharedKey(); err != nil {
			return nil, fmt.Errorf("add peer %q: %w", name, err)
		}
	}

	addr, err := m.allocate(doc)
	if err != nil {
		return nil, fmt.Errorf("add peer %q: %w", name, err)
	}

	identity := &Identity{
		Name:         name,
		Address:      addr,
		PrivateKey:   kp.Private,
		PublicKey:    kp.Public,
		PresharedKey: psk,
	}

	// Client profile first: if the server config write below fails the
	// profile is removed again, whereas the reverse order could leave a
	// live peer with no exportable profile.
	text, err := m.renderProfile(doc, identity)
	if err != nil {
		return nil, fmt.Errorf("add peer %q: %w", name, err)
	}
	profilePath := m.profilePath(name)
	if err := wgconf.WriteFile(profilePath, []byte(text)); err != nil {
		return nil, fmt.Errorf("add peer %q: write profile: %w", name, err)
	}

	doc.AppendPeer(wgconf.NewPeerSection(name, kp.Public, psk, addr))
	if err := wgconf.WriteFile(m.cfg.ConfigPath, doc.Serialize()); err != nil {
		os.Remove(profilePath)
		return nil, fmt.Errorf("add peer %q: %w", name, err)
	}

	log.Info().Str("peer", name).Str("address", addr.String()).Msg("peer added")
	if m.metrics != nil {
		m.metrics.PeersAdded.Inc()
		m.metrics.Peers.Inc()
	}

	if err := m.reload(ctx); err != nil {
		return nil, &ReloadError{Identity: identity, Err: err}
	}
	return identity, nil
}

// RemovePeer deletes the managed peer with the given name, persists the
// config and reloads the interface. Removing an unknown peer returns
// ErrNotFound and leaves the file untouched.
func (m *Manager) RemovePeer(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := wgconf.ReadFile(m.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("remove peer %q: %w", name, err)
	}
	if !doc.RemovePeerByName(name) {
		return fmt.Errorf("remove peer %q: %w", name, ErrNotFound)
	}

	if err := wgconf.WriteFile(m.cfg.ConfigPath, doc.Serialize()); err != nil {
		return fmt.Errorf("remove peer %q: %w", name, err)
	}
	if err := os.Remove(m.profilePath(name)); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("peer", name).Msg("failed to remove profile file")
	}

	log.Info().Str("peer", name).Msg("peer removed")
	if m.metrics != nil {
		m.metrics.PeersRemoved.Inc()
		m.metrics.Peers.Dec()
	}

	if err := m.reload(ctx); err != nil {
		return &ReloadError{Err: err}
	}
	return nil
}

// ListPeers returns the managed peers in config order. It takes no lock:
// the atomic-rename write discipline guarantees a consistent read.
func (m *Manager) ListPeers() ([]Summary, error) {
	doc, err := wgconf.ReadFile(m.cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	return summaries(doc), nil
}

// Status joins the config's managed peers with the running interface's
// live state. Config peers absent from the running interface are marked
// never connected; runtime peers absent from the config are stale and
// omitted.
func (m *Manager) Status(ctx context.Context) (*ServerStatus, error) {
	doc, err := wgconf.ReadFile(m.cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	live, err := m.ctrl.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	byKey := make(map[string]control.PeerStatus, len(live))
	for _, p := range live {
		byKey[p.PublicKey] = p
	}

	status := &ServerStatus{Interface: m.cfg.Interface}
	for _, s := range summaries(doc) {
		state := PeerState{Summary: s, NeverConnected: true}
		if p, ok := byKey[s.PublicKey]; ok && !p.LastHandshake.IsZero() {
			state.NeverConnected = false
			state.Endpoint = p.Endpoint
			state.LastHandshake = p.LastHandshake.Unix()
			state.ReceiveBytes = p.ReceiveBytes
			state.TransmitBytes = p.TransmitBytes
		}
		status.Peers = append(status.Peers, state)
	}
	return status, nil
}

// Export returns the peer's client profile text and its QR image.
func (m *Manager) Export(name string) (string, []byte, error) {
	if err := ValidateName(name); err != nil {
		return "", nil, err
	}

	doc, err := wgconf.ReadFile(m.cfg.ConfigPath)
	if err != nil {
		return "", nil, fmt.Errorf("export peer %q: %w", name, err)
	}
	if doc.PeerByName(name) == nil {
		return "", nil, fmt.Errorf("export peer %q: %w", name, ErrNotFound)
	}

	data, err := os.ReadFile(m.profilePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, fmt.Errorf("export peer %q: profile file missing: %w", name, ErrNotFound)
		}
		return "", nil, fmt.Errorf("export peer %q: %w", name, err)
	}

	png, err := profile.QRCode(string(data), 0)
	if err != nil {
		return "", nil, fmt.Errorf("export peer %q: %w", name, err)
	}
	return string(data), png, nil
}

// allocate derives the reservation set from the document and picks the
// next free address. Must be called with the mutation lock held.
func (m *Manager) allocate(doc *wgconf.Document) (netip.Addr, error) {
	reserved := make(map[netip.Addr]struct{})
	if addr, err := doc.InterfaceAddress(); err == nil {
		reserved[addr] = struct{}{}
	}
	for _, addr := range doc.PeerAddresses() {
		reserved[addr] = struct{}{}
	}
	return ipalloc.NextFree(m.cfg.SubnetPrefix(), reserved, m.cfg.StartOffset)
}

// reload applies the persisted config to the running interface under
// the configured timeout. The timeout bounds the wait, not the
// operation itself.
func (m *Manager) reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ReloadTimeout())
	defer cancel()

	if err := m.ctrl.Reload(ctx); err != nil {
		if m.metrics != nil {
			m.metrics.ReloadFailures.Inc()
		}
		log.Error().Err(err).Msg("interface reload failed after config write")
		return err
	}
	return nil
}

// renderProfile builds the client-side config for a new peer, mirroring
// any vendor obfuscation keys present on the server interface.
func (m *Manager) renderProfile(doc *wgconf.Document, identity *Identity) (string, error) {
	privateKey, ok := doc.Interface().Get("PrivateKey")
	if !ok {
		return "", fmt.Errorf("%w: interface has no PrivateKey", wgconf.ErrMalformed)
	}
	serverPublic, err := keys.DerivePublic(privateKey)
	if err != nil {
		return "", fmt.Errorf("derive server public key: %w", err)
	}

	var extra []profile.KV
	for _, key := range m.cfg.VendorKeys {
		if value, ok := doc.Interface().Get(key); ok {
			extra = append(extra, profile.KV{Key: key, Value: value})
		}
	}

	endpoint := m.cfg.Endpoint
	if !strings.Contains(endpoint, ":") {
		endpoint = fmt.Sprintf("%s:%d", endpoint, m.cfg.ListenPort)
	}

	return profile.Render(profile.Params{
		PrivateKey:       identity.PrivateKey,
		Address:          identity.Address.String(),
		DNS:              m.cfg.DNS,
		ExtraInterface:   extra,
		ServerPublicKey:  serverPublic,
		PresharedKey:     identity.PresharedKey,
		Endpoint:         endpoint,
		AllowedIPs:       m.cfg.AllowedIPs,
		KeepaliveSeconds: m.cfg.PersistentKeepalive,
	})
}

func (m *Manager) profilePath(name string) string {
	return filepath.Join(m.cfg.ProfileDir, name+".conf")
}

func summaries(doc *wgconf.Document) []Summary {
	var out []Summary
	for _, sec := range doc.Peers() {
		name := sec.PeerName()
		if name == "" {
			continue // unmanaged section
		}
		s := Summary{Name: name}
		if pub, ok := sec.Get("PublicKey"); ok {
			s.PublicKey = pub
		}
		if allowed, ok := sec.Get("AllowedIPs"); ok {
			first := strings.TrimSpace(strings.Split(allowed, ",")[0])
			if prefix, err := netip.ParsePrefix(first); err == nil {
				s.Address = prefix.Addr()
			}
		}
		out = append(out, s)
	}
	return out
}
