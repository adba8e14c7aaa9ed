// Package wgconf parses, edits and atomically rewrites the WireGuard
// server configuration file. The file is the sole source of truth for
// peer state; nothing in this package caches it between calls.
package wgconf

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

var (
	// ErrMalformed is returned when the config text cannot be parsed.
	// Callers must treat it as fatal for the operation; the file is
	// never rewritten from a partial parse.
	ErrMalformed = errors.New("malformed config")

	// ErrWriteFailed is returned when persisting the config fails. The
	// on-disk file is left untouched.
	ErrWriteFailed = errors.New("config write failed")
)

const (
	interfaceSection = "Interface"
	peerSection      = "Peer"

	// nameMarker is the comment convention carrying a peer's
	// human-readable name; the wire format has no native name field.
	// A [Peer] section without this marker is unmanaged: it is
	// preserved verbatim on every rewrite and never listed or removed.
	nameMarker = "# Name = "
)

// Line is one verbatim line of the config file. Key and Value are set
// only for key lines; comments and blanks keep Raw alone.
type Line struct {
	Raw   string
	Key   string
	Value string
}

// Section is one [Name] block with its verbatim body lines.
type Section struct {
	Header string // raw header line, e.g. "[Peer]"
	Name   string // "Interface" or "Peer" (or a foreign section name)
	Lines  []Line
}

// Document is the parsed config: leading comments, then one Interface
// section and zero or more Peer sections, in file order.
type Document struct {
	leading  []Line
	sections []*Section

	// trailingNewline records whether the source text ended with a
	// newline so that Serialize round-trips byte for byte.
	trailingNewline bool
}

// IsPeer reports whether the section is a [Peer] section.
func (s *Section) IsPeer() bool { return s.Name == peerSection }

// Get returns the value of the first matching key line. Key matching is
// case-insensitive, like wg-quick's own parser.
func (s *Section) Get(key string) (string, bool) {
	for _, l := range s.Lines {
		if l.Key != "" && strings.EqualFold(l.Key, key) {
			return l.Value, true
		}
	}
	return "", false
}

// PeerName returns the managed name carried by the section's name
// marker comment, or "" if the section is unmanaged.
func (s *Section) PeerName() string {
	for _, l := range s.Lines {
		if l.Key != "" {
			break // marker must precede the first key line
		}
		if strings.HasPrefix(l.Raw, nameMarker) {
			return strings.TrimSpace(strings.TrimPrefix(l.Raw, nameMarker))
		}
	}
	return ""
}

// Interface returns the [Interface] section. Parse guarantees exactly one.
func (d *Document) Interface() *Section {
	for _, s := range d.sections {
		if s.Name == interfaceSection {
			return s
		}
	}
	return nil
}

// Peers returns all [Peer] sections in file order, managed or not.
func (d *Document) Peers() []*Section {
	var peers []*Section
	for _, s := range d.sections {
		if s.IsPeer() {
			peers = append(peers, s)
		}
	}
	return peers
}

// PeerByName returns the managed peer section with the given name.
func (d *Document) PeerByName(name string) *Section {
	for _, s := range d.Peers() {
		if s.PeerName() == name {
			return s
		}
	}
	return nil
}

// NewPeerSection builds a managed [Peer] section. The preshared key is
// omitted when empty.
func NewPeerSection(name, publicKey, presharedKey string, addr netip.Addr) *Section {
	sec := &Section{
		Header: "[" + peerSection + "]",
		Name:   peerSection,
		Lines: []Line{
			{Raw: nameMarker + name},
			{Raw: "PublicKey = " + publicKey, Key: "PublicKey", Value: publicKey},
		},
	}
	if presharedKey != "" {
		sec.Lines = append(sec.Lines, Line{Raw: "PresharedKey = " + presharedKey, Key: "PresharedKey", Value: presharedKey})
	}
	allowed := addr.String() + "/32"
	sec.Lines = append(sec.Lines, Line{Raw: "AllowedIPs = " + allowed, Key: "AllowedIPs", Value: allowed})
	return sec
}

// AppendPeer adds a peer section after all existing sections.
func (d *Document) AppendPeer(sec *Section) {
	if n := len(d.sections); n > 0 {
		// Blank separator before the new section, unless the last
		// section already ends with one.
		last := d.sections[n-1]
		if len(last.Lines) == 0 || strings.TrimSpace(last.Lines[len(last.Lines)-1].Raw) != "" {
			last.Lines = append(last.Lines, Line{Raw: ""})
		}
	}
	d.sections = append(d.sections, sec)
	d.trailingNewline = true
}

// RemovePeerByName deletes the managed peer section with the given name.
// It reports whether a section was removed.
func (d *Document) RemovePeerByName(name string) bool {
	for i, s := range d.sections {
		if !s.IsPeer() || s.PeerName() != name {
			continue
		}
		d.sections = append(d.sections[:i], d.sections[i+1:]...)
		d.normalizeSeparators()
		return true
	}
	return false
}

// normalizeSeparators trims trailing blank lines from the final section
// after a removal so the file does not accumulate empty tails.
func (d *Document) normalizeSeparators() {
	if len(d.sections) == 0 {
		return
	}
	last := d.sections[len(d.sections)-1]
	for len(last.Lines) > 0 && strings.TrimSpace(last.Lines[len(last.Lines)-1].Raw) == "" {
		last.Lines = last.Lines[:len(last.Lines)-1]
	}
}

// InterfaceAddress returns the interface's own host address, parsed from
// the Address key (first entry when comma-separated, prefix optional).
func (d *Document) InterfaceAddress() (netip.Addr, error) {
	value, ok := d.Interface().Get("Address")
	if !ok {
		return netip.Addr{}, fmt.Errorf("%w: interface has no Address", ErrMalformed)
	}
	first := strings.TrimSpace(strings.Split(value, ",")[0])
	if prefix, err := netip.ParsePrefix(first); err == nil {
		return prefix.Addr(), nil
	}
	addr, err := netip.ParseAddr(first)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: interface Address %q: %v", ErrMalformed, value, err)
	}
	return addr, nil
}

// PeerAddresses returns the host address of every peer section that
// carries a parseable single-host AllowedIPs entry.
func (d *Document) PeerAddresses() []netip.Addr {
	var addrs []netip.Addr
	for _, s := range d.Peers() {
		value, ok := s.Get("AllowedIPs")
		if !ok {
			continue
		}
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if prefix, err := netip.ParsePrefix(part); err == nil {
				addrs = append(addrs, prefix.Addr())
			} else if addr, err := netip.ParseAddr(part); err == nil {
				addrs = append(addrs, addr)
			}
		}
	}
	return addrs
}

// Serialize renders the document back to config text. A document that
// was parsed and not mutated serializes byte-identically to its source.
func (d *Document) Serialize() []byte {
	var sb strings.Builder
	writeLine := func(raw string) {
		sb.WriteString(raw)
		sb.WriteByte('\n')
	}
	for _, l := range d.leading {
		writeLine(l.Raw)
	}
	for _, s := range d.sections {
		writeLine(s.Header)
		for _, l := range s.Lines {
			writeLine(l.Raw)
		}
	}
	out := sb.String()
	if !d.trailingNewline {
		out = strings.TrimSuffix(out, "\n")
	}
	return []byte(out)
}
