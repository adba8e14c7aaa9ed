// Package ipalloc assigns host addresses out of the VPN subnet.
package ipalloc

import (
	"errors"
	"fmt"
	"net/netip"
)

// ErrPoolExhausted is returned when no free host address remains in the subnet.
var ErrPoolExhausted = errors.New("no available addresses in subnet")

// NextFree returns the first unreserved host address in subnet, scanning in
// ascending order starting startOffset hosts above the network address. The
// network and broadcast addresses are never returned. The reserved set must
// be derived from the current config under the caller's mutation lock, or
// two concurrent allocations can pick the same address.
func NextFree(subnet netip.Prefix, reserved map[netip.Addr]struct{}, startOffset int) (netip.Addr, error) {
	if !subnet.Addr().Is4() {
		return netip.Addr{}, fmt.Errorf("subnet %s: only IPv4 is supported", subnet)
	}
	if subnet.Bits() > 30 {
		return netip.Addr{}, fmt.Errorf("subnet %s: no allocatable host addresses", subnet)
	}
	if startOffset < 1 {
		startOffset = 1
	}

	network := subnet.Masked().Addr()
	broadcast := broadcastOf(subnet)

	addr := network
	for i := 0; i < startOffset; i++ {
		addr = addr.Next()
	}

	for ; subnet.Contains(addr) && addr.Less(broadcast); addr = addr.Next() {
		if _, taken := reserved[addr]; taken {
			continue
		}
		return addr, nil
	}

	return netip.Addr{}, fmt.Errorf("%w: %s", ErrPoolExhausted, subnet)
}

// broadcastOf computes the highest address of an IPv4 prefix.
func broadcastOf(subnet netip.Prefix) netip.Addr {
	raw := subnet.Masked().Addr().As4()
	hostBits := 32 - subnet.Bits()
	for i := 0; i < hostBits; i++ {
		raw[3-i/8] |= 1 << (i % 8)
	}
	return netip.AddrFrom4(raw)
}
