package control

import (
	"strconv"
	"strings"
	"time"
)

// parseDump reads `wg show <iface> dump` output: one tab-separated line
// for the interface followed by one line per peer with the fields
// public-key, preshared-key, endpoint, allowed-ips, latest-handshake
// (unix seconds), transfer-rx, transfer-tx, persistent-keepalive.
// Short or unparseable lines are skipped rather than failing the whole
// query; extra trailing fields from newer wg versions are ignored.
func parseDump(output string) []PeerStatus {
	var peers []PeerStatus

	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i, line := range lines {
		if i == 0 {
			// Interface line: private-key, public-key, listen-port, fwmark.
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}

		peer := PeerStatus{PublicKey: fields[0]}
		if fields[2] != "(none)" {
			peer.Endpoint = fields[2]
		}
		if fields[3] != "(none)" && fields[3] != "" {
			peer.AllowedIPs = strings.Split(fields[3], ",")
		}
		if unix, err := strconv.ParseInt(fields[4], 10, 64); err == nil && unix > 0 {
			peer.LastHandshake = time.Unix(unix, 0)
		}
		if rx, err := strconv.ParseInt(fields[5], 10, 64); err == nil {
			peer.ReceiveBytes = rx
		}
		if tx, err := strconv.ParseInt(fields[6], 10, 64); err == nil {
			peer.TransmitBytes = tx
		}
		peers = append(peers, peer)
	}

	return peers
}
