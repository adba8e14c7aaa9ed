// Package control applies config changes to the running WireGuard
// interface and reports live peer state. The concrete mechanism (shell
// out on the host, exec inside a container) sits behind the Controller
// interface so the peer manager never cares which one is in play.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrReloadFailed is returned when the underlying control operation
	// exits non-zero. It is never retried here; retry is a caller
	// decision.
	ErrReloadFailed = errors.New("interface reload failed")

	// ErrReloadTimeout is returned when the reload does not complete
	// within the caller's deadline. The underlying operation is not
	// cancelled; the timeout only stops waiting for it.
	ErrReloadTimeout = errors.New("interface reload timed out")
)

// PeerStatus is the live state of one peer on the running interface.
type PeerStatus struct {
	PublicKey     string
	Endpoint      string
	AllowedIPs    []string
	LastHandshake time.Time // zero when the peer never completed one
	ReceiveBytes  int64
	TransmitBytes int64
}

// Controller reloads the interface from its on-disk config and queries
// live per-peer statistics.
type Controller interface {
	// Reload applies the current on-disk config, blocking until the
	// operation finishes or ctx expires.
	Reload(ctx context.Context) error

	// Status returns the running interface's peers.
	Status(ctx context.Context) ([]PeerStatus, error)
}

// mapReloadErr folds context expiry into ErrReloadTimeout and everything
// else into ErrReloadFailed.
func mapReloadErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrReloadTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrReloadFailed, err)
}
