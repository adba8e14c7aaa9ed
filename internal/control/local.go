package control

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog/log"
)

// LocalController drives a WireGuard interface on the host by shelling
// out to wg-quick and wg.
type LocalController struct {
	// Interface is the interface name, e.g. "wg0".
	Interface string

	// ConfigPath is the server config file passed to wg-quick.
	ConfigPath string
}

// Reload bounces the interface with wg-quick so peer additions and
// removals both take effect. A failed `down` is tolerated: the
// interface may simply not be up yet.
func (c *LocalController) Reload(ctx context.Context) error {
	if output, err := exec.CommandContext(ctx, "wg-quick", "down", c.ConfigPath).CombinedOutput(); err != nil {
		log.Debug().Err(err).Str("output", string(output)).Msg("wg-quick down failed, continuing")
	}

	output, err := exec.CommandContext(ctx, "wg-quick", "up", c.ConfigPath).CombinedOutput()
	if err != nil {
		return mapReloadErr(ctx, fmt.Errorf("wg-quick up: %v: %s", err, output))
	}

	log.Info().Str("interface", c.Interface).Msg("interface reloaded")
	return nil
}

// Status queries the running interface with `wg show <iface> dump`.
func (c *LocalController) Status(ctx context.Context) ([]PeerStatus, error) {
	output, err := exec.CommandContext(ctx, "wg", "show", c.Interface, "dump").Output()
	if err != nil {
		return nil, fmt.Errorf("wg show %s dump: %w", c.Interface, err)
	}
	return parseDump(string(output)), nil
}
