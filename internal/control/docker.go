package control

import (
	"bytes"
	"context"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog/log"
)

// ReloadMethod selects how DockerController applies a config change.
type ReloadMethod string

const (
	// ReloadWGQuick bounces the interface inside the container with
	// wg-quick down/up. Existing sessions resume after the handshake.
	ReloadWGQuick ReloadMethod = "wg-quick"

	// ReloadRestart restarts the whole container.
	ReloadRestart ReloadMethod = "restart"
)

// DockerController drives a WireGuard interface that lives inside a
// container, the usual shape of an AmneziaWG deployment.
type DockerController struct {
	cli       *client.Client
	container string
	iface     string
	confPath  string // config path as seen inside the container
	method    ReloadMethod
}

// NewDockerController connects to the Docker daemon at host (empty for
// the environment default) and targets the named container.
func NewDockerController(host, containerName, iface, confPath string, method ReloadMethod) (*DockerController, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	} else {
		opts = append(opts, client.FromEnv)
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if method == "" {
		method = ReloadWGQuick
	}

	return &DockerController{
		cli:       cli,
		container: containerName,
		iface:     iface,
		confPath:  confPath,
		method:    method,
	}, nil
}

// Close releases the Docker client.
func (c *DockerController) Close() error {
	return c.cli.Close()
}

// Reload applies the on-disk config to the running interface.
func (c *DockerController) Reload(ctx context.Context) error {
	if c.method == ReloadRestart {
		if err := c.cli.ContainerRestart(ctx, c.container, container.StopOptions{}); err != nil {
			return mapReloadErr(ctx, fmt.Errorf("restart container %s: %v", c.container, err))
		}
		log.Info().Str("container", c.container).Msg("container restarted")
		return nil
	}

	cmd := fmt.Sprintf("wg-quick down %[1]s; wg-quick up %[1]s", c.confPath)
	result, err := c.exec(ctx, []string{"sh", "-c", cmd})
	if err != nil {
		return mapReloadErr(ctx, err)
	}
	if result.exitCode != 0 {
		return mapReloadErr(ctx, fmt.Errorf("wg-quick exited %d: %s", result.exitCode, result.stderr))
	}

	log.Info().Str("container", c.container).Str("interface", c.iface).Msg("interface reloaded")
	return nil
}

// Status queries the running interface with `wg show <iface> dump`
// inside the container.
func (c *DockerController) Status(ctx context.Context) ([]PeerStatus, error) {
	result, err := c.exec(ctx, []string{"wg", "show", c.iface, "dump"})
	if err != nil {
		return nil, fmt.Errorf("query interface status: %w", err)
	}
	if result.exitCode != 0 {
		return nil, fmt.Errorf("wg show %s dump exited %d: %s", c.iface, result.exitCode, result.stderr)
	}
	return parseDump(result.stdout), nil
}

type execResult struct {
	exitCode int
	stdout   string
	stderr   string
}

// exec runs a command in the target container and captures its output.
func (c *DockerController) exec(ctx context.Context, cmd []string) (*execResult, error) {
	execID, err := c.cli.ContainerExecCreate(ctx, c.container, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("container %s not found: %w", c.container, err)
		}
		return nil, fmt.Errorf("exec create in %s: %w", c.container, err)
	}

	resp, err := c.cli.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach in %s: %w", c.container, err)
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		return nil, fmt.Errorf("exec read output in %s: %w", c.container, err)
	}

	inspect, err := c.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return nil, fmt.Errorf("exec inspect in %s: %w", c.container, err)
	}

	return &execResult{
		exitCode: inspect.ExitCode,
		stdout:   stdout.String(),
		stderr:   stderr.String(),
	}, nil
}
