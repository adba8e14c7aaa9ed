// wgkeeper manages the lifecycle of WireGuard peers on a single server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zombar/wgkeeper/internal/api"
	"github.com/zombar/wgkeeper/internal/config"
	"github.com/zombar/wgkeeper/internal/control"
	"github.com/zombar/wgkeeper/internal/metrics"
	"github.com/zombar/wgkeeper/internal/peers"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "wgkeeper",
		Short:   "WireGuard peer lifecycle manager",
		Version: fmt.Sprintf("%s (%s)", Version, Commit),
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogging()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/wgkeeper/wgkeeper.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(addCmd(), removeCmd(), listCmd(), statusCmd(), exportCmd(), serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// newManager loads the config and wires the controller the config asks
// for: Docker exec when a container is named, host commands otherwise.
func newManager() (*peers.Manager, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	var ctrl control.Controller
	if cfg.Reload.Container != "" {
		dc, err := control.NewDockerController(
			cfg.Reload.DockerHost,
			cfg.Reload.Container,
			cfg.Interface,
			cfg.Reload.ConfPath,
			control.ReloadMethod(cfg.Reload.Method),
		)
		if err != nil {
			return nil, nil, err
		}
		ctrl = dc
	} else {
		ctrl = &control.LocalController{
			Interface:  cfg.Interface,
			ConfigPath: cfg.ConfigPath,
		}
	}

	return peers.NewManager(cfg, ctrl, metrics.New(cfg.Interface)), cfg, nil
}

func addCmd() *cobra.Command {
	var qrPath string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a peer and print its connection profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, _, err := newManager()
			if err != nil {
				return err
			}

			identity, err := manager.AddPeer(cmd.Context(), args[0])
			var reloadErr *peers.ReloadError
			if errors.As(err, &reloadErr) && reloadErr.Identity != nil {
				identity = reloadErr.Identity
				log.Warn().Err(reloadErr.Err).Msg("peer created but interface reload failed; it becomes active on the next successful reload")
			} else if err != nil {
				return err
			}

			fmt.Printf("peer %s created with address %s\n", identity.Name, identity.Address)
			return printProfile(manager, identity.Name, qrPath)
		},
	}
	cmd.Flags().StringVar(&qrPath, "qr", "", "write the profile QR code PNG to this file")
	return cmd
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, _, err := newManager()
			if err != nil {
				return err
			}

			err = manager.RemovePeer(cmd.Context(), args[0])
			var reloadErr *peers.ReloadError
			if errors.As(err, &reloadErr) {
				log.Warn().Err(reloadErr.Err).Msg("peer removed but interface reload failed; it stays active until the next successful reload")
			} else if err != nil {
				return err
			}

			fmt.Printf("peer %s removed\n", args[0])
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List managed peers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			manager, _, err := newManager()
			if err != nil {
				return err
			}

			list, err := manager.ListPeers()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("no peers")
				return nil
			}
			for i, p := range list {
				fmt.Printf("%2d. %-20s %-15s %s\n", i+1, p.Name, p.Address, p.PublicKey)
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show live peer status from the running interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, _, err := newManager()
			if err != nil {
				return err
			}

			status, err := manager.Status(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("interface %s: %d peer(s)\n", status.Interface, len(status.Peers))
			for _, p := range status.Peers {
				if p.NeverConnected {
					fmt.Printf("  %-20s %-15s never connected\n", p.Name, p.Address)
					continue
				}
				age := time.Since(time.Unix(p.LastHandshake, 0)).Round(time.Second)
				fmt.Printf("  %-20s %-15s handshake %s ago, rx %d B, tx %d B, endpoint %s\n",
					p.Name, p.Address, age, p.ReceiveBytes, p.TransmitBytes, p.Endpoint)
			}
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var qrPath string

	cmd := &cobra.Command{
		Use:   "export <name>",
		Short: "Print a peer's connection profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			manager, _, err := newManager()
			if err != nil {
				return err
			}
			return printProfile(manager, args[0], qrPath)
		},
	}
	cmd.Flags().StringVar(&qrPath, "qr", "", "write the profile QR code PNG to this file")
	return cmd
}

func printProfile(manager *peers.Manager, name, qrPath string) error {
	text, png, err := manager.Export(name)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Print(text)

	if qrPath != "" {
		if err := os.WriteFile(qrPath, png, 0600); err != nil {
			return fmt.Errorf("write QR code: %w", err)
		}
		log.Info().Str("path", qrPath).Msg("QR code written")
	}
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, cfg, err := newManager()
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              cfg.Serve.Listen,
				Handler:           api.NewServer(manager, cfg.Serve.AuthToken),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-cmd.Context().Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Info().Str("listen", cfg.Serve.Listen).Msg("admin API listening")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}
