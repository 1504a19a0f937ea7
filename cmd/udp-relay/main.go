// Package main provides the CLI entry point for the UDP relay.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postalsys/udprelay/internal/config"
	"github.com/postalsys/udprelay/internal/logging"
	"github.com/postalsys/udprelay/internal/metrics"
	"github.com/postalsys/udprelay/internal/relay"
	"github.com/postalsys/udprelay/internal/sysinfo"
	"github.com/postalsys/udprelay/internal/wizard"
)

// Version is set at build time via ldflags. When left at "dev", the
// enhanced dev version from sysinfo (commit hash or process start time) is
// used instead.
var Version = "dev"

func init() {
	if Version == "dev" {
		Version = sysinfo.Version
	} else {
		sysinfo.Version = Version
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "udp-relay",
		Short: "udp-relay - a flow-tracking UDP NAT relay",
		Long: `udp-relay listens on a UDP address and forwards every datagram it
receives to a single fixed destination, tracking each client behind a
per-client upstream socket so replies are demultiplexed back to the
right sender.`,
		Version: Version,
	}

	run := runCmd()
	rootCmd.AddCommand(run)

	setup := setupCmd()
	rootCmd.AddCommand(setup)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string
	var listenOverride string
	var destOverride string
	var idleTimeoutOverride time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the relay",
		Long:  "Start the relay with the specified configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Flags override the config file, matching the teacher's
			// flag-overrides-config precedent.
			if listenOverride != "" {
				host, port, err := splitHostPort(listenOverride)
				if err != nil {
					return fmt.Errorf("invalid --listen: %w", err)
				}
				cfg.Listen.Address, cfg.Listen.Port = host, port
			}
			if destOverride != "" {
				host, port, err := splitHostPort(destOverride)
				if err != nil {
					return fmt.Errorf("invalid --destination: %w", err)
				}
				cfg.Destination.Address, cfg.Destination.Port = host, port
			}
			if idleTimeoutOverride > 0 {
				cfg.IdleTimeout = idleTimeoutOverride
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

			listenAddr, err := cfg.ListenAddr()
			if err != nil {
				return fmt.Errorf("invalid listen address: %w", err)
			}
			destAddr, err := cfg.DestinationAddr()
			if err != nil {
				return fmt.Errorf("invalid destination address: %w", err)
			}
			bindTemplate, err := cfg.BindTemplateAddr()
			if err != nil {
				return fmt.Errorf("invalid source_bind address: %w", err)
			}

			listener, err := relay.Open(listenAddr)
			if err != nil {
				return fmt.Errorf("failed to open listener: %w", err)
			}

			relayMetrics := metrics.NewMetricsWithRegistry(prometheus.DefaultRegisterer)

			engine := relay.New(listener, relay.Config{
				Destination:  destAddr,
				BindTemplate: bindTemplate,
				MaxAge:       cfg.IdleTimeout,
				Logger:       logger,
				Metrics:      relayMetrics,
			})

			var metricsServer *http.Server
			if cfg.Metrics.Address != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				metricsServer = &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
				go func() {
					if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("metrics server failed", logging.KeyError, err)
					}
				}()
				fmt.Printf("Metrics: http://%s/metrics\n", cfg.Metrics.Address)
			}

			fmt.Printf("Starting udp-relay...\n")
			fmt.Printf("Listening on %s\n", listener.LocalAddr().String())
			fmt.Printf("Forwarding to %s\n", destAddr.String())
			fmt.Printf("Idle timeout: %s, max datagram size: %s\n",
				cfg.IdleTimeout, humanize.Bytes(uint64(relay.MaxDatagramSize)))

			ctx, cancel := context.WithCancel(context.Background())
			runErrCh := make(chan error, 1)
			go func() {
				runErrCh <- engine.Run(ctx)
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
			case err := <-runErrCh:
				cancel()
				if err != nil {
					return fmt.Errorf("relay stopped unexpectedly: %w", err)
				}
				return nil
			}

			engine.Stop()
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			select {
			case <-runErrCh:
			case <-shutdownCtx.Done():
				fmt.Println("Shutdown timed out waiting for relay to stop.")
			}

			if metricsServer != nil {
				metricsServer.Shutdown(shutdownCtx)
			}

			fmt.Println("Relay stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./udprelay.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&listenOverride, "listen", "", "Override listen.address/port, as host:port")
	cmd.Flags().StringVar(&destOverride, "destination", "", "Override destination.address/port, as host:port")
	cmd.Flags().DurationVar(&idleTimeoutOverride, "idle-timeout", 0, "Override idle_timeout")

	return cmd
}

// splitHostPort parses a "host:port" flag value into its netaddr-ready parts.
func splitHostPort(s string) (string, uint16, error) {
	host, portText, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.ParseUint(portText, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portText, err)
	}
	return host, uint16(port), nil
}

func setupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "wizard",
		Short: "Run the interactive setup wizard",
		Long:  "Interactively build a configuration file for the relay.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("wizard requires an interactive terminal; write %s by hand instead", configPath)
			}
			w := wizard.New(os.Stdin, os.Stdout)
			result, err := w.Run(configPath)
			if err != nil {
				return fmt.Errorf("setup failed: %w", err)
			}

			data, err := result.MarshalYAML()
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}

			if err := os.WriteFile(result.ConfigPath, data, 0o600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Printf("\nConfiguration written to %s\n", result.ConfigPath)
			fmt.Printf("Start the relay with: udp-relay run -c %s\n", result.ConfigPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./udprelay.yaml", "Path to write configuration file")

	return cmd
}
