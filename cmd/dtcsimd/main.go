// Command dtcsimd runs the dtcsim packet router: it attaches to a tun
// device, applies a configured network profile, and shapes every packet
// crossing the simulated link.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dtcsim/internal/config"
	"dtcsim/internal/router"
)

var version = "dev"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "dtcsimd",
	Short: "userspace network emulator for DTC/satellite-style links",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "attach to the configured tun device and start shaping traffic",
	RunE:  runRouter,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "fetch a one-shot Prometheus scrape from a running dtcsimd's metrics endpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  fetchStats,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the dtcsimd version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "dtcsim.yaml", "config file path")
	rootCmd.AddCommand(runCmd, statsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dtcsimd: %v\n", err)
		os.Exit(1)
	}
}

func runRouter(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	tun, err := router.OpenTun(cfg.Tun.Device, cfg.Tun.MTU)
	if err != nil {
		return fmt.Errorf("tun: %w", err)
	}

	tunAddr, err := parseIPv4(cfg.Tun.Address)
	if err != nil {
		return fmt.Errorf("tun.address: %w", err)
	}

	logger := slog.Default()
	rtr := router.New(tun, router.Config{
		TunAddress:       tunAddr,
		MTU:              cfg.Tun.MTU,
		UDPIdleTimeout:   cfg.Session.UDPIdleTimeout,
		TCPIdleTimeout:   cfg.Session.TCPIdleTimeout,
		SweepInterval:    cfg.Session.SweepInterval,
		ReassemblyMaxLen: cfg.Session.ReassemblyMaxLen,
		TCPRejectPorts:   cfg.Session.TCPRejectPorts,
		Logger:           logger,
	}, router.DefaultProtector(cfg.Fwmark))

	rtr.SetProfile(cfg.Profile.BuildProfile())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := rtr.ServeMetrics(ctx, cfg.Metrics.Listen); err != nil {
				logger.Error("dtcsim: metrics server stopped", "error", err)
			}
		}()
		logger.Info("dtcsim: metrics listening", "addr", cfg.Metrics.Listen)
	}

	rtr.Start()
	logger.Info("dtcsim: router started", "tun", cfg.Tun.Device, "address", cfg.Tun.Address)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	logger.Info("dtcsim: shutting down")
	cancel()
	rtr.Stop()
	return nil
}

func fetchStats(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", args[0]))
	if err != nil {
		return fmt.Errorf("fetch metrics: %w", err)
	}
	defer resp.Body.Close()
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func parseIPv4(s string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(s)
	if ip == nil {
		return out, fmt.Errorf("invalid IPv4 address %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return out, fmt.Errorf("%q is not an IPv4 address", s)
	}
	copy(out[:], v4)
	return out, nil
}
