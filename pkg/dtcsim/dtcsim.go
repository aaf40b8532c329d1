// Package dtcsim provides a small public surface for reusing this
// repository as a library. The implementation lives in internal/ and may
// change without notice.
package dtcsim

import (
	"context"

	"dtcsim/internal/config"
	"dtcsim/internal/profile"
	"dtcsim/internal/router"
)

// --- Config ---

type Config = config.Config

type TunConfig = config.TunConfig

type SessionConfig = config.SessionConfig

type ProfileConfig = config.ProfileConfig

type MetricsConfig = config.MetricsConfig

// LoadConfig loads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// --- Network profile ---

type Profile = profile.Profile

type Direction = profile.Direction

const (
	Up   = profile.Up
	Down = profile.Down
)

func NewFixedDelay(ms int) profile.DelayConfig { return profile.NewFixedDelay(ms) }

func NewSymmetricLoss(pct float64) profile.LossConfig { return profile.NewSymmetricLoss(pct) }

// --- Router ---

type Router = router.Router

type TunIO = router.TunIO

type Protector = router.Protector

type Stats = router.Stats

// NewRouter constructs a Router bound to tun, with protect applied to every
// native socket before connect. A nil protect is a no-op.
func NewRouter(tun TunIO, cfg router.Config, protect Protector) *Router {
	return router.New(tun, cfg, protect)
}

// OpenTun attaches to an existing tun interface named device.
func OpenTun(device string, mtu int) (TunIO, error) { return router.OpenTun(device, mtu) }

// DefaultProtector returns the host-OS default Protector for the given
// fwmark (0 disables marking).
func DefaultProtector(mark uint32) Protector { return router.DefaultProtector(mark) }

// ServeMetrics serves rtr's Prometheus metrics on addr until ctx is
// cancelled.
func ServeMetrics(ctx context.Context, rtr *Router, addr string) error {
	return rtr.ServeMetrics(ctx, addr)
}
