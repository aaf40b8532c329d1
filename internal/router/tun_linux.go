//go:build linux

package router

import (
	"fmt"
	"net"

	"github.com/songgao/water"
)

// tunDevice wraps the platform handle for the tun fd the router reads and
// writes full IPv4 frames on.
type tunDevice struct {
	ifce *water.Interface
	mtu  int
}

func (t *tunDevice) Read(p []byte) (int, error)  { return t.ifce.Read(p) }
func (t *tunDevice) Write(p []byte) (int, error) { return t.ifce.Write(p) }
func (t *tunDevice) Close() error                { return t.ifce.Close() }

// openTun attaches to an existing tun interface (created ahead of time by
// the host-OS collaborator, out of scope here) named by device.
func openTun(device string, wantMTU int) (*tunDevice, error) {
	if device == "" {
		return nil, fmt.Errorf("tun: device name is empty")
	}
	if _, err := net.InterfaceByName(device); err != nil {
		return nil, fmt.Errorf("tun: interface %q not found: %w", device, err)
	}

	cfg := water.Config{DeviceType: water.TUN}
	cfg.Name = device
	ifce, err := water.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("tun: open %q: %w", device, err)
	}

	ifi, err := net.InterfaceByName(device)
	if err != nil {
		_ = ifce.Close()
		return nil, fmt.Errorf("tun: stat %q after open: %w", device, err)
	}
	mtu := ifi.MTU
	if mtu <= 0 {
		mtu = wantMTU
	}
	return &tunDevice{ifce: ifce, mtu: mtu}, nil
}
