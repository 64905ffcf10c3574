package collector

import (
	"context"
	"fmt"

	"golang.zx2c4.com/wireguard/wgctrl"
)

// WireGuardCollector reads per-peer transfer counters from a WireGuard
// device over the wg control interface. Identities are peer public keys
// in base64.
type WireGuardCollector struct {
	device string
	client *wgctrl.Client
}

// NewWireGuardCollector opens a control interface client for device
// (e.g. "wg0").
func NewWireGuardCollector(device string) (*WireGuardCollector, error) {
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("wireguard collector: opening control client: %w", err)
	}
	return &WireGuardCollector{device: device, client: client}, nil
}

// Close releases the control interface client.
func (c *WireGuardCollector) Close() error {
	return c.client.Close()
}

// Snapshot reads the device's current per-peer counters. The kernel call
// itself is not cancellable; ctx is checked before issuing it.
func (c *WireGuardCollector) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dev, err := c.client.Device(c.device)
	if err != nil {
		return nil, fmt.Errorf("wireguard collector: reading device %s: %w", c.device, err)
	}

	snap := make(Snapshot, len(dev.Peers))
	for _, p := range dev.Peers {
		// ReceiveBytes is traffic the peer sent to us (its uplink),
		// TransmitBytes is traffic we delivered to it (its downlink).
		snap[p.PublicKey.String()] = Counters{
			Uplink:   p.ReceiveBytes,
			Downlink: p.TransmitBytes,
		}
	}
	return snap, nil
}
