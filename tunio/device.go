// Package tunio adapts golang.zx2c4.com/wireguard/tun's platform tun
// device to the single Device interface the datapath orchestrator needs,
// so no other package imports the platform tun package directly (spec
// §4.13). Grounded on the read/write-with-offset shape shown by the
// wireguard-go-family tun.Device implementations in the pack (e.g. the
// multihop tun adapter), simplified here to one packet per call since
// the datapath drives tun I/O itself rather than batching.
package tunio

import (
	"fmt"

	"golang.zx2c4.com/wireguard/tun"
)

// Device is the minimal tun-device contract the orchestrator depends on
// (spec §6 "Tun device contract", §4.13).
type Device interface {
	// Read reads one IP packet into buf starting at offset, returning its
	// length.
	Read(buf []byte, offset int) (int, error)
	// Write writes one IP packet from buf starting at offset.
	Write(buf []byte, offset int) (int, error)
	Close() error
	MTU() (int, error)
}

// wgDevice adapts tun.Device to Device.
type wgDevice struct {
	dev tun.Device
}

// Open creates a platform tun device with the given requested name and
// MTU (spec §4.8 DeviceConfig). The returned name may differ from the
// requested one (OS-assigned), mirroring tun.CreateTUN's contract.
func Open(name string, mtu int) (Device, error) {
	dev, err := tun.CreateTUN(name, mtu)
	if err != nil {
		return nil, fmt.Errorf("open tun device %q: %w", name, err)
	}
	return &wgDevice{dev: dev}, nil
}

func (w *wgDevice) Read(buf []byte, offset int) (int, error) {
	return w.dev.Read(buf, offset)
}

func (w *wgDevice) Write(buf []byte, offset int) (int, error) {
	return w.dev.Write(buf, offset)
}

func (w *wgDevice) Close() error { return w.dev.Close() }

func (w *wgDevice) MTU() (int, error) { return w.dev.MTU() }
