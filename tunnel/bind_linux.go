//go:build linux

package tunnel

import (
	"net"
	"syscall"
)

// bindToDevice applies SO_BINDTODEVICE to the dialer's socket so outbound
// traffic on this tunnel is pinned to a specific NIC, the mechanism
// multi-WAN setups use to put each bonded path on its own physical
// interface (spec §4.8 "bind_device"). This is an OS socket option with no
// portable library surface, so it stays on syscall rather than pulling in
// a dependency for one Control callback.
func bindToDevice(d *net.Dialer, device string) error {
	d.Control = func(network, address string, c syscall.RawConn) error {
		var controlErr error
		err := c.Control(func(fd uintptr) {
			controlErr = syscall.SetsockoptString(int(fd), syscall.SOL_SOCKET, syscall.SO_BINDTODEVICE, device)
		})
		if err != nil {
			return err
		}
		return controlErr
	}
	return nil
}
