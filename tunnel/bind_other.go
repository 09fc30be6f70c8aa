//go:build !linux

package tunnel

import (
	"fmt"
	"net"
)

// bindToDevice is only implemented on Linux, where SO_BINDTODEVICE exists.
func bindToDevice(d *net.Dialer, device string) error {
	return fmt.Errorf("bind_device is not supported on this platform")
}
