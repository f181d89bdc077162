//go:build linux

package asyncdns

import (
	"golang.org/x/sys/unix"
)

// bindToDevice pins the socket to a network interface with SO_BINDTODEVICE.
func bindToDevice(fd int, device string) error {
	return unix.BindToDevice(fd, device)
}
