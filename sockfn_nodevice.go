//go:build unix && !linux

package asyncdns

import (
	"errors"
)

// SO_BINDTODEVICE is a Linux facility; elsewhere a configured local device is a hard error rather
// than a silent ignore.
func bindToDevice(fd int, device string) error {
	return errors.New("local device binding is not supported on this platform")
}
