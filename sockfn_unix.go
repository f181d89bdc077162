//go:build unix

package asyncdns

import (
	"fmt"
	"io"
	"net/netip"

	"golang.org/x/sys/unix"
)

// unixSocketFunctions is the production SocketFunctions implementation: real AF_INET/AF_INET6
// sockets created non-blocking and close-on-exec, with buffer sizes, source binding and the
// pre-connect configure hook applied in the order the channel documents.
type unixSocketFunctions struct{}

func defaultSocketFunctions() SocketFunctions {
	return unixSocketFunctions{}
}

func (t unixSocketFunctions) Dial(transport Transport, address string, cfg SocketConfig) (Socket, error) {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, fmt.Errorf("sockfn: bad address %q: %w", address, err)
	}

	domain := unix.AF_INET
	if ap.Addr().Is6() {
		domain = unix.AF_INET6
	}
	sotype := unix.SOCK_DGRAM
	if transport == TransportTCP {
		sotype = unix.SOCK_STREAM
	}

	fd, err := unix.Socket(domain, sotype, 0)
	if err != nil {
		return nil, fmt.Errorf("sockfn: socket: %w", err)
	}

	abort := func(err error) (Socket, error) {
		unix.Close(fd)
		return nil, err
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		return abort(fmt.Errorf("sockfn: set nonblock: %w", err))
	}
	unix.CloseOnExec(fd)

	if cfg.SendBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBufferSize); err != nil {
			return abort(fmt.Errorf("sockfn: SO_SNDBUF: %w", err))
		}
	}
	if cfg.ReceiveBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.ReceiveBufferSize); err != nil {
			return abort(fmt.Errorf("sockfn: SO_RCVBUF: %w", err))
		}
	}
	if len(cfg.LocalDevice) > 0 {
		if err := bindToDevice(fd, cfg.LocalDevice); err != nil {
			return abort(fmt.Errorf("sockfn: bind to device %s: %w", cfg.LocalDevice, err))
		}
	}

	if local, ok := localSockaddr(domain, cfg); ok {
		if err := unix.Bind(fd, local); err != nil {
			return abort(fmt.Errorf("sockfn: bind: %w", err))
		}
	}

	if cfg.Configure != nil {
		if err := cfg.Configure(fd); err != nil {
			return abort(err)
		}
	}

	var remote unix.Sockaddr
	if domain == unix.AF_INET {
		remote = &unix.SockaddrInet4{Addr: ap.Addr().As4(), Port: int(ap.Port())}
	} else {
		remote = &unix.SockaddrInet6{Addr: ap.Addr().As16(), Port: int(ap.Port())}
	}
	err = unix.Connect(fd, remote)
	if err != nil && err != unix.EINPROGRESS {
		return abort(fmt.Errorf("sockfn: connect %s: %w", address, err))
	}

	return &unixSocket{fd: fd, connecting: err == unix.EINPROGRESS}, nil
}

// localSockaddr builds the source bind address for the socket's family, if one was configured.
func localSockaddr(domain int, cfg SocketConfig) (unix.Sockaddr, bool) {
	if domain == unix.AF_INET && cfg.LocalIP4.IsValid() {
		return &unix.SockaddrInet4{Addr: cfg.LocalIP4.As4()}, true
	}
	if domain == unix.AF_INET6 && cfg.LocalIP6.IsValid() {
		return &unix.SockaddrInet6{Addr: cfg.LocalIP6.As16()}, true
	}

	return nil, false
}

type unixSocket struct {
	fd         int
	connecting bool
	closed     bool
}

func (t *unixSocket) FD() int {
	return t.fd
}

func (t *unixSocket) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(t.fd, p)
		switch err {
		case nil:
			if n == 0 && len(p) > 0 { // Stream peer closed
				return 0, io.EOF
			}
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, fmt.Errorf("sockfn: read: %w", err)
		}
	}
}

func (t *unixSocket) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(t.fd, p)
		switch err {
		case nil:
			t.connecting = false
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		case unix.ENOTCONN, unix.EALREADY, unix.EINPROGRESS:
			if t.connecting { // Connect has not resolved yet; try again on writability
				return 0, ErrWouldBlock
			}
			return 0, fmt.Errorf("sockfn: write: %w", err)
		default:
			// A failed non-blocking connect surfaces here; SO_ERROR names the real cause
			if t.connecting {
				if soerr, gerr := unix.GetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_ERROR); gerr == nil && soerr != 0 {
					return 0, fmt.Errorf("sockfn: connect: %w", unix.Errno(soerr))
				}
			}
			return 0, fmt.Errorf("sockfn: write: %w", err)
		}
	}
}

func (t *unixSocket) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	return unix.Close(t.fd)
}

