package asyncdns

import (
	"time"
)

// SocketBad is the sentinel passed to Process for "no socket of interest in this direction".
const SocketBad = -1

// PollFD is one row of the channel's current socket interest, as consumed by the host's poller.
type PollFD struct {
	FD    int
	Read  bool
	Write bool
}

// GetSock reports the sockets the channel currently cares about and the directions it wants them
// polled in. The host must re-query after every Process call and after every submission, as
// progress changes socket interest.
func (c *Channel) GetSock() []PollFD {
	fds := make([]PollFD, 0, len(c.conns))
	for _, conn := range c.conns {
		if conn.closed {
			continue
		}
		fds = append(fds, PollFD{FD: conn.sock.FD(), Read: true, Write: conn.wantWrite()})
	}

	return fds
}

// Process is the channel's progress point. The host calls it with the fd its poller reported
// readable and/or writable (SocketBad for neither direction) whenever readiness or a timeout is
// observed. All consequent user callbacks fire on this call-stack before Process returns.
func (c *Channel) Process(readFD, writeFD int) {
	if c.destroyed {
		return
	}

	if writeFD != SocketBad {
		if conn := c.connByFD(writeFD); conn != nil {
			if err := conn.flush(); err != nil {
				c.teardownConn(conn)
			}
		}
	}
	if readFD != SocketBad {
		if conn := c.connByFD(readFD); conn != nil {
			if err := conn.handleReadable(); err != nil {
				c.teardownConn(conn)
			}
		}
	}

	c.processTimeouts(c.now())
	c.closeIdle()
	c.drain()
}

// ProcessAll drives every connection in both directions plus timer expiry. Convenient for hosts
// whose poller reports readiness en masse, and equivalent to calling Process once per ready fd.
func (c *Channel) ProcessAll() {
	if c.destroyed {
		return
	}

	conns := make([]*connection, len(c.conns))
	copy(conns, c.conns) // Processing can add and remove connections under us
	for _, conn := range conns {
		if conn.closed {
			continue
		}
		if err := conn.flush(); err != nil {
			c.teardownConn(conn)
			continue
		}
		if err := conn.handleReadable(); err != nil {
			c.teardownConn(conn)
		}
	}

	c.processTimeouts(c.now())
	c.closeIdle()
	c.drain()
}

// connByFD finds the live connection owning the fd, or nil.
func (c *Channel) connByFD(fd int) *connection {
	for _, conn := range c.conns {
		if !conn.closed && conn.sock.FD() == fd {
			return conn
		}
	}

	return nil
}

// Timeout returns how long the host's poller may wait before calling Process again: the smallest
// per-try deadline across in-flight queries, clamped to [0, max]. With nothing in flight it
// returns max.
func (c *Channel) Timeout(max time.Duration) time.Duration {
	now := c.now()
	best := max
	for _, q := range c.queries {
		if q.conn == nil {
			continue
		}
		d := q.deadline.Sub(now)
		if d < 0 {
			d = 0
		}
		if d < best {
			best = d
		}
	}

	return best
}
