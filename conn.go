package asyncdns

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// maxUDPDatagram is the receive buffer for a single UDP read. EDNS can negotiate past the classic
// 512 limit so size for the worst legitimate case.
const maxUDPDatagram = 65535

// tcpReadChunk is the per-read buffer for TCP sockets; frames re-assemble across reads in recvBuf.
const tcpReadChunk = 4096

// connection is one transport endpoint to one server. UDP connections carry many queries on a
// connected datagram socket until the per-socket query cap retires them; the TCP connection is
// opened lazily and frames messages with the 2-byte big-endian length prefix.
type connection struct {
	channel   *Channel
	server    *serverInfo
	transport Transport
	sock      Socket

	queriesSent int  // Monotonic; never reset
	retired     bool // UDP: reached the query cap; drains replies but accepts no new queries

	sendQueue [][]byte // Unwritten chunks: whole datagrams for UDP, byte runs for TCP
	recvBuf   []byte   // TCP frame assembly

	waiting map[uint16]*query // Queries awaiting a reply on this connection
	closed  bool
}

// openConn dials a new connection to the server, running the host's configure and creation
// callbacks at their documented points. A callback veto closes the socket and surfaces an error;
// the engine treats that the same as a refused connection.
func (c *Channel) openConn(s *serverInfo, transport Transport) (*connection, error) {
	cfg := SocketConfig{
		SendBufferSize:    c.opts.SockSendBufferSize,
		ReceiveBufferSize: c.opts.SockReceiveBufferSize,
		LocalIP4:          c.opts.LocalIP4,
		LocalIP6:          c.opts.LocalIP6,
		LocalDevice:       c.opts.LocalDevice,
	}
	if c.sockConfigCB != nil {
		cb := c.sockConfigCB
		cfg.Configure = func(fd int) error {
			return cb(fd, transport, s.name)
		}
	}

	sock, err := c.opts.SocketFunctions.Dial(transport, s.name, cfg)
	if err != nil {
		return nil, err
	}
	if c.sockCreateCB != nil {
		if err := c.sockCreateCB(sock.FD(), transport, s.name); err != nil {
			sock.Close()
			return nil, err
		}
	}

	conn := &connection{
		channel:   c,
		server:    s,
		transport: transport,
		sock:      sock,
		waiting:   make(map[uint16]*query),
	}
	c.conns = append(c.conns, conn)
	if transport == TransportUDP {
		s.udp = conn
	} else {
		s.tcp = conn
	}

	return conn, nil
}

// send queues an encoded message and attempts to flush it. TCP messages gain the RFC1035 4.2.2
// 2-byte big-endian length prefix here.
func (t *connection) send(wire []byte) error {
	if t.transport == TransportTCP {
		framed := make([]byte, 2+len(wire))
		binary.BigEndian.PutUint16(framed, uint16(len(wire)))
		copy(framed[2:], wire)
		wire = framed
	}
	t.sendQueue = append(t.sendQueue, wire)

	return t.flush()
}

// flush writes queued chunks until done or the socket pushes back. A short write on UDP would
// split a datagram so it is promoted to a hard error; on TCP the remainder stays queued.
func (t *connection) flush() error {
	for len(t.sendQueue) > 0 {
		chunk := t.sendQueue[0]
		n, err := t.sock.Write(chunk)
		if errors.Is(err, ErrWouldBlock) {
			return nil // wantWrite is implied by the non-empty queue
		}
		if err != nil {
			return err
		}
		if n < len(chunk) {
			if t.transport == TransportUDP {
				return fmt.Errorf(me + ": short write on datagram socket")
			}
			t.sendQueue[0] = chunk[n:]
			continue
		}
		t.sendQueue = t.sendQueue[1:]
	}

	return nil
}

// wantWrite reports whether the host should poll this connection for writability.
func (t *connection) wantWrite() bool {
	return len(t.sendQueue) > 0
}

// handleReadable drains the socket and hands complete messages to the engine. Returns an error
// only for conditions that doom the connection; the caller tears it down.
func (t *connection) handleReadable() error {
	if t.transport == TransportUDP {
		return t.readDatagrams()
	}

	return t.readStream()
}

func (t *connection) readDatagrams() error {
	buf := make([]byte, maxUDPDatagram)
	for {
		n, err := t.sock.Read(buf)
		if errors.Is(err, ErrWouldBlock) {
			return nil
		}
		if err != nil {
			return err
		}
		wire := make([]byte, n)
		copy(wire, buf[:n])
		t.channel.processWire(t, wire)
		if t.closed { // processWire may complete the last query and the channel may close us
			return nil
		}
	}
}

func (t *connection) readStream() error {
	buf := make([]byte, tcpReadChunk)
	for {
		n, err := t.sock.Read(buf)
		if errors.Is(err, ErrWouldBlock) {
			break
		}
		if err != nil {
			return err
		}
		t.recvBuf = append(t.recvBuf, buf[:n]...)
	}

	// Extract as many complete frames as have arrived. A partial frame stays for next time.
	for len(t.recvBuf) >= 2 {
		frameLen := int(binary.BigEndian.Uint16(t.recvBuf))
		if len(t.recvBuf) < 2+frameLen {
			break
		}
		wire := make([]byte, frameLen)
		copy(wire, t.recvBuf[2:2+frameLen])
		t.recvBuf = t.recvBuf[2+frameLen:]
		t.channel.processWire(t, wire)
		if t.closed {
			return nil
		}
	}

	return nil
}

// close releases the socket. Bookkeeping beyond the socket itself belongs to teardownConn.
func (t *connection) close() {
	if t.closed {
		return
	}
	t.closed = true
	t.sock.Close()
}

// teardownConn closes a connection and returns every waiting query to the engine for re-dispatch.
// The teardown counts as a failure against the owning server.
func (c *Channel) teardownConn(conn *connection) {
	if conn.closed {
		return
	}
	conn.close()
	c.removeConn(conn)

	orphans := make([]*query, 0, len(conn.waiting))
	for _, q := range conn.waiting {
		orphans = append(orphans, q)
	}
	conn.waiting = make(map[uint16]*query)

	now := c.now()
	for _, q := range orphans {
		q.conn = nil
		c.pool.Result(conn.server, false, now)
		if q.probe {
			c.complete(q, StatusConnRefused, nil)
			continue
		}
		q.lastFailure = StatusConnRefused
		q.offset++
		c.dispatch(q, false)
	}
}

// removeConn unlinks the connection from the channel and its server.
func (c *Channel) removeConn(conn *connection) {
	for ix, cx := range c.conns {
		if cx == conn {
			c.conns = append(c.conns[:ix], c.conns[ix+1:]...)
			break
		}
	}
	if conn.server.udp == conn {
		conn.server.udp = nil
	}
	if conn.server.tcp == conn {
		conn.server.tcp = nil
	}
}

// closeIdle closes connections with nothing left to wait for. Retired UDP connections always
// close once drained; live connections persist when FlagStayOpen asks for that.
func (c *Channel) closeIdle() {
	stayOpen := c.opts.Flags&FlagStayOpen != 0
	var remaining []*connection
	for _, conn := range c.conns {
		if len(conn.waiting) == 0 && len(conn.sendQueue) == 0 && (conn.retired || !stayOpen) {
			conn.close()
			if conn.server.udp == conn {
				conn.server.udp = nil
			}
			if conn.server.tcp == conn {
				conn.server.tcp = nil
			}
			continue
		}
		remaining = append(remaining, conn)
	}
	c.conns = remaining
}
