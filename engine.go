package asyncdns

import (
	"bytes"
	"strings"
	"time"

	"github.com/markdingo/asyncdns/internal/dnsutil"

	"github.com/miekg/dns"
)

// maxAttempts is the failover budget: tries rounds across the effective server list.
func (c *Channel) maxAttempts() int {
	n := len(c.servers)
	if c.opts.Flags&FlagPrimary != 0 {
		n = 1
	}

	return c.opts.Tries * n
}

// dispatchOrder returns the servers in the order this dispatch should try them.
func (c *Channel) dispatchOrder() []*serverInfo {
	if c.opts.Flags&FlagPrimary != 0 {
		return c.servers[:1]
	}

	poolOrder := c.pool.DispatchOrder()
	order := make([]*serverInfo, 0, len(poolOrder))
	for _, s := range poolOrder {
		order = append(order, s.(*serverInfo))
	}

	return order
}

// dispatch assigns the query to a server and transmits it. initial marks a fresh submission as
// opposed to a failover retry; only initial dispatches may trigger an out-of-band probe. On
// transmission failure the next server is tried until the attempt budget runs out, at which point
// the query completes with its recorded failure status.
func (c *Channel) dispatch(q *query, initial bool) {
	for {
		if q.done {
			return
		}
		if q.attempts >= c.maxAttempts() {
			c.complete(q, q.lastFailure, nil)
			return
		}

		var srv *serverInfo
		if q.probe {
			srv = q.probeTarget
		} else {
			// The order is snapshotted once per submission so the failover cursor
			// walks every server even as failures re-sort the pool's view.
			if q.order == nil {
				q.order = c.dispatchOrder()
			}
			srv = q.order[q.offset%len(q.order)]
		}

		if initial {
			initial = false
			c.maybeProbe(q, srv)
		}

		if err := c.sendTo(q, srv); err == nil {
			q.attempts++
			return
		}

		// Could not even transmit - score a failure and move along
		q.attempts++
		c.pool.Result(srv, false, c.now())
		if q.probe {
			c.complete(q, StatusConnRefused, nil)
			return
		}
		q.lastFailure = StatusConnRefused
		q.offset++
	}
}

// redispatchSame re-transmits the query to the server it last used: the truncation, BADCOOKIE and
// EDNS-fallback paths, none of which count as a timeout or advance the failover cursor. Each of
// those paths is self-limiting so this cannot loop unboundedly. A transmission failure degrades to
// ordinary failover.
func (c *Channel) redispatchSame(q *query) {
	srv := q.server
	if q.conn != nil {
		delete(q.conn.waiting, q.qid)
		q.conn = nil
	}
	if err := c.sendTo(q, srv); err != nil {
		c.pool.Result(srv, false, c.now())
		if q.probe {
			c.complete(q, StatusConnRefused, nil)
			return
		}
		q.lastFailure = StatusConnRefused
		q.offset++
		c.dispatch(q, false)
	}
}

// maybeProbe asks the pool for a cooled-down failed server deserving an out-of-band probe and, if
// one exists, sends it a copy of the triggering query. The probe is a real query on the wire but
// surfaces nothing to the user; only the server's health record sees its outcome.
func (c *Channel) maybeProbe(q *query, chosen *serverInfo) {
	cand := c.pool.ProbeCandidate(c.now())
	if cand == nil {
		return
	}
	target := cand.(*serverInfo)
	if target == chosen { // The real query is already headed there
		c.pool.ProbeDone(target)
		return
	}

	qid, err := c.allocateQID()
	if err != nil {
		c.pool.ProbeDone(target)
		return
	}
	p := &query{
		qid:         qid,
		msg:         q.msg.Copy(),
		key:         q.key,
		sentName:    q.sentName,
		probe:       true,
		probeTarget: target,
		lastFailure: StatusTimeout,
	}
	c.queries[qid] = p

	if err := c.sendTo(p, target); err != nil {
		c.pool.Result(target, false, c.now())
		c.complete(p, StatusConnRefused, nil)
		return
	}
	p.attempts++
}

// sendTo encodes and transmits the query to the server, choosing or creating the transport
// connection, and arms the per-try deadline. The server state callback fires for every
// transmission.
func (c *Channel) sendTo(q *query, srv *serverInfo) error {
	transport := TransportUDP
	if q.useTCP || c.opts.Flags&FlagUseVC != 0 {
		transport = TransportTCP
	}

	conn, err := c.connFor(srv, transport)
	if err != nil {
		return err
	}

	wire, ednsSent, cookieSent, err := c.buildWire(q, srv, transport)
	if err != nil {
		return err
	}

	if err := conn.send(wire); err != nil {
		c.teardownConn(conn) // Re-queues any other waiting queries
		return err
	}

	conn.queriesSent++
	conn.waiting[q.qid] = q
	q.conn = conn
	q.server = srv
	q.ednsSent = ednsSent
	q.cookieSent = cookieSent
	q.deadline = c.now().Add(c.opts.Timeout)

	c.serverStateEvent(srv.name, false, transport)

	return nil
}

// connFor returns the server's live connection for the transport, opening one as needed. A UDP
// connection that has reached the per-socket query cap is retired: it keeps draining replies for
// its waiting queries but accepts no new ones.
func (c *Channel) connFor(srv *serverInfo, transport Transport) (*connection, error) {
	if transport == TransportTCP {
		if srv.tcp != nil && !srv.tcp.closed {
			return srv.tcp, nil
		}
		return c.openConn(srv, transport)
	}

	conn := srv.udp
	if conn != nil && !conn.closed {
		if c.opts.UDPMaxQueries <= 0 || conn.queriesSent < c.opts.UDPMaxQueries {
			return conn, nil
		}
		conn.retired = true // Drains replies; closeIdle reaps it once empty
		srv.udp = nil
	}

	return c.openConn(srv, transport)
}

// buildWire encodes the query for one attempt: EDNS OPT (unless withdrawn by FORMERR fallback)
// and, on UDP, the RFC7873 cookie carrying our client cookie plus the server cookie last accepted
// from this server.
func (c *Channel) buildWire(q *query, srv *serverInfo, transport Transport) (wire []byte, ednsSent bool, cookieSent bool, err error) {
	msg := q.msg.Copy()
	msg.Id = q.qid

	opt := dnsutil.FindOPT(msg)
	switch {
	case q.noEDNS:
		if opt != nil {
			dnsutil.RemoveOPT(msg)
		}
	case c.opts.Flags&FlagEDNS != 0 || opt != nil:
		if opt == nil {
			opt = dnsutil.NewOPT(c.opts.EDNSPayloadSize)
			msg.Extra = append(msg.Extra, opt)
		}
		ednsSent = true
		if transport == TransportUDP {
			dnsutil.AddCookie(opt, c.clientCookie, srv.cookie.server)
			cookieSent = true
		}
	}

	wire, err = msg.Pack()
	if err != nil {
		return nil, false, false, err
	}

	return wire, ednsSent, cookieSent, nil
}

// processWire validates a received message and routes it to the rcode state machine. Everything
// that fails validation is dropped without a trace - an attacker must not be able to terminate a
// query with a forgery, so a bad packet simply leaves the query waiting for its deadline.
func (c *Channel) processWire(conn *connection, wire []byte) {
	msg := new(dns.Msg)
	if err := msg.Unpack(wire); err != nil {
		return
	}
	if !msg.Response {
		return
	}

	q, waiting := conn.waiting[msg.Id]
	if !waiting || q.done {
		return
	}

	if len(msg.Question) > 0 {
		echoed := msg.Question[0].Name
		if c.opts.Flags&FlagDNS0x20 != 0 {
			if !dnsutil.CaseMatches(q.sentName, echoed) {
				return
			}
		} else if !strings.EqualFold(q.sentName, echoed) {
			return
		}
	}

	srv := conn.server
	rcode := dnsutil.ExtendedRcode(msg)
	if q.cookieSent {
		cookie, present := c.verifyCookie(srv, msg, rcode)
		if present && cookie == nil {
			return // Malformed or spoofed; both are silent drops
		}
		if !present && srv.cookie.established {
			return // Server proved cookie support before; a bare reply now is suspect
		}
	}

	// The reply is accepted from here on
	delete(conn.waiting, msg.Id)
	q.conn = nil
	c.serverStateEvent(srv.name, true, conn.transport)

	c.handleResponse(q, conn, srv, msg, rcode)
}

// verifyCookie validates the COOKIE option of a response against our client cookie and advances
// the stored server cookie on first observation or BADCOOKIE rotation. Returns (nil, true) for a
// present-but-unusable cookie, which the caller must drop.
func (c *Channel) verifyCookie(srv *serverInfo, msg *dns.Msg, rcode int) (*dnsutil.Cookie, bool) {
	cookie, present := dnsutil.FindCookie(msg)
	if !present {
		return nil, false
	}
	if cookie == nil { // Present but malformed length
		return nil, true
	}
	if !bytes.Equal(cookie.Client, c.clientCookie) { // Off-path spoof
		return nil, true
	}

	if cookie.Server != nil && (!srv.cookie.established || rcode == dns.RcodeBadCookie) {
		srv.cookie.server = append([]byte{}, cookie.Server...)
	}
	srv.cookie.established = true

	return cookie, true
}

// handleResponse is the per-rcode action table.
func (c *Channel) handleResponse(q *query, conn *connection, srv *serverInfo, msg *dns.Msg, rcode int) {
	now := c.now()

	// Truncation: same query, same server, over TCP. Not a timeout.
	if msg.Truncated && conn.transport == TransportUDP && c.opts.Flags&FlagIgnTC == 0 &&
		rcode == dns.RcodeSuccess {
		q.useTCP = true
		c.redispatchSame(q)
		return
	}

	// BADCOOKIE: adopt the rotated server cookie (done during verification) and go again
	// immediately. Repeated BADCOOKIE smells like AnyCast servers disagreeing about the
	// cookie, which only TCP can settle.
	if rcode == dns.RcodeBadCookie && q.cookieSent {
		q.badCookies++
		if q.badCookies >= consts.BadCookieTCPThreshold {
			q.useTCP = true
		}
		c.redispatchSame(q)
		return
	}
	q.badCookies = 0

	// FORMERR from a server we sent EDNS to usually means a pre-EDNS server; withdraw the OPT
	// and retry once.
	if rcode == dns.RcodeFormatError && q.ednsSent && !q.ednsRetried {
		q.ednsRetried = true
		q.noEDNS = true
		c.redispatchSame(q)
		return
	}

	switch rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
		c.pool.Result(srv, true, now)
		if !q.probe && c.cache != nil {
			c.cache.Insert(q.key, msg, now)
		}
		c.complete(q, statusForResponse(msg), msg)

	case dns.RcodeServerFailure, dns.RcodeNotImplemented, dns.RcodeRefused:
		if c.opts.Flags&FlagNoCheckResp != 0 {
			c.complete(q, statusForRcode(rcode), msg)
			return
		}
		c.serverFailureResponse(q, srv, statusForRcode(rcode), now)

	case dns.RcodeFormatError:
		// Either we never sent EDNS or the plain retry got FORMERR too - the query itself
		// is the problem, so surface it.
		c.complete(q, StatusFormErr, msg)

	default:
		c.serverFailureResponse(q, srv, StatusBadResp, now)
	}
}

// serverFailureResponse scores a failure against the server and moves the query to the next server
// in order.
func (c *Channel) serverFailureResponse(q *query, srv *serverInfo, status Status, now time.Time) {
	c.pool.Result(srv, false, now)
	if q.probe {
		c.complete(q, status, nil)
		return
	}
	q.lastFailure = status
	q.offset++
	c.dispatch(q, false)
}

// processTimeouts expires per-try deadlines: each expiry counts a timeout for the query, a failure
// for the server, and moves the query along the dispatch order. Probes simply die.
func (c *Channel) processTimeouts(now time.Time) {
	var expired []*query
	for _, q := range c.queries {
		if q.conn != nil && !q.deadline.After(now) {
			expired = append(expired, q)
		}
	}

	for _, q := range expired {
		if q.done {
			continue
		}
		delete(q.conn.waiting, q.qid)
		q.conn = nil
		c.pool.Result(q.server, false, now)
		if q.probe {
			c.complete(q, StatusTimeout, nil)
			continue
		}
		q.timeouts++
		q.lastFailure = StatusTimeout
		q.offset++
		c.dispatch(q, false)
	}
}
