package asyncdns

// The in-process mock name server layer. It plugs into a Channel through the SocketFunctions
// injection point, parses everything the engine transmits, and answers from a programmable
// responder - so the full engine, connection manager and codec path is exercised without a single
// real socket. Replies land in the mock socket's read queue; the test harness then drives the
// channel exactly as a polling host would.

import (
	"encoding/binary"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/markdingo/asyncdns/internal/dnsutil"

	"github.com/miekg/dns"
)

// responder computes the reply for one received query, or nil for "never answer".
type responder func(req *dns.Msg, transport Transport) *dns.Msg

type mockServerState struct {
	addr       string
	respond    responder
	reqs       []*dns.Msg  // Every request as parsed, in arrival order
	transports []Transport // Transport of the corresponding request
}

// udpCount and tcpCount report how many requests arrived per transport.
func (t *mockServerState) udpCount() int { return t.transportCount(TransportUDP) }
func (t *mockServerState) tcpCount() int { return t.transportCount(TransportTCP) }

func (t *mockServerState) transportCount(tr Transport) int {
	n := 0
	for _, x := range t.transports {
		if x == tr {
			n++
		}
	}
	return n
}

type mockSockFns struct {
	servers map[string]*mockServerState
	nextFD  int
	dials   []string         // "udp 1.2.3.4:53" per successful dial
	dialErr map[string]error // Force dial failures per address
	socks   []*mockSock
}

func newMockSockFns() *mockSockFns {
	return &mockSockFns{
		servers: make(map[string]*mockServerState),
		dialErr: make(map[string]error),
		nextFD:  100,
	}
}

// server returns (creating as needed) the programmable state for an address.
func (t *mockSockFns) server(addr string) *mockServerState {
	s, ok := t.servers[addr]
	if !ok {
		s = &mockServerState{addr: addr}
		t.servers[addr] = s
	}
	return s
}

func (t *mockSockFns) dialCount(transport Transport) int {
	n := 0
	for _, d := range t.dials {
		if d[:3] == string(transport) {
			n++
		}
	}
	return n
}

func (t *mockSockFns) Dial(transport Transport, address string, cfg SocketConfig) (Socket, error) {
	if err := t.dialErr[address]; err != nil {
		return nil, err
	}
	if cfg.Configure != nil {
		if err := cfg.Configure(-1); err != nil { // Mock sockets have no real pre-connect fd
			return nil, err
		}
	}
	t.nextFD++
	sock := &mockSock{fns: t, srv: t.server(address), transport: transport, fd: t.nextFD}
	t.socks = append(t.socks, sock)
	t.dials = append(t.dials, string(transport)+" "+address)

	return sock, nil
}

type mockSock struct {
	fns       *mockSockFns
	srv       *mockServerState
	transport Transport
	fd        int

	readQ    [][]byte // UDP: datagrams. TCP: stream runs
	tcpAccum []byte   // Partial inbound frame assembly
	closed   bool
}

func (t *mockSock) FD() int { return t.fd }

func (t *mockSock) Write(p []byte) (int, error) {
	if t.closed {
		return 0, fmt.Errorf("mock: write on closed socket")
	}
	if t.transport == TransportUDP {
		t.handleRequest(append([]byte{}, p...))
		return len(p), nil
	}

	t.tcpAccum = append(t.tcpAccum, p...)
	for len(t.tcpAccum) >= 2 {
		frameLen := int(binary.BigEndian.Uint16(t.tcpAccum))
		if len(t.tcpAccum) < 2+frameLen {
			break
		}
		t.handleRequest(append([]byte{}, t.tcpAccum[2:2+frameLen]...))
		t.tcpAccum = t.tcpAccum[2+frameLen:]
	}

	return len(p), nil
}

func (t *mockSock) handleRequest(wire []byte) {
	req := new(dns.Msg)
	if err := req.Unpack(wire); err != nil {
		return
	}
	t.srv.reqs = append(t.srv.reqs, req)
	t.srv.transports = append(t.srv.transports, t.transport)
	if t.srv.respond == nil {
		return
	}
	resp := t.srv.respond(req, t.transport)
	if resp == nil {
		return
	}
	out, err := resp.Pack()
	if err != nil {
		panic("mock: responder built an unpackable reply: " + err.Error())
	}
	if t.transport == TransportUDP {
		t.readQ = append(t.readQ, out)
		return
	}
	framed := make([]byte, 2+len(out))
	binary.BigEndian.PutUint16(framed, uint16(len(out)))
	copy(framed[2:], out)
	t.readQ = append(t.readQ, framed)
}

func (t *mockSock) Read(p []byte) (int, error) {
	if t.closed {
		return 0, fmt.Errorf("mock: read on closed socket")
	}
	if len(t.readQ) == 0 {
		return 0, ErrWouldBlock
	}
	chunk := t.readQ[0]
	n := copy(p, chunk)
	if n < len(chunk) && t.transport == TransportTCP {
		t.readQ[0] = chunk[n:] // Stream semantics: the remainder waits
	} else {
		t.readQ = t.readQ[1:] // Datagram semantics: excess is lost
	}

	return n, nil
}

func (t *mockSock) Close() error {
	t.closed = true
	return nil
}

// pendingData reports whether any open socket holds an undelivered reply.
func (t *mockSockFns) pendingData() bool {
	for _, s := range t.socks {
		if !s.closed && len(s.readQ) > 0 {
			return true
		}
	}
	return false
}

//////////////////////////////////////////////////////////////////////
// Reply builders
//////////////////////////////////////////////////////////////////////

// okReply builds a NOERROR reply echoing the request question (case included) with one A RR.
func okReply(req *dns.Msg, ip string) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = true
	name := req.Question[0].Name
	resp.Answer = append(resp.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   net.ParseIP(ip),
	})

	return resp
}

// rcodeReply builds an empty reply with the given rcode.
func rcodeReply(req *dns.Msg, rcode int) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Rcode = rcode

	return resp
}

// nxdomainReply includes an SOA so negative caching has a lifetime to work with.
func nxdomainReply(req *dns.Msg) *dns.Msg {
	resp := rcodeReply(req, dns.RcodeNameError)
	soa, err := dns.NewRR("example. 300 IN SOA ns.example. hm.example. 1 7200 900 86400 60")
	if err != nil {
		panic(err)
	}
	resp.Ns = append(resp.Ns, soa)

	return resp
}

// addCookieOpt attaches an OPT carrying a COOKIE whose client half echoes the request's and whose
// server half is as given. Panics if the request carried no cookie - the test wrote itself wrong.
func addCookieOpt(resp, req *dns.Msg, serverCookie []byte) {
	reqCookie, present := dnsutil.FindCookie(req)
	if !present || reqCookie == nil {
		panic("mock: request carried no usable cookie")
	}
	opt := dnsutil.NewOPT(1280)
	dnsutil.AddCookie(opt, reqCookie.Client, serverCookie)
	resp.Extra = append(resp.Extra, opt)
}

// addRawCookieOpt attaches a COOKIE option with an arbitrary literal value, for spoof and
// bad-length replies.
func addRawCookieOpt(resp *dns.Msg, value []byte) {
	opt := dnsutil.NewOPT(1280)
	dnsutil.AddCookie(opt, value, nil) // AddCookie concatenates; a single blob works fine
	resp.Extra = append(resp.Extra, opt)
}

// requestCookie extracts the parsed cookie a request carried, or nil.
func requestCookie(req *dns.Msg) *dnsutil.Cookie {
	cookie, _ := dnsutil.FindCookie(req)
	return cookie
}

//////////////////////////////////////////////////////////////////////
// Harness
//////////////////////////////////////////////////////////////////////

// harness owns a channel wired to the mock socket layer with a manually advanced clock, and plays
// the role of the polling host.
type harness struct {
	t     *testing.T
	fns   *mockSockFns
	ch    *Channel
	clock time.Time
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{t: t, fns: newMockSockFns(), clock: time.Unix(1700000000, 0)}
	opts.SocketFunctions = h.fns
	if len(opts.ResolvConfPath) == 0 {
		opts.ResolvConfPath = "/dev/null" // Hermetic: never read the host's real config
	}
	ch, err := NewChannel(opts)
	if err != nil {
		t.Fatal("NewChannel failed unexpectedly", err)
	}
	ch.now = func() time.Time { return h.clock }
	h.ch = ch

	return h
}

func (h *harness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

// run drives the channel until the done flag is set: deliver pending replies first, otherwise jump
// the clock to the next engine deadline. A bounded loop converts an engine hang into a test
// failure rather than a stuck test binary.
func (h *harness) run(done *bool) {
	h.t.Helper()
	for i := 0; i < 1000 && !*done; i++ {
		if h.fns.pendingData() {
			h.ch.ProcessAll()
			continue
		}
		d := h.ch.Timeout(time.Hour)
		if d == time.Hour {
			h.t.Fatal("engine stuck: nothing readable and no pending deadline")
		}
		h.advance(d + time.Millisecond)
		h.ch.ProcessAll()
	}
	if !*done {
		h.t.Fatal("query never completed")
	}
}

// resolve submits one query and runs the harness to completion, returning the callback outcome.
func (h *harness) resolve(name string, qtype uint16) (Status, int, *dns.Msg) {
	h.t.Helper()
	var (
		done     bool
		status   Status
		timeouts int
		resp     *dns.Msg
	)
	h.ch.QueryName(name, dns.ClassINET, qtype, func(s Status, to int, r *dns.Msg) {
		done, status, timeouts, resp = true, s, to, r
	})
	h.run(&done)

	return status, timeouts, resp
}

// answerAddrs extracts the A/AAAA strings from a response for compact assertions.
func answerAddrs(resp *dns.Msg) []string {
	if resp == nil {
		return nil
	}
	var out []string
	for _, rr := range resp.Answer {
		switch a := rr.(type) {
		case *dns.A:
			out = append(out, a.A.String())
		case *dns.AAAA:
			out = append(out, a.AAAA.String())
		}
	}

	return out
}

// constReader returns the same byte forever - handy for pinning DNS-0x20 case choices.
type constReader byte

func (t constReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(t)
	}
	return len(p), nil
}
