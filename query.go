package asyncdns

import (
	"encoding/binary"
	"io"
	"strings"
	"time"

	"github.com/markdingo/asyncdns/internal/dnsutil"
	"github.com/markdingo/asyncdns/internal/qcache"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

// query is one in-flight resolution attempt. It is created on submission and freed only after the
// user callback has been invoked exactly once (probes have no callback but follow the same
// lifecycle). A query waits on at most one connection at a time.
type query struct {
	qid      uint16   // Wire transaction id, unique among in-flight queries on the channel
	msg      *dns.Msg // Outbound message; the question carries sentName
	key      qcache.Key
	sentName string // Exact qname as transmitted, case included, for DNS-0x20 verification
	cb       Callback

	conn     *connection
	server   *serverInfo
	deadline time.Time

	timeouts int           // Deadline expiries, reported to the callback
	attempts int           // Failover-counted sends; budget is tries x servers
	order    []*serverInfo // Dispatch order snapshot taken at first dispatch
	offset   int           // Advance through order on failover

	useTCP      bool
	ednsSent    bool // Current attempt carried an OPT RR
	noEDNS      bool // EDNS disabled for this query after a FORMERR fallback
	ednsRetried bool
	cookieSent  bool // Current attempt carried a COOKIE option
	badCookies  int  // Consecutive BADCOOKIE replies

	probe       bool
	probeTarget *serverInfo

	lastFailure Status // Status surfaced if the attempt budget runs out
	done        bool
}

// QueryName is the convenience submission: it builds a single-question recursion-desired message
// for the name, class and type and submits it as Query does. No search-list expansion occurs.
func (c *Channel) QueryName(name string, qclass, qtype uint16, cb Callback) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.Question[0].Qclass = qclass
	msg.RecursionDesired = true
	c.Query(msg, cb)
}

// Query submits a fully specified single-question message. The callback receives the outcome
// exactly once; a cache hit completes synchronously before Query returns. The message is copied -
// the caller keeps ownership of its own record. No search-list expansion occurs.
func (c *Channel) Query(msg *dns.Msg, cb Callback) {
	c.submit(msg, cb)
	c.drain()
}

// submit is the internal submission path shared by Query and the search iterator. It queues
// completions but does not drain them; public entry points drain.
func (c *Channel) submit(msg *dns.Msg, cb Callback) {
	if c.destroyed {
		c.postCompletion(cb, StatusDestruction, 0, nil)
		return
	}
	if msg == nil || len(msg.Question) != 1 {
		c.postCompletion(cb, StatusBadQuery, 0, nil)
		return
	}

	qname, status := normalizeQName(msg.Question[0].Name)
	if status != StatusSuccess {
		c.postCompletion(cb, status, 0, nil)
		return
	}

	out := msg.Copy()
	out.Question[0].Name = qname
	dnsutil.RemoveEDNS0FromOPT(out, dns.EDNS0COOKIE) // Cookie management belongs to the channel

	key := qcache.NewKey(out.Question[0].Qclass, out.Question[0].Qtype, qname)
	if c.cache != nil {
		if resp := c.cache.Lookup(key, c.now()); resp != nil {
			c.postCompletion(cb, statusForResponse(resp), 0, resp)
			return
		}
	}

	q := &query{
		msg:         out,
		key:         key,
		cb:          cb,
		sentName:    qname,
		lastFailure: StatusTimeout,
	}

	if c.opts.Flags&FlagDNS0x20 != 0 {
		sent, err := dnsutil.RandomizeCase(qname, c.random)
		if err != nil {
			c.postCompletion(cb, StatusNoMem, 0, nil)
			return
		}
		q.sentName = sent
		out.Question[0].Name = sent
	}

	qid, err := c.allocateQID()
	if err != nil {
		c.postCompletion(cb, StatusNoMem, 0, nil)
		return
	}
	q.qid = qid
	c.queries[qid] = q

	c.dispatch(q, true)
}

// allocateQID draws a transaction id that is unique among the channel's in-flight queries from the
// channel's unpredictable random source.
func (c *Channel) allocateQID() (uint16, error) {
	var b [2]byte
	for {
		if _, err := io.ReadFull(c.random, b[:]); err != nil {
			return 0, err
		}
		qid := binary.BigEndian.Uint16(b[:])
		if _, busy := c.queries[qid]; !busy {
			return qid, nil
		}
	}
}

// complete finishes a query: it is unlinked from the engine and, unless it is a probe, its user
// callback is captured for the firing phase. Calling complete on an already-completed query is a
// no-op, which is what makes the callback exactly-once.
func (c *Channel) complete(q *query, status Status, resp *dns.Msg) {
	if q.done {
		return
	}
	q.done = true
	if q.conn != nil {
		delete(q.conn.waiting, q.qid)
		q.conn = nil
	}
	delete(c.queries, q.qid)

	if q.probe {
		c.pool.ProbeDone(q.probeTarget)
		return
	}
	c.postCompletion(q.cb, status, q.timeouts, resp)
}

// normalizeQName validates a submitted name and returns its canonical FQDN form. Non-ASCII names
// go through IDNA lookup conversion to their A-label form; everything is then held to RFC1035
// label and length rules. The blank and root names are valid (they query the root).
func normalizeQName(name string) (string, Status) {
	if name == "" || name == "." {
		return ".", StatusSuccess
	}

	ascii := name
	if !isASCII(name) {
		trimmed := strings.TrimSuffix(name, ".")
		a, err := idna.Lookup.ToASCII(trimmed)
		if err != nil {
			return "", StatusBadName
		}
		ascii = a
		if strings.HasSuffix(name, ".") {
			ascii += "."
		}
	}

	if _, ok := dns.IsDomainName(ascii); !ok {
		return "", StatusBadName
	}

	return dns.Fqdn(ascii), StatusSuccess
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}

	return true
}
