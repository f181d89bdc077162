/*
Package qcache is a TTL-honoring cache of parsed DNS responses keyed by (qclass, qtype, lowercased
qname). It exists so a caller's immediate re-query is answered without touching the network.

Positive responses live for the smallest TTL found in the answer and authority sections; negative
responses (NXDOMAIN, and NOERROR with no answers) live for the RFC2308 SOA MINIMUM. Both are capped
by the configured maximum. A hit is returned as a copy with its TTLs aged by the whole seconds the
entry has been held.

The cache is mutated only by the channel's owner goroutine so it carries no locking - it is NOT
safe for concurrent use.
*/
package qcache

import (
	"fmt"
	"strings"
	"time"

	"github.com/markdingo/asyncdns/internal/dnsutil"

	"github.com/miekg/dns"
)

// sweepFloor is the smallest entry count at which an eager eviction sweep is considered. Below
// this, expired entries are only evicted lazily as lookups trip over them. sweepInterval bounds
// how often a full sweep can run.
const (
	sweepFloor    = 64
	sweepInterval = 10 * time.Second
)

// Key is the cache fingerprint. Name must be the canonical lowercased FQDN - the blank root name
// "." is a valid key.
type Key struct {
	QClass uint16
	QType  uint16
	Name   string
}

// NewKey builds a fingerprint from a question, folding the name to its canonical lowercase FQDN
// form.
func NewKey(qclass, qtype uint16, name string) Key {
	return Key{QClass: qclass, QType: qtype, Name: strings.ToLower(dns.Fqdn(name))}
}

type entry struct {
	resp     *dns.Msg
	inserted time.Time
	expires  time.Time
}

// cacheStats is a separate struct so resetCounters is trivial and resilient to changes.
type cacheStats struct {
	hits      int
	misses    int
	inserts   int
	rejects   int // Insert offers the cache declined (uncacheable rcode, no TTL source)
	evictions int
}

// Cache maps fingerprints to parsed responses. Construct with New.
type Cache struct {
	maxTTL    time.Duration
	entries   map[Key]*entry
	lastSweep time.Time

	cacheStats
}

// New constructs a cache whose entries never outlive maxTTL regardless of what the response TTLs
// claim.
func New(maxTTL time.Duration) *Cache {
	return &Cache{
		maxTTL:  maxTTL,
		entries: make(map[Key]*entry),
	}
}

// Lookup returns a copy of the cached response with its TTLs reduced by the whole seconds the
// entry has been held, or nil on a miss. An expired entry is evicted and counts as a miss.
func (t *Cache) Lookup(key Key, now time.Time) *dns.Msg {
	e, ok := t.entries[key]
	if !ok {
		t.misses++
		return nil
	}
	if !now.Before(e.expires) {
		delete(t.entries, key)
		t.evictions++
		t.misses++
		return nil
	}

	t.hits++
	resp := e.resp.Copy()
	age := uint32(now.Sub(e.inserted) / time.Second)
	if age > 0 {
		dnsutil.ReduceTTL(resp, age, 1)
	}

	return resp
}

// Insert offers a response to the cache. Only NOERROR and NXDOMAIN responses are cacheable;
// negative outcomes additionally require an SOA in the authority section to provide the RFC2308
// lifetime. A response that yields a zero lifetime is declined. Inserting over an existing key
// replaces it, which is also how at most one entry per key is maintained when a key is resolved
// twice in flight.
func (t *Cache) Insert(key Key, resp *dns.Msg, now time.Time) bool {
	ttl, ok := t.lifetime(resp)
	if !ok || ttl == 0 {
		t.rejects++
		return false
	}

	life := time.Duration(ttl) * time.Second
	if life > t.maxTTL {
		life = t.maxTTL
	}
	if life <= 0 {
		t.rejects++
		return false
	}

	t.entries[key] = &entry{resp: resp.Copy(), inserted: now, expires: now.Add(life)}
	t.inserts++
	t.maybeSweep(now)

	return true
}

// lifetime derives the cache lifetime in seconds from the response, or false for uncacheable
// responses.
func (t *Cache) lifetime(resp *dns.Msg) (uint32, bool) {
	switch resp.Rcode {
	case dns.RcodeSuccess:
		if len(resp.Answer) > 0 {
			return dnsutil.MinTTL(resp)
		}
		return dnsutil.NegativeTTL(resp) // NODATA needs an SOA
	case dns.RcodeNameError:
		return dnsutil.NegativeTTL(resp)
	}

	return 0, false
}

// maybeSweep eagerly evicts expired entries once the table has grown past the sweep floor,
// bounding the backlog of dead entries that lazy eviction alone would leave behind. The
// sweepInterval gate keeps a busy insert path from rescanning the whole table continuously.
func (t *Cache) maybeSweep(now time.Time) {
	if len(t.entries) < sweepFloor {
		return
	}
	if now.Sub(t.lastSweep) < sweepInterval {
		return
	}
	t.lastSweep = now
	for key, e := range t.entries {
		if !now.Before(e.expires) {
			delete(t.entries, key)
			t.evictions++
		}
	}
}

// Flush discards all entries. Reinit uses this as cached answers may predate a configuration
// change.
func (t *Cache) Flush() {
	t.evictions += len(t.entries)
	t.entries = make(map[Key]*entry)
}

// Len returns the current entry count, dead or alive.
func (t *Cache) Len() int {
	return len(t.entries)
}

// Report returns a single-line summary of cache activity, optionally resetting the counters.
func (t *Cache) Report(resetCounters bool) string {
	s := fmt.Sprintf("entries=%d hits=%d misses=%d inserts=%d rejects=%d evictions=%d",
		len(t.entries), t.hits, t.misses, t.inserts, t.rejects, t.evictions)
	if resetCounters {
		t.cacheStats = cacheStats{}
	}

	return s
}
