package dnsutil

import (
	"github.com/miekg/dns"
)

// MinTTL returns the smallest TTL across the Answer and Ns sections of a message. OPT RRs are
// skipped as their "TTL" field carries EDNS flags, not a lifetime. The second return is false when
// no countable RR exists.
func MinTTL(msg *dns.Msg) (uint32, bool) {
	found := false
	var minTTL uint32
	scan := func(rrset []dns.RR) {
		for _, rr := range rrset {
			if _, ok := rr.(*dns.OPT); ok {
				continue
			}
			ttl := rr.Header().Ttl
			if !found || ttl < minTTL {
				minTTL = ttl
				found = true
			}
		}
	}
	scan(msg.Answer)
	scan(msg.Ns)

	return minTTL, found
}

// NegativeTTL returns the RFC2308 negative caching lifetime for an NXDOMAIN or NODATA response:
// the minimum of the SOA MINIMUM field and the SOA RR TTL. The second return is false when the
// authority section has no SOA, in which case the response must not be negatively cached.
func NegativeTTL(msg *dns.Msg) (uint32, bool) {
	for _, rr := range msg.Ns {
		if soa, ok := rr.(*dns.SOA); ok {
			ttl := soa.Minttl
			if soa.Hdr.Ttl < ttl {
				ttl = soa.Hdr.Ttl
			}
			return ttl, true
		}
	}

	return 0, false
}

// ReduceTTL reduces the TTL in all the non-OPT RRs in Answer, Ns and Extra that have a TTL greater
// than "minimum", and returns how many TTLs it changed.
// "by" defines how much to reduce TTLs by and "minimum" is the lower limit that we'll ever let a
// TTL reduce to. The query cache uses this to age entries served from cache by the whole seconds
// they have been held.
func ReduceTTL(msg *dns.Msg, by uint32, minimum uint32) int {
	changeCount := 0
	if len(msg.Answer) > 0 {
		changeCount += reduceRRSet(msg.Answer, int64(by), int64(minimum))
	}
	if len(msg.Ns) > 0 {
		changeCount += reduceRRSet(msg.Ns, int64(by), int64(minimum))
	}
	if len(msg.Extra) > 0 {
		changeCount += reduceRRSet(msg.Extra, int64(by), int64(minimum))
	}

	return changeCount
}

// Helper that does the actual TTL Reduction work for the supplied RRSet. Even tho the "by" and
// "minimum" are int64 parameters we know that they originated from a uint32 so calcs in 64bit
// comfortably fit the full range of possible values without contortions.
func reduceRRSet(rrset []dns.RR, by int64, minimum int64) int {
	changeCount := 0
	for _, rr := range rrset {
		if _, ok := rr.(*dns.OPT); ok { // An OPT "TTL" is flag bits, leave it be
			continue
		}
		hdr := rr.Header()
		ttl := int64(hdr.Ttl) // Do all calcs in 64bit signed to capture interim negatives
		if ttl > minimum {    // Cannot reduce a ttl if it's already at the minimum
			ttl -= by          // Could go negative here
			if ttl < minimum { // but this catches negatives as well as too small
				ttl = minimum
			}
			if uint32(ttl) != hdr.Ttl { // Only return if we actually changed the value
				hdr.Ttl = uint32(ttl)
				changeCount++
			}
		}
	}

	return changeCount
}
