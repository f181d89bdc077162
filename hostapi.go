package asyncdns

import (
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// Family selects the address family for the host facades.
type Family int

const (
	FamilyUnspec Family = 0 // Both IPv4 and IPv6
	FamilyINET   Family = 4
	FamilyINET6  Family = 6
)

// Hostent is the assembled host entry delivered by GetHostByName and GetHostByAddr: the canonical
// name after any CNAME chain, the alias names that led there, and the addresses found.
type Hostent struct {
	Name    string
	Aliases []string
	Addrs   []netip.Addr
}

// HostCallback delivers the outcome of a host facade lookup, exactly once.
type HostCallback func(status Status, timeouts int, host *Hostent)

// GetHostByName resolves a host name to addresses of the requested family, subject to search-list
// expansion. FamilyUnspec resolves both families and merges, IPv4 first; the merged lookup
// succeeds if either family does.
func (c *Channel) GetHostByName(name string, family Family, cb HostCallback) {
	switch family {
	case FamilyINET:
		c.SearchName(name, dns.ClassINET, dns.TypeA, func(status Status, timeouts int, resp *dns.Msg) {
			cb(status, timeouts, hostentFromResponse(resp, dns.TypeA))
		})
	case FamilyINET6:
		c.SearchName(name, dns.ClassINET, dns.TypeAAAA, func(status Status, timeouts int, resp *dns.Msg) {
			cb(status, timeouts, hostentFromResponse(resp, dns.TypeAAAA))
		})
	case FamilyUnspec:
		c.SearchName(name, dns.ClassINET, dns.TypeA, func(aStatus Status, aTimeouts int, aResp *dns.Msg) {
			// Second leg regardless of the first's outcome; merge favours success
			c.SearchName(name, dns.ClassINET, dns.TypeAAAA,
				func(aaaaStatus Status, aaaaTimeouts int, aaaaResp *dns.Msg) {
					timeouts := aTimeouts + aaaaTimeouts
					he4 := hostentFromResponse(aResp, dns.TypeA)
					he6 := hostentFromResponse(aaaaResp, dns.TypeAAAA)
					switch {
					case aStatus == StatusSuccess && aaaaStatus == StatusSuccess:
						cb(StatusSuccess, timeouts, mergeHostents(he4, he6))
					case aStatus == StatusSuccess:
						cb(StatusSuccess, timeouts, he4)
					case aaaaStatus == StatusSuccess:
						cb(StatusSuccess, timeouts, he6)
					default:
						cb(aStatus, timeouts, nil)
					}
				})
		})
	default:
		cb(StatusBadFamily, 0, nil)
	}
}

// GetHostByAddr resolves an address to its PTR name. The search list never applies to reverse
// names.
func (c *Channel) GetHostByAddr(addr netip.Addr, cb HostCallback) {
	if !addr.IsValid() {
		cb(StatusBadFamily, 0, nil)
		return
	}
	reverse, err := dns.ReverseAddr(addr.String())
	if err != nil {
		cb(StatusBadName, 0, nil)
		return
	}

	c.QueryName(reverse, dns.ClassINET, dns.TypePTR, func(status Status, timeouts int, resp *dns.Msg) {
		if status != StatusSuccess {
			cb(status, timeouts, nil)
			return
		}
		he := &Hostent{Addrs: []netip.Addr{addr}}
		for _, rr := range resp.Answer {
			if ptr, ok := rr.(*dns.PTR); ok {
				if len(he.Name) == 0 {
					he.Name = strings.TrimSuffix(ptr.Ptr, ".")
				} else {
					he.Aliases = append(he.Aliases, strings.TrimSuffix(ptr.Ptr, "."))
				}
			}
		}
		if len(he.Name) == 0 {
			cb(StatusNoData, timeouts, nil)
			return
		}
		cb(StatusSuccess, timeouts, he)
	})
}

// hostentFromResponse assembles a Hostent from an address response, following the CNAME chain from
// the question owner to the canonical name and collecting addresses of the requested type.
func hostentFromResponse(resp *dns.Msg, qtype uint16) *Hostent {
	if resp == nil || len(resp.Answer) == 0 {
		return nil
	}

	canonical := ""
	if len(resp.Question) > 0 {
		canonical = resp.Question[0].Name
	}

	he := &Hostent{}
	cnames := make(map[string]string) // owner -> target, case-folded owners
	for _, rr := range resp.Answer {
		if cn, ok := rr.(*dns.CNAME); ok {
			cnames[strings.ToLower(rr.Header().Name)] = cn.Target
		}
	}

	// Follow the chain; a malicious loop is bounded by the map size
	for i := 0; i <= len(cnames); i++ {
		target, ok := cnames[strings.ToLower(canonical)]
		if !ok {
			break
		}
		he.Aliases = append(he.Aliases, strings.TrimSuffix(canonical, "."))
		canonical = target
	}
	he.Name = strings.TrimSuffix(canonical, ".")

	for _, rr := range resp.Answer {
		if rr.Header().Rrtype != qtype {
			continue
		}
		switch a := rr.(type) {
		case *dns.A:
			if ip, ok := netip.AddrFromSlice(a.A.To4()); ok {
				he.Addrs = append(he.Addrs, ip)
			}
		case *dns.AAAA:
			if ip, ok := netip.AddrFromSlice(a.AAAA); ok {
				he.Addrs = append(he.Addrs, ip)
			}
		}
	}

	return he
}

// mergeHostents joins the two family results, IPv4 addresses first.
func mergeHostents(he4, he6 *Hostent) *Hostent {
	switch {
	case he4 == nil:
		return he6
	case he6 == nil:
		return he4
	}

	out := &Hostent{Name: he4.Name, Aliases: he4.Aliases}
	out.Addrs = append(out.Addrs, he4.Addrs...)
	out.Addrs = append(out.Addrs, he6.Addrs...)

	return out
}
