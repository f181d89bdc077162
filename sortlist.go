package asyncdns

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// SetSortlist parses and stores a resolv.conf-style sortlist: prefixes separated by spaces or
// commas, each "address", "address/bits" or "address/netmask". The stored list is available via
// Sortlist; applying it to returned addresses is the business of the host's address-ordering
// collaborator, not the query engine.
func (c *Channel) SetSortlist(list string) error {
	if c.destroyed {
		return StatusNotInitialized
	}

	fields := strings.FieldsFunc(list, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' })
	prefixes := make([]netip.Prefix, 0, len(fields))
	for _, field := range fields {
		prefix, err := parseSortlistEntry(field)
		if err != nil {
			return fmt.Errorf(me+": sortlist %q: %w", field, err)
		}
		prefixes = append(prefixes, prefix)
	}

	c.sortlist = prefixes

	return nil
}

// Sortlist returns the stored sortlist prefixes in configured order.
func (c *Channel) Sortlist() []netip.Prefix {
	return append([]netip.Prefix{}, c.sortlist...)
}

// parseSortlistEntry handles the three historic sortlist entry forms.
func parseSortlistEntry(field string) (netip.Prefix, error) {
	addrPart, maskPart, hasMask := strings.Cut(field, "/")
	addr, err := netip.ParseAddr(addrPart)
	if err != nil {
		return netip.Prefix{}, err
	}

	if !hasMask {
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}

	// Dotted-quad netmask form predates CIDR and still appears in the wild
	if maskAddr, merr := netip.ParseAddr(maskPart); merr == nil && maskAddr.Is4() {
		bits, ok := maskBits(maskAddr.As4())
		if !ok {
			return netip.Prefix{}, errors.New("non-contiguous netmask")
		}
		return netip.PrefixFrom(addr, bits), nil
	}

	prefix, err := netip.ParsePrefix(field)
	if err != nil {
		return netip.Prefix{}, err
	}

	return prefix, nil
}

// maskBits converts a dotted-quad netmask to a prefix length, rejecting non-contiguous masks.
func maskBits(mask [4]byte) (int, bool) {
	bits := 0
	seenZero := false
	for _, b := range mask {
		for bit := 7; bit >= 0; bit-- {
			if b&(1<<bit) != 0 {
				if seenZero {
					return 0, false
				}
				bits++
			} else {
				seenZero = true
			}
		}
	}

	return bits, true
}
