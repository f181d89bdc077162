/*
Package dnsutil provides helper methods to manipulate the fiddly EDNS0 OPT bits, RFC7873 COOKIE
options, DNS-0x20 query name encoding and TTL reduction in a "github.com/miekg/dns.Msg". The caller
is assumed to have checked that the dns.Msg is a legitimate IN/Query prior to calling any of these
functions.
*/
package dnsutil

import (
	"github.com/markdingo/asyncdns/internal/constants"

	"github.com/miekg/dns"
)

var (
	consts = constants.Get()
)

// FindOPT searches dns.Msg.Extra for the first occurrence of an OPT RR. There should only be one.
//
// Return *dns.OPT if found otherwise nil
func FindOPT(q *dns.Msg) *dns.OPT {
	for _, rr := range q.Extra { // Search Extra for OPT RRs
		if opt, ok := rr.(*dns.OPT); ok {
			return opt
		}
	}

	return nil
}

// RemoveEDNS0FromOPT aggressively removes all occurrences of the specified EDNS0 sub-option in the
// Extra RR list of a dns.Msg. It makes the worst-case assumption that there may be multiple options
// and sub-options. The channel uses this to strip caller-supplied COOKIE options from submitted
// queries as cookie management belongs to the channel, not the caller.
//
// True is returned if at least one sub-option was removed.
func RemoveEDNS0FromOPT(msg *dns.Msg, edns0Code uint16) (removed bool) {
	outRRs := make([]dns.RR, 0) // Construct an array of surviving RRs
	for _, rr := range msg.Extra {
		inOpt, ok := rr.(*dns.OPT)
		if !ok { // Non OPT RRs get copied straight across
			outRRs = append(outRRs, rr)
			continue
		}

		outOpt := &dns.OPT{Hdr: inOpt.Hdr} // Create a new OPT RR to contain the option survivors
		for _, opt := range inOpt.Option { // Search within the OPT RR for the doomed option
			if opt.Option() == edns0Code {
				removed = true
				continue
			}
			outOpt.Option = append(outOpt.Option, opt) // Other options survive
		}
		if len(outOpt.Option) > 0 { // Only append new OPT RR if it's not empty
			outRRs = append(outRRs, outOpt)
		}
	}

	if removed {
		msg.Extra = outRRs // Return survivors to the message - if any
	}

	return
}

// RemoveOPT removes all OPT RRs from the Extra section of a dns.Msg. Used when a query is
// re-issued without EDNS after a FORMERR response from an old server.
//
// True is returned if at least one OPT RR was removed.
func RemoveOPT(msg *dns.Msg) (removed bool) {
	outRRs := make([]dns.RR, 0, len(msg.Extra))
	for _, rr := range msg.Extra {
		if _, ok := rr.(*dns.OPT); ok {
			removed = true
			continue
		}
		outRRs = append(outRRs, rr)
	}

	if removed {
		msg.Extra = outRRs
	}

	return
}

// NewOPT creates a populated msg.OPT RR as a zero-values struct is not a valid OPT. The advertised
// UDP payload size defaults to the EDNSDefaultPayloadSize constant when the supplied size is zero.
func NewOPT(udpSize uint16) *dns.OPT {
	if udpSize == 0 {
		udpSize = consts.EDNSDefaultPayloadSize
	}
	optRR := &dns.OPT{}
	optRR.SetVersion(0)
	optRR.SetUDPSize(udpSize)
	optRR.Hdr.Name = "."
	optRR.Hdr.Rrtype = dns.TypeOPT

	return optRR
}

// ExtendedRcode reassembles the 12bit extended RCODE from the 4bit header field and the high eight
// bits carried in the OPT RR TTL (RFC6891). Without an OPT RR the header RCODE is returned
// unchanged. Needed to see BADCOOKIE (23) which does not fit in the header field.
func ExtendedRcode(msg *dns.Msg) int {
	opt := FindOPT(msg)
	if opt == nil {
		return msg.Rcode
	}

	// miekg folds ExtendedRcode()<<4 | header bits together for us but only when the OPT TTL
	// carries a non-zero high byte. ExtendedRcode() returns the full 12 bit value already
	// shifted, so or-ing in the low four bits from the header is all that's left to do.
	if opt.ExtendedRcode() == 0 {
		return msg.Rcode
	}

	return opt.ExtendedRcode() | (msg.Rcode & 0xF)
}
