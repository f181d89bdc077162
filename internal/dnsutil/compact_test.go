package dnsutil

import (
	"strings"
	"testing"

	"github.com/miekg/dns"
)

func TestCompactString(t *testing.T) {
	a1, err := dns.NewRR("a.name.example.net. 300 IN A 1.2.3.4") // Create non-sensical but valid message
	checkFatal(t, err, "newRR a1")
	a2, err := dns.NewRR("a.name.example.net. 300 IN AAAA fe80::f0a2:46ff:feb5:3c98")
	checkFatal(t, err, "newRR a2")
	a3, err := dns.NewRR("alias.example.net. 300 IN CNAME a.name.example.net.")
	checkFatal(t, err, "newRR a3")
	n1, err := dns.NewRR("example.net. 600 IN NS b.ns.example.net.")
	checkFatal(t, err, "newRR n1")
	e1, err := dns.NewRR("example.com. 600 IN SOA internal.e hostmaster. 1554301415 16384 2048 1048576 480")
	checkFatal(t, err, "newRR e1")

	m1 := &dns.Msg{
		Answer: []dns.RR{a1, a2, a3},
		Ns:     []dns.RR{n1},
		Extra:  []dns.RR{e1},
	}

	m1.SetQuestion("a.name.example.net.", dns.TypeA)
	s1 := CompactMsgString(m1)
	if !strings.Contains(s1, "AAAA*") {
		t.Error("Expected CompactMsgString to print out the AAAA", s1)
	}
	if !strings.Contains(s1, "CNAME*a.name.example.net.") {
		t.Error("Expected CompactMsgString to print out the CNAME target", s1)
	}
	if !strings.Contains(s1, "SOA*internal.e") {
		t.Error("Expected CompactMsgString to print out the SOA", s1)
	}

	m1.MsgHdr.Response = true // Set all the bits to get the Ratsack decode
	m1.MsgHdr.Authoritative = true
	m1.MsgHdr.Truncated = true
	m1.MsgHdr.RecursionDesired = true
	m1.MsgHdr.RecursionAvailable = true
	m1.MsgHdr.Zero = true
	m1.MsgHdr.AuthenticatedData = true
	m1.MsgHdr.CheckingDisabled = true

	s1 = CompactMsgString(m1)
	if !strings.Contains(s1, "RATdaZsx") {
		t.Error("Expected CompactMsgString to generate 'RATdaZsx' to represent all header bits", s1)
	}
}

func TestCompactOPT(t *testing.T) {
	opt := NewOPT(0)
	AddCookie(opt, []byte{1, 2, 3, 4, 5, 6, 7, 8}, []byte{9, 10, 11, 12, 13, 14, 15, 16})
	opt.Option = append(opt.Option, &dns.EDNS0_PADDING{})

	s := CompactRRsString([]dns.RR{opt})
	if !strings.Contains(s, "COOKIE[16]") {
		t.Error("Expected COOKIE with its byte length", s)
	}
	if !strings.Contains(s, "PAD") {
		t.Error("Expected PAD", s)
	}

	ptr, err := dns.NewRR("4.3.2.1.in-addr.arpa. 300 IN PTR host.example.net.")
	checkFatal(t, err, "newRR ptr")
	s = CompactRRsString([]dns.RR{ptr})
	if !strings.Contains(s, "PTR*host.example.net.") {
		t.Error("Expected PTR target", s)
	}
}
