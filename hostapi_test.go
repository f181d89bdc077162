package asyncdns

import (
	"net"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostHarness(t *testing.T) *harness {
	h := newHarness(t, Options{Servers: []string{srv1}})
	h.fns.server(srv1).respond = func(req *dns.Msg, _ Transport) *dns.Msg {
		name := req.Question[0].Name
		switch req.Question[0].Qtype {
		case dns.TypeA:
			if name == "alias.example.com." {
				resp := new(dns.Msg)
				resp.SetReply(req)
				cname, _ := dns.NewRR("alias.example.com. 300 IN CNAME real.example.com.")
				a, _ := dns.NewRR("real.example.com. 300 IN A 1.2.3.4")
				resp.Answer = append(resp.Answer, cname, a)
				return resp
			}
			return okReply(req, "1.2.3.4")
		case dns.TypeAAAA:
			resp := new(dns.Msg)
			resp.SetReply(req)
			resp.Answer = append(resp.Answer, &dns.AAAA{
				Hdr:  dns.RR_Header{Name: name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 300},
				AAAA: net.ParseIP("2001:db8::1"),
			})
			return resp
		case dns.TypePTR:
			resp := new(dns.Msg)
			resp.SetReply(req)
			ptr, _ := dns.NewRR(name + " 300 IN PTR host.example.com.")
			resp.Answer = append(resp.Answer, ptr)
			return resp
		}
		return rcodeReply(req, dns.RcodeSuccess)
	}
	return h
}

func TestGetHostByNameINET(t *testing.T) {
	h := hostHarness(t)

	var (
		done   bool
		status Status
		host   *Hostent
	)
	h.ch.GetHostByName("www.example.com.", FamilyINET, func(s Status, _ int, he *Hostent) {
		done, status, host = true, s, he
	})
	h.run(&done)

	require.Equal(t, StatusSuccess, status)
	require.NotNil(t, host)
	assert.Equal(t, "www.example.com", host.Name)
	require.Len(t, host.Addrs, 1)
	assert.Equal(t, "1.2.3.4", host.Addrs[0].String())
}

func TestGetHostByNameCNAMEChain(t *testing.T) {
	h := hostHarness(t)

	var (
		done bool
		host *Hostent
	)
	h.ch.GetHostByName("alias.example.com.", FamilyINET, func(s Status, _ int, he *Hostent) {
		require.Equal(t, StatusSuccess, s)
		done, host = true, he
	})
	h.run(&done)

	assert.Equal(t, "real.example.com", host.Name, "the CNAME target is the canonical name")
	assert.Equal(t, []string{"alias.example.com"}, host.Aliases)
}

func TestGetHostByNameUnspecMerges(t *testing.T) {
	h := hostHarness(t)

	var (
		done bool
		host *Hostent
	)
	h.ch.GetHostByName("www.example.com.", FamilyUnspec, func(s Status, _ int, he *Hostent) {
		require.Equal(t, StatusSuccess, s)
		done, host = true, he
	})
	h.run(&done)

	require.Len(t, host.Addrs, 2, "both families merged")
	assert.True(t, host.Addrs[0].Is4(), "IPv4 first")
	assert.True(t, host.Addrs[1].Is6())
}

func TestGetHostByNameBadFamily(t *testing.T) {
	h := hostHarness(t)
	var status Status = -1
	h.ch.GetHostByName("www.example.com", Family(99), func(s Status, _ int, _ *Hostent) {
		status = s
	})
	assert.Equal(t, StatusBadFamily, status)
}

func TestGetHostByAddr(t *testing.T) {
	h := hostHarness(t)

	var (
		done bool
		host *Hostent
	)
	addr := netip.MustParseAddr("1.2.3.4")
	h.ch.GetHostByAddr(addr, func(s Status, _ int, he *Hostent) {
		require.Equal(t, StatusSuccess, s)
		done, host = true, he
	})
	h.run(&done)

	assert.Equal(t, "host.example.com", host.Name)
	assert.Equal(t, []netip.Addr{addr}, host.Addrs)

	// The wire query must have been the in-addr.arpa form
	reqs := h.fns.server(srv1).reqs
	require.NotEmpty(t, reqs)
	assert.Equal(t, "4.3.2.1.in-addr.arpa.", reqs[0].Question[0].Name)
	assert.Equal(t, dns.TypePTR, reqs[0].Question[0].Qtype)
}

func TestGetHostByAddrInvalid(t *testing.T) {
	h := hostHarness(t)
	var status Status = -1
	h.ch.GetHostByAddr(netip.Addr{}, func(s Status, _ int, _ *Hostent) { status = s })
	assert.Equal(t, StatusBadFamily, status)
}
