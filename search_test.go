package asyncdns

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchHarness(t *testing.T, ndots int) *harness {
	return newHarness(t, Options{
		Servers:       []string{srv1},
		SearchDomains: []string{"one.example", "two.example"},
		NDots:         ndots,
	})
}

func TestSearchTrialsDerivation(t *testing.T) {
	h := searchHarness(t, 1)

	cases := []struct {
		name string
		want []string
	}{
		{"www", []string{"www.one.example", "www.two.example", "www"}},
		{"a.b", []string{"a.b", "a.b.one.example", "a.b.two.example"}},
		{"www.", []string{"www."}}, // Trailing dot means fully qualified
		{".", []string{"."}},
		{"", []string{"."}},
	}
	for _, tc := range cases {
		got, status := h.ch.searchTrials(tc.name)
		require.Equal(t, StatusSuccess, status, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

func TestSearchTrialsNDots(t *testing.T) {
	h := searchHarness(t, 2)
	got, _ := h.ch.searchTrials("a.b")
	assert.Equal(t, []string{"a.b.one.example", "a.b.two.example", "a.b"}, got,
		"one dot is fewer than ndots=2, so the suffixes go first")

	got, _ = h.ch.searchTrials("a.b.c")
	assert.Equal(t, []string{"a.b.c", "a.b.c.one.example", "a.b.c.two.example"}, got)
}

func TestSearchNoSearchFlag(t *testing.T) {
	h := newHarness(t, Options{
		Servers:       []string{srv1},
		SearchDomains: []string{"one.example"},
		Flags:         FlagNoSearch,
	})
	got, _ := h.ch.searchTrials("www")
	assert.Equal(t, []string{"www"}, got)
}

func TestSearchNegativeAdvancement(t *testing.T) {
	h := searchHarness(t, 1)
	h.fns.server(srv1).respond = func(req *dns.Msg, _ Transport) *dns.Msg {
		switch req.Question[0].Name {
		case "www.one.example.":
			return nxdomainReply(req)
		case "www.two.example.":
			return rcodeReply(req, dns.RcodeSuccess) // NODATA also advances
		default:
			return okReply(req, "5.6.7.8")
		}
	}

	var (
		done   bool
		status Status
		resp   *dns.Msg
	)
	h.ch.SearchName("www", dns.ClassINET, dns.TypeA, func(s Status, _ int, r *dns.Msg) {
		done, status, resp = true, s, r
	})
	h.run(&done)

	require.Equal(t, StatusSuccess, status)
	assert.Equal(t, "www.", resp.Question[0].Name, "the bare name was the winning trial")
	assert.Equal(t, []string{"5.6.7.8"}, answerAddrs(resp))
}

func TestSearchExhaustionSurfacesFirstOutcome(t *testing.T) {
	h := searchHarness(t, 1)
	h.fns.server(srv1).respond = func(req *dns.Msg, _ Transport) *dns.Msg {
		if req.Question[0].Name == "www.one.example." {
			return nxdomainReply(req) // First trial: NXDOMAIN
		}
		return rcodeReply(req, dns.RcodeSuccess) // Later trials: NODATA
	}

	var (
		done   bool
		status Status
	)
	h.ch.SearchName("www", dns.ClassINET, dns.TypeA, func(s Status, _ int, _ *dns.Msg) {
		done, status = true, s
	})
	h.run(&done)

	assert.Equal(t, StatusNotFound, status, "the first trial's outcome is the query's outcome")
	assert.Len(t, h.fns.server(srv1).reqs, 3, "every trial was attempted")
}

func TestSearchHardErrorShortCircuits(t *testing.T) {
	h := newHarness(t, Options{
		Servers:       []string{srv1},
		SearchDomains: []string{"one.example", "two.example"},
		Tries:         1,
		Flags:         FlagNoCheckResp, // Makes SERVFAIL surface instead of retrying
	})
	h.fns.server(srv1).respond = func(req *dns.Msg, _ Transport) *dns.Msg {
		if req.Question[0].Name == "www.one.example." {
			return rcodeReply(req, dns.RcodeServerFailure)
		}
		return okReply(req, "1.2.3.4")
	}

	var (
		done   bool
		status Status
	)
	h.ch.SearchName("www", dns.ClassINET, dns.TypeA, func(s Status, _ int, _ *dns.Msg) {
		done, status = true, s
	})
	h.run(&done)

	assert.Equal(t, StatusServFail, status)
	assert.Len(t, h.fns.server(srv1).reqs, 1, "remaining trials must not run after a hard error")
}

func TestSearchAccumulatesTimeouts(t *testing.T) {
	h := newHarness(t, Options{
		Servers:       []string{srv1},
		SearchDomains: []string{"one.example"},
		Tries:         2,
	})
	step := 0
	h.fns.server(srv1).respond = func(req *dns.Msg, _ Transport) *dns.Msg {
		step++
		switch step {
		case 1:
			return nil // First trial's first try times out...
		case 2:
			return nxdomainReply(req) // ...then resolves negatively, advancing the search
		default:
			return okReply(req, "1.2.3.4")
		}
	}

	var (
		done     bool
		status   Status
		timeouts int
	)
	h.ch.SearchName("www", dns.ClassINET, dns.TypeA, func(s Status, to int, _ *dns.Msg) {
		done, status, timeouts = true, s, to
	})
	h.run(&done)

	require.Equal(t, StatusSuccess, status)
	assert.Equal(t, 1, timeouts, "timeouts accumulate across trials")
}
