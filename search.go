package asyncdns

import (
	"strings"

	"github.com/miekg/dns"
)

// searchState walks a submitted name through the search-list trials. Each trial is an ordinary
// internal submission; NXDOMAIN and NODATA advance to the next trial, the first definitive
// positive answer wins, and any other outcome short-circuits. Per-try timeouts accumulate across
// the trials so the final callback sees the whole journey.
type searchState struct {
	channel  *Channel
	base     *dns.Msg // The submitted record; each trial rewrites the question name
	names    []string // Trial FQDNs in order
	ix       int
	timeouts int
	cb       Callback

	firstStatus Status // Outcome of the first trial, surfaced if every trial is negative
	firstResp   *dns.Msg
	haveFirst   bool
}

// SearchName is the convenience form of Search for a (name, class, type) triple.
func (c *Channel) SearchName(name string, qclass, qtype uint16, cb Callback) {
	msg := new(dns.Msg)
	msg.SetQuestion(name, qtype)
	msg.Question[0].Qclass = qclass
	msg.RecursionDesired = true
	c.Search(msg, cb)
}

// Search submits a single-question message subject to search-list expansion: a name with fewer
// than ndots dots is tried with each search suffix appended, in order, and then bare; a name
// satisfying ndots is tried bare first. A fully-qualified name (trailing dot) or FlagNoSearch
// bypasses expansion entirely.
func (c *Channel) Search(msg *dns.Msg, cb Callback) {
	if c.destroyed {
		cb(StatusDestruction, 0, nil)
		return
	}
	if msg == nil || len(msg.Question) != 1 {
		cb(StatusBadQuery, 0, nil)
		return
	}

	names, status := c.searchTrials(msg.Question[0].Name)
	if status != StatusSuccess {
		cb(status, 0, nil)
		return
	}

	st := &searchState{channel: c, base: msg.Copy(), names: names, cb: cb}
	st.next()
	c.drain()
}

// searchTrials derives the ordered trial names for a submitted name.
func (c *Channel) searchTrials(name string) ([]string, Status) {
	if name == "" || name == "." {
		return []string{"."}, StatusSuccess
	}

	if strings.HasSuffix(name, ".") || // Caller says fully qualified - take them at their word
		c.opts.Flags&FlagNoSearch != 0 ||
		len(c.opts.SearchDomains) == 0 {
		return []string{name}, StatusSuccess
	}

	var suffixed []string
	for _, domain := range c.opts.SearchDomains {
		suffixed = append(suffixed, name+"."+strings.TrimSuffix(domain, "."))
	}

	if strings.Count(name, ".") >= c.opts.NDots {
		return append([]string{name}, suffixed...), StatusSuccess
	}

	return append(suffixed, name), StatusSuccess
}

// next submits the next trial, or surfaces the recorded outcome when the trials are spent.
func (t *searchState) next() {
	if t.ix >= len(t.names) {
		status, resp := t.firstStatus, t.firstResp
		if !t.haveFirst { // Cannot happen with a non-empty trial list; belt and braces
			status, resp = StatusNotFound, nil
		}
		t.channel.postCompletion(t.cb, status, t.timeouts, resp)
		return
	}

	trial := t.base.Copy()
	trial.Question[0].Name = dns.Fqdn(t.names[t.ix])
	t.ix++
	t.channel.submit(trial, t.onTrial)
}

// onTrial is the internal callback for one trial.
func (t *searchState) onTrial(status Status, timeouts int, resp *dns.Msg) {
	t.timeouts += timeouts

	switch status {
	case StatusNotFound, StatusNoData:
		if !t.haveFirst {
			t.haveFirst = true
			t.firstStatus = status
			t.firstResp = resp
		}
		t.next()

	case StatusSuccess:
		t.channel.postCompletion(t.cb, status, t.timeouts, resp)

	default: // Hard errors short-circuit the remaining trials
		t.channel.postCompletion(t.cb, status, t.timeouts, resp)
	}
}
