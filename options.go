package asyncdns

import (
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// Flags alter channel-wide resolution behavior. They are a bit mask so related flags can be or'd
// together in Options.Flags.
type Flags uint32

const (
	// FlagEDNS attaches an EDNS0 OPT RR to outbound queries advertising a larger UDP payload
	// size. DNS cookies are negotiated whenever EDNS is active on a UDP transport.
	FlagEDNS Flags = 1 << iota

	// FlagNoCheckResp surfaces SERVFAIL, NOTIMP and REFUSED responses to the caller instead of
	// treating them as server failures worthy of failover.
	FlagNoCheckResp

	// FlagNoRotate pins the dispatch order to (failure count, configured index); successful
	// servers are never rotated to the front.
	FlagNoRotate

	// FlagNoSearch disables search-list expansion for Search submissions.
	FlagNoSearch

	// FlagStayOpen keeps idle UDP and TCP connections open instead of closing them once their
	// last waiting query completes.
	FlagStayOpen

	// FlagNoAliases disables HOSTALIASES processing in the GetHostByName facade. Retained for
	// interface stability; alias files are handled by an external collaborator.
	FlagNoAliases

	// FlagPrimary restricts dispatch to the first configured server.
	FlagPrimary

	// FlagUseVC forces all queries onto TCP ("virtual circuit").
	FlagUseVC

	// FlagIgnTC accepts truncated UDP responses as-is instead of retrying over TCP.
	FlagIgnTC

	// FlagDNS0x20 randomizes the ASCII letter case of outbound query names and requires the
	// server to echo the exact case, adding entropy against off-path spoofing.
	FlagDNS0x20
)

// Transport tags which wire transport a connection or event used. Exactly one of the two values
// appears in every server state callback.
type Transport string

const (
	TransportUDP Transport = "udp"
	TransportTCP Transport = "tcp"
)

// Callback delivers the outcome of a Query or Search submission. It is invoked exactly once per
// submission, on the goroutine and call-stack of whichever channel call made the final state
// transition. timeouts is the number of per-try deadlines that expired while resolving. resp is
// nil unless a response was accepted, including for definitive negative outcomes such as
// StatusNotFound where it carries the authority section.
type Callback func(status Status, timeouts int, resp *dns.Msg)

// ServerStateCallback is invoked with success=false on every wire transmission to a server
// (probes included) and with success=true on every accepted reply. Exactly one transport tag
// accompanies each event.
type ServerStateCallback func(server string, success bool, transport Transport)

// SocketCallback observes socket lifecycle points. The creation callback runs once a socket
// exists; the configure callback runs before the socket is connected. A non-nil return in either
// aborts the connection attempt and the affected queries fail over with StatusConnRefused.
type SocketCallback func(fd int, transport Transport, server string) error

// Options is the channel configuration. It is copied at NewChannel time; later mutations of the
// caller's struct have no effect. The zero value of most fields selects a sensible default,
// documented per field.
type Options struct {
	// Servers lists name servers as "address" or "address:port" with the DNS default port
	// assumed when absent. An empty list falls back to the resolv.conf configuration and
	// ultimately to the local host.
	Servers []string

	Flags Flags

	// Timeout is the per-try deadline. Zero selects the default (2s).
	Timeout time.Duration

	// Tries is the number of retry rounds across the server list; the total attempt budget for
	// a query is Tries multiplied by the server count. Zero selects the default (3).
	Tries int

	// NDots: a name with fewer dots than this is tried with the search suffixes before being
	// tried bare. Zero selects the default (1); negative means zero.
	NDots int

	// SearchDomains overrides the search list. Nil means take it from resolv.conf.
	SearchDomains []string

	// ResolvConfPath names the system resolver configuration consulted for server, search and
	// ndots defaults. Zero selects "/etc/resolv.conf".
	ResolvConfPath string

	// UDPMaxQueries caps how many queries a single UDP socket may ever carry; the socket is
	// retired at the cap and a fresh one opened on next use. Zero means no cap.
	UDPMaxQueries int

	// EDNSPayloadSize is the UDP payload size advertised in our OPT RR. Zero selects the
	// default (1232).
	EDNSPayloadSize uint16

	// QueryCacheMaxTTL caps how long any response may be served from the query cache,
	// regardless of its own TTLs. Zero selects the default (1h).
	QueryCacheMaxTTL time.Duration

	// DisableQueryCache turns the query cache off entirely.
	DisableQueryCache bool

	// ServerFailoverRetryChance is the probability (0..1) that an initial query issues an
	// out-of-band probe to a cooled-down failed server. Zero selects the default (0.1).
	ServerFailoverRetryChance float64

	// ServerFailoverRetryDelay is the cool-down before a failed server becomes probe-eligible.
	// Zero selects the default (5s).
	ServerFailoverRetryDelay time.Duration

	// SockSendBufferSize and SockReceiveBufferSize set SO_SNDBUF/SO_RCVBUF on created sockets
	// when non-zero.
	SockSendBufferSize    int
	SockReceiveBufferSize int

	// LocalIP4, LocalIP6 and LocalDevice bind created sockets to a source address or interface
	// when set.
	LocalIP4    netip.Addr
	LocalIP6    netip.Addr
	LocalDevice string

	// SocketFunctions replaces every socket syscall the channel makes. Nil selects the default
	// non-blocking implementation.
	SocketFunctions SocketFunctions

	// probeRandom overrides the probe Bernoulli source. Test injection only; nil selects the
	// production source.
	probeRandom func() float64
}

// withDefaults returns a copy of the options with zero values replaced by their documented
// defaults. Called once by NewChannel so the rest of the package never re-checks.
func (t Options) withDefaults() Options {
	if t.Timeout <= 0 {
		t.Timeout = consts.DefaultTimeout
	}
	if t.Tries <= 0 {
		t.Tries = consts.DefaultTries
	}
	if t.NDots == 0 {
		t.NDots = consts.DefaultNDots
	}
	if t.NDots < 0 {
		t.NDots = 0
	}
	if len(t.ResolvConfPath) == 0 {
		t.ResolvConfPath = "/etc/resolv.conf"
	}
	if t.EDNSPayloadSize == 0 {
		t.EDNSPayloadSize = consts.EDNSDefaultPayloadSize
	}
	if t.QueryCacheMaxTTL <= 0 {
		t.QueryCacheMaxTTL = consts.DefaultCacheMaxTTL
	}
	if t.ServerFailoverRetryChance == 0 {
		t.ServerFailoverRetryChance = consts.DefaultRetryChance
	}
	if t.ServerFailoverRetryDelay <= 0 {
		t.ServerFailoverRetryDelay = consts.DefaultRetryDelay
	}
	if t.SocketFunctions == nil {
		t.SocketFunctions = defaultSocketFunctions()
	}

	return t
}

// copySlices deep-copies the slice-valued fields so a saved or duplicated Options cannot alias the
// channel's internals.
func (t Options) copySlices() Options {
	t.Servers = append([]string{}, t.Servers...)
	if t.SearchDomains != nil {
		t.SearchDomains = append([]string{}, t.SearchDomains...)
	}

	return t
}
