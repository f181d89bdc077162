package asyncdns

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/markdingo/asyncdns/internal/constants"
	"github.com/markdingo/asyncdns/internal/qcache"
	"github.com/markdingo/asyncdns/internal/serverpool"

	"github.com/miekg/dns"
)

const me = "asyncdns"

var consts = constants.Get()

// serverInfo is our per-server struct. It implements serverpool.Server so the pool can hand these
// straight back in dispatch order, and it anchors the per-server transport and cookie state.
type serverInfo struct {
	name string // Dialable "address:port"

	udp *connection // Current UDP connection accepting new queries, or nil
	tcp *connection // The TCP connection, or nil

	cookie cookieState
}

// Name meets the serverpool.Server interface
func (t *serverInfo) Name() string {
	return t.name
}

// Channel is the top-level handle: configuration snapshot plus the live server pool, connection
// table, in-flight query table and query cache. Channels are created by NewChannel and must be
// released with Destroy. A Channel is not safe for concurrent use.
type Channel struct {
	opts Options

	clientCookie    []byte // Fixed for the channel lifetime
	serversExplicit bool   // Servers came from Options/SetServers, not resolv.conf
	searchExplicit  bool

	servers  []*serverInfo
	pool     serverpool.Manager
	conns    []*connection     // Every live connection, including retired UDP ones draining replies
	queries  map[uint16]*query // In-flight, keyed by wire transaction id
	cache    *qcache.Cache     // nil when disabled
	sortlist []netip.Prefix

	stateCB      ServerStateCallback
	sockCreateCB SocketCallback
	sockConfigCB SocketCallback

	completions []completion
	destroyed   bool

	// Injectable for tests; production uses time.Now and crypto/rand.
	now    func() time.Time
	random io.Reader
}

// completion is a user callback captured during processing and fired in a second phase, so
// reentrant submissions from inside callbacks cannot observe the engine mid-walk.
type completion struct {
	cb       Callback
	status   Status
	timeouts int
	resp     *dns.Msg
}

// NewChannel creates a Channel from the supplied options. Gaps in the options are filled from the
// system resolver configuration and, failing that, from documented defaults. The channel's 8-byte
// client cookie is drawn once here and is stable for the channel's lifetime.
func NewChannel(opts Options) (*Channel, error) {
	c := &Channel{
		opts:    opts.copySlices().withDefaults(),
		queries: make(map[uint16]*query),
		now:     time.Now,
		random:  rand.Reader,
	}

	c.serversExplicit = len(c.opts.Servers) > 0
	c.searchExplicit = c.opts.SearchDomains != nil

	servers := c.opts.Servers
	if !c.serversExplicit || !c.searchExplicit {
		conf, err := dns.ClientConfigFromFile(c.opts.ResolvConfPath)
		if err == nil {
			if !c.serversExplicit {
				servers = joinHostPorts(conf.Servers, conf.Port)
			}
			if !c.searchExplicit {
				c.opts.SearchDomains = append([]string{}, conf.Search...)
				if c.opts.NDots == consts.DefaultNDots && conf.Ndots > 0 {
					c.opts.NDots = conf.Ndots
				}
			}
		}
	}
	if len(servers) == 0 {
		servers = []string{"127.0.0.1"} // Last resort, as the original resolver does
	}

	c.clientCookie = make([]byte, consts.ClientCookieLength)
	if _, err := io.ReadFull(c.random, c.clientCookie); err != nil {
		return nil, fmt.Errorf(me+": client cookie: %w", err)
	}

	if err := c.setServerList(servers); err != nil {
		return nil, err
	}

	if !c.opts.DisableQueryCache {
		c.cache = qcache.New(c.opts.QueryCacheMaxTTL)
	}

	return c, nil
}

// setServerList installs a new server list, preserving connection and cookie state for addresses
// that survive the change. Queries waiting on a removed server's connections are returned to the
// engine and silently re-dispatched to the survivors.
func (c *Channel) setServerList(names []string) error {
	byName := make(map[string]*serverInfo, len(c.servers))
	for _, s := range c.servers {
		byName[s.name] = s
	}

	var newServers []*serverInfo
	seen := make(map[string]bool)
	for _, n := range names {
		addr, err := dialAddress(n)
		if err != nil {
			return errors.New(me + ": " + err.Error())
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		if old, ok := byName[addr]; ok {
			newServers = append(newServers, old)
			delete(byName, addr)
			continue
		}
		newServers = append(newServers, &serverInfo{name: addr})
	}
	if len(newServers) == 0 {
		return errors.New(me + ": no usable servers in list")
	}

	poolServers := make([]serverpool.Server, 0, len(newServers))
	for _, s := range newServers {
		poolServers = append(poolServers, s)
	}
	pool, err := serverpool.NewFailover(serverpool.FailoverConfig{
		NoRotate:    c.opts.Flags&FlagNoRotate != 0,
		RetryChance: c.opts.ServerFailoverRetryChance,
		RetryDelay:  c.opts.ServerFailoverRetryDelay,
		Random:      c.opts.probeRandom,
	}, poolServers)
	if err != nil {
		return errors.New(me + ": " + err.Error())
	}

	c.servers = newServers
	c.pool = pool
	for _, q := range c.queries { // Stale order snapshots may name removed servers
		q.order = nil
	}

	// Anything still in byName was removed - tear its connections down, which re-queues the
	// waiting queries onto the surviving set.
	for _, gone := range byName {
		c.teardownServer(gone)
	}

	return nil
}

// teardownServer closes both of a server's connections. Waiting queries fail over.
func (c *Channel) teardownServer(s *serverInfo) {
	if s.udp != nil {
		c.teardownConn(s.udp)
	}
	if s.tcp != nil {
		c.teardownConn(s.tcp)
	}
}

// Destroy synchronously completes every outstanding query with StatusDestruction, closes all
// connections and renders the channel unusable. All pending callbacks fire before Destroy returns.
func (c *Channel) Destroy() {
	if c.destroyed {
		return
	}
	c.failAll(StatusDestruction)
	for _, conn := range c.conns {
		conn.close()
	}
	c.conns = nil
	for _, s := range c.servers {
		s.udp = nil
		s.tcp = nil
	}
	if c.cache != nil {
		c.cache.Flush()
	}
	c.destroyed = true
	c.drain()
}

// Cancel synchronously completes every outstanding query with StatusCancelled. Connections are
// left standing and the channel remains usable for new submissions.
func (c *Channel) Cancel() {
	if c.destroyed {
		return
	}
	c.failAll(StatusCancelled)
	c.drain()
}

// failAll queues a terminal completion for every in-flight query, probes included.
func (c *Channel) failAll(status Status) {
	pending := make([]*query, 0, len(c.queries))
	for _, q := range c.queries {
		pending = append(pending, q)
	}
	for _, q := range pending {
		c.complete(q, status, nil)
	}
}

// Reinit re-reads the system resolver configuration and applies it without cancelling in-flight
// queries. Queries whose server disappeared are silently re-dispatched to the remaining servers.
// The query cache is flushed as its contents may predate the configuration change. Explicitly
// configured servers and search domains are left alone.
func (c *Channel) Reinit() error {
	if c.destroyed {
		return StatusNotInitialized
	}

	conf, err := dns.ClientConfigFromFile(c.opts.ResolvConfPath)
	if err != nil {
		return fmt.Errorf(me+": %w: %w", StatusFile, err)
	}

	if !c.searchExplicit {
		c.opts.SearchDomains = append([]string{}, conf.Search...)
		if conf.Ndots > 0 {
			c.opts.NDots = conf.Ndots
		}
	}
	if !c.serversExplicit {
		if err := c.setServerList(joinHostPorts(conf.Servers, conf.Port)); err != nil {
			return err
		}
	}
	if c.cache != nil {
		c.cache.Flush()
	}
	c.drain()

	return nil
}

// SetServers replaces the server list. State for servers present in both the old and new lists is
// preserved; queries in flight to removed servers are re-dispatched to the survivors.
func (c *Channel) SetServers(servers []string) error {
	if c.destroyed {
		return StatusNotInitialized
	}
	if len(servers) == 0 {
		return errors.New(me + ": empty server list")
	}
	err := c.setServerList(servers)
	if err != nil {
		return err
	}
	c.serversExplicit = true
	c.drain()

	return nil
}

// GetServersCSV returns the active server list as a comma separated "address:port" string.
func (c *Channel) GetServersCSV() string {
	names := make([]string, 0, len(c.servers))
	for _, s := range c.servers {
		names = append(names, s.name)
	}

	return strings.Join(names, ",")
}

// SetLocalIP4 sets the IPv4 source address bound to subsequently created sockets.
func (c *Channel) SetLocalIP4(addr netip.Addr) {
	c.opts.LocalIP4 = addr
}

// SetLocalIP6 sets the IPv6 source address bound to subsequently created sockets.
func (c *Channel) SetLocalIP6(addr netip.Addr) {
	c.opts.LocalIP6 = addr
}

// SetLocalDev sets the network interface bound to subsequently created sockets.
func (c *Channel) SetLocalDev(device string) {
	c.opts.LocalDevice = device
}

// SetSocketCallback installs a callback invoked after each socket is created. A non-nil return
// aborts the connection and the affected query fails over with StatusConnRefused.
func (c *Channel) SetSocketCallback(cb SocketCallback) {
	c.sockCreateCB = cb
}

// SetSocketConfigureCallback installs a callback invoked after socket creation but before the
// socket is connected, for hosts that need to adjust socket options. A non-nil return aborts the
// connection.
func (c *Channel) SetSocketConfigureCallback(cb SocketCallback) {
	c.sockConfigCB = cb
}

// SetServerStateCallback installs the per-transmission/per-reply observer described by
// ServerStateCallback.
func (c *Channel) SetServerStateCallback(cb ServerStateCallback) {
	c.stateCB = cb
}

// SetSocketFunctions replaces the socket syscall layer for subsequently created sockets.
func (c *Channel) SetSocketFunctions(fns SocketFunctions) {
	if fns != nil {
		c.opts.SocketFunctions = fns
	}
}

// SaveOptions returns a faithful snapshot of the channel's current configuration, suitable for
// handing to NewChannel.
func (c *Channel) SaveOptions() Options {
	opts := c.opts
	opts.Servers = strings.Split(c.GetServersCSV(), ",")

	return opts.copySlices()
}

// Dup creates an independent channel from this channel's current configuration. Live state - the
// cache, cookies, server health - is not copied, and the duplicate draws its own client cookie.
func (c *Channel) Dup() (*Channel, error) {
	if c.destroyed {
		return nil, StatusNotInitialized
	}

	return NewChannel(c.SaveOptions())
}

// Active returns true while any query is in flight.
func (c *Channel) Active() bool {
	return len(c.queries) > 0
}

// CacheReport returns the query cache counters, or an empty string when the cache is disabled.
func (c *Channel) CacheReport(resetCounters bool) string {
	if c.cache == nil {
		return ""
	}

	return c.cache.Report(resetCounters)
}

// PoolReport returns the per-server health counters.
func (c *Channel) PoolReport(resetCounters bool) string {
	return c.pool.Report(resetCounters)
}

// postCompletion captures a user callback for the second firing phase.
func (c *Channel) postCompletion(cb Callback, status Status, timeouts int, resp *dns.Msg) {
	c.completions = append(c.completions, completion{cb: cb, status: status, timeouts: timeouts, resp: resp})
}

// drain fires captured completions until none remain. Callbacks may submit new queries; those
// submissions run their own drain so a cache hit inside a callback still completes synchronously.
func (c *Channel) drain() {
	for len(c.completions) > 0 {
		comp := c.completions[0]
		c.completions = c.completions[1:]
		if comp.cb != nil {
			comp.cb(comp.status, comp.timeouts, comp.resp)
		}
	}
}

// serverStateEvent fires the host's server state callback, if any.
func (c *Channel) serverStateEvent(server string, success bool, transport Transport) {
	if c.stateCB != nil {
		c.stateCB(server, success, transport)
	}
}

// joinHostPorts appends a port to each resolv.conf nameserver, wrapping IPv6 addresses in
// brackets so the address parses as a dialable host:port.
func joinHostPorts(hosts []string, port string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if strings.Contains(h, ":") { // IPv6 needs wrapping before the port lands
			h = "[" + h + "]"
		}
		out = append(out, h+":"+port)
	}

	return out
}

// dialAddress normalizes a configured server string to "host:port", appending the DNS default
// port when absent.
func dialAddress(server string) (string, error) {
	if addr, err := netip.ParseAddr(server); err == nil { // Bare address, no port
		return netip.AddrPortFrom(addr, defaultDNSPort()).String(), nil
	}
	if ap, err := netip.ParseAddrPort(server); err == nil {
		return ap.String(), nil
	}
	// Permit a trailing :port on an unbracketed IPv4 name-alike before giving up
	if ix := strings.LastIndex(server, ":"); ix > 0 && !strings.Contains(server[ix+1:], ":") {
		if addr, err := netip.ParseAddr(server[:ix]); err == nil {
			if port, perr := strconv.ParseUint(server[ix+1:], 10, 16); perr == nil {
				return netip.AddrPortFrom(addr, uint16(port)).String(), nil
			}
		}
	}

	return "", fmt.Errorf("unparseable server address %q", server)
}

func defaultDNSPort() uint16 {
	port, _ := strconv.ParseUint(consts.DNSDefaultPort, 10, 16)

	return uint16(port)
}
