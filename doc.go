/*
Package asyncdns is an asynchronous DNS stub resolver. It accepts name-resolution requests from an
embedding application, issues DNS queries over UDP and TCP to one or more configured recursive name
servers, and returns parsed answers via callbacks.

The library does not run its own I/O loop and it spawns no goroutines. A Channel exposes the
sockets it cares about through GetSock and the host drives it by calling Process when a socket
becomes readable or writable, or when the duration returned by Timeout has elapsed. All progress -
including the invocation of user callbacks - happens synchronously inside Process, a submission
call, Cancel or Destroy, on the caller's goroutine. A Channel is correspondingly not safe for
concurrent use; the host must serialize calls on a given Channel.

The query engine implements the hard parts of being a stub resolver: per-server failover ordering
driven by consecutive-failure counts, out-of-band probes to rehabilitate failed servers, truncation
driven UDP to TCP upgrades, EDNS negotiation with FORMERR fallback, RFC7873 DNS cookies including
BADCOOKIE rotation and the AnyCast TCP upgrade, DNS-0x20 query name case randomization,
resolv.conf-style search list expansion with ndots, and a TTL-honoring query cache.

Hosts that want to drive real sockets can use the default socket implementation; test harnesses
and exotic environments can take over every syscall by supplying their own SocketFunctions.

A minimal synchronous-looking use looks like:

	ch, err := asyncdns.NewChannel(asyncdns.Options{Servers: []string{"8.8.8.8"}})
	...
	ch.QueryName("www.example.com", dns.ClassINET, dns.TypeA,
	        func(status asyncdns.Status, timeouts int, resp *dns.Msg) { ... })
	for ch.Active() {
	        poll(ch.GetSock(), ch.Timeout(time.Second)) // Host-owned poll loop
	        ch.Process(readyReadFD, readyWriteFD)
	}
	ch.Destroy()
*/
package asyncdns
