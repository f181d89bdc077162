/*
Package serverpool tracks the health of each configured name server for the purpose of deriving the
order in which servers should be offered queries and of deciding when a previously failed server
deserves an out-of-band probe.

The serverpool structure contains a list of all available servers; what a server represents is
unknown to this package. It could be an address:port, a URL, the name of a racing pigeon...
whatever.

After a server is used by the application, the application calls this package to record
success/failure. That data is used internally to influence the dispatch order handed out next.

Typical usage looks like this:

	sp := serverpool.NewFailover(Config, ServerList...)    // Construct a pool
	for {
	     order := sp.DispatchOrder()                       // Effective order for this dispatch
	     doStuffWithServer(order[0].Name())                // Use the preferred server
	     sp.Result(order[0], success bool, time.Now())     // Say how it went
	}

The 'failover' algorithm sorts servers by (consecutive-failure count ascending, configured index
ascending) with a stable sort, so healthy servers are preferred and equally healthy servers keep
their configured relative order. When rotation is enabled, a server whose failure count was already
zero is moved to the front of the configured order on success, spreading load the way res_send(3)
does with RES_ROTATE.

A server that has recorded failures becomes eligible for an out-of-band probe once its most recent
failure is older than the configured retry delay. ProbeCandidate applies a Bernoulli trial to the
oldest eligible server and marks it probe-pending so at most one probe per server is outstanding;
the caller reports the probe outcome through Result and ProbeDone.

The expectation is that there are a relatively small number of servers as much of the selection
logic is a simple linear search of all entries and thus O(n). A server list of 10-20 is reasonable,
1,000-10,000 is probably not.

Multiple goroutines can safely invoke all the Manager interface methods concurrently.
*/
package serverpool
