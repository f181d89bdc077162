package serverpool

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"
)

// FailoverConfig defines all the public parameters that the calling application can set. They
// control rotation of healthy servers and the gating of out-of-band probes to failed servers.
type FailoverConfig struct {
	NoRotate    bool          // Keep the configured order fixed; never move a successful server to the front
	RetryChance float64       // Probability (0..1) that an eligible failed server is probed
	RetryDelay  time.Duration // Cool-down before a failed server becomes probe-eligible

	// Random returns a uniform value in [0,1) for the probe Bernoulli trial. Tests inject a
	// deterministic source; when nil, math/rand/v2 is used.
	Random func() float64
}

var (
	DefaultFailoverConfig = FailoverConfig{
		RetryChance: 0.1,
		RetryDelay:  time.Second * 5,
	}
)

// failoverServerState is kept as a separate struct from the counters so the health fields and the
// reporting counters are clearly delineated.
type failoverServerState struct {
	failures     int       // Consecutive failures; zero for a healthy server
	lastFailure  time.Time // Time of the most recent failure
	probePending bool      // An out-of-band probe is outstanding
}

// failoverServerStats is separate so resetCounters() is trivial and future-proof via the simple
// expedient of a struct copy.
type failoverServerStats struct {
	successes int
	failings  int
	probes    int
}

type failover struct {
	FailoverConfig
	baseManager

	state []failoverServerState
	stats []failoverServerStats
	order []int // Configured index order after rotation; position in this list breaks failure-count ties
}

// NewFailover constructs a serverpool implementing the resolver failover ordering: a stable sort by
// (consecutive-failure count, configured order), with optional rotation of healthy servers and
// probe gating for failed ones.
func NewFailover(config FailoverConfig, servers []Server) (*failover, error) {
	t := &failover{}
	err := t.baseManager.init(FailoverAlgorithm, servers)
	if err != nil {
		return nil, err
	}

	t.FailoverConfig = config

	if t.RetryChance < 0 || t.RetryChance > 1 {
		return nil, fmt.Errorf("RetryChance is not in range 0-1: %f", t.RetryChance)
	}
	if t.RetryDelay < 0 {
		return nil, fmt.Errorf("RetryDelay is negative: %d", t.RetryDelay)
	}

	if t.RetryChance == 0 {
		t.RetryChance = DefaultFailoverConfig.RetryChance
	}
	if t.RetryDelay == 0 {
		t.RetryDelay = DefaultFailoverConfig.RetryDelay
	}
	if t.Random == nil {
		t.Random = rand.Float64
	}

	t.state = make([]failoverServerState, t.serverCount)
	t.stats = make([]failoverServerStats, t.serverCount)
	t.order = make([]int, t.serverCount)
	for ix := range t.order {
		t.order[ix] = ix
	}

	return t, nil
}

// DispatchOrder derives the effective order: a stable sort of the rotation order by consecutive
// failure count. With no failures anywhere this is simply the rotation order, which in turn is the
// configured order when rotation never fired.
func (t *failover) DispatchOrder() []Server {
	t.rlock()
	defer t.runlock()

	ixs := make([]int, t.serverCount)
	copy(ixs, t.order)
	sort.SliceStable(ixs, func(a, b int) bool {
		return t.state[ixs[a]].failures < t.state[ixs[b]].failures
	})

	servers := make([]Server, 0, t.serverCount)
	for _, ix := range ixs {
		servers = append(servers, t.servers[ix])
	}

	return servers
}

func (t *failover) Result(server Server, success bool, now time.Time) bool {
	t.lock()
	defer t.unlock()

	ix, found := t.serverToIndex[server]
	if !found {
		return false
	}

	state := &t.state[ix]
	if success {
		t.stats[ix].successes++
		wasHealthy := state.failures == 0
		state.failures = 0
		if wasHealthy && !t.NoRotate { // Rotation only rewards servers that were already healthy
			t.moveToFront(ix)
		}
		return true
	}

	t.stats[ix].failings++
	state.failures++
	state.lastFailure = now

	return true
}

// moveToFront rotates the order list so the given configured index leads. Caller holds the lock.
func (t *failover) moveToFront(ix int) {
	pos := 0
	for p, ox := range t.order {
		if ox == ix {
			pos = p
			break
		}
	}
	if pos == 0 {
		return
	}
	copy(t.order[1:pos+1], t.order[0:pos])
	t.order[0] = ix
}

func (t *failover) ProbeCandidate(now time.Time) Server {
	t.lock()
	defer t.unlock()

	candidate := -1
	for ix := 0; ix < t.serverCount; ix++ {
		state := &t.state[ix]
		if state.failures == 0 || state.probePending {
			continue
		}
		if now.Sub(state.lastFailure) < t.RetryDelay {
			continue
		}
		if candidate == -1 || state.lastFailure.Before(t.state[candidate].lastFailure) {
			candidate = ix // Oldest failure wins
		}
	}
	if candidate == -1 {
		return nil
	}

	if t.Random() >= t.RetryChance { // Bernoulli gate
		return nil
	}

	t.state[candidate].probePending = true
	t.stats[candidate].probes++

	return t.servers[candidate]
}

func (t *failover) ProbeDone(server Server) bool {
	t.lock()
	defer t.unlock()

	ix, found := t.serverToIndex[server]
	if !found {
		return false
	}
	t.state[ix].probePending = false

	return true
}

func (t *failover) Failures(server Server) int {
	t.rlock()
	defer t.runlock()

	ix, found := t.serverToIndex[server]
	if !found {
		return -1
	}

	return t.state[ix].failures
}

// Report returns one line per server in configured order with health and counter details.
func (t *failover) Report(resetCounters bool) string {
	t.lock()
	defer t.unlock()

	var sb strings.Builder
	for ix, s := range t.servers {
		fmt.Fprintf(&sb, "%s ok=%d fail=%d probes=%d consecutive=%d\n",
			s.Name(), t.stats[ix].successes, t.stats[ix].failings, t.stats[ix].probes,
			t.state[ix].failures)
		if resetCounters {
			t.stats[ix] = failoverServerStats{}
		}
	}

	return sb.String()
}
