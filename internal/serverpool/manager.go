package serverpool

import (
	"time"
)

// Server is the interface used to create a serverpool collection. It is returned by DispatchOrder()
// and passed in to Result(). The underlying struct is supplied by the caller when they created the
// collection with one of the New* functions. This struct can be either one created by the caller or
// the default struct used by our ServersFromNames() helper. The application will normally supply
// its own if it wants to track other things related to the server, such as connections or cookie
// state.
type Server interface {
	Name() string
}

// Manager is the public interface for serverpool.
type Manager interface {
	// Algorithm returns the name of the implementation
	Algorithm() string

	// DispatchOrder returns all servers in the order they should be offered the next query as
	// determined by the underlying algorithm. The slice is freshly derived on each call; a slice
	// kept across Result() calls does not reflect the health changes those calls make.
	DispatchOrder() []Server

	// Result updates internal health statistics for the server. Success resets the
	// consecutive-failure count to zero; failure increments it and records the failure time
	// used for probe cool-down.
	//
	// Return false if Server is not part of this collection
	Result(server Server, success bool, now time.Time) bool

	// ProbeCandidate returns a failed server that deserves an out-of-band probe, or nil. A
	// server is eligible when its most recent failure is at least the configured retry delay
	// old and no probe for it is already outstanding. The oldest eligible failure wins, subject
	// to a Bernoulli trial with the configured retry chance. The returned server is marked
	// probe-pending; the caller must eventually call ProbeDone for it.
	ProbeCandidate(now time.Time) Server

	// ProbeDone clears the probe-pending mark set by ProbeCandidate.
	//
	// Return false if Server is not part of this collection
	ProbeDone(server Server) bool

	// Failures returns the current consecutive-failure count for the server, or -1 if the
	// server is not part of this collection.
	Failures(server Server) int

	// Servers returns a slice of all Servers in the order originally created.
	Servers() []Server

	// Len returns the count of servers
	Len() int

	// Report returns a printable multi-line summary of per-server health counters, optionally
	// resetting them to zero.
	Report(resetCounters bool) string
}
