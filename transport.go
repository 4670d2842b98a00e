package xpc

import "context"

// Port is an opaque transport-level address: a bound listening
// endpoint, a connected peer, or the result of a successful Lookup.
// Two Ports obtained from the same underlying address must compare
// Equal regardless of how many times they were independently resolved.
type Port interface {
	// String renders the port for logging and for embedding in an
	// Endpoint Value exchanged over the wire.
	String() string
	Equal(other Port) bool
}

// Source is this implementation's stand-in for the real platform's
// dispatch-source-backed readiness notification: a Connection resumes
// it to start receiving events and suspends it to pause, without
// losing anything that arrived while suspended. There is no dispatch
// runtime to delegate to here, so Source is backed by a buffered
// channel the Transport feeds directly.
type Source interface {
	// Events yields a value each time the source has something ready:
	// an incoming datagram for a server/client source, or readiness to
	// retry a send.
	Events() <-chan struct{}

	// Resume begins (or resumes) delivery. Idempotent.
	Resume()

	// Suspend pauses delivery; events that arrive while suspended are
	// queued up to the source's internal capacity, not dropped, so a
	// later Resume observes them.
	Suspend()

	// Cancel permanently stops the source and releases any resources
	// it holds. After Cancel, Events never yields again.
	Cancel()
}

// Transport is the abstraction the Pipe and Connection layers build
// on. A concrete Transport owns how Ports are named and resolved, how
// bytes and Resources actually move, and how Credentials are
// recovered; everything above this layer is transport-agnostic.
type Transport interface {
	// Listen binds and returns a Port reachable under name. On
	// LoopTransport a second Listen for the same name fails with
	// ConnectionInvalid; UnixTransport removes any socket file already
	// at the name's path and binds again, so it does not detect an
	// existing listener.
	Listen(name string) (Port, error)

	// Lookup resolves name to a Port without binding it, the
	// counterpart a client uses to reach a Listen'd service.
	Lookup(name string) (Port, error)

	// Release tears down a Port obtained from Listen or Lookup. It does
	// not cancel Sources created against the port; callers Cancel them
	// separately.
	Release(p Port) error

	// Send transmits payload and, atomically with it, the given
	// Resources (all-or-nothing: if any resource fails to attach, no
	// data is sent) to p.
	Send(ctx context.Context, p Port, payload []byte, resources []Resource) error

	// Recv blocks until a datagram addressed to p is available, then
	// returns its payload, any attached Resources, and the sender's
	// Credentials.
	Recv(ctx context.Context, p Port) (payload []byte, resources []Resource, creds Credentials, err error)

	// CreateClientSource returns a Source that becomes ready whenever p
	// (a port obtained from Lookup, i.e. a connecting client) has data
	// to Recv.
	CreateClientSource(p Port) (Source, error)

	// CreateServerSource returns a Source that becomes ready whenever p
	// (a port obtained from Listen) has a new incoming peer to accept.
	CreateServerSource(p Port) (Source, error)

	// Accept completes one pending connection on a listening Port,
	// returning a fresh Port bound exclusively to that peer. Called
	// after CreateServerSource signals readiness; blocks if nothing is
	// pending.
	Accept(ctx context.Context, p Port) (Port, error)
}
