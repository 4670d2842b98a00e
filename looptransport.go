package xpc

import (
	"context"
	"sync"
)

// LoopTransport is an in-process Transport backed by Go channels: no
// sockets, no syscalls, usable in tests (and by any process that only
// ever talks to itself) without a socket directory on disk.
//
// Each Listen creates a rendezvous point; each Lookup performs one
// "connect" against it, producing a fresh bidirectional pair of
// channels just as accept(2) would produce a fresh connected socket on
// the Unix transport.
type LoopTransport struct {
	mu        sync.Mutex
	listeners map[string]*loopListener
}

// NewLoopTransport returns a ready-to-use LoopTransport.
func NewLoopTransport() *LoopTransport {
	return &LoopTransport{listeners: make(map[string]*loopListener)}
}

type loopMessage struct {
	payload   []byte
	resources []Resource
	creds     Credentials
}

// directedChannel is one direction of a connected pair: the sending
// side pushes onto data and pings notify, and a Source built over
// notify can observe readiness without ever consuming from data —
// only Recv is allowed to do that.
type directedChannel struct {
	data   chan loopMessage
	notify chan struct{}
}

func newDirectedChannel() *directedChannel {
	return &directedChannel{data: make(chan loopMessage, 64), notify: make(chan struct{}, 64)}
}

// loopEnd is one side of a connected channel pair: recv is this end's
// own inbox, send is the peer's inbox (the same *directedChannel the
// peer's loopEnd calls its own recv).
type loopEnd struct {
	name string
	recv *directedChannel
	send *directedChannel
}

func (e *loopEnd) String() string { return "loop:" + e.name }

func (e *loopEnd) Equal(other Port) bool {
	o, ok := other.(*loopEnd)
	return ok && o == e
}

type loopListener struct {
	name    string
	pending chan *loopEnd
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Listen registers name as accepting connections. Calling Listen twice
// for the same name without an intervening Release is a
// ConnectionInvalid error.
func (t *LoopTransport) Listen(name string) (Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.listeners[name]; exists {
		return nil, newErrorf(ConnectionInvalid, "already listening on %q", name)
	}
	l := &loopListener{
		name:    name,
		pending: make(chan *loopEnd, 64),
		notify:  make(chan struct{}, 64),
		done:    make(chan struct{}),
	}
	t.listeners[name] = l
	return &loopEnd{name: name}, nil
}

// Lookup connects to a service previously bound with Listen, returning
// the client's end of a fresh channel pair. The corresponding server
// end is queued for the listener's Accept.
func (t *LoopTransport) Lookup(name string) (Port, error) {
	t.mu.Lock()
	l, ok := t.listeners[name]
	t.mu.Unlock()
	if !ok {
		return nil, newErrorf(ConnectionInvalid, "no listener for %q", name)
	}

	toServer := newDirectedChannel()
	toClient := newDirectedChannel()
	clientEnd := &loopEnd{name: name, recv: toClient, send: toServer}
	serverEnd := &loopEnd{name: name, recv: toServer, send: toClient}

	select {
	case l.pending <- serverEnd:
	case <-l.done:
		return nil, newErrorf(ConnectionInvalid, "listener for %q released", name)
	}
	pingNotify(l.notify)
	return clientEnd, nil
}

// Accept completes one pending Lookup against a listening Port.
func (t *LoopTransport) Accept(ctx context.Context, p Port) (Port, error) {
	l, err := t.listenerFor(p)
	if err != nil {
		return nil, err
	}
	select {
	case end := <-l.pending:
		return end, nil
	case <-l.done:
		return nil, newError(ConnectionInvalid, "listener released")
	case <-ctx.Done():
		return nil, newError(ConnectionInterrupted, ctx.Err().Error())
	}
}

// Release tears down p. For a listening Port this stops further
// Accepts; for a connected end it is a no-op beyond what garbage
// collection already does once both ends drop their reference to the
// shared directedChannels.
func (t *LoopTransport) Release(p Port) error {
	end, ok := p.(*loopEnd)
	if !ok {
		return newError(Invalid, "not a loop transport port")
	}
	if end.recv == nil && end.send == nil {
		t.mu.Lock()
		l, exists := t.listeners[end.name]
		if exists {
			delete(t.listeners, end.name)
		}
		t.mu.Unlock()
		if exists {
			l.once.Do(func() { close(l.done) })
		}
	}
	return nil
}

// Send delivers payload and resources to the peer of p.
func (t *LoopTransport) Send(ctx context.Context, p Port, payload []byte, resources []Resource) error {
	end, ok := p.(*loopEnd)
	if !ok || end.send == nil {
		return newError(Invalid, "port is not connected")
	}
	msg := loopMessage{payload: append([]byte(nil), payload...), resources: append([]Resource(nil), resources...)}
	select {
	case end.send.data <- msg:
		pingNotify(end.send.notify)
	case <-ctx.Done():
		return newError(ConnectionInterrupted, ctx.Err().Error())
	}
	return nil
}

// Recv blocks for the next message addressed to p.
func (t *LoopTransport) Recv(ctx context.Context, p Port) ([]byte, []Resource, Credentials, error) {
	end, ok := p.(*loopEnd)
	if !ok || end.recv == nil {
		return nil, nil, Credentials{}, newError(Invalid, "port is not connected")
	}
	select {
	case msg, open := <-end.recv.data:
		if !open {
			return nil, nil, Credentials{}, newError(ConnectionInvalid, "peer released")
		}
		return msg.payload, msg.resources, msg.creds, nil
	case <-ctx.Done():
		return nil, nil, Credentials{}, newError(ConnectionInterrupted, ctx.Err().Error())
	}
}

// CreateClientSource returns a Source that fires whenever p has a
// message waiting in Recv.
func (t *LoopTransport) CreateClientSource(p Port) (Source, error) {
	end, ok := p.(*loopEnd)
	if !ok || end.recv == nil {
		return nil, newError(Invalid, "port is not connected")
	}
	return newLoopSource(end.recv.notify), nil
}

// CreateServerSource returns a Source that fires whenever p (a
// listening Port) has a pending Accept.
func (t *LoopTransport) CreateServerSource(p Port) (Source, error) {
	l, err := t.listenerFor(p)
	if err != nil {
		return nil, err
	}
	return newLoopSource(l.notify), nil
}

func (t *LoopTransport) listenerFor(p Port) (*loopListener, error) {
	end, ok := p.(*loopEnd)
	if !ok {
		return nil, newError(Invalid, "not a loop transport port")
	}
	t.mu.Lock()
	l, exists := t.listeners[end.name]
	t.mu.Unlock()
	if !exists {
		return nil, newErrorf(ConnectionInvalid, "no listener for %q", end.name)
	}
	return l, nil
}

func pingNotify(notify chan struct{}) {
	select {
	case notify <- struct{}{}:
	default:
	}
}
