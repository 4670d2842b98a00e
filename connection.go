package xpc

import (
	"context"
	"sync"
	"sync/atomic"
)

// Role identifies which of the three lifecycles a Connection follows.
type Role uint8

const (
	// RoleClient connections are created by looking up a named service
	// and connecting to it.
	RoleClient Role = iota + 1
	// RoleListener connections bind a name and fan child RolePeer
	// connections out of incoming connects.
	RoleListener
	// RolePeer connections are produced by a RoleListener's accept
	// loop, one per connected client.
	RolePeer
)

// EventHandler receives every Value a Connection delivers that is not
// itself the reply to an outstanding SendMessageWithReply/
// SendMessageWithReplyAsync call: unsolicited messages from the peer,
// and the two synthetic teardown events (ConnectionInterrupted, then
// ConnectionInvalid) delivered in that order when the connection ends.
// seq is the sequence id the message arrived under, to be passed back
// to Reply; it is 0 for the synthetic teardown events, which no Reply
// can answer.
type EventHandler func(seq uint64, event *Value)

// AcceptHandler is invoked once, synchronously, for each peer a
// RoleListener Connection accepts. It is the only place that
// Connection's SetEventHandler may be called for that peer; any frames
// that arrive before this call returns are queued (bounded by
// Config.PendingPeerQueueDepth) and delivered to whatever handler is
// attached once it returns.
type AcceptHandler func(peer *Connection)

// Queue is this package's abstraction of the host's serial dispatch
// queue: an executor that runs submitted funcs strictly one at a time,
// in submission order. A Connection's target queue (where the event
// handler and reply continuations run) defaults to an internal Queue
// but can be swapped via SetTargetQueue to reuse a queue the host
// application already runs elsewhere.
type Queue interface {
	Submit(fn func())
}

// serialQueue runs submitted funcs strictly one at a time, in the
// order submitted, on a dedicated goroutine — this package's stand-in
// for a dispatch serial queue, and the default implementation of Queue.
type serialQueue struct {
	work chan func()
	done chan struct{}
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{work: make(chan func(), 64), done: make(chan struct{})}
	go q.run()
	return q
}

func (q *serialQueue) run() {
	for {
		select {
		case fn := <-q.work:
			fn()
		case <-q.done:
			return
		}
	}
}

func (q *serialQueue) Submit(fn func()) {
	select {
	case q.work <- fn:
	case <-q.done:
	}
}

func (q *serialQueue) stop() {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}

// pendingReply tracks one outstanding request awaiting a Reply. Exactly
// one of replyCh (the blocking SendMessageWithReply form) or
// continuation (the async SendMessageWithReplyAsync form) is set.
type pendingReply struct {
	replyCh      chan *Value
	continuation func(*Value)
	queue        Queue // destination for continuation; nil means the connection's target queue
}

// Connection is a bidirectional, sequenced, framed message channel
// over a Transport Port: the unit applications hold to send requests,
// await replies, and receive unsolicited events.
type Connection struct {
	role Role
	t    Transport
	cfg  Config

	// name is the service name this connection was created against
	// (NewClient) or bound to (NewListener); empty for an accepted
	// RolePeer connection. Backs Endpoint/NewClientFromEndpoint.
	name string

	port Port

	// internalGuard serializes mutation of the fields below (pending
	// table, handler, accept hook, target queue, last credentials,
	// suspended flag, teardown state), mirroring the "internal queue"
	// the design calls out separately from send/recv/target so that a
	// handler invocation can itself call back into the Connection
	// without deadlocking on the queue that is running it.
	internalGuard sync.Mutex

	eventHandler  EventHandler
	acceptHandler AcceptHandler

	nextSeq uint64 // atomic; first allocated value is 1, never 0

	pending map[uint64]*pendingReply

	recvQueue      *serialQueue // decodes and dispatches inbound frames
	sendQueue      *serialQueue // serializes outbound Sends
	targetQueue    Queue        // runs eventHandler/acceptHandler/continuation callbacks
	ownTargetQueue bool         // true if targetQueue is this Connection's own internal queue

	recvSource Source
	acceptSrc  Source

	suspended int32 // atomic bool; 1 = not yet resumed or currently suspended
	torndown  int32 // atomic bool; 1 once teardown has begun

	pendingPeerFrames []queuedFrame // buffered until a peer's handler is attached

	// lastCreds holds the credentials observed on the most recently
	// dispatched inbound frame (spec's "last_credentials"), surfaced
	// via GetPID/GetUID/GetGID.
	lastCreds Credentials

	children sync.WaitGroup
}

type queuedFrame struct {
	seq       uint64
	val       *Value
	resources []Resource
	creds     Credentials
}

// NewClient looks up name on t and returns a suspended RoleClient
// Connection. Call Resume to begin delivering events.
func NewClient(t Transport, name string, cfg Config) (*Connection, error) {
	port, err := t.Lookup(name)
	if err != nil {
		return nil, err
	}
	return newConnection(RoleClient, t, port, cfg, name), nil
}

// NewListener binds name on t and returns a suspended RoleListener
// Connection. Call SetAcceptHandler before Resume so no connecting
// peer is missed.
func NewListener(t Transport, name string, cfg Config) (*Connection, error) {
	port, err := t.Listen(name)
	if err != nil {
		return nil, err
	}
	return newConnection(RoleListener, t, port, cfg, name), nil
}

// NewClientFromEndpoint reconnects to the service captured by endpoint
// (a Value of kind Endpoint, as returned by Connection.Endpoint), the
// counterpart of connection_create_from_endpoint: an Endpoint's token
// is the service name it was minted from, so this is NewClient with
// that name extracted instead of passed directly.
func NewClientFromEndpoint(t Transport, endpoint *Value, cfg Config) (*Connection, error) {
	name, err := endpoint.Endpoint()
	if err != nil {
		return nil, err
	}
	return NewClient(t, name, cfg)
}

func newConnection(role Role, t Transport, port Port, cfg Config, name string) *Connection {
	return &Connection{
		role:      role,
		t:         t,
		cfg:       cfg.withDefaults(),
		name:      name,
		port:      port,
		pending:   make(map[uint64]*pendingReply),
		suspended: 1,
	}
}

// Endpoint returns a Value capturing this connection's service name, a
// capability that can be handed to another process (or stored) and
// later turned back into a connected Connection via
// NewClientFromEndpoint. Only meaningful for a Connection created by
// NewClient or NewListener; an accepted peer's Endpoint carries an
// empty token.
func (c *Connection) Endpoint() *Value {
	return NewEndpoint(c.name)
}

// SetEventHandler installs the handler that receives unsolicited
// messages and teardown notifications. For a RolePeer connection this
// must be called from within the owning listener's AcceptHandler.
func (c *Connection) SetEventHandler(h EventHandler) {
	c.internalGuard.Lock()
	c.eventHandler = h
	queued := c.pendingPeerFrames
	c.pendingPeerFrames = nil
	c.internalGuard.Unlock()

	for _, f := range queued {
		c.dispatchInbound(f.seq, f.val, f.resources, f.creds)
	}
}

// SetAcceptHandler installs the callback invoked for each peer a
// RoleListener Connection accepts. Must be set before Resume.
func (c *Connection) SetAcceptHandler(h AcceptHandler) {
	c.internalGuard.Lock()
	defer c.internalGuard.Unlock()
	c.acceptHandler = h
}

// SetTargetQueue overrides the Queue that runs the event handler and
// reply continuations, in place of Connection's own internal queue —
// the Go analogue of passing a target_queue to connection_create. Call
// before Resume for a client/listener, or from within the listener's
// AcceptHandler for a peer. If the Connection's own internal queue was
// still in use (nothing else has replaced it), it is stopped once
// replaced so its goroutine doesn't leak.
func (c *Connection) SetTargetQueue(q Queue) {
	c.internalGuard.Lock()
	old := c.targetQueue
	ownOld := c.ownTargetQueue
	c.targetQueue = q
	c.ownTargetQueue = false
	c.internalGuard.Unlock()

	if ownOld {
		if sq, ok := old.(*serialQueue); ok {
			sq.stop()
		}
	}
}

// Resume begins delivering events. Idempotent.
func (c *Connection) Resume() error {
	if !atomic.CompareAndSwapInt32(&c.suspended, 1, 0) {
		return nil
	}
	return c.start()
}

// Suspend pauses delivery without tearing the connection down; queued
// frames remain queued rather than being dropped.
func (c *Connection) Suspend() {
	atomic.StoreInt32(&c.suspended, 1)
	if c.recvSource != nil {
		c.recvSource.Suspend()
	}
	if c.acceptSrc != nil {
		c.acceptSrc.Suspend()
	}
}

// ensureTargetQueue creates the default internal target queue if the
// caller hasn't already installed one via SetTargetQueue. Must run
// before any goroutine can reach dispatchInbound, so Submit is never
// called against a nil Queue.
func (c *Connection) ensureTargetQueue() {
	c.internalGuard.Lock()
	defer c.internalGuard.Unlock()
	if c.targetQueue == nil {
		c.targetQueue = newSerialQueue()
		c.ownTargetQueue = true
	}
}

func (c *Connection) start() error {
	c.sendQueue = newSerialQueue()
	c.recvQueue = newSerialQueue()
	c.ensureTargetQueue()

	switch c.role {
	case RoleListener:
		src, err := c.t.CreateServerSource(c.port)
		if err != nil {
			return err
		}
		c.acceptSrc = src
		src.Resume()
		go c.acceptLoop()
	default:
		src, err := c.t.CreateClientSource(c.port)
		if err != nil {
			return err
		}
		c.recvSource = src
		src.Resume()
		go c.recvLoop()
	}
	return nil
}

func (c *Connection) acceptLoop() {
	for {
		if atomic.LoadInt32(&c.torndown) == 1 {
			return
		}
		_, ok := <-c.acceptSrc.Events()
		if !ok {
			return
		}
		if atomic.LoadInt32(&c.torndown) == 1 {
			return
		}
		ctx := context.Background()
		peerPort, err := c.t.Accept(ctx, c.port)
		if err != nil {
			return
		}
		peer := newConnection(RolePeer, c.t, peerPort, c.cfg, "")
		c.children.Add(1)
		go func() {
			defer c.children.Done()
			peer.runAsAcceptedPeer(c.acceptHandlerSnapshot())
		}()
	}
}

func (c *Connection) acceptHandlerSnapshot() AcceptHandler {
	c.internalGuard.Lock()
	defer c.internalGuard.Unlock()
	return c.acceptHandler
}

// runAsAcceptedPeer starts the peer's recv loop immediately (mirroring
// the platform's behavior of resuming a freshly accepted peer without
// waiting for the application), invokes the listener's accept hook
// exactly once so it can attach an event handler (and optionally a
// target queue), then releases any frames that arrived in the interim.
func (c *Connection) runAsAcceptedPeer(hook AcceptHandler) {
	atomic.StoreInt32(&c.suspended, 0)
	c.sendQueue = newSerialQueue()
	c.recvQueue = newSerialQueue()
	c.ensureTargetQueue()

	src, err := c.t.CreateClientSource(c.port)
	if err != nil {
		return
	}
	c.recvSource = src
	src.Resume()
	go c.recvLoop()

	if hook != nil {
		hook(c)
	}
}

func (c *Connection) recvLoop() {
	for {
		if atomic.LoadInt32(&c.torndown) == 1 {
			return
		}
		_, ok := <-c.recvSource.Events()
		if !ok {
			c.teardown(ConnectionInvalid)
			return
		}
		ctx := context.Background()
		v, seq, resources, creds, err := PipeRecv(ctx, c.t, c.port, c.cfg)
		if err != nil {
			c.teardown(ConnectionInterrupted)
			return
		}
		c.recvQueue.Submit(func() {
			c.dispatchInbound(seq, v, resources, creds)
		})
	}
}

func (c *Connection) dispatchInbound(seq uint64, v *Value, resources []Resource, creds Credentials) {
	c.internalGuard.Lock()
	c.lastCreds = creds

	if reply, ok := c.pending[seq]; ok {
		delete(c.pending, seq)
		replyCh := reply.replyCh
		cont := reply.continuation
		q := reply.queue
		if q == nil {
			q = c.targetQueue
		}
		c.internalGuard.Unlock()

		if replyCh != nil {
			replyCh <- v
		} else {
			q.Submit(func() { cont(v) })
		}
		return
	}

	handler := c.eventHandler
	if handler == nil {
		c.pendingPeerFrames = appendBounded(c.pendingPeerFrames, queuedFrame{seq: seq, val: v, resources: resources, creds: creds}, c.cfg.PendingPeerQueueDepth)
		c.internalGuard.Unlock()
		return
	}
	targetQueue := c.targetQueue
	c.internalGuard.Unlock()

	targetQueue.Submit(func() { handler(seq, v) })
}

func appendBounded(q []queuedFrame, f queuedFrame, max int) []queuedFrame {
	if max <= 0 {
		max = 16
	}
	q = append(q, f)
	if len(q) > max {
		log.Warningf("xpc: dropping oldest queued frame for peer connection, queue depth %d exceeded", max)
		q = q[len(q)-max:]
	}
	return q
}

// nextSequenceID returns the next monotonically increasing, non-zero
// sequence id for this connection.
func (c *Connection) nextSequenceID() uint64 {
	return atomic.AddUint64(&c.nextSeq, 1)
}

// SendMessage transmits v as an unsolicited, fire-and-forget message.
func (c *Connection) SendMessage(ctx context.Context, v *Value, resources ...Resource) error {
	seq := c.nextSequenceID()
	return c.send(ctx, seq, v, resources)
}

// SendMessageWithReply transmits v and blocks until the peer's reply
// (sent via Reply with the same sequence id) arrives, ctx is canceled,
// or the connection tears down. This is the blocking send_with_reply_sync
// form; see SendMessageWithReplyAsync for the non-blocking one.
func (c *Connection) SendMessageWithReply(ctx context.Context, v *Value, resources ...Resource) (*Value, error) {
	seq := c.nextSequenceID()
	replyCh := make(chan *Value, 1)

	c.internalGuard.Lock()
	c.pending[seq] = &pendingReply{replyCh: replyCh}
	c.internalGuard.Unlock()

	if err := c.send(ctx, seq, v, resources); err != nil {
		c.internalGuard.Lock()
		delete(c.pending, seq)
		c.internalGuard.Unlock()
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		c.internalGuard.Lock()
		delete(c.pending, seq)
		c.internalGuard.Unlock()
		return nil, newError(ConnectionInterrupted, ctx.Err().Error())
	}
}

// SendMessageWithReplyAsync transmits v and, once the peer's Reply (or
// a teardown) arrives, runs continuation(reply) on queue — or on this
// Connection's target queue if queue is nil — instead of blocking the
// caller. This is the async send_with_reply form; SendMessageWithReply
// implements the _sync variant in terms of the same pending-reply
// table, blocking on a channel instead of dispatching to a queue.
func (c *Connection) SendMessageWithReplyAsync(ctx context.Context, v *Value, queue Queue, continuation func(reply *Value), resources ...Resource) error {
	seq := c.nextSequenceID()

	c.internalGuard.Lock()
	c.pending[seq] = &pendingReply{continuation: continuation, queue: queue}
	c.internalGuard.Unlock()

	if err := c.send(ctx, seq, v, resources); err != nil {
		c.internalGuard.Lock()
		delete(c.pending, seq)
		c.internalGuard.Unlock()
		return err
	}
	return nil
}

// Reply sends v back as the reply to the request carried by
// requestSeq, the sequence id the request arrived with.
func (c *Connection) Reply(ctx context.Context, requestSeq uint64, v *Value, resources ...Resource) error {
	return c.send(ctx, requestSeq, v, resources)
}

// SendBarrier enqueues block onto the send queue. Because that queue is
// serial, block runs only after every send enqueued before this call
// has been attempted; SendBarrier itself does not block the caller.
func (c *Connection) SendBarrier(block func()) {
	c.sendQueue.Submit(block)
}

func (c *Connection) send(ctx context.Context, seq uint64, v *Value, resources []Resource) error {
	if atomic.LoadInt32(&c.torndown) == 1 {
		return newError(ConnectionInvalid, "connection torn down")
	}
	payload := v.DeepCopy()
	done := make(chan error, 1)
	c.sendQueue.Submit(func() {
		defer payload.Release()
		done <- PipeSend(ctx, c.t, c.port, seq, payload, resources)
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return newError(ConnectionInterrupted, ctx.Err().Error())
	}
}

// Cancel tears the connection down immediately: the event handler (if
// any) observes ConnectionInterrupted followed by ConnectionInvalid,
// any outstanding SendMessageWithReply/SendMessageWithReplyAsync callers
// receive the same as their "reply", and the underlying Port is
// released.
func (c *Connection) Cancel() {
	c.teardown(ConnectionInterrupted)
}

func (c *Connection) teardown(reason ErrorKind) {
	if !atomic.CompareAndSwapInt32(&c.torndown, 0, 1) {
		return
	}

	c.internalGuard.Lock()
	handler := c.eventHandler
	targetQueue := c.targetQueue
	ownTargetQueue := c.ownTargetQueue
	pending := c.pending
	c.pending = make(map[uint64]*pendingReply)
	c.internalGuard.Unlock()

	errVal := AsConnectionError(reason)
	for _, p := range pending {
		if p.replyCh != nil {
			p.replyCh <- errVal
			continue
		}
		q := p.queue
		if q == nil {
			q = targetQueue
		}
		cont := p.continuation
		q.Submit(func() { cont(errVal) })
	}

	if handler != nil && targetQueue != nil {
		interrupted := AsConnectionError(ConnectionInterrupted)
		invalid := AsConnectionError(ConnectionInvalid)
		targetQueue.Submit(func() {
			handler(0, interrupted)
			handler(0, invalid)
		})
	}

	if c.recvSource != nil {
		c.recvSource.Cancel()
	}
	if c.acceptSrc != nil {
		c.acceptSrc.Cancel()
	}
	_ = c.t.Release(c.port)

	c.children.Wait()

	if c.sendQueue != nil {
		c.sendQueue.stop()
	}
	if c.recvQueue != nil {
		c.recvQueue.stop()
	}
	if ownTargetQueue {
		if sq, ok := targetQueue.(*serialQueue); ok {
			sq.stop()
		}
	}
}

// Port returns the transport-level address this connection is bound
// to, for logging or for embedding in an Endpoint Value.
func (c *Connection) Port() Port { return c.port }

// Role reports which lifecycle this Connection follows.
func (c *Connection) Role() Role { return c.role }

// GetPID returns the pid from the most recently observed inbound
// frame's credentials (spec's last_credentials). Zero if no frame
// carrying credentials has arrived yet, or the transport doesn't
// supply them.
func (c *Connection) GetPID() uint64 {
	c.internalGuard.Lock()
	defer c.internalGuard.Unlock()
	return c.lastCreds.PID
}

// GetUID returns the uid from the most recently observed inbound
// frame's credentials.
func (c *Connection) GetUID() uint64 {
	c.internalGuard.Lock()
	defer c.internalGuard.Unlock()
	return c.lastCreds.UID
}

// GetGID returns the gid from the most recently observed inbound
// frame's credentials.
func (c *Connection) GetGID() uint64 {
	c.internalGuard.Lock()
	defer c.internalGuard.Unlock()
	return c.lastCreds.GID
}
