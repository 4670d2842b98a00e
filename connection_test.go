package xpc

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestConnectionRequestReply(t *testing.T) {
	tr := NewLoopTransport()
	cfg := DefaultConfig()

	listener, err := NewListener(tr, "echo", cfg)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	listener.SetAcceptHandler(func(peer *Connection) {
		peer.SetEventHandler(func(seq uint64, event *Value) {
			if event.IsError() {
				return
			}
			kind, _, _ := event.DictGetString("kind")
			reply := NewDictionary()
			defer reply.Release()
			_ = reply.DictSetString("kind", "pong")
			_ = reply.DictSetString("echo", kind)
			if err := peer.Reply(context.Background(), seq, reply); err != nil {
				t.Errorf("Reply: %v", err)
			}
		})
	})
	if err := listener.Resume(); err != nil {
		t.Fatalf("Resume listener: %v", err)
	}
	defer listener.Cancel()

	client, err := NewClient(tr, "echo", cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Resume(); err != nil {
		t.Fatalf("Resume client: %v", err)
	}
	defer client.Cancel()

	req := NewDictionary()
	defer req.Release()
	_ = req.DictSetString("kind", "ping")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := client.SendMessageWithReply(ctx, req)
	if err != nil {
		t.Fatalf("SendMessageWithReply: %v", err)
	}
	defer reply.Release()

	kind, ok, err := reply.DictGetString("kind")
	if err != nil || !ok || kind != "pong" {
		t.Fatalf("reply kind = %q, %v, %v; want pong, true, nil", kind, ok, err)
	}
	echo, ok, err := reply.DictGetString("echo")
	if err != nil || !ok || echo != "ping" {
		t.Fatalf("reply echo = %q, %v, %v; want ping, true, nil", echo, ok, err)
	}
}

func TestConnectionListenerFanOut(t *testing.T) {
	tr := NewLoopTransport()
	cfg := DefaultConfig()

	seen := make(chan *Connection, 4)
	listener, err := NewListener(tr, "fanout", cfg)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	listener.SetAcceptHandler(func(peer *Connection) {
		peer.SetEventHandler(func(seq uint64, event *Value) {
			if !event.IsError() {
				_ = peer.Reply(context.Background(), seq, NewBool(true))
			}
		})
		seen <- peer
	})
	if err := listener.Resume(); err != nil {
		t.Fatalf("Resume listener: %v", err)
	}
	defer listener.Cancel()

	const n = 3
	clients := make([]*Connection, n)
	for i := 0; i < n; i++ {
		c, err := NewClient(tr, "fanout", cfg)
		if err != nil {
			t.Fatalf("NewClient %d: %v", i, err)
		}
		if err := c.Resume(); err != nil {
			t.Fatalf("Resume client %d: %v", i, err)
		}
		clients[i] = c
	}
	defer func() {
		for _, c := range clients {
			c.Cancel()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	peers := make(map[*Connection]bool)
	for i := 0; i < n; i++ {
		select {
		case p := <-seen:
			if peers[p] {
				t.Fatal("same peer Connection observed twice")
			}
			peers[p] = true
		case <-ctx.Done():
			t.Fatal("timed out waiting for accepted peer")
		}
	}

	v := NewBool(false)
	defer v.Release()
	for i, c := range clients {
		reply, err := c.SendMessageWithReply(ctx, v)
		if err != nil {
			t.Fatalf("client %d SendMessageWithReply: %v", i, err)
		}
		reply.Release()
	}
}

func TestConnectionCancelDeliversTeardownEvents(t *testing.T) {
	tr := NewLoopTransport()
	cfg := DefaultConfig()

	listener, err := NewListener(tr, "teardown", cfg)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	accepted := make(chan *Connection, 1)
	listener.SetAcceptHandler(func(peer *Connection) {
		accepted <- peer
	})
	if err := listener.Resume(); err != nil {
		t.Fatalf("Resume listener: %v", err)
	}
	defer listener.Cancel()

	client, err := NewClient(tr, "teardown", cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	events := make(chan *Value, 4)
	client.SetEventHandler(func(seq uint64, event *Value) {
		events <- event
	})
	if err := client.Resume(); err != nil {
		t.Fatalf("Resume client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-accepted:
	case <-ctx.Done():
		t.Fatal("timed out waiting for accept")
	}

	client.Cancel()

	first := waitForValue(t, events, ctx)
	code, _, err := first.ErrorValue()
	if err != nil || code != int64(ConnectionInterrupted) {
		t.Fatalf("first teardown event code = %d, %v; want ConnectionInterrupted", code, err)
	}

	second := waitForValue(t, events, ctx)
	code, _, err = second.ErrorValue()
	if err != nil || code != int64(ConnectionInvalid) {
		t.Fatalf("second teardown event code = %d, %v; want ConnectionInvalid", code, err)
	}
}

func TestConnectionCancelUnblocksPendingReply(t *testing.T) {
	tr := NewLoopTransport()
	cfg := DefaultConfig()

	listener, err := NewListener(tr, "stall", cfg)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	listener.SetAcceptHandler(func(peer *Connection) {
		// Never attaches a handler or replies: requests just pile up.
	})
	if err := listener.Resume(); err != nil {
		t.Fatalf("Resume listener: %v", err)
	}
	defer listener.Cancel()

	client, err := NewClient(tr, "stall", cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Resume(); err != nil {
		t.Fatalf("Resume client: %v", err)
	}

	req := NewBool(true)
	defer req.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	var reply *Value
	var sendErr error
	go func() {
		reply, sendErr = client.SendMessageWithReply(ctx, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	client.Cancel()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("Cancel did not unblock SendMessageWithReply")
	}

	if sendErr != nil {
		t.Fatalf("SendMessageWithReply returned error instead of synthetic reply: %v", sendErr)
	}
	defer reply.Release()
	if !reply.IsError() {
		t.Fatal("reply after Cancel should be an Error-kind Value")
	}
}

// externalQueue is a minimal Queue the test owns and must stop itself,
// used to verify SetTargetQueue hands dispatch off to caller-supplied
// infrastructure rather than this package's own default.
type externalQueue struct {
	work chan func()
	done chan struct{}
}

func newExternalQueue() *externalQueue {
	q := &externalQueue{work: make(chan func(), 16), done: make(chan struct{})}
	go func() {
		for {
			select {
			case fn := <-q.work:
				fn()
			case <-q.done:
				return
			}
		}
	}()
	return q
}

func (q *externalQueue) Submit(fn func()) {
	select {
	case q.work <- fn:
	case <-q.done:
	}
}

func (q *externalQueue) stop() { close(q.done) }

func TestConnectionEndpointRoundTrip(t *testing.T) {
	tr := NewLoopTransport()
	cfg := DefaultConfig()

	listener, err := NewListener(tr, "endpoint-svc", cfg)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	listener.SetAcceptHandler(func(peer *Connection) {
		peer.SetEventHandler(func(seq uint64, event *Value) {
			if !event.IsError() {
				_ = peer.Reply(context.Background(), seq, NewBool(true))
			}
		})
	})
	if err := listener.Resume(); err != nil {
		t.Fatalf("Resume listener: %v", err)
	}
	defer listener.Cancel()

	endpoint := listener.Endpoint()
	defer endpoint.Release()

	client, err := NewClientFromEndpoint(tr, endpoint, cfg)
	if err != nil {
		t.Fatalf("NewClientFromEndpoint: %v", err)
	}
	if err := client.Resume(); err != nil {
		t.Fatalf("Resume client: %v", err)
	}
	defer client.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := NewBool(false)
	defer req.Release()
	reply, err := client.SendMessageWithReply(ctx, req)
	if err != nil {
		t.Fatalf("SendMessageWithReply: %v", err)
	}
	defer reply.Release()
	ok, err := reply.Bool()
	if err != nil || !ok {
		t.Fatalf("reply = %v, %v; want true, nil", ok, err)
	}
}

func TestConnectionSendBarrierRunsAfterPriorSends(t *testing.T) {
	tr := NewLoopTransport()
	cfg := DefaultConfig()

	listener, err := NewListener(tr, "barrier-svc", cfg)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	var mu sync.Mutex
	var received []string
	listener.SetAcceptHandler(func(peer *Connection) {
		peer.SetEventHandler(func(seq uint64, event *Value) {
			if event.IsError() {
				return
			}
			str, _ := event.String()
			mu.Lock()
			received = append(received, str)
			mu.Unlock()
		})
	})
	if err := listener.Resume(); err != nil {
		t.Fatalf("Resume listener: %v", err)
	}
	defer listener.Cancel()

	client, err := NewClient(tr, "barrier-svc", cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Resume(); err != nil {
		t.Fatalf("Resume client: %v", err)
	}
	defer client.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, s := range []string{"one", "two", "three"} {
		v := NewString(s)
		if err := client.SendMessage(ctx, v); err != nil {
			t.Fatalf("SendMessage(%q): %v", s, err)
		}
		v.Release()
	}

	barrierRan := make(chan struct{})
	client.SendBarrier(func() { close(barrierRan) })

	select {
	case <-barrierRan:
	case <-ctx.Done():
		t.Fatal("SendBarrier block never ran")
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("listener observed %d messages after barrier ran; want 3", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectionSetTargetQueueUsesCallerQueue(t *testing.T) {
	tr := NewLoopTransport()
	cfg := DefaultConfig()

	accepted := make(chan struct{}, 1)
	listener, err := NewListener(tr, "target-queue-svc", cfg)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	listener.SetAcceptHandler(func(peer *Connection) {
		accepted <- struct{}{}
	})
	if err := listener.Resume(); err != nil {
		t.Fatalf("Resume listener: %v", err)
	}
	defer listener.Cancel()

	client, err := NewClient(tr, "target-queue-svc", cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	eq := newExternalQueue()
	defer eq.stop()
	client.SetTargetQueue(eq)

	ranOnExternalQueue := make(chan struct{})
	client.SetEventHandler(func(seq uint64, event *Value) {
		close(ranOnExternalQueue)
	})
	if err := client.Resume(); err != nil {
		t.Fatalf("Resume client: %v", err)
	}
	defer client.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-accepted:
	case <-ctx.Done():
		t.Fatal("timed out waiting for accept")
	}

	client.Cancel()

	select {
	case <-ranOnExternalQueue:
	case <-ctx.Done():
		t.Fatal("event handler never ran on the externally supplied target queue")
	}
}

func waitForValue(t *testing.T, ch <-chan *Value, ctx context.Context) *Value {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
		return nil
	}
}
