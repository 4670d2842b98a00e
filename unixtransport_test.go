package xpc

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestUnixTransportSendRecv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SocketDir = t.TempDir()

	tr, err := NewUnixTransport(cfg)
	if err != nil {
		t.Fatalf("NewUnixTransport: %v", err)
	}

	listenerPort, err := tr.Listen("svc")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer tr.Release(listenerPort)

	clientPort, err := tr.Lookup("svc")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	defer tr.Release(clientPort)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serverPort, err := tr.Accept(ctx, listenerPort)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer tr.Release(serverPort)

	if err := tr.Send(ctx, clientPort, []byte("hello"), nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	payload, _, _, err := tr.Recv(ctx, serverPort)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(payload) != "hello" {
		t.Fatalf("Recv payload = %q; want %q", payload, "hello")
	}

	if err := tr.Send(ctx, serverPort, []byte("world"), nil); err != nil {
		t.Fatalf("Send (reverse): %v", err)
	}
	payload, _, _, err = tr.Recv(ctx, clientPort)
	if err != nil {
		t.Fatalf("Recv (reverse): %v", err)
	}
	if string(payload) != "world" {
		t.Fatalf("Recv (reverse) payload = %q; want %q", payload, "world")
	}
}

func TestUnixTransportLookupUnboundFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SocketDir = t.TempDir()

	tr, err := NewUnixTransport(cfg)
	if err != nil {
		t.Fatalf("NewUnixTransport: %v", err)
	}

	if _, err := tr.Lookup("nope"); err == nil {
		t.Fatal("Lookup of unbound name: want error, got nil")
	}
}

func TestUnixTransportConnectionOverSockets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SocketDir = t.TempDir()

	tr, err := NewUnixTransport(cfg)
	if err != nil {
		t.Fatalf("NewUnixTransport: %v", err)
	}

	listener, err := NewListener(tr, "echo-unix", cfg)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	peers := make(chan *Connection, 1)
	listener.SetAcceptHandler(func(peer *Connection) {
		peer.SetEventHandler(func(seq uint64, event *Value) {
			if event.IsError() {
				return
			}
			_ = peer.Reply(context.Background(), seq, NewBool(true))
			select {
			case peers <- peer:
			default:
			}
		})
	})
	if err := listener.Resume(); err != nil {
		t.Fatalf("Resume listener: %v", err)
	}
	defer listener.Cancel()

	client, err := NewClient(tr, "echo-unix", cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Resume(); err != nil {
		t.Fatalf("Resume client: %v", err)
	}
	defer client.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := NewString("ping")
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

	select {
	case peer := <-peers:
		wantPID := uint64(os.Getpid())
		if got := peer.GetPID(); got != wantPID {
			t.Fatalf("listener-side peer.GetPID() = %d; want %d (this process's pid)", got, wantPID)
		}
		if got := peer.GetUID(); got != uint64(os.Getuid()) {
			t.Fatalf("listener-side peer.GetUID() = %d; want %d", got, os.Getuid())
		}
		if got := peer.GetGID(); got != uint64(os.Getgid()) {
			t.Fatalf("listener-side peer.GetGID() = %d; want %d", got, os.Getgid())
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for accepted peer")
	}
}
