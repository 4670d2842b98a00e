package xpc

import (
	"context"
	"testing"
	"time"
)

func TestLoopTransportSendRecv(t *testing.T) {
	tr := NewLoopTransport()
	listenerPort, err := tr.Listen("svc")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	clientPort, err := tr.Lookup("svc")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serverPort, err := tr.Accept(ctx, listenerPort)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

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
}

func TestLoopTransportDoubleListenFails(t *testing.T) {
	tr := NewLoopTransport()
	if _, err := tr.Listen("dup"); err != nil {
		t.Fatalf("first Listen: %v", err)
	}
	if _, err := tr.Listen("dup"); err == nil {
		t.Fatal("second Listen for same name: want error, got nil")
	}
}

func TestLoopTransportLookupUnknownFails(t *testing.T) {
	tr := NewLoopTransport()
	if _, err := tr.Lookup("nope"); err == nil {
		t.Fatal("Lookup of unbound name: want error, got nil")
	}
}
