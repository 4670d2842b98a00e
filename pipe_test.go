package xpc

import (
	"context"
	"testing"
	"time"
)

func TestPipeSendRecvRoundTrip(t *testing.T) {
	tr := NewLoopTransport()
	listenerPort, err := tr.Listen("pipe-svc")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	clientPort, err := tr.Lookup("pipe-svc")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serverPort, err := tr.Accept(ctx, listenerPort)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	v := NewDictionary()
	_ = v.DictSetString("hello", "xpc")
	defer v.Release()

	if err := PipeSend(ctx, tr, clientPort, 42, v, nil); err != nil {
		t.Fatalf("PipeSend: %v", err)
	}

	got, seq, _, _, err := PipeRecv(ctx, tr, serverPort, DefaultConfig())
	if err != nil {
		t.Fatalf("PipeRecv: %v", err)
	}
	defer got.Release()

	if seq != 42 {
		t.Fatalf("sequence id = %d; want 42", seq)
	}
	if !Equal(v, got) {
		t.Fatalf("round trip mismatch: sent=%s got=%s", v.Describe(), got.Describe())
	}
}

func TestPipeRecvPropagatesFrameErrors(t *testing.T) {
	tr := NewLoopTransport()
	listenerPort, err := tr.Listen("pipe-bad")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	clientPort, err := tr.Lookup("pipe-bad")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serverPort, err := tr.Accept(ctx, listenerPort)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if err := tr.Send(ctx, clientPort, []byte{1, 2, 3}, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if _, _, _, _, err := PipeRecv(ctx, tr, serverPort, DefaultConfig()); err == nil {
		t.Fatal("PipeRecv of a malformed frame: want error, got nil")
	}
}
