// Command xpcd is a minimal demonstration listener: it binds a named
// service and answers every request with a {"kind": "pong"} dictionary,
// copying the request's "kind" string into "echo" when present, and
// logs activity through the same package logger the library itself
// uses. It exists
// to exercise Connection's listener/peer fan-out end to end, not as a
// product in its own right.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/op/go-logging"
	uuid "github.com/satori/go.uuid"

	xpc "github.com/jceel/libxpc"
)

func main() {
	service := flag.String("service", "com.github.jceel.libxpc.echo", "service name to listen on")
	socketDir := flag.String("socket-dir", "", "override the socket directory (defaults to XPC_SOCKET_DIR or /var/run/xpc)")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := logging.NOTICE
	if *verbose {
		level = logging.DEBUG
	}
	xpc.SetupLogging("xpcd", level, true)
	log := logging.MustGetLogger("xpcd")

	cfg := xpc.DefaultConfig()
	if *socketDir != "" {
		cfg.SocketDir = *socketDir
	}

	transport, err := xpc.NewUnixTransport(cfg)
	if err != nil {
		log.Fatalf("create transport: %v", err)
	}

	listener, err := xpc.NewListener(transport, *service, cfg)
	if err != nil {
		log.Fatalf("listen on %s: %v", *service, err)
	}

	listener.SetAcceptHandler(func(peer *xpc.Connection) {
		sessionID := uuid.NewV4()
		log.Infof("accepted peer connection %s", sessionID)
		peer.SetEventHandler(func(seq uint64, event *xpc.Value) {
			handleEvent(log, peer, seq, event)
		})
	})

	if err := listener.Resume(); err != nil {
		log.Fatalf("resume listener: %v", err)
	}
	log.Noticef("xpcd listening on service %q", *service)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Notice("shutting down")
	listener.Cancel()
}

func handleEvent(log *logging.Logger, peer *xpc.Connection, seq uint64, event *xpc.Value) {
	if event.IsError() {
		code, msg, _ := event.ErrorValue()
		log.Infof("peer connection ended: %d %s", code, msg)
		return
	}

	reply := xpc.NewDictionary()
	defer reply.Release()
	if kind, ok, _ := event.DictGetString("kind"); ok {
		_ = reply.DictSetString("kind", "pong")
		_ = reply.DictSetString("echo", kind)
	} else {
		_ = reply.DictSetString("kind", "pong")
	}

	ctx := context.Background()
	if err := peer.Reply(ctx, seq, reply); err != nil {
		log.Warningf("send reply: %v", err)
	}
}
