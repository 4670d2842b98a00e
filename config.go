package xpc

import "os"

// defaultSocketDir is the well-known directory holding one
// stream-socket file per service name, matching the original unix
// transport's SOCKET_DIR constant.
const defaultSocketDir = "/var/run/xpc"

// Config configures a Transport/Connection instance. It is always
// passed explicitly at construction time rather than read from a
// mutable package global, so tests can swap in an isolated socket
// directory or an in-memory loopback Transport without cross-talk.
type Config struct {
	// SocketDir is the directory the Unix transport binds named
	// service sockets under, and resolves lookups against. Defaults
	// to the XPC_SOCKET_DIR environment variable, then
	// "/var/run/xpc".
	SocketDir string

	// ProtocolVersion records the frame protocol version, 1. PipeSend
	// and ParseFrame do not read this field: they always write and
	// accept version 1, and any other value on the wire is a fatal
	// frame error.
	ProtocolVersion uint64

	// NodePoolPageSize is the number of node-budget units recorded per
	// page of the decoder's node-budget ledger (internal/nodepool).
	// Decoded Values are allocated individually; the pages only group
	// the budget accounting and do not hold the nodes.
	NodePoolPageSize int

	// InitialParseDepth is the stack-allocated initial nesting depth
	// the decoder supports before it must grow (geometric doubling)
	// or fail with TooBig.
	InitialParseDepth int

	// PendingPeerQueueDepth bounds the number of frames queued for an
	// accepted peer Connection before its event handler has been set
	// by the listener's accept hook.
	PendingPeerQueueDepth int
}

// DefaultConfig returns the Config used when none is supplied.
func DefaultConfig() Config {
	dir := os.Getenv("XPC_SOCKET_DIR")
	if dir == "" {
		dir = defaultSocketDir
	}
	return Config{
		SocketDir:             dir,
		ProtocolVersion:       protocolVersion,
		NodePoolPageSize:      1024,
		InitialParseDepth:     32,
		PendingPeerQueueDepth: 16,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SocketDir == "" {
		c.SocketDir = d.SocketDir
	}
	if c.ProtocolVersion == 0 {
		c.ProtocolVersion = d.ProtocolVersion
	}
	if c.NodePoolPageSize == 0 {
		c.NodePoolPageSize = d.NodePoolPageSize
	}
	if c.InitialParseDepth == 0 {
		c.InitialParseDepth = d.InitialParseDepth
	}
	if c.PendingPeerQueueDepth == 0 {
		c.PendingPeerQueueDepth = d.PendingPeerQueueDepth
	}
	return c
}
