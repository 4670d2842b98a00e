package xpc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/jceel/libxpc/internal/paths"
)

// maxDatagramSize bounds a single SOCK_SEQPACKET read. A datagram
// larger than this truncates, which ReadMsgUnix reports via its
// returned flags; this transport treats a truncated read as an Io
// error rather than silently returning a short payload.
const maxDatagramSize = 1 << 20

// UnixTransport implements Transport over SOCK_SEQPACKET sockets rooted
// at cfg.SocketDir, one named socket file per service. Ordering and
// message-boundary preservation come from SEQPACKET itself; readiness
// notification (CreateClientSource/CreateServerSource) is driven by a
// dedicated reader goroutine per connected port rather than by polling
// the raw fd, so Recv/Accept never race the goroutine that already
// consumed the underlying message.
type UnixTransport struct {
	cfg Config
}

// NewUnixTransport returns a Transport rooted at cfg.SocketDir,
// creating that directory if it does not already exist.
func NewUnixTransport(cfg Config) (*UnixTransport, error) {
	cfg = cfg.withDefaults()
	// cfg.SocketDir already holds XPC_SOCKET_DIR (via DefaultConfig)
	// when the caller left it unset, so the environment is not
	// consulted again here and an explicit SocketDir is used as given.
	dir, err := paths.SocketDir("", cfg.SocketDir)
	if err != nil {
		return nil, newErrorf(Io, "create socket directory %s: %v", cfg.SocketDir, err)
	}
	cfg.SocketDir = dir
	return &UnixTransport{cfg: cfg}, nil
}

func (t *UnixTransport) socketPath(name string) string {
	return filepath.Join(t.cfg.SocketDir, name)
}

type unixRecvResult struct {
	payload   []byte
	resources []Resource
	creds     Credentials
	err       error
}

// unixPort is either a bound listener (listener != nil) or a connected
// peer (conn != nil), never both.
type unixPort struct {
	path string

	listener *net.UnixListener
	acceptCh chan *net.UnixConn
	acceptNotify chan struct{}

	conn       *net.UnixConn
	recvCh     chan unixRecvResult
	recvNotify chan struct{}

	closeOnce sync.Once
}

func (p *unixPort) String() string { return "unix:" + p.path }

func (p *unixPort) Equal(other Port) bool {
	o, ok := other.(*unixPort)
	return ok && o.path == p.path
}

// Listen binds name under the transport's socket directory. Any
// existing socket file at that path (such as one left behind by a
// prior, uncleanly terminated process) is removed first, matching the
// original unix transport's bind behavior. A file belonging to a live
// listener is removed the same way, so a second Listen for a name does
// not fail.
func (t *UnixTransport) Listen(name string) (Port, error) {
	path := t.socketPath(name)
	_ = os.Remove(path)

	addr := &net.UnixAddr{Name: path, Net: "unixpacket"}
	ln, err := net.ListenUnix("unixpacket", addr)
	if err != nil {
		return nil, newErrorf(ConnectionInvalid, "listen %s: %v", path, err)
	}

	p := &unixPort{
		path:         path,
		listener:     ln,
		acceptCh:     make(chan *net.UnixConn, t.cfg.PendingPeerQueueDepth),
		acceptNotify: make(chan struct{}, t.cfg.PendingPeerQueueDepth),
	}
	go p.acceptLoop()
	return p, nil
}

func (p *unixPort) acceptLoop() {
	defer close(p.acceptCh)
	for {
		conn, err := p.listener.AcceptUnix()
		if err != nil {
			return
		}
		if err := enablePassCred(conn); err != nil {
			log.Warningf("xpc: enable SO_PASSCRED on accepted connection: %v", err)
		}
		p.acceptCh <- conn
		pingNotify(p.acceptNotify)
	}
}

// Lookup dials the service bound to name.
func (t *UnixTransport) Lookup(name string) (Port, error) {
	path := t.socketPath(name)
	addr := &net.UnixAddr{Name: path, Net: "unixpacket"}
	conn, err := net.DialUnix("unixpacket", nil, addr)
	if err != nil {
		return nil, newErrorf(ConnectionInvalid, "dial %s: %v", path, err)
	}
	if err := enablePassCred(conn); err != nil {
		log.Warningf("xpc: enable SO_PASSCRED on dialed connection: %v", err)
	}
	return newConnectedUnixPort(path, conn), nil
}

func newConnectedUnixPort(path string, conn *net.UnixConn) *unixPort {
	p := &unixPort{
		path:       path,
		conn:       conn,
		recvCh:     make(chan unixRecvResult, 64),
		recvNotify: make(chan struct{}, 64),
	}
	go p.recvLoop()
	return p
}

func (p *unixPort) recvLoop() {
	defer close(p.recvCh)
	for {
		buf := make([]byte, maxDatagramSize)
		oob := make([]byte, unix.CmsgSpace(256))
		n, oobn, flags, _, err := p.conn.ReadMsgUnix(buf, oob)
		if err != nil {
			p.recvCh <- unixRecvResult{err: newErrorf(Io, "recvmsg: %v", err)}
			pingNotify(p.recvNotify)
			return
		}
		if flags&unix.MSG_TRUNC != 0 || flags&unix.MSG_CTRUNC != 0 {
			p.recvCh <- unixRecvResult{err: newError(Io, "datagram or ancillary data truncated")}
			pingNotify(p.recvNotify)
			continue
		}
		resources, creds, err := parseAncillary(oob[:oobn])
		if err != nil {
			p.recvCh <- unixRecvResult{err: err}
			pingNotify(p.recvNotify)
			continue
		}
		p.recvCh <- unixRecvResult{payload: buf[:n], resources: resources, creds: creds}
		pingNotify(p.recvNotify)
	}
}

// Accept dequeues one connection accepted on a listening Port.
func (t *UnixTransport) Accept(ctx context.Context, port Port) (Port, error) {
	p, ok := port.(*unixPort)
	if !ok || p.listener == nil {
		return nil, newError(Invalid, "port is not a unix listener")
	}
	select {
	case conn, open := <-p.acceptCh:
		if !open {
			return nil, newError(ConnectionInvalid, "listener closed")
		}
		return newConnectedUnixPort(p.path, conn), nil
	case <-ctx.Done():
		return nil, newError(ConnectionInterrupted, ctx.Err().Error())
	}
}

// Release tears down a Port obtained from Listen or Lookup/Accept.
func (t *UnixTransport) Release(port Port) error {
	p, ok := port.(*unixPort)
	if !ok {
		return newError(Invalid, "not a unix transport port")
	}
	p.closeOnce.Do(func() {
		if p.listener != nil {
			_ = p.listener.Close()
			_ = os.Remove(p.path)
		}
		if p.conn != nil {
			_ = p.conn.Close()
		}
	})
	return nil
}

// Send writes payload as one SEQPACKET datagram, attaching resources'
// file descriptors via a single SCM_RIGHTS control message so the
// transfer is atomic: either every descriptor and the payload arrive
// together, or the send fails and none do.
func (t *UnixTransport) Send(ctx context.Context, port Port, payload []byte, resources []Resource) error {
	p, ok := port.(*unixPort)
	if !ok || p.conn == nil {
		return newError(Invalid, "port is not connected")
	}

	var oob []byte
	if len(resources) > 0 {
		fds := make([]int, len(resources))
		for i, r := range resources {
			fds[i] = r.Fd()
		}
		oob = unix.UnixRights(fds...)
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := p.conn.WriteMsgUnix(payload, oob, nil)
		if err != nil {
			done <- newErrorf(Io, "sendmsg: %v", err)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return newError(ConnectionInterrupted, ctx.Err().Error())
	}
}

// Recv returns the next datagram addressed to port, already parsed
// into payload bytes, attached resources, and sender credentials by
// the port's dedicated reader goroutine.
func (t *UnixTransport) Recv(ctx context.Context, port Port) ([]byte, []Resource, Credentials, error) {
	p, ok := port.(*unixPort)
	if !ok || p.conn == nil {
		return nil, nil, Credentials{}, newError(Invalid, "port is not connected")
	}
	select {
	case res, open := <-p.recvCh:
		if !open {
			return nil, nil, Credentials{}, newError(ConnectionInvalid, "peer closed")
		}
		if res.err != nil {
			return nil, nil, Credentials{}, res.err
		}
		return res.payload, res.resources, res.creds, nil
	case <-ctx.Done():
		return nil, nil, Credentials{}, newError(ConnectionInterrupted, ctx.Err().Error())
	}
}

// CreateClientSource returns a Source that fires whenever port's
// reader goroutine has delivered a new message to recvCh.
func (t *UnixTransport) CreateClientSource(port Port) (Source, error) {
	p, ok := port.(*unixPort)
	if !ok || p.conn == nil {
		return nil, newError(Invalid, "port is not connected")
	}
	return newLoopSource(p.recvNotify), nil
}

// CreateServerSource returns a Source that fires whenever port's
// accept goroutine has queued a new connection.
func (t *UnixTransport) CreateServerSource(port Port) (Source, error) {
	p, ok := port.(*unixPort)
	if !ok || p.listener == nil {
		return nil, newError(Invalid, "port is not a unix listener")
	}
	return newLoopSource(p.acceptNotify), nil
}

// parseAncillary splits a raw control-message buffer into the
// resources (SCM_RIGHTS file descriptors) and credentials
// (SCM_CREDENTIALS/SO_PASSCRED, platform-specific) it carries.
func parseAncillary(oob []byte) ([]Resource, Credentials, error) {
	if len(oob) == 0 {
		return nil, Credentials{}, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, Credentials{}, newErrorf(Io, "parse control message: %v", err)
	}

	var resources []Resource
	var creds Credentials
	for _, m := range msgs {
		if m.Header.Level != unix.SOL_SOCKET {
			continue
		}
		switch m.Header.Type {
		case unix.SCM_RIGHTS:
			fds, err := unix.ParseUnixRights(&m)
			if err != nil {
				return nil, Credentials{}, newErrorf(Io, "parse rights: %v", err)
			}
			for _, fd := range fds {
				resources = append(resources, NewFdResource(fd))
			}
		default:
			if c, ok := parsePlatformCredentials(m); ok {
				creds = c
			}
		}
	}
	return resources, creds, nil
}
