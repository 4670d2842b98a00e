//go:build linux

package xpc

import (
	"net"

	"golang.org/x/sys/unix"
)

// enablePassCred sets SO_PASSCRED on conn so the kernel attaches an
// SCM_CREDENTIALS control message (carrying the sender's pid/uid/gid)
// to every message this socket receives.
func enablePassCred(conn *net.UnixConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PASSCRED, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

func parsePlatformCredentials(m unix.SocketControlMessage) (Credentials, bool) {
	if m.Header.Type != unix.SCM_CREDENTIALS {
		return Credentials{}, false
	}
	ucred, err := unix.ParseUnixCredentials(&m)
	if err != nil {
		return Credentials{}, false
	}
	return Credentials{
		PID: uint64(ucred.Pid),
		UID: uint64(ucred.Uid),
		GID: uint64(ucred.Gid),
	}, true
}
