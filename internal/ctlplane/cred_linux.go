//go:build linux

package ctlplane

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials reads SO_PEERCRED from a Unix socket connection.
func peerCredentials(conn net.Conn) (Credentials, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return Credentials{}, fmt.Errorf("not a unix socket: %T", conn)
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return Credentials{}, err
	}

	var ucred *unix.Ucred
	var serr error
	if err := raw.Control(func(fd uintptr) {
		ucred, serr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return Credentials{}, err
	}
	if serr != nil {
		return Credentials{}, fmt.Errorf("SO_PEERCRED: %w", serr)
	}
	return Credentials{UID: ucred.Uid, GID: ucred.Gid, PID: ucred.Pid}, nil
}
