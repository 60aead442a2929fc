//go:build linux

package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// PeerCredentials identifies the process on the other end of a socket.
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

var errNotUnix = errors.New("not a unix connection")

// GetPeerCredentials reads SO_PEERCRED from conn.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, errNotUnix
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("raw conn: %w", err)
	}

	var (
		ucred   *unix.Ucred
		sockErr error
	)
	if err := raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	if sockErr != nil {
		return nil, fmt.Errorf("SO_PEERCRED: %w", sockErr)
	}
	return &PeerCredentials{PID: int(ucred.Pid), UID: int(ucred.Uid), GID: int(ucred.Gid)}, nil
}

// VerifyPeerIsCurrentUser accepts the daemon's own user and root.
func VerifyPeerIsCurrentUser(conn net.Conn) (bool, error) {
	cred, err := GetPeerCredentials(conn)
	if err != nil {
		return false, err
	}
	return cred.UID == os.Getuid() || cred.UID == 0, nil
}
