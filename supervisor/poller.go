package supervisor

import (
	"net"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// wait blocks until one of conns becomes readable or timeout elapses,
// whichever comes first (spec.md section 4.6 step 4's readiness
// selector). EINTR and EAGAIN are retried rather than surfaced, per
// spec.md section 5's "swallowed" note; any other error is returned so
// the caller can fall back to a plain sleep.
func wait(conns []net.Conn, timeout time.Duration) error {
	if len(conns) == 0 {
		time.Sleep(timeout)
		return nil
	}

	fds := make([]unix.PollFd, 0, len(conns))
	for _, c := range conns {
		fd, ok := rawFd(c)
		if !ok {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	if len(fds) == 0 {
		time.Sleep(timeout)
		return nil
	}

	timeoutMs := int(timeout / time.Millisecond)
	for {
		_, err := unix.Poll(fds, timeoutMs)
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			continue
		}
		return errors.Wrap(err, "supervisor: poll failed")
	}
}

// rawFd extracts the file descriptor backing c, for the net.Conn
// implementations conn.Connection wraps (*net.TCPConn in production,
// net.Pipe's unexported type in tests — which has no fd and is skipped).
func rawFd(c net.Conn) (uintptr, bool) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return 0, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd uintptr
	ctrlErr := raw.Control(func(f uintptr) {
		fd = f
	})
	if ctrlErr != nil {
		return 0, false
	}
	return fd, true
}
