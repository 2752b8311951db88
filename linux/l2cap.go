package linux

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/XC-/hcid"
)

const (
	solL2CAP      = 6
	l2capConnInfo = 0x02
)

type l2capConnInfoData struct {
	hciHandle uint16
	devClass  [3]byte
}

// Dialer opens raw, non-blocking L2CAP links. Dialing returns before
// the baseband connection is up; the caller watches the link for
// writability to learn the outcome.
type Dialer struct{}

func (Dialer) Dial(local, peer hcid.BDAddr) (hcid.Link, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH,
		unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, err
	}
	la := &unix.SockaddrL2{Addr: local.LE()}
	if err := unix.Bind(fd, la); err != nil {
		unix.Close(fd)
		return nil, err
	}
	ra := &unix.SockaddrL2{Addr: peer.LE()}
	if err := unix.Connect(fd, ra); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, err
	}
	return &rawLink{fd: fd}, nil
}

type rawLink struct {
	mu     sync.Mutex
	fd     int
	closed bool
	gen    int
}

func (l *rawLink) SocketError() (int, error) {
	l.mu.Lock()
	fd := l.fd
	l.mu.Unlock()
	return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
}

func (l *rawLink) Handle() (uint16, error) {
	l.mu.Lock()
	fd := l.fd
	l.mu.Unlock()
	var ci l2capConnInfoData
	size := uint32(unsafe.Sizeof(ci))
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(fd),
		solL2CAP, l2capConnInfo,
		uintptr(unsafe.Pointer(&ci)), uintptr(unsafe.Pointer(&size)), 0)
	if errno != 0 {
		return 0, errno
	}
	return ci.hciHandle, nil
}

// Watch polls the socket once for cond and delivers what it saw.
// Arming again supersedes the previous watch; closing the link
// silences it.
func (l *rawLink) Watch(cond hcid.IOCond, fn func(hcid.IOCond)) {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	fd := l.fd
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	go func() {
		pfd := []unix.PollFd{{Fd: int32(fd), Events: pollEvents(cond)}}
		for {
			n, err := unix.Poll(pfd, -1)
			if err == unix.EINTR {
				continue
			}
			if err != nil || n == 0 {
				return
			}
			break
		}
		l.mu.Lock()
		stale := l.closed || l.gen != gen
		l.mu.Unlock()
		if stale {
			return
		}
		fn(pollCond(pfd[0].Revents))
	}()
}

func (l *rawLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return unix.Close(l.fd)
}

func pollEvents(c hcid.IOCond) int16 {
	var ev int16
	if c&hcid.IOOut != 0 {
		ev |= unix.POLLOUT
	}
	if c&hcid.IOErr != 0 {
		ev |= unix.POLLERR
	}
	if c&hcid.IOHup != 0 {
		ev |= unix.POLLHUP
	}
	// POLLERR, POLLHUP and POLLNVAL are always reported
	return ev
}

func pollCond(re int16) hcid.IOCond {
	var c hcid.IOCond
	if re&unix.POLLOUT != 0 {
		c |= hcid.IOOut
	}
	if re&unix.POLLERR != 0 {
		c |= hcid.IOErr
	}
	if re&unix.POLLHUP != 0 {
		c |= hcid.IOHup
	}
	if re&unix.POLLNVAL != 0 {
		c |= hcid.IONval
	}
	return c
}
