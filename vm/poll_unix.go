//go:build unix

package vm

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

type pollFd struct {
	fd   int
	mode PollMode
}

// pollDescriptors waits up to timeout for any of fds to become ready and
// reports readiness per descriptor. Errors and hangups count as ready so
// the waiting process gets to observe them.
func pollDescriptors(fds []pollFd, timeout time.Duration) ([]bool, error) {
	pfds := make([]unix.PollFd, len(fds))
	for i, f := range fds {
		pfds[i].Fd = int32(f.fd)
		if f.mode == PollWrite {
			pfds[i].Events = unix.POLLOUT
		} else {
			pfds[i].Events = unix.POLLIN
		}
	}
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	for {
		_, err := unix.Poll(pfds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("poll: %w", err)
		}
		break
	}
	ready := make([]bool, len(fds))
	for i := range pfds {
		ready[i] = pfds[i].Revents&(pfds[i].Events|unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0
	}
	return ready, nil
}
