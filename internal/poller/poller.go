// Package poller provides a registry of file descriptors with read
// interest and a bounded wait for readiness, built on poll(2).
//
// POSIX only. Callers register the read ends of pipes (set
// non-blocking first, see SetNonblocking), wait for readiness with a
// timeout, and drain ready descriptors with ReadFD until it reports
// ErrWouldBlock.
package poller

import (
	"errors"
	"math"
	"time"

	"golang.org/x/sys/unix"
)

// ErrTimeout is returned by Wait when the bounded wait elapses without
// any source becoming ready. It is an expected condition, not a
// failure: re-check your own deadlines and wait again.
var ErrTimeout = errors.New("poll timed out")

// ErrWouldBlock is returned by ReadFD when a non-blocking descriptor
// has no data available right now.
var ErrWouldBlock = errors.New("read would block")

// ErrHangup is returned by ReadFD when the descriptor reports the far
// end is gone. A pty master raises EIO once the child exits; that is a
// normal end of stream, not a failure.
var ErrHangup = errors.New("descriptor hung up")

// maxWait is the longest single wait poll(2) accepts (its timeout is
// an int of milliseconds). Longer logical timeouts must be issued as
// repeated bounded waits.
const maxWait = time.Duration(math.MaxInt32) * time.Millisecond

// Key identifies a registered source in readiness events.
type Key string

// Event reports the readiness of one registered source.
type Event struct {
	Key Key

	// Readable means data is available to read.
	Readable bool

	// Hangup means the far end closed; drain any remaining data and
	// unregister the source.
	Hangup bool
}

type source struct {
	key Key
	fd  int
}

// Sources is an ordered registry of descriptors to wait on. It is not
// safe for concurrent use; the whole design is single-threaded.
type Sources struct {
	sources []source
}

// Register adds fd under key with read interest. Registering a key
// that is already present replaces its descriptor, so the registry
// never holds duplicate keys.
func (s *Sources) Register(key Key, fd int) {
	for i := range s.sources {
		if s.sources[i].key == key {
			s.sources[i].fd = fd
			return
		}
	}
	s.sources = append(s.sources, source{key: key, fd: fd})
}

// Unregister removes key from the registry. Removing an absent key is
// a no-op.
func (s *Sources) Unregister(key Key) {
	for i := range s.sources {
		if s.sources[i].key == key {
			s.sources = append(s.sources[:i], s.sources[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered sources.
func (s *Sources) Len() int {
	return len(s.sources)
}

// IsEmpty reports whether no sources remain registered.
func (s *Sources) IsEmpty() bool {
	return len(s.sources) == 0
}

// Wait blocks until at least one source is ready or timeout elapses,
// returning one event per ready source. A negative timeout waits
// indefinitely. If the timeout elapses with nothing ready, Wait
// returns ErrTimeout.
//
// A single poll(2) call cannot wait longer than about 24 days; a
// longer timeout is clamped to that ceiling, and the clamped wait
// elapsing still reports ErrTimeout so the caller re-checks its own
// deadlines and calls Wait again. Interrupted waits (EINTR) are
// retried against the original deadline.
func (s *Sources) Wait(timeout time.Duration) ([]Event, error) {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	fds := make([]unix.PollFd, len(s.sources))
	for {
		for i, src := range s.sources {
			fds[i] = unix.PollFd{Fd: int32(src.fd), Events: unix.POLLIN}
		}

		n, err := unix.Poll(fds, waitMillis(timeout, deadline))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrTimeout
		}

		events := make([]Event, 0, n)
		for i, fd := range fds {
			if fd.Revents == 0 {
				continue
			}
			events = append(events, Event{
				Key:      s.sources[i].key,
				Readable: fd.Revents&unix.POLLIN != 0,
				// POLLERR and POLLNVAL also mean the descriptor is
				// done; fold them into hangup so it gets unregistered.
				Hangup: fd.Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0,
			})
		}
		return events, nil
	}
}

// waitMillis converts the remaining time until deadline into the
// millisecond timeout poll(2) takes, rounding up so a wait never ends
// before the deadline. -1 means wait forever.
func waitMillis(timeout time.Duration, deadline time.Time) int {
	if timeout < 0 {
		return -1
	}
	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > maxWait {
		remaining = maxWait
	}
	return int((remaining + time.Millisecond - 1) / time.Millisecond)
}

// ReadFD reads from a non-blocking descriptor into buf. A descriptor
// with nothing available returns ErrWouldBlock; n == 0 with a nil
// error means end of stream.
func ReadFD(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		case unix.EIO:
			return 0, ErrHangup
		default:
			return 0, err
		}
	}
}

// SetNonblocking switches fd into non-blocking mode. Registered
// descriptors must be non-blocking so draining them cannot stall the
// loop.
func SetNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}
