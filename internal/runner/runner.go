// Package runner spawns the child command and owns the wait loop:
// non-blocking reads of the child's output streams, the idle and run
// timeouts, and the translation of the child's exit status.
package runner

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"

	"rederr/internal/poller"
	"rederr/internal/procstats"
	"rederr/internal/sink"
	"rederr/pkg/timeout"
)

const (
	keyOut poller.Key = "stdout"
	keyErr poller.Key = "stderr"
	keyPTY poller.Key = "pty"
)

// TimeoutKind says which of the two deadlines fired.
type TimeoutKind int

const (
	// IdleTimeout is the limit on silence between reads.
	IdleTimeout TimeoutKind = iota

	// RunTimeout is the limit on the whole run.
	RunTimeout
)

// TimeoutError is returned by Run when one of the deadlines fires. The
// child process is not killed; re-invocation is the caller's business.
type TimeoutError struct {
	Kind    TimeoutKind
	Expired timeout.Timeout
}

func (e *TimeoutError) Error() string {
	if e.Kind == IdleTimeout {
		return fmt.Sprintf("Timed out waiting for input after %v", e.Expired.ElapsedRounded())
	}
	return fmt.Sprintf("Run timed out after %v", e.Expired.ElapsedRounded())
}

// SpawnError is returned by Run when the child could not be started.
// No child I/O has been observed when it is returned.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("Could not run command %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Options configures one wrapped run.
type Options struct {
	Command string
	Args    []string

	// RunTimeout is started once at spawn and covers the whole run.
	// IdleTimeout is restarted on every wait, so it bounds the silence
	// between readable events. Use timeout.Never for no limit.
	RunTimeout  timeout.Timeout
	IdleTimeout timeout.Timeout

	// Out receives the child's stdout, Err its stderr (highlighted).
	// In combined mode both point at the same sink.
	Out *sink.Sink
	Err *sink.Sink

	// BufferSize is the read buffer capacity in bytes.
	BufferSize int

	// PTY runs the child under a pseudo-terminal. Output arrives as
	// one combined stream and goes to Out unhighlighted.
	PTY bool

	// Stats samples the child's resource usage during the run and
	// writes a summary to StatsOut (default os.Stderr) afterwards.
	Stats    bool
	StatsOut io.Writer

	Logger *slog.Logger
}

// Runner executes one child command. It is single-threaded: the
// apparent concurrency between the child's two streams is handled
// entirely by the readiness poll.
type Runner struct {
	opts Options
	log  *slog.Logger

	sources poller.Sources
	fds     map[poller.Key]int
	buffer  []byte
	stats   *procstats.Collector
}

// New returns a runner for opts.
func New(opts Options) *Runner {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		opts:   opts,
		log:    log,
		fds:    make(map[poller.Key]int, 2),
		buffer: make([]byte, opts.BufferSize),
	}
}

// Run spawns the child, forwards its output until both streams close,
// waits for it to exit, and returns its translated exit code.
//
// The error, when non-nil, is one of *SpawnError, *TimeoutError, or a
// wrapped I/O failure; the caller performs the actual process
// termination for all of them. A child that exits with a non-zero
// status is not an error: Run returns (status, nil).
func (r *Runner) Run() (int, error) {
	cmd, cleanup, err := r.spawn()
	if err != nil {
		return 0, err
	}
	defer cleanup()

	if r.opts.Stats {
		r.stats, err = procstats.New(cmd.Process.Pid)
		if err != nil {
			r.log.Debug("stats collector unavailable", "error", err)
		}
	}

	// The run timeout counts from here and stays pending until the
	// end. The idle timeout is kept in its planned form and restarted
	// on every wait.
	runTimeout := r.opts.RunTimeout.Start()
	idleTimeout := r.opts.IdleTimeout

	if err := r.loop(runTimeout, idleTimeout); err != nil {
		return 0, err
	}

	code, err := r.waitChild(cmd)
	if err != nil {
		return 0, err
	}

	if r.stats != nil {
		out := r.opts.StatsOut
		if out == nil {
			out = os.Stderr
		}
		r.stats.Report(out)
	}
	return code, nil
}

// spawn starts the child with both output streams piped, or under a
// pty when requested. The parent keeps the non-blocking read ends and
// registers them with the poller.
func (r *Runner) spawn() (*exec.Cmd, func(), error) {
	cmd := exec.Command(r.opts.Command, r.opts.Args...)

	if r.opts.PTY {
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return nil, nil, &SpawnError{Command: r.opts.Command, Err: err}
		}
		if err := r.register(keyPTY, ptmx); err != nil {
			_ = ptmx.Close()
			return nil, nil, err
		}
		return cmd, func() { _ = ptmx.Close() }, nil
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{outR, outW, errR, errW} {
			_ = f.Close()
		}
		return nil, nil, &SpawnError{Command: r.opts.Command, Err: err}
	}

	// The write ends belong to the child now; holding them open here
	// would keep the pipes from ever reporting hangup.
	_ = outW.Close()
	_ = errW.Close()

	if err := r.register(keyOut, outR); err != nil {
		_ = outR.Close()
		_ = errR.Close()
		return nil, nil, err
	}
	if err := r.register(keyErr, errR); err != nil {
		_ = outR.Close()
		_ = errR.Close()
		return nil, nil, err
	}
	return cmd, func() {
		_ = outR.Close()
		_ = errR.Close()
	}, nil
}

func (r *Runner) register(key poller.Key, f *os.File) error {
	fd := int(f.Fd())
	if err := poller.SetNonblocking(fd); err != nil {
		return fmt.Errorf("cannot set %s to non-blocking: %w", key, err)
	}
	r.fds[key] = fd
	r.sources.Register(key, fd)
	return nil
}

// loop runs until every registered stream has hung up. Each cycle
// waits bounded by whichever timeout fires first, then drains the
// ready streams.
func (r *Runner) loop(runTimeout, idleTimeout timeout.Timeout) error {
	for !r.sources.IsEmpty() {
		// At this point the idle timeout is always Never or Future and
		// the run timeout always Never or Pending; wait and the expiry
		// classification both rely on that.
		t := timeout.Min(runTimeout, idleTimeout)
		if expired, ok := t.CheckExpired(); ok {
			return newTimeoutError(t, expired)
		}

		r.log.Debug("poll", "timeout", t.String(), "run_timeout", runTimeout.String())

		events, err := r.wait(t)
		if err != nil {
			return err
		}

		for _, event := range events {
			r.log.Debug("event", "key", event.Key, "readable", event.Readable, "hangup", event.Hangup)

			if event.Readable {
				if err := r.drain(event.Key); err != nil {
					return err
				}
			}
			if event.Hangup {
				r.sources.Unregister(event.Key)
			}
		}

		if r.stats != nil {
			r.stats.Sample()
		}
	}
	return nil
}

// wait blocks until input arrives or t expires. The poller may cap a
// single wait below the logical timeout; such a wait elapsing is not
// an expiry, it just means re-check and wait again.
func (r *Runner) wait(t timeout.Timeout) ([]poller.Event, error) {
	started := t.Start()
	for {
		if expired, ok := started.CheckExpired(); ok {
			return nil, newTimeoutError(t, expired)
		}

		pollTimeout := time.Duration(-1)
		if remaining, ok := started.Remaining(); ok {
			pollTimeout = remaining
		}

		events, err := r.sources.Wait(pollTimeout)
		if err == poller.ErrTimeout {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("Error while waiting for input: %w", err)
		}
		if len(events) > 0 {
			return events, nil
		}
	}
}

// drain reads the stream behind key until it momentarily quiesces.
//
// Reads repeat only while each one fills the buffer completely: a
// short read suggests the stream has paused, and breaking there gives
// the other stream a chance to interleave in roughly the right order.
// That is a fairness heuristic, not a guarantee; cross-stream ordering
// at buffer granularity is best-effort by design.
func (r *Runner) drain(key poller.Key) error {
	for {
		n, err := poller.ReadFD(r.fds[key], r.buffer)
		switch err {
		case nil:
		case poller.ErrWouldBlock:
			r.log.Debug("read would block", "key", key)
			return nil
		case poller.ErrHangup:
			// pty masters report EIO instead of a clean EOF once the
			// child is gone.
			r.sources.Unregister(key)
			return nil
		default:
			return fmt.Errorf("failed to read child %s: %w", key, err)
		}

		r.log.Debug("read", "key", key, "bytes", n)

		if n > 0 {
			if err := r.forward(key, r.buffer[:n]); err != nil {
				return fmt.Errorf("failed to write child %s: %w", key, err)
			}
		}
		if n < len(r.buffer) {
			return nil
		}
	}
}

func (r *Runner) forward(key poller.Key, p []byte) error {
	if key == keyErr {
		return r.opts.Err.WriteHighlighted(p)
	}
	return r.opts.Out.Write(p)
}

// waitChild blocks, unbounded by either timeout, until the child
// terminates, and translates its status into our exit code.
func (r *Runner) waitChild(cmd *exec.Cmd) (int, error) {
	err := cmd.Wait()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return 0, fmt.Errorf("failed to wait on child: %w", err)
		}
	}
	return waitStatusToCode(cmd.ProcessState)
}

// waitStatusToCode maps the child's termination to an exit code: its
// own numeric status, or 128+signal (saturating) when it was killed by
// a signal.
func waitStatusToCode(state *os.ProcessState) (int, error) {
	if state.Exited() {
		return state.ExitCode(), nil
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		sig := int(status.Signal())
		if sig > math.MaxInt-128 {
			sig = math.MaxInt - 128
		}
		return 128 + sig, nil
	}
	return 0, fmt.Errorf("no exit code or signal for child")
}

// newTimeoutError classifies an expiry by the state the selected
// timeout was in: the idle timeout is always Never or Future when
// selected, the run timeout always Never or Pending.
func newTimeoutError(t, expired timeout.Timeout) error {
	switch t.Kind() {
	case timeout.KindFuture:
		return &TimeoutError{Kind: IdleTimeout, Expired: expired}
	case timeout.KindPending:
		return &TimeoutError{Kind: RunTimeout, Expired: expired}
	default:
		// Never cannot expire and Expired is never selected.
		return fmt.Errorf("timed out with timeout %v", t)
	}
}
