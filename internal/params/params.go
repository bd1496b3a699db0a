// Package params holds the run configuration assembled from command
// line flags, and turns it into the concrete pieces the runner needs.
package params

import (
	"fmt"
	"os"
	"strings"
	"time"

	"rederr/internal/sink"
)

// DefaultBufferSize is how many bytes one read from a child stream can
// return at most.
const DefaultBufferSize = 1024

// Params is the full configuration for one wrapped run.
type Params struct {
	// Command is the executable to run, Args its arguments.
	Command string
	Args    []string

	// AlwaysColor forces highlighting even when the destination is not
	// a terminal.
	AlwaysColor bool

	// RunTimeout limits the whole run; IdleTimeout limits the silence
	// between reads. nil means no limit.
	RunTimeout  *time.Duration
	IdleTimeout *time.Duration

	// Separate keeps the child's stderr on our stderr instead of
	// combining both streams on stdout.
	Separate bool

	// Debug enables diagnostic logging. Unlike older versions it does
	// not affect coloring.
	Debug bool

	// Stats reports the child's resource usage after the run.
	Stats bool

	// PTY runs the child under a pseudo-terminal. Implies combined
	// output.
	PTY bool

	BufferSize int
}

// Validate rejects configurations the runner cannot honor.
func (p *Params) Validate() error {
	if p.Command == "" {
		return fmt.Errorf("no command given")
	}
	if p.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", p.BufferSize)
	}
	if p.PTY && p.Separate {
		return fmt.Errorf("--pty merges the child's streams and cannot be combined with --separate")
	}
	return nil
}

// Sinks returns the destinations for the child's stdout and stderr.
// When the streams are combined both keys share one sink, so the
// error stream interleaves into stdout with highlighting.
func (p *Params) Sinks() (out, errSink *sink.Sink) {
	out = sink.ForFile(os.Stdout, p.AlwaysColor)
	if p.Separate {
		return out, sink.ForFile(os.Stderr, p.AlwaysColor)
	}
	return out, out
}

// ParseDuration parses a timeout flag value. A bare integer is
// seconds; anything else uses Go duration syntax ("30ms", "1h",
// "2s 500ms"). Negative durations and durations more precise than a
// millisecond are rejected, since the poll resolution cannot honor
// them.
func ParseDuration(input string) (time.Duration, error) {
	input = strings.TrimSpace(input)

	if input == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasPrefix(input, "-") {
		return 0, fmt.Errorf("duration cannot be negative")
	}

	var d time.Duration
	if isAllDigits(input) {
		seconds, err := time.ParseDuration(input + "s")
		if err != nil {
			return 0, err
		}
		d = seconds
	} else {
		var err error
		d, err = time.ParseDuration(strings.ReplaceAll(input, " ", ""))
		if err != nil {
			return 0, err
		}
	}

	if d < 0 {
		return 0, fmt.Errorf("duration cannot be negative")
	}
	if d%time.Millisecond != 0 {
		return 0, fmt.Errorf("duration cannot be more precise than milliseconds")
	}
	return d, nil
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
