// Package sink writes child output to its destination, optionally
// highlighting the error stream.
package sink

import (
	"io"
	"os"

	"golang.org/x/term"
)

// Escape sequences for highlighted (error stream) output: reset plus
// intense red foreground, then reset again. The leading reset keeps a
// child's own unterminated color codes from bleeding into the
// highlight.
const (
	highlight = "\x1b[0m\x1b[38;5;9m"
	reset     = "\x1b[0m"
)

// flusher is implemented by buffered writers that need an explicit
// flush, such as bufio.Writer.
type flusher interface {
	Flush() error
}

// Sink is one logical output destination. In merged mode the primary
// and secondary streams share a single Sink; in separate mode each
// stream has its own.
type Sink struct {
	w     io.Writer
	color bool
}

// New returns a sink writing to w. When color is true, WriteHighlighted
// wraps its bytes in highlight/reset escapes.
func New(w io.Writer, color bool) *Sink {
	return &Sink{w: w, color: color}
}

// ForFile returns a sink for an output file such as os.Stdout. Color
// is enabled when forced or when the file is a terminal.
func ForFile(f *os.File, forceColor bool) *Sink {
	return New(f, forceColor || term.IsTerminal(int(f.Fd())))
}

// Color reports whether highlighting is enabled for this sink.
func (s *Sink) Color() bool {
	return s.color
}

// Write forwards p verbatim and flushes. Output may stop mid-line, so
// every write flushes rather than waiting for a newline.
func (s *Sink) Write(p []byte) error {
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	return s.flush()
}

// WriteHighlighted forwards p wrapped in highlight escapes when color
// is enabled, and exactly like Write when it is not.
func (s *Sink) WriteHighlighted(p []byte) error {
	if !s.color {
		return s.Write(p)
	}
	if _, err := io.WriteString(s.w, highlight); err != nil {
		return err
	}
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	if _, err := io.WriteString(s.w, reset); err != nil {
		return err
	}
	return s.flush()
}

func (s *Sink) flush() error {
	if f, ok := s.w.(flusher); ok {
		return f.Flush()
	}
	// *os.File writes are unbuffered; nothing to flush.
	return nil
}
