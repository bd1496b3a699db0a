// Package timeout tracks deadlines that may or may not have started
// counting down yet.
//
// A Timeout makes it easy to manage a long-running deadline that spans
// a number of calls which each take their own, shorter timeouts. For
// example, an overall deadline for a whole run has to be sliced into
// the bounded wait passed to each individual poll.
//
// Create a planned timeout with After, call Start to begin the
// countdown, and call CheckExpired to find out whether it has fired.
package timeout

import (
	"fmt"
	"time"
)

// Resolution is the smallest remaining time that still counts as "not
// expired". Poll-style waits cannot reliably sleep for less than this.
const Resolution = time.Millisecond

// Kind identifies the state a Timeout is in.
type Kind int

const (
	// KindNever never times out.
	KindNever Kind = iota

	// KindFuture is a planned timeout that has not started counting.
	KindFuture

	// KindPending is counting down. Produced by Start.
	KindPending

	// KindExpired is terminal. Produced by CheckExpired.
	KindExpired
)

// Timeout is a stateful deadline. The zero value is Never.
//
// Timeout values are immutable; Start and CheckExpired return new
// values rather than mutating the receiver.
type Timeout struct {
	kind     Kind
	duration time.Duration
	start    time.Time

	// Set only for KindExpired.
	requested time.Duration
	actual    time.Duration
}

// Never returns a timeout that never fires.
func Never() Timeout {
	return Timeout{kind: KindNever}
}

// After returns a planned timeout that will fire d after Start is
// called on it.
func After(d time.Duration) Timeout {
	return Timeout{kind: KindFuture, duration: d}
}

// FromOption converts an optional configured duration: nil means no
// deadline at all.
func FromOption(d *time.Duration) Timeout {
	if d == nil {
		return Never()
	}
	return After(*d)
}

// Kind returns the state this timeout is in.
func (t Timeout) Kind() Kind {
	return t.kind
}

// Remaining returns how long until the timeout fires. ok is false for
// Never, which has no deadline. An expired timeout has zero remaining.
func (t Timeout) Remaining() (remaining time.Duration, ok bool) {
	switch t.kind {
	case KindNever:
		return 0, false
	case KindFuture:
		return t.duration, true
	case KindPending:
		remaining = t.duration - time.Since(t.start)
		if remaining < 0 {
			remaining = 0
		}
		return remaining, true
	default: // KindExpired
		return 0, true
	}
}

// Start returns the pending version of this timeout.
//
// Only Future timeouts transition; Never, Pending, and Expired are
// returned unchanged, so Start is safe to apply repeatedly.
func (t Timeout) Start() Timeout {
	if t.kind != KindFuture {
		return t
	}
	return Timeout{kind: KindPending, duration: t.duration, start: time.Now()}
}

// CheckExpired reports whether the timeout has fired.
//
// For a Pending timeout whose remaining time has dropped below
// Resolution it returns the Expired form, recording both the requested
// duration and the time that actually elapsed. An already-Expired
// timeout confirms itself. Never and Future do not fire.
func (t Timeout) CheckExpired() (Timeout, bool) {
	switch t.kind {
	case KindPending:
		elapsed := time.Since(t.start)
		if t.duration-elapsed < Resolution {
			return Timeout{
				kind:      KindExpired,
				requested: t.duration,
				actual:    elapsed,
			}, true
		}
		return Timeout{}, false
	case KindExpired:
		return t, true
	default:
		return Timeout{}, false
	}
}

// Elapsed returns how much of the timeout has passed. Never and Future
// always return zero. A Pending timeout that has run past its deadline
// still reports the full elapsed time; see CheckExpired.
func (t Timeout) Elapsed() time.Duration {
	switch t.kind {
	case KindPending:
		return time.Since(t.start)
	case KindExpired:
		return t.actual
	default:
		return 0
	}
}

// ElapsedRounded is Elapsed rounded to the nearest millisecond, with
// exact halves rounding up.
func (t Timeout) ElapsedRounded() time.Duration {
	elapsed := t.Elapsed()
	rem := elapsed % time.Millisecond
	if rem < 500*time.Microsecond {
		return elapsed - rem
	}
	return elapsed + time.Millisecond - rem
}

// Requested returns the originally requested duration of an Expired
// timeout, and zero for every other kind.
func (t Timeout) Requested() time.Duration {
	if t.kind != KindExpired {
		return 0
	}
	return t.requested
}

// Compare orders timeouts by remaining time so a caller can pick the
// one that fires first. Never sorts greater than everything else, and
// two Nevers compare equal. Comparison is by remaining time only, so
// an overtime Pending compares equal to After(0) or any Expired.
func (t Timeout) Compare(other Timeout) int {
	a, aok := t.Remaining()
	b, bok := other.Remaining()
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return 1
	case !bok:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Min returns whichever of a and b fires first. Ties go to b, so when
// two deadlines would fire at the same instant the caller's second
// choice wins.
func Min(a, b Timeout) Timeout {
	if a.Compare(b) < 0 {
		return a
	}
	return b
}

// String renders the timeout for debug logging.
func (t Timeout) String() string {
	switch t.kind {
	case KindNever:
		return "Never"
	case KindFuture:
		return fmt.Sprintf("Future(%v)", t.duration)
	case KindPending:
		remaining, _ := t.Remaining()
		return fmt.Sprintf("Pending(%v, %v remaining)", t.duration, remaining)
	default:
		return fmt.Sprintf("Expired(%v requested, %v actual)", t.requested, t.actual)
	}
}
