package params

import (
	"strings"
	"testing"
	"time"
)

func TestParseDurationBareSeconds(t *testing.T) {
	d, err := ParseDuration("2")
	if err != nil {
		t.Fatalf("ParseDuration failed: %v", err)
	}
	if d != 2*time.Second {
		t.Errorf("ParseDuration(\"2\") = %v, want 2s", d)
	}
}

func TestParseDurationSeconds(t *testing.T) {
	d, err := ParseDuration("2s")
	if err != nil {
		t.Fatalf("ParseDuration failed: %v", err)
	}
	if d != 2*time.Second {
		t.Errorf("ParseDuration(\"2s\") = %v, want 2s", d)
	}
}

func TestParseDurationMixedUnits(t *testing.T) {
	d, err := ParseDuration("2s 1ms")
	if err != nil {
		t.Fatalf("ParseDuration failed: %v", err)
	}
	if d != 2001*time.Millisecond {
		t.Errorf("ParseDuration(\"2s 1ms\") = %v, want 2.001s", d)
	}
}

func TestParseDurationHours(t *testing.T) {
	d, err := ParseDuration("2h")
	if err != nil {
		t.Fatalf("ParseDuration failed: %v", err)
	}
	if d != 2*time.Hour {
		t.Errorf("ParseDuration(\"2h\") = %v, want 2h", d)
	}
}

func TestParseDurationNegative(t *testing.T) {
	_, err := ParseDuration("-2s")
	if err == nil {
		t.Fatal("negative duration accepted")
	}
	if !strings.Contains(err.Error(), "negative") {
		t.Errorf("error %q does not mention negative", err)
	}
}

func TestParseDurationZero(t *testing.T) {
	d, err := ParseDuration("0")
	if err != nil {
		t.Fatalf("ParseDuration failed: %v", err)
	}
	if d != 0 {
		t.Errorf("ParseDuration(\"0\") = %v, want 0", d)
	}
}

func TestParseDurationLongerThanPollCeiling(t *testing.T) {
	// A single poll(2) can only wait about 24 days; longer logical
	// timeouts must still parse, the wait loop handles the ceiling.
	d, err := ParseDuration("700h")
	if err != nil {
		t.Fatalf("ParseDuration failed: %v", err)
	}
	if d != 700*time.Hour {
		t.Errorf("ParseDuration(\"700h\") = %v, want 700h", d)
	}
}

func TestParseDurationOverlyPrecise(t *testing.T) {
	_, err := ParseDuration("2s 2ms 2ns")
	if err == nil {
		t.Fatal("sub-millisecond duration accepted")
	}
	if !strings.Contains(err.Error(), "milliseconds") {
		t.Errorf("error %q does not mention milliseconds", err)
	}
}

func TestParseDurationEmpty(t *testing.T) {
	if _, err := ParseDuration("  "); err == nil {
		t.Fatal("blank duration accepted")
	}
}

func TestValidate(t *testing.T) {
	p := Params{Command: "true", BufferSize: DefaultBufferSize}
	if err := p.Validate(); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}

	missing := p
	missing.Command = ""
	if err := missing.Validate(); err == nil {
		t.Error("missing command accepted")
	}

	badBuffer := p
	badBuffer.BufferSize = 0
	if err := badBuffer.Validate(); err == nil {
		t.Error("zero buffer size accepted")
	}

	ptySeparate := p
	ptySeparate.PTY = true
	ptySeparate.Separate = true
	if err := ptySeparate.Validate(); err == nil {
		t.Error("--pty with --separate accepted")
	}
}

func TestSinksMerged(t *testing.T) {
	p := Params{Command: "true", BufferSize: DefaultBufferSize}
	out, errSink := p.Sinks()
	if out != errSink {
		t.Error("combined mode should share one sink for both streams")
	}
}

func TestSinksSeparate(t *testing.T) {
	p := Params{Command: "true", BufferSize: DefaultBufferSize, Separate: true}
	out, errSink := p.Sinks()
	if out == errSink {
		t.Error("separate mode should use distinct sinks")
	}
}
