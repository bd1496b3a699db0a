// Package procstats samples a child process's resource usage while it
// runs and renders a short summary afterwards.
package procstats

import (
	"fmt"
	"io"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Collector tracks one child process. Sample is called opportunistically
// from the wait loop, so the numbers are best-effort: a child that
// exits between samples keeps whatever was seen last.
type Collector struct {
	proc    *process.Process
	started time.Time

	peakRSS   uint64
	cpuUser   float64
	cpuSystem float64
	sampled   bool
}

// New returns a collector for the process with the given PID.
func New(pid int) (*Collector, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("failed to find child process %d: %w", pid, err)
	}
	return &Collector{proc: proc, started: time.Now()}, nil
}

// Sample records the child's current memory and CPU usage. Failures
// are ignored; the child may already have exited.
func (c *Collector) Sample() {
	if mem, err := c.proc.MemoryInfo(); err == nil {
		if mem.RSS > c.peakRSS {
			c.peakRSS = mem.RSS
		}
		c.sampled = true
	}
	if cpu, err := c.proc.Times(); err == nil {
		c.cpuUser = cpu.User
		c.cpuSystem = cpu.System
		c.sampled = true
	}
}

// Report writes a summary of the run to w.
func (c *Collector) Report(w io.Writer) {
	elapsed := time.Since(c.started).Round(time.Millisecond)
	if !c.sampled {
		fmt.Fprintf(w, "stats: elapsed %v (child exited before it could be sampled)\n", elapsed)
		return
	}
	fmt.Fprintf(w, "stats: elapsed %v, cpu %.2fs user %.2fs system, peak rss %.1f MB\n",
		elapsed, c.cpuUser, c.cpuSystem, float64(c.peakRSS)/1024/1024)
}
