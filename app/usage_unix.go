//go:build !windows

package app

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

type memSample struct {
	heap, rss uint64
}

// cpuClock remembers the previous rusage reading so each sample reports
// CPU use since the last tick
var cpuClock struct {
	wall time.Time
	proc time.Duration
}

func timevalDuration(tv unix.Timeval) time.Duration {
	return time.Duration(tv.Nano())
}

func sampleMemoryAndCPU() (memSample, float64) {
	var usage unix.Rusage
	_ = unix.Getrusage(unix.RUSAGE_SELF, &usage)
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	// Maxrss is in kilobytes on Linux
	mem := memSample{heap: stats.HeapAlloc, rss: uint64(usage.Maxrss) * 1024}

	now := time.Now()
	proc := timevalDuration(usage.Utime) + timevalDuration(usage.Stime)
	var cpu float64
	if !cpuClock.wall.IsZero() {
		if wall := now.Sub(cpuClock.wall); wall > 0 {
			cpu = max(0, (proc-cpuClock.proc).Seconds()/wall.Seconds()*100)
		}
	}
	cpuClock.wall, cpuClock.proc = now, proc
	return mem, cpu
}
