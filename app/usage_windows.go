//go:build windows

package app

import "runtime"

type memSample struct {
	heap, rss uint64
}

// sampleMemoryAndCPU reports Go heap figures only; CPU time is not sampled on Windows
func sampleMemoryAndCPU() (mem memSample, cpu float64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	mem.heap = ms.HeapAlloc
	mem.rss = ms.Sys
	return mem, 0
}
