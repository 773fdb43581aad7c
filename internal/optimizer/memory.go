package optimizer

import (
	"runtime"
	"time"
)

// checkMemory samples the heap and forces a collection when resident
// allocation crosses the pressure ratio of the configured limit. The
// pressure flag stays visible in the metrics snapshot until the next
// sample clears it.
func (o *Optimizer) checkMemory(time.Time) {
	if o.cfg.MemoryLimitBytes == 0 {
		return
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	threshold := uint64(float64(o.cfg.MemoryLimitBytes) * o.cfg.MemoryPressureRatio)
	pressured := ms.HeapAlloc > threshold
	o.memoryPressure.Store(pressured)
	if !pressured {
		return
	}
	o.log.Warn("memory pressure, forcing collection",
		"heap_alloc", ms.HeapAlloc,
		"threshold", threshold,
		"limit", o.cfg.MemoryLimitBytes)
	runtime.GC()
}
