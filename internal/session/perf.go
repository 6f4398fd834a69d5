package session

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	kb = int64(1024)
	mb = 1024 * kb
)

// PerformanceSample holds fabricated memory and CPU figures for display
type PerformanceSample struct {
	HeapUsedBytes  int64   `json:"heap_used_bytes"`
	HeapTotalBytes int64   `json:"heap_total_bytes"`
	ElapsedMs      int64   `json:"elapsed_ms"`
	CPUPercent     float64 `json:"cpu_percent"`
}

// HeapUsedMB returns heap usage in megabytes
func (p PerformanceSample) HeapUsedMB() float64 {
	return float64(p.HeapUsedBytes) / float64(mb)
}

// HeapTotalMB returns the heap size in megabytes
func (p PerformanceSample) HeapTotalMB() float64 {
	return float64(p.HeapTotalBytes) / float64(mb)
}

// HeapPercent returns heap usage relative to the heap size
func (p PerformanceSample) HeapPercent() float64 {
	if p.HeapTotalBytes == 0 {
		return 0
	}
	return float64(p.HeapUsedBytes) / float64(p.HeapTotalBytes) * 100
}

// Random is the randomness source for delays and fabricated metrics.
// *rand.Rand from math/rand/v2 satisfies it.
type Random interface {
	IntN(n int) int
	Float64() float64
}

// NewRandom returns a randomness source seeded from the runtime
func NewRandom() Random {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Clock abstracts time for the run delay and elapsed measurement
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock
func RealClock() Clock {
	return realClock{}
}

// PerfConfig bounds the fabricated metrics
type PerfConfig struct {
	HeapBaseMB         int
	HeapIncrementMinMB int
	HeapIncrementMaxMB int
	HeapTotalMB        int
	CPUMinPercent      float64
	CPUMaxPercent      float64

	DebugHeapMB     int
	DebugCPUPercent float64
	StepHeapDeltaKB int
	StepCPUDelta    float64
}

// DefaultPerfConfig returns the default metric ranges
func DefaultPerfConfig() PerfConfig {
	return PerfConfig{
		HeapBaseMB:         4,
		HeapIncrementMinMB: 1,
		HeapIncrementMaxMB: 16,
		HeapTotalMB:        64,
		CPUMinPercent:      15,
		CPUMaxPercent:      75,
		DebugHeapMB:        12,
		DebugCPUPercent:    5,
		StepHeapDeltaKB:    512,
		StepCPUDelta:       2,
	}
}

// sampleRun fabricates the metrics shown after a successful run. Heap usage
// is the base plus a whole number of megabytes drawn from the increment range;
// CPU is drawn from [CPUMinPercent, CPUMaxPercent) and rounded to one decimal.
func (c PerfConfig) sampleRun(elapsed time.Duration, rnd Random) PerformanceSample {
	span := c.HeapIncrementMaxMB - c.HeapIncrementMinMB
	increment := c.HeapIncrementMinMB
	if span > 0 {
		increment += rnd.IntN(span + 1)
	}
	cpu := c.CPUMinPercent + rnd.Float64()*(c.CPUMaxPercent-c.CPUMinPercent)
	return PerformanceSample{
		HeapUsedBytes:  int64(c.HeapBaseMB+increment) * mb,
		HeapTotalBytes: int64(c.HeapTotalMB) * mb,
		ElapsedMs:      elapsed.Milliseconds(),
		CPUPercent:     math.Round(cpu*10) / 10,
	}
}

// debugSample is the fixed sample seeded when debugging starts
func (c PerfConfig) debugSample() PerformanceSample {
	return PerformanceSample{
		HeapUsedBytes:  int64(c.DebugHeapMB) * mb,
		HeapTotalBytes: int64(c.HeapTotalMB) * mb,
		CPUPercent:     c.DebugCPUPercent,
	}
}

// step applies the per-step deltas, capping CPU at 100%
func (c PerfConfig) step(p PerformanceSample) PerformanceSample {
	p.HeapUsedBytes += int64(c.StepHeapDeltaKB) * kb
	p.CPUPercent = math.Min(p.CPUPercent+c.StepCPUDelta, 100)
	return p
}

// randomDelay draws a delay uniformly from [min, max] in whole milliseconds
func randomDelay(min, max time.Duration, rnd Random) time.Duration {
	if max <= min {
		return min
	}
	span := int((max - min) / time.Millisecond)
	return min + time.Duration(rnd.IntN(span+1))*time.Millisecond
}
