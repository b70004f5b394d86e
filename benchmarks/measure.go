package benchmarks

import (
	"math"
	"time"

	"k8s.io/klog/v2"
)

// Timing-loop bounds. Warmup runs until either limit is hit; it absorbs the one-time
// compilation cost of the first call plus any allocator settling. The timing loop then
// runs in batches so the clock is read far less often than the kernel.
const (
	warmupMaxIters = 20
	warmupMaxTime  = 2 * time.Second

	timingMaxIters = 100
	timingMaxTime  = 5 * time.Second
	timingBatch    = 40
)

// Measurement is the outcome of timing one kernel on one backend.
type Measurement struct {
	WarmupIters int
	Iters       int
	Elapsed     time.Duration
}

// Rate converts a measurement to FLOP/s given the per-invocation operation count.
// It returns NaN when nothing was measured.
func (m Measurement) Rate(flopsPerCall int64) float64 {
	if m.Iters == 0 || m.Elapsed <= 0 {
		return math.NaN()
	}
	return float64(flopsPerCall) * float64(m.Iters) / m.Elapsed.Seconds()
}

// Measure times repeated invocations of call: a warmup phase of up to warmupMaxIters
// calls or warmupMaxTime, then a timing phase of up to timingMaxIters calls or
// timingMaxTime, executed in batches of timingBatch. The first call does all the
// compilation work, so errors almost always surface there.
func Measure(call func() error) (Measurement, error) {
	var m Measurement

	var warmupElapsed time.Duration
	for m.WarmupIters < warmupMaxIters && warmupElapsed < warmupMaxTime {
		start := time.Now()
		if err := call(); err != nil {
			return m, err
		}
		warmupElapsed += time.Since(start)
		m.WarmupIters++
	}
	klog.V(1).Infof("dgbench/benchmarks: warmup done, %d iterations in %s", m.WarmupIters, warmupElapsed)

	for m.Iters < timingMaxIters && m.Elapsed < timingMaxTime {
		start := time.Now()
		for i := 0; i < timingBatch; i++ {
			if err := call(); err != nil {
				return m, err
			}
		}
		m.Elapsed += time.Since(start)
		m.Iters += timingBatch
	}
	return m, nil
}
