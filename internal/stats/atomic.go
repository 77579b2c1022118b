package stats

import (
	"math"
	"sync/atomic"
)

// atomicBool is an opaque boolean that doesn't trigger the race detector,
// used here to flag "at least one job has failed" from the job-completion
// goroutines without a mutex.
type atomicBool struct {
	b int32
}

func (b *atomicBool) Set() {
	atomic.StoreInt32(&b.b, 1)
}

func (b *atomicBool) IsSet() bool {
	return atomic.LoadInt32(&b.b) == 1
}

// atomicFloat32 is a lock-free float32, inspired by go.uber.org/atomic's
// Float32. Used here for an exponential moving average of job duration
// that many completion goroutines can update concurrently.
type atomicFloat32 struct {
	v uint32
}

func (f *atomicFloat32) Load() float32 {
	return math.Float32frombits(atomic.LoadUint32(&f.v))
}

func (f *atomicFloat32) Store(val float32) {
	atomic.StoreUint32(&f.v, math.Float32bits(val))
}

// updateEMA folds sample into the running exponential moving average with
// smoothing factor alpha, retrying through a CAS loop since two job
// completions can race to update it. The very first sample seeds the
// average outright rather than blending against a meaningless zero.
func (f *atomicFloat32) updateEMA(sample, alpha float32) {
	for {
		old := atomic.LoadUint32(&f.v)
		oldF := math.Float32frombits(old)
		newF := sample
		if oldF != 0 {
			newF = oldF + alpha*(sample-oldF)
		}
		if atomic.CompareAndSwapUint32(&f.v, old, math.Float32bits(newF)) {
			return
		}
	}
}
