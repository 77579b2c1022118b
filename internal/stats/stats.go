// Package stats tracks the global job counters spec.md §4.7 calls for
// ("Job counters: global totals of executed/succeeded/failed jobs, printed
// by the statistics component on exit") and renders the exit-time summary
// line.
package stats

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Counters holds the process-wide job totals. It is safe for concurrent use:
// every counter is updated and read atomically.
type Counters struct {
	Executed int64
	Success  int64
	Failed   int64
	start    time.Time

	avgDuration atomicFloat32
	anyFailed   atomicBool
}

// New returns a Counters timestamped at process start.
func New() *Counters {
	return &Counters{start: time.Now()}
}

// RecordStart increments the executed-jobs counter.
func (c *Counters) RecordStart() { atomic.AddInt64(&c.Executed, 1) }

// RecordResult increments the success or failure counter and folds
// duration into the running exponential moving average job time. Many
// job-completion goroutines may call this concurrently.
func (c *Counters) RecordResult(success bool, duration time.Duration) {
	if success {
		atomic.AddInt64(&c.Success, 1)
	} else {
		atomic.AddInt64(&c.Failed, 1)
		c.anyFailed.Set()
	}
	c.avgDuration.updateEMA(float32(duration.Seconds()), 0.3)
}

// HadFailures reports whether any job has failed so far.
func (c *Counters) HadFailures() bool { return c.anyFailed.IsSet() }

// Summary renders the end-of-run statistics line, e.g.
// "12 job(s): 11 succeeded, 1 failed, in 3 seconds (avg 1.2s/job)".
func (c *Counters) Summary() string {
	executed := atomic.LoadInt64(&c.Executed)
	success := atomic.LoadInt64(&c.Success)
	failed := atomic.LoadInt64(&c.Failed)
	if executed == 0 {
		return fmt.Sprintf("Nothing to be done (started %s)", humanize.Time(c.start))
	}
	return fmt.Sprintf("%d job(s): %d succeeded, %d failed, in %s (avg %.1fs/job)",
		executed, success, failed, strings.TrimSpace(humanize.RelTime(c.start, time.Now(), "", "")), c.avgDuration.Load())
}
