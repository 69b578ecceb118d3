// Package collector implements the two-tier statistics pipeline: a
// per-worker LocalCollector that needs no synchronization on the hot
// path, and a process-wide Collector that merges local accumulators
// under a single lock and derives the final percentile report.
package collector

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// megabit is the divisor used for throughput rate reporting. It is not an
// actual count of bits; it is preserved verbatim from the reference tool
// for output compatibility: 1024*1024*10 bytes per second.
const megabit = 1024 * 1024 * 10

// LocalCollector is owned by exactly one worker and mutated without
// synchronization on the hot path. It is moved into the global Collector
// exactly once, when the worker exits.
type LocalCollector struct {
	Attempts          uint64
	Successes         uint64
	Failures          uint64
	ConnectionsOpened uint64
	BytesSent         uint64
	BytesReceived     uint64
	TotalLatency      time.Duration
	Latencies         []time.Duration
}

// Success records a completed, successful request. newConnection is true
// when this call's send() opened a fresh connection.
func (l *LocalCollector) Success(latency time.Duration, newConnection bool) {
	l.Attempts++
	l.Successes++
	l.TotalLatency += latency
	l.Latencies = append(l.Latencies, latency)
	if newConnection {
		l.ConnectionsOpened++
	}
}

// Failure records a failed request.
func (l *LocalCollector) Failure() {
	l.Attempts++
	l.Failures++
}

// mergedStats is the durable, process-wide accumulation, guarded by
// Collector.mu.
type mergedStats struct {
	attempts          uint64
	successes         uint64
	failures          uint64
	connectionsOpened uint64
	bytesSent         uint64
	bytesReceived     uint64
	totalLatency      time.Duration
	latencies         []time.Duration
}

// Collector is created once by the driver and shared by every worker and
// the ticker task. Its interval counters are plain atomics so the hot
// path never takes a lock; the durable stats are folded in under a
// single mutex, held only for the duration of a merge, percentile
// computation, or byte credit.
type Collector struct {
	stopped    atomic.Bool
	warmingUp  atomic.Bool
	intervalOK atomic.Uint64
	intervalKO atomic.Uint64

	mu      sync.Mutex
	lastErr error
	stats   mergedStats
}

// New creates a Collector. If warmup is non-zero, the collector starts in
// the warming-up state.
func New(warmup time.Duration) *Collector {
	c := &Collector{}
	if warmup > 0 {
		c.warmingUp.Store(true)
	}
	return c
}

// Stop transitions the collector to stopped. Idempotent.
func (c *Collector) Stop() {
	c.stopped.Store(true)
}

// Stopped reports whether Stop has been called.
func (c *Collector) Stopped() bool {
	return c.stopped.Load()
}

// SetWarmingUp transitions the warm-up flag. Called once, by the driver,
// when warm-up ends.
func (c *Collector) SetWarmingUp(warming bool) {
	c.warmingUp.Store(warming)
}

// WarmingUp reports whether the run is still in its warm-up period.
func (c *Collector) WarmingUp() bool {
	return c.warmingUp.Load()
}

// Success records one successful request in the interval counters and
// returns the current stopped flag so the caller can exit the loop
// without a second load.
func (c *Collector) Success() bool {
	c.intervalOK.Add(1)
	return c.Stopped()
}

// Failure records one failed request in the interval counters, stashes
// err as the most recent error, and returns the current stopped flag.
func (c *Collector) Failure(err error) bool {
	c.intervalKO.Add(1)
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return c.Stopped()
}

// Collect folds a worker's private accumulator into the global stats
// under a single lock acquisition. Latency samples are appended, not
// merged in sorted order — sorting happens once, in GetResults.
func (c *Collector) Collect(local *LocalCollector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.attempts += local.Attempts
	c.stats.successes += local.Successes
	c.stats.failures += local.Failures
	c.stats.connectionsOpened += local.ConnectionsOpened
	c.stats.bytesSent += local.BytesSent
	c.stats.bytesReceived += local.BytesReceived
	c.stats.totalLatency += local.TotalLatency
	c.stats.latencies = append(c.stats.latencies, local.Latencies...)
}

// CollectConnection accumulates byte totals published by iocount.Conn
// wrappers as they are closed. This is the single source of truth for
// bytes sent/received: the HTTP layer reads and writes framing,
// compression and TLS overhead that per-request accounting would miss.
func (c *Collector) CollectConnection(sent, received uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.bytesSent += sent
	c.stats.bytesReceived += received
}

// WriteTick prints one progress line to w: elapsed/total seconds, interval
// throughput, a "(warming up)" suffix while warm-up is in effect, and, if
// an error arrived since the last tick, an error count and the error text
// on the following line.
func (c *Collector) WriteTick(w io.Writer, runStart, tickStart time.Time, totalDuration time.Duration) {
	now := time.Now()
	soFar := now.Sub(runStart)
	interval := now.Sub(tickStart)

	successes := c.intervalOK.Swap(0)
	failures := c.intervalKO.Swap(0)
	throughput := rate(successes, interval)

	c.mu.Lock()
	lastErr := c.lastErr
	c.lastErr = nil
	c.mu.Unlock()

	warmingSuffix := ""
	if c.WarmingUp() {
		warmingSuffix = " (warming up)"
	}

	if lastErr != nil {
		fmt.Fprintf(w, "(%d / %d) %.3f%s (%d errors)\n", int(soFar.Seconds()), int(totalDuration.Seconds()), throughput, warmingSuffix, failures)
		fmt.Fprintf(w, "  %s\n", lastErr)
	} else {
		fmt.Fprintf(w, "(%d / %d) %.3f%s\n", int(soFar.Seconds()), int(totalDuration.Seconds()), throughput, warmingSuffix)
	}
}

// Results is the computed, read-only snapshot produced at the end of a run.
type Results struct {
	DurationSecs      float64
	Attempts          uint64
	Successes         uint64
	Failures          uint64
	ConnectionsOpened uint64
	Throughput        float64
	AvgLatencyMs      float64
	Percentiles       [101]float64
	BytesSent         uint64
	BytesReceived     uint64
	SendRateMbps      float64
	RecvRateMbps      float64
}

// GetResults acquires the stats lock, sorts a copy of the latency samples
// ascending, and computes the full report for [runStart, runEnd].
func (c *Collector) GetResults(runStart, runEnd time.Time) *Results {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := runEnd.Sub(runStart).Seconds()

	samples := make([]time.Duration, len(c.stats.latencies))
	copy(samples, c.stats.latencies)
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var percentiles [101]float64
	for i := 0; i <= 100; i++ {
		percentiles[i] = percentileAt(samples, i)
	}

	var avgLatencyMs float64
	if c.stats.successes > 0 {
		avgLatencyMs = c.stats.totalLatency.Seconds() * 1000 / float64(c.stats.successes)
	}

	return &Results{
		DurationSecs:      duration,
		Attempts:          c.stats.attempts,
		Successes:         c.stats.successes,
		Failures:          c.stats.failures,
		ConnectionsOpened: c.stats.connectionsOpened,
		Throughput:        divSafe(float64(c.stats.successes), duration),
		AvgLatencyMs:      avgLatencyMs,
		Percentiles:       percentiles,
		BytesSent:         c.stats.bytesSent,
		BytesReceived:     c.stats.bytesReceived,
		SendRateMbps:      divSafe(float64(c.stats.bytesSent)/megabit, duration),
		RecvRateMbps:      divSafe(float64(c.stats.bytesReceived)/megabit, duration),
	}
}

// percentileAt returns the p-th nearest-rank percentile (in milliseconds)
// over samples, which must already be sorted ascending. An empty sample
// list yields 0.0 for every percentile.
func percentileAt(samples []time.Duration, p int) float64 {
	n := len(samples)
	if n == 0 {
		return 0.0
	}
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return float64(samples[idx]) / float64(time.Millisecond)
}

func rate(count uint64, d time.Duration) float64 {
	secs := d.Seconds()
	if secs <= 0 {
		return 0.0
	}
	return float64(count) / secs
}

func divSafe(numerator, denominator float64) float64 {
	if denominator <= 0 {
		return 0.0
	}
	return numerator / denominator
}
