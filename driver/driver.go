// Package driver orchestrates a full run: building the shared
// configuration was already done by the caller; Run spawns the workers,
// the tick printer, gates warm-up, and prints the final report.
package driver

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mmelnyk/apib/collector"
	"github.com/mmelnyk/apib/config"
	"github.com/mmelnyk/apib/worker"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Options controls a run beyond what lives in config.Config.
type Options struct {
	Concurrency   int
	Duration      time.Duration
	Warmup        time.Duration
	PrintInterval time.Duration
	Once          bool
}

// Run drives a full load test and writes the tick lines and final report
// to out. It blocks until the run completes.
func Run(ctx context.Context, cfg *config.Config, opts Options, out io.Writer, log *logrus.Logger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}

	if opts.Once {
		s := worker.New(cfg, log)
		coll := collector.New(0)
		if _, err := s.Send(coll); err != nil {
			fmt.Fprintf(out, "Error on send: %v\n", err)
		}
		return nil
	}

	coll := collector.New(opts.Warmup)
	totalDuration := opts.Warmup + opts.Duration

	runStart := time.Now()

	var group errgroup.Group
	for i := 0; i < opts.Concurrency; i++ {
		group.Go(func() error {
			s := worker.New(cfg, log)
			s.DoLoop(coll)
			return nil
		})
	}

	// A canceled ctx stops the run early, same as the test duration
	// elapsing; workers themselves only ever observe coll.Stopped().
	go func() {
		<-ctx.Done()
		coll.Stop()
	}()

	go func() {
		for !coll.Stopped() {
			tickStart := time.Now()
			time.Sleep(opts.PrintInterval)
			// The collector may have been stopped while we slept; we
			// still print this tick, matching the reference ticker's
			// "one extra tick after stop is acceptable" behavior.
			coll.WriteTick(out, runStart, tickStart, totalDuration)
		}
	}()

	if opts.Warmup > 0 {
		sleepOrDone(ctx, opts.Warmup)
		coll.SetWarmingUp(false)
	}
	testStart := time.Now()

	sleepOrDone(ctx, opts.Duration)
	coll.Stop()
	testEnd := time.Now()

	if err := group.Wait(); err != nil {
		log.Warnf("worker reported error during shutdown: %v", err)
	}

	results := coll.GetResults(testStart, testEnd)
	printResults(out, results)
	return nil
}

// sleepOrDone sleeps for d, returning early if ctx is canceled first.
func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// printResults writes the final report in the exact field order and
// precision the tool's output contract requires.
func printResults(out io.Writer, r *collector.Results) {
	fmt.Fprintf(out, "Duration:             %.3f secs\n", r.DurationSecs)
	fmt.Fprintf(out, "Attempted requests:   %d\n", r.Attempts)
	fmt.Fprintf(out, "Successful requests:  %d\n", r.Successes)
	fmt.Fprintf(out, "Errors:               %d\n", r.Failures)
	fmt.Fprintf(out, "Connections opened:   %d\n", r.ConnectionsOpened)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Throughput:           %.3f requests/second\n", r.Throughput)
	fmt.Fprintf(out, "Average latency:      %.3f ms\n", r.AvgLatencyMs)
	fmt.Fprintf(out, "Minimum latency:      %.3f ms\n", r.Percentiles[0])
	fmt.Fprintf(out, "Maximum latency:      %.3f ms\n", r.Percentiles[100])
	fmt.Fprintf(out, "50%% latency:          %.3f ms\n", r.Percentiles[50])
	fmt.Fprintf(out, "90%% latency:          %.3f ms\n", r.Percentiles[90])
	fmt.Fprintf(out, "98%% latency:          %.3f ms\n", r.Percentiles[98])
	fmt.Fprintf(out, "99%% latency:          %.3f ms\n", r.Percentiles[99])
	fmt.Fprintf(out, "Bytes sent:           %d\n", r.BytesSent)
	fmt.Fprintf(out, "Send rate:            %.3f Mbit/s\n", r.SendRateMbps)
	fmt.Fprintf(out, "Bytes received:       %d\n", r.BytesReceived)
	fmt.Fprintf(out, "Receive rate:         %.3f Mbit/s\n", r.RecvRateMbps)
}
