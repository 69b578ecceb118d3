// Command apib sends a steady stream of HTTP requests to a single URL and
// reports throughput and latency percentiles.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmelnyk/apib/config"
	"github.com/mmelnyk/apib/driver"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		method        string
		bodyText      string
		bodyFile      string
		headers       []string
		concurrency   int
		duration      time.Duration
		warmup        time.Duration
		printInterval time.Duration
		once          bool
		insecure      bool
		http2         bool
		verbose       bool
	)

	cmd := &cobra.Command{
		Use:   "apib <url>",
		Short: "HTTP load generator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.StandardLogger()
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			builder := config.New(args[0]).
				WithMethod(method).
				WithBodyText(bodyText).
				WithBodyFile(bodyFile).
				WithHTTP2(http2).
				WithInsecureTLS(insecure).
				WithVerbose(verbose)

			for _, raw := range headers {
				h, err := config.ParseHeaderFlag(raw)
				if err != nil {
					return err
				}
				builder.WithHeader(h.Name, h.Value)
			}

			cfg, err := builder.Build()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := driver.Options{
				Concurrency:   concurrency,
				Duration:      duration,
				Warmup:        warmup,
				PrintInterval: printInterval,
				Once:          once,
			}
			return driver.Run(ctx, cfg, opts, os.Stdout, log)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&method, "method", "X", "", "HTTP method (default GET, or POST if a body is given)")
	flags.BoolVarP(&once, "one", "1", false, "send a single request and exit")
	flags.IntVarP(&concurrency, "concurrency", "c", 1, "number of concurrent connections")
	flags.DurationVarP(&duration, "duration", "d", 30*time.Second, "test duration")
	flags.DurationVarP(&warmup, "warmup", "w", 0, "warm-up duration excluded from the final report")
	flags.DurationVar(&printInterval, "print-interval", 5*time.Second, "progress tick interval")
	flags.StringVarP(&bodyText, "body-text", "t", "", "request body, given inline")
	flags.StringVarP(&bodyFile, "body-file", "T", "", "request body, read from a file")
	flags.StringArrayVarP(&headers, "header", "H", nil, "extra request header, Name:Value (repeatable)")
	flags.BoolVarP(&insecure, "insecure", "k", false, "skip TLS certificate verification")
	flags.BoolVarP(&http2, "http2", "2", false, "speak HTTP/2 instead of HTTP/1.1")
	flags.BoolVar(&verbose, "verbose", false, "log request/response detail")

	return cmd
}
