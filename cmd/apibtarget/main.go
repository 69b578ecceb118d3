// Command apibtarget runs the embedded HTTP target server standalone, for
// manual exercising of apib or any other HTTP/1.1 or HTTP/2 client.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmelnyk/apib/target"
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
		port           int
		loopback       bool
		certFile       string
		keyFile        string
		selfSignedDays int
		writeCertTo    string
		writeKeyTo     string
		verbose        bool
	)

	cmd := &cobra.Command{
		Use:   "apibtarget",
		Short: "standalone HTTP/HTTP2 self-test target server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.StandardLogger()
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			tlsCfg, err := resolveTLSConfig(certFile, keyFile, selfSignedDays, writeCertTo, writeKeyTo)
			if err != nil {
				return err
			}

			srv, err := target.New(target.Options{
				Port:      port,
				Loopback:  loopback,
				TLSConfig: tlsCfg,
				Logger:    log,
			})
			if err != nil {
				return err
			}
			log.Infof("listening on %s", srv.Addr())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			defer stop()
			<-ctx.Done()

			log.Info("shutting down")
			srv.Stop()
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&port, "port", 8080, "port to listen on (0 picks an ephemeral port)")
	flags.BoolVar(&loopback, "localhost", false, "bind 127.0.0.1 instead of all interfaces")
	flags.StringVar(&certFile, "cert", "", "TLS certificate file (PEM)")
	flags.StringVar(&keyFile, "key", "", "TLS private key file (PEM)")
	flags.IntVar(&selfSignedDays, "self-signed-days", 0, "generate a self-signed certificate valid for this many days, instead of --cert/--key")
	flags.StringVar(&writeCertTo, "write-cert", "", "with --self-signed-days, also save the generated certificate here")
	flags.StringVar(&writeKeyTo, "write-key", "", "with --self-signed-days, also save the generated private key here")
	flags.BoolVar(&verbose, "verbose", false, "log each accepted connection")

	return cmd
}

// resolveTLSConfig builds the target's TLS configuration, if any, from the
// --cert/--key or --self-signed-days flags. When --write-cert/--write-key
// are given alongside --self-signed-days, the same generated certificate
// that is about to serve traffic is also persisted to disk, so a later run
// can be pointed at it with --cert/--key instead of generating a fresh one.
func resolveTLSConfig(certFile, keyFile string, selfSignedDays int, writeCertTo, writeKeyTo string) (*tls.Config, error) {
	switch {
	case selfSignedDays > 0:
		certPEM, keyPEM, err := target.SelfSignedPEM(selfSignedDays)
		if err != nil {
			return nil, err
		}
		if writeCertTo != "" {
			if err := os.WriteFile(writeCertTo, certPEM, 0o600); err != nil {
				return nil, fmt.Errorf("writing certificate: %w", err)
			}
		}
		if writeKeyTo != "" {
			if err := os.WriteFile(writeKeyTo, keyPEM, 0o600); err != nil {
				return nil, fmt.Errorf("writing private key: %w", err)
			}
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("target: building TLS certificate: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
	case certFile != "" && keyFile != "":
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("loading TLS certificate: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
	case certFile != "" || keyFile != "":
		return nil, fmt.Errorf("--cert and --key must be given together")
	default:
		return nil, nil
	}
}
