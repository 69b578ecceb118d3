// Package worker implements the per-connection send loop: connect,
// build/send a request, drain the response, and repeat until the
// collector says stop.
package worker

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mmelnyk/apib/collector"
	"github.com/mmelnyk/apib/config"
	"github.com/mmelnyk/apib/conn"
	"github.com/mmelnyk/apib/errs"
	"github.com/mmelnyk/apib/iocount"
	"github.com/sirupsen/logrus"
)

const userAgent = "apib"

// Sender owns one connection (HTTP/1.1 or HTTP/2, chosen at construction)
// and the shared, read-only configuration it drives requests from.
type Sender struct {
	cfg        *config.Config
	connection conn.Connection
	template   *http.Request
	rawConn    net.Conn
	log        *logrus.Logger
}

// New constructs a Sender. The concrete connection type is fixed for the
// Sender's lifetime; a worker never switches protocols mid-run.
func New(cfg *config.Config, log *logrus.Logger) *Sender {
	var c conn.Connection
	if cfg.Protocol == config.ProtocolHTTP2 {
		c = conn.NewHTTP2()
	} else {
		c = conn.NewHTTP1()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sender{
		cfg:        cfg,
		connection: c,
		template:   buildTemplate(cfg),
		log:        log,
	}
}

// buildTemplate assembles the cached request shape: method, URL, Host
// header and every configured extra header. It is cloned per send so the
// parsing and header-list walk happens once, not on every request.
func buildTemplate(cfg *config.Config) *http.Request {
	u, err := url.Parse(cfg.Path)
	if err != nil {
		// cfg.Path is derived from an already-validated URL at config
		// Build time; a parse failure here would be a programmer error.
		panic(fmt.Sprintf("worker: invalid cached path %q: %v", cfg.Path, err))
	}
	if cfg.TLS != nil {
		u.Scheme = "https"
	} else {
		u.Scheme = "http"
	}
	u.Host = cfg.HostHdr

	req := &http.Request{
		Method: cfg.Method,
		URL:    u,
		Host:   cfg.HostHdr,
		Header: make(http.Header, len(cfg.Headers)+1),
		Proto:  "HTTP/1.1",
	}
	req.Header.Set("User-Agent", userAgent)
	for _, h := range cfg.Headers {
		req.Header.Add(h.Name, h.Value)
	}
	return req
}

// cloneRequest returns a shallow copy of template with a deep-copied
// header map and a fresh body reader, mirroring the cached-template/
// clone-per-send pattern from the reference implementation.
func cloneRequest(template *http.Request, body []byte) *http.Request {
	r2 := new(http.Request)
	*r2 = *template
	r2.Header = make(http.Header, len(template.Header))
	for k, vv := range template.Header {
		r2.Header[k] = append([]string(nil), vv...)
	}
	if len(body) > 0 {
		r2.Body = io.NopCloser(bytes.NewReader(body))
		r2.ContentLength = int64(len(body))
	}
	return r2
}

// Send issues a single request, connecting first if necessary. It
// reports whether this call opened a fresh connection.
func (s *Sender) Send(collect *collector.Collector) (bool, error) {
	openedConnection := false
	if !s.connection.Connected() {
		if err := s.connectTo(collect); err != nil {
			return false, err
		}
		openedConnection = true
	}

	req := cloneRequest(s.template, s.cfg.Body)
	if s.cfg.Verbose {
		s.log.Debugf("> %s %s", req.Method, req.URL.RequestURI())
	}

	resp, err := s.connection.SendRequest(req)
	if err != nil {
		s.forceDisconnect()
		return openedConnection, err
	}

	closeRequested := resp.Header.Get("Connection") == "close"

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Non-2xx: drain so the connection stays reusable, but do not
		// force a disconnect unless the server also asked for close.
		s.drain(resp)
		if closeRequested {
			s.connection.Disconnect()
		}
		return openedConnection, errs.NewHTTPError(resp.StatusCode)
	}

	s.drain(resp)
	if closeRequested {
		s.connection.Disconnect()
	}
	return openedConnection, nil
}

func (s *Sender) drain(resp *http.Response) {
	defer resp.Body.Close()
	if s.cfg.Verbose {
		for k, vv := range resp.Header {
			for _, v := range vv {
				s.log.Debugf("< %s: %s", k, v)
			}
		}
		body, _ := io.ReadAll(resp.Body)
		s.log.Debugf("< %s", string(body))
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
}

func (s *Sender) connectTo(collect *collector.Collector) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if s.cfg.Verbose {
		s.log.Debugf("connecting to %s...", addr)
	}
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return errs.WrapIOError(err)
	}
	if tcpConn, ok := raw.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	wrapped := iocount.New(raw, collect)
	s.rawConn = wrapped

	var finalConn net.Conn = wrapped
	if s.cfg.TLS != nil {
		tlsCfg := s.cfg.TLS.Clone()
		tlsCfg.ServerName = s.cfg.Host
		tlsConn := tls.Client(wrapped, tlsCfg)
		if err := tlsConn.Handshake(); err != nil {
			_ = wrapped.Close()
			s.rawConn = nil
			return errs.WrapIOError(err)
		}
		if s.cfg.Verbose {
			state := tlsConn.ConnectionState()
			s.log.Debugf("TLS: ALPN=%q version=%x cipher=%x", state.NegotiatedProtocol, state.Version, state.CipherSuite)
		}
		finalConn = tlsConn
	}

	if err := s.connection.Connect(finalConn); err != nil {
		_ = wrapped.Close()
		s.rawConn = nil
		return err
	}
	return nil
}

// forceDisconnect drops the connection after a send/recv error, per §7:
// IO errors force disconnection of the failing connection.
func (s *Sender) forceDisconnect() {
	s.connection.Disconnect()
	if s.rawConn != nil {
		_ = s.rawConn.Close()
		s.rawConn = nil
	}
}

// DoLoop runs the closed-loop send cycle until the collector reports
// stopped, then folds this worker's local accumulator into collect
// exactly once.
func (s *Sender) DoLoop(collect *collector.Collector) {
	var local collector.LocalCollector
	for {
		start := time.Now()
		opened, err := s.Send(collect)
		latency := time.Since(start)

		if err == nil {
			if !collect.WarmingUp() {
				local.Success(latency, opened)
			}
			if collect.Success() {
				break
			}
			continue
		}

		if s.cfg.Verbose {
			s.log.Debugf("error: %v", err)
		}
		if !collect.WarmingUp() {
			local.Failure()
		}
		if collect.Failure(err) {
			break
		}
	}
	collect.Collect(&local)
	if s.rawConn != nil {
		_ = s.rawConn.Close()
	}
}
