// Package conn defines a uniform send/connect capability over HTTP/1.1
// and HTTP/2. A worker picks the concrete type once, at construction, and
// calls it through the Connection interface on every request. The two
// protocols share no native Go interface (net/http's transport
// internals and golang.org/x/net/http2's ClientConn are unrelated types),
// so this package supplies the missing common shape.
package conn

import (
	"bufio"
	"net"
	"net/http"

	"github.com/mmelnyk/apib/errs"
	"golang.org/x/net/http2"
)

// Connection is implemented by both the HTTP/1.1 and HTTP/2 concrete
// senders. A worker is constructed with exactly one concrete
// implementation and never switches between them mid-run.
type Connection interface {
	// Connected reports whether Connect has succeeded and no
	// Disconnect has happened since.
	Connected() bool
	// Connect performs the protocol handshake over raw. For HTTP/2
	// this also starts the background frame-reader goroutine that
	// golang.org/x/net/http2 owns internally; for HTTP/1.1, request
	// and response are exchanged synchronously with no separate
	// driver goroutine, since Go's blocking net.Conn I/O already
	// models the send/receive loop directly.
	Connect(raw net.Conn) error
	// Disconnect drops the connection. The next SendRequest call
	// requires a fresh Connect.
	Disconnect()
	// SendRequest sends req and waits for the response. It panics if
	// called before a successful Connect — that is a programmer
	// error, not a runtime condition.
	SendRequest(req *http.Request) (*http.Response, error)
}

// HTTP1 is the HTTP/1.1 concrete connection: a raw net.Conn plus a
// buffered reader for framing the response.
type HTTP1 struct {
	raw net.Conn
	br  *bufio.Reader
}

// NewHTTP1 constructs a disconnected HTTP/1.1 connection.
func NewHTTP1() *HTTP1 {
	return &HTTP1{}
}

func (c *HTTP1) Connected() bool {
	return c.raw != nil
}

func (c *HTTP1) Connect(raw net.Conn) error {
	c.raw = raw
	c.br = bufio.NewReader(raw)
	return nil
}

func (c *HTTP1) Disconnect() {
	if c.raw != nil {
		_ = c.raw.Close()
	}
	c.raw = nil
	c.br = nil
}

func (c *HTTP1) SendRequest(req *http.Request) (*http.Response, error) {
	if c.raw == nil {
		panic("conn: SendRequest called before Connect")
	}
	if err := req.Write(c.raw); err != nil {
		return nil, errs.WrapIOError(err)
	}
	resp, err := http.ReadResponse(c.br, req)
	if err != nil {
		return nil, errs.WrapIOError(err)
	}
	return resp, nil
}

// HTTP2 is the HTTP/2 concrete connection, backed by
// golang.org/x/net/http2's own ClientConn, which owns its background
// frame-reading goroutine for the lifetime of the connection.
type HTTP2 struct {
	transport *http2.Transport
	cc        *http2.ClientConn
}

// NewHTTP2 constructs a disconnected HTTP/2 connection. AllowHTTP is set
// so the same type handles both TLS-negotiated-ALPN and plaintext h2c
// (direct, prior-knowledge) handshakes.
func NewHTTP2() *HTTP2 {
	return &HTTP2{transport: &http2.Transport{AllowHTTP: true}}
}

func (c *HTTP2) Connected() bool {
	return c.cc != nil
}

func (c *HTTP2) Connect(raw net.Conn) error {
	cc, err := c.transport.NewClientConn(raw)
	if err != nil {
		return errs.WrapIOError(err)
	}
	c.cc = cc
	return nil
}

func (c *HTTP2) Disconnect() {
	if c.cc != nil {
		_ = c.cc.Close()
	}
	c.cc = nil
}

func (c *HTTP2) SendRequest(req *http.Request) (*http.Response, error) {
	if c.cc == nil {
		panic("conn: SendRequest called before Connect")
	}
	resp, err := c.cc.RoundTrip(req)
	if err != nil {
		return nil, errs.WrapIOError(err)
	}
	return resp, nil
}
