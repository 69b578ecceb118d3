// Package config assembles the immutable, shared configuration a load run
// is driven from: target URL, request template, and TLS policy.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/mmelnyk/apib/errs"
)

// Protocol selects which wire protocol a worker's connection speaks.
type Protocol int

const (
	ProtocolHTTP1 Protocol = iota
	ProtocolHTTP2
)

// Header is one additional request header, kept in the order it was added.
type Header struct {
	Name  string
	Value string
}

// Config is built once by Builder.Build and shared read-only by every
// worker for the life of a run.
type Config struct {
	Host     string
	Port     int
	HostHdr  string
	Path     string
	Method   string
	Body     []byte
	Headers  []Header
	Protocol Protocol
	TLS      *tls.Config // nil unless the URL scheme is https
	Verbose  bool
}

// Builder accumulates staged options and produces a Config.
type Builder struct {
	rawURL   string
	method   string
	bodyText string
	bodyFile string
	headers  []Header
	http2    bool
	insecure bool
	verbose  bool
}

// New starts a Builder for the given target URL.
func New(rawURL string) *Builder {
	return &Builder{rawURL: rawURL}
}

func (b *Builder) WithMethod(method string) *Builder {
	b.method = method
	return b
}

func (b *Builder) WithBodyText(text string) *Builder {
	b.bodyText = text
	return b
}

func (b *Builder) WithBodyFile(path string) *Builder {
	b.bodyFile = path
	return b
}

func (b *Builder) WithHeader(name, value string) *Builder {
	b.headers = append(b.headers, Header{Name: name, Value: value})
	return b
}

func (b *Builder) WithHTTP2(enabled bool) *Builder {
	b.http2 = enabled
	return b
}

func (b *Builder) WithInsecureTLS(insecure bool) *Builder {
	b.insecure = insecure
	return b
}

func (b *Builder) WithVerbose(verbose bool) *Builder {
	b.verbose = verbose
	return b
}

// ParseHeaderFlag splits a "-H Name:Value" argument on the first colon,
// adding both halves verbatim. A header with no value after the colon
// ("-H Name:") is still added, per the observed reference behavior.
func ParseHeaderFlag(raw string) (Header, error) {
	idx := strings.Index(raw, ":")
	if idx < 0 {
		return Header{}, errs.NewConfigurationError("header %q is missing a colon", raw)
	}
	return Header{Name: raw[:idx], Value: raw[idx+1:]}, nil
}

// Build validates the staged options and assembles the immutable Config.
func (b *Builder) Build() (*Config, error) {
	if b.rawURL == "" {
		return nil, errs.NewConfigurationError("missing URL")
	}

	u, err := url.Parse(b.rawURL)
	if err != nil {
		return nil, errs.NewInvalidURLError("%s", err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errs.NewIOError("invalid HTTP scheme: %s", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, errs.NewIOError("URL %s must have a host", b.rawURL)
	}

	explicitPort := u.Port()
	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if explicitPort != "" {
		p, err := strconv.Atoi(explicitPort)
		if err != nil {
			return nil, errs.NewInvalidURLError("invalid port %q", explicitPort)
		}
		port = p
	}

	hostHdr := host
	if explicitPort != "" {
		hostHdr = host + ":" + explicitPort
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path = path + "?" + u.RawQuery
	}

	body, err := readBody(b.bodyText, b.bodyFile)
	if err != nil {
		return nil, err
	}

	method := b.method
	if method == "" {
		if len(body) == 0 {
			method = http.MethodGet
		} else {
			method = http.MethodPost
		}
	} else if !validMethodToken(method) {
		return nil, errs.NewConfigurationError("invalid HTTP method %q", method)
	}

	var tlsCfg *tls.Config
	if u.Scheme == "https" {
		if b.insecure {
			tlsCfg = &tls.Config{InsecureSkipVerify: true}
		} else {
			pool, err := x509.SystemCertPool()
			if err != nil || pool == nil {
				pool = x509.NewCertPool()
			}
			tlsCfg = &tls.Config{RootCAs: pool}
		}
		tlsCfg.ServerName = host
	}

	protocol := ProtocolHTTP1
	if b.http2 {
		protocol = ProtocolHTTP2
	}

	return &Config{
		Host:     host,
		Port:     port,
		HostHdr:  hostHdr,
		Path:     path,
		Method:   method,
		Body:     body,
		Headers:  b.headers,
		Protocol: protocol,
		TLS:      tlsCfg,
		Verbose:  b.verbose,
	}, nil
}

// readBody resolves the request body from inline text or a file path.
// The file read happens once, here, before any worker starts — off the
// hot path, so no async plumbing is needed for what the original source
// treats as a non-blocking read.
func readBody(text, file string) ([]byte, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errs.NewIOError("reading body file %s: %s", file, err.Error())
		}
		return data, nil
	}
	if text != "" {
		return []byte(text), nil
	}
	return nil, nil
}

// validMethodToken reports whether method is syntactically a valid HTTP
// request method token (RFC 7230 §3.2.6): visible ASCII characters other
// than the delimiters.
func validMethodToken(method string) bool {
	if method == "" {
		return false
	}
	for _, r := range method {
		if r <= ' ' || r > '~' {
			return false
		}
		switch r {
		case '(', ')', '<', '>', '@', ',', ';', ':', '\\', '"', '/', '[', ']', '?', '=', '{', '}':
			return false
		}
	}
	return true
}
