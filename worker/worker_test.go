package worker_test

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/mmelnyk/apib/collector"
	"github.com/mmelnyk/apib/config"
	"github.com/mmelnyk/apib/errs"
	"github.com/mmelnyk/apib/worker"
	"github.com/stretchr/testify/require"
)

// startHTTP1Stub runs a minimal HTTP/1.1 server on loopback that replies
// with statusLine to every request it reads, closing nothing itself.
func startHTTP1Stub(t *testing.T, statusLine string, body string) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				close(done)
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				br := bufio.NewReader(c)
				for {
					req, err := http.ReadRequest(br)
					if err != nil {
						return
					}
					_, _ = io.Copy(io.Discard, req.Body)
					req.Body.Close()
					resp := fmt.Sprintf("%s\r\nContent-Length: %d\r\n\r\n%s", statusLine, len(body), body)
					if _, err := c.Write([]byte(resp)); err != nil {
						return
					}
				}
			}(c)
		}
	}()

	return ln.Addr().String(), func() {
		ln.Close()
		<-done
	}
}

func TestSendSuccessOpensConnectionOnce(t *testing.T) {
	addr, stop := startHTTP1Stub(t, "HTTP/1.1 200 OK", "hello")
	defer stop()

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	var port int
	_, err = fmt.Sscanf(portStr, "%d", &port)
	require.NoError(t, err)

	cfg, err := config.New(fmt.Sprintf("http://%s:%d/hello", host, port)).Build()
	require.NoError(t, err)

	s := worker.New(cfg, nil)
	coll := collector.New(0)

	opened, err := s.Send(coll)
	require.NoError(t, err)
	require.True(t, opened)

	opened, err = s.Send(coll)
	require.NoError(t, err)
	require.False(t, opened)
}

func TestSendNon2xxReturnsHTTPError(t *testing.T) {
	addr, stop := startHTTP1Stub(t, "HTTP/1.1 404 Not Found", "")
	defer stop()

	host, portStr, _ := net.SplitHostPort(addr)
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	cfg, err := config.New(fmt.Sprintf("http://%s:%d/missing", host, port)).Build()
	require.NoError(t, err)

	s := worker.New(cfg, nil)
	coll := collector.New(0)

	_, err = s.Send(coll)
	require.Error(t, err)
	var httpErr *errs.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, 404, httpErr.Status)
}

func TestDoLoopStopsWhenCollectorStopped(t *testing.T) {
	addr, stop := startHTTP1Stub(t, "HTTP/1.1 200 OK", "hi")
	defer stop()

	host, portStr, _ := net.SplitHostPort(addr)
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	cfg, err := config.New(fmt.Sprintf("http://%s:%d/hi", host, port)).Build()
	require.NoError(t, err)

	s := worker.New(cfg, nil)
	coll := collector.New(0)

	go func() {
		time.Sleep(50 * time.Millisecond)
		coll.Stop()
	}()

	done := make(chan struct{})
	go func() {
		s.DoLoop(coll)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("DoLoop did not stop after collector.Stop()")
	}

	res := coll.GetResults(time.Now().Add(-time.Second), time.Now())
	require.Equal(t, res.Successes+res.Failures, res.Attempts)
}
