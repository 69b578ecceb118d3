package conn_test

import (
	"bufio"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/mmelnyk/apib/conn"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

func TestHTTP1ConnectedLifecycle(t *testing.T) {
	c := conn.NewHTTP1()
	require.False(t, c.Connected())

	server, client := net.Pipe()
	defer server.Close()

	require.NoError(t, c.Connect(client))
	require.True(t, c.Connected())

	done := make(chan struct{})
	go func() {
		defer close(done)
		br := bufio.NewReader(server)
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		defer req.Body.Close()
		resp := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
		_, _ = server.Write([]byte(resp))
	}()

	req, err := http.NewRequest(http.MethodGet, "/hello", nil)
	require.NoError(t, err)
	req.Host = "example.com"

	resp, err := c.SendRequest(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	defer resp.Body.Close()

	<-done
	c.Disconnect()
	require.False(t, c.Connected())
}

func TestHTTP1SendRequestBeforeConnectPanics(t *testing.T) {
	c := conn.NewHTTP1()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	require.Panics(t, func() {
		_, _ = c.SendRequest(req)
	})
}

func TestHTTP2RoundTrip(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()

	srv := &http2.Server{}
	go srv.ServeConn(serverConn, &http2.ServeConnOpts{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("hi"))
		}),
	})

	c := conn.NewHTTP2()
	require.NoError(t, c.Connect(clientConn))
	require.True(t, c.Connected())

	reqURL, err := url.Parse("/thing")
	require.NoError(t, err)
	reqURL.Scheme = "http"
	reqURL.Host = "example.com"
	req := &http.Request{
		Method: http.MethodGet,
		URL:    reqURL,
		Host:   "example.com",
		Header: http.Header{},
	}

	resultCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := c.SendRequest(req)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- resp
	}()

	select {
	case resp := <-resultCh:
		require.Equal(t, 200, resp.StatusCode)
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for HTTP/2 round trip")
	}

	c.Disconnect()
}
