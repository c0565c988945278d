package connloop_test

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badu/vortex/connloop"
	"github.com/badu/vortex/message"
	"github.com/badu/vortex/pipe"
	"github.com/badu/vortex/reactor"
	"github.com/badu/vortex/router"
)

func serverPipe(t *testing.T) (client net.Conn, server *pipe.Connection) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	srvCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		srvCh <- c
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	raw := <-srvCh
	rt := reactor.New(reactor.Config{Workers: 1})
	return client, pipe.New(raw, rt, context.Background(), 0)
}

func TestLoopServesSingleRequestThenCloses(t *testing.T) {
	client, server := serverPipe(t)
	defer client.Close()

	r := router.New()
	r.Add("GET", "/hi", func(req *message.Request) *message.Response {
		return message.NewResponse().Text(200, "hello")
	})
	l := &connloop.Loop{Router: r}

	done := make(chan struct{})
	go func() { l.Serve(context.Background(), server); close(done) }()

	client.Write([]byte("GET /hi HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	resp := readAll(t, client)
	require.Contains(t, resp, "HTTP/1.1 200 OK")
	require.Contains(t, resp, "hello")
	require.Contains(t, resp, "Connection: close")
	<-done
}

func TestLoopKeepAliveServesSecondRequest(t *testing.T) {
	client, server := serverPipe(t)
	defer client.Close()

	r := router.New()
	calls := 0
	r.Add("GET", "/count", func(req *message.Request) *message.Response {
		calls++
		return message.NewResponse().Text(200, "ok")
	})
	l := &connloop.Loop{Router: r}

	done := make(chan struct{})
	go func() { l.Serve(context.Background(), server); close(done) }()

	br := bufio.NewReader(client)
	client.Write([]byte("GET /count HTTP/1.1\r\nHost: x\r\n\r\n"))
	line1, err := readStatusLine(br)
	require.NoError(t, err)
	require.Contains(t, line1, "200")
	skipHeaders(t, br)

	client.Write([]byte("GET /count HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	line2, err := readStatusLine(br)
	require.NoError(t, err)
	require.Contains(t, line2, "200")
	<-done
	require.Equal(t, 2, calls)
}

func TestLoopNotFoundVsMethodNotAllowed(t *testing.T) {
	client, server := serverPipe(t)
	defer client.Close()

	r := router.New()
	r.Add("POST", "/widgets", func(req *message.Request) *message.Response {
		return message.NewResponse().Text(201, "created")
	})
	l := &connloop.Loop{Router: r}

	done := make(chan struct{})
	go func() { l.Serve(context.Background(), server); close(done) }()

	client.Write([]byte("GET /widgets HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	resp := readAll(t, client)
	require.Contains(t, resp, "405")
	<-done
}

func TestLoopWebSocketUpgrade(t *testing.T) {
	client, server := serverPipe(t)
	defer client.Close()

	upgraded := make(chan struct{})
	l := &connloop.Loop{
		Router: router.New(),
		FindWS: func(path string) (connloop.WSUpgradeFunc, bool) {
			if path != "/ws" {
				return nil, false
			}
			return func(ctx context.Context, conn *pipe.Connection, req *message.Request) {
				close(upgraded)
			}, true
		},
	}

	go l.Serve(context.Background(), server)

	key := "dGhlIHNhbXBsZSBub25jZQ=="
	client.Write([]byte("GET /ws HTTP/1.1\r\nHost: x\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: " + key + "\r\nSec-WebSocket-Version: 13\r\n\r\n"))

	resp := readAll(t, client)
	require.Contains(t, resp, "101")
	sum := sha1.Sum([]byte(key + "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"))
	require.Contains(t, resp, base64.StdEncoding.EncodeToString(sum[:]))
	<-upgraded
}

func TestLoopExpectContinueRepliesBeforeBody(t *testing.T) {
	client, server := serverPipe(t)
	defer client.Close()

	var gotBody string
	r := router.New()
	r.Add("POST", "/upload", func(req *message.Request) *message.Response {
		gotBody = string(req.Body)
		return message.NewResponse().Text(200, "stored")
	})
	l := &connloop.Loop{Router: r}

	done := make(chan struct{})
	go func() { l.Serve(context.Background(), server); close(done) }()

	br := bufio.NewReader(client)
	client.Write([]byte("POST /upload HTTP/1.1\r\nHost: x\r\nConnection: close\r\nExpect: 100-continue\r\nContent-Length: 5\r\n\r\n"))

	// The server must answer 100 Continue before it has any of the body.
	interim, err := readStatusLine(br)
	require.NoError(t, err)
	require.Contains(t, interim, "100")
	blank, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "\r\n", blank)

	client.Write([]byte("hello"))

	final, err := readStatusLine(br)
	require.NoError(t, err)
	require.Contains(t, final, "200")
	<-done
	require.Equal(t, "hello", gotBody)
}

func TestLoopHijackTakesOwnershipOfSocket(t *testing.T) {
	client, server := serverPipe(t)
	defer client.Close()

	r := router.New()
	r.Add("GET", "/raw", func(req *message.Request) *message.Response {
		conn, err := req.Hijack()
		require.NoError(t, err)
		conn.Write([]byte("HTTP/1.1 200 Hijacked\r\nContent-Length: 0\r\n\r\n"))
		return nil
	})
	l := &connloop.Loop{Router: r}

	done := make(chan struct{})
	go func() { l.Serve(context.Background(), server); close(done) }()

	client.Write([]byte("GET /raw HTTP/1.1\r\nHost: x\r\n\r\n"))
	resp := readAll(t, client)
	require.Contains(t, resp, "200 Hijacked")
	<-done
}

func readAll(t *testing.T, c net.Conn) string {
	t.Helper()
	buf := make([]byte, 4096)
	n, err := c.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func readStatusLine(br *bufio.Reader) (string, error) {
	return br.ReadString('\n')
}

func skipHeaders(t *testing.T, br *bufio.Reader) {
	t.Helper()
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			return
		}
	}
}
