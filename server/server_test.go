package server_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/badu/vortex/message"
	"github.com/badu/vortex/server"
)

func TestServerServesRegisteredRoute(t *testing.T) {
	s := server.New()
	s.Get("/hello", func(req *message.Request) *message.Response {
		return message.NewResponse().Text(200, "world")
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx, addr) }()

	waitForListener(t, addr)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	conn.Write([]byte("GET /hello HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))

	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "200")

	cancel()
}

func TestServerActiveConnectionsTracksLifecycle(t *testing.T) {
	s := server.New()
	s.Get("/x", func(req *message.Request) *message.Response {
		return message.NewResponse().Text(200, "ok")
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, addr)
	waitForListener(t, addr)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	conn.Write([]byte("GET /x HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))

	require.Eventually(t, func() bool { return s.ActiveConnections() >= 1 }, time.Second, 5*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return s.ActiveConnections() == 0 }, time.Second, 5*time.Millisecond)
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)
}
