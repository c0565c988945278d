package pipe_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/badu/vortex/pipe"
	"github.com/badu/vortex/reactor"
)

func listenerPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		serverCh <- c
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server = <-serverCh
	return client, server
}

func TestConnectionReadWrite(t *testing.T) {
	client, server := listenerPair(t)
	defer client.Close()
	defer server.Close()

	rt := reactor.New(reactor.Config{Workers: 1})
	c := pipe.New(server, rt, context.Background(), 0)

	go client.Write([]byte("hello"))

	buf := make([]byte, 5)
	n, err := c.ReadFull(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

func TestConnectionReadUntil(t *testing.T) {
	client, server := listenerPair(t)
	defer client.Close()
	defer server.Close()

	rt := reactor.New(reactor.Config{Workers: 1})
	c := pipe.New(server, rt, context.Background(), 0)

	go client.Write([]byte("GET / HTTP/1.1\r\n"))

	line, err := c.ReadUntil('\n')
	require.NoError(t, err)
	require.Equal(t, "GET / HTTP/1.1\r\n", string(line))
}

func TestConnectionTimeout(t *testing.T) {
	client, server := listenerPair(t)
	defer client.Close()
	defer server.Close()

	rt := reactor.New(reactor.Config{Workers: 1})
	c := pipe.New(server, rt, context.Background(), 0)
	c.SetTimeout(20 * time.Millisecond)

	_, err := c.ReadByte()
	require.ErrorIs(t, err, pipe.ErrTimeout)
}

func TestConnectionHijackReplaysBufferedBytes(t *testing.T) {
	client, server := listenerPair(t)
	defer client.Close()
	defer server.Close()

	rt := reactor.New(reactor.Config{Workers: 1})
	c := pipe.New(server, rt, context.Background(), 0)

	client.Write([]byte("GET / HTTP/1.1\r\nleftover"))
	line, err := c.ReadUntil('\n')
	require.NoError(t, err)
	require.Equal(t, "GET / HTTP/1.1\r\n", string(line))

	require.False(t, c.Hijacked())
	raw, err := c.Hijack()
	require.NoError(t, err)
	require.True(t, c.Hijacked())

	buf := make([]byte, len("leftover"))
	n, err := io.ReadFull(raw, buf)
	require.NoError(t, err)
	require.Equal(t, "leftover", string(buf[:n]))
}

func TestConnectionHijackTwiceErrors(t *testing.T) {
	client, server := listenerPair(t)
	defer client.Close()
	defer server.Close()

	rt := reactor.New(reactor.Config{Workers: 1})
	c := pipe.New(server, rt, context.Background(), 0)

	_, err := c.Hijack()
	require.NoError(t, err)

	_, err = c.Hijack()
	require.ErrorIs(t, err, pipe.ErrHijacked)
}

func TestConnectionCancellation(t *testing.T) {
	client, server := listenerPair(t)
	defer client.Close()
	defer server.Close()

	rt := reactor.New(reactor.Config{Workers: 1})
	c := pipe.New(server, rt, context.Background(), 0)
	c.CancelToken().Cancel()

	_, err := c.Write([]byte("x"))
	require.ErrorIs(t, err, reactor.ErrCancelled)
}
