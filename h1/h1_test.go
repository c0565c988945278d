package h1_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badu/vortex/h1"
	"github.com/badu/vortex/hdr"
	"github.com/badu/vortex/message"
	"github.com/badu/vortex/pipe"
	"github.com/badu/vortex/reactor"
)

func pipePair(t *testing.T) (client net.Conn, server *pipe.Connection) {
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

func TestParseRequestSimpleGET(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()

	go client.Write([]byte("GET /hello HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))

	req, err := h1.ParseRequest(server)
	require.NoError(t, err)
	require.Equal(t, message.GET, req.Method)
	require.Equal(t, "/hello", req.Path)
	require.True(t, req.WantsClose())
}

func TestParseRequestWithBody(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()

	go client.Write([]byte("POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 13\r\n\r\nHello, World!"))

	req, err := h1.ParseRequest(server)
	require.NoError(t, err)
	require.Equal(t, "Hello, World!", string(req.Body))
}

func TestParseRequestChunked(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()

	go client.Write([]byte("POST /echo HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"))

	req, err := h1.ParseRequest(server)
	require.NoError(t, err)
	require.Equal(t, "hello", string(req.Body))
}

func TestParseRequestQueryDecoding(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()

	go client.Write([]byte("GET /search?q=a+b%20c&empty HTTP/1.1\r\nHost: x\r\n\r\n"))

	req, err := h1.ParseRequest(server)
	require.NoError(t, err)
	v, ok := req.QueryParam("q")
	require.True(t, ok)
	require.Equal(t, "a b c", v)
	v, ok = req.QueryParam("empty")
	require.True(t, ok)
	require.Equal(t, "", v)
}

func TestParseRequestMissingHostHTTP11(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()

	go client.Write([]byte("GET / HTTP/1.1\r\n\r\n"))

	_, err := h1.ParseRequest(server)
	require.Error(t, err)
}

func TestParseRequestHeadLeavesBodyUnread(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()

	go client.Write([]byte("POST /echo HTTP/1.1\r\nHost: x\r\nExpect: 100-continue\r\nContent-Length: 13\r\n\r\nHello, World!"))

	req, err := h1.ParseRequestHead(server)
	require.NoError(t, err)
	require.True(t, req.ExpectsContinue())
	require.Empty(t, req.Body)

	require.NoError(t, h1.ReadBody(server, req))
	require.Equal(t, "Hello, World!", string(req.Body))
}

func TestWriteInterimResponseIsBareStatusLine(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()

	done := make(chan struct{})
	go func() {
		require.NoError(t, h1.WriteInterimResponse(server, true, 100))
		close(done)
	}()

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)
	<-done
	require.Equal(t, "HTTP/1.1 100 Continue\r\n\r\n", string(buf[:n]))
}

func TestWriteResponseBuffered(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()

	resp := message.NewResponse()
	resp.Header.Set(hdr.ContentType, "text/plain")
	resp.Bytes(200, "text/plain", []byte("world"))

	done := make(chan struct{})
	go func() {
		_, err := h1.WriteResponse(server, true, false, resp)
		require.NoError(t, err)
		close(done)
	}()

	buf := make([]byte, 256)
	n, err := client.Read(buf)
	require.NoError(t, err)
	<-done
	out := string(buf[:n])
	require.Contains(t, out, "HTTP/1.1 200 OK")
	require.Contains(t, out, "Content-Length: 5")
	require.Contains(t, out, "world")
}
