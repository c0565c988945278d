package websocket_test

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badu/vortex/pipe"
	"github.com/badu/vortex/reactor"
	"github.com/badu/vortex/websocket"
)

func wsPair(t *testing.T) (client net.Conn, server *pipe.Connection) {
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

func maskedFrame(fin bool, opcode byte, payload []byte) []byte {
	var out []byte
	b0 := opcode
	if fin {
		b0 |= 0x80
	}
	out = append(out, b0)
	out = append(out, byte(len(payload))|0x80)
	mask := [4]byte{1, 2, 3, 4}
	out = append(out, mask[:]...)
	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ mask[i%4]
	}
	out = append(out, masked...)
	return out
}

func TestAcceptMatchesRFC6455Example(t *testing.T) {
	require.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", websocket.Accept("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestConnectionReceiveSingleTextFrame(t *testing.T) {
	client, server := wsPair(t)
	defer client.Close()

	go client.Write(maskedFrame(true, 0x1, []byte("hello")))

	c := websocket.New("id1", server, 0)
	msg, ok, err := c.Receive(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(msg.Payload))
	require.False(t, msg.Binary)
}

func TestConnectionReceiveReassemblesContinuation(t *testing.T) {
	client, server := wsPair(t)
	defer client.Close()

	go func() {
		client.Write(maskedFrame(false, 0x1, []byte("hel")))
		client.Write(maskedFrame(true, 0x0, []byte("lo")))
	}()

	c := websocket.New("id1", server, 0)
	msg, ok, err := c.Receive(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(msg.Payload))
}

func TestConnectionReceivePingRepliesPongThenReturnsMessage(t *testing.T) {
	client, server := wsPair(t)
	defer client.Close()

	go func() {
		client.Write(maskedFrame(true, 0x9, []byte("ping-data")))
		client.Write(maskedFrame(true, 0x1, []byte("hi")))
	}()

	c := websocket.New("id1", server, 0)
	msg, ok, err := c.Receive(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hi", string(msg.Payload))

	pong := make([]byte, 2+len("ping-data"))
	_, err = io.ReadFull(client, pong)
	require.NoError(t, err)
	require.Equal(t, append([]byte{0x8A, byte(len("ping-data"))}, "ping-data"...), pong)
}

func TestConnectionReceiveUnmaskedFrameRejected(t *testing.T) {
	client, server := wsPair(t)
	defer client.Close()

	go client.Write([]byte{0x81, 0x02, 'h', 'i'}) // FIN+text, length 2, MASK bit unset

	c := websocket.New("id1", server, 0)
	_, _, err := c.Receive(context.Background())
	require.Error(t, err)
}

func TestHubBroadcastQueuesPerConnection(t *testing.T) {
	h := websocket.NewHub()
	o1 := h.Register("a")
	h.Register("b")
	h.Broadcast(websocket.Message{Payload: []byte("x")})
	h.Deregister("b")

	select {
	case <-o1.Wake():
	default:
		t.Fatal("expected wake signal after broadcast")
	}
}
