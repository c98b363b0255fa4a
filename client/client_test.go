package client_test

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/tinyws/api"
	"github.com/momentics/tinyws/client"
	"github.com/momentics/tinyws/protocol"
	"github.com/momentics/tinyws/transport/tcp"
)

func startEcho(t *testing.T, keepAlive time.Duration) (*tcp.Listener, chan api.Session) {
	t.Helper()
	cfg := tcp.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Session.KeepAliveInterval = keepAlive
	cfg.Session.ConnectionTimeout = time.Second
	opened := make(chan api.Session, 1)
	l := tcp.NewListener(cfg, api.HandlerFuncs{
		Open:    func(s api.Session) { opened <- s },
		Message: func(s api.Session, text string) { _ = s.SendText("re: " + text) },
	})
	require.NoError(t, l.Listen(0, 10, false))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.Shutdown(ctx)
	})
	return l, opened
}

func TestDialSendReceive(t *testing.T) {
	l, opened := startEcho(t, 50*time.Millisecond)
	c, err := client.Dial(context.Background(), client.Config{
		Addr:       "ws://127.0.0.1:" + strconv.Itoa(l.Port()) + "/chat",
		Timeout:    2 * time.Second,
		Extensions: []string{"permessage-deflate"},
	})
	require.NoError(t, err)
	s := <-opened
	assert.Equal(t, []string{"permessage-deflate"}, s.Extensions())

	// outlive a few keep-alive rounds; ReadText answers the pings
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, c.SendText("hello"))
	text, err := c.ReadText()
	require.NoError(t, err)
	assert.Equal(t, "re: hello", text)

	require.NoError(t, c.Close(protocol.CloseNormalClosure))
	require.NoError(t, c.Close(protocol.CloseNormalClosure))
	assert.ErrorIs(t, c.SendText("after"), client.ErrClosed)
	require.Eventually(t, func() bool { return l.CurrentConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServerCloseEndsReadText(t *testing.T) {
	l, opened := startEcho(t, time.Minute)
	c, err := client.Dial(context.Background(), client.Config{Addr: "127.0.0.1:" + strconv.Itoa(l.Port())})
	require.NoError(t, err)
	s := <-opened

	go func() { _ = s.Close() }()
	_, err = c.ReadText()
	assert.ErrorIs(t, err, client.ErrClosed)
	require.Eventually(t, func() bool { return l.CurrentConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// fakeServer answers the first request with resp and closes.
func fakeServer(t *testing.T, resp func(r *http.Request) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte(resp(req)))
	}()
	return ln.Addr().String()
}

func TestHandshakeRejected(t *testing.T) {
	addr := fakeServer(t, func(*http.Request) string {
		return "HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\n\r\n"
	})
	_, err := client.Dial(context.Background(), client.Config{Addr: addr, Timeout: time.Second})
	assert.ErrorIs(t, err, client.ErrHandshakeFailed)
}

func TestHandshakeBadAcceptKey(t *testing.T) {
	addr := fakeServer(t, func(r *http.Request) string {
		return "HTTP/1.1 101 Switching Protocols\r\n" +
			"Upgrade: websocket\r\nConnection: Upgrade\r\n" +
			"Sec-WebSocket-Accept: " + protocol.ComputeAcceptKey("not the key") + "\r\n\r\n"
	})
	_, err := client.Dial(context.Background(), client.Config{Addr: addr, Timeout: time.Second})
	assert.ErrorIs(t, err, client.ErrHandshakeFailed)
}

func TestHandshakeAcceptKeyChecked(t *testing.T) {
	addr := fakeServer(t, func(r *http.Request) string {
		return "HTTP/1.1 101 Switching Protocols\r\n" +
			"Upgrade: websocket\r\nConnection: Upgrade\r\n" +
			"Sec-WebSocket-Accept: " + protocol.ComputeAcceptKey(r.Header.Get("Sec-WebSocket-Key")) + "\r\n\r\n"
	})
	c, err := client.Dial(context.Background(), client.Config{Addr: addr, Timeout: time.Second})
	require.NoError(t, err)
	assert.NotNil(t, c.LocalAddr())
}

func TestUnsupportedScheme(t *testing.T) {
	_, err := client.Dial(context.Background(), client.Config{Addr: "wss://example.com/"})
	assert.ErrorContains(t, err, "unsupported scheme")
}
