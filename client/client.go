// File: client/client.go
// Package client provides a minimal WebSocket client for talking to tinyws.
// Author: momentics <momentics.com>
// License: Apache-2.0
//
// The client implements:
// - RFC6455 handshake over bare TCP (ws:// URL or host:port) with accept-key check
// - Masked frame writes with a fresh random key per frame
// - Automatic Pong replies while waiting for text
// - A close handshake with a bounded wait for the server's reply

package client

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/tinyws/protocol"
)

var (
	// ErrHandshakeFailed is returned when the server does not upgrade.
	ErrHandshakeFailed = errors.New("websocket handshake failed")
	// ErrClosed is returned after Close or once the server closed.
	ErrClosed = errors.New("client is closed")
)

// Config holds all configurable parameters for the client.
type Config struct {
	Addr       string        // ws:// URL or bare host:port
	Timeout    time.Duration // handshake and per-operation deadline
	Extensions []string      // offered in Sec-WebSocket-Extensions
	MaxPayload uint64        // limit for received frames, 0 = unlimited
}

// Client is one upgraded connection.
type Client struct {
	cfg  Config
	conn net.Conn
	br   *bufio.Reader

	wmu    sync.Mutex
	closed atomic.Bool
}

// Dial connects and performs the upgrade handshake. It blocks until the
// handshake completes, fails or ctx is done.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	host, path, err := splitAddr(cfg.Addr)
	if err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg, conn: conn, br: bufio.NewReader(conn)}
	if err := c.handshake(host, path); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func splitAddr(addr string) (host, path string, err error) {
	if !strings.Contains(addr, "://") {
		return addr, "/", nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "ws" {
		return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.Host, u.RequestURI(), nil
}

func (c *Client) handshake(host, path string) error {
	keyBytes := make([]byte, 16)
	if _, err := rand.Read(keyBytes); err != nil {
		return err
	}
	key := base64.StdEncoding.EncodeToString(keyBytes)

	var sb strings.Builder
	fmt.Fprintf(&sb, "GET %s HTTP/1.1\r\nHost: %s\r\n", path, host)
	sb.WriteString("Upgrade: websocket\r\nConnection: Upgrade\r\n")
	fmt.Fprintf(&sb, "Sec-WebSocket-Key: %s\r\nSec-WebSocket-Version: 13\r\n", key)
	if len(c.cfg.Extensions) > 0 {
		fmt.Fprintf(&sb, "Sec-WebSocket-Extensions: %s\r\n", strings.Join(c.cfg.Extensions, ", "))
	}
	sb.WriteString("\r\n")

	_ = c.conn.SetDeadline(time.Now().Add(c.cfg.Timeout))
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()
	if _, err := c.conn.Write([]byte(sb.String())); err != nil {
		return err
	}

	resp, err := http.ReadResponse(c.br, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return fmt.Errorf("%w: status %d", ErrHandshakeFailed, resp.StatusCode)
	}
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != protocol.ComputeAcceptKey(key) {
		return fmt.Errorf("%w: bad Sec-WebSocket-Accept %q", ErrHandshakeFailed, got)
	}
	return nil
}

// WriteFrame masks and sends f. The caller's payload is not modified.
func (c *Client) WriteFrame(f *protocol.Frame) error {
	if c.closed.Load() {
		return ErrClosed
	}
	out := *f
	out.Masked = true
	if _, err := rand.Read(out.MaskKey[:]); err != nil {
		return err
	}
	data, err := protocol.EncodeFrame(&out)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout))
	_, err = c.conn.Write(data)
	return err
}

// SendText sends one unfragmented text message.
func (c *Client) SendText(text string) error {
	return c.WriteFrame(protocol.NewTextFrame(text))
}

// ReadFrame returns the next frame as sent by the server.
func (c *Client) ReadFrame() (*protocol.Frame, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.Timeout))
	return protocol.ReadFrame(c.br, c.cfg.MaxPayload)
}

// ReadText returns the next text message, answering pings on the way.
// A Close from the server is acknowledged and ends the client.
func (c *Client) ReadText() (string, error) {
	for {
		f, err := c.ReadFrame()
		if err != nil {
			return "", err
		}
		switch f.Opcode {
		case protocol.OpcodeText:
			return string(f.Payload), nil
		case protocol.OpcodePing:
			if err := c.WriteFrame(protocol.NewPongFrame()); err != nil {
				return "", err
			}
		case protocol.OpcodeClose:
			code, ok := protocol.CloseCode(f.Payload)
			if !ok {
				code = protocol.CloseNormalClosure
			}
			_ = c.WriteFrame(protocol.NewCloseFrame(code))
			c.shutdown()
			return "", fmt.Errorf("%w: server sent close %d", ErrClosed, code)
		}
	}
}

// Close sends a Close with code and waits for the server's Close or the
// timeout before dropping the connection. Idempotent.
func (c *Client) Close(code uint16) error {
	if c.closed.Load() {
		return nil
	}
	err := c.WriteFrame(protocol.NewCloseFrame(code))
	if err == nil {
		for {
			f, rerr := c.ReadFrame()
			if rerr != nil || f.Opcode == protocol.OpcodeClose {
				break
			}
		}
	}
	c.shutdown()
	return err
}

func (c *Client) shutdown() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.conn.Close()
	}
}

// LocalAddr returns the client side of the connection.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}
