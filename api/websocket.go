// File: api/websocket.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract WebSocket session seen by application callbacks.

package api

import "net"

// Session is one upgraded client connection.
type Session interface {
	// ID returns the unique session identifier.
	ID() string

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr

	// SendText writes a single unfragmented text frame.
	SendText(text string) error

	// Extensions lists the extensions recorded during the handshake.
	Extensions() []string

	// CloseStatus returns the status code recorded for the close handshake.
	CloseStatus() uint16

	// Close runs the locally-initiated close handshake and blocks until
	// the peer acknowledged or the connection timeout elapsed. Through the
	// session passed to a running callback it returns without waiting.
	Close() error
}
