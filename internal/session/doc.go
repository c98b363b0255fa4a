// Package session
// Author: momentics <momentics@gmail.com>
//
// Per-connection WebSocket state machine.
//
// A Session owns its net.Conn. Run performs the upgrade handshake, then reads
// and dispatches frames on the calling goroutine while a watchdog goroutine
// pings the peer. State moves WaitingForHandshake -> Connected <-> InDataPayload
// -> Closing -> Disconnected; Done is closed on reaching Disconnected.
//
// Registry keeps the live sessions of a listener so they can be closed
// together on shutdown.

package session
