// File: internal/session/state.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

// State is the lifecycle position of a session.
type State int32

const (
	WaitingForHandshake State = iota
	Connected
	InDataPayload
	Closing
	Disconnected
)

// IsActive reports whether the session exchanges data frames.
func (s State) IsActive() bool {
	return s == Connected || s == InDataPayload
}

func (s State) String() string {
	switch s {
	case WaitingForHandshake:
		return "waiting_for_handshake"
	case Connected:
		return "connected"
	case InDataPayload:
		return "in_data_payload"
	case Closing:
		return "closing"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
