// File: api/handler.go
// Package api defines the application callback contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Handler receives session lifecycle and message events.
// Calls for one session are made from that session's read goroutine,
// in the order the frames arrived.
type Handler interface {
	// OnOpen is called once the upgrade handshake succeeded.
	OnOpen(s Session)
	// OnMessage is called once per complete (reassembled) text message.
	OnMessage(s Session, text string)
	// OnClose is called once the session reached Disconnected, with the
	// status recorded for the close handshake. Only sessions that were
	// opened are closed.
	OnClose(s Session, code uint16)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Open    func(s Session)
	Message func(s Session, text string)
	Close   func(s Session, code uint16)
}

// OnOpen implements Handler.
func (h HandlerFuncs) OnOpen(s Session) {
	if h.Open != nil {
		h.Open(s)
	}
}

// OnMessage implements Handler.
func (h HandlerFuncs) OnMessage(s Session, text string) {
	if h.Message != nil {
		h.Message(s, text)
	}
}

// OnClose implements Handler.
func (h HandlerFuncs) OnClose(s Session, code uint16) {
	if h.Close != nil {
		h.Close(s, code)
	}
}

var _ Handler = HandlerFuncs{}
