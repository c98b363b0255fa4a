// File: internal/session/keepalive.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"time"

	"github.com/momentics/tinyws/protocol"
)

// keepAlive pings the peer every KeepAliveInterval and closes the session
// with 1002 when no pong arrives within ConnectionTimeout.
func (s *Session) keepAlive() {
	t := time.NewTimer(s.cfg.KeepAliveInterval)
	defer t.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-t.C:
		}
		if !s.State().IsActive() {
			return
		}

		// set before the write so a fast pong is not lost
		s.waitingForPong.Store(true)
		if err := s.write(protocol.NewPingFrame()); err != nil {
			s.log.Debug("ping write failed", "error", err)
		}

		t.Reset(s.cfg.ConnectionTimeout)
		select {
		case <-s.done:
			return
		case <-t.C:
		}

		if s.waitingForPong.Load() {
			s.metrics.RecordKeepAliveFailure()
			s.log.Warn("no pong received, closing session")
			_ = s.initiateClose(protocol.CloseProtocolError, closeAwait)
			return
		}
		t.Reset(s.cfg.KeepAliveInterval)
	}
}
