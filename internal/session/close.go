// File: internal/session/close.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Close handshake, both directions.

package session

import (
	"sync/atomic"
	"time"

	"github.com/momentics/tinyws/api"
	"github.com/momentics/tinyws/control"
	"github.com/momentics/tinyws/protocol"
)

// closeMode selects what initiateClose does after the Close frame is sent.
type closeMode int

const (
	// closeAwait blocks until the peer acknowledged or the timeout elapsed.
	closeAwait closeMode = iota
	// closeDeferred returns at once; the read loop sees the acknowledgment
	// and a timer force-closes the socket if it never comes.
	closeDeferred
	// closeNow closes the socket right after the frame.
	closeNow
)

// Close runs the locally-initiated close handshake with the recorded status
// and waits for the peer's acknowledgment up to the connection timeout.
func (s *Session) Close() error {
	return s.initiateClose(0, closeAwait)
}

// CloseWithStatus is Close with an explicit status code.
func (s *Session) CloseWithStatus(code uint16) error {
	return s.initiateClose(code, closeAwait)
}

// callbackSession is the view handed to handler callbacks. The read
// goroutine cannot wait for an acknowledgment it would have to read itself,
// so Close through it is deferred while the callback runs.
type callbackSession struct {
	*Session
	running atomic.Bool
}

func (c *callbackSession) Close() error {
	return c.initiateClose(0, c.mode())
}

func (c *callbackSession) CloseWithStatus(code uint16) error {
	return c.initiateClose(code, c.mode())
}

func (c *callbackSession) mode() closeMode {
	if c.running.Load() {
		return closeDeferred
	}
	return closeAwait
}

// initiateClose sends Close with code (zero keeps the recorded status) and
// moves to Closing. A session still in the handshake is dropped without a
// frame; one already Closing is not sent a second Close.
func (s *Session) initiateClose(code uint16, mode closeMode) error {
	s.mu.Lock()
	switch st := s.state; {
	case st == WaitingForHandshake:
		s.mu.Unlock()
		s.terminate()
		return nil
	case st == Closing:
		s.mu.Unlock()
		if mode == closeAwait {
			s.awaitDone()
		}
		return nil
	case st == Disconnected:
		s.mu.Unlock()
		return api.ErrSessionClosed
	}

	if code != 0 {
		s.closeStatus = code
	}
	status := s.closeStatus
	s.state = Closing
	err := s.write(protocol.NewCloseFrame(status))
	s.mu.Unlock()

	s.metrics.RecordClose(control.InitiatorLocal, status)
	s.log.Debug("close sent", "status", status)

	switch {
	case err != nil || mode == closeNow:
		s.terminate()
	case mode == closeDeferred:
		time.AfterFunc(s.cfg.ConnectionTimeout, s.terminate)
	default:
		s.awaitDone()
	}
	return err
}

// closeFromPeer handles a received Close. In an active state it records the
// peer's status and echoes 1000; in Closing it is the acknowledgment.
func (s *Session) closeFromPeer(payload []byte) {
	code, hasCode := protocol.CloseCode(payload)

	s.mu.Lock()
	prev := s.state
	if prev == Disconnected {
		s.mu.Unlock()
		return
	}
	if prev != Closing {
		if hasCode {
			s.closeStatus = code
		}
		s.state = Closing
		if err := s.write(protocol.NewCloseFrame(protocol.CloseNormalClosure)); err != nil {
			s.log.Debug("close echo failed", "error", err)
		}
	}
	status := s.closeStatus
	s.mu.Unlock()

	if prev == Closing {
		s.log.Debug("close acknowledged by peer")
	} else {
		s.metrics.RecordClose(control.InitiatorPeer, status)
		s.log.Debug("close received", "status", status)
	}
	s.terminate()
}

func (s *Session) awaitDone() {
	t := time.NewTimer(s.cfg.ConnectionTimeout)
	defer t.Stop()
	select {
	case <-s.done:
	case <-t.C:
		s.log.Debug("close handshake timed out")
		s.terminate()
	}
}

// terminate moves to Disconnected, closes the socket and signals done.
func (s *Session) terminate() {
	s.mu.Lock()
	s.state = Disconnected
	s.mu.Unlock()
	s.doneOnce.Do(func() {
		_ = s.conn.Close()
		close(s.done)
	})
}
