//go:build !linux
// +build !linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp - socket option stubs for non-Linux platforms.

package tcp

import (
	"errors"
	"syscall"
)

func (l *Listener) control(_, _ string, _ syscall.RawConn) error {
	return nil
}

// setCPUAffinity is not implemented outside Linux.
func setCPUAffinity(int) error {
	return errors.New("CPU affinity not supported on this platform")
}
