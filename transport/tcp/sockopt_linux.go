//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp - Linux socket options and CPU affinity.

package tcp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// control applies listening socket options before bind.
func (l *Listener) control(_, _ string, c syscall.RawConn) error {
	if !l.cfg.ReuseAddr {
		return nil
	}
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

// setCPUAffinity pins the current OS thread to cpu. The caller must hold
// runtime.LockOSThread.
func setCPUAffinity(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
