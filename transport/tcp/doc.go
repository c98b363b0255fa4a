// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp implements the listening side of tinyws: it binds a port, runs
// the accept loop, enforces the connection limit and hands each admitted
// connection to a session goroutine. Stop ends accepting only; Shutdown also
// closes the live sessions.
package tcp
