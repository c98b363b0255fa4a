// Package pool
// Author: momentics <momentics@gmail.com>
//
// Reusable memory for the connection layer. Sessions borrow their socket
// read buffer from a shared BytePool for the lifetime of the connection.
package pool
