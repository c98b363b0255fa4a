// File: protocol/handshake_serializer.go
// Package protocol
// Helper functions to serialize handshake HTTP responses.
package protocol

import (
	"bytes"
	"net/http"
)

// Status lines used by the upgrade handshake.
const (
	StatusSwitchingProtocols = "HTTP/1.1 101 Switching Protocols"
)

// BuildResponse renders a status line followed by hdr and the blank line.
// Header keys are written in sorted order.
func BuildResponse(statusLine string, hdr http.Header) []byte {
	var buf bytes.Buffer
	buf.WriteString(statusLine)
	buf.WriteString("\r\n")
	_ = hdr.Write(&buf)
	buf.WriteString("\r\n")
	return buf.Bytes()
}
