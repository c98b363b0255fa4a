// File: protocol/handshake.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Core logic of the WebSocket handshake: parse the HTTP request, validate
// the client key, compute Sec-WebSocket-Accept and render the 101 response.

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	WebSocketKeyLen          = 24
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketAccept = "Sec-WebSocket-Accept"
	HeaderSecWebSocketVer    = "Sec-WebSocket-Version"
	HeaderSecWebSocketExt    = "Sec-WebSocket-Extensions"
	RequiredWebSocketVersion = "13"
)

// ErrBadWebSocketKey is returned when Sec-WebSocket-Key is missing or is not
// a 24 character base64 nonce.
var ErrBadWebSocketKey = errors.New("missing or malformed Sec-WebSocket-Key header")

// Extensions is the set of extensions recorded during the handshake.
type Extensions uint8

const (
	ExtPermessageDeflate Extensions = 1 << iota
)

// Has reports whether e contains ext.
func (e Extensions) Has(ext Extensions) bool {
	return e&ext != 0
}

// Names lists the recorded extension tokens.
func (e Extensions) Names() []string {
	var out []string
	if e.Has(ExtPermessageDeflate) {
		out = append(out, "permessage-deflate")
	}
	return out
}

// Negotiation is the outcome of a successful handshake.
type Negotiation struct {
	Request    *Request
	Accept     string
	Extensions Extensions
	Response   []byte
}

// ComputeAcceptKey computes the Sec-WebSocket-Accept value from the client's key.
// This implements the algorithm specified in RFC6455 Section 1.3.
func ComputeAcceptKey(clientKey string) string {
	hash := sha1.Sum([]byte(clientKey + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(hash[:])
}

// Negotiate validates the upgrade request at the start of raw and returns the
// response to send together with the number of request bytes consumed.
// Bytes past that count belong to the framing phase.
func Negotiate(raw []byte) (*Negotiation, int, error) {
	req, consumed, err := ParseRequest(raw)
	if err != nil {
		return nil, 0, err
	}

	key := req.Header(HeaderSecWebSocketKey)
	if len(key) != WebSocketKeyLen {
		return nil, 0, ErrBadWebSocketKey
	}

	var exts Extensions
	for _, ext := range req.HeaderValues(HeaderSecWebSocketExt) {
		name, _, _ := strings.Cut(ext, ";")
		if strings.EqualFold(strings.TrimSpace(name), "permessage-deflate") {
			exts |= ExtPermessageDeflate
		}
	}

	accept := ComputeAcceptKey(key)
	hdr := http.Header{
		HeaderUpgrade:            {"websocket"},
		HeaderConnection:         {"Upgrade"},
		HeaderSecWebSocketAccept: {accept},
		HeaderSecWebSocketVer:    {RequiredWebSocketVersion},
	}

	return &Negotiation{
		Request:    req,
		Accept:     accept,
		Extensions: exts,
		Response:   BuildResponse(StatusSwitchingProtocols, hdr),
	}, consumed, nil
}
