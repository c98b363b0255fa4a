// File: protocol/request.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Minimal HTTP request extraction for the upgrade handshake. Only the header
// block is parsed; the byte count consumed is reported so that frame bytes
// sent in the same segment are not lost.

package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// MaxHandshakeSize bounds the request line plus header block.
const MaxHandshakeSize = 8192

var (
	ErrIncompleteRequest = errors.New("incomplete HTTP request header")
	ErrHandshakeTooLarge = errors.New("handshake headers too large")
	ErrMalformedRequest  = errors.New("malformed HTTP request")
)

// Request is the parsed upgrade request.
type Request struct {
	Method string
	Target string
	Proto  string
	header http.Header
}

// Header returns the first value of name, looked up case-insensitively.
func (r *Request) Header(name string) string {
	return r.header.Get(name)
}

// HeaderValues returns all comma-separated tokens of name, trimmed.
func (r *Request) HeaderValues(name string) []string {
	var out []string
	for _, v := range r.header.Values(name) {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// ParseRequest parses the header block at the start of raw and returns the
// request plus the number of bytes it occupied (terminating blank line included).
func ParseRequest(raw []byte) (*Request, int, error) {
	end := headerEnd(raw)
	if end < 0 {
		if len(raw) > MaxHandshakeSize {
			return nil, 0, ErrHandshakeTooLarge
		}
		return nil, 0, ErrIncompleteRequest
	}
	if end > MaxHandshakeSize {
		return nil, 0, ErrHandshakeTooLarge
	}

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw[:end])))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return &Request{
		Method: req.Method,
		Target: req.RequestURI,
		Proto:  req.Proto,
		header: req.Header,
	}, end, nil
}

// headerEnd returns the offset just past the blank line ending the header
// block, accepting bare LF line endings as well, or -1.
func headerEnd(raw []byte) int {
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	lf := bytes.Index(raw, []byte("\n\n"))
	switch {
	case crlf < 0 && lf < 0:
		return -1
	case lf < 0 || (crlf >= 0 && crlf < lf):
		return crlf + 4
	default:
		return lf + 2
	}
}
