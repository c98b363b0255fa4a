package api_test

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/tinyws/api"
)

func TestErrorFormatting(t *testing.T) {
	err := api.NewError(api.ErrCodeBindFailed, "bind failed").
		WithContext("port", 3000).
		Wrap(io.ErrUnexpectedEOF)

	assert.Equal(t, "bind failed: unexpected EOF (context: map[port:3000])", err.Error())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	var apiErr *api.Error
	assert.True(t, errors.As(error(err), &apiErr))
	assert.Equal(t, "bind_failed", apiErr.Code.String())

	plain := &api.Error{Code: api.ErrCodeTimeout, Message: "slow"}
	assert.Equal(t, "slow", plain.Error())
	assert.Equal(t, 1, len(plain.WithContext("k", "v").Context))
}

func TestErrorCodeNames(t *testing.T) {
	names := map[api.ErrorCode]string{
		api.ErrCodeOK:              "ok",
		api.ErrCodeInvalidArgument: "invalid_argument",
		api.ErrCodeAcceptFailed:    "accept_failed",
		api.ErrCodeTimeout:         "timeout",
		api.ErrCodeInternal:        "internal",
	}
	for code, want := range names {
		assert.Equal(t, want, code.String())
	}
}

func TestHandlerFuncsSkipsNil(t *testing.T) {
	var h api.Handler = api.HandlerFuncs{}
	assert.NotPanics(t, func() {
		h.OnOpen(nil)
		h.OnMessage(nil, "ignored")
		h.OnClose(nil, 1000)
	})

	var got string
	h = api.HandlerFuncs{Message: func(_ api.Session, text string) { got = text }}
	h.OnMessage(nil, "hi")
	assert.Equal(t, "hi", got)

	var code uint16
	h = api.HandlerFuncs{Close: func(_ api.Session, c uint16) { code = c }}
	h.OnClose(nil, 1001)
	assert.EqualValues(t, 1001, code)
}
