package errors

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	// Verify all expected error codes exist
	codes := []string{
		ErrConfig,
		ErrConnect,
		ErrExec,
		ErrParse,
		ErrCollect,
		ErrServer,
	}

	for _, code := range codes {
		assert.NotEmpty(t, code, "error code should not be empty")
	}

	// Verify codes are unique
	seen := make(map[string]bool)
	for _, code := range codes {
		assert.False(t, seen[code], "error code %q should be unique", code)
		seen[code] = true
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		message    string
		suggestion string
	}{
		{
			name:       "config error",
			code:       ErrConfig,
			message:    "Profile is missing a hostname",
			suggestion: "Set hostname in the connection profile",
		},
		{
			name:       "connect error",
			code:       ErrConnect,
			message:    "Cannot reach 10.0.0.5:22",
			suggestion: "Check the host is up and the port is open",
		},
		{
			name:       "exec error",
			code:       ErrExec,
			message:    "Remote command failed with exit code 1",
			suggestion: "Check the command exists on the remote host",
		},
		{
			name:       "parse error",
			code:       ErrParse,
			message:    "Unexpected /proc/stat format",
			suggestion: "Verify the remote host is running Linux",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, tt.suggestion)

			require.NotNil(t, err)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.message, err.Message)
			assert.Equal(t, tt.suggestion, err.Suggestion)
			assert.Nil(t, err.Cause)
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	err := New(ErrConnect, "Connection failed", "Try again")

	errStr := err.Error()
	assert.Contains(t, errStr, "✗")
	assert.Contains(t, errStr, "Connection failed")
	assert.Contains(t, errStr, "Try again")
}

func TestErrorFormattingWithCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := WrapWithCode(cause, ErrConnect, "Can't reach host", "Check the port")

	errStr := err.Error()
	assert.Contains(t, errStr, "Can't reach host")
	assert.Contains(t, errStr, "connection refused")
	assert.Contains(t, errStr, "Check the port")

	// Message comes first, then cause, then suggestion
	msgIdx := strings.Index(errStr, "Can't reach host")
	causeIdx := strings.Index(errStr, "connection refused")
	sugIdx := strings.Index(errStr, "Check the port")
	assert.Less(t, msgIdx, causeIdx)
	assert.Less(t, causeIdx, sugIdx)
}

func TestWrapDefaultsToCollect(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, "Collection failed")

	assert.Equal(t, ErrCollect, err.Code)
	assert.Equal(t, cause, err.Cause)
}

func TestUnwrap(t *testing.T) {
	sentinel := errors.New("root cause")
	err := WrapWithCode(sentinel, ErrExec, "wrapper", "")

	assert.True(t, errors.Is(err, sentinel))

	var structured *Error
	assert.True(t, errors.As(error(err), &structured))
	assert.Equal(t, ErrExec, structured.Code)
}

func TestIsCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
		want bool
	}{
		{
			name: "matching code",
			err:  New(ErrConfig, "msg", ""),
			code: ErrConfig,
			want: true,
		},
		{
			name: "non-matching code",
			err:  New(ErrConfig, "msg", ""),
			code: ErrConnect,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			code: ErrConfig,
			want: false,
		},
		{
			name: "plain error",
			err:  errors.New("plain"),
			code: ErrConfig,
			want: false,
		},
		{
			name: "wrapped structured error",
			err:  WrapWithCode(New(ErrParse, "inner", ""), ErrCollect, "outer", ""),
			code: ErrCollect,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCode(tt.err, tt.code))
		})
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, ErrParse, Code(New(ErrParse, "msg", "")))
	assert.Equal(t, ErrCollect, Code(errors.New("plain")))
}
