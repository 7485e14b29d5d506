package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorError(t *testing.T) {
	err := New(ErrCodeChannel, "channel broke")
	assert.Contains(t, err.Error(), "channel broke")

	cause := fmt.Errorf("connection reset")
	wrapped := Wrap(cause, ErrCodeChannel, "channel broke")
	assert.Contains(t, wrapped.Error(), "connection reset")
	assert.Equal(t, cause, wrapped.Unwrap())
}

func TestErrorsAsThroughWrapping(t *testing.T) {
	inner := New(ErrCodeNotFound, "conversation not found")
	outer := fmt.Errorf("loading history: %w", inner)

	assert.True(t, IsNotFound(outer))
	assert.Equal(t, ErrCodeNotFound, GetCode(outer))
}

func TestGetCodeFallback(t *testing.T) {
	assert.Equal(t, ErrCodeInternalError, GetCode(fmt.Errorf("plain error")))
	assert.Equal(t, ErrCodeInternalError, GetCode(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
	assert.False(t, IsRetryable(New(ErrCodeSendAPI, "rejected")))

	err := New(ErrCodeSendAPI, "throttled")
	err.Retryable = true
	assert.True(t, IsRetryable(err))
}

func TestGetUserMessage(t *testing.T) {
	assert.Equal(t, "Something went wrong, please try again", GetUserMessage(fmt.Errorf("raw")))

	err := New(ErrCodeHistoryAPI, "backend 500").WithUserMessage("Could not load messages")
	assert.Equal(t, "Could not load messages", GetUserMessage(err))
}

func TestNewAPIError(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		status    int
		wantCode  ErrorCode
		retryable bool
	}{
		{"history server error", "history", http.StatusInternalServerError, ErrCodeHistoryAPI, true},
		{"send throttled", "send", http.StatusTooManyRequests, ErrCodeSendAPI, true},
		{"resolve rejected", "resolve", http.StatusBadRequest, ErrCodeResolveAPI, false},
		{"profile lookup", "profile", http.StatusBadGateway, ErrCodeResolveAPI, true},
		{"not found wins over operation", "history", http.StatusNotFound, ErrCodeNotFound, false},
		{"unknown operation", "sync", http.StatusInternalServerError, ErrCodeInternalError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewAPIError(tt.operation, "https://x/api", tt.status, fmt.Errorf("boom"))
			assert.Equal(t, tt.wantCode, GetCode(err))
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestNewTimeoutError(t *testing.T) {
	err := NewTimeoutError("history", fmt.Errorf("deadline exceeded"))
	assert.Equal(t, ErrCodeTimeout, GetCode(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "The server took too long to respond", GetUserMessage(err))
}

func TestLogErrorIncludesContext(t *testing.T) {
	logger, hook := test.NewNullLogger()

	err := New(ErrCodeStore, "write failed").WithContext("operation", "save")
	LogError(logger, err, "Archive write failed")

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "Archive write failed", entry.Message)
	assert.Equal(t, "save", entry.Data["operation"])
}
