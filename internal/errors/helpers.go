package errors

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// NewAPIError creates an error for a backend REST call. Not-found is the
// distinguished outcome the session uses to trigger conversation
// creation; server-side and throttling failures are marked retryable.
func NewAPIError(operation, endpoint string, statusCode int, err error) *AppError {
	var code ErrorCode
	switch operation {
	case "history":
		code = ErrCodeHistoryAPI
	case "send":
		code = ErrCodeSendAPI
	case "resolve", "profile":
		code = ErrCodeResolveAPI
	default:
		code = ErrCodeInternalError
	}
	if statusCode == http.StatusNotFound {
		code = ErrCodeNotFound
	}

	appErr := Wrap(err, code, fmt.Sprintf("%s request failed", operation)).
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)

	if statusCode >= 500 || statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout {
		appErr.Retryable = true
	}
	return appErr
}

// NewTimeoutError creates a timeout error for an operation that exceeded
// its deadline.
func NewTimeoutError(operation string, err error) *AppError {
	appErr := Wrap(err, ErrCodeTimeout, fmt.Sprintf("%s timed out", operation)).
		WithContext("operation", operation).
		WithUserMessage("The server took too long to respond")
	appErr.Retryable = true
	return appErr
}

// NewChannelError creates an error for the live push channel.
func NewChannelError(message string, err error) *AppError {
	return Wrap(err, ErrCodeChannel, message)
}

// NewStoreError creates an error for the local archive.
func NewStoreError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeStore, fmt.Sprintf("store %s failed", operation)).
		WithContext("operation", operation)
}

// LogError logs an error with its structured context attached.
func LogError(logger *logrus.Logger, err error, message string) {
	entry := logger.WithError(err)
	if appErr, ok := err.(*AppError); ok {
		entry = entry.WithFields(logrus.Fields{
			"error_code": appErr.Code,
			"retryable":  appErr.Retryable,
		})
		for k, v := range appErr.Context {
			entry = entry.WithField(k, v)
		}
	}
	entry.Error(message)
}
