package circuitbreaker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func failing(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	b := New("backend", 3, time.Second, quietLogger())

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Execute(context.Background(), failing(nil)))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := New("backend", 3, time.Minute, quietLogger())
	boom := fmt.Errorf("connection refused")

	for i := 0; i < 3; i++ {
		assert.Equal(t, boom, b.Execute(context.Background(), failing(boom)))
	}
	assert.Equal(t, StateOpen, b.State())

	// While open the guarded call is not even attempted.
	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsOpenError(err))
	assert.False(t, called)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b := New("backend", 3, time.Minute, quietLogger())
	boom := fmt.Errorf("timeout")

	_ = b.Execute(context.Background(), failing(boom))
	_ = b.Execute(context.Background(), failing(boom))
	require.NoError(t, b.Execute(context.Background(), failing(nil)))
	_ = b.Execute(context.Background(), failing(boom))
	_ = b.Execute(context.Background(), failing(boom))

	// Two failures after a success is still under the threshold.
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := New("backend", 1, 10*time.Millisecond, quietLogger())

	_ = b.Execute(context.Background(), failing(fmt.Errorf("down")))
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	// Enough successful probes close the breaker.
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Execute(context.Background(), failing(nil)))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := New("backend", 1, 10*time.Millisecond, quietLogger())

	_ = b.Execute(context.Background(), failing(fmt.Errorf("down")))
	time.Sleep(20 * time.Millisecond)

	_ = b.Execute(context.Background(), failing(fmt.Errorf("still down")))
	assert.Equal(t, StateOpen, b.State())
}

func TestIsOpenError(t *testing.T) {
	assert.False(t, IsOpenError(nil))
	assert.False(t, IsOpenError(fmt.Errorf("ordinary")))
	assert.True(t, IsOpenError(&OpenError{Name: "backend", RetryIn: time.Second}))

	wrapped := fmt.Errorf("send: %w", &OpenError{Name: "backend", RetryIn: time.Second})
	assert.True(t, IsOpenError(wrapped))
}
