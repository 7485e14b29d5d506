package session

import (
	"context"
	"fmt"
	"testing"

	"studychat/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestProfileCacheFetchesOnce(t *testing.T) {
	api := &mockAPI{}
	api.On("GetProfile", mock.Anything, "bob").
		Return(&models.Profile{UserID: "bob", DisplayName: "Bob K."}, nil).Once()

	cache := NewProfileCache(api, logrus.New())

	first := cache.Get(context.Background(), "bob")
	require.NotNil(t, first)
	assert.Equal(t, "Bob K.", first.DisplayName)

	// Second lookup is served from the cache; the mock allows one call.
	second := cache.Get(context.Background(), "bob")
	assert.Same(t, first, second)
	api.AssertExpectations(t)
}

func TestProfileCacheDoesNotCacheFailures(t *testing.T) {
	api := &mockAPI{}
	api.On("GetProfile", mock.Anything, "bob").
		Return(nil, fmt.Errorf("backend down")).Once()
	api.On("GetProfile", mock.Anything, "bob").
		Return(&models.Profile{UserID: "bob", DisplayName: "Bob K."}, nil).Once()

	cache := NewProfileCache(api, logrus.New())

	assert.Nil(t, cache.Get(context.Background(), "bob"))
	profile := cache.Get(context.Background(), "bob")
	require.NotNil(t, profile)
	assert.Equal(t, "Bob K.", profile.DisplayName)
}

func TestDisplayNameFallsBackToID(t *testing.T) {
	api := &mockAPI{}
	api.On("GetProfile", mock.Anything, "ghost").
		Return(nil, fmt.Errorf("not found"))

	cache := NewProfileCache(api, logrus.New())
	assert.Equal(t, "ghost", cache.DisplayName(context.Background(), "ghost"))
}
