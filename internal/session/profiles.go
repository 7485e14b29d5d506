package session

import (
	"context"
	"sync"

	"studychat/internal/constants"
	"studychat/internal/models"
	"studychat/pkg/chatapi"

	"github.com/sirupsen/logrus"
)

// ProfileCache resolves sender ids to display identities, used in group
// conversations where the sender is not the single known participant.
// It is scoped to one session: populated lazily, never invalidated
// within the session's lifetime. A profile change mid-session is
// acceptable staleness.
type ProfileCache struct {
	api    chatapi.Client
	logger *logrus.Logger

	mu       sync.Mutex
	profiles map[string]*models.Profile
}

// NewProfileCache creates an empty cache backed by the given client.
func NewProfileCache(api chatapi.Client, logger *logrus.Logger) *ProfileCache {
	return &ProfileCache{
		api:      api,
		logger:   logger,
		profiles: make(map[string]*models.Profile),
	}
}

// Get returns the cached profile, fetching it on first use. A fetch
// failure is not cached so a later call may still succeed.
func (c *ProfileCache) Get(ctx context.Context, userID string) *models.Profile {
	c.mu.Lock()
	if p, ok := c.profiles[userID]; ok {
		c.mu.Unlock()
		return p
	}
	c.mu.Unlock()

	profile, err := c.api.GetProfile(ctx, userID)
	if err != nil {
		c.logger.WithError(err).WithField("user", userID).Debug("Profile lookup failed")
		return nil
	}

	c.mu.Lock()
	// Bounded so a pathological group cannot grow the cache without
	// limit; past the cap lookups still work, they just aren't cached.
	if len(c.profiles) < constants.DefaultProfileCacheMaxEntries {
		c.profiles[userID] = profile
	}
	c.mu.Unlock()
	return profile
}

// DisplayName resolves a sender id to its display name, falling back to
// the raw id when the profile is unavailable.
func (c *ProfileCache) DisplayName(ctx context.Context, userID string) string {
	if profile := c.Get(ctx, userID); profile != nil {
		return profile.GetDisplayName()
	}
	return userID
}
