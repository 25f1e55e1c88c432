package directory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/taskhive/realtime/internal/log"
	"github.com/taskhive/realtime/teams"
)

type cachedImpl struct {
	next   teams.Directory
	cache  *expirable.LRU[string, []teams.Member]
	sf     singleflight.Group
	logger *log.Logger
}

// NewCached wraps next with a short-TTL membership cache. Concurrent lookups
// for the same team collapse into one upstream call. The TTL bounds how stale
// a live privilege check can be.
func NewCached(next teams.Directory, size int, ttl time.Duration, logger *log.Logger) teams.Directory {
	return &cachedImpl{
		next:   next,
		cache:  expirable.NewLRU[string, []teams.Member](size, nil, ttl),
		logger: logger,
	}
}

func (c *cachedImpl) Members(ctx context.Context, teamID string) ([]teams.Member, error) {
	if members, ok := c.cache.Get(teamID); ok {
		return members, nil
	}

	result, err, _ := c.sf.Do(teamID, func() (any, error) {
		// re-check under the flight: a concurrent caller may have filled it
		if members, ok := c.cache.Get(teamID); ok {
			return members, nil
		}
		members, err := c.next.Members(ctx, teamID)
		if err != nil {
			return nil, err
		}
		c.cache.Add(teamID, members)
		c.logger.Debug("team membership refreshed",
			log.String("team_id", teamID),
			log.Int("members", len(members)))
		return members, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]teams.Member), nil
}
