package cache

import (
	"strings"
	"time"

	"github.com/engineerpark/cdulog/internal/identity"
)

const defaultActorTTL = 30 * time.Second

// ActorCache holds directory lookups for bearer-token subjects so every
// request does not hit the user table.
type ActorCache interface {
	Get(subject string) (identity.Actor, bool)
	Set(subject string, actor identity.Actor)
	Invalidate(subject string)
}

type actorCache struct {
	actors Cache[string, identity.Actor]
	ttl    time.Duration
}

func NewActorCache() ActorCache {
	return &actorCache{
		actors: NewTTLCache[string, identity.Actor](),
		ttl:    defaultActorTTL,
	}
}

func (c *actorCache) Get(subject string) (identity.Actor, bool) {
	return c.actors.Get(cacheKey(subject))
}

func (c *actorCache) Set(subject string, actor identity.Actor) {
	if actor.ID == "" {
		return
	}
	c.actors.Set(cacheKey(subject), actor, c.ttl)
}

func (c *actorCache) Invalidate(subject string) {
	c.actors.Delete(cacheKey(subject))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
