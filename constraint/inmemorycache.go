package constraint

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemoryCache is a thread-safe in-process CacheClient. It backs tests
// and single-node deployments where no external cache is configured.
type InMemoryCache struct {
	mu        sync.RWMutex
	values    map[string]string
	sets      map[string]map[string]struct{}
	published map[string][]string
}

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		values:    make(map[string]string),
		sets:      make(map[string]map[string]struct{}),
		published: make(map[string][]string),
	}
}

func (c *InMemoryCache) Set(ctx context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *InMemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *InMemoryCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var keys []string
	for k := range c.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *InMemoryCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.values {
		if strings.HasPrefix(k, prefix) {
			delete(c.values, k)
		}
	}
	for k := range c.sets {
		if strings.HasPrefix(k, prefix) {
			delete(c.sets, k)
		}
	}
	return nil
}

func (c *InMemoryCache) AddToSet(ctx context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sets[key]
	if !ok {
		set = make(map[string]struct{})
		c.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (c *InMemoryCache) SetMembers(ctx context.Context, key string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.sets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

func (c *InMemoryCache) Publish(ctx context.Context, channel, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published[channel] = append(c.published[channel], message)
	return nil
}

// Published returns the messages sent on a channel, oldest first. Test
// hook; a networked cache would deliver to subscribers instead.
func (c *InMemoryCache) Published(channel string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.published[channel]))
	copy(out, c.published[channel])
	return out
}
