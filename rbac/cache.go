package rbac

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// decisionCache holds resolved UserContexts. Generation counters make
// invalidation race-free: a load that started before an invalidation is
// neither stored nor shared with callers that arrive after it.
type decisionCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
	userGen map[string]uint64
	gen     uint64

	group singleflight.Group
}

type cacheEntry struct {
	uc      *UserContext
	expires time.Time
}

func newDecisionCache(ttl time.Duration) *decisionCache {
	return &decisionCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		userGen: make(map[string]uint64),
	}
}

func (c *decisionCache) get(userID string, now time.Time) (*UserContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[userID]
	if !ok {
		return nil, false
	}
	if !now.Before(entry.expires) {
		delete(c.entries, userID)
		return nil, false
	}
	return entry.uc, true
}

func (c *decisionCache) load(userID string, loader func() (*UserContext, error)) (*UserContext, error) {
	c.mu.Lock()
	gen, userGen := c.gen, c.userGen[userID]
	c.mu.Unlock()

	key := userID + "#" + strconv.FormatUint(gen, 10) + "#" + strconv.FormatUint(userGen, 10)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		uc, err := loader()
		if err != nil {
			return nil, err
		}
		c.put(userID, uc, gen, userGen)
		return uc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*UserContext), nil
}

// put stores uc until the earlier of the TTL and the next scheduled
// assignment or grant expiry.
func (c *decisionCache) put(userID string, uc *UserContext, gen, userGen uint64) {
	expires := uc.ComputedAt.Add(c.ttl)
	if !uc.ValidUntil.IsZero() && uc.ValidUntil.Before(expires) {
		expires = uc.ValidUntil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.userGen[userID] != userGen {
		return
	}
	c.entries[userID] = cacheEntry{uc: uc, expires: expires}
}

func (c *decisionCache) invalidate(userID string) {
	c.mu.Lock()
	c.userGen[userID]++
	delete(c.entries, userID)
	c.mu.Unlock()
}

func (c *decisionCache) invalidateAll() {
	c.mu.Lock()
	c.gen++
	c.entries = make(map[string]cacheEntry)
	c.userGen = make(map[string]uint64)
	c.mu.Unlock()
}

func (c *decisionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
