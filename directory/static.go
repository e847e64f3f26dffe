package directory

import (
	"context"
	"sync"
)

// StaticClient serves profiles from memory, for standalone mode and tests.
type StaticClient struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

func NewStaticClient(profiles ...*Profile) *StaticClient {
	c := &StaticClient{profiles: make(map[string]*Profile)}
	for _, p := range profiles {
		c.profiles[p.UID] = p
	}
	return c
}

func (c *StaticClient) Put(p *Profile) {
	c.mu.Lock()
	c.profiles[p.UID] = p
	c.mu.Unlock()
}

func (c *StaticClient) FindProfile(ctx context.Context, uid string) (*Profile, error) {
	c.mu.RLock()
	p, ok := c.profiles[uid]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}
