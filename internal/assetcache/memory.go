package assetcache

import (
	"context"
	"sync"
)

// MemoryStorage is an in-process Storage. It backs tests and runs where no
// database is available.
type MemoryStorage struct {
	mu        sync.Mutex
	order     []string
	caches    map[string]*memoryCache
	installed map[string]bool
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		caches:    make(map[string]*memoryCache),
		installed: make(map[string]bool),
	}
}

// Open implements Storage.
func (s *MemoryStorage) Open(_ context.Context, name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		c = &memoryCache{entries: make(map[string]*Response)}
		s.caches[name] = c
		s.order = append(s.order, name)
	}
	return c, nil
}

// Keys implements Storage.
func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

// Delete implements Storage.
func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		return false, nil
	}
	delete(s.caches, name)
	delete(s.installed, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// MarkInstalled implements Storage.
func (s *MemoryStorage) MarkInstalled(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installed[name] = true
	return nil
}

// Installed implements Storage.
func (s *MemoryStorage) Installed(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installed[name], nil
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Response
}

func (c *memoryCache) Match(_ context.Context, key string) (*Response, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[key]
	return r, ok, nil
}

func (c *memoryCache) Put(_ context.Context, key string, resp *Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = resp
	return nil
}

func (c *memoryCache) PutAll(_ context.Context, entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.entries[e.Key] = e.Response
	}
	return nil
}

func (c *memoryCache) Len(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}
