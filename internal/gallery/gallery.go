// Package gallery keeps the bounded, newest-first history of generated images
// and persists it as one JSON blob in a durable key-value slot.
package gallery

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/hpungsan/atelier/internal/logger"
)

const (
	// MaxItems bounds the gallery. The oldest item is evicted first.
	MaxItems = 50
	// StorageKey names the durable slot holding the serialized gallery.
	StorageKey = "ai_image_gallery"
)

// Item is one completed generation. Items are immutable once created.
type Item struct {
	URL         string `json:"url"`
	OriginalURL string `json:"originalUrl"`
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	Size        string `json:"size"`
	Timestamp   int64  `json:"timestamp"`
}

// Gallery is an ordered sequence of items, newest first.
type Gallery []Item

func (g Gallery) clone() Gallery {
	out := make(Gallery, len(g))
	copy(out, g)
	return out
}

// KV is the durable slot backend (see db.KV).
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Store owns the in-memory gallery and its durable slot. In-memory state is
// authoritative for the lifetime of the Store; persistence is best effort.
type Store struct {
	kv  KV
	log *slog.Logger

	mu    sync.Mutex
	items Gallery
}

// NewStore returns an empty Store. Call Load to read the durable slot.
func NewStore(kv KV, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{kv: kv, log: log.With("component", "gallery"), items: Gallery{}}
}

// Load replaces the in-memory gallery with the durable one. An absent slot,
// malformed content, or a backend failure all yield an empty gallery.
func (s *Store) Load(ctx context.Context) Gallery {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = s.read(ctx)
	return s.items.clone()
}

func (s *Store) read(ctx context.Context) Gallery {
	raw, ok, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		s.log.Error("error loading gallery", logger.Err(err))
		return Gallery{}
	}
	if !ok || len(raw) == 0 {
		return Gallery{}
	}

	var g Gallery
	if err := json.Unmarshal(raw, &g); err != nil {
		s.log.Error("error loading gallery", logger.Err(err))
		return Gallery{}
	}
	if g == nil {
		return Gallery{}
	}
	if len(g) > MaxItems {
		g = g[:MaxItems]
	}
	return g
}

// Add prepends item, evicts past MaxItems, and persists. The returned gallery is
// a snapshot.
func (s *Store) Add(ctx context.Context, item Item) Gallery {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(Gallery, 0, min(len(s.items)+1, MaxItems))
	next = append(next, item)
	for _, it := range s.items {
		if len(next) == MaxItems {
			break
		}
		next = append(next, it)
	}
	s.items = next
	s.persistLocked(ctx, s.items)
	return s.items.clone()
}

// Clear empties the gallery. Clearing an empty gallery writes nothing.
func (s *Store) Clear(ctx context.Context) Gallery {
	s.Cleared(ctx)
	return Gallery{}
}

// Cleared is Clear that also reports how many items it removed.
func (s *Store) Cleared(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.items)
	if n == 0 {
		return 0
	}
	s.items = Gallery{}
	s.persistLocked(ctx, s.items)
	return n
}

// Persist writes g to the durable slot. Failures are logged and leave the prior
// durable state unchanged.
func (s *Store) Persist(ctx context.Context, g Gallery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked(ctx, g)
}

func (s *Store) persistLocked(ctx context.Context, g Gallery) {
	if g == nil {
		g = Gallery{}
	}
	data, err := json.Marshal(g)
	if err != nil {
		s.log.Error("error saving gallery", logger.Err(err))
		return
	}
	if err := s.kv.Set(ctx, StorageKey, data); err != nil {
		s.log.Error("error saving gallery", "items", len(g), logger.Err(err))
	}
}

// Items returns a snapshot of the current gallery.
func (s *Store) Items() Gallery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.clone()
}

// Len returns the number of items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Get returns the item at index, 0 being the newest.
func (s *Store) Get(index int) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.items) {
		return Item{}, false
	}
	return s.items[index], true
}

// MemoryKV is an in-process KV.
type MemoryKV struct {
	mu     sync.Mutex
	values map[string][]byte
	writes int
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string][]byte)}
}

// Get implements KV.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set implements KV.
func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	m.writes++
	return nil
}

// Writes returns how many Set calls succeeded.
func (m *MemoryKV) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
