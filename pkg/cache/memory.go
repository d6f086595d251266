package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

const numShards = 16

// MemoryStore is an in-process Store sharded by key hash.
type MemoryStore struct {
	shards  [numShards]*shard
	version atomic.Uint64
}

type shard struct {
	mu    sync.RWMutex
	items map[string]item
}

type item struct {
	value     []byte
	version   uint64
	updatedAt time.Time
}

// NewMemoryStore creates an empty sharded store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := 0; i < numShards; i++ {
		s.shards[i] = &shard{
			items: make(map[string]item),
		}
	}
	return s
}

// getShard returns the shard for the given key.
func (s *MemoryStore) getShard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%numShards]
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	sh := s.getShard(key)
	sh.mu.RLock()
	it, ok := sh.items[key]
	sh.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{Value: cloneBytes(it.value), Version: it.version}, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	sh := s.getShard(key)
	sh.mu.Lock()
	sh.items[key] = s.newItem(value)
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	sh := s.getShard(key)
	sh.mu.Lock()
	delete(sh.items, key)
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, key string, version uint64, value []byte) (bool, error) {
	sh := s.getShard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.items[key]
	switch {
	case version == 0 && ok:
		return false, nil
	case version != 0 && (!ok || cur.version != version):
		return false, nil
	}
	sh.items[key] = s.newItem(value)
	return true, nil
}

func (s *MemoryStore) newItem(value []byte) item {
	return item{
		value:     cloneBytes(value),
		version:   s.version.Add(1),
		updatedAt: time.Now(),
	}
}

// Len returns total items across all shards.
func (s *MemoryStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.items)
		sh.mu.RUnlock()
	}
	return total
}

// Stats provides cache statistics.
type Stats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
	OldestAge   time.Duration  `json:"oldest_age"`
}

// Stats returns cache statistics.
func (s *MemoryStore) Stats() Stats {
	stats := Stats{}
	var oldest time.Time

	for i, sh := range s.shards {
		sh.mu.RLock()
		stats.ShardCounts[i] = len(sh.items)
		stats.TotalItems += len(sh.items)
		for _, it := range sh.items {
			if oldest.IsZero() || it.updatedAt.Before(oldest) {
				oldest = it.updatedAt
			}
		}
		sh.mu.RUnlock()
	}

	if !oldest.IsZero() {
		stats.OldestAge = time.Since(oldest)
	}
	return stats
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
