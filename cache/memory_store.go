package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryStoreOptions 进程内缓存配置
type MemoryStoreOptions struct {
	// Capacity 最大条目数，超过时按 LRU 淘汰
	Capacity int `cfg:"capacity" def:"10000" validate:"gt=0"`
	// DefaultTTL 条目的默认存活时间，0 表示不过期
	DefaultTTL time.Duration `cfg:"defaultTTL" def:"5m"`
	// SweepInterval 过期清理周期
	SweepInterval time.Duration `cfg:"sweepInterval" def:"1m"`
}

type memoryEntry[K comparable, V any] struct {
	key      K
	value    V
	expireAt time.Time
}

// MemoryStore 进程内 LRU 缓存，过期条目由后台清理协程定期回收
type MemoryStore[K comparable, V any] struct {
	opts *MemoryStoreOptions

	mu       sync.Mutex
	entries  map[K]*list.Element
	eviction *list.List

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryStoreWithOptions[K comparable, V any](options *MemoryStoreOptions) (*MemoryStore[K, V], error) {
	if options.Capacity <= 0 {
		options.Capacity = 10000
	}
	s := &MemoryStore[K, V]{
		opts:     options,
		entries:  make(map[K]*list.Element),
		eviction: list.New(),
		stop:     make(chan struct{}),
	}

	interval := options.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	go s.sweep(interval)

	return s, nil
}

func (s *MemoryStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := &setOptions{}
	for _, opt := range opts {
		opt(options)
	}

	expiration := options.Expiration
	if expiration == 0 {
		expiration = s.opts.DefaultTTL
	}
	var expireAt time.Time
	if expiration > 0 {
		expireAt = time.Now().Add(expiration)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		entry := elem.Value.(*memoryEntry[K, V])
		if options.IfNotExist && !expired(entry.expireAt) {
			return ErrConditionFailed
		}
		entry.value = value
		entry.expireAt = expireAt
		s.eviction.MoveToFront(elem)
		return nil
	}

	s.entries[key] = s.eviction.PushFront(&memoryEntry[K, V]{key: key, value: value, expireAt: expireAt})
	if len(s.entries) > s.opts.Capacity {
		s.evictOldest()
	}
	return nil
}

func (s *MemoryStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return zero, ErrKeyNotFound
	}
	entry := elem.Value.(*memoryEntry[K, V])
	if expired(entry.expireAt) {
		s.removeElement(elem)
		return zero, ErrKeyNotFound
	}
	s.eviction.MoveToFront(elem)
	return entry.value, nil
}

func (s *MemoryStore[K, V]) Del(ctx context.Context, key K) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.removeElement(elem)
	}
	return nil
}

// Len 当前条目数，包含尚未清理的过期条目
func (s *MemoryStore[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore[K, V]) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore[K, V]) evictOldest() {
	if elem := s.eviction.Back(); elem != nil {
		s.removeElement(elem)
	}
}

func (s *MemoryStore[K, V]) removeElement(elem *list.Element) {
	s.eviction.Remove(elem)
	delete(s.entries, elem.Value.(*memoryEntry[K, V]).key)
}

func (s *MemoryStore[K, V]) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		for elem := s.eviction.Back(); elem != nil; {
			prev := elem.Prev()
			if expired(elem.Value.(*memoryEntry[K, V]).expireAt) {
				s.removeElement(elem)
			}
			elem = prev
		}
		s.mu.Unlock()
	}
}

func expired(expireAt time.Time) bool {
	return !expireAt.IsZero() && time.Now().After(expireAt)
}
