package cache

import (
	"context"
	"time"

	"github.com/coocood/freecache"
	"github.com/pkg/errors"
)

// FreeCacheStoreOptions freecache 缓存配置
type FreeCacheStoreOptions struct {
	// Size 缓存的总字节数，freecache 预分配该大小的内存
	Size int `cfg:"size" def:"33554432" validate:"gt=0"`
	// DefaultTTL 条目的默认存活时间，0 表示不过期
	DefaultTTL time.Duration `cfg:"defaultTTL" def:"5m"`
}

// FreeCacheStore 基于 freecache 的零 GC 压力缓存，
// 键和值都经过序列化后存储
type FreeCacheStore[K comparable, V any] struct {
	cache         *freecache.Cache
	defaultTTL    time.Duration
	keySerializer Serializer[K]
	valSerializer Serializer[V]
}

func NewFreeCacheStoreWithOptions[K comparable, V any](options *FreeCacheStoreOptions) (*FreeCacheStore[K, V], error) {
	if options.Size <= 0 {
		return nil, errors.New("size must be positive")
	}
	return &FreeCacheStore[K, V]{
		cache:         freecache.NewCache(options.Size),
		defaultTTL:    options.DefaultTTL,
		keySerializer: &MsgPackSerializer[K]{},
		valSerializer: &MsgPackSerializer[V]{},
	}, nil
}

func (s *FreeCacheStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := &setOptions{}
	for _, opt := range opts {
		opt(options)
	}

	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return err
	}
	valBytes, err := s.valSerializer.Serialize(value)
	if err != nil {
		return err
	}

	if options.IfNotExist {
		if _, err := s.cache.Get(keyBytes); err == nil {
			return ErrConditionFailed
		}
	}

	expiration := options.Expiration
	if expiration == 0 {
		expiration = s.defaultTTL
	}
	return s.cache.Set(keyBytes, valBytes, int(expiration.Seconds()))
}

func (s *FreeCacheStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return zero, err
	}
	valBytes, err := s.cache.Get(keyBytes)
	if err != nil {
		return zero, ErrKeyNotFound
	}
	return s.valSerializer.Deserialize(valBytes)
}

func (s *FreeCacheStore[K, V]) Del(ctx context.Context, key K) error {
	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return err
	}
	s.cache.Del(keyBytes)
	return nil
}

func (s *FreeCacheStore[K, V]) Close() error {
	s.cache.Clear()
	return nil
}
