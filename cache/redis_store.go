package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStoreOptions redis 缓存配置
type RedisStoreOptions struct {
	Addr     string `cfg:"addr" def:"localhost:6379" validate:"required"`
	Password string `cfg:"password"`
	DB       int    `cfg:"db" def:"0"`
	// KeyPrefix 所有键的公共前缀，用于多应用共享实例时隔离
	KeyPrefix string `cfg:"keyPrefix"`
	// DefaultTTL 条目的默认存活时间，0 表示不过期
	DefaultTTL time.Duration `cfg:"defaultTTL" def:"5m"`
	// DialTimeout 建连超时
	DialTimeout time.Duration `cfg:"dialTimeout" def:"3s"`
}

// RedisStore 跨进程共享的缓存，多实例部署时保证缓存视图一致
type RedisStore[K comparable, V any] struct {
	client        *redis.Client
	opts          *RedisStoreOptions
	keySerializer Serializer[K]
	valSerializer Serializer[V]
}

func NewRedisStoreWithOptions[K comparable, V any](options *RedisStoreOptions) (*RedisStore[K, V], error) {
	client := redis.NewClient(&redis.Options{
		Addr:        options.Addr,
		Password:    options.Password,
		DB:          options.DB,
		DialTimeout: options.DialTimeout,
	})

	return &RedisStore[K, V]{
		client:        client,
		opts:          options,
		keySerializer: &MsgPackSerializer[K]{},
		valSerializer: &MsgPackSerializer[V]{},
	}, nil
}

func (s *RedisStore[K, V]) redisKey(key K) (string, error) {
	buf, err := s.keySerializer.Serialize(key)
	if err != nil {
		return "", err
	}
	return s.opts.KeyPrefix + string(buf), nil
}

func (s *RedisStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := &setOptions{}
	for _, opt := range opts {
		opt(options)
	}

	rk, err := s.redisKey(key)
	if err != nil {
		return err
	}
	valBytes, err := s.valSerializer.Serialize(value)
	if err != nil {
		return err
	}

	expiration := options.Expiration
	if expiration == 0 {
		expiration = s.opts.DefaultTTL
	}

	if options.IfNotExist {
		ok, err := s.client.SetNX(ctx, rk, valBytes, expiration).Result()
		if err != nil {
			return errors.WithMessage(err, "redis.SetNX failed")
		}
		if !ok {
			return ErrConditionFailed
		}
		return nil
	}

	if err := s.client.Set(ctx, rk, valBytes, expiration).Err(); err != nil {
		return errors.WithMessage(err, "redis.Set failed")
	}
	return nil
}

func (s *RedisStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	rk, err := s.redisKey(key)
	if err != nil {
		return zero, err
	}
	valBytes, err := s.client.Get(ctx, rk).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrKeyNotFound
		}
		return zero, errors.WithMessage(err, "redis.Get failed")
	}
	return s.valSerializer.Deserialize(valBytes)
}

func (s *RedisStore[K, V]) Del(ctx context.Context, key K) error {
	rk, err := s.redisKey(key)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, rk).Err(); err != nil {
		return errors.WithMessage(err, "redis.Del failed")
	}
	return nil
}

func (s *RedisStore[K, V]) Close() error {
	return s.client.Close()
}
