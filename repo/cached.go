package repo

import (
	"context"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hatlonely/dbx/cache"
	"github.com/hatlonely/dbx/query"
)

// cachedValue 缓存的查询结果。未命中记录的查询也会缓存空结果，
// 避免反复穿透到数据库。
type cachedValue[T any] struct {
	Rows  []T   `msgpack:"rows"`
	Count int64 `msgpack:"count"`
}

// CachedRepositoryOptions 缓存仓库配置
type CachedRepositoryOptions struct {
	// TTL 缓存条目的存活时间
	TTL time.Duration `cfg:"ttl" def:"5m"`
}

// CachedRepository 带结果缓存的仓库。缓存键里编码了表的代计数，
// 任何写操作令代计数自增，旧代的条目不再被引用，靠 TTL/LRU 自然淘汰。
// 失效粒度是整张表：写一行会作废这张表的全部缓存结果。
type CachedRepository[T any] struct {
	repo  *Repository[T]
	store cache.Store[string, cachedValue[T]]
	ttl   time.Duration

	generation atomic.Int64
}

// NewCachedRepositoryWithOptions 包装仓库并附加结果缓存
func NewCachedRepositoryWithOptions[T any](repo *Repository[T], store cache.Store[string, cachedValue[T]], options *CachedRepositoryOptions) (*CachedRepository[T], error) {
	if repo == nil {
		return nil, errors.New("repo is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if options == nil {
		options = &CachedRepositoryOptions{}
	}
	ttl := options.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRepository[T]{repo: repo, store: store, ttl: ttl}, nil
}

// NewMemoryCachedRepository 用进程内缓存包装仓库的便捷构造
func NewMemoryCachedRepository[T any](repo *Repository[T], capacity int, ttl time.Duration) (*CachedRepository[T], error) {
	store, err := cache.NewMemoryStoreWithOptions[string, cachedValue[T]](&cache.MemoryStoreOptions{
		Capacity:   capacity,
		DefaultTTL: ttl,
	})
	if err != nil {
		return nil, err
	}
	return NewCachedRepositoryWithOptions(repo, store, &CachedRepositoryOptions{TTL: ttl})
}

// Repository 返回底层仓库，用于不走缓存的访问
func (c *CachedRepository[T]) Repository() *Repository[T] {
	return c.repo
}

// Close 关闭缓存存储，停掉它的后台清理协程
func (c *CachedRepository[T]) Close() error {
	return c.store.Close()
}

// Generation 当前代计数
func (c *CachedRepository[T]) Generation() int64 {
	return c.generation.Load()
}

// Invalidate 作废这张表的全部缓存结果
func (c *CachedRepository[T]) Invalidate() {
	c.generation.Add(1)
}

// cacheKey 把操作名、代计数和查询参数哈希成缓存键
func (c *CachedRepository[T]) cacheKey(op string, parts ...any) (string, error) {
	payload, err := msgpack.Marshal(append([]any{c.repo.desc.Table, c.generation.Load(), op}, parts...))
	if err != nil {
		return "", errors.WithMessage(err, "marshal cache key failed")
	}
	digest := xxhash.Sum64(payload)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(digest >> (8 * (7 - i)))
	}
	return c.repo.desc.Table + ":" + hex.EncodeToString(buf[:]), nil
}

// Insert 插入并作废缓存
func (c *CachedRepository[T]) Insert(ctx context.Context, v *T, opts ...InsertOption) error {
	if err := c.repo.Insert(ctx, v, opts...); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// InsertMany 批量插入并作废缓存。只要有行成功插入就作废。
func (c *CachedRepository[T]) InsertMany(ctx context.Context, vs []T, opts ...InsertOption) (int, error) {
	n, err := c.repo.InsertMany(ctx, vs, opts...)
	if n > 0 {
		c.Invalidate()
	}
	return n, err
}

// Update 更新并作废缓存
func (c *CachedRepository[T]) Update(ctx context.Context, v *T) error {
	if err := c.repo.Update(ctx, v); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// Delete 删除并作废缓存
func (c *CachedRepository[T]) Delete(ctx context.Context, id any) error {
	if err := c.repo.Delete(ctx, id); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// FindByID 按主键查询，结果走缓存
func (c *CachedRepository[T]) FindByID(ctx context.Context, id any) (*T, error) {
	key, err := c.cacheKey("find_by_id", id)
	if err != nil {
		return nil, err
	}

	if cached, err := c.store.Get(ctx, key); err == nil {
		if len(cached.Rows) == 0 {
			return nil, ErrNotFound
		}
		// 拷贝后返回，调用方的修改不能污染缓存条目
		row := cached.Rows[0]
		return &row, nil
	}

	v, err := c.repo.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		_ = c.store.Set(ctx, key, cachedValue[T]{}, cache.WithExpiration(c.ttl))
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	_ = c.store.Set(ctx, key, cachedValue[T]{Rows: []T{*v}}, cache.WithExpiration(c.ttl))
	return v, nil
}

// Find 按条件查询，结果走缓存。缓存键由渲染后的语句和参数决定。
func (c *CachedRepository[T]) Find(ctx context.Context, q query.Query, opts ...FindOption) ([]T, error) {
	o := &findOptions{}
	for _, opt := range opts {
		opt(o)
	}
	stmt, args, err := c.repo.selectStmt(q, o)
	if err != nil {
		return nil, err
	}

	key, err := c.cacheKey("find", stmt, args)
	if err != nil {
		return nil, err
	}
	if cached, err := c.store.Get(ctx, key); err == nil {
		return copyRows(cached.Rows), nil
	}

	rows, err := c.repo.Find(ctx, q, opts...)
	if err != nil {
		return nil, err
	}
	// 缓存里存独立的副本，返回的切片归调用方支配
	_ = c.store.Set(ctx, key, cachedValue[T]{Rows: copyRows(rows)}, cache.WithExpiration(c.ttl))
	return rows, nil
}

func copyRows[T any](rows []T) []T {
	if rows == nil {
		return nil
	}
	out := make([]T, len(rows))
	copy(out, rows)
	return out
}

// FindOne 按条件查询单行，不存在时返回 ErrNotFound
func (c *CachedRepository[T]) FindOne(ctx context.Context, q query.Query, opts ...FindOption) (*T, error) {
	opts = append(opts, WithLimit(1))
	rows, err := c.Find(ctx, q, opts...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// Count 按条件计数，结果走缓存
func (c *CachedRepository[T]) Count(ctx context.Context, q query.Query) (int64, error) {
	where, args, err := whereClause(q)
	if err != nil {
		return 0, err
	}

	key, err := c.cacheKey("count", where, args)
	if err != nil {
		return 0, err
	}
	if cached, err := c.store.Get(ctx, key); err == nil {
		return cached.Count, nil
	}

	count, err := c.repo.Count(ctx, q)
	if err != nil {
		return 0, err
	}
	_ = c.store.Set(ctx, key, cachedValue[T]{Count: count}, cache.WithExpiration(c.ttl))
	return count, nil
}

// Exists 按条件判断是否存在
func (c *CachedRepository[T]) Exists(ctx context.Context, q query.Query) (bool, error) {
	count, err := c.Count(ctx, q)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
