// Package dbx 是面向结构体模型的数据库访问层：模型结构体描述表结构，
// 首次访问时自动同步；连接按租约从池里取用；查询结果可选缓存。
// 同一套 API 覆盖 mysql、postgres 和嵌入式的 sqlite。
package dbx

import (
	"context"
	"database/sql"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/dbx/cfg"
	"github.com/hatlonely/dbx/dialect"
	"github.com/hatlonely/dbx/log"
	"github.com/hatlonely/dbx/migrate"
	"github.com/hatlonely/dbx/pool"
	"github.com/hatlonely/dbx/repo"
	"github.com/hatlonely/dbx/schema"
	"github.com/hatlonely/dbx/tablesync"
)

// Client 单个数据库的访问入口
type Client struct {
	opts    *Options
	dialect dialect.Dialect
	db      *sql.DB
	pool    *pool.Pool
	syncer  *tablesync.Syncer
	ledger  *migrate.Ledger
	logger  log.Logger

	mu      sync.Mutex
	closers []io.Closer // 客户端创建的缓存等附属资源，随 Close 一并关闭
}

// NewClientWithOptions 创建客户端：解析配置、建连、预热连接池。
// EnableLedger 时顺带创建台账表。
func NewClientWithOptions(options *Options) (*Client, error) {
	if options == nil {
		return nil, NewError(CodeConfig, "options is nil", nil)
	}
	if err := cfg.Complete(options); err != nil {
		return nil, NewError(CodeConfig, "invalid options", err)
	}

	logger := log.Nop()
	if options.Log != nil {
		l, err := log.NewSLogWithOptions(options.Log)
		if err != nil {
			return nil, NewError(CodeConfig, "create logger failed", err)
		}
		logger = l
	}

	d, err := dialect.New(options.Driver)
	if err != nil {
		return nil, NewError(CodeConfig, "unknown driver", err)
	}

	dsn, err := d.DSN(&dialect.Source{
		Host:           options.Host,
		Port:           options.Port,
		Database:       options.Database,
		Username:       options.Username,
		Password:       options.Password,
		SslMode:        options.SslMode,
		Charset:        options.Charset,
		ConnectTimeout: options.ConnectTimeout,
	})
	if err != nil {
		return nil, NewError(CodeConfig, "build dsn failed", err)
	}

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, NewError(CodeConnection, "open database failed", err)
	}
	db.SetMaxOpenConns(options.MaxPoolSize)
	db.SetMaxIdleConns(options.MaxPoolSize)
	db.SetConnMaxIdleTime(options.MaxIdleTime)

	c := &Client{
		opts:    options,
		dialect: d,
		db:      db,
		logger:  logger,
	}

	minPoolSize := 1
	if options.MinPoolSize != nil {
		minPoolSize = *options.MinPoolSize
	}
	p, err := pool.NewPoolWithLogger(c.newSession, &pool.PoolOptions{
		MinSize:        minPoolSize,
		MaxSize:        options.MaxPoolSize,
		AcquireTimeout: options.AcquireTimeout,
		MaxIdleTime:    options.MaxIdleTime,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, NewError(CodeConnection, "create pool failed", err)
	}
	c.pool = p

	c.syncer = tablesync.NewSyncerWithOptions(d, db, &tablesync.SyncerOptions{
		DryRun: options.DryRunSync,
	})
	c.syncer.SetLogger(logger)

	if options.EnableLedger {
		ledger, err := migrate.NewLedger(d, db)
		if err != nil {
			_ = c.Close()
			return nil, NewError(CodeInternal, "create ledger failed", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), options.ConnectTimeout)
		err = ledger.EnsureTable(ctx)
		cancel()
		if err != nil {
			_ = c.Close()
			return nil, NewError(CodeSync, "ensure ledger table failed", err)
		}
		c.ledger = ledger
		c.syncer.SetLedger(ledger)
	}

	return c, nil
}

// session 池管理的数据库会话，执行时应用语句超时和慢查询日志
type session struct {
	conn   *sql.Conn
	client *Client
}

func (c *Client) newSession(ctx context.Context) (pool.Conn, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "open session failed")
	}
	return &session{conn: conn, client: c}, nil
}

func (s *session) PingContext(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *session) Close() error {
	return s.conn.Close()
}

func (s *session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := s.client.commandContext(ctx)
	defer cancel()
	start := time.Now()
	res, err := s.conn.ExecContext(ctx, query, args...)
	s.client.logSlow(ctx, query, time.Since(start))
	return res, err
}

// QueryContext 不套语句超时：取消 context 会中断结果集的读取，
// 查询的时限由调用方的 context 控制
func (s *session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx, query, args...)
	s.client.logSlow(ctx, query, time.Since(start))
	return rows, err
}

func (c *Client) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.CommandTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opts.CommandTimeout)
}

func (c *Client) logSlow(ctx context.Context, query string, elapsed time.Duration) {
	if !c.opts.LogSlowQueries || elapsed < c.opts.SlowQueryThreshold {
		return
	}
	c.logger.WarnContext(ctx, "slow query",
		"query", query, "elapsed_ms", elapsed.Milliseconds())
}

// Session 从池里租用会话，release 归还租约。实现 repo.Sessions。
func (c *Client) Session(ctx context.Context) (repo.Executor, func(), error) {
	lease, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return lease.Conn().(*session), lease.Release, nil
}

// WithTx 在单个事务里执行 fn，fn 返回错误时回滚，否则提交
func (c *Client) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return NewError(CodeConnection, "begin transaction failed", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.ErrorContext(ctx, "rollback failed", "error", rbErr.Error())
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return NewError(CodeInternal, "commit failed", err)
	}
	return nil
}

// Ping 检查数据库可达
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Stats 连接池状态
func (c *Client) Stats() pool.Stats {
	return c.pool.Stats()
}

// DB 返回底层连接，用于仓库没有覆盖的场景
func (c *Client) DB() *sql.DB {
	return c.db
}

// Dialect 返回客户端的方言
func (c *Client) Dialect() dialect.Dialect {
	return c.dialect
}

// Syncer 返回表结构同步器
func (c *Client) Syncer() *tablesync.Syncer {
	return c.syncer
}

// Ledger 返回 DDL 台账，EnableLedger 为 false 时返回 nil
func (c *Client) Ledger() *migrate.Ledger {
	return c.ledger
}

func (c *Client) trackCloser(closer io.Closer) {
	c.mu.Lock()
	c.closers = append(c.closers, closer)
	c.mu.Unlock()
}

// Close 关闭附属资源、连接池和数据库连接
func (c *Client) Close() error {
	var firstErr error
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()
	for _, closer := range closers {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.pool != nil {
		if err := c.pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// SyncTable 把模型的表结构同步到数据库
func SyncTable[T any](ctx context.Context, c *Client) error {
	var model T
	desc, err := schema.FromStruct(&model)
	if err != nil {
		return NewError(CodeConfig, "build descriptor failed", err)
	}
	if _, err := c.syncer.Sync(ctx, desc); err != nil {
		return err
	}
	return nil
}

// NewRepository 创建模型的仓库。EnableAutoSync 时首次操作前自动同步表结构。
func NewRepository[T any](c *Client) (*repo.Repository[T], error) {
	r, err := repo.NewRepositoryWithOptions[T](c, c.dialect, nil)
	if err != nil {
		return nil, NewError(CodeConfig, "create repository failed", err)
	}
	r.SetLogger(c.logger)
	if c.opts.EnableAutoSync {
		desc := r.Descriptor()
		r.SetEnsure(func(ctx context.Context) error {
			_, err := c.syncer.Sync(ctx, desc)
			return err
		})
	}
	return r, nil
}

// NewCachedRepository 创建带结果缓存的仓库。EnableCaching 为 false 时
// 返回错误，调用方应改用 NewRepository。
func NewCachedRepository[T any](c *Client) (*repo.CachedRepository[T], error) {
	if !c.opts.EnableCaching {
		return nil, NewError(CodeConfig, "caching is disabled", nil)
	}
	r, err := NewRepository[T](c)
	if err != nil {
		return nil, err
	}
	cached, err := repo.NewMemoryCachedRepository(r, c.opts.CacheCapacity, c.opts.DefaultCacheTTL)
	if err != nil {
		return nil, NewError(CodeInternal, "create cache failed", err)
	}
	// 缓存的清理协程随客户端一起关闭
	c.trackCloser(cached)
	return cached, nil
}
