// Package tablesync 把表结构描述同步到数据库：读取线上结构、计算增量
// 差异、按序执行 DDL。同一张表的并发同步会合并为一次执行，同步成功后
// 结果被记住，之后的调用是无开销的空操作，直到显式失效。
package tablesync

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hatlonely/dbx/dialect"
	"github.com/hatlonely/dbx/log"
	"github.com/hatlonely/dbx/schema"
)

// Executor 执行 DDL 和目录查询所需的最小接口
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Ledger 记录已执行的 DDL，由迁移台账实现
type Ledger interface {
	Record(ctx context.Context, table string, statement string) error
}

// ApplyError DDL 执行到一半失败。Applied 是失败前已生效的语句数，
// 已生效的语句不会回滚，重新同步会从差异里跳过它们。
type ApplyError struct {
	Table     string
	Statement string
	Applied   int
	Total     int
	Err       error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("sync table %s: statement %d/%d failed: %v", e.Table, e.Applied+1, e.Total, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// Result 一次同步的执行情况
type Result struct {
	Table   string
	Applied int // 本次执行的 DDL 条数，结构已一致时为 0
}

// SyncerOptions 同步器配置
type SyncerOptions struct {
	// DryRun 只计算差异不执行 DDL，用于发布前审查
	DryRun bool `cfg:"dryRun" def:"false"`
}

// Syncer 表结构同步器
type Syncer struct {
	dialect dialect.Dialect
	exec    Executor
	ledger  Ledger
	logger  log.Logger
	opts    *SyncerOptions

	group  singleflight.Group
	mu     sync.Mutex
	synced map[string]bool
}

// NewSyncerWithOptions 创建同步器。ledger 和 logger 都可以为 nil。
func NewSyncerWithOptions(d dialect.Dialect, exec Executor, options *SyncerOptions) *Syncer {
	if options == nil {
		options = &SyncerOptions{}
	}
	return &Syncer{
		dialect: d,
		exec:    exec,
		logger:  log.Nop(),
		opts:    options,
		synced:  map[string]bool{},
	}
}

// SetLedger 设置 DDL 台账
func (s *Syncer) SetLedger(ledger Ledger) {
	s.ledger = ledger
}

// SetLogger 设置日志
func (s *Syncer) SetLogger(logger log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Synced 表是否已经同步过
func (s *Syncer) Synced(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced[table]
}

// Invalidate 丢弃表的同步结果，下次访问会重新同步
func (s *Syncer) Invalidate(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.synced, table)
}

// Sync 同步单张表。已同步的表直接返回，同一张表的并发调用
// 只有一个真正执行，其余共享它的结果。
func (s *Syncer) Sync(ctx context.Context, desc *schema.Descriptor) (*Result, error) {
	if s.Synced(desc.Table) {
		return &Result{Table: desc.Table}, nil
	}

	v, err, _ := s.group.Do(desc.Table, func() (any, error) {
		// 拿到执行权后再查一次，等待期间可能已经同步完成
		if s.Synced(desc.Table) {
			return &Result{Table: desc.Table}, nil
		}
		res, err := s.syncOnce(ctx, desc)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.synced[desc.Table] = true
		s.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (s *Syncer) syncOnce(ctx context.Context, desc *schema.Descriptor) (*Result, error) {
	snap, err := s.dialect.ReadSnapshot(ctx, s.exec, desc.Table)
	if err != nil {
		return nil, errors.WithMessagef(err, "read snapshot of %s failed", desc.Table)
	}

	plan := schema.Diff(desc, snap)
	if plan.Empty() {
		s.logger.DebugContext(ctx, "table structure up to date", "table", desc.Table)
		return &Result{Table: desc.Table}, nil
	}

	stmts, err := dialect.RenderPlan(s.dialect, desc, plan)
	if err != nil {
		return nil, errors.WithMessagef(err, "render plan of %s failed", desc.Table)
	}

	if s.opts.DryRun {
		s.logger.InfoContext(ctx, "dry run, skip ddl", "table", desc.Table, "statements", len(stmts))
		return &Result{Table: desc.Table}, nil
	}

	for i, stmt := range stmts {
		if _, err := s.exec.ExecContext(ctx, stmt); err != nil {
			return nil, &ApplyError{
				Table:     desc.Table,
				Statement: stmt,
				Applied:   i,
				Total:     len(stmts),
				Err:       err,
			}
		}
		s.logger.InfoContext(ctx, "ddl applied", "table", desc.Table, "statement", stmt)
		if s.ledger != nil {
			if err := s.ledger.Record(ctx, desc.Table, stmt); err != nil {
				s.logger.WarnContext(ctx, "record ddl failed", "table", desc.Table, "error", err.Error())
			}
		}
	}

	return &Result{Table: desc.Table, Applied: len(stmts)}, nil
}

// SyncAll 并发同步多张表，任何一张失败都会返回错误，
// 其余的表仍会完成各自的同步。
func (s *Syncer) SyncAll(ctx context.Context, descs ...*schema.Descriptor) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, desc := range descs {
		desc := desc
		g.Go(func() error {
			_, err := s.Sync(ctx, desc)
			return err
		})
	}
	return g.Wait()
}
