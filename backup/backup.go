// Package backup 把表数据定期导出到本地 bbolt 文件，作为嵌入式场景的
// 轻量备份手段。每张表一个 bucket，主键作为 key，整行序列化为 value。
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/hatlonely/dbx/dialect"
	"github.com/hatlonely/dbx/log"
	"github.com/hatlonely/dbx/schema"
)

// Executor 导出查询所需的最小接口
type Executor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// BackupperOptions 备份配置
type BackupperOptions struct {
	// Path bbolt 文件路径
	Path string `cfg:"path" validate:"required"`
	// Interval 周期备份的间隔，0 表示只支持手工触发
	Interval time.Duration `cfg:"interval" def:"1h"`
}

// Backupper 表数据备份器
type Backupper struct {
	opts    *BackupperOptions
	dialect dialect.Dialect
	exec    Executor
	logger  log.Logger

	mu     sync.Mutex
	descs  map[string]*schema.Descriptor
	stop   chan struct{}
	closed sync.Once
	wg     sync.WaitGroup
}

// NewBackupperWithOptions 创建备份器
func NewBackupperWithOptions(d dialect.Dialect, exec Executor, options *BackupperOptions) (*Backupper, error) {
	if options.Path == "" {
		return nil, errors.New("backup path is empty")
	}
	return &Backupper{
		opts:    options,
		dialect: d,
		exec:    exec,
		logger:  log.Nop(),
		descs:   map[string]*schema.Descriptor{},
		stop:    make(chan struct{}),
	}, nil
}

// SetLogger 设置日志
func (b *Backupper) SetLogger(logger log.Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Watch 把表纳入备份范围
func (b *Backupper) Watch(desc *schema.Descriptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.descs[desc.Table] = desc
}

// Export 立即执行一次全量导出。每张表的导出在单个 bbolt 事务里完成，
// 旧快照被整体替换。
func (b *Backupper) Export(ctx context.Context) error {
	b.mu.Lock()
	descs := make([]*schema.Descriptor, 0, len(b.descs))
	for _, desc := range b.descs {
		descs = append(descs, desc)
	}
	b.mu.Unlock()

	db, err := bolt.Open(b.opts.Path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return errors.WithMessage(err, "open backup file failed")
	}
	defer db.Close()

	for _, desc := range descs {
		if err := b.exportTable(ctx, db, desc); err != nil {
			return errors.WithMessagef(err, "export table %s failed", desc.Table)
		}
	}
	return nil
}

func (b *Backupper) exportTable(ctx context.Context, db *bolt.DB, desc *schema.Descriptor) error {
	query := "SELECT * FROM " + b.dialect.Quote(desc.Table)
	rows, err := b.exec.QueryContext(ctx, query)
	if err != nil {
		return errors.WithMessage(err, "query failed")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return errors.WithMessage(err, "read columns failed")
	}

	var count int
	err = db.Update(func(tx *bolt.Tx) error {
		// 整体替换旧快照
		if tx.Bucket([]byte(desc.Table)) != nil {
			if err := tx.DeleteBucket([]byte(desc.Table)); err != nil {
				return err
			}
		}
		bucket, err := tx.CreateBucket([]byte(desc.Table))
		if err != nil {
			return err
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}

		for rows.Next() {
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}
			row := make(map[string]any, len(columns))
			for i, col := range columns {
				v := values[i]
				if buf, ok := v.([]byte); ok {
					v = string(buf)
				}
				row[col] = v
			}

			key := rowKey(desc, row, count)
			buf, err := msgpack.Marshal(row)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(key), buf); err != nil {
				return err
			}
			count++
		}
		return rows.Err()
	})
	if err != nil {
		return err
	}

	b.logger.InfoContext(ctx, "table exported", "table", desc.Table, "rows", count)
	return nil
}

// rowKey 主键值作为 key，没有主键时退化为行号
func rowKey(desc *schema.Descriptor, row map[string]any, ordinal int) string {
	if desc.PrimaryKey != "" {
		if v, ok := row[desc.PrimaryKey]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return fmt.Sprintf("row-%d", ordinal)
}

// Load 读取一张表的备份快照
func (b *Backupper) Load(table string) ([]map[string]any, error) {
	db, err := bolt.Open(b.opts.Path, 0o600, &bolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return nil, errors.WithMessage(err, "open backup file failed")
	}
	defer db.Close()

	var out []map[string]any
	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var row map[string]any
			if err := msgpack.Unmarshal(v, &row); err != nil {
				return err
			}
			out = append(out, row)
			return nil
		})
	})
	if err != nil {
		return nil, errors.WithMessage(err, "read backup failed")
	}
	return out, nil
}

// Start 启动周期备份协程
func (b *Backupper) Start() {
	if b.opts.Interval <= 0 {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				if err := b.Export(ctx); err != nil {
					b.logger.Warn("periodic backup failed", "error", err.Error())
				}
				cancel()
			}
		}
	}()
}

// Close 停止周期备份
func (b *Backupper) Close() error {
	b.closed.Do(func() { close(b.stop) })
	b.wg.Wait()
	return nil
}
