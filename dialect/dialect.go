// Package dialect 封装各后端的差异：DDL 语法、目录读取、占位符格式、
// 标识符引用和布尔线上编码。上层通过 Dialect 接口使用，互不感知具体后端。
package dialect

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/dbx/schema"
)

// ErrUnsupportedDDL 后端不支持的 DDL 操作（如 SQLite 的存量表加外键）
var ErrUnsupportedDDL = errors.New("unsupported ddl operation")

// WireProfile 线上编码约定，convert 层根据它决定布尔的表示
type WireProfile struct {
	// BoolAsInt 为 true 时布尔编码为 0/1 整数，否则使用原生布尔
	BoolAsInt bool
}

// Queryer 目录读取所需的最小查询接口
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Source 连接参数，由 Dialect 组装成驱动 DSN
type Source struct {
	Host           string
	Port           int
	Database       string
	Username       string
	Password       string
	SslMode        string
	Charset        string
	ConnectTimeout time.Duration
}

// ConflictPolicy 插入冲突策略
type ConflictPolicy int

const (
	ConflictError  ConflictPolicy = iota // 默认：冲突报错
	ConflictIgnore                       // 忽略冲突行
	ConflictUpdate                       // 冲突时更新
)

// Dialect 单个数据库后端的适配
type Dialect interface {
	// Name 方言名：mysql / postgres / sqlite
	Name() string

	// DriverName database/sql 驱动注册名
	DriverName() string

	// DSN 组装驱动连接串
	DSN(src *Source) (string, error)

	// Quote 引用标识符
	Quote(ident string) string

	// Rebind 将 ? 占位符转换为方言格式（postgres 的 $1..$n）
	Rebind(query string) string

	// Profile 线上编码约定
	Profile() WireProfile

	// ColumnType 语义类型到该后端类型名的映射
	ColumnType(c *schema.Column) (string, error)

	// CreateTableSQL 建表语句，内联主键、单列唯一约束和外键
	CreateTableSQL(desc *schema.Descriptor) (string, error)

	// AddColumnSQL 加列语句
	AddColumnSQL(desc *schema.Descriptor, c *schema.Column) (string, error)

	// AlterColumnSQL 改列语句，不支持时返回 ErrUnsupportedDDL
	AlterColumnSQL(desc *schema.Descriptor, c *schema.Column) (string, error)

	// CreateIndexSQL 建索引语句
	CreateIndexSQL(table string, idx *schema.Index) string

	// AddForeignKeySQL 存量表加外键，不支持时返回 ErrUnsupportedDDL
	AddForeignKeySQL(table string, fk *schema.ForeignKey) (string, error)

	// InsertSQL 按冲突策略渲染插入语句（? 占位符，未 Rebind）
	InsertSQL(desc *schema.Descriptor, columns []string, policy ConflictPolicy) (string, error)

	// ReadSnapshot 从数据库目录读取表的实际结构
	ReadSnapshot(ctx context.Context, q Queryer, table string) (*schema.Snapshot, error)
}

// New 按名称创建方言
func New(name string) (Dialect, error) {
	switch name {
	case "mysql":
		return &MySQL{}, nil
	case "postgres", "pgx":
		return &Postgres{}, nil
	case "sqlite", "sqlite3":
		return &SQLite{}, nil
	default:
		return nil, errors.Errorf("unknown dialect: %s", name)
	}
}

// RenderPlan 将差异计划渲染为有序的 DDL 语句列表
func RenderPlan(d Dialect, desc *schema.Descriptor, plan *schema.Plan) ([]string, error) {
	var stmts []string
	for i := range plan.Ops {
		op := &plan.Ops[i]
		switch op.Kind {
		case schema.OpCreateTable:
			stmt, err := d.CreateTableSQL(desc)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, stmt)
		case schema.OpAddColumn:
			stmt, err := d.AddColumnSQL(desc, op.Column)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, stmt)
		case schema.OpAlterColumn:
			stmt, err := d.AlterColumnSQL(desc, op.Column)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, stmt)
		case schema.OpAddIndex:
			stmts = append(stmts, d.CreateIndexSQL(desc.Table, op.Index))
		case schema.OpAddForeignKey:
			stmt, err := d.AddForeignKeySQL(desc.Table, op.ForeignKey)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, stmt)
		default:
			return nil, errors.Errorf("unknown op kind: %s", op.Kind)
		}
	}
	return stmts, nil
}
