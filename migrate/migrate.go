// Package migrate 维护 DDL 执行台账。每条自动同步生效的语句都记一行，
// 用于审计结构变更历史和排查同步问题。
package migrate

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/dbx/dialect"
	"github.com/hatlonely/dbx/schema"
)

// LedgerTable 台账表名
const LedgerTable = "dbx_migrations"

// Entry 一条台账记录
type Entry struct {
	ID        int64
	Table     string
	Statement string
	AppliedAt time.Time
}

// Executor 台账读写所需的最小接口
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Ledger DDL 执行台账
type Ledger struct {
	dialect dialect.Dialect
	exec    Executor
	desc    *schema.Descriptor
}

// NewLedger 创建台账。EnsureTable 必须在第一次 Record 之前调用。
func NewLedger(d dialect.Dialect, exec Executor) (*Ledger, error) {
	desc, err := schema.NewBuilder(LedgerTable).
		Column(schema.Column{Name: "id", Type: schema.TypeBigInt, Auto: schema.AutoIncrement}).
		Column(schema.Column{Name: "table_name", Type: schema.TypeVarchar, Size: 128}).
		Column(schema.Column{Name: "statement", Type: schema.TypeText}).
		Column(schema.Column{Name: "applied_at", Type: schema.TypeTimestamp, Default: &schema.Default{Now: true}}).
		PrimaryKey("id").
		Index(schema.Index{Name: "idx_dbx_migrations_table", Columns: []string{"table_name"}}).
		Build()
	if err != nil {
		return nil, errors.WithMessage(err, "build ledger descriptor failed")
	}
	return &Ledger{dialect: d, exec: exec, desc: desc}, nil
}

// EnsureTable 创建台账表和索引，表已存在时是空操作
func (l *Ledger) EnsureTable(ctx context.Context) error {
	snap, err := l.dialect.ReadSnapshot(ctx, l.exec, LedgerTable)
	if err != nil {
		return errors.WithMessage(err, "read ledger snapshot failed")
	}
	stmts, err := dialect.RenderPlan(l.dialect, l.desc, schema.Diff(l.desc, snap))
	if err != nil {
		return errors.WithMessage(err, "render ledger plan failed")
	}
	for _, stmt := range stmts {
		if _, err := l.exec.ExecContext(ctx, stmt); err != nil {
			return errors.WithMessagef(err, "create ledger table failed: %s", stmt)
		}
	}
	return nil
}

// Record 记录一条已执行的 DDL
func (l *Ledger) Record(ctx context.Context, table string, statement string) error {
	insert, err := l.dialect.InsertSQL(l.desc, []string{"table_name", "statement", "applied_at"}, dialect.ConflictError)
	if err != nil {
		return errors.WithMessage(err, "render insert failed")
	}
	now := time.Now().UTC().Format("2006-01-02 15:04:05")
	if _, err := l.exec.ExecContext(ctx, l.dialect.Rebind(insert), table, statement, now); err != nil {
		return errors.WithMessage(err, "insert ledger entry failed")
	}
	return nil
}

// History 按执行顺序返回一张表的结构变更记录
func (l *Ledger) History(ctx context.Context, table string) ([]Entry, error) {
	query := l.dialect.Rebind(
		"SELECT id, table_name, statement, applied_at FROM " + l.dialect.Quote(LedgerTable) +
			" WHERE table_name = ? ORDER BY id")
	rows, err := l.exec.QueryContext(ctx, query, table)
	if err != nil {
		return nil, errors.WithMessage(err, "query ledger failed")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var appliedAt string
		if err := rows.Scan(&e.ID, &e.Table, &e.Statement, &appliedAt); err != nil {
			return nil, errors.WithMessage(err, "scan ledger entry failed")
		}
		if t, err := time.Parse("2006-01-02 15:04:05", appliedAt); err == nil {
			e.AppliedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithMessage(err, "iterate ledger failed")
	}
	return entries, nil
}
