// Package repo 提供类型化的表访问层。Repository 由模型结构体驱动：
// dbx tag 描述表结构，读写时在结构体字段和线上表示之间自动转换。
// CachedRepository 在其上增加查询结果缓存。
package repo

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hatlonely/dbx/convert"
	"github.com/hatlonely/dbx/dialect"
	"github.com/hatlonely/dbx/log"
	"github.com/hatlonely/dbx/query"
	"github.com/hatlonely/dbx/schema"
)

// ErrNotFound 查询目标不存在
var ErrNotFound = errors.New("record not found")

// Executor 仓库执行语句所需的最小接口，*sql.DB、*sql.Conn、*sql.Tx 都满足
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Sessions 为每次操作提供执行会话，release 在操作结束后调用
type Sessions interface {
	Session(ctx context.Context) (Executor, func(), error)
}

type dbSessions struct {
	db *sql.DB
}

// NewDBSessions 直接以 *sql.DB 作为会话来源
func NewDBSessions(db *sql.DB) Sessions {
	return &dbSessions{db: db}
}

func (s *dbSessions) Session(ctx context.Context) (Executor, func(), error) {
	return s.db, func() {}, nil
}

// RepositoryOptions 仓库配置
type RepositoryOptions struct {
	// Conflict 插入冲突的默认策略：error / ignore / update
	Conflict string `cfg:"conflict" def:"error" validate:"oneof=error ignore update"`
}

// Repository 单张表的类型化访问
type Repository[T any] struct {
	desc     *schema.Descriptor
	dialect  dialect.Dialect
	conv     *convert.Converter
	sessions Sessions
	logger   log.Logger
	fields   *fieldMap
	conflict dialect.ConflictPolicy

	// ensure 在每次操作前调用，用于懒同步表结构
	ensure func(ctx context.Context) error
}

// NewRepositoryWithOptions 由模型结构体创建仓库
func NewRepositoryWithOptions[T any](sessions Sessions, d dialect.Dialect, options *RepositoryOptions) (*Repository[T], error) {
	if options == nil {
		options = &RepositoryOptions{}
	}

	var model T
	desc, err := schema.FromStruct(&model)
	if err != nil {
		return nil, errors.WithMessage(err, "build descriptor failed")
	}
	fields, err := buildFieldMap(reflect.TypeOf(model))
	if err != nil {
		return nil, errors.WithMessage(err, "build field map failed")
	}

	conflict := dialect.ConflictError
	switch options.Conflict {
	case "", "error":
	case "ignore":
		conflict = dialect.ConflictIgnore
	case "update":
		conflict = dialect.ConflictUpdate
	default:
		return nil, errors.Errorf("unknown conflict policy %q", options.Conflict)
	}

	return &Repository[T]{
		desc:     desc,
		dialect:  d,
		conv:     convert.NewConverter(d.Profile(), nil),
		sessions: sessions,
		logger:   log.Nop(),
		fields:   fields,
		conflict: conflict,
	}, nil
}

// SetLogger 设置日志
func (r *Repository[T]) SetLogger(logger log.Logger) {
	if logger != nil {
		r.logger = logger
		r.conv = convert.NewConverter(r.dialect.Profile(), logger)
	}
}

// SetEnsure 设置每次操作前的钩子，通常是表结构懒同步
func (r *Repository[T]) SetEnsure(fn func(ctx context.Context) error) {
	r.ensure = fn
}

// Descriptor 返回仓库的表结构描述
func (r *Repository[T]) Descriptor() *schema.Descriptor {
	return r.desc
}

func (r *Repository[T]) session(ctx context.Context) (Executor, func(), error) {
	if r.ensure != nil {
		if err := r.ensure(ctx); err != nil {
			return nil, nil, errors.WithMessage(err, "ensure table failed")
		}
	}
	return r.sessions.Session(ctx)
}

type insertOptions struct {
	conflict *dialect.ConflictPolicy
}

type InsertOption func(*insertOptions)

// WithConflict 覆盖本次插入的冲突策略
func WithConflict(policy dialect.ConflictPolicy) InsertOption {
	return func(o *insertOptions) {
		o.conflict = &policy
	}
}

// Insert 插入一行。自增主键为零值时由数据库分配并写回结构体，
// auto_uuid 列为空时自动生成。
func (r *Repository[T]) Insert(ctx context.Context, v *T, opts ...InsertOption) error {
	o := &insertOptions{}
	for _, opt := range opts {
		opt(o)
	}
	policy := r.conflict
	if o.conflict != nil {
		policy = *o.conflict
	}

	exec, release, err := r.session(ctx)
	if err != nil {
		return err
	}
	defer release()
	return r.insertOne(ctx, exec, v, policy)
}

// InsertMany 逐行插入多行，遇到第一个错误即停止并返回已插入的行数
func (r *Repository[T]) InsertMany(ctx context.Context, vs []T, opts ...InsertOption) (int, error) {
	o := &insertOptions{}
	for _, opt := range opts {
		opt(o)
	}
	policy := r.conflict
	if o.conflict != nil {
		policy = *o.conflict
	}

	exec, release, err := r.session(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	for i := range vs {
		if err := r.insertOne(ctx, exec, &vs[i], policy); err != nil {
			return i, errors.WithMessagef(err, "insert row %d failed", i)
		}
	}
	return len(vs), nil
}

func (r *Repository[T]) insertOne(ctx context.Context, exec Executor, v *T, policy dialect.ConflictPolicy) error {
	rv := reflect.ValueOf(v).Elem()

	var columns []string
	var args []any
	autoPK := false

	for i := range r.desc.Columns {
		col := &r.desc.Columns[i]
		value, ok := r.fields.fieldValue(rv, col.Name)
		if !ok {
			continue
		}

		// 自增主键零值交给数据库分配
		if col.Auto == schema.AutoIncrement && col.Name == r.desc.PrimaryKey && isZeroInt(value) {
			autoPK = true
			continue
		}
		// uuid 主键为空时自动生成并写回
		if col.Auto == schema.AutoUUID {
			if s, _ := value.(string); s == "" {
				generated := uuid.NewString()
				if err := r.fields.setFieldValue(rv, col, generated); err != nil {
					return err
				}
				value = generated
			}
		}

		wire, err := r.conv.ToWire(col, value)
		if err != nil {
			return err
		}
		columns = append(columns, col.Name)
		args = append(args, wire)
	}

	stmt, err := r.dialect.InsertSQL(r.desc, columns, policy)
	if err != nil {
		return err
	}

	// postgres 没有 LastInsertId，用 RETURNING 取回自增主键
	if autoPK && r.dialect.Name() == "postgres" {
		stmt = r.dialect.Rebind(stmt + " RETURNING " + r.dialect.Quote(r.desc.PrimaryKey))
		rows, err := exec.QueryContext(ctx, stmt, args...)
		if err != nil {
			return errors.WithMessage(err, "insert failed")
		}
		defer rows.Close()
		if rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return errors.WithMessage(err, "scan returned id failed")
			}
			return r.setPrimaryKey(rv, id)
		}
		return rows.Err()
	}

	res, err := exec.ExecContext(ctx, r.dialect.Rebind(stmt), args...)
	if err != nil {
		return errors.WithMessage(err, "insert failed")
	}
	if autoPK && res != nil {
		if id, err := res.LastInsertId(); err == nil && id > 0 {
			return r.setPrimaryKey(rv, id)
		}
	}
	return nil
}

func (r *Repository[T]) setPrimaryKey(rv reflect.Value, id int64) error {
	pk := r.desc.Column(r.desc.PrimaryKey)
	if pk == nil {
		return nil
	}
	return r.fields.setFieldValue(rv, pk, id)
}

// Update 按主键更新整行，目标不存在时返回 ErrNotFound
func (r *Repository[T]) Update(ctx context.Context, v *T) error {
	if r.desc.PrimaryKey == "" {
		return errors.New("update requires a primary key")
	}
	rv := reflect.ValueOf(v).Elem()

	var sets []string
	var args []any
	for i := range r.desc.Columns {
		col := &r.desc.Columns[i]
		if col.Name == r.desc.PrimaryKey {
			continue
		}
		value, ok := r.fields.fieldValue(rv, col.Name)
		if !ok {
			continue
		}
		wire, err := r.conv.ToWire(col, value)
		if err != nil {
			return err
		}
		sets = append(sets, r.dialect.Quote(col.Name)+" = ?")
		args = append(args, wire)
	}
	if len(sets) == 0 {
		return errors.New("no columns to update")
	}

	pk := r.desc.Column(r.desc.PrimaryKey)
	pkValue, _ := r.fields.fieldValue(rv, pk.Name)
	pkWire, err := r.conv.ToWire(pk, pkValue)
	if err != nil {
		return err
	}
	args = append(args, pkWire)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		r.dialect.Quote(r.desc.Table), strings.Join(sets, ", "), r.dialect.Quote(pk.Name))

	exec, release, err := r.session(ctx)
	if err != nil {
		return err
	}
	defer release()

	res, err := exec.ExecContext(ctx, r.dialect.Rebind(stmt), args...)
	if err != nil {
		return errors.WithMessage(err, "update failed")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete 按主键删除，目标不存在时也返回成功
func (r *Repository[T]) Delete(ctx context.Context, id any) error {
	if r.desc.PrimaryKey == "" {
		return errors.New("delete requires a primary key")
	}
	pk := r.desc.Column(r.desc.PrimaryKey)
	pkWire, err := r.conv.ToWire(pk, id)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
		r.dialect.Quote(r.desc.Table), r.dialect.Quote(pk.Name))

	exec, release, err := r.session(ctx)
	if err != nil {
		return err
	}
	defer release()

	if _, err := exec.ExecContext(ctx, r.dialect.Rebind(stmt), pkWire); err != nil {
		return errors.WithMessage(err, "delete failed")
	}
	return nil
}

// FindByID 按主键查询单行，不存在时返回 ErrNotFound
func (r *Repository[T]) FindByID(ctx context.Context, id any) (*T, error) {
	if r.desc.PrimaryKey == "" {
		return nil, errors.New("find by id requires a primary key")
	}
	rows, err := r.Find(ctx, &query.TermQuery{Field: r.desc.PrimaryKey, Value: id}, WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

type findOptions struct {
	limit   int
	offset  int
	orderBy []string
}

type FindOption func(*findOptions)

func WithLimit(limit int) FindOption {
	return func(o *findOptions) { o.limit = limit }
}

func WithOffset(offset int) FindOption {
	return func(o *findOptions) { o.offset = offset }
}

// WithOrderBy 追加排序列，desc 为 true 时倒序
func WithOrderBy(column string, desc bool) FindOption {
	return func(o *findOptions) {
		dir := " ASC"
		if desc {
			dir = " DESC"
		}
		o.orderBy = append(o.orderBy, column+dir)
	}
}

// Find 按条件查询，q 为 nil 时匹配所有行
func (r *Repository[T]) Find(ctx context.Context, q query.Query, opts ...FindOption) ([]T, error) {
	o := &findOptions{}
	for _, opt := range opts {
		opt(o)
	}

	stmt, args, err := r.selectStmt(q, o)
	if err != nil {
		return nil, err
	}

	exec, release, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := exec.QueryContext(ctx, r.dialect.Rebind(stmt), args...)
	if err != nil {
		return nil, errors.WithMessage(err, "query failed")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// FindOne 按条件查询单行，不存在时返回 ErrNotFound
func (r *Repository[T]) FindOne(ctx context.Context, q query.Query, opts ...FindOption) (*T, error) {
	opts = append(opts, WithLimit(1))
	rows, err := r.Find(ctx, q, opts...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// Count 按条件计数
func (r *Repository[T]) Count(ctx context.Context, q query.Query) (int64, error) {
	where, args, err := whereClause(q)
	if err != nil {
		return 0, err
	}
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", r.dialect.Quote(r.desc.Table), where)

	exec, release, err := r.session(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	rows, err := exec.QueryContext(ctx, r.dialect.Rebind(stmt), args...)
	if err != nil {
		return 0, errors.WithMessage(err, "count failed")
	}
	defer rows.Close()

	var count int64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, errors.WithMessage(err, "scan count failed")
		}
	}
	return count, rows.Err()
}

// Exists 按条件判断是否存在
func (r *Repository[T]) Exists(ctx context.Context, q query.Query) (bool, error) {
	count, err := r.Count(ctx, q)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repository[T]) selectStmt(q query.Query, o *findOptions) (string, []any, error) {
	where, args, err := whereClause(q)
	if err != nil {
		return "", nil, err
	}

	columns := make([]string, len(r.desc.Columns))
	for i := range r.desc.Columns {
		columns[i] = r.dialect.Quote(r.desc.Columns[i].Name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s WHERE %s",
		strings.Join(columns, ", "), r.dialect.Quote(r.desc.Table), where)
	if len(o.orderBy) > 0 {
		sb.WriteString(" ORDER BY " + strings.Join(o.orderBy, ", "))
	}
	if o.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", o.limit)
	}
	if o.offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", o.offset)
	}
	return sb.String(), args, nil
}

func whereClause(q query.Query) (string, []any, error) {
	if q == nil {
		return "1 = 1", nil, nil
	}
	return q.ToSQL()
}

func (r *Repository[T]) scanRows(rows *sql.Rows) ([]T, error) {
	var out []T

	raw := make([]any, len(r.desc.Columns))
	ptrs := make([]any, len(r.desc.Columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.WithMessage(err, "scan row failed")
		}

		var v T
		rv := reflect.ValueOf(&v).Elem()
		for i := range r.desc.Columns {
			col := &r.desc.Columns[i]
			value, err := r.conv.FromWire(col, raw[i])
			if err != nil {
				return nil, err
			}
			if err := r.fields.setFieldValue(rv, col, value); err != nil {
				return nil, err
			}
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithMessage(err, "iterate rows failed")
	}
	return out, nil
}

func isZeroInt(value any) bool {
	switch n := value.(type) {
	case int:
		return n == 0
	case int8:
		return n == 0
	case int16:
		return n == 0
	case int32:
		return n == 0
	case int64:
		return n == 0
	case uint:
		return n == 0
	case uint32:
		return n == 0
	case uint64:
		return n == 0
	case nil:
		return true
	}
	return false
}
