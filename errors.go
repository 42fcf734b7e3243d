package dbx

import (
	"context"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/hatlonely/dbx/pool"
	"github.com/hatlonely/dbx/repo"
	"github.com/hatlonely/dbx/tablesync"
)

// Code 错误分类，调用方按分类决定重试、报警还是直接返回
type Code string

const (
	CodeConfig     Code = "config"     // 配置不合法
	CodeConnection Code = "connection" // 建连或会话获取失败
	CodeTimeout    Code = "timeout"    // 获取连接或执行超时
	CodeNotFound   Code = "not_found"  // 目标记录不存在
	CodeConflict   Code = "conflict"   // 唯一约束冲突
	CodeSync       Code = "sync"       // 表结构同步失败
	CodeInternal   Code = "internal"   // 其他内部错误
)

// Error 带分类的错误。Cause 保留原始错误链。
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError 创建带分类的错误
func NewError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Classify 按已知的哨兵错误推断分类，用于统一上层的错误处理
func Classify(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, repo.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, pool.ErrAcquireTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, pool.ErrPoolClosed):
		return CodeConnection
	case isUniqueViolation(err):
		return CodeConflict
	default:
		var applyErr *tablesync.ApplyError
		if errors.As(err, &applyErr) {
			return CodeSync
		}
		var typed *Error
		if errors.As(err, &typed) {
			return typed.Code
		}
		return CodeInternal
	}
}

// isUniqueViolation 识别各后端驱动的唯一约束冲突错误
func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// 1062 ER_DUP_ENTRY
		return myErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23505 unique_violation
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
