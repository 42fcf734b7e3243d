// Package query 提供结构化查询条件树，渲染为带 ? 占位符的 SQL 条件。
// 占位符到具体方言格式的转换由 dialect 层完成。
package query

import (
	"regexp"

	"github.com/pkg/errors"
)

// Type 查询类型
type Type string

const (
	TypeBool     Type = "bool"
	TypeTerm     Type = "term"
	TypeRange    Type = "range"
	TypeExists   Type = "exists"
	TypePrefix   Type = "prefix"
	TypeWildcard Type = "wildcard"
	TypeAll      Type = "all"
)

// Query 查询节点接口
type Query interface {
	Type() Type
	// ToSQL 渲染为 SQL 条件表达式和参数列表
	ToSQL() (string, []any, error)
}

// 字段名只允许标识符字符，防止条件拼接注入
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

func checkField(field string) error {
	if !identPattern.MatchString(field) {
		return errors.Errorf("invalid field name: %q", field)
	}
	return nil
}
