package query

import (
	"fmt"
	"strings"
)

// PrefixQuery 前缀匹配查询
type PrefixQuery struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (q *PrefixQuery) Type() Type {
	return TypePrefix
}

func (q *PrefixQuery) ToSQL() (string, []any, error) {
	if err := checkField(q.Field); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s LIKE ?", q.Field), []any{escapeLike(q.Value) + "%"}, nil
}

// escapeLike 转义 LIKE 模式中的特殊字符
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
