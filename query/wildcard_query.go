package query

import (
	"fmt"
	"strings"
)

// WildcardQuery 通配符查询，* 匹配任意多个字符，? 匹配单个字符
type WildcardQuery struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (q *WildcardQuery) Type() Type {
	return TypeWildcard
}

func (q *WildcardQuery) ToSQL() (string, []any, error) {
	if err := checkField(q.Field); err != nil {
		return "", nil, err
	}

	pattern := escapeLike(q.Value)
	pattern = strings.ReplaceAll(pattern, "*", "%")
	pattern = strings.ReplaceAll(pattern, "?", "_")

	return fmt.Sprintf("%s LIKE ?", q.Field), []any{pattern}, nil
}
