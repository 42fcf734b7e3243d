package query

import "fmt"

// ExistsQuery 字段非空查询
type ExistsQuery struct {
	Field string `json:"field"`
}

func (q *ExistsQuery) Type() Type {
	return TypeExists
}

func (q *ExistsQuery) ToSQL() (string, []any, error) {
	if err := checkField(q.Field); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s IS NOT NULL", q.Field), nil, nil
}
