package query

import (
	"fmt"
	"strings"
)

// BoolQuery 布尔组合查询。空查询匹配所有记录。
type BoolQuery struct {
	Must    []Query `json:"must,omitempty"`
	Should  []Query `json:"should,omitempty"`
	MustNot []Query `json:"must_not,omitempty"`
}

func (q *BoolQuery) Type() Type {
	return TypeBool
}

func (q *BoolQuery) ToSQL() (string, []any, error) {
	var conds []string
	var args []any

	if len(q.Must) > 0 {
		sub, subArgs, err := joinClauses(q.Must, " AND ")
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, sub)
		args = append(args, subArgs...)
	}

	if len(q.Should) > 0 {
		sub, subArgs, err := joinClauses(q.Should, " OR ")
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, sub)
		args = append(args, subArgs...)
	}

	if len(q.MustNot) > 0 {
		sub, subArgs, err := joinClauses(q.MustNot, " AND ")
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, fmt.Sprintf("NOT (%s)", sub))
		args = append(args, subArgs...)
	}

	if len(conds) == 0 {
		return "1 = 1", nil, nil
	}

	return strings.Join(conds, " AND "), args, nil
}

func joinClauses(queries []Query, sep string) (string, []any, error) {
	var parts []string
	var args []any

	for _, sub := range queries {
		sql, subArgs, err := sub.ToSQL()
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		args = append(args, subArgs...)
	}

	return strings.Join(parts, sep), args, nil
}
