package query

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// RangeQuery 范围查询
type RangeQuery struct {
	Field string `json:"field"`
	Gt    any    `json:"gt,omitempty"`
	Gte   any    `json:"gte,omitempty"`
	Lt    any    `json:"lt,omitempty"`
	Lte   any    `json:"lte,omitempty"`
}

func (q *RangeQuery) Type() Type {
	return TypeRange
}

func (q *RangeQuery) ToSQL() (string, []any, error) {
	if err := checkField(q.Field); err != nil {
		return "", nil, err
	}

	var conds []string
	var args []any

	if q.Gt != nil {
		conds = append(conds, fmt.Sprintf("%s > ?", q.Field))
		args = append(args, q.Gt)
	}
	if q.Gte != nil {
		conds = append(conds, fmt.Sprintf("%s >= ?", q.Field))
		args = append(args, q.Gte)
	}
	if q.Lt != nil {
		conds = append(conds, fmt.Sprintf("%s < ?", q.Field))
		args = append(args, q.Lt)
	}
	if q.Lte != nil {
		conds = append(conds, fmt.Sprintf("%s <= ?", q.Field))
		args = append(args, q.Lte)
	}

	if len(conds) == 0 {
		return "", nil, errors.Errorf("range query on %s has no bounds", q.Field)
	}

	return strings.Join(conds, " AND "), args, nil
}
