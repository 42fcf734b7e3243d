package query

// AllQuery 匹配所有记录
type AllQuery struct{}

func (q *AllQuery) Type() Type {
	return TypeAll
}

func (q *AllQuery) ToSQL() (string, []any, error) {
	return "1 = 1", nil, nil
}
