package repo

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatlonely/dbx/schema"
)

type fieldModel struct {
	ID       int64     `dbx:"id,type=bigint,primary,auto"`
	Email    string    `dbx:"email,type=varchar"`
	Nickname *string   `dbx:"nickname,type=varchar"`
	Meta     map[string]string `dbx:"meta,type=json"`
	Created  time.Time `dbx:"created_at,type=timestamp"`
	Ignored  string    `dbx:"-"`
	NoTag    int
}

func TestBuildFieldMap(t *testing.T) {
	fm, err := buildFieldMap(reflect.TypeOf(fieldModel{}))
	require.NoError(t, err)

	assert.Contains(t, fm.byColumn, "id")
	assert.Contains(t, fm.byColumn, "email")
	assert.Contains(t, fm.byColumn, "created_at")
	// 无 tag 的字段用小写字段名
	assert.Contains(t, fm.byColumn, "notag")
	// dbx:"-" 的字段被排除
	assert.NotContains(t, fm.byColumn, "ignored")

	_, err = buildFieldMap(reflect.TypeOf(42))
	assert.Error(t, err)
}

func TestFieldValue(t *testing.T) {
	fm, err := buildFieldMap(reflect.TypeOf(fieldModel{}))
	require.NoError(t, err)

	nick := "neo"
	m := fieldModel{ID: 7, Email: "a@x.com", Nickname: &nick}
	rv := reflect.ValueOf(m)

	v, ok := fm.fieldValue(rv, "id")
	require.True(t, ok)
	assert.Equal(t, int64(7), v)

	// 指针字段解引用
	v, ok = fm.fieldValue(rv, "nickname")
	require.True(t, ok)
	assert.Equal(t, "neo", v)

	// nil 指针读出 nil
	m.Nickname = nil
	v, ok = fm.fieldValue(reflect.ValueOf(m), "nickname")
	require.True(t, ok)
	assert.Nil(t, v)

	_, ok = fm.fieldValue(rv, "missing")
	assert.False(t, ok)
}

func TestSetFieldValue(t *testing.T) {
	fm, err := buildFieldMap(reflect.TypeOf(fieldModel{}))
	require.NoError(t, err)

	var m fieldModel
	rv := reflect.ValueOf(&m).Elem()

	idCol := &schema.Column{Name: "id", Type: schema.TypeBigInt}
	require.NoError(t, fm.setFieldValue(rv, idCol, int64(42)))
	assert.Equal(t, int64(42), m.ID)

	// nil 写入指针字段得到 nil
	nickCol := &schema.Column{Name: "nickname", Type: schema.TypeVarchar}
	require.NoError(t, fm.setFieldValue(rv, nickCol, nil))
	assert.Nil(t, m.Nickname)

	// 非 nil 写入指针字段自动分配
	require.NoError(t, fm.setFieldValue(rv, nickCol, "neo"))
	require.NotNil(t, m.Nickname)
	assert.Equal(t, "neo", *m.Nickname)

	// JSON 字符串反序列化进 map 字段
	metaCol := &schema.Column{Name: "meta", Type: schema.TypeJSON}
	require.NoError(t, fm.setFieldValue(rv, metaCol, `{"k":"v"}`))
	assert.Equal(t, map[string]string{"k": "v"}, m.Meta)

	// 时间值直接赋给 time.Time 字段
	createdCol := &schema.Column{Name: "created_at", Type: schema.TypeTimestamp}
	ts := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	require.NoError(t, fm.setFieldValue(rv, createdCol, ts))
	assert.True(t, m.Created.Equal(ts))

	// 类型不匹配报错
	emailCol := &schema.Column{Name: "email", Type: schema.TypeVarchar}
	assert.Error(t, fm.setFieldValue(rv, emailCol, 123))
}
