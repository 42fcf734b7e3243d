package repo

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/dbx/schema"
)

// fieldMap 列名到结构体字段下标的映射，构建一次后只读
type fieldMap struct {
	byColumn map[string]int
}

// buildFieldMap 解析模型的 dbx tag，列名规则与 schema.FromStruct 一致
func buildFieldMap(t reflect.Type) (*fieldMap, error) {
	if t.Kind() != reflect.Struct {
		return nil, errors.Errorf("expected struct, got %s", t.Kind())
	}

	fm := &fieldMap{byColumn: map[string]int{}}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("dbx")
		if tag == "-" {
			continue
		}

		name := strings.ToLower(field.Name)
		if tag != "" {
			first := strings.Split(tag, ",")[0]
			if first != "" && !strings.Contains(first, "=") {
				name = first
			}
		}
		fm.byColumn[name] = i
	}
	return fm, nil
}

// fieldValue 取出列对应的字段值，nil 指针返回 nil
func (fm *fieldMap) fieldValue(rv reflect.Value, column string) (any, bool) {
	idx, ok := fm.byColumn[column]
	if !ok {
		return nil, false
	}
	fv := rv.Field(idx)
	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return nil, true
		}
		fv = fv.Elem()
	}
	return fv.Interface(), true
}

// setFieldValue 把规范 Go 值写回结构体字段，做必要的类型适配
func (fm *fieldMap) setFieldValue(rv reflect.Value, col *schema.Column, value any) error {
	idx, ok := fm.byColumn[col.Name]
	if !ok {
		return nil
	}
	fv := rv.Field(idx)

	if fv.Kind() == reflect.Ptr {
		if value == nil {
			fv.Set(reflect.Zero(fv.Type()))
			return nil
		}
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		fv = fv.Elem()
	}
	if value == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}

	return assign(fv, col, value)
}

func assign(fv reflect.Value, col *schema.Column, value any) error {
	// 时间字段直接赋值
	if t, ok := value.(time.Time); ok {
		if fv.Type() == reflect.TypeOf(time.Time{}) {
			fv.Set(reflect.ValueOf(t))
			return nil
		}
		if fv.Kind() == reflect.String {
			fv.SetString(t.Format(time.RFC3339))
			return nil
		}
		return errors.Errorf("column %s: cannot assign time to %s", col.Name, fv.Type())
	}

	switch fv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := asInt64(value)
		if err != nil {
			return errors.WithMessagef(err, "column %s", col.Name)
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := asInt64(value)
		if err != nil {
			return errors.WithMessagef(err, "column %s", col.Name)
		}
		fv.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		f, err := asFloat64(value)
		if err != nil {
			return errors.WithMessagef(err, "column %s", col.Name)
		}
		fv.SetFloat(f)
	case reflect.Bool:
		b, ok := value.(bool)
		if !ok {
			return errors.Errorf("column %s: expected bool, got %T", col.Name, value)
		}
		fv.SetBool(b)
	case reflect.String:
		s, ok := value.(string)
		if !ok {
			return errors.Errorf("column %s: expected string, got %T", col.Name, value)
		}
		fv.SetString(s)
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.Uint8 {
			b, ok := value.([]byte)
			if !ok {
				return errors.Errorf("column %s: expected bytes, got %T", col.Name, value)
			}
			fv.SetBytes(b)
			return nil
		}
		return assignJSON(fv, col, value)
	case reflect.Map, reflect.Struct:
		return assignJSON(fv, col, value)
	default:
		return errors.Errorf("column %s: unsupported field type %s", col.Name, fv.Type())
	}
	return nil
}

// assignJSON 结构化列的值是 JSON 字符串，反序列化进字段
func assignJSON(fv reflect.Value, col *schema.Column, value any) error {
	s, ok := value.(string)
	if !ok {
		return errors.Errorf("column %s: expected json string, got %T", col.Name, value)
	}
	target := reflect.New(fv.Type())
	if err := json.Unmarshal([]byte(s), target.Interface()); err != nil {
		return errors.WithMessagef(err, "column %s: unmarshal json failed", col.Name)
	}
	fv.Set(target.Elem())
	return nil
}

func asInt64(value any) (int64, error) {
	switch n := value.(type) {
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, errors.Errorf("expected integer, got %T", value)
}

func asFloat64(value any) (float64, error) {
	switch f := value.(type) {
	case float64:
		return f, nil
	case int64:
		return float64(f), nil
	case string:
		return strconv.ParseFloat(f, 64)
	}
	return 0, errors.Errorf("expected float, got %T", value)
}
