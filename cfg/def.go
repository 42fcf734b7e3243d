package cfg

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// SetDefaults 为结构体设置默认值，基于 def tag。
// 只有零值字段会被填充，已显式赋值的字段保持不变。
func SetDefaults(object any) error {
	if object == nil {
		return errors.New("object cannot be nil")
	}

	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}

	return setDefaults(rv.Elem())
}

func setDefaults(rv reflect.Value) error {
	if !rv.IsValid() {
		return nil
	}

	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		return setDefaults(rv.Elem())
	}

	if rv.Kind() != reflect.Struct {
		return nil
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fieldVal := rv.Field(i)
		if !field.IsExported() {
			continue
		}

		// 递归处理嵌套结构体
		kind := field.Type.Kind()
		if kind == reflect.Struct || (kind == reflect.Ptr && field.Type.Elem().Kind() == reflect.Struct) {
			if field.Type != reflect.TypeOf(time.Time{}) {
				if err := setDefaults(fieldVal); err != nil {
					return err
				}
			}
		}

		def := field.Tag.Get("def")
		if def == "" || !fieldVal.CanSet() || !fieldVal.IsZero() {
			continue
		}

		if err := setFieldDefault(fieldVal, def); err != nil {
			return errors.WithMessagef(err, "field %s", field.Name)
		}
	}

	return nil
}

func setFieldDefault(fieldVal reflect.Value, def string) error {
	// time.Duration 需要在整型之前单独处理
	if fieldVal.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(def)
		if err != nil {
			return errors.WithMessage(err, "parse duration failed")
		}
		fieldVal.SetInt(int64(d))
		return nil
	}

	switch fieldVal.Kind() {
	case reflect.String:
		fieldVal.SetString(def)
	case reflect.Bool:
		b, err := strconv.ParseBool(def)
		if err != nil {
			return errors.WithMessage(err, "parse bool failed")
		}
		fieldVal.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(def, 10, 64)
		if err != nil {
			return errors.WithMessage(err, "parse int failed")
		}
		fieldVal.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(def, 10, 64)
		if err != nil {
			return errors.WithMessage(err, "parse uint failed")
		}
		fieldVal.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(def, 64)
		if err != nil {
			return errors.WithMessage(err, "parse float failed")
		}
		fieldVal.SetFloat(f)
	case reflect.Slice:
		if fieldVal.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(def, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			fieldVal.Set(reflect.ValueOf(parts))
		} else {
			return errors.Errorf("unsupported slice element type: %s", fieldVal.Type().Elem())
		}
	default:
		return errors.Errorf("unsupported field kind: %s", fieldVal.Kind())
	}

	return nil
}
