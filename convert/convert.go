// Package convert 在 Go 值和数据库线上表示之间做双向转换。
// 每个语义类型有一个规范的线上表示，时间类型统一用规范字符串，
// 布尔按后端约定编码为原生布尔或 0/1 整数。
package convert

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hatlonely/dbx/dialect"
	"github.com/hatlonely/dbx/log"
	"github.com/hatlonely/dbx/schema"
)

// 时间类型的规范线上格式
const (
	DateFormat        = "2006-01-02"
	TimeFormat        = "15:04:05"
	TimestampFormat   = "2006-01-02 15:04:05"
	TimestampTZFormat = "2006-01-02 15:04:05-07:00"
)

// Converter 单个连接的值转换器，按方言的线上约定编码。
// 入库方向（ToWire）严格校验，出库方向（FromWire）宽松：
// 读到无法解释的值时返回该类型的零值而不是报错，只记一条调试日志。
type Converter struct {
	profile dialect.WireProfile
	logger  log.Logger
}

// NewConverter 创建值转换器，logger 为 nil 时不输出日志
func NewConverter(profile dialect.WireProfile, logger log.Logger) *Converter {
	if logger == nil {
		logger = log.Nop()
	}
	return &Converter{profile: profile, logger: logger}
}

// ToWire 将 Go 值编码为列的线上表示。
// nil 一律透传为 SQL NULL，非空约束的违例由数据库报出。
func (c *Converter) ToWire(col *schema.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch col.Type {
	case schema.TypeSmallInt, schema.TypeInt, schema.TypeBigInt:
		n, err := toInt64(v)
		if err != nil {
			return nil, errors.WithMessagef(err, "column %s", col.Name)
		}
		return n, nil
	case schema.TypeFloat, schema.TypeDouble:
		f, err := toFloat64(v)
		if err != nil {
			return nil, errors.WithMessagef(err, "column %s", col.Name)
		}
		return f, nil
	case schema.TypeDecimal:
		// 定点小数以字符串传输，避免二进制浮点损失精度
		s, err := toDecimalString(v)
		if err != nil {
			return nil, errors.WithMessagef(err, "column %s", col.Name)
		}
		return s, nil
	case schema.TypeBool:
		b, err := toBool(v)
		if err != nil {
			return nil, errors.WithMessagef(err, "column %s", col.Name)
		}
		if c.profile.BoolAsInt {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return b, nil
	case schema.TypeChar, schema.TypeVarchar, schema.TypeText:
		s, err := toString(v)
		if err != nil {
			return nil, errors.WithMessagef(err, "column %s", col.Name)
		}
		if col.Size > 0 && len(s) > col.Size {
			return nil, errors.Errorf("column %s: value length %d exceeds size %d", col.Name, len(s), col.Size)
		}
		return s, nil
	case schema.TypeBlob:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
		return nil, errors.Errorf("column %s: cannot encode %T as blob", col.Name, v)
	case schema.TypeUUID:
		s, err := toUUIDString(v)
		if err != nil {
			return nil, errors.WithMessagef(err, "column %s", col.Name)
		}
		return s, nil
	case schema.TypeDate:
		t, err := toTime(v, DateFormat)
		if err != nil {
			return nil, errors.WithMessagef(err, "column %s", col.Name)
		}
		return t.Format(DateFormat), nil
	case schema.TypeTime:
		s, err := toTimeOfDay(v)
		if err != nil {
			return nil, errors.WithMessagef(err, "column %s", col.Name)
		}
		return s, nil
	case schema.TypeTimestamp:
		t, err := toTime(v, TimestampFormat)
		if err != nil {
			return nil, errors.WithMessagef(err, "column %s", col.Name)
		}
		return t.UTC().Format(TimestampFormat), nil
	case schema.TypeTimestampTZ:
		t, err := toTime(v, TimestampTZFormat)
		if err != nil {
			return nil, errors.WithMessagef(err, "column %s", col.Name)
		}
		return t.Format(TimestampTZFormat), nil
	case schema.TypeJSON, schema.TypeArray:
		switch s := v.(type) {
		case string:
			if !json.Valid([]byte(s)) {
				return nil, errors.Errorf("column %s: invalid json", col.Name)
			}
			return s, nil
		case []byte:
			if !json.Valid(s) {
				return nil, errors.Errorf("column %s: invalid json", col.Name)
			}
			return string(s), nil
		}
		buf, err := json.Marshal(v)
		if err != nil {
			return nil, errors.WithMessagef(err, "column %s: marshal json failed", col.Name)
		}
		return string(buf), nil
	default:
		return nil, errors.Errorf("column %s: unknown type %q", col.Name, col.Type)
	}
}

// FromWire 将数据库读出的值解码为列的规范 Go 值。
// 各后端返回什么就接受什么：整数/浮点/字符串/字节串/原生时间和布尔。
// 无法解释的值解码为零值，不报错。
func (c *Converter) FromWire(col *schema.Column, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}

	switch col.Type {
	case schema.TypeSmallInt, schema.TypeInt, schema.TypeBigInt:
		n, err := toInt64(raw)
		if err != nil {
			return c.fallback(col, raw, int64(0)), nil
		}
		return n, nil
	case schema.TypeFloat, schema.TypeDouble:
		f, err := toFloat64(raw)
		if err != nil {
			return c.fallback(col, raw, float64(0)), nil
		}
		return f, nil
	case schema.TypeDecimal:
		s, err := toDecimalString(raw)
		if err != nil {
			return c.fallback(col, raw, "0"), nil
		}
		return s, nil
	case schema.TypeBool:
		b, err := toBool(raw)
		if err != nil {
			return c.fallback(col, raw, false), nil
		}
		return b, nil
	case schema.TypeChar, schema.TypeVarchar, schema.TypeText, schema.TypeJSON, schema.TypeArray:
		s, err := toString(raw)
		if err != nil {
			return c.fallback(col, raw, ""), nil
		}
		return s, nil
	case schema.TypeBlob:
		switch b := raw.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
		return c.fallback(col, raw, []byte(nil)), nil
	case schema.TypeUUID:
		s, err := toUUIDString(raw)
		if err != nil {
			return c.fallback(col, raw, ""), nil
		}
		return s, nil
	case schema.TypeDate:
		t, err := toTime(raw, DateFormat)
		if err != nil {
			return c.fallback(col, raw, time.Time{}), nil
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case schema.TypeTime:
		s, err := toTimeOfDay(raw)
		if err != nil {
			return c.fallback(col, raw, ""), nil
		}
		return s, nil
	case schema.TypeTimestamp, schema.TypeTimestampTZ:
		format := TimestampFormat
		if col.Type == schema.TypeTimestampTZ {
			format = TimestampTZFormat
		}
		t, err := toTime(raw, format)
		if err != nil {
			return c.fallback(col, raw, time.Time{}), nil
		}
		return t, nil
	default:
		return c.fallback(col, raw, nil), nil
	}
}

func (c *Converter) fallback(col *schema.Column, raw, zero any) any {
	c.logger.Debug("malformed wire value, fall back to zero",
		"column", col.Name, "type", string(col.Type), "raw", fmt.Sprintf("%v", raw))
	return zero
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(n)), 10, 64)
	}
	return 0, errors.Errorf("cannot convert %T to integer", v)
}

func toFloat64(v any) (float64, error) {
	switch f := v.(type) {
	case float32:
		return float64(f), nil
	case float64:
		return f, nil
	case int:
		return float64(f), nil
	case int32:
		return float64(f), nil
	case int64:
		return float64(f), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(f), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(f)), 64)
	}
	return 0, errors.Errorf("cannot convert %T to float", v)
}

func toDecimalString(v any) (string, error) {
	switch d := v.(type) {
	case string:
		if _, err := strconv.ParseFloat(strings.TrimSpace(d), 64); err != nil {
			return "", errors.Errorf("invalid decimal %q", d)
		}
		return strings.TrimSpace(d), nil
	case []byte:
		return toDecimalString(string(d))
	case float32, float64, int, int32, int64:
		return fmt.Sprint(d), nil
	}
	return "", errors.Errorf("cannot convert %T to decimal", v)
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int:
		return b != 0, nil
	case int64:
		return b != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "true", "t", "yes":
			return true, nil
		case "0", "false", "f", "no":
			return false, nil
		}
		return false, errors.Errorf("invalid bool %q", b)
	case []byte:
		return toBool(string(b))
	}
	return false, errors.Errorf("cannot convert %T to bool", v)
}

func toString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case fmt.Stringer:
		return s.String(), nil
	case int, int32, int64, float32, float64, bool:
		return fmt.Sprint(s), nil
	}
	return "", errors.Errorf("cannot convert %T to string", v)
}

func toUUIDString(v any) (string, error) {
	switch u := v.(type) {
	case uuid.UUID:
		return u.String(), nil
	case string:
		parsed, err := uuid.Parse(u)
		if err != nil {
			return "", errors.WithMessage(err, "invalid uuid")
		}
		return parsed.String(), nil
	case []byte:
		if len(u) == 16 {
			parsed, err := uuid.FromBytes(u)
			if err != nil {
				return "", errors.WithMessage(err, "invalid uuid bytes")
			}
			return parsed.String(), nil
		}
		return toUUIDString(string(u))
	}
	return "", errors.Errorf("cannot convert %T to uuid", v)
}

// timestampLayouts 解析时接受的时间戳写法，规范格式排在最前
var timestampLayouts = []string{
	TimestampTZFormat,
	TimestampFormat,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	DateFormat,
}

func toTime(v any, preferred string) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return parseTime(strings.TrimSpace(t), preferred)
	case []byte:
		return parseTime(strings.TrimSpace(string(t)), preferred)
	case int64:
		// 整数按 Unix 秒解释
		return time.Unix(t, 0).UTC(), nil
	}
	return time.Time{}, errors.Errorf("cannot convert %T to time", v)
}

func parseTime(s, preferred string) (time.Time, error) {
	if t, err := time.Parse(preferred, s); err == nil {
		return t, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("invalid time %q", s)
}

func toTimeOfDay(v any) (string, error) {
	switch t := v.(type) {
	case time.Time:
		return t.Format(TimeFormat), nil
	case string:
		return parseTimeOfDay(strings.TrimSpace(t))
	case []byte:
		return parseTimeOfDay(strings.TrimSpace(string(t)))
	}
	return "", errors.Errorf("cannot convert %T to time of day", v)
}

func parseTimeOfDay(s string) (string, error) {
	for _, layout := range []string{TimeFormat, "15:04", "15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(TimeFormat), nil
		}
	}
	return "", errors.Errorf("invalid time of day %q", s)
}
