package schema

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Builder 表结构描述构建器。所有 Add/Set 方法返回自身以便链式调用，
// 错误延迟到 Build 时统一返回。
type Builder struct {
	desc Descriptor
	errs []error
}

// NewBuilder 创建表结构构建器
func NewBuilder(table string) *Builder {
	return &Builder{desc: Descriptor{Table: table}}
}

// Namespace 设置命名空间（schema）
func (b *Builder) Namespace(ns string) *Builder {
	b.desc.Namespace = ns
	return b
}

// Column 添加列
func (b *Builder) Column(c Column) *Builder {
	b.desc.Columns = append(b.desc.Columns, c)
	return b
}

// PrimaryKey 指定主键列
func (b *Builder) PrimaryKey(name string) *Builder {
	if b.desc.PrimaryKey != "" && b.desc.PrimaryKey != name {
		b.errs = append(b.errs, errors.Errorf("duplicate primary key: %s and %s", b.desc.PrimaryKey, name))
		return b
	}
	b.desc.PrimaryKey = name
	return b
}

// ForeignKey 添加外键
func (b *Builder) ForeignKey(fk ForeignKey) *Builder {
	b.desc.ForeignKeys = append(b.desc.ForeignKeys, fk)
	return b
}

// Index 添加复合索引
func (b *Builder) Index(idx Index) *Builder {
	b.desc.Indexes = append(b.desc.Indexes, idx)
	return b
}

// Build 校验并返回不可变的表结构描述。
// 同一组输入总是产生结构相同的描述。
func (b *Builder) Build() (*Descriptor, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}

	d := b.desc
	if d.Table == "" {
		return nil, errors.New("table name is empty")
	}
	if len(d.Columns) == 0 {
		return nil, errors.Errorf("table %s has no columns", d.Table)
	}

	seen := make(map[string]bool, len(d.Columns))
	for i := range d.Columns {
		c := &d.Columns[i]
		if c.Name == "" {
			return nil, errors.Errorf("table %s: column %d has no name", d.Table, i)
		}
		if seen[c.Name] {
			return nil, errors.Errorf("table %s: duplicate column %s", d.Table, c.Name)
		}
		seen[c.Name] = true

		if !c.Type.Valid() {
			return nil, errors.Errorf("column %s: unknown type %q", c.Name, c.Type)
		}
		if c.Size > 0 && !c.Type.HasSize() {
			return nil, errors.Errorf("column %s: type %s does not take a size", c.Name, c.Type)
		}
		if (c.Precision > 0 || c.Scale > 0) && !c.Type.HasPrecision() {
			return nil, errors.Errorf("column %s: type %s does not take precision/scale", c.Name, c.Type)
		}
		if c.Type == TypeArray {
			if !c.Elem.Scalar() {
				return nil, errors.Errorf("column %s: array element type %q is not a scalar", c.Name, c.Elem)
			}
		} else if c.Elem != "" {
			return nil, errors.Errorf("column %s: element type only applies to arrays", c.Name)
		}
		if c.Auto == AutoIncrement && c.Type != TypeSmallInt && c.Type != TypeInt && c.Type != TypeBigInt {
			return nil, errors.Errorf("column %s: auto increment requires an integer type", c.Name)
		}
		if c.Auto == AutoUUID && c.Type != TypeUUID {
			return nil, errors.Errorf("column %s: auto uuid requires the uuid type", c.Name)
		}
	}

	if d.PrimaryKey != "" && !seen[d.PrimaryKey] {
		return nil, errors.Errorf("table %s: primary key column %s not declared", d.Table, d.PrimaryKey)
	}

	for i := range d.ForeignKeys {
		fk := &d.ForeignKeys[i]
		if !seen[fk.Column] {
			return nil, errors.Errorf("foreign key references unknown column %s", fk.Column)
		}
		if fk.RefTable == "" || fk.RefColumn == "" {
			return nil, errors.Errorf("foreign key on %s: target table/column is empty", fk.Column)
		}
		if fk.OnDelete == "" {
			fk.OnDelete = RefNoAction
		}
		if fk.OnUpdate == "" {
			fk.OnUpdate = RefNoAction
		}
	}

	idxSeen := make(map[string]bool, len(d.Indexes))
	for i := range d.Indexes {
		idx := &d.Indexes[i]
		if idx.Name == "" {
			return nil, errors.Errorf("table %s: index %d has no name", d.Table, i)
		}
		if idxSeen[idx.Name] {
			return nil, errors.Errorf("table %s: duplicate index %s", d.Table, idx.Name)
		}
		idxSeen[idx.Name] = true
		if len(idx.Columns) == 0 {
			return nil, errors.Errorf("index %s has no columns", idx.Name)
		}
		for _, col := range idx.Columns {
			if !seen[col] {
				return nil, errors.Errorf("index %s references unknown column %s", idx.Name, col)
			}
		}
	}

	d.index()
	return &d, nil
}

// TableNamer 模型可以实现该接口来指定表名
type TableNamer interface {
	TableName() string
}

// FromStruct 通过反射模型结构体的 dbx tag 构建表结构描述。
//
// tag 格式：
//
//	`dbx:"column_name,type=varchar,size=255,primary,auto,required,unique,index,default=..."`
//
// 列名缺省为字段名的小写形式，表名缺省为结构体名的小写形式
// （可通过 TableName() 方法覆盖）。`dbx:"-"` 的字段被排除。
func FromStruct(v any) (*Descriptor, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, errors.Errorf("expected struct, got %T", v)
	}
	rt := rv.Type()

	tableName := strings.ToLower(rt.Name())
	if namer, ok := v.(TableNamer); ok {
		tableName = namer.TableName()
	}

	b := NewBuilder(tableName)

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("dbx")
		if tag == "-" {
			continue
		}

		col, isPrimary, indexes, fk, err := parseFieldTag(field, tag)
		if err != nil {
			return nil, errors.WithMessagef(err, "field %s", field.Name)
		}

		b.Column(col)
		if isPrimary {
			b.PrimaryKey(col.Name)
		}
		for _, idx := range indexes {
			idx.Columns = []string{col.Name}
			b.Index(idx)
		}
		if fk != nil {
			fk.Column = col.Name
			b.ForeignKey(*fk)
		}
	}

	return b.Build()
}

func parseFieldTag(field reflect.StructField, tag string) (Column, bool, []Index, *ForeignKey, error) {
	col := Column{
		Name:     strings.ToLower(field.Name),
		Type:     inferType(field.Type),
		Nullable: true,
	}
	if field.Type.Kind() == reflect.Ptr {
		col.Nullable = true
	}

	var isPrimary bool
	var indexes []Index
	var fk *ForeignKey

	if tag == "" {
		return col, isPrimary, indexes, fk, nil
	}

	parts := strings.Split(tag, ",")

	// 第一部分是列名（如果指定且不是键值对）
	if parts[0] != "" && !strings.Contains(parts[0], "=") {
		col.Name = parts[0]
		parts = parts[1:]
	}

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if key, value, found := strings.Cut(part, "="); found {
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			switch key {
			case "type":
				col.Type = Type(value)
			case "elem":
				col.Elem = Type(value)
			case "size":
				n, err := strconv.Atoi(value)
				if err != nil {
					return col, false, nil, nil, errors.Errorf("invalid size %q", value)
				}
				col.Size = n
			case "precision":
				n, err := strconv.Atoi(value)
				if err != nil {
					return col, false, nil, nil, errors.Errorf("invalid precision %q", value)
				}
				col.Precision = n
			case "scale":
				n, err := strconv.Atoi(value)
				if err != nil {
					return col, false, nil, nil, errors.Errorf("invalid scale %q", value)
				}
				col.Scale = n
			case "default":
				if value == "now" {
					col.Default = &Default{Now: true}
				} else {
					col.Default = &Default{Literal: parseLiteral(value, col.Type)}
				}
			case "index":
				indexes = append(indexes, Index{Name: value})
			case "unique":
				indexes = append(indexes, Index{Name: value, Unique: true})
			case "references":
				// references=table.column
				table, column, found := strings.Cut(value, ".")
				if !found {
					return col, false, nil, nil, errors.Errorf("invalid references %q, want table.column", value)
				}
				if fk == nil {
					fk = &ForeignKey{}
				}
				fk.RefTable, fk.RefColumn = table, column
			case "ondelete":
				if fk == nil {
					fk = &ForeignKey{}
				}
				fk.OnDelete = RefAction(value)
			case "onupdate":
				if fk == nil {
					fk = &ForeignKey{}
				}
				fk.OnUpdate = RefAction(value)
			}
		} else {
			switch part {
			case "primary", "pk":
				isPrimary = true
				col.Nullable = false
			case "required", "not_null":
				col.Nullable = false
			case "unique":
				col.Unique = true
			case "index":
				indexes = append(indexes, Index{Name: "idx_" + col.Name})
			case "auto":
				col.Auto = AutoIncrement
			case "auto_uuid":
				col.Auto = AutoUUID
			}
		}
	}

	return col, isPrimary, indexes, fk, nil
}

// inferType 从 Go 类型推断语义类型
func inferType(t reflect.Type) Type {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.String:
		return TypeVarchar
	case reflect.Int8, reflect.Int16:
		return TypeSmallInt
	case reflect.Int32, reflect.Uint8, reflect.Uint16:
		return TypeInt
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return TypeBigInt
	case reflect.Float32:
		return TypeFloat
	case reflect.Float64:
		return TypeDouble
	case reflect.Bool:
		return TypeBool
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return TypeBlob
		}
		return TypeJSON
	default:
		if t == reflect.TypeOf(time.Time{}) {
			return TypeTimestamp
		}
		return TypeJSON
	}
}

func parseLiteral(value string, t Type) any {
	switch t {
	case TypeSmallInt, TypeInt, TypeBigInt:
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
		return int64(0)
	case TypeFloat, TypeDouble, TypeDecimal:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		return float64(0)
	case TypeBool:
		return value == "true" || value == "1"
	default:
		// 去掉可能的引号
		if len(value) >= 2 && (value[0] == '\'' || value[0] == '"') && value[len(value)-1] == value[0] {
			return value[1 : len(value)-1]
		}
		return value
	}
}
