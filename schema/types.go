// Package schema 将模型元数据转换为不可变的表结构描述，并提供
// 描述与数据库实际结构之间的差异计算。描述的构建和差异计算都是
// 纯内存操作，不涉及任何 I/O。
package schema

// Type 语义类型，独立于任何后端的原生类型名
type Type string

const (
	TypeSmallInt    Type = "smallint"    // 16 位整数
	TypeInt         Type = "int"         // 32 位整数
	TypeBigInt      Type = "bigint"      // 64 位整数
	TypeFloat       Type = "float"       // 单精度浮点
	TypeDouble      Type = "double"      // 双精度浮点
	TypeDecimal     Type = "decimal"     // 定点小数，precision/scale
	TypeBool        Type = "bool"        // 布尔
	TypeChar        Type = "char"        // 定长文本
	TypeVarchar     Type = "varchar"     // 变长文本
	TypeText        Type = "text"        // 不限长文本
	TypeBlob        Type = "blob"        // 二进制
	TypeUUID        Type = "uuid"        // UUID
	TypeDate        Type = "date"        // 日期
	TypeTime        Type = "time"        // 时间
	TypeTimestamp   Type = "timestamp"   // 无时区时间戳
	TypeTimestampTZ Type = "timestamptz" // 带时区时间戳
	TypeJSON        Type = "json"        // 结构化文档
	TypeArray       Type = "array"       // 同构标量数组
)

// Valid 判断是否是已知的语义类型
func (t Type) Valid() bool {
	switch t {
	case TypeSmallInt, TypeInt, TypeBigInt, TypeFloat, TypeDouble, TypeDecimal,
		TypeBool, TypeChar, TypeVarchar, TypeText, TypeBlob, TypeUUID,
		TypeDate, TypeTime, TypeTimestamp, TypeTimestampTZ, TypeJSON, TypeArray:
		return true
	}
	return false
}

// HasSize 判断该类型是否允许声明长度
func (t Type) HasSize() bool {
	switch t {
	case TypeChar, TypeVarchar:
		return true
	}
	return false
}

// HasPrecision 判断该类型是否允许声明精度
func (t Type) HasPrecision() bool {
	return t == TypeDecimal
}

// Scalar 判断该类型是否可以作为数组元素
func (t Type) Scalar() bool {
	switch t {
	case TypeArray, TypeJSON, TypeBlob:
		return false
	}
	return t.Valid()
}

// AutoKind 自动生成方式
type AutoKind string

const (
	AutoNone      AutoKind = ""
	AutoIncrement AutoKind = "increment" // 序列/自增
	AutoUUID      AutoKind = "uuid"      // 插入时生成 UUID
)

// RefAction 外键引用动作
type RefAction string

const (
	RefRestrict   RefAction = "restrict"
	RefCascade    RefAction = "cascade"
	RefSetNull    RefAction = "set-null"
	RefSetDefault RefAction = "set-default"
	RefNoAction   RefAction = "no-action"
)

// SQL 返回引用动作对应的 SQL 关键字
func (a RefAction) SQL() string {
	switch a {
	case RefRestrict:
		return "RESTRICT"
	case RefCascade:
		return "CASCADE"
	case RefSetNull:
		return "SET NULL"
	case RefSetDefault:
		return "SET DEFAULT"
	default:
		return "NO ACTION"
	}
}

// Default 列默认值：字面量或者"当前时间戳"哨兵
type Default struct {
	Literal any
	Now     bool
}

// Column 列描述
type Column struct {
	Name      string
	Type      Type
	Elem      Type // 数组元素类型，仅 TypeArray 使用
	Size      int
	Precision int
	Scale     int
	Nullable  bool
	Unique    bool
	Indexed   bool
	Default   *Default
	Auto      AutoKind
}

// ForeignKey 外键描述
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
	OnDelete  RefAction
	OnUpdate  RefAction
}

// Name 外键约束名，fk_<列名> 形式
func (fk *ForeignKey) Name(table string) string {
	return "fk_" + table + "_" + fk.Column
}

// Index 复合索引描述
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Descriptor 表结构描述，构建完成后不可变
type Descriptor struct {
	Table       string
	Namespace   string
	Columns     []Column
	PrimaryKey  string // 零个或一个主键列
	ForeignKeys []ForeignKey
	Indexes     []Index

	byName map[string]int
}

// Column 按名称查找列，不存在时返回 nil
func (d *Descriptor) Column(name string) *Column {
	if i, ok := d.byName[name]; ok {
		return &d.Columns[i]
	}
	return nil
}

// QualifiedTable 返回带命名空间的表名
func (d *Descriptor) QualifiedTable() string {
	if d.Namespace == "" {
		return d.Table
	}
	return d.Namespace + "." + d.Table
}

func (d *Descriptor) index() {
	d.byName = make(map[string]int, len(d.Columns))
	for i := range d.Columns {
		d.byName[d.Columns[i].Name] = i
	}
}

// Snapshot 同步时从数据库目录读出的实际结构，形状与 Descriptor 一致。
// 每次同步都会重新读取，从不跨同步缓存。
type Snapshot struct {
	Table       string
	Exists      bool
	Columns     []Column
	Indexes     []Index
	ForeignKeys []ForeignKey
}

// Column 按名称查找快照中的列，不存在时返回 nil
func (s *Snapshot) Column(name string) *Column {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i]
		}
	}
	return nil
}

// HasIndex 判断快照中是否存在同名索引
func (s *Snapshot) HasIndex(name string) bool {
	for i := range s.Indexes {
		if s.Indexes[i].Name == name {
			return true
		}
	}
	return false
}

// HasForeignKey 判断快照中是否已有引用列上的外键
func (s *Snapshot) HasForeignKey(column string) bool {
	for i := range s.ForeignKeys {
		if s.ForeignKeys[i].Column == column {
			return true
		}
	}
	return false
}
