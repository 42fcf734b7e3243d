package schema

import (
	"fmt"
)

// OpKind 差异计划中的 DDL 操作类型
type OpKind string

const (
	OpCreateTable   OpKind = "create_table"
	OpAddColumn     OpKind = "add_column"
	OpAlterColumn   OpKind = "alter_column"
	OpAddIndex      OpKind = "add_index"
	OpAddForeignKey OpKind = "add_foreign_key"
)

// Op 单个 DDL 操作。Kind 决定哪个字段有效。
type Op struct {
	Kind       OpKind
	Column     *Column
	Index      *Index
	ForeignKey *ForeignKey
}

// Plan 有序的 DDL 操作列表。只包含增量操作，
// 模型中不存在的线上列永远不会产生删除操作。
type Plan struct {
	Table string
	Ops   []Op
}

// Empty 判断计划是否为空（结构已一致）
func (p *Plan) Empty() bool {
	return len(p.Ops) == 0
}

// Diff 比较表结构描述与线上快照，计算最小增量 DDL 计划。
// 纯函数：不读写数据库。
//
//   - 表不存在 → 单个 create_table（含全部列、主键、索引）
//   - 描述中有而线上没有的列 → add_column
//   - 两边都有但类型/可空性/默认值不同 → alter_column
//   - 描述中声明而线上没有的索引/外键 → add_index / add_foreign_key
//   - 线上多出的列不产生任何操作
func Diff(desc *Descriptor, snap *Snapshot) *Plan {
	plan := &Plan{Table: desc.Table}

	// 表不存在：create_table 内联主键、唯一约束和外键，索引单独建
	if snap == nil || !snap.Exists {
		plan.Ops = append(plan.Ops, Op{Kind: OpCreateTable})
		for i := range desc.Indexes {
			plan.Ops = append(plan.Ops, Op{Kind: OpAddIndex, Index: &desc.Indexes[i]})
		}
		return plan
	}

	for i := range desc.Columns {
		want := &desc.Columns[i]
		got := snap.Column(want.Name)
		if got == nil {
			plan.Ops = append(plan.Ops, Op{Kind: OpAddColumn, Column: want})
			continue
		}
		if !columnEqual(want, got) {
			plan.Ops = append(plan.Ops, Op{Kind: OpAlterColumn, Column: want})
		}
	}

	for i := range desc.Indexes {
		idx := &desc.Indexes[i]
		if !snap.HasIndex(idx.Name) {
			plan.Ops = append(plan.Ops, Op{Kind: OpAddIndex, Index: idx})
		}
	}

	// 列上声明的单列唯一约束也以唯一索引形式补齐
	for i := range desc.Columns {
		c := &desc.Columns[i]
		if !c.Unique || c.Name == desc.PrimaryKey {
			continue
		}
		name := "uk_" + desc.Table + "_" + c.Name
		if snap.HasIndex(name) {
			continue
		}
		if got := snap.Column(c.Name); got != nil && got.Unique {
			continue
		}
		plan.Ops = append(plan.Ops, Op{
			Kind:  OpAddIndex,
			Index: &Index{Name: name, Columns: []string{c.Name}, Unique: true},
		})
	}

	for i := range desc.ForeignKeys {
		fk := &desc.ForeignKeys[i]
		if !snap.HasForeignKey(fk.Column) {
			plan.Ops = append(plan.Ops, Op{Kind: OpAddForeignKey, ForeignKey: fk})
		}
	}

	return plan
}

// columnEqual 比较声明的列和线上的列。只比较会产生 alter 的属性：
// 类型、可空性、默认值。长度/精度的收缩属于破坏性变更，不参与比较。
func columnEqual(want, got *Column) bool {
	if !typeEqual(want, got) {
		return false
	}
	if want.Nullable != got.Nullable {
		return false
	}
	return defaultEqual(want.Default, got.Default)
}

func typeEqual(want, got *Column) bool {
	if want.Type == got.Type {
		// 变长文本的扩容需要 alter
		if want.Type.HasSize() && got.Size > 0 && want.Size > got.Size {
			return false
		}
		return true
	}
	// 不同引擎的目录会把部分语义类型折叠成近似类型，视为等价
	return compatibleType(want.Type, got.Type)
}

// compatibleType 目录读出的类型与声明类型之间的等价关系。
// SQLite 没有独立的布尔/UUID/JSON 存储类，MySQL 用 tinyint 表示布尔。
func compatibleType(want, got Type) bool {
	switch want {
	case TypeBool:
		return got == TypeSmallInt || got == TypeInt
	case TypeSmallInt, TypeBigInt:
		return got == TypeInt
	case TypeFloat:
		return got == TypeDouble
	case TypeChar, TypeVarchar:
		return got == TypeText
	case TypeUUID:
		return got == TypeChar || got == TypeVarchar || got == TypeText
	case TypeJSON, TypeArray:
		return got == TypeText || got == TypeJSON
	case TypeDate, TypeTime, TypeTimestamp, TypeTimestampTZ:
		return got == TypeText || got == TypeVarchar
	case TypeDecimal:
		return got == TypeDouble
	}
	return false
}

func defaultEqual(want, got *Default) bool {
	// 声明里没有默认值时不产生 alter，去掉已有默认值属于破坏性变更
	if want == nil {
		return true
	}
	if got == nil {
		return false
	}
	if want.Now || got.Now {
		return want.Now == got.Now
	}
	return literalString(want.Literal) == literalString(got.Literal)
}

// literalString 默认值字面量的规范字符串形式。
// 目录把布尔默认值存成 0/1 或 true/false，两种写法视为等价。
func literalString(v any) string {
	s := fmt.Sprint(v)
	switch s {
	case "true":
		return "1"
	case "false":
		return "0"
	}
	return s
}
