package schema

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func mustBuild(b *Builder) *Descriptor {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}

func userDescriptor() *Descriptor {
	return mustBuild(NewBuilder("users").
		Column(Column{Name: "id", Type: TypeBigInt, Auto: AutoIncrement}).
		Column(Column{Name: "email", Type: TypeVarchar, Size: 255, Unique: true}).
		Column(Column{Name: "created", Type: TypeTimestamp, Default: &Default{Now: true}}).
		PrimaryKey("id"))
}

func userSnapshot() *Snapshot {
	return &Snapshot{
		Table:  "users",
		Exists: true,
		Columns: []Column{
			{Name: "id", Type: TypeBigInt, Auto: AutoIncrement},
			{Name: "email", Type: TypeVarchar, Size: 255},
			{Name: "created", Type: TypeTimestamp, Default: &Default{Now: true}},
		},
		Indexes: []Index{{Name: "uk_users_email", Columns: []string{"email"}, Unique: true}},
	}
}

func TestDiff(t *testing.T) {
	Convey("测试 Diff", t, func() {
		desc := userDescriptor()

		Convey("表不存在时产生单个 create_table", func() {
			plan := Diff(desc, &Snapshot{Table: "users", Exists: false})
			So(plan.Empty(), ShouldBeFalse)
			So(plan.Ops[0].Kind, ShouldEqual, OpCreateTable)

			var creates int
			for _, op := range plan.Ops {
				if op.Kind == OpCreateTable {
					creates++
				}
			}
			So(creates, ShouldEqual, 1)
		})

		Convey("结构一致时计划为空", func() {
			plan := Diff(desc, userSnapshot())
			So(plan.Empty(), ShouldBeTrue)
		})

		Convey("新增可选列只产生一个 add_column", func() {
			grown := mustBuild(NewBuilder("users").
				Column(Column{Name: "id", Type: TypeBigInt, Auto: AutoIncrement}).
				Column(Column{Name: "email", Type: TypeVarchar, Size: 255, Unique: true}).
				Column(Column{Name: "created", Type: TypeTimestamp, Default: &Default{Now: true}}).
				Column(Column{Name: "nickname", Type: TypeVarchar, Size: 64, Nullable: true}).
				PrimaryKey("id"))

			plan := Diff(grown, userSnapshot())
			So(len(plan.Ops), ShouldEqual, 1)
			So(plan.Ops[0].Kind, ShouldEqual, OpAddColumn)
			So(plan.Ops[0].Column.Name, ShouldEqual, "nickname")
		})

		Convey("线上多出的列不产生任何操作", func() {
			snap := userSnapshot()
			snap.Columns = append(snap.Columns, Column{Name: "legacy", Type: TypeText, Nullable: true})

			plan := Diff(desc, snap)
			So(plan.Empty(), ShouldBeTrue)
		})

		Convey("可空性变化产生 alter_column", func() {
			snap := userSnapshot()
			snap.Columns[1].Nullable = true

			plan := Diff(desc, snap)
			So(len(plan.Ops), ShouldEqual, 1)
			So(plan.Ops[0].Kind, ShouldEqual, OpAlterColumn)
			So(plan.Ops[0].Column.Name, ShouldEqual, "email")
		})

		Convey("varchar 扩容产生 alter_column", func() {
			snap := userSnapshot()
			snap.Columns[1].Size = 128

			plan := Diff(desc, snap)
			So(len(plan.Ops), ShouldEqual, 1)
			So(plan.Ops[0].Kind, ShouldEqual, OpAlterColumn)
		})

		Convey("缺失索引产生 add_index", func() {
			snap := userSnapshot()
			snap.Indexes = nil

			plan := Diff(desc, snap)
			So(len(plan.Ops), ShouldEqual, 1)
			So(plan.Ops[0].Kind, ShouldEqual, OpAddIndex)
			So(plan.Ops[0].Index.Unique, ShouldBeTrue)
		})

		Convey("缺失外键产生 add_foreign_key", func() {
			withFK := mustBuild(NewBuilder("orders").
				Column(Column{Name: "id", Type: TypeBigInt}).
				Column(Column{Name: "user_id", Type: TypeBigInt}).
				PrimaryKey("id").
				ForeignKey(ForeignKey{Column: "user_id", RefTable: "users", RefColumn: "id", OnDelete: RefCascade}))

			snap := &Snapshot{
				Table:  "orders",
				Exists: true,
				Columns: []Column{
					{Name: "id", Type: TypeBigInt},
					{Name: "user_id", Type: TypeBigInt},
				},
			}

			plan := Diff(withFK, snap)
			So(len(plan.Ops), ShouldEqual, 1)
			So(plan.Ops[0].Kind, ShouldEqual, OpAddForeignKey)
		})

		Convey("目录折叠类型视为等价", func() {
			boolDesc := mustBuild(NewBuilder("flags").
				Column(Column{Name: "on", Type: TypeBool}))
			snap := &Snapshot{
				Table:   "flags",
				Exists:  true,
				Columns: []Column{{Name: "on", Type: TypeSmallInt}},
			}
			plan := Diff(boolDesc, snap)
			So(plan.Empty(), ShouldBeTrue)
		})
	})
}
