package convert

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/dbx/dialect"
	"github.com/hatlonely/dbx/schema"
)

func TestToWire(t *testing.T) {
	native := NewConverter(dialect.WireProfile{BoolAsInt: false}, nil)
	intBool := NewConverter(dialect.WireProfile{BoolAsInt: true}, nil)

	Convey("测试 ToWire", t, func() {
		Convey("整数", func() {
			v, err := native.ToWire(&schema.Column{Name: "n", Type: schema.TypeInt}, 42)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, int64(42))
		})

		Convey("布尔按后端约定编码", func() {
			col := &schema.Column{Name: "on", Type: schema.TypeBool}

			v, err := native.ToWire(col, true)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, true)

			v, err = intBool.ToWire(col, true)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, int64(1))

			v, err = intBool.ToWire(col, false)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, int64(0))
		})

		Convey("nil 一律透传为 NULL，非空约束交给数据库", func() {
			v, err := native.ToWire(&schema.Column{Name: "n", Type: schema.TypeInt, Nullable: false}, nil)
			So(err, ShouldBeNil)
			So(v, ShouldBeNil)

			v, err = native.ToWire(&schema.Column{Name: "n", Type: schema.TypeInt, Nullable: true}, nil)
			So(err, ShouldBeNil)
			So(v, ShouldBeNil)
		})

		Convey("变长文本超长报错", func() {
			col := &schema.Column{Name: "s", Type: schema.TypeVarchar, Size: 3}
			_, err := native.ToWire(col, "abcd")
			So(err, ShouldNotBeNil)
		})

		Convey("时间类型编码为规范字符串", func() {
			ts := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

			v, err := native.ToWire(&schema.Column{Name: "d", Type: schema.TypeDate}, ts)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "2024-03-15")

			v, err = native.ToWire(&schema.Column{Name: "t", Type: schema.TypeTimestamp}, ts)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "2024-03-15 10:30:00")

			v, err = native.ToWire(&schema.Column{Name: "tz", Type: schema.TypeTimestampTZ}, ts)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "2024-03-15 10:30:00+00:00")
		})

		Convey("时间字符串也可以作为输入", func() {
			v, err := native.ToWire(&schema.Column{Name: "d", Type: schema.TypeDate}, "2024-03-15")
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "2024-03-15")

			_, err = native.ToWire(&schema.Column{Name: "d", Type: schema.TypeDate}, "not-a-date")
			So(err, ShouldNotBeNil)
		})

		Convey("UUID 校验格式", func() {
			col := &schema.Column{Name: "id", Type: schema.TypeUUID}

			v, err := native.ToWire(col, "6ba7b810-9dad-11d1-80b4-00c04fd430c8")
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "6ba7b810-9dad-11d1-80b4-00c04fd430c8")

			_, err = native.ToWire(col, "not-a-uuid")
			So(err, ShouldNotBeNil)
		})

		Convey("结构化值编码为 JSON 字符串", func() {
			col := &schema.Column{Name: "meta", Type: schema.TypeJSON}

			v, err := native.ToWire(col, map[string]any{"k": "v"})
			So(err, ShouldBeNil)
			So(v, ShouldEqual, `{"k":"v"}`)

			v, err = native.ToWire(col, `[1,2,3]`)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, `[1,2,3]`)

			_, err = native.ToWire(col, `{broken`)
			So(err, ShouldNotBeNil)
		})

		Convey("定点小数以字符串传输", func() {
			col := &schema.Column{Name: "price", Type: schema.TypeDecimal}

			v, err := native.ToWire(col, "19.99")
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "19.99")

			_, err = native.ToWire(col, "19.99.99")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestFromWire(t *testing.T) {
	c := NewConverter(dialect.WireProfile{BoolAsInt: true}, nil)

	Convey("测试 FromWire", t, func() {
		Convey("nil 原样传递", func() {
			v, err := c.FromWire(&schema.Column{Name: "n", Type: schema.TypeInt}, nil)
			So(err, ShouldBeNil)
			So(v, ShouldBeNil)
		})

		Convey("驱动返回的各种整数形态", func() {
			col := &schema.Column{Name: "n", Type: schema.TypeBigInt}
			for _, raw := range []any{int64(7), "7", []byte("7")} {
				v, err := c.FromWire(col, raw)
				So(err, ShouldBeNil)
				So(v, ShouldEqual, int64(7))
			}
		})

		Convey("布尔接受 0/1 和原生布尔", func() {
			col := &schema.Column{Name: "on", Type: schema.TypeBool}
			for _, raw := range []any{int64(1), true, "1", "true"} {
				v, err := c.FromWire(col, raw)
				So(err, ShouldBeNil)
				So(v, ShouldEqual, true)
			}
		})

		Convey("时间戳接受规范字符串和原生时间", func() {
			col := &schema.Column{Name: "t", Type: schema.TypeTimestamp}

			v, err := c.FromWire(col, "2024-03-15 10:30:00")
			So(err, ShouldBeNil)
			So(v.(time.Time).Year(), ShouldEqual, 2024)

			native := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
			v, err = c.FromWire(col, native)
			So(err, ShouldBeNil)
			So(v.(time.Time).Equal(native), ShouldBeTrue)
		})

		Convey("畸形值宽松解码为零值", func() {
			v, err := c.FromWire(&schema.Column{Name: "n", Type: schema.TypeInt}, "garbage")
			So(err, ShouldBeNil)
			So(v, ShouldEqual, int64(0))

			v, err = c.FromWire(&schema.Column{Name: "t", Type: schema.TypeTimestamp}, "not-a-time")
			So(err, ShouldBeNil)
			So(v.(time.Time).IsZero(), ShouldBeTrue)

			v, err = c.FromWire(&schema.Column{Name: "on", Type: schema.TypeBool}, "maybe")
			So(err, ShouldBeNil)
			So(v, ShouldEqual, false)
		})

		Convey("往返一致", func() {
			col := &schema.Column{Name: "tz", Type: schema.TypeTimestampTZ}
			orig := time.Date(2024, 3, 15, 10, 30, 0, 0, time.FixedZone("CST", 8*3600))

			wire, err := c.ToWire(col, orig)
			So(err, ShouldBeNil)
			So(wire, ShouldEqual, "2024-03-15 10:30:00+08:00")

			back, err := c.FromWire(col, wire)
			So(err, ShouldBeNil)
			So(back.(time.Time).Equal(orig), ShouldBeTrue)
		})
	})
}
