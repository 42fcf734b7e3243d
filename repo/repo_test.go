package repo

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/dbx/dialect"
	"github.com/hatlonely/dbx/query"
	"github.com/hatlonely/dbx/tablesync"
)

type User struct {
	ID        int64     `dbx:"id,type=bigint,primary,auto"`
	Email     string    `dbx:"email,type=varchar,size=128,required,unique"`
	Active    bool      `dbx:"active,type=bool,required"`
	Age       int       `dbx:"age,type=int,required"`
	Tags      []string  `dbx:"tags,type=json"`
	CreatedAt time.Time `dbx:"created_at,type=timestamp,required"`
}

func (User) TableName() string {
	return "users"
}

type Session struct {
	Token  string `dbx:"token,type=uuid,primary,auto_uuid"`
	UserID int64  `dbx:"user_id,type=bigint,required"`
}

func (Session) TableName() string {
	return "sessions"
}

func newUserRepo(t *testing.T) (*Repository[User], *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)

	d, err := dialect.New("sqlite")
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRepositoryWithOptions[User](NewDBSessions(db), d, nil)
	if err != nil {
		t.Fatal(err)
	}

	syncer := tablesync.NewSyncerWithOptions(d, db, nil)
	if _, err := syncer.Sync(context.Background(), r.Descriptor()); err != nil {
		t.Fatal(err)
	}
	return r, db
}

func sampleUser(email string, age int) *User {
	return &User{
		Email:     email,
		Active:    true,
		Age:       age,
		Tags:      []string{"a", "b"},
		CreatedAt: time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestRepositoryCRUD(t *testing.T) {
	ctx := context.Background()

	Convey("测试仓库增删改查", t, func() {
		r, db := newUserRepo(t)
		defer db.Close()

		Convey("插入后自增主键写回结构体", func() {
			u := sampleUser("a@x.com", 30)
			So(r.Insert(ctx, u), ShouldBeNil)
			So(u.ID, ShouldBeGreaterThan, 0)
		})

		Convey("按主键查询还原全部字段", func() {
			u := sampleUser("a@x.com", 30)
			So(r.Insert(ctx, u), ShouldBeNil)

			got, err := r.FindByID(ctx, u.ID)
			So(err, ShouldBeNil)
			So(got.Email, ShouldEqual, "a@x.com")
			So(got.Active, ShouldBeTrue)
			So(got.Age, ShouldEqual, 30)
			So(got.Tags, ShouldResemble, []string{"a", "b"})
			So(got.CreatedAt.Equal(u.CreatedAt), ShouldBeTrue)
		})

		Convey("不存在的主键返回 ErrNotFound", func() {
			_, err := r.FindByID(ctx, int64(404))
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("更新整行", func() {
			u := sampleUser("a@x.com", 30)
			So(r.Insert(ctx, u), ShouldBeNil)

			u.Age = 31
			u.Active = false
			So(r.Update(ctx, u), ShouldBeNil)

			got, err := r.FindByID(ctx, u.ID)
			So(err, ShouldBeNil)
			So(got.Age, ShouldEqual, 31)
			So(got.Active, ShouldBeFalse)
		})

		Convey("更新不存在的行返回 ErrNotFound", func() {
			u := sampleUser("a@x.com", 30)
			u.ID = 404
			So(errors.Is(r.Update(ctx, u), ErrNotFound), ShouldBeTrue)
		})

		Convey("删除后查询不到", func() {
			u := sampleUser("a@x.com", 30)
			So(r.Insert(ctx, u), ShouldBeNil)
			So(r.Delete(ctx, u.ID), ShouldBeNil)

			_, err := r.FindByID(ctx, u.ID)
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)

			// 删除不存在的行也返回成功
			So(r.Delete(ctx, u.ID), ShouldBeNil)
		})

		Convey("唯一约束冲突按策略处理", func() {
			So(r.Insert(ctx, sampleUser("a@x.com", 30)), ShouldBeNil)

			So(r.Insert(ctx, sampleUser("a@x.com", 31)), ShouldNotBeNil)
			So(r.Insert(ctx, sampleUser("a@x.com", 31), WithConflict(dialect.ConflictIgnore)), ShouldBeNil)

			count, err := r.Count(ctx, nil)
			So(err, ShouldBeNil)
			So(count, ShouldEqual, 1)
		})
	})
}

func TestRepositoryFind(t *testing.T) {
	ctx := context.Background()

	Convey("测试条件查询", t, func() {
		r, db := newUserRepo(t)
		defer db.Close()

		users := []User{
			*sampleUser("alice@x.com", 25),
			*sampleUser("bob@x.com", 35),
			*sampleUser("carol@y.com", 45),
		}
		users[2].Active = false
		n, err := r.InsertMany(ctx, users)
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 3)

		Convey("范围查询", func() {
			got, err := r.Find(ctx, &query.RangeQuery{Field: "age", Gte: 30})
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 2)
		})

		Convey("布尔组合查询", func() {
			q := &query.BoolQuery{
				Must: []query.Query{
					&query.TermQuery{Field: "active", Value: true},
					&query.RangeQuery{Field: "age", Lt: 30},
				},
			}
			got, err := r.Find(ctx, q)
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 1)
			So(got[0].Email, ShouldEqual, "alice@x.com")
		})

		Convey("前缀查询", func() {
			got, err := r.Find(ctx, &query.PrefixQuery{Field: "email", Value: "bob"})
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 1)
		})

		Convey("排序和分页", func() {
			got, err := r.Find(ctx, nil, WithOrderBy("age", true), WithLimit(2))
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 2)
			So(got[0].Age, ShouldEqual, 45)

			got, err = r.Find(ctx, nil, WithOrderBy("age", false), WithLimit(1), WithOffset(1))
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 1)
			So(got[0].Age, ShouldEqual, 35)
		})

		Convey("FindOne 和 Exists", func() {
			got, err := r.FindOne(ctx, &query.TermQuery{Field: "email", Value: "bob@x.com"})
			So(err, ShouldBeNil)
			So(got.Age, ShouldEqual, 35)

			_, err = r.FindOne(ctx, &query.TermQuery{Field: "email", Value: "nobody@x.com"})
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)

			ok, err := r.Exists(ctx, &query.TermQuery{Field: "age", Value: 45})
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})

		Convey("Count 带条件", func() {
			count, err := r.Count(ctx, &query.TermQuery{Field: "active", Value: true})
			So(err, ShouldBeNil)
			So(count, ShouldEqual, 2)
		})

		Convey("非法字段名被拒绝", func() {
			_, err := r.Find(ctx, &query.TermQuery{Field: "age; DROP TABLE users", Value: 1})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestRepositoryAutoUUID(t *testing.T) {
	ctx := context.Background()

	Convey("测试 uuid 主键自动生成", t, func() {
		db, err := sql.Open("sqlite3", ":memory:")
		So(err, ShouldBeNil)
		db.SetMaxOpenConns(1)
		defer db.Close()

		d, err := dialect.New("sqlite")
		So(err, ShouldBeNil)
		r, err := NewRepositoryWithOptions[Session](NewDBSessions(db), d, nil)
		So(err, ShouldBeNil)

		syncer := tablesync.NewSyncerWithOptions(d, db, nil)
		_, err = syncer.Sync(ctx, r.Descriptor())
		So(err, ShouldBeNil)

		s := &Session{UserID: 7}
		So(r.Insert(ctx, s), ShouldBeNil)
		So(len(s.Token), ShouldEqual, 36)

		got, err := r.FindByID(ctx, s.Token)
		So(err, ShouldBeNil)
		So(got.UserID, ShouldEqual, 7)
	})
}
