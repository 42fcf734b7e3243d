package dialect

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/dbx/schema"
)

func userDescriptor() *schema.Descriptor {
	desc, err := schema.NewBuilder("users").
		Column(schema.Column{Name: "id", Type: schema.TypeBigInt, Auto: schema.AutoIncrement}).
		Column(schema.Column{Name: "email", Type: schema.TypeVarchar, Size: 128, Unique: true}).
		Column(schema.Column{Name: "active", Type: schema.TypeBool, Nullable: false, Default: &schema.Default{Literal: true}}).
		Column(schema.Column{Name: "created_at", Type: schema.TypeTimestamp, Default: &schema.Default{Now: true}}).
		Column(schema.Column{Name: "org_id", Type: schema.TypeBigInt, Nullable: true}).
		PrimaryKey("id").
		ForeignKey(schema.ForeignKey{Column: "org_id", RefTable: "orgs", RefColumn: "id", OnDelete: schema.RefCascade}).
		Index(schema.Index{Name: "idx_users_org", Columns: []string{"org_id"}}).
		Build()
	if err != nil {
		panic(err)
	}
	return desc
}

func TestNew(t *testing.T) {
	Convey("测试方言工厂", t, func() {
		for _, name := range []string{"mysql", "postgres", "pgx", "sqlite", "sqlite3"} {
			d, err := New(name)
			So(err, ShouldBeNil)
			So(d, ShouldNotBeNil)
		}

		_, err := New("oracle")
		So(err, ShouldNotBeNil)
	})
}

func TestMySQLDialect(t *testing.T) {
	d := &MySQL{}
	desc := userDescriptor()

	Convey("测试 MySQL 方言", t, func() {
		Convey("DSN", func() {
			dsn, err := d.DSN(&Source{
				Host: "127.0.0.1", Port: 3306, Database: "testdb",
				Username: "root", Password: "secret",
				ConnectTimeout: 3 * time.Second,
			})
			So(err, ShouldBeNil)
			So(dsn, ShouldEqual, "root:secret@tcp(127.0.0.1:3306)/testdb?charset=utf8mb4&timeout=3s")

			_, err = d.DSN(&Source{})
			So(err, ShouldNotBeNil)
		})

		Convey("类型映射", func() {
			typ, err := d.ColumnType(&schema.Column{Type: schema.TypeBool})
			So(err, ShouldBeNil)
			So(typ, ShouldEqual, "TINYINT(1)")

			typ, err = d.ColumnType(&schema.Column{Type: schema.TypeVarchar})
			So(err, ShouldBeNil)
			So(typ, ShouldEqual, "VARCHAR(255)")

			typ, err = d.ColumnType(&schema.Column{Type: schema.TypeUUID})
			So(err, ShouldBeNil)
			So(typ, ShouldEqual, "CHAR(36)")

			typ, err = d.ColumnType(&schema.Column{Type: schema.TypeDecimal, Precision: 10, Scale: 2})
			So(err, ShouldBeNil)
			So(typ, ShouldEqual, "DECIMAL(10,2)")
		})

		Convey("建表语句", func() {
			sql, err := d.CreateTableSQL(desc)
			So(err, ShouldBeNil)
			So(sql, ShouldContainSubstring, "CREATE TABLE IF NOT EXISTS `users`")
			So(sql, ShouldContainSubstring, "`id` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY")
			So(sql, ShouldContainSubstring, "`email` VARCHAR(128) NOT NULL UNIQUE")
			So(sql, ShouldContainSubstring, "`active` TINYINT(1) NOT NULL DEFAULT 1")
			So(sql, ShouldContainSubstring, "DEFAULT CURRENT_TIMESTAMP")
			So(sql, ShouldContainSubstring, "CONSTRAINT `fk_users_org_id` FOREIGN KEY (`org_id`) REFERENCES `orgs` (`id`) ON DELETE CASCADE")
		})

		Convey("加列和改列", func() {
			col := desc.Column("email")
			sql, err := d.AddColumnSQL(desc, col)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "ALTER TABLE `users` ADD COLUMN `email` VARCHAR(128) NOT NULL UNIQUE")

			sql, err = d.AlterColumnSQL(desc, col)
			So(err, ShouldBeNil)
			So(sql, ShouldContainSubstring, "MODIFY COLUMN")
		})

		Convey("插入冲突策略", func() {
			cols := []string{"id", "email", "active"}
			sql, err := d.InsertSQL(desc, cols, ConflictError)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "INSERT INTO `users` (`id`, `email`, `active`) VALUES (?, ?, ?)")

			sql, err = d.InsertSQL(desc, cols, ConflictIgnore)
			So(err, ShouldBeNil)
			So(sql, ShouldStartWith, "INSERT IGNORE INTO")

			sql, err = d.InsertSQL(desc, cols, ConflictUpdate)
			So(err, ShouldBeNil)
			So(sql, ShouldContainSubstring, "ON DUPLICATE KEY UPDATE `email` = VALUES(`email`), `active` = VALUES(`active`)")
		})

		Convey("Rebind 是恒等变换", func() {
			So(d.Rebind("a = ? AND b = ?"), ShouldEqual, "a = ? AND b = ?")
		})
	})
}

func TestPostgresDialect(t *testing.T) {
	d := &Postgres{}
	desc := userDescriptor()

	Convey("测试 Postgres 方言", t, func() {
		Convey("DSN", func() {
			dsn, err := d.DSN(&Source{
				Host: "db.internal", Port: 5432, Database: "testdb",
				Username: "app", Password: "secret", SslMode: "require",
			})
			So(err, ShouldBeNil)
			So(dsn, ShouldEqual, "host=db.internal port=5432 dbname=testdb sslmode=require user=app password=secret")

			_, err = d.DSN(&Source{Database: "x", SslMode: "bogus"})
			So(err, ShouldNotBeNil)
		})

		Convey("Rebind 替换为位置占位符", func() {
			So(d.Rebind("a = ? AND b = ?"), ShouldEqual, "a = $1 AND b = $2")
			So(d.Rebind("a = '?' AND b = ?"), ShouldEqual, "a = '?' AND b = $1")
		})

		Convey("类型映射", func() {
			typ, err := d.ColumnType(&schema.Column{Type: schema.TypeBool})
			So(err, ShouldBeNil)
			So(typ, ShouldEqual, "BOOLEAN")

			typ, err = d.ColumnType(&schema.Column{Type: schema.TypeUUID})
			So(err, ShouldBeNil)
			So(typ, ShouldEqual, "UUID")

			typ, err = d.ColumnType(&schema.Column{Type: schema.TypeJSON})
			So(err, ShouldBeNil)
			So(typ, ShouldEqual, "JSONB")

			typ, err = d.ColumnType(&schema.Column{Type: schema.TypeTimestampTZ})
			So(err, ShouldBeNil)
			So(typ, ShouldEqual, "TIMESTAMPTZ")
		})

		Convey("建表语句", func() {
			sql, err := d.CreateTableSQL(desc)
			So(err, ShouldBeNil)
			So(sql, ShouldContainSubstring, `CREATE TABLE IF NOT EXISTS "users"`)
			So(sql, ShouldContainSubstring, `"id" BIGINT GENERATED BY DEFAULT AS IDENTITY NOT NULL PRIMARY KEY`)
			So(sql, ShouldContainSubstring, `"active" BOOLEAN NOT NULL DEFAULT TRUE`)
		})

		Convey("插入冲突策略", func() {
			cols := []string{"id", "email"}
			sql, err := d.InsertSQL(desc, cols, ConflictIgnore)
			So(err, ShouldBeNil)
			So(sql, ShouldEndWith, "ON CONFLICT DO NOTHING")

			sql, err = d.InsertSQL(desc, cols, ConflictUpdate)
			So(err, ShouldBeNil)
			So(sql, ShouldContainSubstring, `ON CONFLICT ("id") DO UPDATE SET "email" = EXCLUDED."email"`)
		})
	})
}

func TestSQLiteDialect(t *testing.T) {
	d := &SQLite{}
	desc := userDescriptor()

	Convey("测试 SQLite 方言", t, func() {
		Convey("DSN 是文件路径", func() {
			dsn, err := d.DSN(&Source{Database: "/data/app.db"})
			So(err, ShouldBeNil)
			So(dsn, ShouldEqual, "/data/app.db?_foreign_keys=on")
		})

		Convey("类型折叠", func() {
			for _, typ := range []schema.Type{schema.TypeSmallInt, schema.TypeInt, schema.TypeBigInt, schema.TypeBool} {
				s, err := d.ColumnType(&schema.Column{Type: typ})
				So(err, ShouldBeNil)
				So(s, ShouldEqual, "INTEGER")
			}
			for _, typ := range []schema.Type{schema.TypeVarchar, schema.TypeUUID, schema.TypeTimestamp, schema.TypeJSON} {
				s, err := d.ColumnType(&schema.Column{Type: typ})
				So(err, ShouldBeNil)
				So(s, ShouldEqual, "TEXT")
			}
		})

		Convey("建表语句", func() {
			sql, err := d.CreateTableSQL(desc)
			So(err, ShouldBeNil)
			So(sql, ShouldContainSubstring, `"id" INTEGER PRIMARY KEY AUTOINCREMENT`)
		})

		Convey("不支持的 DDL 返回哨兵错误", func() {
			col := desc.Column("email")
			_, err := d.AlterColumnSQL(desc, col)
			So(errorsIs(err, ErrUnsupportedDDL), ShouldBeTrue)

			_, err = d.AddForeignKeySQL("users", &desc.ForeignKeys[0])
			So(errorsIs(err, ErrUnsupportedDDL), ShouldBeTrue)
		})

		Convey("加 NOT NULL 列必须带默认值", func() {
			_, err := d.AddColumnSQL(desc, &schema.Column{Name: "flag", Type: schema.TypeBool, Nullable: false})
			So(errorsIs(err, ErrUnsupportedDDL), ShouldBeTrue)

			sql, err := d.AddColumnSQL(desc, &schema.Column{
				Name: "flag", Type: schema.TypeBool, Nullable: false,
				Default: &schema.Default{Literal: false},
			})
			So(err, ShouldBeNil)
			So(sql, ShouldContainSubstring, "DEFAULT 0")
		})

		Convey("插入冲突策略", func() {
			cols := []string{"id", "email"}
			sql, err := d.InsertSQL(desc, cols, ConflictIgnore)
			So(err, ShouldBeNil)
			So(sql, ShouldStartWith, "INSERT OR IGNORE INTO")

			sql, err = d.InsertSQL(desc, cols, ConflictUpdate)
			So(err, ShouldBeNil)
			So(sql, ShouldStartWith, "INSERT OR REPLACE INTO")
		})
	})
}

func TestRenderPlan(t *testing.T) {
	Convey("测试差异计划渲染", t, func() {
		desc := userDescriptor()

		Convey("新表渲染为建表加索引", func() {
			plan := schema.Diff(desc, &schema.Snapshot{Table: "users"})
			stmts, err := RenderPlan(&MySQL{}, desc, plan)
			So(err, ShouldBeNil)
			So(len(stmts), ShouldEqual, 2)
			So(stmts[0], ShouldStartWith, "CREATE TABLE")
			So(stmts[1], ShouldStartWith, "CREATE INDEX")
		})

		Convey("SQLite 不支持的操作向上传播", func() {
			snap := &schema.Snapshot{
				Table:  "users",
				Exists: true,
				Columns: []schema.Column{
					{Name: "id", Type: schema.TypeInt, Nullable: false},
					// 线上 email 可空，声明里不可空，需要 alter
					{Name: "email", Type: schema.TypeText, Nullable: true},
					{Name: "active", Type: schema.TypeInt, Nullable: false, Default: &schema.Default{Literal: "1"}},
					{Name: "created_at", Type: schema.TypeText, Nullable: false, Default: &schema.Default{Now: true}},
					{Name: "org_id", Type: schema.TypeInt, Nullable: true},
				},
				Indexes: []schema.Index{
					{Name: "idx_users_org", Columns: []string{"org_id"}},
					{Name: "uk_users_email", Columns: []string{"email"}, Unique: true},
				},
			}
			plan := schema.Diff(desc, snap)
			_, err := RenderPlan(&SQLite{}, desc, plan)
			So(errorsIs(err, ErrUnsupportedDDL), ShouldBeTrue)
		})
	})
}

func errorsIs(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func TestSQLiteReadSnapshotUnique(t *testing.T) {
	Convey("读取 SQLite 的唯一约束", t, func() {
		db, err := sql.Open("sqlite3", ":memory:")
		So(err, ShouldBeNil)
		defer db.Close()
		db.SetMaxOpenConns(1)

		_, err = db.Exec(`CREATE TABLE accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			org_id INTEGER
		)`)
		So(err, ShouldBeNil)
		_, err = db.Exec(`CREATE INDEX idx_accounts_org ON accounts (org_id)`)
		So(err, ShouldBeNil)

		snap, err := (&SQLite{}).ReadSnapshot(context.Background(), db, "accounts")
		So(err, ShouldBeNil)
		So(snap.Exists, ShouldBeTrue)

		Convey("UNIQUE 约束回标到列上", func() {
			email := snap.Column("email")
			So(email, ShouldNotBeNil)
			So(email.Unique, ShouldBeTrue)
			So(snap.Column("org_id").Unique, ShouldBeFalse)
		})

		Convey("内部自动索引不出现在索引列表", func() {
			for _, idx := range snap.Indexes {
				So(strings.HasPrefix(idx.Name, "sqlite_autoindex"), ShouldBeFalse)
			}
			So(snap.HasIndex("idx_accounts_org"), ShouldBeTrue)
		})
	})
}
