package dialect

import (
	"fmt"
	"strings"

	"github.com/hatlonely/dbx/schema"
)

// formatDefault 渲染 DEFAULT 子句的值部分
func formatDefault(d *schema.Default, boolAsInt bool, nowKeyword string) string {
	if d.Now {
		return nowKeyword
	}
	switch v := d.Literal.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case bool:
		if boolAsInt {
			if v {
				return "1"
			}
			return "0"
		}
		if v {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprint(v)
	}
}

// joinQuoted 引用并连接标识符列表
func joinQuoted(d Dialect, idents []string) string {
	parts := make([]string, len(idents))
	for i, ident := range idents {
		parts[i] = d.Quote(ident)
	}
	return strings.Join(parts, ", ")
}

// foreignKeyClause 渲染外键约束子句（各方言语法一致）
func foreignKeyClause(d Dialect, table string, fk *schema.ForeignKey) string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s ON UPDATE %s",
		d.Quote(fk.Name(table)),
		d.Quote(fk.Column),
		d.Quote(fk.RefTable),
		d.Quote(fk.RefColumn),
		fk.OnDelete.SQL(),
		fk.OnUpdate.SQL(),
	)
}

// markColumnUnique 把快照里的列标记为唯一。
// 引擎用内部命名的唯一索引实现列上的 UNIQUE 约束，按覆盖的列回标。
func markColumnUnique(snap *schema.Snapshot, column string) {
	for i := range snap.Columns {
		if snap.Columns[i].Name == column {
			snap.Columns[i].Unique = true
			return
		}
	}
}

// insertClause 渲染 INSERT INTO t (cols) VALUES (?...) 主体
func insertClause(d Dialect, table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.Quote(table), joinQuoted(d, columns), strings.Join(placeholders, ", "))
}
