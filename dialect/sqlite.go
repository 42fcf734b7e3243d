package dialect

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/hatlonely/dbx/schema"
)

// SQLite 方言。嵌入式引擎，DDL 能力受限：
// 不支持修改列类型和给存量表加外键，对应操作返回 ErrUnsupportedDDL。
type SQLite struct{}

func (d *SQLite) Name() string {
	return "sqlite"
}

func (d *SQLite) DriverName() string {
	return "sqlite3"
}

func (d *SQLite) DSN(src *Source) (string, error) {
	if src.Database == "" {
		return "", errors.New("sqlite: database path is empty")
	}
	// Database 是文件路径或 :memory:，外键检查默认关闭需要显式打开
	return src.Database + "?_foreign_keys=on", nil
}

func (d *SQLite) Quote(ident string) string {
	return `"` + ident + `"`
}

func (d *SQLite) Rebind(query string) string {
	return query
}

func (d *SQLite) Profile() WireProfile {
	return WireProfile{BoolAsInt: true}
}

func (d *SQLite) ColumnType(c *schema.Column) (string, error) {
	switch c.Type {
	case schema.TypeSmallInt, schema.TypeInt, schema.TypeBigInt, schema.TypeBool:
		return "INTEGER", nil
	case schema.TypeFloat, schema.TypeDouble:
		return "REAL", nil
	case schema.TypeDecimal:
		return "NUMERIC", nil
	case schema.TypeChar, schema.TypeVarchar, schema.TypeText, schema.TypeUUID,
		schema.TypeDate, schema.TypeTime, schema.TypeTimestamp, schema.TypeTimestampTZ,
		schema.TypeJSON, schema.TypeArray:
		return "TEXT", nil
	case schema.TypeBlob:
		return "BLOB", nil
	default:
		return "", errors.Errorf("sqlite: unsupported type %q", c.Type)
	}
}

func (d *SQLite) columnDef(c *schema.Column, inlinePK bool) (string, error) {
	typ, err := d.ColumnType(c)
	if err != nil {
		return "", err
	}

	parts := []string{d.Quote(c.Name), typ}
	if inlinePK {
		parts = append(parts, "PRIMARY KEY")
		if c.Auto == schema.AutoIncrement {
			parts = append(parts, "AUTOINCREMENT")
		}
	}
	if !c.Nullable && !inlinePK {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != nil {
		parts = append(parts, "DEFAULT "+formatDefault(c.Default, true, "CURRENT_TIMESTAMP"))
	}
	if c.Unique && !inlinePK {
		parts = append(parts, "UNIQUE")
	}
	return strings.Join(parts, " "), nil
}

func (d *SQLite) CreateTableSQL(desc *schema.Descriptor) (string, error) {
	var defs []string
	for i := range desc.Columns {
		c := &desc.Columns[i]
		def, err := d.columnDef(c, c.Name == desc.PrimaryKey)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
	}
	for i := range desc.ForeignKeys {
		defs = append(defs, foreignKeyClause(d, desc.Table, &desc.ForeignKeys[i]))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		d.Quote(desc.Table), strings.Join(defs, ",\n  ")), nil
}

func (d *SQLite) AddColumnSQL(desc *schema.Descriptor, c *schema.Column) (string, error) {
	// ADD COLUMN 的 NOT NULL 列必须带默认值
	if !c.Nullable && c.Default == nil {
		return "", errors.WithMessagef(ErrUnsupportedDDL,
			"sqlite: add not-null column %q without default", c.Name)
	}
	def, err := d.columnDef(c, false)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.Quote(desc.Table), def), nil
}

func (d *SQLite) AlterColumnSQL(desc *schema.Descriptor, c *schema.Column) (string, error) {
	return "", errors.WithMessagef(ErrUnsupportedDDL, "sqlite: alter column %q", c.Name)
}

func (d *SQLite) CreateIndexSQL(table string, idx *schema.Index) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)",
		kind, d.Quote(idx.Name), d.Quote(table), joinQuoted(d, idx.Columns))
}

func (d *SQLite) AddForeignKeySQL(table string, fk *schema.ForeignKey) (string, error) {
	return "", errors.WithMessagef(ErrUnsupportedDDL, "sqlite: add foreign key on %q", fk.Column)
}

func (d *SQLite) InsertSQL(desc *schema.Descriptor, columns []string, policy ConflictPolicy) (string, error) {
	base := insertClause(d, desc.Table, columns)
	switch policy {
	case ConflictError:
		return base, nil
	case ConflictIgnore:
		return strings.Replace(base, "INSERT INTO", "INSERT OR IGNORE INTO", 1), nil
	case ConflictUpdate:
		return strings.Replace(base, "INSERT INTO", "INSERT OR REPLACE INTO", 1), nil
	default:
		return "", errors.Errorf("sqlite: unknown conflict policy %d", policy)
	}
}

func (d *SQLite) ReadSnapshot(ctx context.Context, q Queryer, table string) (*schema.Snapshot, error) {
	snap := &schema.Snapshot{Table: table}

	var count int
	existRows, err := q.QueryContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table)
	if err != nil {
		return nil, errors.WithMessage(err, "sqlite: check table failed")
	}
	if existRows.Next() {
		if err := existRows.Scan(&count); err != nil {
			existRows.Close()
			return nil, errors.WithMessage(err, "sqlite: scan table count failed")
		}
	}
	existRows.Close()
	if count == 0 {
		return snap, nil
	}
	snap.Exists = true

	rows, err := q.QueryContext(ctx,
		fmt.Sprintf("PRAGMA table_info(%s)", d.Quote(table)))
	if err != nil {
		return nil, errors.WithMessage(err, "sqlite: read columns failed")
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notNull, pk int
		var name, declType string
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dfltValue, &pk); err != nil {
			return nil, errors.WithMessage(err, "sqlite: scan column failed")
		}

		col := schema.Column{
			Name:     name,
			Type:     sqliteTypeToSemantic(declType),
			Nullable: notNull == 0 && pk == 0,
		}
		col.Default = parseCatalogDefault(dfltValue)

		snap.Columns = append(snap.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithMessage(err, "sqlite: iterate columns failed")
	}

	idxRows, err := q.QueryContext(ctx,
		fmt.Sprintf("PRAGMA index_list(%s)", d.Quote(table)))
	if err != nil {
		return nil, errors.WithMessage(err, "sqlite: read indexes failed")
	}

	type idxMeta struct {
		name   string
		unique bool
		origin string
	}
	var metas []idxMeta
	for idxRows.Next() {
		var seq, unique, partial int
		var name, origin string
		if err := idxRows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			idxRows.Close()
			return nil, errors.WithMessage(err, "sqlite: scan index failed")
		}
		if origin == "pk" {
			continue
		}
		metas = append(metas, idxMeta{name: name, unique: unique == 1, origin: origin})
	}
	if err := idxRows.Err(); err != nil {
		idxRows.Close()
		return nil, errors.WithMessage(err, "sqlite: iterate indexes failed")
	}
	idxRows.Close()

	for _, meta := range metas {
		colRows, err := q.QueryContext(ctx,
			fmt.Sprintf("PRAGMA index_info(%s)", d.Quote(meta.name)))
		if err != nil {
			return nil, errors.WithMessage(err, "sqlite: read index columns failed")
		}
		idx := schema.Index{Name: meta.name, Unique: meta.unique}
		for colRows.Next() {
			var seqno, cid int
			var colName string
			if err := colRows.Scan(&seqno, &cid, &colName); err != nil {
				colRows.Close()
				return nil, errors.WithMessage(err, "sqlite: scan index column failed")
			}
			idx.Columns = append(idx.Columns, colName)
		}
		if err := colRows.Err(); err != nil {
			colRows.Close()
			return nil, errors.WithMessage(err, "sqlite: iterate index columns failed")
		}
		colRows.Close()

		// 单列唯一索引等价于列上的唯一约束
		if meta.unique && len(idx.Columns) == 1 {
			markColumnUnique(snap, idx.Columns[0])
		}
		// UNIQUE 约束生成的 sqlite_autoindex 不算声明的索引
		if meta.origin == "u" {
			continue
		}
		snap.Indexes = append(snap.Indexes, idx)
	}

	fkRows, err := q.QueryContext(ctx,
		fmt.Sprintf("PRAGMA foreign_key_list(%s)", d.Quote(table)))
	if err != nil {
		return nil, errors.WithMessage(err, "sqlite: read foreign keys failed")
	}
	defer fkRows.Close()

	for fkRows.Next() {
		var id, seq int
		var refTable, from, to, onUpdate, onDelete, match string
		if err := fkRows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, errors.WithMessage(err, "sqlite: scan foreign key failed")
		}
		snap.ForeignKeys = append(snap.ForeignKeys, schema.ForeignKey{
			Column: from, RefTable: refTable, RefColumn: to,
		})
	}
	if err := fkRows.Err(); err != nil {
		return nil, errors.WithMessage(err, "sqlite: iterate foreign keys failed")
	}

	return snap, nil
}

func sqliteTypeToSemantic(declType string) schema.Type {
	t := strings.ToUpper(declType)
	switch {
	case strings.Contains(t, "INT"):
		return schema.TypeInt
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return schema.TypeDouble
	case strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return schema.TypeDecimal
	case strings.Contains(t, "BLOB"):
		return schema.TypeBlob
	default:
		return schema.TypeText
	}
}
