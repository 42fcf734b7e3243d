package dialect

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/hatlonely/dbx/schema"
)

// MySQL 方言
type MySQL struct{}

func (d *MySQL) Name() string {
	return "mysql"
}

func (d *MySQL) DriverName() string {
	return "mysql"
}

func (d *MySQL) DSN(src *Source) (string, error) {
	if src.Database == "" {
		return "", errors.New("mysql: database is empty")
	}
	charset := src.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	host := src.Host
	if host == "" {
		host = "localhost"
	}
	port := src.Port
	if port == 0 {
		port = 3306
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s",
		src.Username, src.Password, host, port, src.Database, charset)
	if src.ConnectTimeout > 0 {
		dsn += fmt.Sprintf("&timeout=%s", src.ConnectTimeout)
	}
	// MySQL 没有 sslmode 分级，verify 以上映射为强制 TLS
	switch src.SslMode {
	case "", "disable", "allow", "prefer":
	case "require":
		dsn += "&tls=true"
	case "verify-ca", "verify-full":
		dsn += "&tls=true"
	default:
		return "", errors.Errorf("mysql: unknown sslmode %q", src.SslMode)
	}
	return dsn, nil
}

func (d *MySQL) Quote(ident string) string {
	return "`" + ident + "`"
}

func (d *MySQL) Rebind(query string) string {
	return query
}

func (d *MySQL) Profile() WireProfile {
	return WireProfile{BoolAsInt: true}
}

func (d *MySQL) ColumnType(c *schema.Column) (string, error) {
	switch c.Type {
	case schema.TypeSmallInt:
		return "SMALLINT", nil
	case schema.TypeInt:
		return "INT", nil
	case schema.TypeBigInt:
		return "BIGINT", nil
	case schema.TypeFloat:
		return "FLOAT", nil
	case schema.TypeDouble:
		return "DOUBLE", nil
	case schema.TypeDecimal:
		precision, scale := c.Precision, c.Scale
		if precision == 0 {
			precision = 18
		}
		return fmt.Sprintf("DECIMAL(%d,%d)", precision, scale), nil
	case schema.TypeBool:
		return "TINYINT(1)", nil
	case schema.TypeChar:
		size := c.Size
		if size == 0 {
			size = 1
		}
		return fmt.Sprintf("CHAR(%d)", size), nil
	case schema.TypeVarchar:
		size := c.Size
		if size == 0 {
			size = 255
		}
		return fmt.Sprintf("VARCHAR(%d)", size), nil
	case schema.TypeText:
		return "TEXT", nil
	case schema.TypeBlob:
		return "BLOB", nil
	case schema.TypeUUID:
		return "CHAR(36)", nil
	case schema.TypeDate:
		return "DATE", nil
	case schema.TypeTime:
		return "TIME", nil
	case schema.TypeTimestamp:
		return "DATETIME", nil
	case schema.TypeTimestampTZ:
		// DATETIME 不能保存偏移量，带时区时间戳以规范字符串存储
		return "VARCHAR(40)", nil
	case schema.TypeJSON, schema.TypeArray:
		return "JSON", nil
	default:
		return "", errors.Errorf("mysql: unsupported type %q", c.Type)
	}
}

func (d *MySQL) columnDef(c *schema.Column, inlinePK bool) (string, error) {
	typ, err := d.ColumnType(c)
	if err != nil {
		return "", err
	}

	parts := []string{d.Quote(c.Name), typ}
	if !c.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != nil {
		parts = append(parts, "DEFAULT "+formatDefault(c.Default, true, "CURRENT_TIMESTAMP"))
	}
	if c.Auto == schema.AutoIncrement {
		parts = append(parts, "AUTO_INCREMENT")
	}
	if inlinePK {
		parts = append(parts, "PRIMARY KEY")
	}
	if c.Unique && !inlinePK {
		parts = append(parts, "UNIQUE")
	}
	return strings.Join(parts, " "), nil
}

func (d *MySQL) CreateTableSQL(desc *schema.Descriptor) (string, error) {
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

func (d *MySQL) AddColumnSQL(desc *schema.Descriptor, c *schema.Column) (string, error) {
	def, err := d.columnDef(c, false)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.Quote(desc.Table), def), nil
}

func (d *MySQL) AlterColumnSQL(desc *schema.Descriptor, c *schema.Column) (string, error) {
	def, err := d.columnDef(c, false)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", d.Quote(desc.Table), def), nil
}

func (d *MySQL) CreateIndexSQL(table string, idx *schema.Index) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	// MySQL 的索引不支持 IF NOT EXISTS
	return fmt.Sprintf("CREATE %s %s ON %s (%s)",
		kind, d.Quote(idx.Name), d.Quote(table), joinQuoted(d, idx.Columns))
}

func (d *MySQL) AddForeignKeySQL(table string, fk *schema.ForeignKey) (string, error) {
	return fmt.Sprintf("ALTER TABLE %s ADD %s",
		d.Quote(table), foreignKeyClause(d, table, fk)), nil
}

func (d *MySQL) InsertSQL(desc *schema.Descriptor, columns []string, policy ConflictPolicy) (string, error) {
	base := insertClause(d, desc.Table, columns)
	switch policy {
	case ConflictError:
		return base, nil
	case ConflictIgnore:
		return strings.Replace(base, "INSERT INTO", "INSERT IGNORE INTO", 1), nil
	case ConflictUpdate:
		var updates []string
		for _, col := range columns {
			if col == desc.PrimaryKey {
				continue
			}
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", d.Quote(col), d.Quote(col)))
		}
		if len(updates) == 0 {
			return strings.Replace(base, "INSERT INTO", "INSERT IGNORE INTO", 1), nil
		}
		return base + " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", "), nil
	default:
		return "", errors.Errorf("mysql: unknown conflict policy %d", policy)
	}
}

func (d *MySQL) ReadSnapshot(ctx context.Context, q Queryer, table string) (*schema.Snapshot, error) {
	snap := &schema.Snapshot{Table: table}

	rows, err := q.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE, COALESCE(CHARACTER_MAXIMUM_LENGTH, 0),
		       COALESCE(NUMERIC_PRECISION, 0), COALESCE(NUMERIC_SCALE, 0),
		       IS_NULLABLE, COLUMN_DEFAULT, EXTRA, COLUMN_KEY
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, table)
	if err != nil {
		return nil, errors.WithMessage(err, "mysql: read columns failed")
	}
	defer rows.Close()

	for rows.Next() {
		var name, dataType, nullable, extra, key string
		var maxLen, precision, scale int
		var columnDefault *string
		if err := rows.Scan(&name, &dataType, &maxLen, &precision, &scale, &nullable, &columnDefault, &extra, &key); err != nil {
			return nil, errors.WithMessage(err, "mysql: scan column failed")
		}

		col := schema.Column{
			Name:     name,
			Type:     mysqlTypeToSemantic(dataType),
			Nullable: strings.EqualFold(nullable, "YES"),
		}
		if col.Type.HasSize() {
			col.Size = maxLen
		}
		if col.Type.HasPrecision() {
			col.Precision, col.Scale = precision, scale
		}
		if strings.Contains(strings.ToLower(extra), "auto_increment") {
			col.Auto = schema.AutoIncrement
		}
		if strings.EqualFold(key, "UNI") {
			col.Unique = true
		}
		col.Default = parseCatalogDefault(columnDefault)

		snap.Columns = append(snap.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithMessage(err, "mysql: iterate columns failed")
	}
	if len(snap.Columns) == 0 {
		return snap, nil
	}
	snap.Exists = true

	idxRows, err := q.QueryContext(ctx, `
		SELECT INDEX_NAME, NON_UNIQUE, COLUMN_NAME
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`, table)
	if err != nil {
		return nil, errors.WithMessage(err, "mysql: read indexes failed")
	}
	defer idxRows.Close()

	indexes := map[string]*schema.Index{}
	var order []string
	for idxRows.Next() {
		var name, column string
		var nonUnique int
		if err := idxRows.Scan(&name, &nonUnique, &column); err != nil {
			return nil, errors.WithMessage(err, "mysql: scan index failed")
		}
		if name == "PRIMARY" {
			continue
		}
		idx, ok := indexes[name]
		if !ok {
			idx = &schema.Index{Name: name, Unique: nonUnique == 0}
			indexes[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, column)
	}
	if err := idxRows.Err(); err != nil {
		return nil, errors.WithMessage(err, "mysql: iterate indexes failed")
	}
	for _, name := range order {
		snap.Indexes = append(snap.Indexes, *indexes[name])
	}

	fkRows, err := q.QueryContext(ctx, `
		SELECT k.COLUMN_NAME, k.REFERENCED_TABLE_NAME, k.REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE k
		WHERE k.TABLE_SCHEMA = DATABASE() AND k.TABLE_NAME = ?
		  AND k.REFERENCED_TABLE_NAME IS NOT NULL`, table)
	if err != nil {
		return nil, errors.WithMessage(err, "mysql: read foreign keys failed")
	}
	defer fkRows.Close()

	for fkRows.Next() {
		var column, refTable, refColumn string
		if err := fkRows.Scan(&column, &refTable, &refColumn); err != nil {
			return nil, errors.WithMessage(err, "mysql: scan foreign key failed")
		}
		snap.ForeignKeys = append(snap.ForeignKeys, schema.ForeignKey{
			Column: column, RefTable: refTable, RefColumn: refColumn,
		})
	}
	if err := fkRows.Err(); err != nil {
		return nil, errors.WithMessage(err, "mysql: iterate foreign keys failed")
	}

	return snap, nil
}

func mysqlTypeToSemantic(dataType string) schema.Type {
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint":
		return schema.TypeSmallInt
	case "int", "mediumint":
		return schema.TypeInt
	case "bigint":
		return schema.TypeBigInt
	case "float":
		return schema.TypeFloat
	case "double":
		return schema.TypeDouble
	case "decimal":
		return schema.TypeDecimal
	case "char":
		return schema.TypeChar
	case "varchar":
		return schema.TypeVarchar
	case "text", "mediumtext", "longtext":
		return schema.TypeText
	case "blob", "mediumblob", "longblob", "varbinary", "binary":
		return schema.TypeBlob
	case "date":
		return schema.TypeDate
	case "time":
		return schema.TypeTime
	case "datetime", "timestamp":
		return schema.TypeTimestamp
	case "json":
		return schema.TypeJSON
	default:
		return schema.TypeText
	}
}

// parseCatalogDefault 解析目录中的默认值表达式
func parseCatalogDefault(raw *string) *schema.Default {
	if raw == nil {
		return nil
	}
	v := strings.TrimSpace(*raw)
	if v == "" || strings.EqualFold(v, "NULL") {
		return nil
	}
	upper := strings.ToUpper(v)
	if strings.HasPrefix(upper, "CURRENT_TIMESTAMP") || upper == "NOW()" {
		return &schema.Default{Now: true}
	}
	v = strings.Trim(v, "'")
	v = strings.TrimSuffix(strings.TrimPrefix(v, "("), ")")
	return &schema.Default{Literal: v}
}
