package dialect

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"

	"github.com/hatlonely/dbx/schema"
)

// Postgres 方言
type Postgres struct{}

func (d *Postgres) Name() string {
	return "postgres"
}

func (d *Postgres) DriverName() string {
	return "pgx"
}

func (d *Postgres) DSN(src *Source) (string, error) {
	if src.Database == "" {
		return "", errors.New("postgres: database is empty")
	}
	host := src.Host
	if host == "" {
		host = "localhost"
	}
	port := src.Port
	if port == 0 {
		port = 5432
	}
	sslMode := src.SslMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	switch sslMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return "", errors.Errorf("postgres: unknown sslmode %q", sslMode)
	}

	parts := []string{
		"host=" + host,
		fmt.Sprintf("port=%d", port),
		"dbname=" + src.Database,
		"sslmode=" + sslMode,
	}
	if src.Username != "" {
		parts = append(parts, "user="+src.Username)
	}
	if src.Password != "" {
		parts = append(parts, "password="+src.Password)
	}
	if src.ConnectTimeout > 0 {
		seconds := int(src.ConnectTimeout.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", seconds))
	}
	return strings.Join(parts, " "), nil
}

func (d *Postgres) Quote(ident string) string {
	return `"` + ident + `"`
}

// Rebind 将 ? 占位符按出现顺序替换为 $1..$n，跳过单引号字符串内的问号
func (d *Postgres) Rebind(query string) string {
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	inString := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			inString = !inString
		}
		if ch == '?' && !inString {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(ch)
	}
	return sb.String()
}

func (d *Postgres) Profile() WireProfile {
	return WireProfile{BoolAsInt: false}
}

func (d *Postgres) ColumnType(c *schema.Column) (string, error) {
	switch c.Type {
	case schema.TypeSmallInt:
		return "SMALLINT", nil
	case schema.TypeInt:
		return "INTEGER", nil
	case schema.TypeBigInt:
		return "BIGINT", nil
	case schema.TypeFloat:
		return "REAL", nil
	case schema.TypeDouble:
		return "DOUBLE PRECISION", nil
	case schema.TypeDecimal:
		precision, scale := c.Precision, c.Scale
		if precision == 0 {
			precision = 18
		}
		return fmt.Sprintf("NUMERIC(%d,%d)", precision, scale), nil
	case schema.TypeBool:
		return "BOOLEAN", nil
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
		return "BYTEA", nil
	case schema.TypeUUID:
		return "UUID", nil
	case schema.TypeDate:
		return "DATE", nil
	case schema.TypeTime:
		return "TIME", nil
	case schema.TypeTimestamp:
		return "TIMESTAMP", nil
	case schema.TypeTimestampTZ:
		return "TIMESTAMPTZ", nil
	case schema.TypeJSON, schema.TypeArray:
		return "JSONB", nil
	default:
		return "", errors.Errorf("postgres: unsupported type %q", c.Type)
	}
}

func (d *Postgres) columnDef(c *schema.Column, inlinePK bool) (string, error) {
	typ, err := d.ColumnType(c)
	if err != nil {
		return "", err
	}

	parts := []string{d.Quote(c.Name), typ}
	if c.Auto == schema.AutoIncrement {
		parts = append(parts, "GENERATED BY DEFAULT AS IDENTITY")
	}
	if !c.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != nil {
		parts = append(parts, "DEFAULT "+formatDefault(c.Default, false, "CURRENT_TIMESTAMP"))
	}
	if inlinePK {
		parts = append(parts, "PRIMARY KEY")
	}
	if c.Unique && !inlinePK {
		parts = append(parts, "UNIQUE")
	}
	return strings.Join(parts, " "), nil
}

func (d *Postgres) CreateTableSQL(desc *schema.Descriptor) (string, error) {
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

func (d *Postgres) AddColumnSQL(desc *schema.Descriptor, c *schema.Column) (string, error) {
	def, err := d.columnDef(c, false)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s",
		d.Quote(desc.Table), def), nil
}

func (d *Postgres) AlterColumnSQL(desc *schema.Descriptor, c *schema.Column) (string, error) {
	typ, err := d.ColumnType(c)
	if err != nil {
		return "", err
	}
	stmts := []string{
		fmt.Sprintf("ALTER COLUMN %s TYPE %s", d.Quote(c.Name), typ),
	}
	if c.Nullable {
		stmts = append(stmts, fmt.Sprintf("ALTER COLUMN %s DROP NOT NULL", d.Quote(c.Name)))
	} else {
		stmts = append(stmts, fmt.Sprintf("ALTER COLUMN %s SET NOT NULL", d.Quote(c.Name)))
	}
	if c.Default != nil {
		stmts = append(stmts, fmt.Sprintf("ALTER COLUMN %s SET DEFAULT %s",
			d.Quote(c.Name), formatDefault(c.Default, false, "CURRENT_TIMESTAMP")))
	}
	return fmt.Sprintf("ALTER TABLE %s %s", d.Quote(desc.Table), strings.Join(stmts, ", ")), nil
}

func (d *Postgres) CreateIndexSQL(table string, idx *schema.Index) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)",
		kind, d.Quote(idx.Name), d.Quote(table), joinQuoted(d, idx.Columns))
}

func (d *Postgres) AddForeignKeySQL(table string, fk *schema.ForeignKey) (string, error) {
	return fmt.Sprintf("ALTER TABLE %s ADD %s",
		d.Quote(table), foreignKeyClause(d, table, fk)), nil
}

func (d *Postgres) InsertSQL(desc *schema.Descriptor, columns []string, policy ConflictPolicy) (string, error) {
	base := insertClause(d, desc.Table, columns)
	switch policy {
	case ConflictError:
		return base, nil
	case ConflictIgnore:
		return base + " ON CONFLICT DO NOTHING", nil
	case ConflictUpdate:
		if desc.PrimaryKey == "" {
			return "", errors.New("postgres: conflict update requires a primary key")
		}
		var updates []string
		for _, col := range columns {
			if col == desc.PrimaryKey {
				continue
			}
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", d.Quote(col), d.Quote(col)))
		}
		if len(updates) == 0 {
			return base + " ON CONFLICT DO NOTHING", nil
		}
		return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
			base, d.Quote(desc.PrimaryKey), strings.Join(updates, ", ")), nil
	default:
		return "", errors.Errorf("postgres: unknown conflict policy %d", policy)
	}
}

func (d *Postgres) ReadSnapshot(ctx context.Context, q Queryer, table string) (*schema.Snapshot, error) {
	snap := &schema.Snapshot{Table: table}

	rows, err := q.QueryContext(ctx, d.Rebind(`
		SELECT column_name, data_type, COALESCE(character_maximum_length, 0),
		       COALESCE(numeric_precision, 0), COALESCE(numeric_scale, 0),
		       is_nullable, column_default, is_identity
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ?
		ORDER BY ordinal_position`), table)
	if err != nil {
		return nil, errors.WithMessage(err, "postgres: read columns failed")
	}
	defer rows.Close()

	for rows.Next() {
		var name, dataType, nullable, identity string
		var maxLen, precision, scale int
		var columnDefault *string
		if err := rows.Scan(&name, &dataType, &maxLen, &precision, &scale, &nullable, &columnDefault, &identity); err != nil {
			return nil, errors.WithMessage(err, "postgres: scan column failed")
		}

		col := schema.Column{
			Name:     name,
			Type:     pgTypeToSemantic(dataType),
			Nullable: strings.EqualFold(nullable, "YES"),
		}
		if col.Type.HasSize() {
			col.Size = maxLen
		}
		if col.Type.HasPrecision() {
			col.Precision, col.Scale = precision, scale
		}
		if strings.EqualFold(identity, "YES") {
			col.Auto = schema.AutoIncrement
		}
		col.Default = parsePgDefault(columnDefault)

		snap.Columns = append(snap.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithMessage(err, "postgres: iterate columns failed")
	}
	if len(snap.Columns) == 0 {
		return snap, nil
	}
	snap.Exists = true

	idxRows, err := q.QueryContext(ctx, d.Rebind(`
		SELECT i.relname, ix.indisunique, a.attname
		FROM pg_index ix
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE t.relname = ? AND n.nspname = current_schema() AND NOT ix.indisprimary
		ORDER BY i.relname, array_position(ix.indkey, a.attnum)`), table)
	if err != nil {
		return nil, errors.WithMessage(err, "postgres: read indexes failed")
	}
	defer idxRows.Close()

	indexes := map[string]*schema.Index{}
	var order []string
	for idxRows.Next() {
		var name, column string
		var unique bool
		if err := idxRows.Scan(&name, &unique, &column); err != nil {
			return nil, errors.WithMessage(err, "postgres: scan index failed")
		}
		idx, ok := indexes[name]
		if !ok {
			idx = &schema.Index{Name: name, Unique: unique}
			indexes[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, column)
	}
	if err := idxRows.Err(); err != nil {
		return nil, errors.WithMessage(err, "postgres: iterate indexes failed")
	}
	for _, name := range order {
		idx := indexes[name]
		// 单列唯一索引等价于列上的唯一约束，UNIQUE 约束的索引名由引擎生成
		if idx.Unique && len(idx.Columns) == 1 {
			markColumnUnique(snap, idx.Columns[0])
		}
		snap.Indexes = append(snap.Indexes, *idx)
	}

	fkRows, err := q.QueryContext(ctx, d.Rebind(`
		SELECT kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = current_schema() AND tc.table_name = ?`), table)
	if err != nil {
		return nil, errors.WithMessage(err, "postgres: read foreign keys failed")
	}
	defer fkRows.Close()

	for fkRows.Next() {
		var column, refTable, refColumn string
		if err := fkRows.Scan(&column, &refTable, &refColumn); err != nil {
			return nil, errors.WithMessage(err, "postgres: scan foreign key failed")
		}
		snap.ForeignKeys = append(snap.ForeignKeys, schema.ForeignKey{
			Column: column, RefTable: refTable, RefColumn: refColumn,
		})
	}
	if err := fkRows.Err(); err != nil {
		return nil, errors.WithMessage(err, "postgres: iterate foreign keys failed")
	}

	return snap, nil
}

func pgTypeToSemantic(dataType string) schema.Type {
	switch strings.ToLower(dataType) {
	case "smallint":
		return schema.TypeSmallInt
	case "integer":
		return schema.TypeInt
	case "bigint":
		return schema.TypeBigInt
	case "real":
		return schema.TypeFloat
	case "double precision":
		return schema.TypeDouble
	case "numeric":
		return schema.TypeDecimal
	case "boolean":
		return schema.TypeBool
	case "character":
		return schema.TypeChar
	case "character varying":
		return schema.TypeVarchar
	case "text":
		return schema.TypeText
	case "bytea":
		return schema.TypeBlob
	case "uuid":
		return schema.TypeUUID
	case "date":
		return schema.TypeDate
	case "time without time zone", "time with time zone":
		return schema.TypeTime
	case "timestamp without time zone":
		return schema.TypeTimestamp
	case "timestamp with time zone":
		return schema.TypeTimestampTZ
	case "json", "jsonb":
		return schema.TypeJSON
	default:
		return schema.TypeText
	}
}

// parsePgDefault 解析 pg 目录中的默认值表达式，目录会附加类型转换后缀
func parsePgDefault(raw *string) *schema.Default {
	if raw == nil {
		return nil
	}
	v := strings.TrimSpace(*raw)
	if v == "" || strings.EqualFold(v, "NULL") {
		return nil
	}
	upper := strings.ToUpper(v)
	if strings.HasPrefix(upper, "CURRENT_TIMESTAMP") || strings.HasPrefix(upper, "NOW()") {
		return &schema.Default{Now: true}
	}
	// 序列默认值属于自增实现细节，不算列默认值
	if strings.HasPrefix(v, "nextval(") {
		return nil
	}
	// 'abc'::character varying → abc
	if i := strings.Index(v, "::"); i >= 0 {
		v = v[:i]
	}
	v = strings.Trim(v, "'")
	return &schema.Default{Literal: v}
}
