/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

type columnSpec struct {
	Name          string
	Type          string
	NotNull       bool
	Default       string
	PrimaryKey    bool
	Unique        bool
	AutoIncrement bool
}

type indexSpec struct {
	Name    string
	Columns []string
	Unique  bool
}

type tableSpec struct {
	Schema  string
	Name    string
	Columns []columnSpec
	Indexes []indexSpec
}

func (t *tableSpec) primaryKeys() []string {
	var pks []string
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pks = append(pks, c.Name)
		}
	}
	return pks
}

func (t *tableSpec) column(name string) (columnSpec, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return columnSpec{}, false
}

// tableSpecs returns the tables backing m: the model table and, for trees,
// the ancestors table.
func (m *ModelClass) tableSpecs(dialect string, supportsSchemas bool) ([]*tableSpec, error) {
	schema := ""
	if supportsSchemas {
		schema = m.schema
	}
	attrs := m.Attributes()
	t := &tableSpec{Schema: schema, Name: m.tableName}
	for _, name := range attrs.Names() {
		a := attrs[name]
		typ, err := sqlType(dialect, a)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		def, err := formatDefault(dialect, a.DefaultValue)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		t.Columns = append(t.Columns, columnSpec{
			Name:          a.Column(name),
			Type:          typ,
			NotNull:       !a.Nullable(),
			Default:       def,
			PrimaryKey:    a.PrimaryKey,
			Unique:        a.Unique,
			AutoIncrement: a.AutoIncrement,
		})
	}
	if m.options != nil {
		for _, idx := range m.options.Indexes {
			name := idx.Name
			if name == "" {
				name = fmt.Sprintf("idx_%s_%s", m.tableName, strings.Join(idx.Columns, "_"))
			}
			t.Indexes = append(t.Indexes, indexSpec{Name: name, Columns: idx.Columns, Unique: idx.Unique})
		}
	}
	specs := []*tableSpec{t}

	if h := m.Hierarchy(); h != nil {
		keyType := "INTEGER"
		if dialect == DialectMySQL {
			keyType = "INT"
		}
		specs = append(specs, &tableSpec{
			Schema: schema,
			Name:   h.ThroughTable,
			Columns: []columnSpec{
				{Name: h.ThroughKey, Type: keyType, NotNull: true, PrimaryKey: true},
				{Name: h.ThroughForeignKey, Type: keyType, NotNull: true, PrimaryKey: true},
			},
		})
	}
	return specs, nil
}

// sqlType maps an attribute type such as "STRING", "STRING(64)" or
// "DECIMAL(10,2)" to the column type of dialect.
func sqlType(dialect string, a *Attribute) (string, error) {
	base, params := parseTypeName(a.Type)
	length, precision, scale := a.Length, a.Precision, a.Scale
	if len(params) > 0 && length == 0 && precision == 0 {
		length, precision = params[0], params[0]
	}
	if len(params) > 1 && scale == 0 {
		scale = params[1]
	}
	pg, my := dialect == DialectPostgres, dialect == DialectMySQL

	switch base {
	case "STRING", "VARCHAR":
		if length <= 0 {
			length = 255
		}
		return fmt.Sprintf("VARCHAR(%d)", length), nil
	case "CHAR":
		if length <= 0 {
			length = 1
		}
		return fmt.Sprintf("CHAR(%d)", length), nil
	case "TEXT", "CITEXT":
		if pg && base == "CITEXT" {
			return "CITEXT", nil
		}
		return "TEXT", nil
	case "INTEGER", "INT":
		if pg && a.AutoIncrement {
			return "SERIAL", nil
		}
		if my {
			return "INT", nil
		}
		return "INTEGER", nil
	case "BIGINT":
		if pg && a.AutoIncrement {
			return "BIGSERIAL", nil
		}
		return "BIGINT", nil
	case "SMALLINT", "TINYINT":
		return "SMALLINT", nil
	case "FLOAT", "REAL":
		if my {
			return "FLOAT", nil
		}
		return "REAL", nil
	case "DOUBLE":
		switch {
		case pg:
			return "DOUBLE PRECISION", nil
		case my:
			return "DOUBLE", nil
		}
		return "REAL", nil
	case "DECIMAL", "NUMERIC":
		if precision > 0 {
			return fmt.Sprintf("DECIMAL(%d,%d)", precision, scale), nil
		}
		return "DECIMAL", nil
	case "BOOLEAN", "BOOL":
		if my {
			return "TINYINT(1)", nil
		}
		return "BOOLEAN", nil
	case "DATE", "DATETIME", "TIMESTAMP":
		switch {
		case pg:
			return "TIMESTAMP WITH TIME ZONE", nil
		case my:
			return "DATETIME", nil
		}
		return "DATETIME", nil
	case "DATEONLY":
		return "DATE", nil
	case "TIME":
		return "TIME", nil
	case "UUID", "UUIDV4":
		switch {
		case pg:
			return "UUID", nil
		case my:
			return "CHAR(36)", nil
		}
		return "TEXT", nil
	case "JSON":
		if pg || my {
			return "JSON", nil
		}
		return "TEXT", nil
	case "JSONB":
		switch {
		case pg:
			return "JSONB", nil
		case my:
			return "JSON", nil
		}
		return "TEXT", nil
	case "BLOB", "BINARY":
		if pg {
			return "BYTEA", nil
		}
		return "BLOB", nil
	case "":
		return "", fmt.Errorf("attribute type is required")
	default:
		return "", fmt.Errorf("unknown attribute type %q", a.Type)
	}
}

func parseTypeName(typ string) (string, []int) {
	s := strings.ToUpper(strings.TrimSpace(typ))
	open := strings.Index(s, "(")
	if open < 0 || !strings.HasSuffix(s, ")") {
		return s, nil
	}
	base := strings.TrimSpace(s[:open])
	var params []int
	for _, p := range strings.Split(s[open+1:len(s)-1], ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			params = append(params, n)
		}
	}
	return base, params
}

// formatDefault renders a default value as a SQL literal.
func formatDefault(dialect string, v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		switch strings.ToUpper(t) {
		case "NOW", "CURRENT_TIMESTAMP", "NOW()":
			return "CURRENT_TIMESTAMP", nil
		}
		return "'" + strings.ReplaceAll(t, "'", "''") + "'", nil
	case bool:
		if dialect == DialectPostgres {
			return strings.ToUpper(strconv.FormatBool(t)), nil
		}
		if t {
			return "1", nil
		}
		return "0", nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t), nil
	case float32, float64:
		return fmt.Sprintf("%v", t), nil
	case time.Time:
		return "'" + t.UTC().Format("2006-01-02 15:04:05") + "'", nil
	default:
		return "", fmt.Errorf("unsupported default value %T", v)
	}
}

func quoteIdent(dialect, s string) string {
	switch dialect {
	case DialectMySQL:
		return "`" + strings.ReplaceAll(s, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
}

func qualifiedTable(dialect, schema, table string) string {
	if schema != "" {
		return quoteIdent(dialect, schema) + "." + quoteIdent(dialect, table)
	}
	return quoteIdent(dialect, table)
}

func buildColumnDef(dialect string, c columnSpec, inlinePK bool) string {
	var b strings.Builder
	b.WriteString(quoteIdent(dialect, c.Name))
	b.WriteString(" ")
	if inlinePK {
		b.WriteString("INTEGER PRIMARY KEY AUTOINCREMENT")
		return b.String()
	}
	b.WriteString(c.Type)
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.AutoIncrement && dialect == DialectMySQL {
		b.WriteString(" AUTO_INCREMENT")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	if c.Unique && !c.PrimaryKey {
		b.WriteString(" UNIQUE")
	}
	return b.String()
}

func buildCreateTableSQL(dialect string, t *tableSpec) string {
	pks := t.primaryKeys()
	// sqlite only honours AUTOINCREMENT on an inline INTEGER PRIMARY KEY.
	inline := ""
	if dialect == DialectSQLite && len(pks) == 1 {
		if c, _ := t.column(pks[0]); c.AutoIncrement {
			inline = c.Name
		}
	}
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, buildColumnDef(dialect, c, c.Name == inline))
	}
	if len(pks) > 0 && inline == "" {
		quoted := make([]string, len(pks))
		for i, pk := range pks {
			quoted[i] = quoteIdent(dialect, pk)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", qualifiedTable(dialect, t.Schema, t.Name), strings.Join(defs, ", "))
}

func buildDropTableSQL(dialect string, t *tableSpec) string {
	stmt := "DROP TABLE IF EXISTS " + qualifiedTable(dialect, t.Schema, t.Name)
	if dialect == DialectPostgres {
		stmt += " CASCADE"
	}
	return stmt
}

func buildAddColumnSQL(dialect string, t *tableSpec, c columnSpec) string {
	// A NOT NULL column without default cannot be added to a populated table.
	if c.NotNull && c.Default == "" {
		c.NotNull = false
	}
	c.Unique = false
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", qualifiedTable(dialect, t.Schema, t.Name), buildColumnDef(dialect, c, false))
}

func buildModifyColumnSQL(dialect string, t *tableSpec, c columnSpec) []string {
	table := qualifiedTable(dialect, t.Schema, t.Name)
	col := quoteIdent(dialect, c.Name)
	switch dialect {
	case DialectPostgres:
		stmts := []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s", table, col, c.Type, col, c.Type)}
		if c.NotNull {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", table, col))
		} else {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", table, col))
		}
		if c.Default != "" {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", table, col, c.Default))
		} else {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", table, col))
		}
		return stmts
	case DialectMySQL:
		nullStr := " NULL"
		if c.NotNull {
			nullStr = " NOT NULL"
		}
		def := ""
		if c.Default != "" {
			def = " DEFAULT " + c.Default
		}
		return []string{fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s %s%s%s", table, col, c.Type, nullStr, def)}
	default:
		return nil
	}
}

func buildDropColumnSQL(dialect string, t *tableSpec, col string) string {
	switch dialect {
	case DialectPostgres, DialectMySQL:
		return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", qualifiedTable(dialect, t.Schema, t.Name), quoteIdent(dialect, col))
	default:
		return ""
	}
}

func buildCreateIndexSQL(dialect string, t *tableSpec, idx indexSpec) string {
	cols := make([]string, 0, len(idx.Columns))
	for _, c := range idx.Columns {
		cols = append(cols, quoteIdent(dialect, c))
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	table := qualifiedTable(dialect, t.Schema, t.Name)
	switch dialect {
	case DialectMySQL:
		return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, quoteIdent(dialect, idx.Name), table, strings.Join(cols, ", "))
	default:
		return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)", unique, quoteIdent(dialect, idx.Name), table, strings.Join(cols, ", "))
	}
}

func listExistingColumns(ctx context.Context, db bun.IDB, dialect, schema, table string) (map[string]columnSpec, error) {
	cols := map[string]columnSpec{}
	var rows *sql.Rows
	var err error
	switch dialect {
	case DialectPostgres:
		rows, err = db.QueryContext(ctx, `SELECT column_name, data_type, is_nullable, column_default FROM information_schema.columns WHERE table_name = ? AND table_schema = COALESCE(NULLIF(?, ''), current_schema())`, table, schema)
	case DialectMySQL:
		rows, err = db.QueryContext(ctx, `SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT, EXTRA FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`, table)
	default:
		rows, err = db.QueryContext(ctx, `PRAGMA table_info(?)`, table)
	}
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	for rows.Next() {
		var name, typStr, nullable string
		var defaultNS sql.NullString
		autoExtra := ""
		switch dialect {
		case DialectPostgres:
			if err := rows.Scan(&name, &typStr, &nullable, &defaultNS); err != nil {
				return nil, err
			}
		case DialectMySQL:
			if err := rows.Scan(&name, &typStr, &nullable, &defaultNS, &autoExtra); err != nil {
				return nil, err
			}
		default:
			var cid, notnull, pk int
			if err := rows.Scan(&cid, &name, &typStr, &notnull, &defaultNS, &pk); err != nil {
				return nil, err
			}
			nullable = map[bool]string{true: "NO", false: "YES"}[notnull == 1]
		}
		def := ""
		if defaultNS.Valid {
			def = defaultNS.String
		}
		spec := columnSpec{Name: name, Type: typStr, NotNull: strings.ToUpper(nullable) == "NO", Default: def}
		if strings.Contains(strings.ToLower(autoExtra), "auto_increment") || strings.HasPrefix(def, "nextval(") {
			spec.AutoIncrement = true
			spec.NotNull = true
		}
		cols[name] = spec
	}
	return cols, rows.Err()
}

func listExistingIndexes(ctx context.Context, db bun.IDB, dialect, schema, table string) (map[string]bool, error) {
	var rows *sql.Rows
	var err error
	switch dialect {
	case DialectPostgres:
		rows, err = db.QueryContext(ctx, `SELECT indexname FROM pg_indexes WHERE tablename = ? AND schemaname = COALESCE(NULLIF(?, ''), current_schema())`, table, schema)
	case DialectMySQL:
		rows, err = db.QueryContext(ctx, `SELECT DISTINCT INDEX_NAME FROM INFORMATION_SCHEMA.STATISTICS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`, table)
	default:
		rows, err = db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ?`, table)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = true
	}
	return names, rows.Err()
}

func needsModification(dialect string, desired, existing columnSpec) bool {
	if desired.PrimaryKey || desired.AutoIncrement {
		return false
	}
	if normalizeSQLType(dialect, desired.Type) != normalizeSQLType(dialect, existing.Type) {
		return true
	}
	if desired.NotNull != existing.NotNull {
		return true
	}
	return normalizeDefault(desired.Default) != normalizeDefault(existing.Default)
}

var pgTypeAliases = map[string]string{
	"varchar":                  "character varying",
	"char":                     "character",
	"int":                      "integer",
	"serial":                   "integer",
	"bigserial":                "bigint",
	"bool":                     "boolean",
	"decimal":                  "numeric",
	"timestamptz":              "timestamp with time zone",
	"time":                     "time without time zone",
	"timestamp":                "timestamp without time zone",
	"double":                   "double precision",
	"float8":                   "double precision",
	"float4":                   "real",
	"int4":                     "integer",
	"int8":                     "bigint",
	"int2":                     "smallint",
	"character varying":        "character varying",
	"timestamp with time zone": "timestamp with time zone",
}

func normalizeSQLType(dialect, typ string) string {
	s := strings.ToLower(strings.TrimSpace(typ))
	switch dialect {
	case DialectMySQL:
		replaceInt := func(name string) {
			if strings.HasPrefix(s, name+"(") {
				if strings.Contains(s, "unsigned") {
					s = name + " unsigned"
				} else {
					s = name
				}
			}
		}
		replaceInt("tinyint")
		replaceInt("smallint")
		replaceInt("mediumint")
		replaceInt("int")
		replaceInt("bigint")
		if s == "boolean" {
			s = "tinyint"
		}
		s = strings.Join(strings.Fields(s), " ")
	case DialectPostgres:
		// information_schema reports types without length.
		if i := strings.Index(s, "("); i >= 0 {
			s = strings.TrimSpace(s[:i])
		}
		if alias, ok := pgTypeAliases[s]; ok {
			s = alias
		}
	}
	return s
}

func normalizeDefault(def string) string {
	s := strings.TrimSpace(strings.Trim(def, "()"))
	if i := strings.Index(s, "::"); i > 0 {
		s = s[:i]
	}
	if strings.EqualFold(s, "null") {
		return ""
	}
	if strings.EqualFold(s, "now") || strings.EqualFold(s, "current_timestamp") {
		return "CURRENT_TIMESTAMP"
	}
	return s
}

// schemaSyncer applies table specs to one database.
type schemaSyncer struct {
	db        bun.IDB
	dialect   string
	allowDrop bool
	logger    Logger
}

func (s *schemaSyncer) exec(ctx context.Context, stmt string) error {
	if stmt == "" {
		return nil
	}
	s.logger.Debug("Executing schema statement", "sql", stmt)
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *schemaSyncer) drop(ctx context.Context, t *tableSpec) error {
	if err := s.exec(ctx, buildDropTableSQL(s.dialect, t)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", t.Name, err)
	}
	return nil
}

// sync creates t when missing. With alter set it also reconciles columns
// and indexes of an existing table.
func (s *schemaSyncer) sync(ctx context.Context, t *tableSpec, alter bool) error {
	existing, err := listExistingColumns(ctx, s.db, s.dialect, t.Schema, t.Name)
	if err != nil {
		return fmt.Errorf("failed to query existing columns %s: %w", t.Name, err)
	}
	if len(existing) == 0 {
		if err := s.exec(ctx, buildCreateTableSQL(s.dialect, t)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.Name, err)
		}
		return s.syncIndexes(ctx, t)
	}
	if !alter {
		return nil
	}
	if err := s.syncColumns(ctx, t, existing); err != nil {
		return err
	}
	return s.syncIndexes(ctx, t)
}

func (s *schemaSyncer) syncColumns(ctx context.Context, t *tableSpec, existing map[string]columnSpec) error {
	for _, c := range t.Columns {
		e, ok := existing[c.Name]
		if !ok {
			if err := s.exec(ctx, buildAddColumnSQL(s.dialect, t, c)); err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", t.Name, c.Name, err)
			}
			continue
		}
		if !needsModification(s.dialect, c, e) {
			continue
		}
		for _, stmt := range buildModifyColumnSQL(s.dialect, t, c) {
			if err := s.exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to modify column %s.%s: %w", t.Name, c.Name, err)
			}
		}
	}
	if !s.allowDrop {
		return nil
	}
	var toDrop []string
	for name := range existing {
		if _, ok := t.column(name); !ok {
			toDrop = append(toDrop, name)
		}
	}
	sort.Strings(toDrop)
	for _, name := range toDrop {
		if err := s.exec(ctx, buildDropColumnSQL(s.dialect, t, name)); err != nil {
			return fmt.Errorf("failed to drop column %s.%s: %w", t.Name, name, err)
		}
	}
	return nil
}

func (s *schemaSyncer) syncIndexes(ctx context.Context, t *tableSpec) error {
	if len(t.Indexes) == 0 {
		return nil
	}
	existing, err := listExistingIndexes(ctx, s.db, s.dialect, t.Schema, t.Name)
	if err != nil {
		return fmt.Errorf("failed to query existing indexes %s: %w", t.Name, err)
	}
	for _, idx := range t.Indexes {
		if existing[idx.Name] {
			continue
		}
		if err := s.exec(ctx, buildCreateIndexSQL(s.dialect, t, idx)); err != nil {
			if ok, kind := IsSqlError(err); ok && kind == ExistIndexErr {
				continue
			}
			return fmt.Errorf("failed to create index %s: %w", idx.Name, err)
		}
	}
	return nil
}
