package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/superhawk610/dbc/internal/errs"
	"github.com/superhawk610/dbc/internal/pool"
	"github.com/superhawk610/dbc/internal/sqlparse"
)

// Prepare probes a statement for parameter and column metadata without
// executing it.
func (g *Gateway) Prepare(ctx context.Context, conn, db, query string) (*Prepared, error) {
	stmts := sqlparse.Split(query)
	if len(stmts) == 0 {
		return nil, errs.BadRequest("query", "query contains no statements")
	}

	sess, err := g.pools.Acquire(ctx, conn, db)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	return Probe(ctx, sess, stmts[0])
}

// VersionInfo reports the server's version string, probed lazily on the
// connection's default database.
func (g *Gateway) VersionInfo(ctx context.Context, conn, db string) (string, error) {
	if v := g.reg.Version(conn); v != "" {
		return v, nil
	}

	sess, err := g.pools.Acquire(ctx, conn, db)
	if err != nil {
		return "", err
	}
	defer sess.Release()

	if v := g.reg.Version(conn); v != "" {
		return v, nil
	}

	var version string
	if err := sess.Conn().QueryRow(ctx, "select version()").Scan(&version); err != nil {
		return "", errs.FromPg(err, "could not read server version")
	}
	g.reg.NoteVersion(conn, version)
	return version, nil
}

// --- predefined catalog queries (the /db/* surface) ---

const databasesQuery = `
SELECT datname
FROM pg_database
WHERE datname NOT IN ('template0', 'template1')
ORDER BY datname`

const schemasQuery = `
SELECT schema_name
FROM information_schema.schemata
WHERE schema_name NOT IN ('pg_catalog', 'pg_toast')
ORDER BY schema_name`

// tablesQuery lists base tables with row estimates and on-disk sizes,
// UNIONed with views (which have neither).
const tablesQuery = `
SELECT
  'table' as type,
  t.table_schema,
  t.table_name,
  c.reltuples as table_rows_est,
  pg_total_relation_size(format('%I.%I', t.table_schema, t.table_name)::regclass) as table_size,
  pg_size_pretty(pg_total_relation_size(format('%I.%I', t.table_schema, t.table_name)::regclass)) as table_size_pretty
FROM information_schema.tables t
JOIN pg_namespace n ON n.nspname = t.table_schema
JOIN pg_class c ON c.relnamespace = n.oid AND c.relname = t.table_name
WHERE t.table_schema = $1
AND t.table_type = 'BASE TABLE'
UNION ALL
SELECT
  'view' as type,
  v.table_schema,
  v.table_name,
  c.reltuples as table_rows_est,
  -1 as table_size,
  null as table_size_pretty
FROM information_schema.views v
JOIN pg_namespace n ON n.nspname = v.table_schema
JOIN pg_class c ON c.relnamespace = n.oid AND c.relname = v.table_name
WHERE v.table_schema = $1
ORDER BY table_name`

const columnsQuery = `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1
AND table_name = $2
ORDER BY ordinal_position`

// Row is one catalog query result row keyed by column name.
type Row map[string]any

// ListDatabases returns the databases visible on the connection.
func (g *Gateway) ListDatabases(ctx context.Context, conn, db string) ([]Row, error) {
	return g.queryRows(ctx, conn, db, databasesQuery)
}

// ListSchemas returns the schemata of the routed database.
func (g *Gateway) ListSchemas(ctx context.Context, conn, db string) ([]Row, error) {
	return g.queryRows(ctx, conn, db, schemasQuery)
}

// ListTables returns the tables and views of one schema, with row
// estimates and sizes.
func (g *Gateway) ListTables(ctx context.Context, conn, db, schema string) ([]Row, error) {
	return g.queryRows(ctx, conn, db, tablesQuery, schema)
}

// ListColumns returns the column names and types of one table.
func (g *Gateway) ListColumns(ctx context.Context, conn, db, schema, table string) ([]Row, error) {
	return g.queryRows(ctx, conn, db, columnsQuery, schema, table)
}

// queryRows runs a predefined catalog query and maps rows by column name.
func (g *Gateway) queryRows(ctx context.Context, conn, db, sql string, args ...any) ([]Row, error) {
	sess, err := g.pools.Acquire(ctx, conn, db)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	return sessionRows(ctx, sess, sql, args...)
}

// sessionRows is queryRows on an already-held session.
func sessionRows(ctx context.Context, sess *pool.Session, sql string, args ...any) ([]Row, error) {
	rows, err := sess.Conn().Query(ctx, sql, args...)
	if err != nil {
		return nil, errs.FromPg(err, "catalog query failed")
	}

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f.Name)
	}

	data, err := decodeRows(rows)
	if err != nil {
		return nil, err
	}

	out := make([]Row, len(data))
	for i, row := range data {
		m := make(Row, len(names))
		for j, name := range names {
			m[name] = row[j]
		}
		out[i] = m
	}
	return out, nil
}

// --- DDL reconstruction ---

const ddlColumnsQuery = `
SELECT
  column_name,
  column_default,
  is_nullable,
  data_type,
  character_maximum_length,
  numeric_precision,
  numeric_scale
FROM information_schema.columns
WHERE table_schema = $1
AND table_name = $2
ORDER BY ordinal_position`

const ddlIndexesQuery = `
SELECT indexname, indexdef
FROM pg_indexes
WHERE schemaname = $1
AND tablename = $2`

const viewDDLQuery = `
SELECT view_definition
FROM information_schema.views
WHERE table_schema = $1
AND table_name = $2`

const matViewDDLQuery = `
SELECT definition
FROM pg_matviews
WHERE schemaname = $1
AND matviewname = $2`

// DDL reconstructs the definition of a table, view, or materialized view.
func (g *Gateway) DDL(ctx context.Context, conn, db, schema, kind, name string) (string, error) {
	switch kind {
	case "table":
		return g.tableDDL(ctx, conn, db, schema, name)
	case "view":
		return g.simpleDDL(ctx, conn, db, viewDDLQuery, schema, name)
	case "materialized-view":
		return g.simpleDDL(ctx, conn, db, matViewDDLQuery, schema, name)
	default:
		return "", errs.BadRequest("kind", fmt.Sprintf("unknown DDL kind %q", kind))
	}
}

func (g *Gateway) simpleDDL(ctx context.Context, conn, db, sql, schema, name string) (string, error) {
	rows, err := g.queryRows(ctx, conn, db, sql, schema, name)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", errs.BadRequest("name", fmt.Sprintf("no relation %s.%s", schema, name))
	}
	for _, v := range rows[0] {
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	return "", errs.New(errs.KindInternal, "definition missing from catalog")
}

// tableDDL renders a CREATE TABLE statement from the catalog: columns with
// types (precision/scale or char length), primary key, nullability, and
// defaults, followed by the table's remaining index definitions.
func (g *Gateway) tableDDL(ctx context.Context, conn, db, schema, table string) (string, error) {
	sess, err := g.pools.Acquire(ctx, conn, db)
	if err != nil {
		return "", err
	}
	defer sess.Release()

	columns, err := sessionRows(ctx, sess, ddlColumnsQuery, schema, table)
	if err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", errs.BadRequest("name", fmt.Sprintf("no table %s.%s", schema, table))
	}

	indexes, err := sessionRows(ctx, sess, ddlIndexesQuery, schema, table)
	if err != nil {
		return "", err
	}

	// the primary key column comes from parsing the _pkey index definition,
	// e.g. `CREATE UNIQUE INDEX users_pkey ON public.users USING btree (id)`
	pkeyCol := ""
	rest := make([]Row, 0, len(indexes))
	for _, idx := range indexes {
		name, _ := idx["indexname"].(string)
		def, _ := idx["indexdef"].(string)
		if strings.HasSuffix(name, "_pkey") {
			if open := strings.Index(def, "("); open >= 0 && strings.HasSuffix(def, ")") {
				pkeyCol = def[open+1 : len(def)-1]
				continue
			}
		}
		rest = append(rest, idx)
	}

	defs := make([]string, 0, len(columns))
	for _, col := range columns {
		defs = append(defs, columnDef(col, pkeyCol))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE %s (\n  %s\n);", table, strings.Join(defs, ",\n  "))
	for _, idx := range rest {
		if def, ok := idx["indexdef"].(string); ok {
			sb.WriteString("\n")
			sb.WriteString(def)
			sb.WriteString(";")
		}
	}
	return sb.String(), nil
}

// columnDef renders one column of a CREATE TABLE.
func columnDef(col Row, pkeyCol string) string {
	name, _ := col["column_name"].(string)
	dataType, _ := col["data_type"].(string)

	suffix := ""
	if prec, ok := asInt(col["numeric_precision"]); ok {
		// integer widths are distinct type names, not (prec, scale)
		switch {
		case dataType == "smallint" || dataType == "integer" || dataType == "bigint":
			// type name already encodes the width
		default:
			if scale, ok := asInt(col["numeric_scale"]); ok {
				suffix = fmt.Sprintf("(%d, %d)", prec, scale)
			} else {
				suffix = fmt.Sprintf("(%d)", prec)
			}
		}
	} else if maxLen, ok := asInt(col["character_maximum_length"]); ok {
		suffix = fmt.Sprintf("(%d)", maxLen)
	}

	def := name + " " + dataType + suffix
	if name == pkeyCol {
		def += " PRIMARY KEY"
	}
	if nullable, _ := col["is_nullable"].(string); nullable == "NO" {
		def += " NOT NULL"
	}
	if dflt, ok := col["column_default"].(string); ok && dflt != "" {
		def += " DEFAULT " + dflt
	}
	return def
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}
