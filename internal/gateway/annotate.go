package gateway

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/superhawk610/dbc/internal/pool"
)

// attrQuery resolves driver field metadata back to catalog names. It may
// overfetch when the same attribute numbers exist across several tables,
// which is still far cheaper than one query per column.
const attrQuery = `
select
  n.nspname table_schema,
  a.attrelid::int table_id,
  a.attnum::int column_id,
  c.relname table_name,
  a.attname column_name
from pg_attribute a
join pg_class c on a.attrelid = c.oid
join pg_namespace n on c.relnamespace = n.oid
where a.attrelid = any($1)
and a.attnum = any($2)`

// fkQuery finds foreign keys by constrained column. It reads pg_constraint
// rather than information_schema because constraint_column_usage only shows
// constraints on tables the current user owns.
const fkQuery = `
SELECT
  conname constraint_name,
  conrelid::regclass::text table_from,
  fa.attname column_from,
  confrelid::regclass::text table_to,
  da.attname column_to
FROM pg_constraint c
JOIN pg_namespace n
  ON n.oid = c.connamespace
CROSS JOIN LATERAL unnest(c.conkey) fk(k)
JOIN pg_attribute fa
  ON fa.attrelid = c.conrelid
  AND fa.attnum = fk.k
CROSS JOIN LATERAL unnest(c.confkey) dk(k)
JOIN pg_attribute da
  ON da.attrelid = c.confrelid
  AND da.attnum = dk.k
WHERE contype IN ('f')
AND n.nspname = any($1)
AND conrelid::regclass::text = any($2)`

type attrKey struct {
	tableOID uint32
	attNum   uint16
}

type attrInfo struct {
	schema string
	table  string
	column string
}

type colKey struct {
	table  string
	column string
}

type fkInfo struct {
	constraint string
	table      string
	column     string
}

// catalog holds the lazily-populated attribute and foreign-key lookups for
// one (connection, database).
type catalog struct {
	mu        sync.Mutex
	attrs     map[attrKey]attrInfo
	missing   map[attrKey]bool // probed but absent, don't re-query
	fks       map[colKey]fkInfo
	fkLoaded  map[string]bool // tables whose constraints are loaded
}

type catalogKey struct {
	conn string
	db   string
}

// CatalogCache resolves column provenance, caching catalog lookups per
// (connection, database). Entries are invalidated together with the
// response cache whenever a structure-modifying statement executes.
type CatalogCache struct {
	entries *lru.Cache[catalogKey, *catalog]
}

// NewCatalogCache constructs a CatalogCache bounded to size databases.
func NewCatalogCache(size int) *CatalogCache {
	if size <= 0 {
		size = 64
	}
	entries, _ := lru.New[catalogKey, *catalog](size)
	return &CatalogCache{entries: entries}
}

// Invalidate drops the cached catalog for one (connection, database).
func (cc *CatalogCache) Invalidate(conn, db string) {
	cc.entries.Remove(catalogKey{conn: conn, db: db})
}

// InvalidateConn drops every cached catalog for a connection.
func (cc *CatalogCache) InvalidateConn(conn string) {
	for _, key := range cc.entries.Keys() {
		if key.conn == conn {
			cc.entries.Remove(key)
		}
	}
}

// Annotate fills source table/column and foreign-key provenance for every
// column that carries driver field metadata. Lookups hit the catalog cache
// first and fall back to batched catalog queries on the caller's session.
func (cc *CatalogCache) Annotate(ctx context.Context, sess *pool.Session, cols []Column) ([]Column, error) {
	key := catalogKey{conn: sess.Key().Conn, db: sess.Key().DB}
	cat, ok := cc.entries.Get(key)
	if !ok {
		cat = &catalog{
			attrs:     make(map[attrKey]attrInfo),
			missing:   make(map[attrKey]bool),
			fks:       make(map[colKey]fkInfo),
			fkLoaded:  make(map[string]bool),
		}
		cc.entries.Add(key, cat)
	}

	cat.mu.Lock()
	defer cat.mu.Unlock()

	if err := cat.loadAttrs(ctx, sess, cols); err != nil {
		return nil, err
	}
	if err := cat.loadFKs(ctx, sess, cols); err != nil {
		return nil, err
	}

	for i := range cols {
		col := &cols[i]
		if col.tableOID == 0 {
			continue
		}
		attr, ok := cat.attrs[attrKey{tableOID: col.tableOID, attNum: col.attNum}]
		if !ok {
			continue
		}
		col.SourceTable = ptr(attr.table)
		col.SourceColumn = ptr(attr.column)

		if fk, ok := cat.fks[colKey{table: attr.table, column: attr.column}]; ok {
			col.FKConstraint = ptr(fk.constraint)
			col.FKTable = ptr(fk.table)
			col.FKColumn = ptr(fk.column)
		}
	}

	return cols, nil
}

// loadAttrs batch-resolves any (table OID, attnum) pairs not yet cached.
func (cat *catalog) loadAttrs(ctx context.Context, sess *pool.Session, cols []Column) error {
	var oids []int64
	var attnums []int64
	seen := make(map[attrKey]bool)

	for _, col := range cols {
		if col.tableOID == 0 {
			continue
		}
		k := attrKey{tableOID: col.tableOID, attNum: col.attNum}
		if seen[k] || cat.missing[k] {
			continue
		}
		if _, ok := cat.attrs[k]; ok {
			continue
		}
		seen[k] = true
		oids = append(oids, int64(col.tableOID))
		attnums = append(attnums, int64(col.attNum))
	}
	if len(oids) == 0 {
		return nil
	}

	rows, err := sess.Conn().Query(ctx, attrQuery, oids, attnums)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var schema, table, column string
		var tableID, columnID int
		if err := rows.Scan(&schema, &tableID, &columnID, &table, &column); err != nil {
			return err
		}
		k := attrKey{tableOID: uint32(tableID), attNum: uint16(columnID)}
		cat.attrs[k] = attrInfo{schema: schema, table: table, column: column}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for k := range seen {
		if _, ok := cat.attrs[k]; !ok {
			cat.missing[k] = true
		}
	}
	return nil
}

// loadFKs loads foreign-key constraints for any source tables not yet
// covered.
func (cat *catalog) loadFKs(ctx context.Context, sess *pool.Session, cols []Column) error {
	var schemas, tables []string
	seen := make(map[string]bool)

	for _, col := range cols {
		if col.tableOID == 0 {
			continue
		}
		attr, ok := cat.attrs[attrKey{tableOID: col.tableOID, attNum: col.attNum}]
		if !ok {
			continue
		}
		if cat.fkLoaded[attr.table] || seen[attr.table] {
			continue
		}
		seen[attr.table] = true
		schemas = append(schemas, attr.schema)
		tables = append(tables, attr.table)
	}
	if len(tables) == 0 {
		return nil
	}

	rows, err := sess.Conn().Query(ctx, fkQuery, schemas, tables)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var constraint, fromTable, fromColumn, toTable, toColumn string
		if err := rows.Scan(&constraint, &fromTable, &fromColumn, &toTable, &toColumn); err != nil {
			return err
		}
		cat.fks[colKey{table: fromTable, column: fromColumn}] = fkInfo{
			constraint: constraint,
			table:      toTable,
			column:     toColumn,
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, t := range tables {
		cat.fkLoaded[t] = true
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
