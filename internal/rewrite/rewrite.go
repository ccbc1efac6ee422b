// Package rewrite wraps user select statements with pagination, ordering,
// filtering, and a total count, without ever editing the user's SQL text.
package rewrite

import (
	"fmt"
	"strings"

	"github.com/superhawk610/dbc/internal/errs"
	"github.com/superhawk610/dbc/internal/sqlparse"
)

// Sort orders the wrapped result by one output column.
type Sort struct {
	ColumnIdx int    `json:"column_idx"`
	Direction string `json:"direction"` // ASC or DESC
}

// Validate normalises the direction and rejects anything that is not a
// plain ASC/DESC. The direction is interpolated into SQL, so the allowlist
// here is load-bearing.
func (s *Sort) Validate() error {
	dir := strings.ToUpper(s.Direction)
	if dir != "ASC" && dir != "DESC" {
		return errs.BadRequest("sort.direction", fmt.Sprintf("invalid sort direction: %q", s.Direction))
	}
	if s.ColumnIdx < 0 {
		return errs.BadRequest("sort.column_idx", "sort column index must be >= 0")
	}
	s.Direction = dir
	return nil
}

// Result is a wrapped, executable query.
type Result struct {
	// SQL is the full wrapper text.
	SQL string

	// FilterArgs are the values bound for filter placeholders, numbered
	// after the user's own parameters.
	FilterArgs []any

	// PrefixLen is the character offset of the user's statement within
	// SQL, for error-position correction.
	PrefixLen int
}

// Wrap composes a single round-trip that returns both the page rows and the
// total count:
//
//	WITH base ("0.a", "1.b", …) AS ( <stmt> )
//	SELECT (SELECT count(*) FROM base [WHERE f]) AS __total,
//	       "0.a" AS "a", "1.b" AS "b" FROM base
//	[WHERE f] [ORDER BY n dir] [LIMIT l OFFSET o]
//
// columns are the statement's probed output column names, in order. The
// CTE renames every column to a synthetic "{index}.{name}" alias so a
// filter's (index, column) pair resolves unambiguously even when the
// statement outputs duplicate column names; the outer select aliases them
// back. With no probed columns the CTE is unaliased and filters reference
// plain quoted names.
//
// nParams is the number of positional parameters already used by stmt;
// filter placeholders continue from there. A pageSize of -1 returns all
// rows (no LIMIT/OFFSET). Only select statements may be wrapped.
func Wrap(stmt sqlparse.Statement, nParams int, columns []string, sort *Sort, filters []Filter, page, pageSize int) (*Result, error) {
	if stmt.Kind != sqlparse.KindSelect {
		return nil, errs.BadRequest("query", fmt.Sprintf("cannot paginate a %s statement", stmt.Kind))
	}
	if page < 1 {
		return nil, errs.BadRequest("page", "page must be >= 1")
	}
	if pageSize < 1 && pageSize != -1 {
		return nil, errs.BadRequest("page_size", "page_size must be >= 1 or -1")
	}
	if sort != nil {
		if err := sort.Validate(); err != nil {
			return nil, err
		}
	}

	colRef := func(f *Filter) (string, error) {
		if len(columns) == 0 {
			return quoteIdent(f.Column), nil
		}
		if f.Index < 0 || f.Index >= len(columns) {
			return "", errs.BadRequest("filters", fmt.Sprintf("filter on %q: column index %d out of range", f.Column, f.Index))
		}
		return colName(f.Index, f.Column), nil
	}

	where, args, err := renderFilters(filters, nParams, colRef)
	if err != nil {
		return nil, err
	}

	prefix := wrapPrefix(columns)

	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteString(strings.TrimRight(strings.TrimSpace(stmt.Text), ";"))
	sb.WriteString("\n)\nSELECT (SELECT count(*) FROM base")
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	sb.WriteString(") AS __total, ")
	sb.WriteString(selectList(columns))
	sb.WriteString(" FROM base")
	if where != "" {
		sb.WriteString("\nWHERE ")
		sb.WriteString(where)
	}
	if sort != nil {
		// +2: columns are 1-based in ORDER BY and __total occupies slot 1
		fmt.Fprintf(&sb, "\nORDER BY %d %s", sort.ColumnIdx+2, sort.Direction)
	}
	if pageSize != -1 {
		fmt.Fprintf(&sb, "\nLIMIT %d OFFSET %d", pageSize, (page-1)*pageSize)
	}

	return &Result{
		SQL:        sb.String(),
		FilterArgs: args,
		PrefixLen:  len(prefix),
	}, nil
}

// wrapPrefix opens the CTE that holds the user's statement. The
// parentheses preserve any ORDER BY of the source query.
func wrapPrefix(columns []string) string {
	if len(columns) == 0 {
		return "WITH base AS (\n"
	}

	aliases := make([]string, len(columns))
	for i, name := range columns {
		aliases[i] = colName(i, name)
	}
	return fmt.Sprintf("WITH base (%s) AS (\n", strings.Join(aliases, ", "))
}

// selectList projects the CTE's columns, renaming the synthetic aliases
// back to the statement's own output names.
func selectList(columns []string) string {
	if len(columns) == 0 {
		return "base.*"
	}

	parts := make([]string, len(columns))
	for i, name := range columns {
		parts[i] = fmt.Sprintf("%s AS %s", colName(i, name), quoteIdent(name))
	}
	return strings.Join(parts, ", ")
}

// colName renders the synthetic "{index}.{name}" alias that disambiguates
// duplicate output column names.
func colName(idx int, name string) string {
	return fmt.Sprintf(`"%d.%s"`, idx, strings.ReplaceAll(name, `"`, `""`))
}

// WrapExplain normalises an explain statement to `EXPLAIN (FORMAT JSON,
// ANALYZE false) <inner>`. `EXPLAIN ANALYZE` passes through verbatim: it
// executes the statement, and silently re-running it wrapped would repeat
// its side effects.
func WrapExplain(stmt sqlparse.Statement) (sql, inner string) {
	inner, analyze := sqlparse.ExplainParts(stmt.Text)
	if analyze {
		return stmt.Text, inner
	}
	return "EXPLAIN (FORMAT JSON, ANALYZE false) " + inner, inner
}
