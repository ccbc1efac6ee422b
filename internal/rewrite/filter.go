package rewrite

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/superhawk610/dbc/internal/errs"
)

// Filter narrows the wrapped result by one output column.
type Filter struct {
	// Type names the column's value domain and drives coercion of Value:
	// boolean, integer, numeric, text, or timestamp.
	Type string `json:"type"`

	// Index is the 0-based output column index; Column is its name. With
	// probed columns the wrapper renders the pair as the "{index}.{name}"
	// alias; without them it renders the quoted name alone.
	Index  int    `json:"index"`
	Column string `json:"column"`

	// Operator is one of eq, neq, like, not_like, null, not_null, gt,
	// gte, lt, lte.
	Operator string `json:"operator"`

	// Value is the comparison operand; ignored by null/not_null.
	Value any `json:"value"`
}

var filterOps = map[string]string{
	"eq":       "=",
	"neq":      "!=",
	"like":     "ILIKE",
	"not_like": "NOT ILIKE",
	"null":     "IS NULL",
	"not_null": "IS NOT NULL",
	"gt":       ">",
	"gte":      ">=",
	"lt":       "<",
	"lte":      "<=",
}

// typeCasts maps a filter type onto the placeholder cast. The cast keeps
// comparison semantics in the database's hands rather than guessing on the
// client side.
var typeCasts = map[string]string{
	"boolean":   "::boolean",
	"integer":   "::bigint",
	"numeric":   "::numeric",
	"text":      "::text",
	"timestamp": "::timestamptz",
}

// UsesParam reports whether the filter binds a placeholder value.
func (f *Filter) UsesParam() bool {
	return f.Operator != "null" && f.Operator != "not_null"
}

// renderFilters produces the WHERE clause body (AND-joined) and the bound
// argument values. Placeholder ordinals continue after the user's nParams
// own parameters. colRef resolves a filter's (index, column) pair to the
// rendered column reference; the rewriter passes the synthetic CTE alias so
// duplicate output column names stay distinguishable.
func renderFilters(filters []Filter, nParams int, colRef func(*Filter) (string, error)) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	parts := make([]string, 0, len(filters))
	var args []any
	ordinal := nParams

	for i := range filters {
		f := &filters[i]

		op, ok := filterOps[f.Operator]
		if !ok {
			return "", nil, errs.BadRequest("filters", fmt.Sprintf("unsupported filter operator: %q", f.Operator))
		}
		cast, ok := typeCasts[f.Type]
		if !ok {
			return "", nil, errs.BadRequest("filters", fmt.Sprintf("unsupported filter type: %q", f.Type))
		}

		col, err := colRef(f)
		if err != nil {
			return "", nil, err
		}

		if !f.UsesParam() {
			parts = append(parts, fmt.Sprintf("%s %s", col, op))
			continue
		}

		val, err := coerceValue(f)
		if err != nil {
			return "", nil, err
		}

		ordinal++
		if f.Operator == "like" || f.Operator == "not_like" {
			// pattern matching is always textual; wrap the operand
			parts = append(parts, fmt.Sprintf("%s %s CONCAT('%%', $%d::text, '%%')", col, op, ordinal))
		} else {
			parts = append(parts, fmt.Sprintf("%s %s $%d%s", col, op, ordinal, cast))
		}
		args = append(args, val)
	}

	return strings.Join(parts, " AND "), args, nil
}

// coerceValue converts the JSON-typed filter value into the Go value bound
// for the placeholder, according to the filter's declared type.
func coerceValue(f *Filter) (any, error) {
	bad := func() error {
		return errs.BadRequest("filters", fmt.Sprintf("filter on %q: expected a %s value", f.Column, f.Type))
	}

	switch f.Type {
	case "boolean":
		if b, ok := f.Value.(bool); ok {
			return b, nil
		}
		return nil, bad()
	case "integer":
		switch v := f.Value.(type) {
		case float64:
			return int64(v), nil
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return nil, bad()
			}
			return n, nil
		}
		return nil, bad()
	case "numeric":
		switch v := f.Value.(type) {
		case float64:
			return v, nil
		case json.Number:
			return v.String(), nil
		case string:
			return v, nil
		}
		return nil, bad()
	case "text", "timestamp":
		switch v := f.Value.(type) {
		case string:
			return v, nil
		case float64:
			return fmt.Sprintf("%v", v), nil
		case bool:
			return fmt.Sprintf("%t", v), nil
		}
		return nil, bad()
	}
	return nil, errs.BadRequest("filters", fmt.Sprintf("unsupported filter type: %q", f.Type))
}

// quoteIdent wraps a SQL identifier in double-quotes (ANSI standard).
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
