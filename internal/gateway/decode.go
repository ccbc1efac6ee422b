package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/netip"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/superhawk610/dbc/internal/errs"
)

// decodeRows drains rows into the JSON cell model. Cells become booleans,
// numbers (decimals as strings to keep arbitrary precision), ISO-8601
// timestamp strings, nested JSON for arrays and jsonb, base64 text for
// binary, or the driver's textual rendering for everything else.
func decodeRows(rows pgx.Rows) ([][]any, error) {
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, errs.FromPg(err, "could not decode row")
		}
		row := make([]any, len(vals))
		for i, v := range vals {
			row[i] = toCell(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.FromPg(err, "error while reading rows")
	}

	if out == nil {
		out = [][]any{}
	}
	return out, nil
}

// toCell converts one driver value into the JSON cell model.
func toCell(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool, string, int64, int32, int16, int8, int:
		return val
	case float64:
		// NaN and infinities have no JSON encoding
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Sprint(val)
		}
		return val
	case float32:
		return toCell(float64(val))
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case pgtype.Numeric:
		return numericCell(val)
	case pgtype.Time:
		us := val.Microseconds
		return fmt.Sprintf("%02d:%02d:%02d", us/3_600_000_000, us/60_000_000%60, us/1_000_000%60)
	case pgtype.Interval, pgtype.Line, pgtype.Lseg, pgtype.Box, pgtype.Path,
		pgtype.Polygon, pgtype.Circle, pgtype.Point:
		return textual(val)
	case netip.Addr, netip.Prefix:
		return fmt.Sprint(val)
	case [16]byte:
		// uuid
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case map[string]any:
		return val
	case []any:
		cells := make([]any, len(val))
		for i, elem := range val {
			cells[i] = toCell(elem)
		}
		return cells
	default:
		return textual(val)
	}
}

// numericCell renders a numeric as a string so precision survives the trip
// through JSON.
func numericCell(n pgtype.Numeric) any {
	if !n.Valid {
		return nil
	}
	if n.NaN {
		return "NaN"
	}
	v, err := n.Value()
	if err != nil {
		return textual(n)
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// textual degrades an unknown driver type to a readable string. Types that
// know how to marshal themselves (most pgtype structs) keep that form.
func textual(v any) string {
	if m, ok := v.(json.Marshaler); ok {
		if raw, err := m.MarshalJSON(); err == nil {
			s := string(raw)
			if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
				var unquoted string
				if json.Unmarshal(raw, &unquoted) == nil {
					return unquoted
				}
			}
			return s
		}
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(v)
}

// paramValue converts a JSON-typed request parameter into the value bound
// for the driver, guided by the probed parameter OID. Unknown types coerce
// from text.
func paramValue(val any, oid uint32) (any, error) {
	if val == nil {
		return nil, nil
	}

	switch oid {
	case pgtype.BoolOID:
		if b, ok := val.(bool); ok {
			return b, nil
		}
		return nil, errs.BadRequest("params", "expected a boolean parameter")
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		if f, ok := val.(float64); ok {
			if f != math.Trunc(f) {
				return nil, errs.BadRequest("params", "expected an integer parameter")
			}
			return int64(f), nil
		}
		return nil, errs.BadRequest("params", "expected an integer parameter")
	case pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		switch n := val.(type) {
		case float64:
			return n, nil
		case string:
			return n, nil
		}
		return nil, errs.BadRequest("params", "expected a numeric parameter")
	default:
		// text, timestamps, json, uuid, …: bind the textual form and let
		// the server cast
		switch s := val.(type) {
		case string:
			return s, nil
		case bool:
			return fmt.Sprintf("%t", s), nil
		case float64:
			if s == math.Trunc(s) {
				return fmt.Sprintf("%d", int64(s)), nil
			}
			return fmt.Sprint(s), nil
		}
		return fmt.Sprint(val), nil
	}
}
