package gateway

import (
	"math/big"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superhawk610/dbc/internal/errs"
	"github.com/superhawk610/dbc/internal/sqlparse"
)

func splitOne(t *testing.T, sql string) sqlparse.Statement {
	t.Helper()
	stmts := sqlparse.Split(sql)
	require.Len(t, stmts, 1)
	return stmts[0]
}

func TestToCell(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"null", nil, nil},
		{"bool", true, true},
		{"int64", int64(42), int64(42)},
		{"int32", int32(7), int32(7)},
		{"float", 1.5, 1.5},
		{"string", "hello", "hello"},
		{"timestamp is iso-8601", ts, "2024-06-01T12:30:00Z"},
		{"binary is base64", []byte{0xde, 0xad}, "3q0="},
		{"uuid", [16]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00},
			"11223344-5566-7788-99aa-bbccddeeff00"},
		{"jsonb object passes through", map[string]any{"a": float64(1)}, map[string]any{"a": float64(1)}},
		{"nan degrades to text", float64(0) / zero(), "NaN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toCell(tt.in))
		})
	}
}

// zero defeats constant folding so the NaN case builds.
func zero() float64 { return 0 }

func TestToCellNumeric(t *testing.T) {
	n := pgtype.Numeric{Int: big.NewInt(123456), Exp: -3, Valid: true}
	assert.Equal(t, "123.456", toCell(n))

	assert.Nil(t, toCell(pgtype.Numeric{}))
	assert.Equal(t, "NaN", toCell(pgtype.Numeric{Valid: true, NaN: true}))
}

func TestToCellArray(t *testing.T) {
	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	got := toCell([]any{int64(1), ts, nil})
	assert.Equal(t, []any{int64(1), "2024-06-01T00:00:00Z", nil}, got)
}

func TestParamValue(t *testing.T) {
	t.Run("null stays null", func(t *testing.T) {
		v, err := paramValue(nil, pgtype.Int4OID)
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("integers", func(t *testing.T) {
		v, err := paramValue(float64(42), pgtype.Int8OID)
		require.NoError(t, err)
		assert.Equal(t, int64(42), v)

		_, err = paramValue(float64(1.5), pgtype.Int4OID)
		assert.True(t, errs.IsBadRequest(err))

		_, err = paramValue("42", pgtype.Int4OID)
		assert.True(t, errs.IsBadRequest(err))
	})

	t.Run("booleans", func(t *testing.T) {
		v, err := paramValue(true, pgtype.BoolOID)
		require.NoError(t, err)
		assert.Equal(t, true, v)

		_, err = paramValue("true", pgtype.BoolOID)
		assert.True(t, errs.IsBadRequest(err))
	})

	t.Run("numerics accept numbers and strings", func(t *testing.T) {
		v, err := paramValue(float64(9.25), pgtype.NumericOID)
		require.NoError(t, err)
		assert.Equal(t, float64(9.25), v)

		v, err = paramValue("92233720368547758079.5", pgtype.NumericOID)
		require.NoError(t, err)
		assert.Equal(t, "92233720368547758079.5", v)
	})

	t.Run("unknown types coerce from text", func(t *testing.T) {
		v, err := paramValue("2024-01-01", pgtype.TimestamptzOID)
		require.NoError(t, err)
		assert.Equal(t, "2024-01-01", v)

		v, err = paramValue(float64(7), pgtype.TextOID)
		require.NoError(t, err)
		assert.Equal(t, "7", v)

		v, err = paramValue(true, 999999)
		require.NoError(t, err)
		assert.Equal(t, "true", v)
	})
}

func TestNewSelectPage(t *testing.T) {
	entries := Entries{
		Columns: []Column{{Name: "x", Index: 0, Type: "int4"}},
		Rows:    [][]any{{int64(1)}, {int64(2)}, {int64(3)}},
	}

	t.Run("total pages round up", func(t *testing.T) {
		page := newSelectPage(2, 3, 7, nil, entries)
		assert.Equal(t, "select", page.Type)
		assert.Equal(t, 2, page.Page)
		assert.Equal(t, 3, page.PageSize)
		assert.Equal(t, 3, page.PageCount)
		assert.Equal(t, 7, page.TotalCount)
		assert.Equal(t, 3, page.TotalPages)
	})

	t.Run("download-all is one page", func(t *testing.T) {
		page := newSelectPage(1, -1, 3, nil, entries)
		assert.Equal(t, 1, page.TotalPages)
	})

	t.Run("exact division", func(t *testing.T) {
		page := newSelectPage(1, 10, 20, nil, entries)
		assert.Equal(t, 2, page.TotalPages)
	})
}

func TestRenderPlan(t *testing.T) {
	t.Run("json plan re-encodes", func(t *testing.T) {
		plan, err := renderPlan([][]any{{[]any{map[string]any{"Plan": map[string]any{"Node Type": "Seq Scan"}}}}})
		require.NoError(t, err)
		assert.JSONEq(t, `[{"Plan":{"Node Type":"Seq Scan"}}]`, plan)
	})

	t.Run("text plan joins rows", func(t *testing.T) {
		plan, err := renderPlan([][]any{{"Seq Scan on t"}, {"  Filter: (a = 1)"}})
		require.NoError(t, err)
		assert.Equal(t, "Seq Scan on t\n  Filter: (a = 1)", plan)
	})
}

func TestCellInt(t *testing.T) {
	assert.Equal(t, 7, cellInt(int64(7)))
	assert.Equal(t, 7, cellInt(int32(7)))
	assert.Equal(t, 7, cellInt(float64(7)))
	assert.Equal(t, 0, cellInt("7"))
}

func TestReferencedTables(t *testing.T) {
	stmts := splitOne(t, "UPDATE accounts SET balance = 0")
	assert.Equal(t, []string{"accounts"}, referencedTables(stmts))
}
