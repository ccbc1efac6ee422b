package sqlparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractRefs(t *testing.T) {
	t.Run("simple select", func(t *testing.T) {
		refs := ExtractRefs("SELECT * FROM users")
		require.Len(t, refs.Tables, 1)
		assert.Equal(t, TableRef{Name: "users"}, refs.Tables[0])
	})

	t.Run("alias", func(t *testing.T) {
		refs := ExtractRefs("SELECT u.id FROM users u JOIN orders AS o ON o.user_id = u.id")
		require.Len(t, refs.Tables, 2)
		assert.Equal(t, TableRef{Name: "users", Alias: "u"}, refs.Tables[0])
		assert.Equal(t, TableRef{Name: "orders", Alias: "o"}, refs.Tables[1])
	})

	t.Run("schema qualified", func(t *testing.T) {
		refs := ExtractRefs("SELECT * FROM public.users")
		require.Len(t, refs.Tables, 1)
		assert.Equal(t, "public.users", refs.Tables[0].Name)
	})

	t.Run("cte names are not tables", func(t *testing.T) {
		refs := ExtractRefs("WITH recent AS (SELECT * FROM orders) SELECT * FROM recent")
		assert.Equal(t, []string{"recent"}, refs.CTEs)
		require.Len(t, refs.Tables, 1)
		assert.Equal(t, "orders", refs.Tables[0].Name)
	})

	t.Run("multiple ctes", func(t *testing.T) {
		refs := ExtractRefs("WITH a AS (SELECT 1), b AS (SELECT 2) SELECT * FROM a, b")
		assert.Equal(t, []string{"a", "b"}, refs.CTEs)
	})

	t.Run("update target", func(t *testing.T) {
		refs := ExtractRefs("UPDATE accounts SET balance = 0 WHERE id = $1")
		require.Len(t, refs.Tables, 1)
		assert.Equal(t, "accounts", refs.Tables[0].Name)
	})

	t.Run("insert target", func(t *testing.T) {
		refs := ExtractRefs("INSERT INTO audit_log (msg) VALUES ('x')")
		require.Len(t, refs.Tables, 1)
		assert.Equal(t, "audit_log", refs.Tables[0].Name)
	})

	t.Run("keywords after from are not tables", func(t *testing.T) {
		refs := ExtractRefs("SELECT * FROM t WHERE a IN (SELECT b FROM s)")
		require.Len(t, refs.Tables, 2)
		assert.Equal(t, "t", refs.Tables[0].Name)
		assert.Equal(t, "s", refs.Tables[1].Name)
	})

	t.Run("table names in strings are ignored", func(t *testing.T) {
		refs := ExtractRefs("SELECT 'FROM fake' FROM real_table")
		require.Len(t, refs.Tables, 1)
		assert.Equal(t, "real_table", refs.Tables[0].Name)
	})
}

func TestActiveRange(t *testing.T) {
	tests := []struct {
		name   string
		script string
		cursor int
		want   string
		wantOK bool
	}{
		{
			name:   "single statement",
			script: "SELECT 1",
			cursor: 3,
			want:   "SELECT 1",
			wantOK: true,
		},
		{
			name:   "cursor in second statement",
			script: "SELECT 1;\nSELECT 2;",
			cursor: 12,
			want:   "SELECT 2",
			wantOK: true,
		},
		{
			name:   "comment lines trimmed from the start",
			script: "-- header\nSELECT 1",
			cursor: 12,
			want:   "SELECT 1",
			wantOK: true,
		},
		{
			name:   "comment lines trimmed from the end",
			script: "SELECT 1\n-- trailer",
			cursor: 2,
			want:   "SELECT 1",
			wantOK: true,
		},
		{
			name:   "blank lines trimmed",
			script: "\n\nSELECT 1\n\n",
			cursor: 4,
			want:   "SELECT 1",
			wantOK: true,
		},
		{
			name:   "block comment lines excluded",
			script: "/*\nbig header\n*/\nSELECT 1\n",
			cursor: 18,
			want:   "SELECT 1",
			wantOK: true,
		},
		{
			name:   "only comments yields nothing",
			script: "-- nothing here\n",
			cursor: 3,
			wantOK: false,
		},
		{
			name:   "does not cross semicolons",
			script: "SELECT 1; SELECT 2; SELECT 3",
			cursor: 13,
			want:   "SELECT 2",
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, ok := ActiveRange(tt.script, tt.cursor)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, tt.script[start:end+1])
			}
		})
	}
}
