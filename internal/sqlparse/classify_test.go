package sqlparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		stmt string
		want Kind
	}{
		{"SELECT 1", KindSelect},
		{"select * from t", KindSelect},
		{"WITH x AS (SELECT 1) SELECT * FROM x", KindSelect},
		{"VALUES (1), (2)", KindSelect},
		{"TABLE users", KindSelect},
		{"SHOW search_path", KindSelect},

		{"EXPLAIN SELECT 1", KindExplain},

		{"INSERT INTO t VALUES (1)", KindModifyData},
		{"UPDATE t SET a = 1", KindModifyData},
		{"DELETE FROM t", KindModifyData},
		{"MERGE INTO t USING s ON true WHEN MATCHED THEN DO NOTHING", KindModifyData},
		{"COPY t FROM stdin", KindModifyData},

		{"CREATE TABLE x(id int)", KindModifyStructure},
		{"ALTER TABLE x ADD COLUMN y int", KindModifyStructure},
		{"DROP TABLE x", KindModifyStructure},
		{"TRUNCATE x", KindModifyStructure},
		{"COMMENT ON TABLE x IS 'y'", KindModifyStructure},
		{"GRANT SELECT ON x TO y", KindModifyStructure},
		{"REVOKE SELECT ON x FROM y", KindModifyStructure},
		{"REINDEX TABLE x", KindModifyStructure},
		{"VACUUM x", KindModifyStructure},
		{"CLUSTER x", KindModifyStructure},
		{"REFRESH MATERIALIZED VIEW x", KindModifyStructure},

		{"BEGIN", KindUtility},
		{"COMMIT", KindUtility},
		{"ROLLBACK", KindUtility},
		{"SET search_path TO public", KindUtility},
		{"RESET all", KindUtility},
		{"LISTEN chan", KindUtility},
		{"NOTIFY chan", KindUtility},
		{"DEALLOCATE stmt", KindUtility},
		{"PREPARE p AS SELECT 1", KindUtility},
		{"EXECUTE p", KindUtility},
		{"CALL proc()", KindUtility},

		{"FROB the database", KindUnknown},
		{"", KindUnknown},
		{"-- just a comment", KindUnknown},
	}

	for _, tt := range tests {
		kind, _ := Classify(tt.stmt)
		assert.Equal(t, tt.want, kind, "statement: %q", tt.stmt)
	}
}

func TestClassifySkipsLeadingComments(t *testing.T) {
	kind, _ := Classify("-- leading comment\n/* and another */ SELECT 1")
	assert.Equal(t, KindSelect, kind)
}

func TestClassifyExplainInner(t *testing.T) {
	tests := []struct {
		stmt      string
		wantInner Kind
	}{
		{"EXPLAIN SELECT 1", KindSelect},
		{"EXPLAIN ANALYZE SELECT 1", KindSelect},
		{"EXPLAIN VERBOSE UPDATE t SET a = 1", KindModifyData},
		{"EXPLAIN (FORMAT JSON) DELETE FROM t", KindModifyData},
		{"EXPLAIN (ANALYZE, BUFFERS) SELECT * FROM t", KindSelect},
	}

	for _, tt := range tests {
		kind, inner := Classify(tt.stmt)
		assert.Equal(t, KindExplain, kind, "statement: %q", tt.stmt)
		assert.Equal(t, tt.wantInner, inner, "statement: %q", tt.stmt)
	}
}

func TestExplainParts(t *testing.T) {
	tests := []struct {
		stmt        string
		wantInner   string
		wantAnalyze bool
	}{
		{"EXPLAIN SELECT 1", "SELECT 1", false},
		{"EXPLAIN ANALYZE SELECT 1", "SELECT 1", true},
		{"explain analyse select 1", "select 1", true},
		{"EXPLAIN VERBOSE SELECT 1", "SELECT 1", false},
		{"EXPLAIN (FORMAT JSON) SELECT 1", "SELECT 1", false},
		{"EXPLAIN (ANALYZE, FORMAT TEXT) SELECT 1", "SELECT 1", true},
		{"EXPLAIN (ANALYZE false) SELECT 1", "SELECT 1", false},
	}

	for _, tt := range tests {
		inner, analyze := ExplainParts(tt.stmt)
		assert.Equal(t, tt.wantInner, inner, "statement: %q", tt.stmt)
		assert.Equal(t, tt.wantAnalyze, analyze, "statement: %q", tt.stmt)
	}
}
