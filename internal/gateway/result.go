// Package gateway executes classified SQL through pooled sessions and
// shapes the results for the editor.
package gateway

import "github.com/superhawk610/dbc/internal/rewrite"

// Column describes one output column of a result set, including the
// catalog provenance filled in by the annotator when the column maps back
// to a real table column.
type Column struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
	Type  string `json:"type"`

	SourceTable  *string `json:"source_table,omitempty"`
	SourceColumn *string `json:"source_column,omitempty"`
	FKConstraint *string `json:"fk_constraint,omitempty"`
	FKTable      *string `json:"fk_table,omitempty"`
	FKColumn     *string `json:"fk_column,omitempty"`

	// driver field metadata, not serialised
	tableOID uint32
	attNum   uint16
}

// Entries is one page of decoded rows. Rows align with Columns by index;
// each cell is a JSON scalar, null, array, or object.
type Entries struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// ResultPage is the tagged union returned for every executed statement.
// The wire tag is the `type` field of the concrete variant.
type ResultPage interface {
	resultPage()
}

// SelectPage is the pageable variant.
type SelectPage struct {
	Type       string        `json:"type"` // always "select"
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	PageCount  int           `json:"page_count"`
	TotalCount int           `json:"total_count"`
	TotalPages int           `json:"total_pages"`
	Sort       *rewrite.Sort `json:"sort"`
	Entries    Entries       `json:"entries"`
}

// ModifyDataPage reports a data-modifying statement.
type ModifyDataPage struct {
	Type         string `json:"type"` // always "modify-data"
	AffectedRows int64  `json:"affected_rows"`
}

// ModifyStructurePage reports a structure-modifying statement.
type ModifyStructurePage struct {
	Type string `json:"type"` // always "modify-structure"
}

// ExplainPage carries a query plan.
type ExplainPage struct {
	Type string `json:"type"` // always "explain"
	// Query is the statement that was explained.
	Query string `json:"query"`
	// Plan is the execution plan, JSON-encoded when the server produced
	// FORMAT JSON output, newline-joined text otherwise.
	Plan string `json:"plan"`
}

func (SelectPage) resultPage()          {}
func (ModifyDataPage) resultPage()      {}
func (ModifyStructurePage) resultPage() {}
func (ExplainPage) resultPage()         {}

func newSelectPage(page, pageSize, total int, sort *rewrite.Sort, entries Entries) SelectPage {
	totalPages := 1
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return SelectPage{
		Type:       "select",
		Page:       page,
		PageSize:   pageSize,
		PageCount:  len(entries.Rows),
		TotalCount: total,
		TotalPages: totalPages,
		Sort:       sort,
		Entries:    entries,
	}
}
