package sqlparse

import "strings"

// TableRef is a table referenced by a statement, with its alias if one was
// given. The editor-side completion provider uses these to scope column
// suggestions.
type TableRef struct {
	Name  string
	Alias string
}

// Refs holds the identifiers extracted from a select or data-modifying
// statement.
type Refs struct {
	// CTEs are the names introduced by WITH clauses.
	CTEs []string

	// Tables are the relations referenced in FROM/JOIN/INTO/UPDATE
	// positions, excluding CTE names.
	Tables []TableRef
}

// clause keywords that terminate a FROM list entry
var stopWords = map[string]bool{
	"on": true, "using": true, "where": true, "group": true, "order": true,
	"having": true, "limit": true, "offset": true, "union": true,
	"intersect": true, "except": true, "returning": true, "set": true,
	"values": true, "window": true, "fetch": true, "for": true,
	"cross": true, "natural": true, "inner": true, "left": true,
	"right": true, "full": true, "outer": true, "join": true,
	"lateral": true, "as": true,
}

// ExtractRefs tokenises stmt and pulls out CTE names and table references.
// It does not fully parse the statement; subqueries and quoting are handled
// only as far as needed for completion to be useful.
func ExtractRefs(stmt string) Refs {
	toks := tokenize(stmt)
	refs := Refs{}
	ctes := make(map[string]bool)

	for i := 0; i < len(toks); i++ {
		switch strings.ToLower(toks[i]) {
		case "with":
			// `WITH a AS (...), b AS (...)`: names appear before AS at
			// paren depth zero; the list ends at the main statement keyword
			depth := 0
			for j := i + 1; j < len(toks); j++ {
				switch toks[j] {
				case "(":
					depth++
					continue
				case ")":
					depth--
					continue
				}
				if depth > 0 {
					continue
				}
				lower := strings.ToLower(toks[j])
				if lower == "select" || lower == "insert" || lower == "update" || lower == "delete" {
					break
				}
				if j+1 < len(toks) && strings.ToLower(toks[j+1]) == "as" && isIdentToken(toks[j]) {
					name := unquoteIdent(toks[j])
					if !ctes[name] {
						ctes[name] = true
						refs.CTEs = append(refs.CTEs, name)
					}
				}
			}
		case "from", "join", "into", "update":
			name, alias, consumed := tableAt(toks, i+1)
			if name == "" {
				continue
			}
			if !ctes[name] {
				refs.Tables = append(refs.Tables, TableRef{Name: name, Alias: alias})
			}
			i += consumed
		}
	}

	return refs
}

// tableAt reads a table name (possibly schema-qualified) and optional alias
// starting at toks[i]. Returns the number of tokens consumed.
func tableAt(toks []string, i int) (name, alias string, consumed int) {
	if i >= len(toks) || !isIdentToken(toks[i]) {
		return "", "", 0
	}
	lower := strings.ToLower(toks[i])
	if stopWords[lower] || lower == "select" {
		return "", "", 0
	}

	name = unquoteIdent(toks[i])
	consumed = 1

	// schema.table
	if i+2 < len(toks) && toks[i+1] == "." && isIdentToken(toks[i+2]) {
		name = name + "." + unquoteIdent(toks[i+2])
		consumed += 2
		i += 2
	}

	// optional [AS] alias
	j := i + 1
	if j < len(toks) && strings.ToLower(toks[j]) == "as" {
		j++
		consumed++
	}
	if j < len(toks) && isIdentToken(toks[j]) && !stopWords[strings.ToLower(toks[j])] {
		alias = unquoteIdent(toks[j])
		consumed++
	}

	return name, alias, consumed
}

// tokenize splits stmt into identifier/punctuation tokens, dropping string
// and comment content.
func tokenize(stmt string) []string {
	var toks []string

	l := &lexer{src: stmt}
	for l.pos < len(stmt) {
		if l.state != stNone {
			l.next()
			continue
		}

		c := stmt[l.pos]
		switch {
		case isIdentByte(c) && !(c >= '0' && c <= '9'):
			start := l.pos
			for l.pos < len(stmt) && isIdentByte(stmt[l.pos]) {
				l.pos++
			}
			toks = append(toks, stmt[start:l.pos])
		case c == '"':
			start := l.pos
			before := l.state
			l.next()
			for l.pos < len(stmt) && l.state != before {
				l.next()
			}
			toks = append(toks, stmt[start:l.pos])
		case c == '.' || c == ',' || c == '(' || c == ')':
			toks = append(toks, string(c))
			l.pos++
		default:
			l.next()
		}
	}

	return toks
}

func isIdentToken(tok string) bool {
	if tok == "" {
		return false
	}
	c := tok[0]
	return c == '"' || isIdentByte(c) && !(c >= '0' && c <= '9')
}

func unquoteIdent(tok string) string {
	if len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"' {
		return strings.ReplaceAll(tok[1:len(tok)-1], `""`, `"`)
	}
	return strings.ToLower(tok)
}
