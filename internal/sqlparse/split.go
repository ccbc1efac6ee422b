// Package sqlparse splits SQL scripts into statements and classifies them.
//
// The splitter is a small lexer, not a parser: it understands just enough
// PostgreSQL syntax (single-quoted strings, double-quoted identifiers,
// dollar-quoted strings, line and block comments) to find top-level
// semicolons and positional parameter markers without executing anything.
package sqlparse

import "strings"

// Statement is a single SQL command within a submitted script.
type Statement struct {
	// Text is the statement with surrounding whitespace trimmed.
	Text string

	// Start and End delimit the trimmed statement within the original
	// script as an inclusive byte range.
	Start int
	End   int

	// Kind classifies the statement by its leading keyword.
	Kind Kind

	// Inner is set for explain statements: the classification of the
	// statement being explained.
	Inner Kind
}

// lexState tracks where the lexer is inside quoted or commented regions.
type lexState int

const (
	stNone lexState = iota
	stSingleQuote
	stDoubleQuote
	stLineComment
	stBlockComment
	stDollarQuote
)

// lexer walks a script byte-by-byte, tracking quote and comment context.
type lexer struct {
	src       string
	pos       int
	state     lexState
	blockDeep int    // block comments nest in Postgres
	dollarTag string // active $tag$ delimiter
}

// next advances one byte (or one full delimiter) and returns the number of
// bytes consumed. Callers inspect l.state before and after to know whether
// the consumed bytes were top-level.
func (l *lexer) next() int {
	src, i := l.src, l.pos

	switch l.state {
	case stSingleQuote:
		if src[i] == '\'' {
			// '' escapes a quote inside a string
			if i+1 < len(src) && src[i+1] == '\'' {
				l.pos += 2
				return 2
			}
			l.state = stNone
		}
	case stDoubleQuote:
		if src[i] == '"' {
			if i+1 < len(src) && src[i+1] == '"' {
				l.pos += 2
				return 2
			}
			l.state = stNone
		}
	case stLineComment:
		if src[i] == '\n' {
			l.state = stNone
		}
	case stBlockComment:
		if strings.HasPrefix(src[i:], "*/") {
			l.blockDeep--
			if l.blockDeep == 0 {
				l.state = stNone
			}
			l.pos += 2
			return 2
		}
		if strings.HasPrefix(src[i:], "/*") {
			l.blockDeep++
			l.pos += 2
			return 2
		}
	case stDollarQuote:
		if strings.HasPrefix(src[i:], l.dollarTag) {
			n := len(l.dollarTag)
			l.state = stNone
			l.dollarTag = ""
			l.pos += n
			return n
		}
	default:
		switch {
		case src[i] == '\'':
			l.state = stSingleQuote
		case src[i] == '"':
			l.state = stDoubleQuote
		case strings.HasPrefix(src[i:], "--"):
			l.state = stLineComment
			l.pos += 2
			return 2
		case strings.HasPrefix(src[i:], "/*"):
			l.state = stBlockComment
			l.blockDeep = 1
			l.pos += 2
			return 2
		case src[i] == '$':
			if tag := dollarTagAt(src, i); tag != "" {
				l.state = stDollarQuote
				l.dollarTag = tag
				l.pos += len(tag)
				return len(tag)
			}
		}
	}

	l.pos++
	return 1
}

// dollarTagAt returns the $tag$ delimiter starting at i, or "" if the text
// at i is not a dollar-quote opener (e.g. a $1 parameter marker).
func dollarTagAt(src string, i int) string {
	j := i + 1
	for j < len(src) {
		c := src[j]
		if c == '$' {
			return src[i : j+1]
		}
		if !isIdentByte(c) || (j == i+1 && c >= '0' && c <= '9') {
			return ""
		}
		j++
	}
	return ""
}

func isIdentByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// Split divides a script into its statements on top-level semicolons.
// Empty statements (two consecutive semicolons, or trailing whitespace after
// the final semicolon) are skipped. A single statement without a trailing
// semicolon is valid.
func Split(script string) []Statement {
	var out []Statement

	l := &lexer{src: script}
	start := 0
	flush := func(end int) {
		if stmt, ok := trimStatement(script, start, end); ok {
			out = append(out, stmt)
		}
	}

	for l.pos < len(script) {
		if l.state == stNone && script[l.pos] == ';' {
			flush(l.pos)
			l.pos++
			start = l.pos
			continue
		}
		l.next()
	}
	flush(len(script))

	return out
}

// trimStatement trims whitespace from script[start:end] and classifies the
// result. Returns false for an empty statement.
func trimStatement(script string, start, end int) (Statement, bool) {
	for start < end && isSpaceByte(script[start]) {
		start++
	}
	for end > start && isSpaceByte(script[end-1]) {
		end--
	}
	if start >= end {
		return Statement{}, false
	}

	text := script[start:end]
	if skipLeadingTrivia(text) == "" {
		// nothing but comments and whitespace
		return Statement{}, false
	}
	kind, inner := Classify(text)
	return Statement{
		Text:  text,
		Start: start,
		End:   end - 1,
		Kind:  kind,
		Inner: inner,
	}, true
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
