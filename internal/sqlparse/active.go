package sqlparse

import "strings"

// ActiveRange returns the byte range of the statement containing cursor:
// the maximal span around the cursor that does not cross a top-level
// semicolon, with lines consisting solely of whitespace or comments
// excluded from both ends. The range is inclusive; ok is false when the
// cursor sits in a span with no statement content at all.
func ActiveRange(script string, cursor int) (start, end int, ok bool) {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(script) {
		cursor = len(script)
	}

	// find top-level semicolon boundaries around the cursor
	start, end = 0, len(script)
	l := &lexer{src: script}
	for l.pos < len(script) {
		if l.state == stNone && script[l.pos] == ';' {
			if l.pos < cursor {
				start = l.pos + 1
			} else {
				end = l.pos
				break
			}
		}
		l.next()
	}

	return trimCommentLines(script, start, end)
}

// trimCommentLines narrows [start, end) by dropping leading and trailing
// lines that hold only whitespace or comments. The pass is line-oriented
// and tracks block-comment state, so a line that opens or closes a block
// comment is excluded along with the comment body.
func trimCommentLines(script string, start, end int) (int, int, bool) {
	type line struct {
		start, end int // byte range, end exclusive
		content    bool
	}

	var lines []line
	inBlock := false
	ls := start
	for ls < end {
		le := ls
		for le < end && script[le] != '\n' {
			le++
		}
		content, nowBlock := lineHasContent(script[ls:le], inBlock)
		// a line that touches a block comment boundary never counts as content
		if inBlock != nowBlock {
			content = false
		}
		inBlock = nowBlock
		lines = append(lines, line{start: ls, end: le, content: content})
		ls = le + 1
	}

	first, last := -1, -1
	for i, ln := range lines {
		if ln.content {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return 0, 0, false
	}

	s, e := lines[first].start, lines[last].end
	for s < e && isSpaceByte(script[s]) {
		s++
	}
	for e > s && isSpaceByte(script[e-1]) {
		e--
	}
	if s >= e {
		return 0, 0, false
	}
	return s, e - 1, true
}

// lineHasContent reports whether a line contains anything beyond whitespace
// and comments, given the block-comment state at the start of the line, and
// returns the block-comment state after the line.
func lineHasContent(ln string, inBlock bool) (content, stillInBlock bool) {
	i := 0
	for i < len(ln) {
		if inBlock {
			if strings.HasPrefix(ln[i:], "*/") {
				inBlock = false
				i += 2
				continue
			}
			i++
			continue
		}

		switch {
		case isSpaceByte(ln[i]):
			i++
		case strings.HasPrefix(ln[i:], "--"):
			return content, false
		case strings.HasPrefix(ln[i:], "/*"):
			inBlock = true
			i += 2
		default:
			content = true
			i++
		}
	}
	return content, inBlock
}
