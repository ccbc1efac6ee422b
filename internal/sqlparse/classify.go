package sqlparse

import "strings"

// Kind tags a statement by the effect it has on the database.
type Kind string

const (
	KindSelect          Kind = "select"
	KindExplain         Kind = "explain"
	KindModifyData      Kind = "modify-data"
	KindModifyStructure Kind = "modify-structure"
	KindUtility         Kind = "utility"
	KindUnknown         Kind = "unknown"
)

var keywordKinds = map[string]Kind{
	"select": KindSelect,
	"with":   KindSelect,
	"values": KindSelect,
	"table":  KindSelect,
	"show":   KindSelect,

	"explain": KindExplain,

	"insert": KindModifyData,
	"update": KindModifyData,
	"delete": KindModifyData,
	"merge":  KindModifyData,
	"copy":   KindModifyData,

	"create":   KindModifyStructure,
	"alter":    KindModifyStructure,
	"drop":     KindModifyStructure,
	"truncate": KindModifyStructure,
	"rename":   KindModifyStructure,
	"comment":  KindModifyStructure,
	"grant":    KindModifyStructure,
	"revoke":   KindModifyStructure,
	"reindex":  KindModifyStructure,
	"vacuum":   KindModifyStructure,
	"cluster":  KindModifyStructure,
	"refresh":  KindModifyStructure,

	"begin":      KindUtility,
	"commit":     KindUtility,
	"rollback":   KindUtility,
	"set":        KindUtility,
	"reset":      KindUtility,
	"listen":     KindUtility,
	"notify":     KindUtility,
	"deallocate": KindUtility,
	"prepare":    KindUtility,
	"execute":    KindUtility,
	"call":       KindUtility,
}

// Classify determines a statement's kind from its leading keyword, after
// skipping comments and whitespace. For explain statements the inner
// statement is classified as well so downstream handling knows what is
// being explained.
func Classify(stmt string) (kind, inner Kind) {
	word, rest := leadingKeyword(stmt)
	if word == "" {
		return KindUnknown, ""
	}

	k, ok := keywordKinds[word]
	if !ok {
		return KindUnknown, ""
	}

	if k == KindExplain {
		inner = innerExplainKind(rest)
		return KindExplain, inner
	}
	return k, ""
}

// innerExplainKind classifies the statement following EXPLAIN, skipping the
// ANALYZE/VERBOSE modifiers and any (option, ...) list.
func innerExplainKind(rest string) Kind {
	for {
		word, next := leadingKeyword(rest)
		switch word {
		case "analyze", "analyse", "verbose":
			rest = next
			continue
		case "":
			// an (options) list isn't a keyword; strip it and retry
			trimmed := skipLeadingTrivia(rest)
			if strings.HasPrefix(trimmed, "(") {
				if end := strings.IndexByte(trimmed, ')'); end >= 0 {
					rest = trimmed[end+1:]
					continue
				}
			}
			return KindUnknown
		}
		k, _ := Classify(rest)
		return k
	}
}

// leadingKeyword returns the first keyword of stmt (lower-cased) and the
// text following it, skipping comments and whitespace.
func leadingKeyword(stmt string) (word, rest string) {
	s := skipLeadingTrivia(stmt)

	end := 0
	for end < len(s) && isKeywordByte(s[end]) {
		end++
	}
	if end == 0 {
		return "", s
	}
	return strings.ToLower(s[:end]), s[end:]
}

// skipLeadingTrivia removes leading whitespace and comments.
func skipLeadingTrivia(s string) string {
	for {
		i := 0
		for i < len(s) && isSpaceByte(s[i]) {
			i++
		}
		s = s[i:]

		switch {
		case strings.HasPrefix(s, "--"):
			if nl := strings.IndexByte(s, '\n'); nl >= 0 {
				s = s[nl+1:]
			} else {
				return ""
			}
		case strings.HasPrefix(s, "/*"):
			depth, j := 1, 2
			for j < len(s) && depth > 0 {
				if strings.HasPrefix(s[j:], "/*") {
					depth++
					j += 2
				} else if strings.HasPrefix(s[j:], "*/") {
					depth--
					j += 2
				} else {
					j++
				}
			}
			s = s[j:]
		default:
			return s
		}
	}
}

func isKeywordByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}
