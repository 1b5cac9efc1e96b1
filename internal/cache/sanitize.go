package cache

import "strings"

// emptySentinel is returned by Sanitize when the input is unsafe or
// degenerate: callers must skip the full-text phase entirely rather than
// pass this value to MATCH.
const emptySentinel = ""

// ftsOperatorChars are the FTS5 query-syntax characters spec.md §4.3
// requires stripped or escaped: quote, caret, star, colon, parens, plus
// the characters that make up the NEAR keyword's significance (NEAR is
// handled as a whole-word strip below, not per-character).
const ftsOperatorChars = "\"^*:()"

// Sanitize turns a free-form user string into either the empty sentinel
// or a double-quoted phrase safe to pass as an FTS5 MATCH operand. It
// never returns a string containing an unescaped operator character, and
// never returns a syntactically invalid MATCH expression (property 2 in
// spec.md §8).
func Sanitize(q string) string {
	// A semicolon has no meaning as an FTS5 search term; the only reason
	// one shows up in a query box is SQL-injection-shaped input riding
	// along with it ("...; DROP TABLE ..."). Truncate there rather than
	// just dropping the semicolon itself, so none of that trailing text
	// is ever treated as a searchable token.
	if i := strings.IndexByte(q, ';'); i >= 0 {
		q = q[:i]
	}

	var b strings.Builder
	for _, r := range q {
		if r < 0x20 {
			// control characters: drop
			continue
		}
		if strings.ContainsRune(ftsOperatorChars, r) {
			continue
		}
		b.WriteRune(r)
	}

	cleaned := strings.TrimSpace(b.String())
	cleaned = stripWholeWordNear(cleaned)
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" || isAllWildcards(cleaned) {
		return emptySentinel
	}

	return `"` + cleaned + `"`
}

// stripWholeWordNear removes the FTS5 NEAR keyword when it appears as its
// own token (case-insensitive), since within a double-quoted phrase it
// would otherwise be taken literally — harmless for MATCH semantics, but
// spec.md §4.3 calls it out explicitly as an operator to neutralize.
func stripWholeWordNear(s string) string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.EqualFold(f, "NEAR") {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// isAllWildcards reports whether s, after stripping, consists solely of
// characters with no discriminating search value: "*", "-", "." and "_".
// The operator strip above already removes "*", so in practice this
// catches punctuation-only residue like "--" or "..".
func isAllWildcards(s string) bool {
	for _, r := range s {
		if r != '*' && r != '-' && r != '.' && r != '_' {
			return false
		}
	}
	return true
}
