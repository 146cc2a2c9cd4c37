package answer

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Patterns that mark a query as code-like or structured. Rewriting
// such input tends to destroy identifiers and operators, so the
// optimizer skips it.
var (
	codeFencePattern  = regexp.MustCompile("```|~~~")
	markupPattern     = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9-]*(\s[^>]*)?>`)
	sqlPattern        = regexp.MustCompile(`(?is)\b(select|insert|update|delete|create|alter|drop)\b.+\b(from|into|table|set|where|values)\b`)
	codeSyntaxPattern = regexp.MustCompile(`[{};]\s*$|\b(func|def|class|import|return|var|const)\b\s*[({\w]`)
)

// shouldOptimize reports whether the query is plain prose short enough
// that a paraphrase is likely to help retrieval.
func shouldOptimize(query string, maxChars int) bool {
	q := strings.TrimSpace(query)
	if q == "" {
		return false
	}
	if maxChars > 0 && utf8.RuneCountInString(q) > maxChars {
		return false
	}
	if codeFencePattern.MatchString(q) ||
		markupPattern.MatchString(q) ||
		sqlPattern.MatchString(q) ||
		codeSyntaxPattern.MatchString(q) {
		return false
	}
	return true
}
