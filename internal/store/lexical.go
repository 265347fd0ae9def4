package store

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/bbalet/stopwords"
)

// maxQueryTerms caps the OR-expression sent to the lexical engine.
const maxQueryTerms = 32

var termRegex = regexp.MustCompile(`[\pL\pN]+`)

// QueryTerms lowercases query, splits it into letter/digit runs and drops
// English stop words. A query made only of stop words keeps its terms so
// "the who" still matches something. Duplicates are removed, order kept.
func QueryTerms(query string) []string {
	raw := dedupe(termRegex.FindAllString(strings.ToLower(query), -1), 0)
	if len(raw) == 0 {
		return nil
	}

	filtered := make([]string, 0, len(raw))
	for _, term := range raw {
		if !isStopWord(term) || strings.IndexFunc(term, unicode.IsDigit) >= 0 {
			filtered = append(filtered, term)
		}
	}
	if len(filtered) == 0 {
		filtered = raw
	}
	return dedupe(filtered, maxQueryTerms)
}

// isStopWord checks a single term, so punctuation elsewhere in the query
// ("fox's") cannot hide the term from the stop-word list.
func isStopWord(term string) bool {
	return strings.TrimSpace(stopwords.CleanString(term, "en", false)) == ""
}

func dedupe(terms []string, limit int) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// ftsMatch builds an FTS5 MATCH expression that ORs the quoted terms.
// Quoting keeps FTS5 operators in user input from being interpreted.
func ftsMatch(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// isFTSQueryError reports FTS5 errors caused by the query text rather than
// the database; those are treated as no results.
func isFTSQueryError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fts5:") || strings.Contains(msg, "syntax error")
}
