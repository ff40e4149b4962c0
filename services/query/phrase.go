package query

import "strings"

// parseQuotedQuery splits a free-text query into its "quoted phrases" and the
// remaining words. Empty phrases are dropped and an unbalanced trailing quote
// is treated as plain text.
func parseQuotedQuery(query string) ([]string, string) {
	var quoted []string
	var remaining []string

	for {
		start := strings.Index(query, `"`)
		if start == -1 {
			break
		}
		end := strings.Index(query[start+1:], `"`)
		if end == -1 {
			break
		}
		end += start + 1

		remaining = append(remaining, strings.Fields(query[:start])...)
		if phrase := strings.Join(strings.Fields(query[start+1:end]), " "); phrase != "" {
			quoted = append(quoted, phrase)
		}
		query = query[end+1:]
	}
	remaining = append(remaining, strings.Fields(strings.ReplaceAll(query, `"`, " "))...)

	return quoted, strings.Join(remaining, " ")
}
