package stability

import "strings"

// Tokenize splits text on runs of whitespace, discarding empty tokens.
func Tokenize(text string) []string {
	return strings.Fields(text)
}

// StablePrefix returns the longest common leading token run of two
// consecutive hypotheses. Tokens are compared case-insensitively and the walk
// stops at the first mismatch; words the recognizer has repeated across two
// polls are assumed final. The returned tokens keep the casing of current.
func StablePrefix(current, previous string) []string {
	if current == "" || previous == "" {
		return nil
	}

	cur := Tokenize(current)
	prev := Tokenize(previous)

	n := len(cur)
	if len(prev) < n {
		n = len(prev)
	}

	var stable []string
	for i := 0; i < n; i++ {
		if !strings.EqualFold(cur[i], prev[i]) {
			break
		}
		stable = append(stable, cur[i])
	}
	return stable
}
