package catalog

import "strings"

// matchTags implements the DNF tag grammar/§9: each
// element of `want` is one conjunctive clause; within a clause, tokens
// joined by '&' must all be present in `have`, alternatives joined by '|'
// satisfy the clause if any is present. The overall clauses are OR-ed.
//
// An empty `want` always matches (no tag filter requested).
func matchTags(have []string, want []string) bool {
	if len(want) == 0 {
		return true
	}

	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}

	for _, clause := range want {
		if matchClause(set, clause) {
			return true
		}
	}
	return false
}

// matchClause evaluates one clause: it is split on '&' into required
// tokens, and each required token may itself be a '|'-separated set of
// acceptable alternatives. So "a&b|c" matches when the model has "a" and
// at least one of "b" or "c".
func matchClause(have map[string]struct{}, clause string) bool {
	requirements := strings.Split(clause, "&")
	for _, req := range requirements {
		if !matchAlternatives(have, req) {
			return false
		}
	}
	return true
}

// matchAlternatives returns true if any '|'-separated alternative in req is
// present in have.
func matchAlternatives(have map[string]struct{}, req string) bool {
	for _, alt := range strings.Split(req, "|") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		if _, ok := have[alt]; ok {
			return true
		}
	}
	return false
}
