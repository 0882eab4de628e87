package assistant

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultRowCap is appended when a candidate carries no LIMIT of its own.
const DefaultRowCap = 200

var (
	mutatingKeyword = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|truncate|alter|create|grant|revoke|merge)\b`)
	selectPrefix    = regexp.MustCompile(`(?i)^\s*select\b`)
	limitClause     = regexp.MustCompile(`(?i)\blimit\s+\d+\b`)
)

// Validate enforces the safety policy on synthesizer output: no mutating
// keyword anywhere, a SELECT prefix, a single statement, and a row cap
// (appended when missing — the only repair the validator performs).
//
// This is a text-level token policy, not a SQL parser: a mutating keyword
// inside a string literal is rejected even though it would be harmless, and it
// is not a complete injection defense on its own. It is one layer; the
// executor's read-only transaction and statement timeout are the backstop.
func Validate(candidate CandidateQuery) (ValidatedQuery, error) {
	sql := strings.TrimSpace(candidate.SQL)
	if sql == "" {
		return ValidatedQuery{}, fmt.Errorf("%w: empty statement", ErrUnsafeQuery)
	}
	if m := mutatingKeyword.FindString(sql); m != "" {
		return ValidatedQuery{}, fmt.Errorf("%w: mutating keyword %q — only SELECT queries are allowed", ErrUnsafeQuery, strings.ToUpper(m))
	}
	if !selectPrefix.MatchString(sql) {
		return ValidatedQuery{}, fmt.Errorf("%w: only a single SELECT statement is allowed", ErrUnsafeQuery)
	}
	// A separator anywhere before the final trailing terminator means more
	// than one statement.
	if strings.Contains(strings.TrimSuffix(sql, ";"), ";") {
		return ValidatedQuery{}, fmt.Errorf("%w: multiple statements detected, provide exactly one SELECT", ErrUnsafeQuery)
	}
	if !limitClause.MatchString(sql) {
		sql = fmt.Sprintf("%s LIMIT %d;", strings.TrimRight(sql, "; \t\n"), DefaultRowCap)
	}
	return ValidatedQuery{sql: sql}, nil
}
