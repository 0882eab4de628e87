package assistant

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/classsight/classsight/provider"
)

// sqlSystemInstructions constrains the model to exactly one bounded read-only
// statement over the declared schema.
const sqlSystemInstructions = `You are a careful SQL writer.
- Output ONLY a single SQL statement that answers the user's question.
- Use ANSI SQL compatible with PostgreSQL.
- It must be a single SELECT query (no DDL/DML, no CTEs that modify data).
- Prefer JOINs using the schema; avoid guessing column names that don't exist.
- Use ILIKE with wildcards for fuzzy text (e.g., ILIKE '%' || term || '%') when helpful.
- Always include an ORDER BY where relevant and a LIMIT (<= 100) to cap rows.
- Do not wrap the SQL in code fences or add commentary.
- If multiple rows tie for the same top score / value / result, return all of them.
- When asked for average attendance, give percentages.`

var codeFence = regexp.MustCompile("(?im)^```(?:sql)?|```$")

// Synthesizer turns a natural-language question plus a schema description into
// a candidate SQL statement. Its output is untrusted until validated.
type Synthesizer struct {
	llm provider.Provider
}

func NewSynthesizer(llm provider.Provider) *Synthesizer {
	return &Synthesizer{llm: llm}
}

// Synthesize produces a candidate query. A non-empty errorFeedback carries the
// previous execution's error and asks the model for a revised statement; this
// is the orchestrator's single retry hook.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, schema *SchemaSnapshot, errorFeedback string) (CandidateQuery, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Schema:\n%s\n\nQuestion:\n%s", schema.Prompt(), question)
	if errorFeedback != "" {
		fmt.Fprintf(&user, "\n\nThe previous SQL failed with error:\n%s\n\nRevise and return ONLY a safe single SELECT with LIMIT.", errorFeedback)
	}

	raw, err := s.llm.ChatCompletion(ctx, sqlSystemInstructions, user.String())
	if err != nil {
		return CandidateQuery{}, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	sql := stripFences(raw)
	if sql == "" {
		return CandidateQuery{}, fmt.Errorf("%w: model returned empty statement", ErrSynthesis)
	}
	return CandidateQuery{SQL: sql}, nil
}

// stripFences removes incidental markdown code fences the model sometimes adds.
func stripFences(s string) string {
	return strings.TrimSpace(codeFence.ReplaceAllString(strings.TrimSpace(s), ""))
}
