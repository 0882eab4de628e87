package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/classsight/classsight/internal/session"
	"github.com/classsight/classsight/provider"
)

// Fixed user-visible messages. These are the only degraded outputs; internal
// error detail stays in logs.
const (
	NoDataMessage     = "No relevant data found. Please check that you entered the correct student name, bootcamp, or unit title."
	NoEvidenceMessage = "No relevant information was found in the knowledge base."
	ApologyMessage    = "I'm sorry, I'm experiencing technical difficulties and cannot process your request right now. Please try again later."
)

const composerInstructions = "You are a precise analyst. Today is %s. Use only the provided evidence and context to answer succinctly. " +
	"Always check whether the student has taken the unit or is enrolled in the bootcamp before answering. " +
	"Do not mention the SQL query or the calculations you did in your final output."

// Composer merges retrieved evidence with recent conversation turns into one
// bounded prompt and invokes the language model.
type Composer struct {
	llm    provider.Provider
	window int
	now    func() time.Time
}

func NewComposer(llm provider.Provider, historyWindow int) *Composer {
	if historyWindow <= 0 {
		historyWindow = 5
	}
	return &Composer{llm: llm, window: historyWindow, now: time.Now}
}

// Compose produces the final answer text. Empty evidence short-circuits to the
// fixed no-data message without a model call; the second return reports
// whether the model was invoked, so callers only record turns for real
// answers.
func (c *Composer) Compose(ctx context.Context, question string, evidence Evidence, turns []session.Turn) (string, bool, error) {
	if evidence.Empty() {
		if len(evidence.SQL) > 0 {
			return NoDataMessage, false, nil
		}
		return NoEvidenceMessage, false, nil
	}

	system := fmt.Sprintf(composerInstructions, c.now().Format("2006-01-02"))

	var prompt strings.Builder
	if len(turns) > 0 {
		prompt.WriteString("Conversation so far:\n")
		for _, t := range lastN(turns, c.window) {
			fmt.Fprintf(&prompt, "Q: %s\nA: %s\n", t.Question, t.Answer)
		}
		prompt.WriteString("\n")
	}
	fmt.Fprintf(&prompt, "Current Question: %s\n", question)
	if len(evidence.Rows) > 0 {
		rows, _ := json.Marshal(evidence.Rows)
		fmt.Fprintf(&prompt, "SQL: %s\n", evidence.SQL)
		fmt.Fprintf(&prompt, "Rows: %s", rows)
	} else {
		prompt.WriteString("Context:\n")
		for _, chunk := range evidence.Chunks {
			fmt.Fprintf(&prompt, "- %s\n", chunk.Text)
		}
	}

	answer, err := c.llm.ChatCompletion(ctx, system, prompt.String())
	if err != nil {
		return "", false, fmt.Errorf("compose answer: %w", err)
	}
	return strings.TrimSpace(answer), true, nil
}

// lastN keeps the most recent n turns in chronological order.
func lastN(turns []session.Turn, n int) []session.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
