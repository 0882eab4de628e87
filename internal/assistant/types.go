package assistant

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/classsight/classsight/internal/store"
)

// Answering systems, recorded with every terminal transition.
const (
	SystemSQL    = "sql"
	SystemVector = "vector"
	SystemError  = "error"
)

// CandidateQuery is a synthesizer-produced statement. It is untrusted model
// output and must pass Validate before it can reach the executor.
type CandidateQuery struct {
	SQL string
}

// ValidatedQuery is a candidate that passed the safety policy: single
// statement, read-only, row-bounded. The executor accepts nothing else. The
// unexported field keeps construction confined to Validate.
type ValidatedQuery struct {
	sql string
}

// String returns the validated statement text.
func (q ValidatedQuery) String() string { return q.sql }

// SchemaSnapshot is an immutable capture of the allow-listed tables. It is
// regenerated wholesale on refresh, never patched.
type SchemaSnapshot struct {
	Tables     []store.TableSchema
	CapturedAt time.Time
}

// Prompt renders the snapshot as the textual schema description given to the
// synthesizer: columns, foreign keys and sample rows per table.
func (s *SchemaSnapshot) Prompt() string {
	var b strings.Builder
	for i, t := range s.Tables {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "TABLE %s\n", t.Name)
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			col := c.Name + " " + c.DataType
			if c.Nullable {
				col += " NULL"
			}
			cols = append(cols, col)
		}
		fmt.Fprintf(&b, "  COLUMNS: %s\n", strings.Join(cols, ", "))
		if len(t.ForeignKeys) == 0 {
			b.WriteString("  FKs: None\n")
		} else {
			fks := make([]string, 0, len(t.ForeignKeys))
			for _, fk := range t.ForeignKeys {
				fks = append(fks, fmt.Sprintf("%s -> %s.%s", fk.Column, fk.ReferencedTable, fk.ReferencedColumn))
			}
			fmt.Fprintf(&b, "  FKs: %s\n", strings.Join(fks, "; "))
		}
		samples, _ := json.Marshal(t.SampleRows)
		fmt.Fprintf(&b, "  SAMPLES: %s", samples)
	}
	return b.String()
}

// EvidenceChunk is one retrieved fact from the chunk store.
type EvidenceChunk struct {
	Text     string
	Metadata map[string]interface{}
	Score    float64
}

// Evidence is what grounds a composed answer: SQL rows on the primary path,
// chunks on the fallback path.
type Evidence struct {
	SQL    string
	Rows   []store.Row
	Chunks []EvidenceChunk
}

// Empty reports whether there is nothing to ground an answer in.
func (e Evidence) Empty() bool { return len(e.Rows) == 0 && len(e.Chunks) == 0 }

// Source describes where an answer came from, surfaced to API clients.
type Source struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Answer is the terminal result of one question cycle. The orchestrator always
// produces one; raw errors never reach the caller.
type Answer struct {
	Text           string   `json:"answer"`
	SessionID      string   `json:"session_id"`
	System         string   `json:"system_used"`
	FallbackReason string   `json:"fallback_reason,omitempty"`
	Sources        []Source `json:"sources"`
}
