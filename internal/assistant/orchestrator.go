package assistant

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/classsight/classsight/internal/session"
	"github.com/classsight/classsight/internal/store"
	"github.com/classsight/classsight/internal/telemetry"
)

// HardRowCap bounds result sets at the execution layer regardless of the
// statement's own LIMIT.
const HardRowCap = 500

// State names the positions of the fallback chain.
type State string

const (
	StateSQLPrimary     State = "sql_primary"
	StateSQLRetryOnce   State = "sql_retry_once"
	StateVectorFallback State = "vector_fallback"
	StateErrorTerminal  State = "error_terminal"
)

// QueryExecutor runs validated statements. Satisfied by *store.Store.
type QueryExecutor interface {
	ExecuteReadOnly(ctx context.Context, query string, timeout time.Duration, maxRows int) ([]store.Row, error)
}

// Options tune the fallback chain. The zero value of MaxSQLRetries with
// fallback disabled reproduces the chunk-retrieval-only variant.
type Options struct {
	StatementTimeout     time.Duration
	HistoryWindow        int
	MaxSQLRetries        int
	EnableVectorFallback bool
}

// Orchestrator sequences snapshot → synthesize → validate → execute → compose
// and owns the fallback policy. It always returns an answer; stage errors are
// converted into transitions, never surfaced raw.
type Orchestrator struct {
	snap     *Snapshotter
	synth    *Synthesizer
	exec     QueryExecutor
	retr     *Retriever
	comp     *Composer
	sessions session.Store
	tele     *telemetry.Telemetry
	logger   *log.Logger
	opts     Options
}

func NewOrchestrator(snap *Snapshotter, synth *Synthesizer, exec QueryExecutor, retr *Retriever, comp *Composer, sessions session.Store, tele *telemetry.Telemetry, logger *log.Logger, opts Options) *Orchestrator {
	if opts.StatementTimeout <= 0 {
		opts.StatementTimeout = 5 * time.Second
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 5
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Orchestrator{snap: snap, synth: synth, exec: exec, retr: retr, comp: comp, sessions: sessions, tele: tele, logger: logger, opts: opts}
}

// RefreshSchema drops the cached snapshot so the next question re-introspects.
func (o *Orchestrator) RefreshSchema() { o.snap.Invalidate() }

// Answer runs one full question cycle through the fallback chain:
// SQL_PRIMARY → SQL_RETRY_ONCE → VECTOR_FALLBACK → ERROR_TERMINAL.
func (o *Orchestrator) Answer(ctx context.Context, sessionID, userID, question string) Answer {
	sid, err := o.sessions.Ensure(ctx, sessionID, userID)
	if err != nil {
		o.logger.Printf("session ensure failed: %v", err)
		sid = sessionID
	}
	turns, err := o.sessions.Recent(ctx, sid, o.opts.HistoryWindow)
	if err != nil {
		o.logger.Printf("session history unavailable: %v", err)
		turns = nil
	}

	state := StateSQLPrimary
	var lastErr error
	for attempt := 0; attempt <= o.opts.MaxSQLRetries; attempt++ {
		feedback := ""
		if attempt > 0 {
			state = StateSQLRetryOnce
			feedback = lastErr.Error()
		}
		text, sources, err := o.answerSQL(ctx, sid, question, feedback, turns)
		if err == nil {
			o.tele.RecordAnswer(SystemSQL, "")
			return Answer{Text: text, SessionID: sid, System: SystemSQL, Sources: sources}
		}
		lastErr = err
		o.tele.RecordFallback(stageOf(err))
		o.logger.Printf("state %s failed: %v", state, err)
	}

	if o.opts.EnableVectorFallback {
		state = StateVectorFallback
		text, sources, err := o.answerVector(ctx, sid, question, turns)
		if err == nil {
			o.tele.RecordAnswer(SystemVector, lastErr.Error())
			return Answer{Text: text, SessionID: sid, System: SystemVector, FallbackReason: lastErr.Error(), Sources: sources}
		}
		o.tele.RecordFallback(stageOf(err))
		o.logger.Printf("state %s failed: %v", state, err)
		lastErr = err
	}

	state = StateErrorTerminal
	o.tele.RecordAnswer(SystemError, lastErr.Error())
	o.logger.Printf("state %s: all systems exhausted: %v", state, lastErr)
	return Answer{Text: ApologyMessage, SessionID: sid, System: SystemError, FallbackReason: lastErr.Error(), Sources: []Source{}}
}

// answerSQL runs the primary path once. Any stage error is returned for the
// orchestrator to translate into the next transition.
func (o *Orchestrator) answerSQL(ctx context.Context, sid, question, feedback string, turns []session.Turn) (string, []Source, error) {
	snapshot, err := o.snap.Snapshot(ctx, false)
	if err != nil {
		return "", nil, err
	}
	candidate, err := o.synth.Synthesize(ctx, question, snapshot, feedback)
	if err != nil {
		return "", nil, err
	}
	validated, err := Validate(candidate)
	if err != nil {
		return "", nil, err
	}
	rows, err := o.exec.ExecuteReadOnly(ctx, validated.String(), o.opts.StatementTimeout, HardRowCap)
	if err != nil {
		return "", nil, wrapStage(ErrExecution, err)
	}

	evidence := Evidence{SQL: validated.String(), Rows: rows}
	text, invoked, err := o.comp.Compose(ctx, question, evidence, turns)
	if err != nil {
		return "", nil, wrapStage(ErrSynthesis, err)
	}
	if invoked {
		o.appendTurn(ctx, sid, question, text)
	}
	return text, []Source{{Content: "SQL-grounded answer", Metadata: map[string]interface{}{"system": SystemSQL, "row_count": len(rows)}}}, nil
}

// answerVector runs the retrieval fallback end to end.
func (o *Orchestrator) answerVector(ctx context.Context, sid, question string, turns []session.Turn) (string, []Source, error) {
	chunks, err := o.retr.Retrieve(ctx, question, 0)
	if err != nil {
		return "", nil, err
	}
	evidence := Evidence{Chunks: chunks}
	text, invoked, err := o.comp.Compose(ctx, question, evidence, turns)
	if err != nil {
		return "", nil, wrapStage(ErrRetrieval, err)
	}
	if invoked {
		o.appendTurn(ctx, sid, question, text)
	}
	sources := make([]Source, 0, len(chunks))
	for _, c := range chunks {
		sources = append(sources, Source{Content: c.Text, Metadata: c.Metadata})
	}
	return text, sources, nil
}

// appendTurn records the exchange after a confirmed answer; failures are
// observability-only.
func (o *Orchestrator) appendTurn(ctx context.Context, sid, question, answer string) {
	if sid == "" {
		return
	}
	turn := session.Turn{Question: question, Answer: answer, At: time.Now()}
	if err := o.sessions.Append(ctx, sid, turn); err != nil {
		o.logger.Printf("append turn failed for session %s: %v", sid, err)
	}
}

func wrapStage(stage, err error) error {
	if errors.Is(err, stage) {
		return err
	}
	return errors.Join(stage, err)
}

// stageOf maps a stage error to the fallback-reason label.
func stageOf(err error) string {
	switch {
	case errors.Is(err, ErrSchemaIntrospection):
		return "schema_introspection"
	case errors.Is(err, ErrUnsafeQuery):
		return "unsafe_query"
	case errors.Is(err, ErrExecution):
		return "execution"
	case errors.Is(err, ErrRetrieval):
		return "retrieval"
	case errors.Is(err, ErrSynthesis):
		return "synthesis"
	default:
		return "unknown"
	}
}
