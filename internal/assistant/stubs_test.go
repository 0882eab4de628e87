package assistant

import (
	"context"
	"time"

	"github.com/classsight/classsight/internal/store"
)

// stubProvider scripts model behaviour per call site: the synthesizer and the
// composer are told apart by their system instructions.
type stubProvider struct {
	chatFn  func(ctx context.Context, system, user string) (string, error)
	embedFn func(ctx context.Context, texts []string) ([][]float32, error)
}

func (p *stubProvider) ChatCompletion(ctx context.Context, system, user string) (string, error) {
	if p.chatFn == nil {
		return "", nil
	}
	return p.chatFn(ctx, system, user)
}

func (p *stubProvider) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if p.embedFn == nil {
		return nil, nil
	}
	return p.embedFn(ctx, texts)
}

type stubSchemaSource struct {
	tables []store.TableSchema
	err    error
	calls  int
}

func (s *stubSchemaSource) IntrospectSchema(_ context.Context, _ []string, _ int) ([]store.TableSchema, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.tables, nil
}

type stubExecutor struct {
	rows []store.Row
	err  error

	gotQuery   string
	gotTimeout time.Duration
	gotMaxRows int
}

func (e *stubExecutor) ExecuteReadOnly(_ context.Context, query string, timeout time.Duration, maxRows int) ([]store.Row, error) {
	e.gotQuery = query
	e.gotTimeout = timeout
	e.gotMaxRows = maxRows
	if e.err != nil {
		return nil, e.err
	}
	return e.rows, nil
}

type stubChunkStore struct {
	records []store.ChunkRecord
	err     error
}

func (c *stubChunkStore) SearchChunks(_ context.Context, _ string, _ []float32, _ int) ([]store.ChunkRecord, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.records, nil
}

func (c *stubChunkStore) ListChunks(_ context.Context, _ string) ([]store.ChunkRecord, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.records, nil
}

func studentsSchema() []store.TableSchema {
	return []store.TableSchema{{
		Name: "students",
		Columns: []store.ColumnDef{
			{Name: "student_id", DataType: "integer"},
			{Name: "full_name", DataType: "text", Nullable: true},
		},
		ForeignKeys: []store.ForeignKeyDef{
			{Column: "bootcamp_id", ReferencedTable: "bootcamps", ReferencedColumn: "bootcamp_id"},
		},
		SampleRows: []store.Row{{"student_id": 1, "full_name": "Ada Lovelace"}},
	}}
}
