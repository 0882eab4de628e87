package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/classsight/classsight/internal/assistant"
	"github.com/classsight/classsight/internal/session"
	"github.com/classsight/classsight/internal/store"
	"github.com/classsight/classsight/internal/telemetry"
)

type fakeProvider struct{}

func (fakeProvider) ChatCompletion(_ context.Context, system, _ string) (string, error) {
	if strings.HasPrefix(system, "You are a careful SQL writer") {
		return "SELECT score FROM grades LIMIT 10", nil
	}
	return "Ada scored 95.", nil
}

func (fakeProvider) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeSchemaSource struct{}

func (fakeSchemaSource) IntrospectSchema(_ context.Context, _ []string, _ int) ([]store.TableSchema, error) {
	return []store.TableSchema{{Name: "grades", Columns: []store.ColumnDef{{Name: "score", DataType: "numeric"}}}}, nil
}

type fakeExecutor struct{}

func (fakeExecutor) ExecuteReadOnly(_ context.Context, _ string, _ time.Duration, _ int) ([]store.Row, error) {
	return []store.Row{{"score": 95}}, nil
}

type fakeChunkStore struct{}

func (fakeChunkStore) SearchChunks(_ context.Context, _ string, _ []float32, _ int) ([]store.ChunkRecord, error) {
	return nil, nil
}

func (fakeChunkStore) ListChunks(_ context.Context, _ string) ([]store.ChunkRecord, error) {
	return nil, nil
}

func newTestHandler(t *testing.T) (*AssistantHandler, *echo.Echo) {
	t.Helper()
	prov := fakeProvider{}
	tele := telemetry.New(prometheus.NewRegistry())
	gate := assistant.NewGatedProvider(prov, 2, tele)
	snap := assistant.NewSnapshotter(fakeSchemaSource{}, []string{"grades"}, 3)
	orch := assistant.NewOrchestrator(
		snap,
		assistant.NewSynthesizer(gate),
		fakeExecutor{},
		assistant.NewRetriever(gate, fakeChunkStore{}, "rag_chunks", 5, false),
		assistant.NewComposer(gate, 5),
		session.NewMemoryStore(time.Hour),
		tele,
		log.New(io.Discard, "", 0),
		assistant.Options{},
	)

	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := &AssistantHandler{
		Orch:          orch,
		Store:         &store.Store{DB: db},
		Gate:          gate,
		Tele:          tele,
		AllowedTables: []string{"grades"},
		ChunkTable:    "rag_chunks",
	}
	e := echo.New()
	h.Register(e.Group("/api"))
	return h, e
}

func TestChatEndpoint(t *testing.T) {
	_, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"what did Ada score?","session_id":"s1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Answer    string `json:"answer"`
		SessionID string `json:"session_id"`
		System    string `json:"system_used"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.System != "sql" {
		t.Fatalf("system_used = %q, want sql", got.System)
	}
	if got.Answer != "Ada scored 95." {
		t.Fatalf("answer = %q", got.Answer)
	}
	if got.SessionID != "s1" {
		t.Fatalf("session_id = %q", got.SessionID)
	}
}

func TestChatEndpointRejectsEmptyMessage(t *testing.T) {
	_, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":""}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStatusEndpointReportsDegradedPaths(t *testing.T) {
	// The sqlmock connection carries no expectations, so both database
	// probes fail and the endpoint must report that without erroring.
	_, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/assistant/status", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Status  string `json:"status"`
		SQLPath struct {
			Available bool `json:"available"`
		} `json:"sql_path"`
		Serving string `json:"serving"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SQLPath.Available {
		t.Fatal("sql path should be unavailable with a dead database")
	}
	if got.Status != "unhealthy" {
		t.Fatalf("status = %q, want unhealthy", got.Status)
	}
	if got.Serving != "none" {
		t.Fatalf("serving = %q, want none before any answer", got.Serving)
	}
}

func TestRefreshSchemaEndpoint(t *testing.T) {
	_, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/assistant/refresh-schema", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "refreshed") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
