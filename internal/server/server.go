package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/classsight/classsight/config"
	"github.com/classsight/classsight/internal/assistant"
	"github.com/classsight/classsight/internal/ingest"
	"github.com/classsight/classsight/internal/session"
	"github.com/classsight/classsight/internal/store"
	"github.com/classsight/classsight/internal/telemetry"
	"github.com/classsight/classsight/provider"
)

// Run wires the assistant and serves the HTTP API. It blocks until the server
// stops.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if cfg.Telemetry.Enabled {
		e.GET(cfg.Telemetry.MetricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	ctx := context.Background()
	dsn, err := cfg.Postgres.DSN()
	if err != nil {
		return err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	tele := telemetry.New(prometheus.DefaultRegisterer)

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	gate := assistant.NewGatedProvider(llm, cfg.Assistant.MaxConcurrentModelCalls, tele)

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Redis.Addr(), err)
		}
	}

	var sessions session.Store
	switch cfg.Assistant.SessionStore {
	case "redis":
		if rdb == nil {
			return fmt.Errorf("assistant.session_store=redis but redis is not configured")
		}
		sessions = session.NewRedisStore(rdb, cfg.Assistant.SessionTTL)
	case "postgres":
		sessions = session.NewPostgresStore(st)
	default:
		sessions = session.NewMemoryStore(cfg.Assistant.SessionTTL)
	}

	snap := assistant.NewSnapshotter(st, cfg.Assistant.AllowedTables, cfg.Assistant.MaxSampleRows)
	synth := assistant.NewSynthesizer(gate)
	retr := assistant.NewRetriever(gate, st, cfg.Assistant.ChunkTable, cfg.Assistant.RetrievalTopK, cfg.Assistant.HybridRetrieval)
	comp := assistant.NewComposer(gate, cfg.Assistant.HistoryWindow)

	orch := assistant.NewOrchestrator(snap, synth, st, retr, comp, sessions, tele,
		log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
		assistant.Options{
			StatementTimeout:     cfg.Assistant.StatementTimeout,
			HistoryWindow:        cfg.Assistant.HistoryWindow,
			MaxSQLRetries:        cfg.Assistant.MaxSQLRetries,
			EnableVectorFallback: cfg.Assistant.EnableVectorFallback,
		})

	if cfg.Assistant.HybridRetrieval {
		if err := retr.RefreshIndex(ctx); err != nil {
			baseLogger.Printf("keyword index build failed, hybrid retrieval degraded: %v", err)
		}
	}

	if cfg.Ingest.Enabled {
		ing := ingest.New(st, gate, cfg.Assistant.ChunkTable, cfg.Ingest.EmbedBatch)
		sched := ingest.NewScheduler(ing, cfg.Ingest.CronSpec, cfg.Ingest.LockTTL, rdb)
		sched.Start()
		defer close(sched.Stop)
	}

	h := &AssistantHandler{Orch: orch, Store: st, Gate: gate, Tele: tele, AllowedTables: cfg.Assistant.AllowedTables, ChunkTable: cfg.Assistant.ChunkTable}
	h.Register(e.Group("/api"))

	return e.Start(cfg.Server.Address)
}
