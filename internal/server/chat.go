package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/classsight/classsight/internal/assistant"
	"github.com/classsight/classsight/internal/store"
	"github.com/classsight/classsight/internal/telemetry"
)

// AssistantHandler exposes the chat and status endpoints.
type AssistantHandler struct {
	Orch          *assistant.Orchestrator
	Store         *store.Store
	Gate          *assistant.GatedProvider
	Tele          *telemetry.Telemetry
	AllowedTables []string
	ChunkTable    string
}

func (h *AssistantHandler) Register(g *echo.Group) {
	g.POST("/chat", h.chat)
	g.GET("/assistant/status", h.status)
	g.POST("/assistant/refresh-schema", h.refreshSchema)
}

// chat answers one question. The orchestrator owns the fallback chain, so this
// handler never returns a 5xx for model or database failures — degraded
// outcomes arrive as regular answers tagged with the system that produced them.
func (h *AssistantHandler) chat(c echo.Context) error {
	var req struct {
		Message   string `json:"message"`
		SessionID string `json:"session_id"`
		UserID    string `json:"user_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}
	answer := h.Orch.Answer(c.Request().Context(), req.SessionID, req.UserID, req.Message)
	return c.JSON(http.StatusOK, answer)
}

type pathStatus struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// status reports the health of each answering path and which system served the
// most recent answer.
func (h *AssistantHandler) status(c echo.Context) error {
	ctx := c.Request().Context()

	sqlPath := pathStatus{Available: true}
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if _, err := h.Store.IntrospectSchema(checkCtx, h.AllowedTables[:1], 0); err != nil {
		sqlPath = pathStatus{Available: false, Error: err.Error()}
	}
	cancel()

	vectorPath := pathStatus{Available: true}
	checkCtx, cancel = context.WithTimeout(ctx, 3*time.Second)
	if _, err := h.Store.ChunkCount(checkCtx, h.ChunkTable); err != nil {
		vectorPath = pathStatus{Available: false, Error: err.Error()}
	}
	cancel()

	modelOK, modelErr := h.Gate.Health()

	overall := "healthy"
	switch {
	case !sqlPath.Available && !vectorPath.Available:
		overall = "unhealthy"
	case !sqlPath.Available || !vectorPath.Available || !modelOK:
		overall = "degraded"
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      overall,
		"sql_path":    sqlPath,
		"vector_path": vectorPath,
		"model":       pathStatus{Available: modelOK, Error: modelErr},
		"serving":     h.Tele.Serving(),
	})
}

// refreshSchema drops the cached schema snapshot; the next question captures a
// fresh one.
func (h *AssistantHandler) refreshSchema(c echo.Context) error {
	h.Orch.RefreshSchema()
	return c.JSON(http.StatusOK, map[string]string{"status": "refreshed"})
}
