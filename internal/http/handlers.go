package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragdocs/internal/assistant"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
)

const (
	storeUnavailable = "store unavailable"

	// statusClientClosedRequest is the nginx convention for a request the
	// client abandoned.
	statusClientClosedRequest = 499
)

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, ErrorResponse{Error: msg})
}

// storeError maps store errors to responses. ErrUninitialized is a 503 so it
// is never mistaken for an empty result.
func (s *Server) storeError(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, docstore.ErrUninitialized):
		return errorJSON(c, http.StatusServiceUnavailable, storeUnavailable)
	case errors.Is(err, context.Canceled):
		return errorJSON(c, statusClientClosedRequest, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return errorJSON(c, http.StatusGatewayTimeout, "request timed out")
	}
	s.logger.Error(op+" failed", zap.Error(err))
	return errorJSON(c, http.StatusInternalServerError, op+" failed")
}

// handleHealth reports the store state. Any state other than ready is 503.
func (s *Server) handleHealth(c echo.Context) error {
	h := s.store.Health()
	if !h.State.Ready() {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Health: h})
	}
	status := "ok"
	if !h.EmbeddingsAvailable || !h.Persistent {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: status, Health: h})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Stats(c.Request().Context()))
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid search request", zap.Error(err))
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	limit := s.config.DefaultResults
	if req.Limit != nil {
		limit = *req.Limit
	}

	matches, err := s.store.Search(c.Request().Context(), req.Query, limit)
	if err != nil {
		return s.storeError(c, "search", err)
	}
	return c.JSON(http.StatusOK, SearchResponse{
		Query:   req.Query,
		Count:   len(matches),
		Matches: toMatches(matches),
	})
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	res, err := s.store.Ingest(c.Request().Context(), req.Documents)
	if err != nil {
		return s.storeError(c, "ingest", err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleSync(c echo.Context) error {
	if s.sync == nil {
		return errorJSON(c, http.StatusNotImplemented, "sync is not configured")
	}
	var req SyncRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if !s.syncing.CompareAndSwap(false, true) {
		return errorJSON(c, http.StatusConflict, "a sync is already running")
	}
	defer s.syncing.Store(false)

	report, err := s.sync(c.Request().Context(), req.Sources)
	if err != nil {
		if errors.Is(err, docstore.ErrUninitialized) {
			return errorJSON(c, http.StatusServiceUnavailable, storeUnavailable)
		}
		s.logger.Error("sync failed", zap.String("run_id", report.RunID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, SyncFailure{Error: err.Error(), Report: report})
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleAsk(c echo.Context) error {
	if s.answerer == nil {
		return errorJSON(c, http.StatusNotImplemented, "assistant is not configured")
	}
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	mode, err := assistant.ParseMode(req.Mode)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	analysis, err := s.answerer.Analyze(c.Request().Context(), req.Question, mode)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, analysis)
	case errors.Is(err, assistant.ErrEmptyQuestion):
		return errorJSON(c, http.StatusBadRequest, "question field is required")
	case errors.Is(err, assistant.ErrGenerationFailed):
		s.logger.Error("ask failed", zap.Error(err))
		return errorJSON(c, http.StatusBadGateway, "answer generation failed")
	}
	return s.storeError(c, "ask", err)
}
