// Package api exposes sessions over HTTP: create a session against a
// model, run turns on it, reset or delete it. One session maps to one
// engine context; turns on the same session share conversation state.
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/ember/internal/engine"
	"github.com/samcharles93/ember/internal/session"
)

// SessionLoader builds sessions. *session.Loader satisfies it.
type SessionLoader interface {
	Load(cfg session.Config) (*session.Session, error)
}

type Server struct {
	loader   SessionLoader
	store    *SessionStore
	defaults session.Config
}

// NewServer wires the HTTP surface. defaults seeds every created
// session; per-request fields overlay it.
func NewServer(loader SessionLoader, store *SessionStore, defaults session.Config) *Server {
	if store == nil {
		store = NewSessionStore()
	}
	return &Server{loader: loader, store: store, defaults: defaults}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.POST("/v1/sessions", s.handleCreateSession)
	e.GET("/v1/sessions/:id", s.handleGetSession)
	e.DELETE("/v1/sessions/:id", s.handleDeleteSession)
	e.POST("/v1/sessions/:id/predict", s.handlePredict)
	e.POST("/v1/sessions/:id/reset", s.handleReset)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.store.Len(),
	})
}

func (s *Server) handleCreateSession(c *echo.Context) error {
	req, err := decodeJSON[CreateSessionRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	cfg := s.buildConfig(req)
	if cfg.ModelPath == "" {
		return writeBadRequest(c, "no model configured: set \"model\" or start the server with a default")
	}

	sess, err := s.loader.Load(cfg)
	if err != nil {
		if errors.Is(err, engine.ErrModelLoad) {
			return writeBadRequest(c, err.Error())
		}
		return writeServerError(c, err.Error())
	}

	id, rec := s.store.Put(sess, cfg.ModelPath)
	return c.JSON(http.StatusOK, s.sessionResponse(id, rec))
}

func (s *Server) buildConfig(req CreateSessionRequest) session.Config {
	cfg := s.defaults
	if req.Model != "" {
		cfg.ModelPath = req.Model
	}
	if req.ContextSize > 0 {
		cfg.ContextSize = req.ContextSize
	}
	if req.BatchSize > 0 {
		cfg.BatchSize = req.BatchSize
	}
	if req.GPULayers > 0 {
		cfg.GPULayers = req.GPULayers
	}
	if req.MaxTokens > 0 {
		cfg.MaxTokens = req.MaxTokens
	}
	if len(req.StopPatterns) > 0 {
		cfg.StopPatterns = req.StopPatterns
	}
	if req.SystemPrompt != "" {
		cfg.SystemPrompt = req.SystemPrompt
	}
	if req.Temperature != nil {
		cfg.Sampling.Temperature = *req.Temperature
	}
	if req.TopK > 0 {
		cfg.Sampling.TopK = req.TopK
	}
	if req.TopP != nil {
		cfg.Sampling.TopP = *req.TopP
	}
	if req.MinP != nil {
		cfg.Sampling.MinP = *req.MinP
	}
	if req.Seed != nil {
		cfg.Sampling.Seed = *req.Seed
	}
	if req.RepeatPenalty != nil {
		cfg.Sampling.RepeatPenalty = *req.RepeatPenalty
	}
	if req.RepeatLastN > 0 {
		cfg.Sampling.RepeatLastN = req.RepeatLastN
	}
	return cfg
}

func (s *Server) handleGetSession(c *echo.Context) error {
	id := c.Param("id")
	rec, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "no such session")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return c.JSON(http.StatusOK, s.sessionResponse(id, rec))
}

func (s *Server) handlePredict(c *echo.Context) error {
	id := c.Param("id")
	rec, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "no such session")
	}
	req, err := decodeJSON[PredictRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Prompt == "" {
		return writeBadRequest(c, "prompt is required")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	res, err := rec.sess.Predict(req.Prompt)
	if err != nil {
		if errors.Is(err, session.ErrClosed) {
			return writeNotFound(c, "session is closed")
		}
		return writeServerError(c, err.Error())
	}

	return c.JSON(http.StatusOK, PredictResponse{
		ID:              id,
		Object:          "prediction",
		Text:            res.Text,
		StopReason:      string(res.Reason),
		PromptTokens:    res.PromptTokens,
		TokensGenerated: res.TokensGenerated,
		Position:        rec.sess.Position(),
		DurationMS:      res.Duration.Milliseconds(),
		TokensPerSecond: res.TPS,
	})
}

func (s *Server) handleReset(c *echo.Context) error {
	id := c.Param("id")
	rec, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "no such session")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := rec.sess.Reset(); err != nil {
		if errors.Is(err, session.ErrClosed) {
			return writeNotFound(c, "session is closed")
		}
		return writeServerError(c, err.Error())
	}
	return c.JSON(http.StatusOK, ResetResponse{
		ID:       id,
		Object:   "session",
		Position: rec.sess.Position(),
	})
}

func (s *Server) handleDeleteSession(c *echo.Context) error {
	id := c.Param("id")
	rec, ok := s.store.Remove(id)
	if !ok {
		return writeNotFound(c, "no such session")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := rec.sess.Close(); err != nil {
		return writeServerError(c, err.Error())
	}
	return c.JSON(http.StatusOK, DeleteSessionResponse{
		ID:      id,
		Object:  "session",
		Deleted: true,
	})
}

func (s *Server) sessionResponse(id string, rec *sessionRecord) SessionResponse {
	return SessionResponse{
		ID:          id,
		Object:      "session",
		Model:       rec.model,
		ContextSize: rec.sess.ContextSize(),
		Position:    rec.sess.Position(),
		Degraded:    rec.sess.Degraded(),
		CreatedAt:   rec.createdAt.Unix(),
	}
}
