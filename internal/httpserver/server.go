// Package httpserver exposes the UI-facing HTTP API and the renderer
// WebSocket route.
package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/asaficontact/reflective-resonance/internal/config"
	"github.com/asaficontact/reflective-resonance/internal/conversation"
	"github.com/asaficontact/reflective-resonance/internal/stt"
	"github.com/asaficontact/reflective-resonance/internal/workflow"
)

// ChatRunner starts one workflow run; satisfied by *workflow.Orchestrator.
type ChatRunner interface {
	Run(ctx context.Context, message string, slots []workflow.SlotAssignment) (*workflow.Stream, string, error)
}

// Transcriber satisfies the STT upload path; satisfied by *stt.ScribeClient.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (*stt.Transcription, error)
}

// EventsHandler serves the renderer push WebSocket.
type EventsHandler interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
}

// Deps bundles everything the routes need.
type Deps struct {
	Chat          ChatRunner
	Conversations *conversation.Store
	Transcriber   Transcriber
	STTSessions   *stt.SessionStore
	Events        EventsHandler // nil disables /v1/events
}

// Server bundles the echo instance and its dependencies.
type Server struct {
	Echo *echo.Echo
	cfg  config.Config
	deps Deps
}

// New constructs the HTTP server with all routes registered.
func New(cfg config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))

	s := &Server{Echo: e, cfg: cfg, deps: deps}

	e.GET("/v1/health", s.health)
	e.GET("/v1/agents", s.agents)
	e.POST("/v1/chat", s.chat)
	e.POST("/v1/reset", s.reset)
	e.POST("/v1/stt", s.sttUpload)
	e.Static("/v1/audio", cfg.ArtifactsDir)
	if deps.Events != nil {
		e.GET("/v1/events", func(c echo.Context) error {
			deps.Events.HandleWS(c.Response(), c.Request())
			return nil
		})
	}

	return s
}
