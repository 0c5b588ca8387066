// Package server exposes the HTTP surface: the health route used for uptime
// probing and the message log append/list API consumed by the presentation
// client.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campushq/bursarbot/internal/database"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the gin engine and its http.Server.
type Server struct {
	log    *slog.Logger
	store  database.Store
	engine *gin.Engine
	port   int
}

// messageBody is the append request payload.
type messageBody struct {
	Text string `json:"text" binding:"required"`
}

// messageView is the JSON shape of a log entry.
type messageView struct {
	ID                 uint      `json:"id"`
	Role               string    `json:"role"`
	Text               string    `json:"text"`
	Processed          bool      `json:"processed"`
	RelatedToMessageID *uint     `json:"relatedToMessageId,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// New creates the HTTP server with all routes registered.
func New(store database.Store, port int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		log:    log.With("component", "server"),
		store:  store,
		engine: engine,
		port:   port,
	}

	engine.GET("/healthz", s.handleHealth)
	v1 := engine.Group("/api/v1")
	{
		v1.POST("/messages", s.handleAppendMessage)
		v1.GET("/messages", s.handleListMessages)
	}

	return s
}

// Run serves HTTP until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "port", s.port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	s.log.Info("HTTP server stopped.")
	return nil
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

// handleAppendMessage appends a new user entry with the unprocessed flag; the
// bridge picks it up through the store subscription.
func (s *Server) handleAppendMessage(c *gin.Context) {
	var body messageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	msg := &database.Message{
		Role: database.RoleUser,
		Text: body.Text,
	}
	if err := s.store.AppendMessage(c.Request.Context(), msg); err != nil {
		s.log.ErrorContext(c.Request.Context(), "Failed to append user entry", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	c.JSON(http.StatusCreated, toView(*msg))
}

// handleListMessages returns entries in display order, createdAt ascending.
func (s *Server) handleListMessages(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
	}

	messages, err := s.store.ListMessages(c.Request.Context(), limit)
	if err != nil {
		s.log.ErrorContext(c.Request.Context(), "Failed to list messages", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}

	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, toView(m))
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}

func toView(m database.Message) messageView {
	view := messageView{
		ID:        m.ID,
		Role:      m.Role,
		Text:      m.Text,
		Processed: m.Processed,
		CreatedAt: m.CreatedAt,
	}
	if m.RelatedToMessageID.Valid {
		related := uint(m.RelatedToMessageID.Int64)
		view.RelatedToMessageID = &related
	}
	return view
}
