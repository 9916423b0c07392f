// Package server exposes course content, learner profiles, quotas and the
// reading practice generator over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/TobiSchelling/zhongwen/internal/auth"
	"github.com/TobiSchelling/zhongwen/internal/database"
	"github.com/TobiSchelling/zhongwen/internal/logging"
	"github.com/TobiSchelling/zhongwen/internal/pipeline"
	"github.com/TobiSchelling/zhongwen/internal/usage"
)

// Generator runs the reading practice pipeline.
type Generator interface {
	Generate(ctx context.Context, req pipeline.Request, progress pipeline.ProgressFunc) (*pipeline.Result, error)
}

// Server is the HTTP API server.
type Server struct {
	db     *database.DB
	gen    Generator
	ledger *usage.Ledger
	tokens *auth.Tokens
	hub    *Hub
	log    *logging.Logger
	engine *gin.Engine
}

// Option configures a Server.
type Option func(*options)

type options struct {
	corsOrigins []string
}

// WithCORS allows browser requests from the given origins.
func WithCORS(origins ...string) Option {
	return func(o *options) { o.corsOrigins = append(o.corsOrigins, origins...) }
}

// New creates a new Server.
func New(db *database.DB, gen Generator, ledger *usage.Ledger, tokens *auth.Tokens, log *logging.Logger, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log = logging.OrNop(log).With("component", "server")
	s := &Server{
		db:     db,
		gen:    gen,
		ledger: ledger,
		tokens: tokens,
		hub:    NewHub(log, o.corsOrigins...),
		log:    log,
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	if len(o.corsOrigins) > 0 {
		s.engine.Use(cors.New(cors.Config{
			AllowOrigins:     o.corsOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the progress hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")
	api.GET("/modules", s.handleModules)
	api.GET("/units/:unit_id", s.handleUnit)

	authed := api.Group("", s.requireAuth())
	authed.GET("/preferences", s.handleGetPreferences)
	authed.PUT("/preferences", s.handlePutPreferences)

	authed.GET("/rwp/progress", s.handleProgress)
	authed.POST("/rwp/:unit_id/generate", s.handleGenerate)
	authed.GET("/rwp/:unit_id", s.handleGetExercise)

	authed.GET("/usage/rwp", s.handleCheckUsage(usage.FeatureRWP))
	authed.POST("/usage/rwp", s.handleIncrementRWP)
	authed.GET("/usage/tts", s.handleCheckUsage(usage.FeatureTTS))
	authed.POST("/usage/tts", s.handleUseTTS)
	authed.GET("/usage/stats", s.handleStats)
}

// requireAuth resolves the bearer token to a user id. WebSocket upgrades
// may pass the token as ?token= since browsers cannot set headers there.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abortError(c, http.StatusUnauthorized, usage.ReasonNotAuthenticated, "missing or invalid token")
			return
		}
		userID, err := s.tokens.Parse(token)
		if err != nil {
			s.log.Debug("rejected token", "error", err)
			abortError(c, http.StatusUnauthorized, usage.ReasonNotAuthenticated, "missing or invalid token")
			return
		}
		c.Request = c.Request.WithContext(auth.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if websocket.IsWebSocketUpgrade(c.Request) {
		return c.Query("token")
	}
	return ""
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{"code": code, "message": message},
	})
}
