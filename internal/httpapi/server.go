// Package httpapi exposes the daemon's REST and streaming endpoints.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/foliolabs/folio/internal/chat"
	"github.com/foliolabs/folio/internal/logging"
	"github.com/foliolabs/folio/internal/store"
	"github.com/foliolabs/folio/internal/syncer"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// tenantHeader carries the caller's tenant identity, injected by the
// authenticating proxy in front of the daemon.
const tenantHeader = "X-Tenant-ID"

// FolderStore is the persistence surface the handlers use.
type FolderStore interface {
	RegisterFolder(ctx context.Context, tenantID, remoteID, name string) (*store.Folder, error)
	GetFolder(ctx context.Context, tenantID string, folderID uuid.UUID) (*store.Folder, error)
	DeleteFolder(ctx context.Context, tenantID string, folderID uuid.UUID) error
	ListFiles(ctx context.Context, folderID uuid.UUID) ([]*store.File, error)
	GetConversation(ctx context.Context, tenantID string, conversationID uuid.UUID) (*store.Conversation, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*store.Message, error)
}

// ChatEngine runs chat turns.
type ChatEngine interface {
	Chat(ctx context.Context, req chat.Request) <-chan chat.Event
}

// SyncTrigger runs folder re-syncs, queued or inline.
type SyncTrigger interface {
	TriggerSync(folderID uuid.UUID)
	SyncNow(ctx context.Context, folderID uuid.UUID) (syncer.Diff, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Server is the daemon's HTTP front end.
type Server struct {
	echo    *echo.Echo
	cfg     Config
	store   FolderStore
	chat    ChatEngine
	sync    SyncTrigger
	metrics http.Handler
	log     *logging.Logger
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(cfg Config, st FolderStore, engine ChatEngine, sync SyncTrigger, metricsHandler http.Handler, log *logging.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			log.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{echo: e, cfg: cfg, store: st, chat: engine, sync: sync, metrics: metricsHandler, log: log.Named("http")}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	v1 := s.echo.Group("/api/v1", s.tenantMiddleware)
	v1.POST("/folders", s.handleRegisterFolder)
	v1.GET("/folders/:id", s.handleGetFolder)
	v1.GET("/folders/:id/files", s.handleListFiles)
	v1.POST("/folders/:id/sync", s.handleSyncFolder)
	v1.DELETE("/folders/:id", s.handleDeleteFolder)
	v1.POST("/folders/:id/chat", s.handleChat)
	v1.GET("/conversations/:id", s.handleGetConversation)
}

// tenantMiddleware requires the tenant header and threads the identity
// through the request context for handlers and logs.
func (s *Server) tenantMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID := c.Request().Header.Get(tenantHeader)
		if tenantID == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing tenant")
		}
		ctx := logging.WithTenant(c.Request().Context(), tenantID)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Set("tenant", tenantID)
		return next(c)
	}
}

func tenant(c echo.Context) string {
	t, _ := c.Get("tenant").(string)
	return t
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// Start runs the server until Shutdown.
func (s *Server) Start() error {
	return s.echo.Start(s.cfg.Addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
