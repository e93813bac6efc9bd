package ipc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/hitlflow/hitlflow/internal/guard"
)

// ServerConfig configures the listener and its middleware.
type ServerConfig struct {
	ListenAddr   string
	BodyLimit    string
	AllowOrigins []string
	ServiceName  string
}

// Server wraps an echo instance with the API routes.
type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer builds the router. Every /api/v1 route except health requires
// authentication; chat and content routes are also rate limited.
func NewServer(h *Handler, auth *Authenticator, g *guard.Guard, cfg ServerConfig) *Server {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "1M"
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowOrigins = []string{"*"}
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "hitlflow"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = h.HandleError

	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(cfg.ServiceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			h.Logger.LogAttrs(c.Request().Context(), slog.LevelInfo, "request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	api := e.Group("/api/v1")
	api.GET("/health", h.Health)

	authed := auth.Middleware()
	limited := RateLimit(g)
	api.GET("/credits", h.Credits, authed)
	api.GET("/usage", h.Usage, authed)
	api.POST("/chat", h.Chat, authed, limited)
	api.POST("/chat/resume", h.ChatResume, authed, limited)
	api.POST("/content/generate", h.Generate, authed, limited)
	api.POST("/content/resume", h.ContentResume, authed, limited)
	api.POST("/content/save", h.Save, authed, limited)

	return &Server{echo: e, addr: cfg.ListenAddr}
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
