package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Pinger reports storage health; *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type ServerOptions struct {
	Handler    *AutomationHandler
	Middleware []echo.MiddlewareFunc // e.g. metrics
	Gatherer   prometheus.Gatherer   // nil disables /metrics
	DB         Pinger                // nil when running on the in-memory store
	Logger     *logrus.Entry
}

// NewServer builds the echo instance with all routes registered.
func NewServer(opts ServerOptions) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	logger := opts.Logger.WithField("component", "http")
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.String(),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("Request failed")
				return nil
			}
			entry.Debug("Request served")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	for _, mw := range opts.Middleware {
		e.Use(mw)
	}

	e.GET("/health", func(c echo.Context) error {
		if opts.DB != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := opts.DB.PingContext(ctx); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]any{
					"status":   "unhealthy",
					"database": "down",
				})
			}
		}
		return c.JSON(http.StatusOK, map[string]any{"status": "healthy"})
	})

	if opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	h := opts.Handler
	g := e.Group("/api/v1/automation")
	g.GET("/stats", h.Stats)
	g.POST("/actions", h.Action)
	g.POST("/resume", h.Resume)
	g.POST("/pause", h.Pause)
	g.GET("/leads/:id", h.Lead)
	g.POST("/leads/:id/stage", h.ChangeStage)
	g.POST("/leads/:id/reply", h.Reply)

	return e
}
