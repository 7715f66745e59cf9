package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/Hadi-Serhan/vwrotation/internal/health"
	"github.com/Hadi-Serhan/vwrotation/internal/transport/http/handler"
	"github.com/Hadi-Serhan/vwrotation/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sloggin "github.com/samber/slog-gin"
)

// NewRouter wires the status API: health probes and the metrics endpoint are
// always open; the job routes can be guarded with a static bearer token.
func NewRouter(logger *slog.Logger, statusHandler *handler.StatusHandler, checker *health.Checker, statusToken string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, checker.Liveness(c.Request.Context()))
	})
	r.GET("/readyz", func(c *gin.Context) {
		result := checker.Readiness(c.Request.Context())
		code := http.StatusOK
		if result.Status != "up" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, result)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	jobs := r.Group("/jobs", middleware.Token(statusToken))
	jobs.GET("", statusHandler.List)
	jobs.GET("/:id", statusHandler.GetByID)
	jobs.GET("/:id/runs", statusHandler.ListRuns)

	return r
}
