// Package httpapi wires the gin router that fronts the websocket hub: a
// liveness probe, a readiness probe that pings every configured archive
// sink, a Prometheus scrape endpoint, and the /v1/ws upgrade route itself
// (spec §6 External interfaces). Grounded on this codebase's
// internal/api/router.go and internal/api/handlers/system.go, trimmed to
// this domain's single websocket surface.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dynamicworkspace/presence-sensor/internal/transport"
)

// Checker pings one optional backend for the readiness probe.
type Checker func(ctx context.Context) error

// RouterConfig seeds NewRouter. Checks is keyed by backend name
// ("postgres", "minio", "nats"); a nil or empty map reports ready
// unconditionally, since every archive sink is optional.
type RouterConfig struct {
	Hub    *transport.Hub
	Checks map[string]Checker
}

// NewRouter builds the gin engine serving /healthz, /readyz, /metrics, and
// /v1/ws.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	r.GET("/healthz", healthz)
	r.GET("/readyz", readyz(cfg.Checks))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/ws", cfg.Hub.HandleWS)

	return r
}

func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// readyz pings every configured backend with a bounded timeout, same
// pattern as SystemHandler.Readyz: all backends are optional, so an empty
// Checks map is unconditionally ready.
func readyz(checks map[string]Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		results := map[string]string{}
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				healthy = false
			} else {
				results[name] = "ok"
			}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
			"checks": results,
		})
	}
}
