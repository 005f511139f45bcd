package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sitewatch-dev/sitewatch-backend-go/internal/alerting"
	"github.com/sitewatch-dev/sitewatch-backend-go/internal/api/handlers"
	"github.com/sitewatch-dev/sitewatch-backend-go/internal/config"
	"github.com/sitewatch-dev/sitewatch-backend-go/internal/database"
	"github.com/sitewatch-dev/sitewatch-backend-go/internal/websocket"
	"github.com/sitewatch-dev/sitewatch-backend-go/pkg/version"
)

// NewRouter builds the HTTP surface: the alerting facade, the metrics
// endpoint, and the dashboard event stream
func NewRouter(cfg *config.Config, engine *alerting.Engine, notifications *database.NotificationRepository, hub *websocket.Hub, logger *logrus.Logger) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "build": version.Get()})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(engine.MetricsRegistry(), promhttp.HandlerOpts{})))

	router.GET("/ws", func(c *gin.Context) {
		hub.ServeWS(c.Writer, c.Request)
	})

	v1 := router.Group("/api/v1")
	handlers.NewAlertsHandler(engine, notifications).RegisterRoutes(v1)

	return router
}
