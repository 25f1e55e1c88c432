package transport

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/taskhive/realtime/internal/log"
)

// Router serves the gateway's HTTP surface: the health endpoint and the
// WebSocket upgrade path.
type Router struct {
	engine *gin.Engine
	logger *log.Logger
}

func NewRouter(
	wsHandler http.HandlerFunc,
	allowedOrigins []string,
	logger *log.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("confgateway"))

	corsCfg := cors.DefaultConfig()
	if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = allowedOrigins
	}
	engine.Use(cors.New(corsCfg))

	r := &Router{
		engine: engine,
		logger: logger,
	}

	engine.GET("/health", r.healthCheck)
	engine.GET("/ws", gin.WrapF(wsHandler))

	return r
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// Handler exposes the router for the HTTP server.
func (r *Router) Handler() http.Handler {
	return r.engine
}
