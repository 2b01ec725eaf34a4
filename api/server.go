package api

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/banachtech/svi-surface/db"
	"github.com/banachtech/svi-surface/svi"
	"github.com/banachtech/svi-surface/util"
)

// Server serves volatility queries over one calibration run.
type Server struct {
	params    *db.ParamStore
	surface   *svi.Surface
	tolerance float64
	config    util.ServerConfig
	log       zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*visitor

	router *gin.Engine
}

// NewServer creates a new HTTP server and set up routing.
func NewServer(config util.ServerConfig, tolerance float64, params *db.ParamStore, log zerolog.Logger) *Server {
	server := &Server{
		params:    params,
		surface:   params.Surface(),
		tolerance: tolerance,
		config:    config,
		log:       log.With().Str("component", "api").Logger(),
		limiters:  make(map[string]*visitor),
	}
	if server.config.MaxClients < 1 {
		server.config.MaxClients = defaultMaxClients
	}
	if server.config.ClientIdleSeconds < 1 {
		server.config.ClientIdleSeconds = defaultClientIdleSeconds
	}

	server.setupRouter()
	return server
}

func (server *Server) setupRouter() {
	router := gin.New()
	router.Use(gin.Recovery(), server.requestLogging)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "slices": server.params.Len()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authRoutes := router.Group("/v1").Use(server.authentication, server.rateLimit)
	authRoutes.GET("/params", server.listParams)
	authRoutes.GET("/slice", server.sliceVol)
	authRoutes.GET("/vol", server.surfaceVol)
	server.router = router
}

// Handler exposes the router, e.g. for an http.Server.
func (server *Server) Handler() http.Handler {
	return server.router
}

func errorResponse(err error) gin.H {
	return gin.H{"error": err.Error()}
}
