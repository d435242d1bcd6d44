package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/user/llama-proxy-go/internal/api/handler"
	"github.com/user/llama-proxy-go/internal/api/middleware"
	"github.com/user/llama-proxy-go/internal/auth"
	"github.com/user/llama-proxy-go/internal/config"
	"github.com/user/llama-proxy-go/internal/metrics"
	"github.com/user/llama-proxy-go/internal/ratelimit"
	"github.com/user/llama-proxy-go/internal/router"
	"github.com/user/llama-proxy-go/internal/upstream"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router *gin.Engine
	logger *zap.Logger
}

// ServerDeps holds all dependencies for the API server.
type ServerDeps struct {
	Config        *config.Config
	Router        *router.Router
	Upstream      *upstream.Client
	Authenticator *auth.Authenticator
	RateLimiter   *ratelimit.Limiter
	Metrics       *metrics.Registry
	Logger        *zap.Logger
}

// NewServer builds the gin engine and registers every route.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(middleware.Finalize(deps.Metrics, logger, deps.RateLimiter.Limit()))
	r.Use(gin.Recovery())
	r.Use(middleware.Correlation())
	r.Use(middleware.CORS(deps.Config.CORSAllowedOrigins))

	healthHandler := handler.NewHealthHandler()
	r.GET("/health", healthHandler.Health)

	metricsHandler := handler.NewMetricsHandler(deps.Metrics)
	r.GET("/metrics", metricsHandler.Render)

	timeouts := handler.Timeouts{
		Chat:        secondsToDuration(deps.Config.TimeoutChatS),
		Completions: secondsToDuration(deps.Config.TimeoutCompletionsS),
		Embeddings:  secondsToDuration(deps.Config.TimeoutEmbeddingsS),
		Models:      secondsToDuration(deps.Config.TimeoutModelsS),
	}
	proxyHandler := handler.NewProxyHandler(deps.Router, deps.Upstream, deps.Metrics, logger, timeouts)

	v1 := r.Group("/v1")
	v1.Use(middleware.RequireAuth(deps.Authenticator))
	v1.Use(middleware.RateLimit(deps.RateLimiter, deps.Metrics))
	{
		v1.GET("/models", proxyHandler.Models)
		v1.POST("/chat/completions", proxyHandler.ChatCompletions)
		v1.POST("/completions", proxyHandler.Completions)
		v1.POST("/embeddings", proxyHandler.Embeddings)
		v1.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	}

	return &Server{router: r, logger: logger}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
