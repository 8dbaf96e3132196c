package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/handler"
	"github.com/FACorreiaa/benefactor-dues/pkg/config"
)

// RouterOptions carries what the HTTP surface needs from the dependency graph.
type RouterOptions struct {
	Config   *config.Config
	Debits   *handler.DebitsHandler
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// NewRouter builds the HTTP handler: health and metrics endpoints plus the
// authenticated debits API, wrapped in CORS.
func NewRouter(opts RouterOptions) http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP", "service": "benefactor-dues"})
	})

	if opts.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}

	limiter := handler.NewRateLimiter(float64(opts.Config.Server.RateLimitPerSecond), opts.Config.Server.RateLimitBurst)

	apiV1 := router.Group("/api/v1")
	debits := apiV1.Group("/debits",
		limiter.Middleware(opts.Logger),
		handler.Authenticate([]byte(opts.Config.Auth.JWTSecret), opts.Logger),
	)
	opts.Debits.RegisterRoutes(debits)

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.Config.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	})
	return c.Handler(router)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.String("client_ip", c.ClientIP()),
		)
	}
}
