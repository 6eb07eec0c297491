package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/trix-server/internal/auth"
	"github.com/vovakirdan/trix-server/internal/config"
	"github.com/vovakirdan/trix-server/internal/core"
	"github.com/vovakirdan/trix-server/internal/metrics"
	"github.com/vovakirdan/trix-server/internal/service/messages"
	"github.com/vovakirdan/trix-server/internal/service/rename"
)

// Services bundles the domain services exposed over HTTP.
type Services struct {
	Auth     *auth.Service
	Messages *messages.Service
	Rename   *rename.Coordinator
}

// NewServer builds an HTTP server with all routes.
func NewServer(hub *core.Hub, svc Services, cfg *config.Config, logger *zerolog.Logger, m *metrics.Metrics) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(hub, svc, cfg, logger, m),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter routes /ws to the websocket handler on a plain mux and every
// other path to the gin engine. The websocket upgrade needs an untouched
// net/http ResponseWriter to hijack. m may be nil.
func NewRouter(hub *core.Hub, svc Services, cfg *config.Config, logger *zerolog.Logger, m *metrics.Metrics) stdhttp.Handler {
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, svc.Auth, svc.Messages, cfg, logger))
	mux.Handle("/", newEngine(svc, cfg, logger, m))
	return mux
}

func newEngine(svc Services, cfg *config.Config, logger *zerolog.Logger, m *metrics.Metrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger, m))

	router.GET("/health", healthHandler)
	if m != nil && cfg.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	apiHandlers := NewAPIHandlers(svc.Auth, logger)
	chatHandlers := NewChatHandlers(svc.Messages, logger)
	userHandlers := NewUserHandlers(svc.Rename, logger)

	api := router.Group("/api")
	{
		limited := api.Group("")
		limited.Use(RateLimitMiddleware(newKeyLimiter(cfg.AuthRateLimit, cfg.AuthRateBurst)))
		limited.POST("/register", apiHandlers.Register)
		limited.POST("/login", apiHandlers.Login)

		protected := api.Group("")
		protected.Use(AuthMiddleware(svc.Auth, logger))
		protected.GET("/me", apiHandlers.Me)
		protected.GET("/users/exists", apiHandlers.UserExists)
		protected.GET("/chats", chatHandlers.ListChats)
		protected.GET("/messages", chatHandlers.ListMessages)
		protected.POST("/messages", chatHandlers.SendMessage)
		protected.POST("/user/rename", userHandlers.Rename)
	}

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
