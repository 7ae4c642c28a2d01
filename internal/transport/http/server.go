package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/eventchat/internal/auth"
	"github.com/vovakirdan/eventchat/internal/config"
	"github.com/vovakirdan/eventchat/internal/devserver"
)

// NewServer builds the development backend: login, chat history and the
// realtime chat endpoint.
func NewServer(hub *devserver.Hub, authService *auth.Service, cfg config.ServerConfig, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	apiHandlers := NewAPIHandlers(authService, logger)
	historyHandlers := NewHistoryHandlers(hub, cfg.HistoryPageSize, logger)
	wsHandler := NewWSHandler(hub, authService, cfg.MessagesPerMinute, logger)

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.POST("/auth/login/", apiHandlers.Login)

	events := router.Group("/events")
	events.Use(AuthMiddleware(authService, logger))
	events.GET("/:id/chat-messages/", historyHandlers.ListMessages)

	router.GET("/ws/chat/:id/", wsHandler.Handle)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
