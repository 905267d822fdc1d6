// Package httptransport 提供邮箱读模型与地址管理的 HTTP API。
package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dropmail/backend/internal/config"
	"dropmail/backend/internal/email"
	"dropmail/backend/internal/health"
	"dropmail/backend/internal/middleware"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/pool"
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/websocket"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	addresses *service.AddressService
	messages  *service.MessageService
	sender    *email.Sender
	pool      *pool.WorkerPool
	pageSize  int
	log       *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	AddressService *service.AddressService
	MessageService *service.MessageService
	Sender         *email.Sender // 可为 nil（未配置外发中继）
	WorkerPool     *pool.WorkerPool
	TokenVerifier  *middleware.TokenVerifier
	WebSocketHub   *websocket.Hub
	HealthChecker  *health.HealthChecker
	Metrics        *monitoring.Metrics
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.GinMiddleware())
	}

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 允许所有来源时必须关闭凭证支持
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		addresses: deps.AddressService,
		messages:  deps.MessageService,
		sender:    deps.Sender,
		pool:      deps.WorkerPool,
		pageSize:  deps.Config.Mailbox.PageSize,
		log:       deps.Logger,
	}

	// 健康检查与指标
	if deps.HealthChecker != nil {
		router.GET("/health", gin.WrapH(deps.HealthChecker.Handler()))
	} else {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	requireAuth := deps.TokenVerifier.RequireAuth()

	v1 := router.Group("/v1")
	{
		// 公开端点
		v1.GET("/public/domains", handler.listDomains)

		// 地址管理
		addressRoutes := v1.Group("/addresses")
		addressRoutes.Use(requireAuth)
		{
			addressRoutes.POST("", handler.createAddress)
			addressRoutes.GET("", handler.listAddresses)
			addressRoutes.GET("/:id", handler.getAddress)
			addressRoutes.DELETE("/:id", handler.deleteAddress)
		}

		// 邮件读模型
		messageRoutes := v1.Group("/messages")
		messageRoutes.Use(requireAuth)
		{
			messageRoutes.GET("", handler.listMessages)
			messageRoutes.GET("/unread-count", handler.unreadCount)
			messageRoutes.GET("/thread/:id", handler.getThread)
			messageRoutes.GET("/:id", handler.getMessage)
			messageRoutes.POST("/:id/read", handler.markMessageRead)
			messageRoutes.POST("/:id/spam", handler.markMessageSpam)
			messageRoutes.DELETE("/:id", handler.deleteMessage)
			messageRoutes.POST("/bulk-delete", handler.bulkDeleteMessages)
		}

		// 出站发送
		v1.POST("/send", requireAuth, handler.sendMessage)

		// WebSocket 推送
		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}
