package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dropmail/backend/internal/config"
	"dropmail/backend/internal/email"
	"dropmail/backend/internal/health"
	"dropmail/backend/internal/logger"
	"dropmail/backend/internal/middleware"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/pool"
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/smtp"
	"dropmail/backend/internal/storage"
	"dropmail/backend/internal/storage/memory"
	"dropmail/backend/internal/storage/postgres"
	rediscache "dropmail/backend/internal/storage/redis"
	httptransport "dropmail/backend/internal/transport/http"
	"dropmail/backend/internal/websocket"
)

// main 启动同时包含入站 SMTP 与 HTTP API 的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting dropmail server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 存储层
	store, err := newStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	// Redis 缓存（可选）
	var cache *rediscache.Cache
	if cfg.Redis.Address != "" {
		cache, err = rediscache.New(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Warn("redis unavailable, continuing without cache", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, cache, log)

	// 服务层
	messageService := service.NewMessageService(store, log)
	messageService.SetMetrics(metrics)
	addressService := service.NewAddressService(store, cfg.Mailbox.AllowedDomains)
	if cache != nil {
		messageService.SetUnreadCache(cache)
	}

	// 令牌校验与 WebSocket
	verifier := middleware.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, log)
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, verifier, store, log)
	messageService.SetNotifier(wsHub)

	// 出站发送（可选）
	var sender *email.Sender
	if cfg.Outbound.Host != "" {
		sender = email.NewSender(email.Config{
			Host:     cfg.Outbound.Host,
			Port:     cfg.Outbound.Port,
			Username: cfg.Outbound.Username,
			Password: cfg.Outbound.Password,
		}, messageService, metrics, log)
		log.Info("outbound relay enabled", zap.String("host", cfg.Outbound.Host))
	}

	workerPool := pool.NewWorkerPool(4, 256)

	// HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		AddressService: addressService,
		MessageService: messageService,
		Sender:         sender,
		WorkerPool:     workerPool,
		TokenVerifier:  verifier,
		WebSocketHub:   wsHub,
		HealthChecker:  healthChecker,
		Metrics:        metrics,
		Logger:         log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 入站 SMTP 服务器
	limiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConnections, cfg.SMTP.MaxConnRate)
	smtpBackend := smtp.NewBackend(messageService, cfg.Mailbox.AllowedDomains, limiter, metrics, log)
	smtpServer := gosmtp.NewServer(smtpBackend)
	smtpServer.Addr = cfg.SMTP.BindAddr
	smtpServer.Domain = cfg.SMTP.Domain
	smtpServer.ReadTimeout = 10 * time.Second
	smtpServer.WriteTimeout = 10 * time.Second
	smtpServer.MaxMessageBytes = 10 * 1024 * 1024
	smtpServer.MaxRecipients = 50

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	workerPool.Start(groupCtx)
	defer workerPool.Stop()

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
		)
		if err := smtpServer.ListenAndServe(); err != nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 多实例部署时经由 Redis 转发其他实例收到的新邮件事件
	if cache != nil {
		group.Go(func() error {
			for event := range cache.SubscribeNewMail(groupCtx) {
				msg := event.Message
				wsHub.NotifyNewMail(event.Address, &msg)
			}
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP server close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// newStore 根据配置选择存储实现。
func newStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	switch cfg.Database.Type {
	case "postgres":
		log.Info("using postgres storage")
		return postgres.NewStore(cfg.Database.DSN)
	case "mysql":
		log.Info("using mysql storage")
		return postgres.NewMySQLStore(cfg.Database.DSN)
	case "":
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown database type: %q", cfg.Database.Type)
	}
}
