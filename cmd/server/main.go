// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"llm-amnesia-go/internal/amnesia"
	"llm-amnesia-go/internal/config"
	"llm-amnesia-go/internal/handler"
	"llm-amnesia-go/internal/middleware"
	"llm-amnesia-go/internal/model"
	"llm-amnesia-go/internal/repository"
	"llm-amnesia-go/internal/service"
	"llm-amnesia-go/pkg/database"
	"llm-amnesia-go/pkg/kafka"
	"llm-amnesia-go/pkg/llm"
	"llm-amnesia-go/pkg/log"
	"llm-amnesia-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化 Redis，MySQL 仅在配置了 DSN 时用于审计日志
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	defer database.CloseRedis()

	var auditService service.AuditService
	if cfg.Database.MySQL.DSN != "" {
		database.InitMySQL(cfg.Database.MySQL.DSN, &model.AmnesiaEvent{})
		defer database.CloseMySQL()
		auditService = service.NewAuditService(repository.NewAmnesiaEventRepository(database.DB))
	}

	// 4. 遗忘事件发布：优先 Kafka，其次直接落库，否则不发布
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()

	var publisher service.EventPublisher
	var consumerDone <-chan struct{}
	switch {
	case cfg.Kafka.Brokers != "":
		producer := kafka.NewProducer(cfg.Kafka)
		defer func() {
			if err := producer.Close(); err != nil {
				log.Errorf("关闭 Kafka 生产者失败: %v", err)
			}
		}()
		publisher = producer
		if auditService != nil {
			consumerDone = kafka.StartConsumer(consumerCtx, cfg.Kafka, auditService)
		}
	case auditService != nil:
		publisher = auditService
	}

	// 5. 初始化 Repository 与 Service
	conversationRepo := repository.NewConversationRepository(database.RDB, cfg.Amnesia.HistoryTTL)
	policy, err := amnesia.ParseActivityPolicy(cfg.Amnesia.InvalidateOn)
	if err != nil {
		log.Fatal("无效的 amnesia.invalidate_on 配置", err)
	}
	undoCache := amnesia.NewUndoCache()
	amnesiaService := service.NewAmnesiaService(conversationRepo, undoCache, publisher, service.AmnesiaOptions{
		MinRounds:     cfg.Amnesia.MinRounds,
		MaxRounds:     cfg.Amnesia.MaxRounds,
		PreviewLength: cfg.Amnesia.PreviewLength,
		PendingTTL:    cfg.Amnesia.PendingTTL,
		Policy:        policy,
	})

	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	llmClient := llm.NewClient(cfg.LLM)
	conversationService := service.NewConversationService(conversationRepo)
	accessService := service.NewSessionAccessService(repository.NewSessionMemberRepository(database.RDB))
	chatService := service.NewChatService(llmClient, conversationService, amnesiaService, cfg.LLM.SystemPrompt, llm.GenerationFromConfig(cfg.LLM.Generation))

	// 6. 启动过期记录清理任务
	sweeper := amnesia.NewSweeper(undoCache, cfg.Amnesia.SweepSpec, cfg.Amnesia.PendingTTL,
		amnesia.WithOnExpired(amnesiaService.OnExpired))
	if err := sweeper.Start(); err != nil {
		log.Fatal("启动遗忘记录清理任务失败", err)
	}

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	amnesiaHandler := handler.NewAmnesiaHandler(amnesiaService)
	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(jwtManager).RefreshToken)
		}

		authed := apiV1.Group("/")
		authed.Use(middleware.AuthMiddleware(jwtManager))
		{
			authed.GET("/forget/help", amnesiaHandler.Help)

			// 私聊会话只允许本人访问，共享会话只允许成员访问
			sessions := authed.Group("/sessions/:sessionId")
			sessions.Use(middleware.SessionAccessMiddleware(accessService))
			{
				sessions.POST("/members", handler.NewSessionHandler(accessService).AddMember)
				sessions.GET("/conversation", handler.NewConversationHandler(conversationService).GetConversation)
				sessions.POST("/forget", amnesiaHandler.Forget)
				sessions.POST("/forget/cancel", amnesiaHandler.CancelForget)
				sessions.GET("/forget/status", amnesiaHandler.Status)
			}
		}

		if auditService != nil {
			admin := apiV1.Group("/admin")
			admin.Use(middleware.AuthMiddleware(jwtManager), middleware.AdminAuthMiddleware())
			{
				admin.GET("/sessions/:sessionId/forget/events", handler.NewAuditHandler(auditService).ListEvents)
			}
		}
	}
	r.GET("/chat/:token", handler.NewChatHandler(chatService, amnesiaService, accessService, jwtManager).Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	if err := sweeper.Stop(ctx); err != nil {
		log.Errorf("停止清理任务超时: %v", err)
	}
	// 等待消费者写完正在处理的事件，再关闭 MySQL
	stopConsumer()
	if consumerDone != nil {
		select {
		case <-consumerDone:
		case <-ctx.Done():
			log.Warnf("等待 Kafka 消费者退出超时: %v", ctx.Err())
		}
	}

	log.Info("服务已优雅关闭")
}
