package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/wbrx/wayback_go_server/config"
	"github.com/wbrx/wayback_go_server/internal/api"
	"github.com/wbrx/wayback_go_server/internal/api/handler"
	"github.com/wbrx/wayback_go_server/internal/archiver"
	"github.com/wbrx/wayback_go_server/internal/database"
	"github.com/wbrx/wayback_go_server/internal/output"
	"github.com/wbrx/wayback_go_server/internal/pkg/cdxcache"
	"github.com/wbrx/wayback_go_server/internal/pkg/cron"
	"github.com/wbrx/wayback_go_server/internal/pkg/pubsub"
	"github.com/wbrx/wayback_go_server/internal/pkg/ratelimit"
	"github.com/wbrx/wayback_go_server/internal/pkg/ws"
	"github.com/wbrx/wayback_go_server/internal/repository"
	"github.com/wbrx/wayback_go_server/internal/scheduler"
	"github.com/wbrx/wayback_go_server/internal/service"
	"github.com/wbrx/wayback_go_server/internal/wayback"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 WebSocket Hub
	wsHub := ws.NewHub()

	// 调度器选项：Redis 可用时进度走 Redis 广播再回流 Hub，
	// 未配置 Redis 时调度器直推 Hub
	schedOpts := []scheduler.Option{}

	if cfg.Redis.Host != "" {
		rdb, err := database.NewRedis(&cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect redis: %v", err)
		}
		log.Println("Redis connected")

		schedOpts = append(schedOpts, scheduler.WithPublisher(pubsub.NewPublisher(rdb)))

		subscriber := pubsub.NewSubscriber(rdb)
		go func() {
			err := subscriber.Subscribe(context.Background(), func(msg *pubsub.ProgressMessage) {
				wsHub.SendToJob(msg.JobID, &ws.Message{Type: msg.Type, Data: msg})
			})
			if err != nil {
				log.Printf("Progress subscriber stopped: %v", err)
			}
		}()
	} else {
		schedOpts = append(schedOpts, scheduler.WithHub(wsHub))
	}

	// 初始化 Repository
	projectRepo := repository.NewProjectRepository(db)
	cacheRepo := repository.NewCacheRepository(db)
	manifestRepo := repository.NewManifestRepository(db)
	jobRepo := repository.NewJobRepository(db)
	schedOpts = append(schedOpts, scheduler.WithHistory(jobRepo))

	// 归档客户端：全局限速 + CDX 结果缓存
	limiter := ratelimit.New(time.Duration(cfg.Wayback.MinRequestIntervalMS) * time.Millisecond)
	cdxCache := cdxcache.New(cfg.Wayback.CDXCacheMaxItems, 0)
	client := wayback.NewClient(&cfg.Wayback, limiter, cdxCache)
	resolver := wayback.NewResolver(client, cfg.Wayback.MaxRecoveryCandidates)

	// 输出沙箱
	writer, err := output.NewWriter(&cfg.Output)
	if err != nil {
		log.Fatalf("Failed to init output dir: %v", err)
	}
	log.Printf("Output root: %s", writer.Root())

	// 调度器与引擎
	sched := scheduler.New(cfg.Jobs.MaxActive, schedOpts...)
	engine := archiver.NewEngine(client, resolver, writer, manifestRepo, &cfg.Jobs)

	// 初始化 Service
	projectService := service.NewProjectService(
		projectRepo, cacheRepo, manifestRepo, jobRepo, writer,
		time.Duration(cfg.Service.CacheTTLSeconds)*time.Second,
		time.Duration(cfg.Retention.DBCacheRetentionSeconds)*time.Second,
	)
	jobService := service.NewJobService(engine, sched, projectService, jobRepo)

	// 后台清理
	cronService := cron.NewService(sched, cacheRepo, jobRepo, &cfg.Jobs, &cfg.Retention)
	cronService.Start()
	defer cronService.Stop()

	// 初始化 Handler
	jobHandler := handler.NewJobHandler(jobService)
	projectHandler := handler.NewProjectHandler(projectService)
	websocketHandler := handler.NewWebSocketHandler(wsHub)
	diagnosticsHandler := handler.NewDiagnosticsHandler(client, sched, wsHub)

	// 初始化 Router
	router := api.NewRouter(
		jobHandler,
		projectHandler,
		websocketHandler,
		diagnosticsHandler,
		cfg,
	)
	app := router.Setup()

	// 启动服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := app.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
