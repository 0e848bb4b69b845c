package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ayushj62/Snapshrinkstool/config"
	"github.com/Ayushj62/Snapshrinkstool/handler"
	"github.com/Ayushj62/Snapshrinkstool/httpclient"
	"github.com/Ayushj62/Snapshrinkstool/middleware"
	"github.com/Ayushj62/Snapshrinkstool/pipeline"
	"github.com/Ayushj62/Snapshrinkstool/service"
	"github.com/Ayushj62/Snapshrinkstool/utils"
	"github.com/Ayushj62/Snapshrinkstool/vision"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

// 掩码内存缓存上限
const memoryCacheBytes = 256 << 20

func main() {
	// 加载配置
	cfg, err := config.New()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()
	log := utils.L()

	log.Info("starting background removal server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 错误上报
	var reporter pipeline.Reporter = service.NewLogReporter(log)
	sentryReporter, err := service.InitSentry(&cfg.Sentry, Version)
	if err != nil {
		log.Warn("sentry init failed, reporting to log only", zap.Error(err))
	} else if sentryReporter != nil {
		reporter = sentryReporter
		defer sentryReporter.Flush(2 * time.Second)
	}

	// 本地模型，启动时即开始加载
	models := pipeline.NewModelManager(vision.Loader(&cfg.Model, log), cfg.Model.LoadTimeout, log)
	models.Init(ctx)
	defer func() {
		if err := models.Dispose(); err != nil {
			log.Warn("model dispose failed", zap.Error(err))
		}
	}()

	threshold := float32(cfg.Pipeline.MaskThreshold)
	local := pipeline.NewLocalProvider(models, threshold, cfg.Model.QueueTimeout, log)

	var remote pipeline.SegmentationProvider
	if cfg.Remote.Enabled {
		if cfg.Remote.APIKey == "" {
			log.Warn("remote segmentation enabled without an api key; requests fall back to the local model")
		}
		remote = pipeline.NewRemoteProvider(pipeline.RemoteConfig{
			Endpoint:  cfg.Remote.Endpoint,
			APIKey:    cfg.Remote.APIKey,
			Size:      cfg.Remote.Size,
			Timeout:   cfg.Pipeline.RemoteTimeout,
			Threshold: threshold,
		}, httpclient.NewHTTPClient(), log)
	}

	// 掩码缓存：进程内 ristretto，Redis 可用时作为第二级
	memCache, err := service.NewMemoryMaskCache(memoryCacheBytes, cfg.Redis.TTL)
	if err != nil {
		log.Fatal("failed to create mask cache", zap.Error(err))
	}
	defer memCache.Close()

	var shared pipeline.MaskCache
	if cfg.Redis.Enabled {
		redisCache := service.NewRedisMaskCache(&cfg.Redis, log)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisCache.Ping(pingCtx); err != nil {
			log.Warn("redis connection failed, shared cache disabled", zap.Error(err))
			_ = redisCache.Close()
		} else {
			log.Info("redis connected successfully")
			shared = redisCache
			defer redisCache.Close()
		}
		cancel()
	}
	masks := service.NewTieredMaskCache(memCache, shared, func(err error) {
		log.Warn("shared mask cache write failed", zap.Error(err))
	})

	orch := pipeline.NewOrchestrator(remote, local, reporter, log)
	store := pipeline.NewSessionStore(orch, masks, pipeline.SessionConfig{
		MaxDimension: cfg.Pipeline.MaxDimension,
		Threshold:    threshold,
		ExportSuffix: cfg.Pipeline.ExportSuffix,
	}, cfg.Session.TTL, log)
	defer store.Close()

	sweeper, err := service.NewSessionSweeper(cfg.Session.SweepSpec, store, log)
	if err != nil {
		log.Fatal("failed to schedule session sweep", zap.Error(err))
	}
	sweeper.Start()
	defer sweeper.Stop()

	intake := pipeline.NewIntake(cfg.Upload.MaxSize, cfg.Upload.AllowedTypes)
	sessionHandler := handler.NewSessionHandler(intake, store)
	modelHandler := handler.NewModelHandler(models, cfg.Model.Backend, cfg.Remote.Enabled)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": Version,
			"model":   models.State(),
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"build_id":   BuildID,
			"git_commit": GitCommit,
			"git_branch": GitBranch,
		})
	})

	// API路由
	api := r.Group(handler.APIPrefix)
	{
		api.GET("/model", modelHandler.Status)
		sessionHandler.Register(api)
	}

	srv := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		// 不设 WriteTimeout，SSE 连接需要长期保持
	}

	// 启动服务器
	go func() {
		log.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", zap.Error(err))
	}
}
