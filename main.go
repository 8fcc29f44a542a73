package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"meetdash/internal/api"
	"meetdash/internal/auth"
	"meetdash/internal/cache"
	"meetdash/internal/config"
	"meetdash/internal/logging"
	"meetdash/internal/redis"
	"meetdash/internal/service/ai"
	"meetdash/internal/service/schedule"
	"meetdash/internal/storage"
	"meetdash/internal/video"
	"meetdash/internal/worker"
)

const tokenPurgeInterval = time.Hour

func main() {
	cfg, err := config.Load(os.Getenv("MEETDASH_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbType := os.Getenv("MEETDASH_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal("open database", zap.String("driver", dbType), zap.Error(err))
	}
	defer db.Close()
	if err := storage.Migrate(db); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}
	logger.Info("database ready", zap.String("driver", dbType))

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			logger.Fatal("connect redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	cacheTTL := time.Duration(cfg.BasicConfig.CacheTTLSeconds) * time.Second
	local := cache.NewMemory(0)
	var queryCache cache.Cache = local
	if rdb != nil {
		shared := cache.NewRedis(rdb, uuid.NewString(), logger.Named("cache"))
		shared.Listen(ctx, local)
		queryCache = cache.NewLayered(local, shared, cacheTTL)
	}

	videoClient, err := video.NewStreamClient(cfg.Video, video.DefaultBreakerSettings(), logger)
	if err != nil {
		logger.Fatal("init video client", zap.Error(err))
	}

	deps := schedule.Deps{DB: db, Video: videoClient, Cache: queryCache, Logger: logger}
	var summarizer *ai.Summarizer
	if cfg.Summary.Provider != "" {
		summarizer, err = ai.NewSummarizer(ctx, cfg, logger.Named("ai"))
		if err != nil {
			logger.Fatal("init summarizer", zap.Error(err))
		}
		deps.Summarizer = summarizer
	} else {
		logger.Warn("no summary provider configured, transcripts will not be summarized")
	}

	opts := schedule.OptionsFromConfig(cfg)
	if opts.UnscopedAgentList {
		logger.Warn("agent.getMany lists every user's agents")
	}
	svc := schedule.New(deps, opts)

	var (
		dispatcher *worker.Dispatcher
		jobs       api.JobStats
	)
	if summarizer != nil {
		wcfg := worker.ConfigFrom(cfg.Summary)
		wcfg.Retryable = func(err error) bool {
			return schedule.KindOf(err) == schedule.KindUpstream
		}
		dispatcher = worker.NewDispatcher(wcfg, func(ctx context.Context, job worker.Job) error {
			return svc.SummarizeMeeting(ctx, job.MeetingID)
		}, logger)
		svc.SetSummaryQueue(dispatcher)
		jobs = dispatcher
	}

	authService := auth.NewService(db, rdb, time.Duration(cfg.BasicConfig.SessionTTLHours)*time.Hour, logger.Named("auth"))
	go purgeTokens(ctx, authService, logger)

	if cfg.BasicConfig.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	handlers := api.NewHandler(authService, svc, cfg.Video.APISecret, jobs, logger)
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if dispatcher != nil {
		if err := dispatcher.Stop(shutdownCtx); err != nil {
			logger.Error("stop summary workers", zap.Error(err))
		}
	}
}

func purgeTokens(ctx context.Context, svc *auth.Service, logger *zap.Logger) {
	ticker := time.NewTicker(tokenPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purge expired tokens", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("purged expired tokens", zap.Int64("count", n))
			}
		}
	}
}
