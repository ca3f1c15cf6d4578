package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"opd-notify/internal/config"
	"opd-notify/internal/consumer"
	"opd-notify/internal/gateway"
	httpapi "opd-notify/internal/http"
	"opd-notify/internal/repository"
	"opd-notify/internal/service"
	"opd-notify/internal/stock"
	"opd-notify/internal/worker"
	"opd-notify/pkg/database"
	logpkg "opd-notify/pkg/logger"
	redispkg "opd-notify/pkg/redis"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env 缺失不是错误（生产环境直接用环境变量）
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "opd-notify")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting opd-notify service")

	// 数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	// Redis
	redisClient := redispkg.NewRedisClient(&cfg.Redis)
	if err := redispkg.Ping(context.Background(), redisClient); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redispkg.Close(redisClient)

	// 仓库
	queueRepo := repository.NewPostgresMessageQueueRepository(db, cfg.Notify.MaxRetries, log)
	ruleRepo := repository.NewPostgresAutoSendRuleRepository(db, log)
	templateRepo := repository.NewPostgresMessageTemplateRepository(db, log)
	stockRepo := repository.NewPostgresStockRepository(db, log)
	clinicRepo := repository.NewPostgresClinicRepository(db, log)

	// 服务
	kv := service.NewRedisKVStore(redisClient)
	ruleCache := service.NewRuleCache(ruleRepo, templateRepo, kv,
		time.Duration(cfg.Notify.RuleCacheTTL)*time.Second, log)
	autoSend := service.NewAutoSendService(queueRepo, ruleCache, cfg.Notify.DefaultCountryCode, log)
	stockSvc := stock.NewService(stockRepo, log)

	sender := gateway.NewWhatsAppClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey,
		time.Duration(cfg.Gateway.Timeout)*time.Second, log)

	// 后台 worker
	processor := worker.NewQueueProcessor(queueRepo, sender, redisClient,
		cfg.Notify.ConsumerName,
		time.Duration(cfg.Notify.ProcessInterval)*time.Second,
		cfg.Notify.BatchSize, log)

	alertChecker := worker.NewStockAlertChecker(stockSvc, autoSend, clinicRepo, clinicRepo,
		redisClient,
		time.Duration(cfg.Stock.AlertInterval)*time.Second,
		cfg.Stock.ExpiryWindowDays,
		time.Duration(cfg.Stock.AlertDedupTTL)*time.Second, log)

	eventConsumer := consumer.NewEventConsumer(redisClient, autoSend, log,
		cfg.Notify.EventStream, cfg.Notify.ConsumerGroup, cfg.Notify.ConsumerName,
		int64(cfg.Notify.EventBatch))

	// HTTP
	router := httpapi.NewRouter(log)
	router.RegisterNotifyRoutes(
		httpapi.NewMessageHandler(queueRepo, log),
		httpapi.NewRuleHandler(ruleRepo, ruleCache, log),
		httpapi.NewTemplateHandler(templateRepo, ruleCache, log),
		httpapi.NewEventHandler(redisClient, cfg.Notify.EventStream, log),
	)
	router.RegisterStockRoutes(
		httpapi.NewStockHandler(stockSvc, cfg.Stock.ExpiryWindowDays, log),
		httpapi.NewExportHandler(stockSvc, log),
	)
	router.RegisterHealthRoute()

	server := httpapi.NewServer(cfg.HTTP.Addr, router, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		alertChecker.Start(ctx)
	}()

	errChan := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eventConsumer.Start(ctx); err != nil {
			errChan <- fmt.Errorf("event consumer: %w", err)
		}
	}()

	go func() {
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	// 等待信号或错误
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		log.Error("Service error", zap.Error(err))
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", zap.Error(err))
	}

	wg.Wait()
	log.Info("Service stopped")
}
