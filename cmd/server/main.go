package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-service/config"
	"marketplace-service/internal/api"
	"marketplace-service/internal/broker"
	"marketplace-service/internal/hologram"
	"marketplace-service/internal/ledger"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/service"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"
	"marketplace-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting marketplace service")

	tp, err := util.InitTracer("marketplace-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)
	notifier := service.NewNotificationEmitter(eventPublisher)

	ledgerClient := ledger.NewClient(ledger.Config{
		RPCURL:             cfg.Ledger.RPCURL,
		ProductNFTAddress:  cfg.Ledger.ProductNFTAddress,
		SupplyChainAddress: cfg.Ledger.SupplyChainAddress,
		CallTimeout:        time.Duration(cfg.Ledger.CallTimeoutSeconds) * time.Second,
	}, logger)
	chainEvents := ledger.NewBroker(cfg.Ledger.EventBufferPerSubscr)
	defer chainEvents.Close()

	hologramClient := hologram.NewClient(cfg.Content.HologramServiceURL, cfg.Content.HologramUploadDir, logger)

	orderService := service.NewOrderService(db, notifier)
	qrService := service.NewQRService(db, ledgerClient, hologramClient, redisClient, notifier)
	mirrorService := service.NewMirrorService(db, ledgerClient, chainEvents, notifier,
		cfg.Content.IPFSGatewayURL, cfg.Ledger.WalletMinBalanceWei)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	eventConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(eventConsumer, db)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	mintWorker := worker.NewMintWorker(mirrorService, redisClient,
		time.Duration(cfg.Ledger.MintIntervalSeconds)*time.Second)
	go func() {
		if err := mintWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Printf("Mint worker error: %v", err)
		}
	}()

	chainEventLogger := worker.NewChainEventLogger(chainEvents.Subscribe())
	go func() {
		if err := chainEventLogger.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Printf("Chain event logger error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	auth := api.NewAuthMiddleware(cfg.Auth.JWTSecret, db)
	handler := api.NewHandler(orderService, qrService, mirrorService, db, auth)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	notificationWorker.Stop()

	log.Println("Server exited")
}
