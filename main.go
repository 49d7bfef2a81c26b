package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"payment-sync-service/config"
	"payment-sync-service/controllers"
	"payment-sync-service/database"
	"payment-sync-service/dedup"
	"payment-sync-service/gateway"
	"payment-sync-service/kafka"
	"payment-sync-service/logger"
	"payment-sync-service/models"
	"payment-sync-service/pipeline"
	aws_pkg "payment-sync-service/pkg/aws"
	"payment-sync-service/reconcile"
	"payment-sync-service/repository"
	"payment-sync-service/resilience"
	"payment-sync-service/routes"
	"payment-sync-service/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger.Initialize(cfg.Env)
	log := zap.L()
	defer log.Sync()

	db, err := database.ConnectPostgres(cfg, log,
		&models.Payment{}, &models.Refund{}, &models.Transition{})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	repo := repository.NewGormPaymentRepo(db)

	stripeGW := gateway.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookKey)
	gwSettings := gateway.DefaultClientSettings()
	gwSettings.FailureThreshold = cfg.BreakerFailureThreshold
	gwSettings.ResetTimeout = cfg.BreakerResetTimeout
	gwSettings.CallTimeout = cfg.GatewayCallTimeout
	gwSettings.MaxRequests = cfg.GatewayMaxRequests
	gwSettings.Window = cfg.GatewayWindow
	gw := gateway.NewClient(stripeGW, gwSettings, log)

	dedupStore, closeDedup := buildDedupStore(cfg, log)
	defer closeDedup()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher, closePublisher := buildPublisher(rootCtx, cfg, log)
	defer closePublisher()

	locks := pipeline.NewKeyLock()
	reconciler := reconcile.New(repo, gw, publisher, locks, reconcile.Settings{
		Concurrency:  cfg.ReconcileConcurrency,
		PollInterval: cfg.ReconcilePollInterval,
		MaxAttempts:  cfg.ReconcileMaxAttempts,
	}, log)

	pipe := pipeline.New(repo, gw, dedupStore, publisher, reconciler, locks,
		resilience.DefaultRetryPolicy(), log)

	if err := reconciler.Rebuild(rootCtx); err != nil {
		log.Error("Failed to rebuild reconciliation queue", zap.Error(err))
	}
	reconciler.Start(rootCtx)

	stopConsumer := startConsumer(rootCtx, cfg, pipe, log)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logger.RequestLogger())

	pc := &controllers.PaymentController{
		Repo:      repo,
		Gateway:   gw,
		Publisher: publisher,
		Enqueuer:  reconciler,
		Locks:     locks,
		Logger:    log,
	}
	wc := &controllers.WebhookController{Stripe: stripeGW, Pipe: pipe, Logger: log}
	hc := &controllers.HealthController{DB: db, Gateway: gw, Reconciler: reconciler}
	routes.Register(r, pc, wc, hc, cfg.HTTPRequestsPerMinute, cfg.HTTPBurst)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server shutdown incomplete", zap.Error(err))
	}

	cancel()
	stopConsumer()
	reconciler.Stop()
	log.Info("Shutdown complete")
}

func buildDedupStore(cfg *config.Config, log *zap.Logger) (dedup.Store, func()) {
	if cfg.RedisAddr == "" {
		store := dedup.NewMemoryStore(cfg.DedupTTL)
		return store, store.Close
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	log.Info("Using Redis webhook dedup store", zap.String("addr", cfg.RedisAddr))
	store := dedup.NewRedisStore(client, cfg.DedupTTL)
	return store, func() { _ = client.Close() }
}

func buildPublisher(ctx context.Context, cfg *config.Config, log *zap.Logger) (pipeline.EventPublisher, func()) {
	if cfg.EventTransport == "sqs" {
		awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
		if err != nil {
			log.Fatal("Failed to load AWS config", zap.Error(err))
		}
		sns := aws_pkg.NewSNSClient(awsCfg)
		return services.NewSNSEventPublisher(sns, cfg.PaymentSNSTopicARN, log), func() {}
	}
	producer := kafka.NewPaymentEventProducer(strings.Split(cfg.KafkaBrokers, ","), cfg.PaymentEventTopic, log)
	return producer, producer.Close
}

func startConsumer(ctx context.Context, cfg *config.Config, pipe *pipeline.Pipeline, log *zap.Logger) func() {
	if cfg.EventTransport == "sqs" {
		awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
		if err != nil {
			log.Fatal("Failed to load AWS config", zap.Error(err))
		}
		sqsConsumer := aws_pkg.NewSQSConsumer(awsCfg, cfg.WebhookQueueURL, cfg.WebhookDLQURL, log)
		consumer := services.NewSQSWebhookConsumer(sqsConsumer, pipe, log)
		go consumer.Start(ctx)
		return func() {}
	}

	consumer := services.NewWebhookConsumer(
		strings.Split(cfg.KafkaBrokers, ","),
		cfg.WebhookTopic,
		cfg.ConsumerGroupID,
		cfg.WebhookDLQTopic,
		pipe,
		log,
	)
	go consumer.Start(ctx)
	return consumer.Close
}
