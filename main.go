package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	apperrors "orders-service/common/errors"
	"orders-service/common/logger"
	"orders-service/common/middleware"
	"orders-service/common/validation"
	"orders-service/controllers"
	"orders-service/database"
	"orders-service/kafka"
	"orders-service/messaging"
	"orders-service/models"
	aws_pkg "orders-service/pkg/aws"
	"orders-service/repository"
	"orders-service/routes"
	"orders-service/services"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const serviceName = "orders-service"

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		logger.Initialize("production").Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := aws_pkg.LoadAWSConfig(ctx, cfg.AWSEndpoint)
	if err != nil {
		logger.Initialize(cfg.Env).Fatal("Failed to load AWS config", zap.Error(err))
	}

	var shipTo io.Writer
	if cfg.CloudWatchEnabled {
		cwl, err := aws_pkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, serviceName)
		if err != nil {
			logger.Initialize(cfg.Env).Warn("CloudWatch Logs unavailable, logging to stdout only", zap.Error(err))
		} else {
			shipTo = cwl
		}
	}
	log := logger.InitializeWithWriter(cfg.Env, shipTo)
	defer log.Sync()
	zap.ReplaceGlobals(log)

	metrics := aws_pkg.NewMetricsClient(awsCfg, cfg.MetricsNamespace, cfg.CloudWatchEnabled)

	// --- storage ---
	db, err := database.ConnectPostgres(cfg.DB, log, &models.Order{}, &models.OrderItem{}, &models.OrderReceipt{})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Warn("Failed to close database", zap.Error(err))
		}
	}()
	orderRepo := repository.NewGormOrderRepository(db)

	// --- bus ---
	nc, err := nats.Connect(strings.Join(cfg.NATSServers, ","),
		nats.Name(serviceName),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		log.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer nc.Close()
	bus := messaging.NewClient(nc, cfg.RequestTimeout, log)

	// --- collaborators ---
	products := services.NewBusProductClient(bus, cfg.ProductValidateSubject)
	var catalog services.ProductClient = products
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("Redis unreachable, order lookups will miss the cache", zap.Error(err))
		}
		catalog = services.NewCachedProductClient(products, rdb, cfg.ProductCacheTTL, log)
	}

	var payments services.PaymentClient = services.NewBusPaymentClient(bus, cfg.PaymentSessionSubject)
	if cfg.PaymentsProvider == ProviderStripe {
		payments = services.NewStripeCheckoutClient(cfg.StripeSecretKey, cfg.StripeSuccessURL, cfg.StripeCancelURL, log)
	}

	var publishers services.MultiPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.OrderEventsTopic, log)
		defer producer.Close()
		publishers = append(publishers, producer)
	}
	if cfg.OrderSNSTopicArn != "" {
		publishers = append(publishers, services.NewSNSEventPublisher(aws_pkg.NewSNSClient(awsCfg), cfg.OrderSNSTopicArn))
	}

	orderService := services.NewOrderService(services.OrderServiceDeps{
		Repo:     orderRepo,
		Products: products,
		Catalog:  catalog,
		Payments: payments,
		Events:   publishers,
		Metrics:  metrics,
		Retry:    services.DefaultRetryConfig(cfg.PaymentSessionAttempts),
		Logger:   log,
	})
	validator := validation.NewRequestValidator()

	// --- bus server ---
	server := messaging.NewServer(nc, messaging.ServerConfig{
		Queue:          cfg.NATSQueue,
		MaxInFlight:    cfg.MaxInFlight,
		HandlerTimeout: cfg.HandlerTimeout,
	}, metrics, log)
	if err := routes.RegisterMessagePatterns(server, controllers.NewOrderController(orderService, validator, log),
		routes.Patterns{PaymentSucceeded: cfg.PaymentSucceededSubject}); err != nil {
		log.Fatal("Failed to register message patterns", zap.Error(err))
	}

	// --- HTTP ---
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestLogger(log),
		middleware.SecurityHeaders(),
		middleware.RateLimitMiddleware(ctx, cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		middleware.MetricsMiddleware(metrics, serviceName),
		apperrors.ErrorMiddleware(),
	)
	var webhooks *controllers.WebhookController
	if cfg.StripeWebhookSecret != "" {
		webhooks = controllers.NewWebhookController(orderService, validator, cfg.StripeWebhookSecret, log)
	}
	routes.RegisterOrderRoutes(r, controllers.NewHTTPOrderController(orderService, validator), webhooks)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Orders service listening",
			zap.String("port", cfg.Port),
			zap.Strings("nats", cfg.NATSServers),
			zap.String("queue", cfg.NATSQueue),
			zap.String("payments_provider", cfg.PaymentsProvider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	queueURL := cfg.PaymentEventsQueueURL
	if queueURL == "" && cfg.PaymentEventsQueue != "" {
		if queueURL, err = aws_pkg.GetQueueURL(ctx, awsCfg, cfg.PaymentEventsQueue); err != nil {
			log.Fatal("Failed to resolve payment events queue", zap.Error(err))
		}
	}
	if queueURL != "" {
		consumer := services.NewSQSPaymentConsumer(aws_pkg.NewSQSConsumer(awsCfg, queueURL, log), orderService, validator, log)
		g.Go(func() error { return consumer.Start(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error("Orders service stopped with error", zap.Error(err))
	}

	log.Info("Shutting down bus server")
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.HandlerTimeout)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		log.Warn("Bus handlers did not finish in time", zap.Error(err))
	}
	log.Info("Orders service exited")
}
