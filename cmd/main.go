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
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vhvplatform/go-smart-notification-service/internal/consumer"
	"github.com/vhvplatform/go-smart-notification-service/internal/dispatch"
	"github.com/vhvplatform/go-smart-notification-service/internal/feed"
	"github.com/vhvplatform/go-smart-notification-service/internal/handler"
	"github.com/vhvplatform/go-smart-notification-service/internal/middleware"
	"github.com/vhvplatform/go-smart-notification-service/internal/prayer"
	"github.com/vhvplatform/go-smart-notification-service/internal/preferences"
	"github.com/vhvplatform/go-smart-notification-service/internal/queue"
	"github.com/vhvplatform/go-smart-notification-service/internal/repository"
	"github.com/vhvplatform/go-smart-notification-service/internal/service"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/config"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/logger"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/mongodb"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/rabbitmq"
	"github.com/vhvplatform/go-smart-notification-service/internal/shared/redis"
)

const preferencesCacheTTL = 30 * time.Second

func main() {
	// A missing .env file is normal outside local development
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	log.Info("Starting Smart Notification Service...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize MongoDB
	mongoClient, err := mongodb.NewMongoClient(cfg.MongoDB.URI, cfg.MongoDB.Database)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB", "error", err)
	}
	defer mongoClient.Disconnect(context.Background())

	// Initialize Redis
	redisClient, err := redis.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}
	defer redisClient.Close()

	// Initialize repositories
	preferencesRepo := repository.NewPreferencesRepository(mongoClient)
	notificationRepo := repository.NewNotificationRepository(mongoClient)
	subscriptionRepo := repository.NewPushSubscriptionRepository(mongoClient)

	indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	for name, ensure := range map[string]func(context.Context) error{
		"preferences":        preferencesRepo.EnsureIndexes,
		"notification_queue": notificationRepo.EnsureIndexes,
		"push_subscriptions": subscriptionRepo.EnsureIndexes,
	} {
		if err := ensure(indexCtx); err != nil {
			log.Fatal("Failed to create indexes", "collection", name, "error", err)
		}
	}
	cancel()

	// Preference store
	preferenceStore := preferences.NewStore(preferencesRepo, preferencesCacheTTL, log)

	// Prayer window oracle
	loc := cfg.Location()
	var scheduleProvider prayer.ScheduleProvider
	if cfg.Prayer.Latitude != 0 || cfg.Prayer.Longitude != 0 {
		scheduleProvider = prayer.NewAladhanProvider(cfg.Prayer.APIURL, cfg.Prayer.Latitude, cfg.Prayer.Longitude, cfg.Prayer.Method, log)
	} else {
		scheduleProvider = prayer.NewStaticProvider(cfg.Prayer.Schedule)
	}
	prayerMonitor := prayer.NewMonitor(scheduleProvider, loc, log)
	if err := prayerMonitor.Start(); err != nil {
		log.Fatal("Failed to start prayer monitor", "error", err)
	}
	defer prayerMonitor.Stop()

	// Change feed. With change streams enabled the watcher is the single
	// source of inbox changes, so the queue does not publish its own.
	hub := feed.NewHub()
	var queuePublisher feed.Publisher = hub
	if cfg.MongoDB.ChangeStreams {
		watcher := feed.NewMongoWatcher(mongoClient.Collection(repository.NotificationQueueCollection), hub, log)
		go watcher.Run(ctx)
		queuePublisher = feed.Discard{}
	}

	// Push delivery
	var pushSender dispatch.Sender
	if cfg.Push.VAPIDPublicKey != "" && cfg.Push.VAPIDPrivateKey != "" {
		pushSender = dispatch.NewWebPushSender(dispatch.WebPushConfig{
			PublicKey:  cfg.Push.VAPIDPublicKey,
			PrivateKey: cfg.Push.VAPIDPrivateKey,
			Subscriber: cfg.Push.Subscriber,
			TTL:        time.Duration(cfg.Push.TTLSeconds) * time.Second,
		}, nil)
	} else {
		log.Warn("VAPID keys not configured, web push delivery disabled")
	}
	pushService := dispatch.NewPushService(subscriptionRepo, pushSender, cfg.Push.VAPIDPublicKey, log)

	// Dispatcher
	surface := dispatch.NewRedisSurface(redisClient, "", log)
	dispatcher := dispatch.NewDispatcher(surface, pushService, pushService, preferenceStore, dispatch.Options{
		Icon:  cfg.Push.Icon,
		Badge: cfg.Push.Badge,
	}, log)

	// Delivery queue and drain worker
	deliveryQueue := queue.NewDeliveryQueue(notificationRepo, preferenceStore, prayerMonitor, dispatcher, queuePublisher, loc, log)
	drainer := queue.NewDrainer(notificationRepo, dispatcher, preferenceStore, queuePublisher, cfg.Queue.DrainSchedule, cfg.Queue.BatchSize, log)
	if err := drainer.Start(); err != nil {
		log.Fatal("Failed to start drainer", "error", err)
	}
	defer drainer.Stop()

	// Community event consumer
	notificationService := service.NewNotificationService(deliveryQueue, log)
	dial := func() (consumer.Broker, error) {
		client, err := rabbitmq.NewRabbitMQClient(cfg.RabbitMQ.URL)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	eventConsumer := consumer.NewEventConsumer(dial, notificationService, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.Queue, log)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := eventConsumer.Run(ctx); err != nil {
			log.Error("Event consumer stopped", "error", err)
		}
	}()

	// Initialize HTTP handlers
	if err := handler.RegisterValidators(); err != nil {
		log.Fatal("Failed to register validators", "error", err)
	}
	preferencesHandler := handler.NewPreferencesHandler(preferenceStore, log)
	notificationHandler := handler.NewNotificationHandler(deliveryQueue, log)
	pushHandler := handler.NewPushHandler(pushService, log)
	prayerHandler := handler.NewPrayerHandler(prayerMonitor, log)
	streamHandler := handler.NewStreamHandler(surface, hub, log)
	healthHandler := handler.NewHealthHandler(map[string]handler.Check{
		"mongodb": mongoClient.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	})

	authenticator := middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	rateLimiter := middleware.NewUserRateLimiter(cfg.RateLimit.PerUser, cfg.RateLimit.Burst)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	// Health check endpoints
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes with authentication and per-user rate limiting
	v1 := router.Group("/api/v1")
	v1.Use(authenticator.Authenticate())
	v1.Use(middleware.RateLimitMiddleware(rateLimiter))
	{
		// Preferences
		prefs := v1.Group("/preferences")
		{
			prefs.GET("", preferencesHandler.GetPreferences)
			prefs.PATCH("", preferencesHandler.UpdatePreferences)
		}

		// Notifications
		notifications := v1.Group("/notifications")
		{
			notifications.POST("", middleware.RequireScope(middleware.ScopeEnqueue), notificationHandler.Enqueue)
			notifications.GET("", notificationHandler.GetNotifications)
			notifications.GET("/unread-count", notificationHandler.UnreadCount)
			notifications.POST("/:id/read", notificationHandler.MarkRead)
			notifications.POST("/read-all", notificationHandler.MarkAllRead)
		}

		// Push subscriptions
		push := v1.Group("/push")
		{
			push.POST("/subscriptions", pushHandler.Subscribe)
			push.DELETE("/subscriptions", pushHandler.Unsubscribe)
			push.POST("/check", pushHandler.Check)
		}

		// Prayer window
		prayerRoutes := v1.Group("/prayer")
		{
			prayerRoutes.GET("/window", prayerHandler.GetWindow)
			prayerRoutes.GET("/schedule", prayerHandler.GetSchedule)
		}

		// Live presentations and inbox changes
		v1.GET("/stream", streamHandler.Stream)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info("Smart Notification Service started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info("Shutting down Smart Notification Service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warn("Event consumer did not stop in time")
	}

	log.Info("Smart Notification Service stopped")
}
