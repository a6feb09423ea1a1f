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

	"cloud.google.com/go/pubsub"
	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"fourcash/backend/internal/aggregate"
	"fourcash/backend/internal/cache"
	"fourcash/backend/internal/config"
	"fourcash/backend/internal/events"
	"fourcash/backend/internal/httpapi"
	"fourcash/backend/internal/jobs"
	"fourcash/backend/internal/logging"
	"fourcash/backend/internal/notify"
	"fourcash/backend/internal/reportdate"
	"fourcash/backend/internal/service"
	"fourcash/backend/internal/session"
	"fourcash/backend/internal/store"
	"fourcash/backend/internal/store/memory"
	mongostore "fourcash/backend/internal/store/mongo"
	pgstore "fourcash/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := validateSecurityConfig(cfg); err != nil {
		log.WithError(err).Fatal("invalid security configuration")
	}
	loc, err := cfg.Location()
	if err != nil {
		log.WithError(err).Fatal("invalid STORE_TIMEZONE")
	}
	runHour, runMinute, err := cfg.RunAt()
	if err != nil {
		log.WithError(err).Fatal("invalid jobs schedule")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 4)

	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("repository unavailable; refusing to start with in-memory fallback")
	}
	closers = append(closers, closeRepo)

	settingsCache := cache.SettingsCache(cache.NoopSettingsCache{})
	revocations := session.Revocations(session.NewMemoryRevocations())
	var locker jobs.Locker
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unavailable, using in-process cache and sessions")
			_ = client.Close()
		} else {
			settingsCache, revocations, locker = redisBacked(client, cfg.AccessTokenTTL())
			closers = append(closers, client.Close)
			log.Info("cache: redis")
		}
	} else {
		log.Info("cache: noop")
	}

	var pubsubClient *pubsub.Client
	if cfg.PubSubProjectID != "" {
		opts := make([]option.ClientOption, 0, 1)
		if cfg.PubSubCredentialsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.PubSubCredentialsJSON)))
		}
		pubsubClient, err = pubsub.NewClient(context.Background(), cfg.PubSubProjectID, opts...)
		if err != nil {
			log.WithError(err).Fatal("pubsub unavailable")
		}
		closers = append(closers, pubsubClient.Close)
	}

	var sink notify.Sink = notify.LogSink{Log: log}
	if pubsubClient != nil && cfg.NotificationsTopic != "" {
		topic := pubsubClient.Topic(cfg.NotificationsTopic)
		defer topic.Stop()
		sink = notify.NewPubSubSink(topic)
		log.WithField("topic", cfg.NotificationsTopic).Info("notifications: pubsub")
	} else {
		log.Info("notifications: log")
	}

	settings := reportdate.NewCachedSettings(repo, settingsCache, cfg.SettingsCacheTTL(), log)
	dates := reportdate.NewResolver(settings, loc, log)
	engine := aggregate.NewEngine(repo, dates, log)
	svc := service.New(repo, engine, dates, sink, log)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo, revocations)
	router := events.NewRouter(svc, log)
	if cfg.PushToken == "" {
		log.Warn("PUSH_TOKEN unset, event push endpoint disabled")
	}
	api := httpapi.New(svc, auth, log, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		PushToken:     cfg.PushToken,
		Events:        router,
	})

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	if pubsubClient != nil && cfg.EventsSubscription != "" {
		subscriber := events.NewSubscriber(pubsubClient.Subscription(cfg.EventsSubscription), router, log)
		go func() {
			log.WithField("subscription", cfg.EventsSubscription).Info("events: pubsub")
			if err := subscriber.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("event subscriber stopped")
			}
		}()
	}

	daily := jobs.New(repo, revocations, sink, log)
	scheduler := jobs.NewScheduler(loc, runHour, runMinute, locker, log,
		jobs.Job{Name: "low_stock", Run: discardCount(daily.LowStockScan)},
		jobs.Job{Name: "subscription_expiry", Run: discardCount(daily.SubscriptionExpiryScan)},
	)
	go func() {
		if err := scheduler.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("scheduler stopped")
		}
	}()

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Address()).Info("POS backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			log.WithError(err).Error("close error")
		}
	}

	log.Info("server stopped")
}

// openRepository connects the configured backend. A configured database
// that cannot be reached is an error, never a silent in-memory fallback.
func openRepository(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (store.Repository, func() error, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Info("repository: in-memory")
		return memory.NewSeeded(log), func() error { return nil }, nil
	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		log.Info("repository: postgres")
		return pg, pg.Close, nil
	case config.BackendMongo:
		if cfg.MongoURI == "" {
			return nil, nil, fmt.Errorf("MONGO_URI is required for the mongo backend")
		}
		m, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo: %w", err)
		}
		if err := m.EnsureIndexes(ctx); err != nil {
			_ = m.Close()
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		log.Info("repository: mongo")
		return m, m.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

func redisBacked(client *redis.Client, tokenTTL time.Duration) (cache.SettingsCache, session.Revocations, jobs.Locker) {
	return cache.NewRedisSettingsCache(client),
		session.NewRedisRevocations(client, tokenTTL),
		jobs.NewRedisLocker(redislock.New(client))
}

func discardCount(scan func(context.Context) (int, error)) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := scan(ctx)
		return err
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.PushToken != "" && len(cfg.PushToken) < 16 {
		return fmt.Errorf("PUSH_TOKEN must be at least 16 characters when set")
	}
	return nil
}
