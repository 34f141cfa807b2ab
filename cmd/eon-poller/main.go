package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/lejer/eon-client/pkg/cache"
	"github.com/lejer/eon-client/pkg/client"
	"github.com/lejer/eon-client/pkg/config"
	"github.com/lejer/eon-client/pkg/health"
	"github.com/lejer/eon-client/pkg/logging"
	"github.com/lejer/eon-client/pkg/poller"
	"github.com/lejer/eon-client/pkg/publish"
	"github.com/lejer/eon-client/pkg/readings"
)

func main() {
	cfg, err := config.Load(getEnv("EON_CONFIG", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Setup(logging.Config{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: "eon-poller",
	})
	logger := logging.NewLogger("eon-poller")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup Redis
	redisOpts, err := redisOptions(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Str("redis_url", cfg.RedisURL).Msg("Invalid Redis URL")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", redisOpts.Addr).Msg("Failed to connect to Redis")
	}
	logger.Info().Str("addr", redisOpts.Addr).Msg("Connected to Redis")

	// Create E.ON client
	clientCfg := client.DefaultConfig(cfg.Username, cfg.Password)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.SubscriptionKey != "" {
		clientCfg.SubscriptionKey = cfg.SubscriptionKey
	}
	eonClient, err := client.New(clientCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create E.ON client")
	}
	defer eonClient.Close()

	history, err := readings.Open(cfg.DatabasePath, logging.NewLogger("readings"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open reading history")
	}
	defer history.Close()

	var publisher poller.Publisher
	var published publishStatus
	if cfg.MQTT.Enabled() {
		mqttPublisher, err := publish.Connect(publish.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Retain:      cfg.MQTT.Retain,
		}, logging.NewLogger("mqtt"))
		if err != nil {
			logger.Error().Err(err).Msg("MQTT publishing disabled")
		} else {
			defer mqttPublisher.Close()
			publisher = mqttPublisher
			published = mqttPublisher
		}
	}

	tracker := health.NewTracker(redisClient, logging.NewLogger("health"))

	p := poller.New(poller.Config{
		API:                eonClient,
		Snapshots:          cache.NewManager(redisClient, cfg.SnapshotTTL()),
		Health:             tracker,
		Publisher:          publisher,
		History:            history,
		Interval:           cfg.Interval(),
		CollectiveContract: cfg.CollectiveContract,
		Logger:             logging.NewLogger("poller"),
	})

	go p.Run(ctx)

	srv := &server{
		poller:     p,
		health:     tracker,
		history:    history,
		publisher:  published,
		logger:     logging.NewLogger("http"),
		staleAfter: cfg.SnapshotTTL(),
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.routes(cfg.CORSOrigins),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  180 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP shutdown failed")
		}
	}()

	logger.Info().
		Str("addr", httpServer.Addr).
		Str("user", logging.MaskUsername(cfg.Username)).
		Dur("interval", cfg.Interval()).
		Bool("mqtt", publisher != nil).
		Msg("Starting E.ON poller")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Shut down")
}

// redisOptions accepts either host:port or a redis:// URL.
func redisOptions(raw string) (*redis.Options, error) {
	if strings.Contains(raw, "://") {
		return redis.ParseURL(raw)
	}
	return &redis.Options{Addr: raw}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
