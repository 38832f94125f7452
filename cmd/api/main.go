package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"sublead/internal/adapters/agentclient"
	"sublead/internal/adapters/redditoauth"
	"sublead/internal/adapters/repo"
	"sublead/internal/adapters/stripegw"
	"sublead/internal/domain"
	cacheinfra "sublead/internal/infra/cache"
	"sublead/internal/infra/config"
	"sublead/internal/infra/db"
	httpinfra "sublead/internal/infra/http"
	loginfra "sublead/internal/infra/log"
	"sublead/internal/infra/metrics"
	"sublead/internal/infra/queue"
	"sublead/internal/usecase/billing"
	"sublead/internal/usecase/configs"
	"sublead/internal/usecase/entitlement"
	"sublead/internal/usecase/leads"
	"sublead/internal/usecase/notify"
	"sublead/internal/usecase/redditauth"
	"sublead/internal/usecase/replies"
)

func main() {
	cfg := config.Load()
	logger := loginfra.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	kv := cacheinfra.NewRedis(redisClient)

	// События изменения конфигурации идут через RabbitMQ, если он
	// настроен, иначе через Redis-список.
	var changeQueue domain.ConfigChangeQueue
	if cfg.RabbitURL != "" {
		rabbit, err := queue.NewRabbitConfigChangeQueue(cfg.RabbitURL, cfg.Queues.ConfigChanges)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		changeQueue = rabbit
	} else {
		changeQueue = queue.NewRedisConfigChangeQueue(redisClient, cfg.Queues.ConfigChanges)
	}

	repoAdapter := repo.NewPostgres(pool)
	agent, err := agentclient.New(cfg.Agent.BaseURL, agentclient.WithTimeout(cfg.Agent.Timeout))
	if err != nil {
		logger.Fatal().Err(err).Msg("api: некорректный адрес агент-сервиса")
	}
	payments := stripegw.New(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.AppURL)
	redditGateway := redditoauth.New(
		cfg.Reddit.ClientID,
		cfg.Reddit.ClientSecret,
		fmt.Sprintf("%s/api/v1/auth/reddit/callback", cfg.AppURL),
		cfg.Reddit.UserAgent,
	)

	notifier := notify.NewService(repoAdapter, changeQueue, logger.With().Str("component", "notify").Logger())
	entService := entitlement.NewService(kv, repoAdapter, repoAdapter, notifier, logger.With().Str("component", "entitlement").Logger())
	configService := configs.NewService(repoAdapter, agent, entService, notifier, logger.With().Str("component", "configs").Logger())
	leadService := leads.NewService(repoAdapter, entService)
	replyService := replies.NewService(repoAdapter, repoAdapter, agent, entService)
	billingService := billing.NewService(payments, kv, repoAdapter, cfg.Stripe.PriceID, logger.With().Str("component", "billing").Logger())
	redditService := redditauth.NewService(repoAdapter, redditGateway, cfg.AppURL, logger.With().Str("component", "redditauth").Logger())

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	handlers := &api{
		accounts:    repoAdapter,
		agent:       agent,
		configs:     configService,
		leads:       leadService,
		replies:     replyService,
		billing:     billingService,
		entitlement: entService,
		notifier:    notifier,
		reddit:      redditService,
		log:         logger.With().Str("component", "api").Logger(),
	}
	handlers.routes(server.Router, cfg.Auth.JWTSecret)

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
