package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sublead/internal/adapters/agentclient"
	"sublead/internal/adapters/repo"
	"sublead/internal/domain"
	"sublead/internal/infra/config"
	"sublead/internal/infra/db"
	loginfra "sublead/internal/infra/log"
	"sublead/internal/infra/metrics"
	"sublead/internal/infra/queue"
)

// worker доставляет события изменения конфигурации агент-сервису.
type worker struct {
	queue       domain.ConfigChangeQueue
	flags       domain.FlagRepo
	agent       domain.AgentGateway
	maxAttempts int
	retryDelay  time.Duration
	log         zerolog.Logger
}

func main() {
	cfg := config.Load()
	logger := loginfra.NewLogger(cfg.AppEnv).With().Str("component", "notifier").Logger()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("notifier: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var changeQueue domain.ConfigChangeQueue
	if cfg.RabbitURL != "" {
		rabbit, err := queue.NewRabbitConfigChangeQueue(cfg.RabbitURL, cfg.Queues.ConfigChanges)
		if err != nil {
			logger.Fatal().Err(err).Msg("notifier: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		changeQueue = rabbit
	} else {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		changeQueue = queue.NewRedisConfigChangeQueue(redisClient, cfg.Queues.ConfigChanges)
	}

	agent, err := agentclient.New(cfg.Agent.BaseURL, agentclient.WithTimeout(cfg.Agent.Timeout))
	if err != nil {
		logger.Fatal().Err(err).Msg("notifier: некорректный адрес агент-сервиса")
	}

	w := &worker{
		queue:       changeQueue,
		flags:       repoAdapter,
		agent:       agent,
		maxAttempts: cfg.Notifier.MaxAttempts,
		retryDelay:  cfg.Notifier.RetryDelay,
		log:         logger,
	}

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")
	go w.reconcile(ctx, cfg.Notifier.ReconcileInterval)

	logger.Info().Msg("notifier: старт")
	w.run(ctx)
	logger.Info().Msg("notifier: остановка")
}

// run читает события из очереди до отмены контекста.
func (w *worker) run(ctx context.Context) {
	for {
		event, err := w.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("notifier: чтение очереди")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.retryDelay):
			}
			continue
		}
		w.deliver(ctx, event)
	}
}

// deliver доставляет событие с ограниченным числом попыток. После
// исчерпания попыток флаг scraper_refresh_needed остаётся поднятым,
// и сверка доставит уведомление позже.
func (w *worker) deliver(ctx context.Context, event domain.ConfigChangeEvent) {
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.agent.NotifyConfigChange(ctx, event)
		if err == nil {
			w.log.Info().Str("event_id", event.ID).Str("action", string(event.Action)).Msg("notifier: событие доставлено")
			return
		}
		w.log.Warn().Err(err).Str("event_id", event.ID).Int("attempt", attempt).Msg("notifier: доставка не удалась")
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.retryDelay):
		}
	}
	metrics.ConfigNotifyFailures.Inc()
	w.log.Error().Str("event_id", event.ID).Msg("notifier: попытки исчерпаны, ждём сверку")
}

// reconcile периодически проверяет флаг и повторяет уведомление, если
// какая-то доставка потерялась. Флаг снимает сам скрейпер после
// перечитывания конфигураций.
func (w *worker) reconcile(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		raised, err := w.flags.GetFlag(ctx, domain.FlagScraperRefreshNeeded)
		if err != nil {
			w.log.Error().Err(err).Msg("notifier: чтение флага")
			continue
		}
		if !raised {
			continue
		}
		event := domain.ConfigChangeEvent{
			ID:         uuid.NewString(),
			Action:     domain.ConfigActionReconcile,
			OccurredAt: time.Now().UTC(),
		}
		if err := w.agent.NotifyConfigChange(ctx, event); err != nil {
			w.log.Warn().Err(err).Msg("notifier: сверка не доставлена")
		}
	}
}
