package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	RepliesGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replies_generated_total",
		Help: "Сгенерированные ответы на лиды",
	})
	RepliesRefused = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "replies_refused_total",
		Help: "Отказы генерации из-за месячной квоты",
	})
	ConfigMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "config_mutations_total",
		Help: "Изменения профилей ICP по видам",
	}, []string{"action"})
	ConfigNotifyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "config_notify_failures_total",
		Help: "Неудачные уведомления скрейпера об изменении конфигурации",
	})
	MonitoringTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitoring_transitions_total",
		Help: "Переключения мониторинга лимитом лидов",
	}, []string{"state"})
	CheckoutSessions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkout_sessions_total",
		Help: "Созданные сессии оплаты",
	})
	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stripe_webhook_events_total",
		Help: "Обработанные события вебхука Stripe",
	}, []string{"type"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		RepliesGenerated,
		RepliesRefused,
		ConfigMutations,
		ConfigNotifyFailures,
		MonitoringTransitions,
		CheckoutSessions,
		WebhookEvents,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}
