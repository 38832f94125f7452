package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов SubLead.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`
	AppURL string `envconfig:"APP_URL" default:"http://localhost:3000"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Agent struct {
		BaseURL string        `envconfig:"AGENT_BASE_URL" default:"http://localhost:8000"`
		Timeout time.Duration `envconfig:"AGENT_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Auth struct {
		JWTSecret string `envconfig:"SUPABASE_JWT_SECRET"`
	} `envconfig:""`

	Stripe struct {
		SecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
		WebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
		PriceID       string `envconfig:"STRIPE_PRICE_ID"`
	} `envconfig:""`

	Reddit struct {
		ClientID     string `envconfig:"REDDIT_CLIENT_ID"`
		ClientSecret string `envconfig:"REDDIT_CLIENT_SECRET"`
		UserAgent    string `envconfig:"REDDIT_USER_AGENT" default:"sublead/1.0"`
	} `envconfig:""`

	Queues struct {
		ConfigChanges string `envconfig:"CONFIG_CHANGES_QUEUE_KEY" default:"config_change_events"`
	} `envconfig:""`

	Notifier struct {
		MaxAttempts       int           `envconfig:"NOTIFIER_MAX_ATTEMPTS" default:"5"`
		RetryDelay        time.Duration `envconfig:"NOTIFIER_RETRY_DELAY" default:"5s"`
		ReconcileInterval time.Duration `envconfig:"NOTIFIER_RECONCILE_INTERVAL" default:"5m"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
