package domain

import (
	"context"
	"time"
)

// ConfigChangeAction описывает вид изменения профиля.
type ConfigChangeAction string

const (
	ConfigActionCreate ConfigChangeAction = "create"
	ConfigActionUpdate ConfigChangeAction = "update"
	ConfigActionDelete ConfigChangeAction = "delete"

	// ConfigActionReconcile — синтетическое событие сверки: флаг
	// scraper_refresh_needed всё ещё поднят, доставка повторяется.
	ConfigActionReconcile ConfigChangeAction = "reconcile"
)

// ConfigChangeEvent — типизированное событие изменения конфигурации,
// которое notifier доставляет агент-сервису вместо опроса флага.
type ConfigChangeEvent struct {
	ID         string             `json:"event_id,omitempty"`
	UserID     string             `json:"user_id"`
	ICPID      int64              `json:"icp_id"`
	Action     ConfigChangeAction `json:"action"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// ConfigChangeQueue описывает очередь событий изменения конфигурации.
type ConfigChangeQueue interface {
	Enqueue(ctx context.Context, event ConfigChangeEvent) error
	Pop(ctx context.Context) (ConfigChangeEvent, error)
}
