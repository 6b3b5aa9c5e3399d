package repository

import (
	"context"
	"time"

	"storeops-hvac/internal/domain"
)

// AlertsRepository is the evaluation engine's persistence surface:
// definitions, per-target eval state, instances, and notifications.
type AlertsRepository interface {
	ListEnabledDefinitions(ctx context.Context) ([]*domain.AlertDefinition, error)
	GetDefinition(ctx context.Context, definitionID string) (*domain.AlertDefinition, error)
	// ListRealtimeDefinitionsForEntity returns enabled entity-selector
	// definitions watching one entity, for the realtime path.
	ListRealtimeDefinitionsForEntity(ctx context.Context, entityID string) ([]*domain.AlertDefinition, error)

	GetEvalState(ctx context.Context, definitionID, targetID string) (*domain.AlertEvalState, error)
	UpsertEvalState(ctx context.Context, state *domain.AlertEvalState) error

	GetActiveInstance(ctx context.Context, definitionID, targetID string) (*domain.AlertInstance, error)
	// CreateInstance inserts a new active instance. A duplicate-active
	// unique violation returns (false, nil): the benign no-op the engine
	// relies on under overlapping invocations.
	CreateInstance(ctx context.Context, instance *domain.AlertInstance) (bool, error)
	UpdateInstancePeak(ctx context.Context, instanceID, peakValue string) error
	ResolveInstance(ctx context.Context, instanceID string, resolvedAt time.Time, durationSeconds int64) error
	ListActiveInstances(ctx context.Context) ([]*domain.AlertInstance, error)

	CreateNotification(ctx context.Context, n *domain.Notification) error
	// RepeatStats returns how many repeat notifications a subscription has
	// received for an instance, and when the most recent fired/repeat row
	// was written.
	RepeatStats(ctx context.Context, instanceID, subscriptionID string) (int, *time.Time, error)
}

// SubscriptionsRepository reads the notification routing table.
type SubscriptionsRepository interface {
	ListForDefinition(ctx context.Context, definitionID string) ([]*domain.AlertSubscription, error)
}
