package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"storeops-hvac/internal/domain"
)

// PostgresAlertsRepository implements AlertsRepository over the
// alert_definitions, alert_eval_states, alert_instances, and notifications
// tables.
type PostgresAlertsRepository struct {
	db *sql.DB
}

// NewPostgresAlertsRepository creates the alerts repository.
func NewPostgresAlertsRepository(db *sql.DB) *PostgresAlertsRepository {
	return &PostgresAlertsRepository{db: db}
}

var _ AlertsRepository = (*PostgresAlertsRepository)(nil)

const definitionColumns = `definition_id, org_id, name, enabled, severity,
	target_kind, entity_id, equipment_type, sensor_role, metric,
	condition, threshold_value, target_value, target_value_type,
	stale_minutes, delta_value, delta_direction, window_minutes,
	sustain_minutes, eval_path, scope`

func scanDefinition(row interface{ Scan(...any) error }) (*domain.AlertDefinition, error) {
	var d domain.AlertDefinition
	var scope sql.NullString
	err := row.Scan(
		&d.DefinitionID, &d.OrgID, &d.Name, &d.Enabled, &d.Severity,
		&d.TargetKind, &d.EntityID, &d.EquipmentType, &d.SensorRole, &d.Metric,
		&d.Condition, &d.ThresholdValue, &d.TargetValue, &d.TargetValueType,
		&d.StaleMinutes, &d.DeltaValue, &d.DeltaDirection, &d.WindowMinutes,
		&d.SustainMinutes, &d.EvalPath, &scope,
	)
	if err != nil {
		return nil, err
	}
	if scope.Valid && scope.String != "" {
		if err := json.Unmarshal([]byte(scope.String), &d.Scope); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scope: %w", err)
		}
	}
	if d.Scope.Mode == "" {
		d.Scope.Mode = "all"
	}
	return &d, nil
}

// ListEnabledDefinitions returns every enabled definition for the cron pass.
func (r *PostgresAlertsRepository) ListEnabledDefinitions(ctx context.Context) ([]*domain.AlertDefinition, error) {
	query := fmt.Sprintf(`SELECT %s FROM alert_definitions WHERE enabled = TRUE ORDER BY name`, definitionColumns)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert definitions: %w", err)
	}
	defer rows.Close()

	var defs []*domain.AlertDefinition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert definition: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// GetDefinition fetches one definition by id. Returns (nil, nil) when absent.
func (r *PostgresAlertsRepository) GetDefinition(ctx context.Context, definitionID string) (*domain.AlertDefinition, error) {
	query := fmt.Sprintf(`SELECT %s FROM alert_definitions WHERE definition_id = $1`, definitionColumns)
	d, err := scanDefinition(r.db.QueryRowContext(ctx, query, definitionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert definition: %w", err)
	}
	return d, nil
}

// ListRealtimeDefinitionsForEntity returns enabled entity-selector
// definitions watching one entity.
func (r *PostgresAlertsRepository) ListRealtimeDefinitionsForEntity(ctx context.Context, entityID string) ([]*domain.AlertDefinition, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM alert_definitions WHERE enabled = TRUE AND target_kind = 'entity' AND entity_id = $1`,
		definitionColumns,
	)
	rows, err := r.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list realtime definitions: %w", err)
	}
	defer rows.Close()

	var defs []*domain.AlertDefinition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert definition: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// GetEvalState fetches one (definition, target) eval row. Returns
// (nil, nil) when the pair has never been evaluated.
func (r *PostgresAlertsRepository) GetEvalState(ctx context.Context, definitionID, targetID string) (*domain.AlertEvalState, error) {
	var s domain.AlertEvalState
	var window sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT definition_id, target_id, last_value, last_numeric, last_updated_at,
			condition_met, condition_since, fired, roc_window
		FROM alert_eval_states WHERE definition_id = $1 AND target_id = $2`,
		definitionID, targetID,
	).Scan(
		&s.DefinitionID, &s.TargetID, &s.LastValue, &s.LastNumeric, &s.LastUpdatedAt,
		&s.ConditionMet, &s.ConditionSince, &s.Fired, &window,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get eval state: %w", err)
	}
	if window.Valid && window.String != "" {
		if err := json.Unmarshal([]byte(window.String), &s.Window); err != nil {
			return nil, fmt.Errorf("failed to unmarshal eval window: %w", err)
		}
	}
	return &s, nil
}

// UpsertEvalState writes the row back after one evaluation step.
func (r *PostgresAlertsRepository) UpsertEvalState(ctx context.Context, state *domain.AlertEvalState) error {
	var windowJSON any
	if len(state.Window) > 0 {
		b, err := json.Marshal(state.Window)
		if err != nil {
			return fmt.Errorf("failed to marshal eval window: %w", err)
		}
		windowJSON = string(b)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alert_eval_states (
			definition_id, target_id, last_value, last_numeric, last_updated_at,
			condition_met, condition_since, fired, roc_window, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
		ON CONFLICT (definition_id, target_id) DO UPDATE SET
			last_value = EXCLUDED.last_value,
			last_numeric = EXCLUDED.last_numeric,
			last_updated_at = EXCLUDED.last_updated_at,
			condition_met = EXCLUDED.condition_met,
			condition_since = EXCLUDED.condition_since,
			fired = EXCLUDED.fired,
			roc_window = EXCLUDED.roc_window,
			updated_at = NOW()`,
		state.DefinitionID, state.TargetID, state.LastValue, state.LastNumeric, state.LastUpdatedAt,
		state.ConditionMet, state.ConditionSince, state.Fired, windowJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert eval state: %w", err)
	}
	return nil
}

const instanceColumns = `instance_id, definition_id, target_id, target_label, status,
	first_detected_at, fired_at, resolved_at, trigger_value, peak_value, context, duration_seconds`

func scanInstance(row interface{ Scan(...any) error }) (*domain.AlertInstance, error) {
	var i domain.AlertInstance
	var context sql.NullString
	err := row.Scan(
		&i.InstanceID, &i.DefinitionID, &i.TargetID, &i.TargetLabel, &i.Status,
		&i.FirstDetectedAt, &i.FiredAt, &i.ResolvedAt, &i.TriggerValue, &i.PeakValue,
		&context, &i.DurationSeconds,
	)
	if err != nil {
		return nil, err
	}
	if context.Valid {
		i.Context = context.String
	}
	return &i, nil
}

// GetActiveInstance fetches the current active instance for a pair, if any.
func (r *PostgresAlertsRepository) GetActiveInstance(ctx context.Context, definitionID, targetID string) (*domain.AlertInstance, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM alert_instances WHERE definition_id = $1 AND target_id = $2 AND status = 'active'`,
		instanceColumns,
	)
	i, err := scanInstance(r.db.QueryRowContext(ctx, query, definitionID, targetID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active instance: %w", err)
	}
	return i, nil
}

// CreateInstance inserts a new active instance. The partial unique index on
// (definition_id, target_id) WHERE status = 'active' makes a double fire a
// no-op rather than an error.
func (r *PostgresAlertsRepository) CreateInstance(ctx context.Context, instance *domain.AlertInstance) (bool, error) {
	if instance.InstanceID == "" {
		instance.InstanceID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alert_instances (
			instance_id, definition_id, target_id, target_label, status,
			first_detected_at, fired_at, trigger_value, peak_value, context, created_at
		) VALUES ($1,$2,$3,$4,'active',$5,$6,$7,$8,$9,NOW())`,
		instance.InstanceID, instance.DefinitionID, instance.TargetID, instance.TargetLabel,
		instance.FirstDetectedAt, instance.FiredAt, instance.TriggerValue, instance.PeakValue,
		nullIfEmpty(instance.Context),
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("failed to create alert instance: %w", err)
	}
	return true, nil
}

// UpdateInstancePeak records a new peak value on an active instance.
func (r *PostgresAlertsRepository) UpdateInstancePeak(ctx context.Context, instanceID, peakValue string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE alert_instances SET peak_value = $1, updated_at = NOW() WHERE instance_id = $2 AND status = 'active'`,
		peakValue, instanceID,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance peak: %w", err)
	}
	return nil
}

// ResolveInstance closes an active instance and records its duration.
func (r *PostgresAlertsRepository) ResolveInstance(ctx context.Context, instanceID string, resolvedAt time.Time, durationSeconds int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE alert_instances SET status = 'resolved', resolved_at = $1, duration_seconds = $2, updated_at = NOW()
		WHERE instance_id = $3 AND status = 'active'`,
		resolvedAt, durationSeconds, instanceID,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve instance: %w", err)
	}
	return nil
}

// ListActiveInstances returns every active instance, for the repeat pass.
func (r *PostgresAlertsRepository) ListActiveInstances(ctx context.Context) ([]*domain.AlertInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM alert_instances WHERE status = 'active' ORDER BY fired_at`, instanceColumns)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active instances: %w", err)
	}
	defer rows.Close()

	var instances []*domain.AlertInstance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert instance: %w", err)
		}
		instances = append(instances, i)
	}
	return instances, rows.Err()
}

// CreateNotification appends one delivery row.
func (r *PostgresAlertsRepository) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if n.NotificationID == "" {
		n.NotificationID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (
			notification_id, instance_id, subscription_id, type, channel, status,
			recipient, title, message, severity, sequence, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		n.NotificationID, n.InstanceID, n.SubscriptionID, n.Type, n.Channel, n.Status,
		n.Recipient, n.Title, n.Message, n.Severity, n.Sequence, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// RepeatStats returns a subscription's repeat count and the time of its most
// recent fired/repeat notification for one instance.
func (r *PostgresAlertsRepository) RepeatStats(ctx context.Context, instanceID, subscriptionID string) (int, *time.Time, error) {
	var count int
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FILTER (WHERE type = 'repeat'), MAX(created_at)
		FROM notifications
		WHERE instance_id = $1 AND subscription_id = $2 AND type IN ('fired', 'repeat')`,
		instanceID, subscriptionID,
	).Scan(&count, &last)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get repeat stats: %w", err)
	}
	if !last.Valid {
		return count, nil, nil
	}
	return count, &last.Time, nil
}
