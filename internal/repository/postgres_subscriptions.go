package repository

import (
	"context"
	"database/sql"
	"fmt"

	"storeops-hvac/internal/domain"
)

// PostgresSubscriptionsRepository implements SubscriptionsRepository over
// the alert_subscriptions table.
type PostgresSubscriptionsRepository struct {
	db *sql.DB
}

// NewPostgresSubscriptionsRepository creates the subscriptions repository.
func NewPostgresSubscriptionsRepository(db *sql.DB) *PostgresSubscriptionsRepository {
	return &PostgresSubscriptionsRepository{db: db}
}

var _ SubscriptionsRepository = (*PostgresSubscriptionsRepository)(nil)

// ListForDefinition returns the enabled subscriptions for one definition.
func (r *PostgresSubscriptionsRepository) ListForDefinition(ctx context.Context, definitionID string) ([]*domain.AlertSubscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT subscription_id, definition_id, user_id, enabled,
			dashboard_enabled, email_enabled, sms_enabled, email_address, phone_number,
			quiet_hours_start, quiet_hours_end, timezone,
			send_resolved, max_repeats, repeat_interval_minutes
		FROM alert_subscriptions
		WHERE definition_id = $1 AND enabled = TRUE
		ORDER BY subscription_id`,
		definitionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*domain.AlertSubscription
	for rows.Next() {
		var s domain.AlertSubscription
		if err := rows.Scan(
			&s.SubscriptionID, &s.DefinitionID, &s.UserID, &s.Enabled,
			&s.DashboardEnabled, &s.EmailEnabled, &s.SMSEnabled, &s.EmailAddress, &s.PhoneNumber,
			&s.QuietHoursStart, &s.QuietHoursEnd, &s.Timezone,
			&s.SendResolved, &s.MaxRepeats, &s.RepeatIntervalMinutes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, &s)
	}
	return subs, rows.Err()
}
