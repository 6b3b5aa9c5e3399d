package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"storeops-hvac/internal/domain"
)

// SetpointLogsRepository appends push-cycle audit rows and reads trailing
// windows back for cycling anomaly detection.
type SetpointLogsRepository interface {
	Append(ctx context.Context, log *domain.SetpointLog) error
	// ListSince returns a zone's log rows newer than the cutoff, oldest
	// first. Anomaly detection derives elapsed time from these rows'
	// actual timestamps.
	ListSince(ctx context.Context, zoneID string, since time.Time) ([]*domain.SetpointLog, error)
}

// PostgresSetpointLogsRepository implements SetpointLogsRepository over the
// setpoint_logs table.
type PostgresSetpointLogsRepository struct {
	db *sql.DB
}

// NewPostgresSetpointLogsRepository creates the setpoint-log repository.
func NewPostgresSetpointLogsRepository(db *sql.DB) *PostgresSetpointLogsRepository {
	return &PostgresSetpointLogsRepository{db: db}
}

var _ SetpointLogsRepository = (*PostgresSetpointLogsRepository)(nil)

// Append writes one audit row. LogID and CreatedAt are assigned here when
// unset.
func (r *PostgresSetpointLogsRepository) Append(ctx context.Context, log *domain.SetpointLog) error {
	if log.LogID == "" {
		log.LogID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO setpoint_logs (
			log_id, zone_id, site_id, trigger, phase,
			zone_temp_f, zone_humidity, supply_temp_f, return_temp_f, compressor_on,
			base_heat_f, base_cool_f, source,
			feels_like_adj_f, smart_start_adj_f, occupancy_adj_f, manager_adj_f,
			target_heat_f, target_cool_f,
			pushed, push_reason, push_actions, guardrail_triggered, anomaly_flags,
			entity_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)`,
		log.LogID, log.ZoneID, log.SiteID, log.Trigger, log.Phase,
		log.ZoneTempF, log.ZoneHumidity, log.SupplyTempF, log.ReturnTempF, log.CompressorOn,
		log.BaseHeatF, log.BaseCoolF, log.Source,
		log.FeelsLikeAdjF, log.SmartStartAdjF, log.OccupancyAdjF, log.ManagerAdjF,
		log.TargetHeatF, log.TargetCoolF,
		log.Pushed, log.PushReason, nullIfEmpty(log.PushActions), log.GuardrailTriggered, nullIfEmpty(log.AnomalyFlags),
		log.EntityID, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append setpoint log: %w", err)
	}
	return nil
}

// ListSince returns trailing log rows for one zone, oldest first.
func (r *PostgresSetpointLogsRepository) ListSince(ctx context.Context, zoneID string, since time.Time) ([]*domain.SetpointLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT log_id, zone_id, site_id, trigger, phase,
			zone_temp_f, zone_humidity, supply_temp_f, return_temp_f, compressor_on,
			created_at
		FROM setpoint_logs
		WHERE zone_id = $1 AND created_at >= $2
		ORDER BY created_at ASC`,
		zoneID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list setpoint logs: %w", err)
	}
	defer rows.Close()

	var logs []*domain.SetpointLog
	for rows.Next() {
		var l domain.SetpointLog
		if err := rows.Scan(
			&l.LogID, &l.ZoneID, &l.SiteID, &l.Trigger, &l.Phase,
			&l.ZoneTempF, &l.ZoneHumidity, &l.SupplyTempF, &l.ReturnTempF, &l.CompressorOn,
			&l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan setpoint log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
