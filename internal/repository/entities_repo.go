package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"storeops-hvac/internal/domain"
)

// EntitiesRepository reads the entity-value table and serves the spaces a
// zone's equipment covers. The ingest bridge is the only writer.
type EntitiesRepository interface {
	ListSpacesForEquipment(ctx context.Context, equipmentID string) ([]*domain.Space, error)
	ListSensorsBySpaces(ctx context.Context, spaceIDs []string) ([]*domain.SensorEntity, error)
	ListSensorsForEquipment(ctx context.Context, equipmentID string) ([]*domain.SensorEntity, error)
	GetEntity(ctx context.Context, entityID string) (*domain.SensorEntity, error)

	// UpsertEntityValue records a new last value and freshness timestamp.
	UpsertEntityValue(ctx context.Context, entityID, value string, seenAt time.Time) error
}

// PostgresEntitiesRepository implements EntitiesRepository over the spaces,
// space_equipment, and sensor_entities tables.
type PostgresEntitiesRepository struct {
	db *sql.DB
}

// NewPostgresEntitiesRepository creates the entities repository.
func NewPostgresEntitiesRepository(db *sql.DB) *PostgresEntitiesRepository {
	return &PostgresEntitiesRepository{db: db}
}

var _ EntitiesRepository = (*PostgresEntitiesRepository)(nil)

const sensorColumns = `entity_id, space_id, equipment_id, role, weight, last_value, last_seen_at`

func scanSensor(row interface{ Scan(...any) error }) (*domain.SensorEntity, error) {
	var e domain.SensorEntity
	if err := row.Scan(&e.EntityID, &e.SpaceID, &e.EquipmentID, &e.Role, &e.Weight, &e.LastValue, &e.LastSeenAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListSpacesForEquipment returns the spaces served by one equipment unit,
// with each space's zone-weight.
func (r *PostgresEntitiesRepository) ListSpacesForEquipment(ctx context.Context, equipmentID string) ([]*domain.Space, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.space_id, s.site_id, s.space_name, se.zone_weight
		FROM spaces s
		JOIN space_equipment se ON se.space_id = s.space_id
		WHERE se.equipment_id = $1
		ORDER BY s.space_name`,
		equipmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list spaces: %w", err)
	}
	defer rows.Close()

	var spaces []*domain.Space
	for rows.Next() {
		var s domain.Space
		if err := rows.Scan(&s.SpaceID, &s.SiteID, &s.SpaceName, &s.ZoneWeight); err != nil {
			return nil, fmt.Errorf("failed to scan space: %w", err)
		}
		spaces = append(spaces, &s)
	}
	return spaces, rows.Err()
}

// ListSensorsBySpaces returns all sensor entities located in the given
// spaces.
func (r *PostgresEntitiesRepository) ListSensorsBySpaces(ctx context.Context, spaceIDs []string) ([]*domain.SensorEntity, error) {
	if len(spaceIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM sensor_entities WHERE space_id = ANY($1)`, sensorColumns)
	rows, err := r.db.QueryContext(ctx, query, pq.Array(spaceIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list sensors by space: %w", err)
	}
	defer rows.Close()

	var sensors []*domain.SensorEntity
	for rows.Next() {
		e, err := scanSensor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor: %w", err)
		}
		sensors = append(sensors, e)
	}
	return sensors, rows.Err()
}

// ListSensorsForEquipment returns equipment-scoped sensors (supply/return
// temperature, compressor state).
func (r *PostgresEntitiesRepository) ListSensorsForEquipment(ctx context.Context, equipmentID string) ([]*domain.SensorEntity, error) {
	query := fmt.Sprintf(`SELECT %s FROM sensor_entities WHERE equipment_id = $1`, sensorColumns)
	rows, err := r.db.QueryContext(ctx, query, equipmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sensors for equipment: %w", err)
	}
	defer rows.Close()

	var sensors []*domain.SensorEntity
	for rows.Next() {
		e, err := scanSensor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor: %w", err)
		}
		sensors = append(sensors, e)
	}
	return sensors, rows.Err()
}

// GetEntity fetches one sensor entity by id. Returns (nil, nil) when absent.
func (r *PostgresEntitiesRepository) GetEntity(ctx context.Context, entityID string) (*domain.SensorEntity, error) {
	query := fmt.Sprintf(`SELECT %s FROM sensor_entities WHERE entity_id = $1`, sensorColumns)
	e, err := scanSensor(r.db.QueryRowContext(ctx, query, entityID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

// UpsertEntityValue records a value update from the telemetry bridge.
func (r *PostgresEntitiesRepository) UpsertEntityValue(ctx context.Context, entityID, value string, seenAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sensor_entities SET last_value = $1, last_seen_at = $2 WHERE entity_id = $3`,
		value, seenAt, entityID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entity value: %w", err)
	}
	return nil
}
