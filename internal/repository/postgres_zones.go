package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"storeops-hvac/internal/domain"
)

// PostgresZonesRepository is the zones/equipment repository backed by the
// zones and equipment tables.
type PostgresZonesRepository struct {
	db *sql.DB
}

// NewPostgresZonesRepository creates the zones repository.
func NewPostgresZonesRepository(db *sql.DB) *PostgresZonesRepository {
	return &PostgresZonesRepository{db: db}
}

var _ ZonesRepository = (*PostgresZonesRepository)(nil)

const zoneColumns = `zone_id, site_id, zone_name, equipment_id, thermostat_entity_id,
	profile_id, is_override,
	occupied_heat_f, occupied_cool_f, unoccupied_heat_f, unoccupied_cool_f,
	occupied_hvac_mode, occupied_fan_mode, unoccupied_hvac_mode, unoccupied_fan_mode,
	guardrail_min_f, guardrail_max_f, manager_offset_max_f,
	anomaly_overrides, last_known_state, last_directive`

func scanZone(row interface{ Scan(...any) error }) (*domain.Zone, error) {
	var z domain.Zone
	var anomalyOverrides, lastKnownState sql.NullString
	err := row.Scan(
		&z.ZoneID, &z.SiteID, &z.ZoneName, &z.EquipmentID, &z.ThermostatEntityID,
		&z.ProfileID, &z.IsOverride,
		&z.OccupiedHeatF, &z.OccupiedCoolF, &z.UnoccupiedHeatF, &z.UnoccupiedCoolF,
		&z.OccupiedMode, &z.OccupiedFan, &z.UnoccupiedMode, &z.UnoccupiedFan,
		&z.GuardrailMinF, &z.GuardrailMaxF, &z.ManagerOffsetMaxF,
		&anomalyOverrides, &lastKnownState, &z.LastDirective,
	)
	if err != nil {
		return nil, err
	}
	if anomalyOverrides.Valid && anomalyOverrides.String != "" {
		var ov domain.AnomalyThresholdOverrides
		if err := json.Unmarshal([]byte(anomalyOverrides.String), &ov); err == nil {
			z.AnomalyOverrides = &ov
		}
	}
	if lastKnownState.Valid && lastKnownState.String != "" {
		var st domain.ThermostatState
		if err := json.Unmarshal([]byte(lastKnownState.String), &st); err == nil {
			z.LastKnownState = &st
		}
	}
	return &z, nil
}

// ListSiteIDs returns the distinct site ids that have zones.
func (r *PostgresZonesRepository) ListSiteIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT site_id FROM zones ORDER BY site_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list site ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan site id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListZonesBySite returns all zones for one site, ordered by name.
func (r *PostgresZonesRepository) ListZonesBySite(ctx context.Context, siteID string) ([]*domain.Zone, error) {
	query := fmt.Sprintf(`SELECT %s FROM zones WHERE site_id = $1 ORDER BY zone_name`, zoneColumns)
	rows, err := r.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	defer rows.Close()

	var zones []*domain.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// ListZones returns every zone, used by zone-scoped alert target resolution.
func (r *PostgresZonesRepository) ListZones(ctx context.Context) ([]*domain.Zone, error) {
	query := fmt.Sprintf(`SELECT %s FROM zones ORDER BY site_id, zone_name`, zoneColumns)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	defer rows.Close()

	var zones []*domain.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// GetZone fetches one zone by id.
func (r *PostgresZonesRepository) GetZone(ctx context.Context, zoneID string) (*domain.Zone, error) {
	query := fmt.Sprintf(`SELECT %s FROM zones WHERE zone_id = $1`, zoneColumns)
	z, err := scanZone(r.db.QueryRowContext(ctx, query, zoneID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get zone: %w", err)
	}
	return z, nil
}

// ListEquipmentByType returns equipment units of one type, used by
// equipment_role alert target resolution.
func (r *PostgresZonesRepository) ListEquipmentByType(ctx context.Context, equipmentType string) ([]*domain.Equipment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT equipment_id, site_id, equipment_name, equipment_type FROM equipment WHERE equipment_type = $1 ORDER BY equipment_name`,
		equipmentType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list equipment: %w", err)
	}
	defer rows.Close()

	var list []*domain.Equipment
	for rows.Next() {
		var e domain.Equipment
		if err := rows.Scan(&e.EquipmentID, &e.SiteID, &e.EquipmentName, &e.EquipmentType); err != nil {
			return nil, fmt.Errorf("failed to scan equipment: %w", err)
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

// UpdateReadback persists the read-back device state and directive text.
func (r *PostgresZonesRepository) UpdateReadback(ctx context.Context, zoneID string, state *domain.ThermostatState, directive string) error {
	stateJSON, err := domain.MarshalState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal thermostat state: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE zones SET last_known_state = $1, last_directive = $2, updated_at = NOW() WHERE zone_id = $3`,
		nullIfEmpty(stateJSON), directive, zoneID,
	)
	if err != nil {
		return fmt.Errorf("failed to update zone readback: %w", err)
	}
	return nil
}
