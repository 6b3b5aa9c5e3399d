package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storeops-hvac/internal/domain"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

var zoneColumnNames = []string{
	"zone_id", "site_id", "zone_name", "equipment_id", "thermostat_entity_id",
	"profile_id", "is_override",
	"occupied_heat_f", "occupied_cool_f", "unoccupied_heat_f", "unoccupied_cool_f",
	"occupied_hvac_mode", "occupied_fan_mode", "unoccupied_hvac_mode", "unoccupied_fan_mode",
	"guardrail_min_f", "guardrail_max_f", "manager_offset_max_f",
	"anomaly_overrides", "last_known_state", "last_directive",
}

func TestGetZone_Success(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresZonesRepository(db)

	lastKnown := `{"hvac_mode":"heat_cool","fan_mode":"auto","current_temp_f":71.5,"heat_setpoint_f":68,"cool_setpoint_f":76}`
	overrides := `{"coil_freeze_supply_f":35,"short_cycle_count":5}`

	rows := sqlmock.NewRows(zoneColumnNames).
		AddRow("zone-1", "site-1", "Sales Floor", "equip-1", "climate.sales_floor",
			"profile-1", false,
			68.0, 76.0, 55.0, 85.0,
			"heat_cool", "auto", nil, nil,
			40.0, 95.0, 4.0,
			overrides, lastKnown, "hold 68-76°F")

	mock.ExpectQuery(`SELECT (.+) FROM zones WHERE zone_id`).
		WithArgs("zone-1").
		WillReturnRows(rows)

	zone, err := repo.GetZone(context.Background(), "zone-1")

	require.NoError(t, err)
	require.NotNil(t, zone)
	assert.Equal(t, "Sales Floor", zone.ZoneName)
	require.NotNil(t, zone.ProfileID)
	assert.Equal(t, "profile-1", *zone.ProfileID)
	assert.Equal(t, 40.0, zone.GuardrailMinF)

	require.NotNil(t, zone.LastKnownState)
	assert.Equal(t, "heat_cool", zone.LastKnownState.HVACMode)
	require.NotNil(t, zone.LastKnownState.CurrentTempF)
	assert.Equal(t, 71.5, *zone.LastKnownState.CurrentTempF)

	require.NotNil(t, zone.AnomalyOverrides)
	require.NotNil(t, zone.AnomalyOverrides.CoilFreezeSupplyF)
	assert.Equal(t, 35.0, *zone.AnomalyOverrides.CoilFreezeSupplyF)
	require.NotNil(t, zone.AnomalyOverrides.ShortCycleCount)
	assert.Equal(t, 5, *zone.AnomalyOverrides.ShortCycleCount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetZone_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresZonesRepository(db)

	mock.ExpectQuery(`SELECT (.+) FROM zones WHERE zone_id`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(zoneColumnNames))

	zone, err := repo.GetZone(context.Background(), "missing")

	require.NoError(t, err)
	assert.Nil(t, zone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListZonesBySite_NullJSONColumns(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresZonesRepository(db)

	rows := sqlmock.NewRows(zoneColumnNames).
		AddRow("zone-1", "site-1", "Back Office", "equip-2", "climate.back_office",
			nil, true,
			70.0, 74.0, nil, nil,
			nil, nil, nil, nil,
			45.0, 90.0, 2.0,
			nil, nil, nil)

	mock.ExpectQuery(`SELECT (.+) FROM zones WHERE site_id`).
		WithArgs("site-1").
		WillReturnRows(rows)

	zones, err := repo.ListZonesBySite(context.Background(), "site-1")

	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Nil(t, zones[0].ProfileID)
	assert.True(t, zones[0].IsOverride)
	assert.Nil(t, zones[0].AnomalyOverrides)
	assert.Nil(t, zones[0].LastKnownState)
	assert.Nil(t, zones[0].LastDirective)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSiteIDs(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresZonesRepository(db)

	rows := sqlmock.NewRows([]string{"site_id"}).
		AddRow("site-1").
		AddRow("site-2")

	mock.ExpectQuery(`SELECT DISTINCT site_id FROM zones`).
		WillReturnRows(rows)

	ids, err := repo.ListSiteIDs(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"site-1", "site-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReadback(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresZonesRepository(db)

	state := &domain.ThermostatState{HVACMode: "heat_cool", FanMode: "auto"}
	stateJSON, err := domain.MarshalState(state)
	require.NoError(t, err)

	mock.ExpectExec(`UPDATE zones SET last_known_state`).
		WithArgs(stateJSON, "hold 68-76°F", "zone-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.UpdateReadback(context.Background(), "zone-1", state, "hold 68-76°F")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReadback_NilStateWritesNull(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresZonesRepository(db)

	mock.ExpectExec(`UPDATE zones SET last_known_state`).
		WithArgs(nil, "", "zone-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateReadback(context.Background(), "zone-1", nil, "")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEquipmentByType(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresZonesRepository(db)

	rows := sqlmock.NewRows([]string{"equipment_id", "site_id", "equipment_name", "equipment_type"}).
		AddRow("equip-1", "site-1", "RTU-1", "rtu")

	mock.ExpectQuery(`SELECT (.+) FROM equipment WHERE equipment_type`).
		WithArgs("rtu").
		WillReturnRows(rows)

	units, err := repo.ListEquipmentByType(context.Background(), "rtu")

	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "RTU-1", units[0].EquipmentName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
