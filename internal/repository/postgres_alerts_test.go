package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storeops-hvac/internal/domain"
)

var definitionColumnNames = []string{
	"definition_id", "org_id", "name", "enabled", "severity",
	"target_kind", "entity_id", "equipment_type", "sensor_role", "metric",
	"condition", "threshold_value", "target_value", "target_value_type",
	"stale_minutes", "delta_value", "delta_direction", "window_minutes",
	"sustain_minutes", "eval_path", "scope",
}

func TestGetDefinition_ScopeDefaultsToAll(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresAlertsRepository(db)

	rows := sqlmock.NewRows(definitionColumnNames).
		AddRow("def-1", "org-1", "Supply temp low", true, "critical",
			"entity", "sensor.supply_temp", nil, nil, nil,
			"below_threshold", 35.0, nil, nil,
			nil, nil, nil, nil,
			10.0, "auto", nil)

	mock.ExpectQuery(`SELECT (.+) FROM alert_definitions WHERE definition_id`).
		WithArgs("def-1").
		WillReturnRows(rows)

	def, err := repo.GetDefinition(context.Background(), "def-1")

	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "Supply temp low", def.Name)
	assert.Equal(t, domain.ConditionBelowThreshold, def.Condition)
	require.NotNil(t, def.ThresholdValue)
	assert.Equal(t, 35.0, *def.ThresholdValue)
	assert.Equal(t, "all", def.Scope.Mode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEnabledDefinitions_ScopeUnmarshal(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresAlertsRepository(db)

	rows := sqlmock.NewRows(definitionColumnNames).
		AddRow("def-2", "org-1", "Zone overheating", true, "warning",
			"zone_metric", nil, nil, nil, "zone_temp_f",
			"above_threshold", 82.0, nil, nil,
			nil, nil, nil, nil,
			15.0, "cron", `{"mode":"sites","site_ids":["site-1","site-2"]}`)

	mock.ExpectQuery(`SELECT (.+) FROM alert_definitions WHERE enabled`).
		WillReturnRows(rows)

	defs, err := repo.ListEnabledDefinitions(context.Background())

	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "sites", defs[0].Scope.Mode)
	assert.Equal(t, []string{"site-1", "site-2"}, defs[0].Scope.SiteIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEvalState_WindowUnmarshal(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresAlertsRepository(db)

	since := time.Date(2026, 3, 4, 11, 40, 0, 0, time.UTC)
	windowJSON := `[{"t":"2026-03-04T11:40:00Z","v":70},{"t":"2026-03-04T11:50:00Z","v":74}]`

	rows := sqlmock.NewRows([]string{
		"definition_id", "target_id", "last_value", "last_numeric", "last_updated_at",
		"condition_met", "condition_since", "fired", "roc_window",
	}).AddRow("def-1", "zone-1:zone_temp_f", "74", 74.0, since,
		true, since, false, windowJSON)

	// The rolling-window column must stay clear of the reserved WINDOW
	// keyword, so the query is pinned to the roc_window identifier.
	mock.ExpectQuery(`fired, roc_window\s+FROM alert_eval_states`).
		WithArgs("def-1", "zone-1:zone_temp_f").
		WillReturnRows(rows)

	state, err := repo.GetEvalState(context.Background(), "def-1", "zone-1:zone_temp_f")

	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.ConditionMet)
	assert.False(t, state.Fired)
	require.Len(t, state.Window, 2)
	assert.Equal(t, 70.0, state.Window[0].V)
	assert.Equal(t, 74.0, state.Window[1].V)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEvalState_WindowColumn(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresAlertsRepository(db)

	since := time.Date(2026, 3, 4, 11, 40, 0, 0, time.UTC)
	state := &domain.AlertEvalState{
		DefinitionID:   "def-1",
		TargetID:       "zone-1:zone_temp_f",
		ConditionMet:   true,
		ConditionSince: &since,
		Window: []domain.WindowPoint{
			{T: since, V: 70},
			{T: since.Add(10 * time.Minute), V: 74},
		},
	}

	mock.ExpectExec(`fired, roc_window, updated_at`).
		WithArgs("def-1", "zone-1:zone_temp_f", nil, nil, nil,
			true, since, false,
			`[{"t":"2026-03-04T11:40:00Z","v":70},{"t":"2026-03-04T11:50:00Z","v":74}]`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertEvalState(context.Background(), state)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEvalState_NeverEvaluated(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresAlertsRepository(db)

	mock.ExpectQuery(`SELECT (.+) FROM alert_eval_states`).
		WithArgs("def-1", "zone-9:zone_temp_f").
		WillReturnRows(sqlmock.NewRows([]string{"definition_id"}))

	state, err := repo.GetEvalState(context.Background(), "def-1", "zone-9:zone_temp_f")

	require.NoError(t, err)
	assert.Nil(t, state)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInstance_Success(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresAlertsRepository(db)

	fired := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	instance := &domain.AlertInstance{
		DefinitionID:    "def-1",
		TargetID:        "sensor.supply_temp",
		TargetLabel:     "Supply Temp",
		FirstDetectedAt: fired.Add(-10 * time.Minute),
		FiredAt:         fired,
	}

	mock.ExpectExec(`INSERT INTO alert_instances`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.CreateInstance(context.Background(), instance)

	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, instance.InstanceID, "id assigned on insert")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInstance_DuplicateActiveIsBenign(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresAlertsRepository(db)

	mock.ExpectExec(`INSERT INTO alert_instances`).
		WillReturnError(&pq.Error{Code: "23505"})

	created, err := repo.CreateInstance(context.Background(), &domain.AlertInstance{
		DefinitionID: "def-1",
		TargetID:     "sensor.supply_temp",
	})

	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepeatStats(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresAlertsRepository(db)

	last := time.Date(2026, 3, 4, 12, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"count", "max"}).AddRow(2, last)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FILTER`).
		WithArgs("inst-1", "sub-1").
		WillReturnRows(rows)

	count, lastAt, err := repo.RepeatStats(context.Background(), "inst-1", "sub-1")

	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.NotNil(t, lastAt)
	assert.Equal(t, last, *lastAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepeatStats_NoNotificationsYet(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresAlertsRepository(db)

	rows := sqlmock.NewRows([]string{"count", "max"}).AddRow(0, nil)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FILTER`).
		WithArgs("inst-1", "sub-1").
		WillReturnRows(rows)

	count, lastAt, err := repo.RepeatStats(context.Background(), "inst-1", "sub-1")

	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Nil(t, lastAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
