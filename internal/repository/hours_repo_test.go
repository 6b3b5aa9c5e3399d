package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStoreHours_Success(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresHoursRepository(db)

	rows := sqlmock.NewRows([]string{"site_id", "weekday", "closed", "open_at", "close_at", "timezone"}).
		AddRow("site-1", 3, false, "08:00", "21:00", "America/Chicago")

	mock.ExpectQuery(`SELECT (.+) FROM store_hours`).
		WithArgs("site-1", 3).
		WillReturnRows(rows)

	hours, err := repo.GetStoreHours(context.Background(), "site-1", 3)

	require.NoError(t, err)
	require.NotNil(t, hours)
	assert.Equal(t, "08:00", hours.OpenAt)
	assert.Equal(t, "21:00", hours.CloseAt)
	assert.Equal(t, "America/Chicago", hours.TZ)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStoreHours_NoSchedule(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresHoursRepository(db)

	mock.ExpectQuery(`SELECT (.+) FROM store_hours`).
		WithArgs("site-1", 6).
		WillReturnRows(sqlmock.NewRows([]string{"site_id"}))

	hours, err := repo.GetStoreHours(context.Background(), "site-1", 6)

	require.NoError(t, err)
	assert.Nil(t, hours)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListExceptionsForDate_SingleDayFirst(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresHoursRepository(db)

	cols := []string{
		"exception_id", "site_id", "rule_type", "exception_date", "start_date", "end_date", "closed",
		"open_at", "close_at",
		"start_open_at", "start_close_at", "middle_open_at", "middle_close_at", "end_open_at", "end_close_at",
	}
	rows := sqlmock.NewRows(cols).
		AddRow("exc-holiday", "site-1", "single_day", "2026-12-25", nil, nil, true,
			nil, nil, nil, nil, nil, nil, nil, nil).
		AddRow("exc-inventory", "site-1", "date_range", nil, "2026-12-20", "2026-12-27", false,
			nil, nil, "10:00", "18:00", "09:00", "19:00", "09:00", "14:00")

	mock.ExpectQuery(`SELECT (.+) FROM hours_exceptions`).
		WithArgs("site-1", "2026-12-25").
		WillReturnRows(rows)

	exceptions, err := repo.ListExceptionsForDate(context.Background(), "site-1", "2026-12-25")

	require.NoError(t, err)
	require.Len(t, exceptions, 2)
	assert.Equal(t, "single_day", exceptions[0].RuleType)
	assert.True(t, exceptions[0].Closed)
	assert.Equal(t, "date_range", exceptions[1].RuleType)
	require.NotNil(t, exceptions[1].MiddleOpenAt)
	assert.Equal(t, "09:00", *exceptions[1].MiddleOpenAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
