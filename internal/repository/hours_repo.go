package repository

import (
	"context"
	"database/sql"
	"fmt"

	"storeops-hvac/internal/domain"
)

// HoursRepository reads store hours and date-specific exception rules.
type HoursRepository interface {
	GetStoreHours(ctx context.Context, siteID string, weekday int) (*domain.StoreHours, error)
	// ListExceptionsForDate returns exception rules covering the given
	// local date ("YYYY-MM-DD"), most specific first.
	ListExceptionsForDate(ctx context.Context, siteID, date string) ([]*domain.HoursException, error)
}

// PostgresHoursRepository implements HoursRepository over the store_hours
// and hours_exceptions tables.
type PostgresHoursRepository struct {
	db *sql.DB
}

// NewPostgresHoursRepository creates the hours repository.
func NewPostgresHoursRepository(db *sql.DB) *PostgresHoursRepository {
	return &PostgresHoursRepository{db: db}
}

var _ HoursRepository = (*PostgresHoursRepository)(nil)

// GetStoreHours fetches the base hours row for one weekday. Returns
// (nil, nil) when the site has no schedule for that day.
func (r *PostgresHoursRepository) GetStoreHours(ctx context.Context, siteID string, weekday int) (*domain.StoreHours, error) {
	var h domain.StoreHours
	err := r.db.QueryRowContext(ctx,
		`SELECT site_id, weekday, closed, open_at, close_at, timezone
		FROM store_hours WHERE site_id = $1 AND weekday = $2`,
		siteID, weekday,
	).Scan(&h.SiteID, &h.Weekday, &h.Closed, &h.OpenAt, &h.CloseAt, &h.TZ)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get store hours: %w", err)
	}
	return &h, nil
}

// ListExceptionsForDate returns exceptions covering a local date.
// single_day rules sort before date_range rules so the most specific rule
// wins at position zero.
func (r *PostgresHoursRepository) ListExceptionsForDate(ctx context.Context, siteID, date string) ([]*domain.HoursException, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT exception_id, site_id, rule_type, exception_date, start_date, end_date, closed,
			open_at, close_at,
			start_open_at, start_close_at, middle_open_at, middle_close_at, end_open_at, end_close_at
		FROM hours_exceptions
		WHERE site_id = $1
		  AND ((rule_type = 'single_day' AND exception_date = $2)
		    OR (rule_type = 'date_range' AND start_date <= $2 AND end_date >= $2))
		ORDER BY CASE rule_type WHEN 'single_day' THEN 0 ELSE 1 END, exception_id`,
		siteID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list hours exceptions: %w", err)
	}
	defer rows.Close()

	var exceptions []*domain.HoursException
	for rows.Next() {
		var e domain.HoursException
		if err := rows.Scan(
			&e.ExceptionID, &e.SiteID, &e.RuleType, &e.Date, &e.StartDate, &e.EndDate, &e.Closed,
			&e.OpenAt, &e.CloseAt,
			&e.StartOpenAt, &e.StartCloseAt, &e.MiddleOpenAt, &e.MiddleCloseAt, &e.EndOpenAt, &e.EndCloseAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan hours exception: %w", err)
		}
		exceptions = append(exceptions, &e)
	}
	return exceptions, rows.Err()
}
