package domain

import "time"

// Phase is the occupancy phase a zone is in, derived from store hours.
type Phase string

const (
	PhaseOccupied   Phase = "occupied"
	PhaseUnoccupied Phase = "unoccupied"
)

// StoreHours is the base weekly schedule for a site. Open and Close are
// local wall-clock times in "HH:MM" form.
type StoreHours struct {
	SiteID  string `db:"site_id"`
	Weekday int    `db:"weekday"` // 0 = Sunday, matching time.Weekday
	Closed  bool   `db:"closed"`
	OpenAt  string `db:"open_at"`
	CloseAt string `db:"close_at"`
	TZ      string `db:"timezone"` // IANA name, e.g. "America/Chicago"
}

// Exception rule types.
const (
	ExceptionSingleDay = "single_day"
	ExceptionDateRange = "date_range"
)

// HoursException overrides base store hours for specific dates.
//
// A single_day exception replaces one date's hours (or closes it). A
// date_range exception carries distinct start-day, middle-day, and end-day
// hours, e.g. an inventory week that opens late on the first day and closes
// early on the last.
type HoursException struct {
	ExceptionID string `db:"exception_id"`
	SiteID      string `db:"site_id"`
	RuleType    string `db:"rule_type"`

	// single_day
	Date *string `db:"exception_date"` // "YYYY-MM-DD"

	// date_range
	StartDate *string `db:"start_date"`
	EndDate   *string `db:"end_date"`

	Closed bool `db:"closed"`

	OpenAt  *string `db:"open_at"`
	CloseAt *string `db:"close_at"`

	StartOpenAt   *string `db:"start_open_at"`
	StartCloseAt  *string `db:"start_close_at"`
	MiddleOpenAt  *string `db:"middle_open_at"`
	MiddleCloseAt *string `db:"middle_close_at"`
	EndOpenAt     *string `db:"end_open_at"`
	EndCloseAt    *string `db:"end_close_at"`
}

// Covers reports whether the exception applies to the given local date.
func (e *HoursException) Covers(date string) bool {
	switch e.RuleType {
	case ExceptionSingleDay:
		return e.Date != nil && *e.Date == date
	case ExceptionDateRange:
		if e.StartDate == nil || e.EndDate == nil {
			return false
		}
		return date >= *e.StartDate && date <= *e.EndDate
	}
	return false
}

// LocalDate formats t as the "YYYY-MM-DD" key used by exception matching.
func LocalDate(t time.Time) string {
	return t.Format("2006-01-02")
}
