package pusher

import (
	"fmt"
	"time"

	"storeops-hvac/internal/domain"
)

// PhaseWindow is the resolved occupancy schedule for one local day. Open
// and Close are zero when the site is closed all day.
type PhaseWindow struct {
	Phase     domain.Phase
	Closed    bool
	Open      time.Time
	Close     time.Time
	Exception bool
}

// ResolvePhase determines the current phase from the site's base weekly
// hours plus any exception covering the local date. A single-day exception
// wins over a date-range exception covering the same date. Date-range
// exceptions carry distinct hours for the first day, the last day, and the
// days in between.
func ResolvePhase(hours *domain.StoreHours, exceptions []*domain.HoursException, now time.Time, loc *time.Location) (PhaseWindow, error) {
	local := now.In(loc)
	today := domain.LocalDate(local)

	openStr, closeStr, isException := baseSegment(hours)
	for _, ex := range exceptions {
		if !ex.Covers(today) {
			continue
		}
		openStr, closeStr = exceptionSegment(ex, today, openStr, closeStr)
		isException = true
		break
	}

	if openStr == nil || closeStr == nil {
		return PhaseWindow{Phase: domain.PhaseUnoccupied, Closed: true, Exception: isException}, nil
	}

	openAt, err := atLocalTime(local, *openStr, loc)
	if err != nil {
		return PhaseWindow{}, fmt.Errorf("failed to parse open time: %w", err)
	}
	closeAt, err := atLocalTime(local, *closeStr, loc)
	if err != nil {
		return PhaseWindow{}, fmt.Errorf("failed to parse close time: %w", err)
	}

	phase := domain.PhaseUnoccupied
	if !local.Before(openAt) && local.Before(closeAt) {
		phase = domain.PhaseOccupied
	}
	return PhaseWindow{Phase: phase, Open: openAt, Close: closeAt, Exception: isException}, nil
}

func baseSegment(hours *domain.StoreHours) (*string, *string, bool) {
	if hours == nil || hours.Closed || hours.OpenAt == "" || hours.CloseAt == "" {
		return nil, nil, false
	}
	return &hours.OpenAt, &hours.CloseAt, false
}

// exceptionSegment picks the hours segment an exception prescribes for the
// given date. Segments left unset on the exception fall through to the
// base weekly hours.
func exceptionSegment(ex *domain.HoursException, date string, baseOpen, baseClose *string) (*string, *string) {
	switch ex.RuleType {
	case domain.ExceptionSingleDay:
		if ex.Closed {
			return nil, nil
		}
		return coalesce(ex.OpenAt, baseOpen), coalesce(ex.CloseAt, baseClose)
	case domain.ExceptionDateRange:
		if ex.Closed {
			return nil, nil
		}
		var openAt, closeAt *string
		switch {
		case ex.StartDate != nil && date == *ex.StartDate:
			openAt, closeAt = ex.StartOpenAt, ex.StartCloseAt
		case ex.EndDate != nil && date == *ex.EndDate:
			openAt, closeAt = ex.EndOpenAt, ex.EndCloseAt
		default:
			openAt, closeAt = ex.MiddleOpenAt, ex.MiddleCloseAt
		}
		if openAt == nil && closeAt == nil {
			openAt, closeAt = ex.OpenAt, ex.CloseAt
		}
		return coalesce(openAt, baseOpen), coalesce(closeAt, baseClose)
	}
	return baseOpen, baseClose
}

func coalesce(a, b *string) *string {
	if a != nil {
		return a
	}
	return b
}

func atLocalTime(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}
