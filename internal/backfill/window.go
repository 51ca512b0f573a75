package backfill

import (
	"fmt"
	"time"

	"step_ingestor/internal/domain"
)

const dateLayout = "2006-01-02"

// DateWindow is an inclusive range of calendar days.
type DateWindow struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of days covered, both ends included.
func (w DateWindow) Days() int {
	return daysBetween(w.Start, w.End) + 1
}

func (w DateWindow) String() string {
	return w.Start.Format(dateLayout) + ".." + w.End.Format(dateLayout)
}

// PlanWindows splits [today-daysBack, today] into non-overlapping windows of at
// most maxWindowDays days, newest first. Only the oldest window may be narrower.
func PlanWindows(today time.Time, daysBack, maxWindowDays int) ([]DateWindow, error) {
	if daysBack < 0 {
		return nil, fmt.Errorf("%w: days back must not be negative, got %d", ErrInvalidArgument, daysBack)
	}
	if maxWindowDays < 1 {
		return nil, fmt.Errorf("%w: max window days must be positive, got %d", ErrInvalidArgument, maxWindowDays)
	}

	today = domain.Day(today)
	lower := today.AddDate(0, 0, -daysBack)

	// A window never needs to be wider than the whole range.
	span := maxWindowDays
	if span > daysBack {
		span = daysBack + 1
	}

	windows := make([]DateWindow, 0, daysBack/span+1)
	for cursor := today; !cursor.Before(lower); {
		start := cursor.AddDate(0, 0, -(span - 1))
		if start.Before(lower) {
			start = lower
		}
		windows = append(windows, DateWindow{Start: start, End: cursor})
		cursor = start.AddDate(0, 0, -1)
	}

	return windows, nil
}

func daysBetween(from, to time.Time) int {
	return int(domain.Day(to).Sub(domain.Day(from)).Hours() / 24)
}
