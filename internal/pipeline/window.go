package pipeline

import (
	"time"

	"smartsign/internal/model"
)

// WeekWindow computes the inclusive display window for now.
//
// The window starts on the Monday of now's week (in loc). With rollover, a
// Friday, Saturday or Sunday shifts it one week forward so the screen shows
// the coming schedule instead of a mostly past one. days is 5 (Mon–Fri) or 7
// (Mon–Sun); other values are treated as 5.
func WeekWindow(now time.Time, loc *time.Location, days int, rollover bool) model.WeekWindow {
	if loc == nil {
		loc = time.Local
	}
	if days != 5 && days != 7 {
		days = 5
	}

	local := now.In(loc)
	today := civilDate(local, loc)

	// time.Weekday has Sunday = 0; shift so Monday = 0.
	offset := (int(today.Weekday()) + 6) % 7
	start := today.AddDate(0, 0, -offset)

	if rollover && offset >= 4 {
		start = start.AddDate(0, 0, 7)
	}

	return model.WeekWindow{
		Start: start,
		End:   start.AddDate(0, 0, days-1),
	}
}
