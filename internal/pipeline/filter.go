package pipeline

import (
	"strings"
	"time"

	"smartsign/internal/model"
)

// HasTag reports whether the tag field carries marker, case-insensitively and
// anywhere in the (possibly delimited) string.
func HasTag(tags, marker string) bool {
	if tags == "" || marker == "" {
		return false
	}
	return strings.Contains(strings.ToLower(tags), strings.ToLower(marker))
}

// Drop reasons reported by TemporalFilter.
const (
	ReasonNone        = ""
	ReasonBadDate     = "unparseable-date"
	ReasonOutOfWindow = "outside-window"
	ReasonPast        = "already-started"
)

// TemporalFilter drops rows outside the display window or already past.
type TemporalFilter struct {
	Now      time.Time
	Window   model.WeekWindow
	Location *time.Location
}

// Check returns ReasonNone when the row should be kept. date/dateOK come from
// ParseDate and displayTime from the schema's TimeOf.
//
// A time that does not parse as HH:MM never drops the row: a malformed time
// field must not hide an upcoming event.
func (f TemporalFilter) Check(date time.Time, dateOK bool, displayTime string) string {
	if !dateOK {
		return ReasonBadDate
	}
	if !f.Window.Contains(date) {
		return ReasonOutOfWindow
	}
	hour, minute, ok := StartClock(displayTime)
	if !ok {
		return ReasonNone
	}
	loc := f.Location
	if loc == nil {
		loc = date.Location()
	}
	start := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc)
	if start.Before(f.Now) {
		return ReasonPast
	}
	return ReasonNone
}
