package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/xuri/excelize/v2"

	"smartsign/internal/model"
)

// Explicit text layouts, tried in order before generic parsing. The first
// layout that parses wins; no cross-check between layouts.
var dateLayouts = []string{
	"2006-1-2", // YYYY-MM-DD
	"2/1/2006", // DD/MM/YYYY
	"2-1-2006", // DD-MM-YYYY
	"2006/1/2", // YYYY/MM/DD
}

// Excel serial range covering 1900-01-01 .. 9999-12-31.
const (
	minExcelSerial = 1
	maxExcelSerial = 2958465
)

// ParseDate turns a raw cell into a calendar date at midnight in loc.
// ok is false when the value is empty or cannot be read as a date.
func ParseDate(v model.Value, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	switch v.Kind {
	case model.KindEmpty:
		return time.Time{}, false
	case model.KindTime:
		if v.Time.IsZero() {
			return time.Time{}, false
		}
		return civilDate(v.Time, loc), true
	case model.KindNumber:
		if v.Number >= minExcelSerial && v.Number <= maxExcelSerial {
			t, err := excelize.ExcelDateToTime(v.Number, false)
			if err == nil {
				return civilDate(t, loc), true
			}
		}
		return parseDateText(v.Text, loc)
	case model.KindDuration:
		return time.Time{}, false
	default:
		return parseDateText(v.Text, loc)
	}
}

func parseDateText(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return civilDate(t, loc), true
		}
	}
	t, err := dateparse.ParseIn(s, loc)
	if err != nil {
		return time.Time{}, false
	}
	return civilDate(t, loc), true
}

// civilDate keeps the wall-clock calendar date of t and pins it to midnight
// in loc.
func civilDate(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// FormatTime renders a raw time cell for display.
//
//   - text passes through unchanged (trimmed); "nan" counts as empty
//   - durations and day fractions become zero-padded HH:MM, truncating
//     sub-minute precision
//   - timestamps yield their wall-clock HH:MM
func FormatTime(v model.Value) string {
	switch v.Kind {
	case model.KindEmpty:
		return ""
	case model.KindDuration:
		return formatSeconds(int64(v.Duration / time.Second))
	case model.KindNumber:
		return formatDayFraction(v.Number)
	case model.KindTime:
		if v.Time.IsZero() {
			return ""
		}
		return v.Time.Format("15:04")
	default:
		s := strings.TrimSpace(v.Text)
		if strings.EqualFold(s, "nan") {
			return ""
		}
		return s
	}
}

// formatDayFraction converts a spreadsheet time (fraction of a day, possibly
// carrying a date serial in its integer part) into HH:MM. Seconds are first
// rounded to the millisecond to undo binary storage error (17:00 is stored
// as 0.70833333...), then truncated like a duration.
func formatDayFraction(n float64) string {
	if n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return ""
	}
	frac := n - math.Floor(n)
	ms := math.Round(frac * 86400 * 1000)
	return formatSeconds(int64(ms) / 1000)
}

func formatSeconds(total int64) string {
	if total < 0 {
		return ""
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	return fmt.Sprintf("%02d:%02d", hours, minutes)
}

// StartClock extracts the start instant from a display time. Ranges use the
// part before the first '-'. ok is false for anything that is not a 24h
// H:MM / HH:MM clock time.
func StartClock(s string) (hour, minute int, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, false
	}
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	h, m, found := strings.Cut(s, ":")
	if !found || len(h) == 0 || len(h) > 2 || len(m) != 2 {
		return 0, 0, false
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, false
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}
