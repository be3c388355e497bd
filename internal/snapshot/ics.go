package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"smartsign/internal/atomicfile"
	"smartsign/internal/model"
	"smartsign/internal/pipeline"
)

const (
	icsProductID    = "-//smartsign//seminars//EN"
	icsCalendarName = "Seminars"
	// defaultEventLength applies when only a start time is known.
	defaultEventLength = time.Hour
)

// BuildICS renders seminars as an iCalendar feed. stamp becomes DTSTAMP of
// every event so identical input yields identical output. Seminars without a
// parseable start time become all-day events.
func BuildICS(seminars []model.Seminar, loc *time.Location, stamp time.Time) string {
	if loc == nil {
		loc = time.Local
	}
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(icsProductID)
	cal.SetXWRCalName(icsCalendarName)

	for _, s := range seminars {
		date, err := time.ParseInLocation("2006-01-02", s.Date, loc)
		if err != nil {
			continue
		}

		ev := cal.AddEvent(eventUID(s))
		ev.SetDtStampTime(stamp.UTC())
		ev.SetSummary(eventSummary(s))
		if s.Location != "" {
			ev.SetLocation(s.Location)
		}
		if s.TitleOriginal != "" && s.TitleOriginal != s.Title {
			ev.SetDescription(s.TitleOriginal)
		}

		start, end, timed := eventSpan(date, s.Time, loc)
		if timed {
			ev.SetStartAt(start)
			ev.SetEndAt(end)
		} else {
			ev.SetAllDayStartAt(date)
			ev.SetAllDayEndAt(date.AddDate(0, 0, 1))
		}
	}

	return cal.Serialize()
}

// WriteICS atomically replaces the feed at path.
func WriteICS(path string, seminars []model.Seminar, loc *time.Location, stamp time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomicfile.Write(path, []byte(BuildICS(seminars, loc, stamp)), 0o644)
}

func eventSummary(s model.Seminar) string {
	if s.Speaker == "" {
		return s.Title
	}
	return s.Speaker + ": " + s.Title
}

// eventUID is stable across runs for the same seminar.
func eventUID(s model.Seminar) string {
	sum := sha256.Sum256([]byte(s.Date + "\x00" + s.Time + "\x00" + s.TitleOriginal + "\x00" + s.Location))
	return hex.EncodeToString(sum[:8]) + "@smartsign"
}

// eventSpan resolves "HH:MM" or "HH:MM-HH:MM" on date.
func eventSpan(date time.Time, display string, loc *time.Location) (time.Time, time.Time, bool) {
	h, m, ok := pipeline.StartClock(display)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	start := time.Date(date.Year(), date.Month(), date.Day(), h, m, 0, 0, loc)
	end := start.Add(defaultEventLength)

	if _, after, found := strings.Cut(display, "-"); found {
		if eh, em, ok := pipeline.StartClock(after); ok {
			candidate := time.Date(date.Year(), date.Month(), date.Day(), eh, em, 0, 0, loc)
			if candidate.After(start) {
				end = candidate
			}
		}
	}
	return start, end, true
}
