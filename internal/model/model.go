package model

import (
	"strings"
	"time"
)

// ValueKind tells how a spreadsheet cell was stored.
type ValueKind int

const (
	KindEmpty ValueKind = iota
	KindText
	// KindNumber is a raw numeric cell: an Excel date serial, a fraction of a
	// day for times, or just a number.
	KindNumber
	KindTime
	KindDuration
)

// Value is a single raw cell as read from the source workbook.
type Value struct {
	Kind     ValueKind
	Text     string // raw cell text; set for every non-empty kind read from a sheet
	Number   float64
	Time     time.Time
	Duration time.Duration
}

// IsEmpty reports whether the cell carries nothing usable.
func (v Value) IsEmpty() bool {
	return v.Kind == KindEmpty
}

// String returns the cell as display text.
func (v Value) String() string {
	switch v.Kind {
	case KindEmpty:
		return ""
	case KindTime:
		if v.Text != "" {
			return v.Text
		}
		return v.Time.Format("2006-01-02 15:04:05")
	case KindDuration:
		if v.Text != "" {
			return v.Text
		}
		return v.Duration.String()
	default:
		return v.Text
	}
}

func TextValue(s string) Value {
	if s == "" {
		return Value{}
	}
	return Value{Kind: KindText, Text: s}
}

func TimeValue(t time.Time) Value {
	return Value{Kind: KindTime, Time: t}
}

func DurationValue(d time.Duration) Value {
	return Value{Kind: KindDuration, Duration: d}
}

// SourceRow maps column name to raw cell value for one row of the source sheet.
type SourceRow map[string]Value

// Get returns the value of column name, or an empty Value if the column is
// absent.
func (r SourceRow) Get(name string) Value {
	if r == nil {
		return Value{}
	}
	return r[name]
}

// Table is one sheet of the source workbook.
type Table struct {
	Sheet   string
	Columns []string
	Rows    []SourceRow
}

// HasColumn reports whether the header row contains name, ignoring
// surrounding whitespace in the header.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if strings.TrimSpace(c) == name {
			return true
		}
	}
	return false
}

// Seminar is one display-ready record of the snapshot. Every field is plain
// text; Date is always an ISO calendar date.
type Seminar struct {
	TitleOriginal string `json:"title_original"`
	Title         string `json:"title"`
	Speaker       string `json:"speaker"`
	Date          string `json:"date"`
	DateFormatted string `json:"date_formatted"`
	Time          string `json:"time"`
	Location      string `json:"location"`
}

// SnapshotColumns is the fixed column order of the persisted snapshot.
var SnapshotColumns = []string{
	"Title_Original",
	"Title",
	"Speaker",
	"Date",
	"Date_Formatted",
	"Time",
	"Location",
}

// Record returns the seminar in SnapshotColumns order.
func (s Seminar) Record() []string {
	return []string{
		s.TitleOriginal,
		s.Title,
		s.Speaker,
		s.Date,
		s.DateFormatted,
		s.Time,
		s.Location,
	}
}

// SeminarFromRecord is the inverse of Record. Short records leave trailing
// fields empty.
func SeminarFromRecord(rec []string) Seminar {
	field := func(i int) string {
		if i < len(rec) {
			return rec[i]
		}
		return ""
	}
	return Seminar{
		TitleOriginal: field(0),
		Title:         field(1),
		Speaker:       field(2),
		Date:          field(3),
		DateFormatted: field(4),
		Time:          field(5),
		Location:      field(6),
	}
}

// Status is the batch-level result class.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusNoMatches  Status = "no-matches"
	StatusInputError Status = "input-error"
)

// Outcome is what a batch run reports back to its trigger.
type Outcome struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// WeekWindow is an inclusive range of calendar dates. Start and End are
// midnight in the display time zone.
type WeekWindow struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether the calendar date of d lies within the window.
func (w WeekWindow) Contains(d time.Time) bool {
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, w.Start.Location())
	return !day.Before(w.Start) && !day.After(w.End)
}

// Days returns the number of calendar days covered.
func (w WeekWindow) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24+0.5) + 1
}
