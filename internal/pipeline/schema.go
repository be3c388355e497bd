package pipeline

import (
	"strings"

	"smartsign/internal/model"
)

// SchemaVariant identifies which of the two known export layouts a table uses.
type SchemaVariant int

const (
	// Simple is the hand-maintained layout: Date, Time, Speaker, Location.
	Simple SchemaVariant = iota
	// ExportFormat is the project-planning tool export: Start date, Start
	// time, End time, Room location and an HTML Description.
	ExportFormat
)

func (s SchemaVariant) String() string {
	switch s {
	case ExportFormat:
		return "export"
	default:
		return "simple"
	}
}

// Column names of both layouts.
const (
	colTitle       = "Title"
	colTags        = "Tag(s)"
	colDescription = "Description"

	colDate     = "Date"
	colTime     = "Time"
	colSpeaker  = "Speaker"
	colLocation = "Location"

	colStartDate    = "Start date"
	colStartTime    = "Start time"
	colEndTime      = "End time"
	colRoomLocation = "Room location"
)

// DetectSchema classifies a table by its header row. The export layout is
// recognised by the presence of both "Start date" and "Start time".
func DetectSchema(columns []string) SchemaVariant {
	var hasStartDate, hasStartTime bool
	for _, c := range columns {
		switch strings.TrimSpace(c) {
		case colStartDate:
			hasStartDate = true
		case colStartTime:
			hasStartTime = true
		}
	}
	if hasStartDate && hasStartTime {
		return ExportFormat
	}
	return Simple
}

// Schema is the uniform accessor set over one layout. It is chosen once per
// batch; rows are never re-classified.
type Schema interface {
	Variant() SchemaVariant
	TitleOf(row model.SourceRow) string
	TagsOf(row model.SourceRow) string
	DateOf(row model.SourceRow) model.Value
	// TimeOf returns the display time: a raw passthrough string, "HH:MM" or
	// "HH:MM-HH:MM". Empty when the row has no usable time.
	TimeOf(row model.SourceRow) string
	LocationOf(row model.SourceRow) string
	// SpeakerOf returns the structured speaker, possibly scraped from the
	// description. Empty when none is found.
	SpeakerOf(row model.SourceRow) string
}

// NewSchema returns the adapter for variant. The table header decides
// whether optional columns are available.
func NewSchema(variant SchemaVariant, table *model.Table, ex *SpeakerExtractor) Schema {
	if ex == nil {
		ex = NewSpeakerExtractor("")
	}
	if variant == ExportFormat {
		return exportSchema{extractor: ex}
	}
	return simpleSchema{extractor: ex, hasDescription: table.HasColumn(colDescription)}
}

type simpleSchema struct {
	extractor      *SpeakerExtractor
	hasDescription bool
}

func (simpleSchema) Variant() SchemaVariant { return Simple }

func (simpleSchema) TitleOf(row model.SourceRow) string { return text(row, colTitle) }

func (simpleSchema) TagsOf(row model.SourceRow) string { return text(row, colTags) }

func (simpleSchema) DateOf(row model.SourceRow) model.Value { return row.Get(colDate) }

func (simpleSchema) TimeOf(row model.SourceRow) string { return FormatTime(row.Get(colTime)) }

func (simpleSchema) LocationOf(row model.SourceRow) string { return text(row, colLocation) }

func (s simpleSchema) SpeakerOf(row model.SourceRow) string {
	if sp := text(row, colSpeaker); sp != "" {
		return sp
	}
	if s.hasDescription {
		return s.extractor.Extract(text(row, colDescription))
	}
	return ""
}

type exportSchema struct {
	extractor *SpeakerExtractor
}

func (exportSchema) Variant() SchemaVariant { return ExportFormat }

func (exportSchema) TitleOf(row model.SourceRow) string { return text(row, colTitle) }

func (exportSchema) TagsOf(row model.SourceRow) string { return text(row, colTags) }

func (exportSchema) DateOf(row model.SourceRow) model.Value { return row.Get(colStartDate) }

func (exportSchema) TimeOf(row model.SourceRow) string {
	start := FormatTime(row.Get(colStartTime))
	end := FormatTime(row.Get(colEndTime))
	if start != "" && end != "" {
		return start + "-" + end
	}
	return start
}

func (exportSchema) LocationOf(row model.SourceRow) string { return text(row, colRoomLocation) }

func (s exportSchema) SpeakerOf(row model.SourceRow) string {
	return s.extractor.Extract(text(row, colDescription))
}

// originalTitle is the title cell exactly as the export has it.
func originalTitle(row model.SourceRow) string { return row.Get(colTitle).String() }

// text returns a cell as trimmed display text. Spreadsheet exports spell
// missing values as "nan" surprisingly often; those count as empty.
func text(row model.SourceRow, col string) string {
	s := strings.TrimSpace(row.Get(col).String())
	if strings.EqualFold(s, "nan") {
		return ""
	}
	return s
}
