// Package pipeline turns a seminar export table into the display snapshot.
//
// Per batch: detect the layout once, then run every row through
// tag filter → date/time normalization → window and past-event filter →
// speaker extraction → speaker/title disambiguation → projection.
// Row problems never abort the batch; they drop or degrade the row.
package pipeline

import (
	"fmt"
	"sort"
	"time"

	appLog "smartsign/internal/log"
	"smartsign/internal/model"
)

// Options configures one batch.
type Options struct {
	// Location is the display time zone. nil means time.Local.
	Location *time.Location
	// WeekDays is 5 (Mon–Fri) or 7 (Mon–Sun).
	WeekDays int
	// Rollover shows next week from Friday onwards.
	Rollover bool

	TagMarker     string
	SpeakerMarker string

	StripTitlePrefixes bool

	// Locale for Date_Formatted: "sv" or "en".
	Locale string

	// Rules overrides DefaultSplitRules when non-nil.
	Rules []SplitRule
}

func (o Options) normalized() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.WeekDays != 5 && o.WeekDays != 7 {
		o.WeekDays = 5
	}
	if o.TagMarker == "" {
		o.TagMarker = "website"
	}
	if o.Locale == "" {
		o.Locale = LocaleSwedish
	}
	if o.Rules == nil {
		o.Rules = DefaultSplitRules
	}
	return o
}

// Stats counts what happened to the rows of a batch.
type Stats struct {
	Rows          int
	Kept          int
	DroppedTag    int
	DroppedDate   int
	DroppedWindow int
	DroppedPast   int
	Split         int
}

// Result is the outcome of Process. Seminars is nil unless the outcome is
// StatusSuccess.
type Result struct {
	Outcome  model.Outcome
	Seminars []model.Seminar
	Schema   SchemaVariant
	Window   model.WeekWindow
	Stats    Stats
}

// Process runs the whole transformation on table relative to now. It has no
// side effects and is deterministic in (table, now, opts).
func Process(table *model.Table, now time.Time, opts Options) Result {
	opts = opts.normalized()

	if table == nil || len(table.Rows) == 0 {
		return Result{Outcome: model.Outcome{
			Status:  model.StatusInputError,
			Message: "source table is empty",
		}}
	}

	variant := DetectSchema(table.Columns)
	schema := NewSchema(variant, table, NewSpeakerExtractor(opts.SpeakerMarker))
	window := WeekWindow(now, opts.Location, opts.WeekDays, opts.Rollover)
	filter := TemporalFilter{Now: now, Window: window, Location: opts.Location}

	res := Result{Schema: variant, Window: window}
	res.Stats.Rows = len(table.Rows)

	rows := make([]enriched, 0)
	for i, row := range table.Rows {
		if !HasTag(schema.TagsOf(row), opts.TagMarker) {
			res.Stats.DroppedTag++
			continue
		}

		date, dateOK := ParseDate(schema.DateOf(row), opts.Location)
		displayTime := schema.TimeOf(row)

		switch reason := filter.Check(date, dateOK, displayTime); reason {
		case ReasonNone:
		case ReasonBadDate:
			res.Stats.DroppedDate++
			appLog.Debug("row dropped", "row", i+2, "reason", reason, "value", schema.DateOf(row).String())
			continue
		case ReasonOutOfWindow:
			res.Stats.DroppedWindow++
			continue
		default:
			res.Stats.DroppedPast++
			continue
		}

		titleOriginal := originalTitle(row)
		title := schema.TitleOf(row)
		if opts.StripTitlePrefixes {
			title = StripTitlePrefix(title)
		}

		structured := schema.SpeakerOf(row)
		speaker, title, rejected := Disambiguate(structured, title, opts.Rules)
		if structured == "" && speaker != "" {
			res.Stats.Split++
		}
		if rejected != "" {
			appLog.Debug("title split refused", "row", i+2, "rule", rejected)
		}
		if speaker != "" {
			title = TrimSpeakerPrefix(speaker, title)
		}

		rows = append(rows, enriched{
			titleOriginal: titleOriginal,
			title:         title,
			speaker:       speaker,
			date:          date,
			time:          displayTime,
			location:      schema.LocationOf(row),
		})
	}

	sort.SliceStable(rows, func(a, b int) bool {
		return lessByStart(rows[a], rows[b])
	})

	seminars := make([]model.Seminar, 0, len(rows))
	for _, e := range rows {
		seminars = append(seminars, project(e, opts.Locale))
	}
	res.Stats.Kept = len(seminars)

	appLog.Info("pipeline batch processed",
		"schema", variant.String(),
		"window_start", window.Start.Format("2006-01-02"),
		"window_end", window.End.Format("2006-01-02"),
		"window_days", window.Days(),
		"rows", res.Stats.Rows,
		"kept", res.Stats.Kept,
		"dropped_tag", res.Stats.DroppedTag,
		"dropped_date", res.Stats.DroppedDate,
		"dropped_window", res.Stats.DroppedWindow,
		"dropped_past", res.Stats.DroppedPast,
	)

	if len(seminars) == 0 {
		res.Outcome = model.Outcome{
			Status: model.StatusNoMatches,
			Message: fmt.Sprintf("no seminars tagged with %q between %s and %s",
				opts.TagMarker, window.Start.Format("2006-01-02"), window.End.Format("2006-01-02")),
		}
		return res
	}

	res.Seminars = seminars
	res.Outcome = model.Outcome{
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("processed %d seminars", len(seminars)),
		Count:   len(seminars),
	}
	return res
}

// lessByStart orders by date, then by start clock. Times that do not parse
// as a clock sort after parsed ones and among themselves by text.
func lessByStart(a, b enriched) bool {
	if !a.date.Equal(b.date) {
		return a.date.Before(b.date)
	}
	ah, am, aok := StartClock(a.time)
	bh, bm, bok := StartClock(b.time)
	switch {
	case aok && bok:
		return ah*60+am < bh*60+bm
	case aok != bok:
		return aok
	default:
		return a.time < b.time
	}
}
