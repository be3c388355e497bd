package pipeline

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/goodsign/monday"

	"smartsign/internal/model"
)

// Locale codes accepted by the projector.
const (
	LocaleSwedish = "sv"
	LocaleEnglish = "en"
)

func mondayLocale(code string) monday.Locale {
	if code == LocaleEnglish {
		return monday.LocaleEnUS
	}
	return monday.LocaleSvSE
}

// FormatDisplayDate renders d as "<weekday> <dd> <mon>", e.g. "Måndag 01 sep":
// first letter upper-case, the rest lower-case.
func FormatDisplayDate(d time.Time, locale string) string {
	s := monday.Format(d, "Monday 02 Jan", mondayLocale(locale))
	return capitalize(s)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// enriched carries the derived values of one surviving row.
type enriched struct {
	titleOriginal string
	title         string
	speaker       string
	date          time.Time
	time          string
	location      string
}

// project builds the canonical record. The output shape is identical for
// both layouts.
func project(e enriched, locale string) model.Seminar {
	return model.Seminar{
		TitleOriginal: e.titleOriginal,
		Title:         e.title,
		Speaker:       e.speaker,
		Date:          e.date.Format("2006-01-02"),
		DateFormatted: FormatDisplayDate(e.date, locale),
		Time:          e.time,
		Location:      e.location,
	}
}
