package pipeline

import (
	"strings"

	"golang.org/x/net/html"
)

const (
	lineBreakPrefix = "<br"
	// maxSpeakerRunes bounds the scrape when no closing line break follows.
	maxSpeakerRunes = 200
)

// SpeakerExtractor scrapes a speaker line out of an HTML description of the
// form "<b>Speaker</b><br/>Jane Doe, MIT<br/>Abstract...".
//
// It is a bounded string scan, not an HTML parser. Line breaks are matched by
// the "<br" prefix so "<br>", "<br/>" and "<br />" all work.
type SpeakerExtractor struct {
	marker string
}

// NewSpeakerExtractor returns an extractor keyed on marker; empty means the
// default "<b>Speaker</b>".
func NewSpeakerExtractor(marker string) *SpeakerExtractor {
	if marker == "" {
		marker = "<b>Speaker</b>"
	}
	return &SpeakerExtractor{marker: marker}
}

// Extract returns the speaker text or "" when the marker is absent or the
// line is empty after cleanup.
func (e *SpeakerExtractor) Extract(description string) string {
	if description == "" {
		return ""
	}
	clean := html.UnescapeString(description)

	idx := strings.Index(clean, e.marker)
	if idx < 0 {
		return ""
	}
	start := idx + len(e.marker)

	// Skip the line break right after the label, if only separators sit
	// between them.
	if br := strings.Index(clean[start:], lineBreakPrefix); br >= 0 {
		if blankLabel(stripTags(clean[start : start+br])) {
			if gt := strings.IndexByte(clean[start+br:], '>'); gt >= 0 {
				start = start + br + gt + 1
			}
		}
	}

	rest := clean[start:]
	var span string
	if end := strings.Index(rest, lineBreakPrefix); end >= 0 {
		span = rest[:end]
	} else {
		span = truncateRunes(rest, maxSpeakerRunes)
	}

	speaker := stripTags(span)
	if i := strings.IndexByte(speaker, '\n'); i >= 0 {
		speaker = speaker[:i]
	}
	if blankLabel(speaker) {
		return ""
	}
	return strings.Join(strings.Fields(strings.TrimLeft(speaker, " \t:;-")), " ")
}

// blankLabel reports whether s holds nothing but separators such as the
// colon in "Speaker:".
func blankLabel(s string) bool {
	return strings.Trim(s, " \t\r\n:;-") == ""
}

// stripTags drops all markup from s and returns the concatenated text.
func stripTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; either way keep what was read.
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
