package pipeline

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Split is a candidate reading of "Left: Right" as speaker and title.
type Split struct {
	Speaker string
	Title   string
}

// SplitRule rejects a candidate split when Reject returns true.
type SplitRule struct {
	Name   string
	Reject func(Split) bool
}

// maxSpeakerLen is the exclusive upper bound, in characters, for a speaker
// taken from a title prefix.
const maxSpeakerLen = 60

// eventKeywords mark generic event-type prefixes ("Workshop: ...") that are
// not names.
var eventKeywords = []string{"course", "lecture", "module", "seminar", "workshop", "session", "tutorial"}

// DefaultSplitRules is the ordered rule chain used by Disambiguate.
var DefaultSplitRules = []SplitRule{
	{Name: "empty-part", Reject: rejectEmptyPart},
	{Name: "too-long", Reject: rejectTooLong},
	{Name: "leading-digit", Reject: rejectLeadingDigit},
	{Name: "event-keyword", Reject: rejectEventKeyword},
	{Name: "url-like", Reject: rejectURLLike},
}

func rejectEmptyPart(s Split) bool {
	return s.Speaker == "" || s.Title == ""
}

func rejectTooLong(s Split) bool {
	return utf8.RuneCountInString(s.Speaker) >= maxSpeakerLen
}

// Course codes such as "FSF3571".
func rejectLeadingDigit(s Split) bool {
	r, _ := utf8.DecodeRuneInString(s.Speaker)
	return unicode.IsDigit(r)
}

func rejectEventKeyword(s Split) bool {
	lower := strings.ToLower(s.Speaker)
	for _, kw := range eventKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func rejectURLLike(s Split) bool {
	return strings.HasPrefix(strings.ToLower(s.Speaker), "http") || strings.Contains(s.Speaker, "/")
}

// Disambiguate splits "Name: Title" into speaker and title when no structured
// speaker exists. It returns the (possibly unchanged) speaker and title and,
// if a split was attempted and refused, the name of the rejecting rule.
func Disambiguate(speaker, title string, rules []SplitRule) (string, string, string) {
	if strings.TrimSpace(speaker) != "" {
		return speaker, title, ""
	}
	left, right, found := strings.Cut(title, ":")
	if !found {
		return speaker, title, ""
	}
	cand := Split{Speaker: strings.TrimSpace(left), Title: strings.TrimSpace(right)}
	for _, rule := range rules {
		if rule.Reject(cand) {
			return speaker, title, rule.Name
		}
	}
	return cand.Speaker, cand.Title, ""
}

// TrimSpeakerPrefix removes a leading "<name>:" from title, where name is the
// part of speaker before its first comma. It is a no-op without a speaker.
func TrimSpeakerPrefix(speaker, title string) string {
	name, _, _ := strings.Cut(speaker, ",")
	name = strings.TrimSpace(name)
	if name == "" {
		return title
	}
	prefix := name + ":"
	if !strings.HasPrefix(title, prefix) {
		return title
	}
	return strings.TrimSpace(title[len(prefix):])
}

var titlePrefixPattern = regexp.MustCompile(`(?i)^(WS|Workshop|Seminar)[,:\s]+`)

// StripTitlePrefix removes a leading "WS,", "Workshop:" or "Seminar " marker.
func StripTitlePrefix(title string) string {
	return titlePrefixPattern.ReplaceAllString(strings.TrimSpace(title), "")
}
