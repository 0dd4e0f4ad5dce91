// Package command extracts commands embedded in conversation previews.
//
// A command is a preview starting with '#', followed by a keyword and an
// optional '@'-separated argument, e.g. "#REOPEN@2030-01-01".
package command

import (
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
)

// Kind is the closed set of recognized command keywords.
type Kind string

const (
	KindReopen Kind = "REOPEN"
)

const (
	prefix    = '#'
	separator = "@"
)

// Command is a parsed, actionable command.
type Command struct {
	Kind Kind
	Arg  string
	// At is set for KindReopen.
	At time.Time
}

// Split breaks a preview into keyword and raw argument without validating
// either. ok is false when the preview does not start with '#'.
func Split(preview string) (keyword, arg string, ok bool) {
	if preview == "" || preview[0] != prefix {
		return "", "", false
	}
	keyword, arg, _ = strings.Cut(preview[1:], separator)
	return keyword, arg, true
}

// Parse returns the actionable command in preview, if any. Dates without a
// zone are interpreted in loc (UTC when nil). Unknown keywords and
// unparseable arguments yield false.
func Parse(preview string, loc *time.Location) (Command, bool) {
	keyword, arg, ok := Split(preview)
	if !ok {
		return Command{}, false
	}

	switch Kind(keyword) {
	case KindReopen:
		at, ok := ParseDate(arg, loc)
		if !ok {
			return Command{}, false
		}
		return Command{Kind: KindReopen, Arg: arg, At: at}, true
	default:
		return Command{}, false
	}
}

// ParseDate parses a free-form calendar date. Only the first line of raw is
// considered since previews continue with the message body.
func ParseDate(raw string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	if i := strings.IndexAny(raw, "\r\n"); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.ContainsAny(raw, "0123456789") {
		return time.Time{}, false
	}
	// dateparse reads long digit runs as epoch timestamps.
	if len(raw) > 4 && isDigits(raw) {
		return time.Time{}, false
	}
	if !dateWords(raw) {
		return time.Time{}, false
	}

	at, err := dateparse.ParseIn(raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var calendarWords = map[string]bool{
	"jan": true, "january": true, "feb": true, "february": true, "mar": true, "march": true,
	"apr": true, "april": true, "may": true, "jun": true, "june": true, "jul": true, "july": true,
	"aug": true, "august": true, "sep": true, "sept": true, "september": true, "oct": true,
	"october": true, "nov": true, "november": true, "dec": true, "december": true,
	"mon": true, "monday": true, "tue": true, "tues": true, "tuesday": true, "wed": true,
	"wednesday": true, "thu": true, "thur": true, "thurs": true, "thursday": true, "fri": true,
	"friday": true, "sat": true, "saturday": true, "sun": true, "sunday": true,
	"am": true, "pm": true, "utc": true, "gmt": true, "z": true,
}

// dateWords reports whether every alphabetic word in raw belongs to a date.
// dateparse ignores trailing prose such as "2030-01-01 please reopen".
func dateWords(raw string) bool {
	words := strings.FieldsFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if calendarWords[strings.ToLower(w)] {
			continue
		}
		// Zone abbreviations such as EST or CEST.
		if len(w) >= 3 && len(w) <= 5 && strings.ToUpper(w) == w {
			continue
		}
		// ISO 8601 separator and ordinal suffixes (2030-01-01T10:00, 15th).
		switch strings.ToLower(w) {
		case "t", "st", "nd", "rd", "th":
			continue
		}
		return false
	}
	return true
}
