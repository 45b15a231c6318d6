package classify

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var monthsByName = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

var (
	// "2026-01-15"
	isoDatePattern = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	// "Jan 15", "January 15th", "Jan. 15, 2026"
	monthDayPattern = regexp.MustCompile(`\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)
	// "1/15" or "1/15/2026"
	slashDatePattern = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
)

// ExtractDate finds the first explicit calendar date in text and resolves it
// to a UTC date-only value. Yearless dates resolve to the occurrence nearest
// the reference: dates more than 30 days behind roll to next year. Relative
// phrases ("this Friday") are deliberately not resolved; they stay ambiguous
// for the second-stage classifier.
func ExtractDate(text string, ref time.Time) *time.Time {
	lower := strings.ToLower(text)

	if m := isoDatePattern.FindStringSubmatch(lower); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return makeDate(year, time.Month(month), day)
	}

	if m := monthDayPattern.FindStringSubmatch(lower); m != nil {
		month, ok := monthsByName[strings.TrimSuffix(m[1], ".")]
		if ok {
			day, _ := strconv.Atoi(m[2])
			if m[3] != "" {
				year, _ := strconv.Atoi(m[3])
				return makeDate(year, month, day)
			}
			return resolveYearless(month, day, ref)
		}
	}

	if m := slashDatePattern.FindStringSubmatch(lower); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		if month >= 1 && month <= 12 {
			if m[3] != "" {
				year, _ := strconv.Atoi(m[3])
				if year < 100 {
					year += 2000
				}
				return makeDate(year, time.Month(month), day)
			}
			return resolveYearless(time.Month(month), day, ref)
		}
	}

	return nil
}

func resolveYearless(month time.Month, day int, ref time.Time) *time.Time {
	candidate := makeDate(ref.Year(), month, day)
	if candidate == nil {
		return nil
	}
	if candidate.Before(ref.AddDate(0, 0, -30)) {
		return makeDate(ref.Year()+1, month, day)
	}
	return candidate
}

func makeDate(year int, month time.Month, day int) *time.Time {
	if day < 1 || day > 31 || year < 1970 {
		return nil
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// Reject overflow like Feb 30 silently becoming Mar 2.
	if d.Day() != day || d.Month() != month {
		return nil
	}
	return &d
}
