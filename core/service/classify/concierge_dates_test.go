package classify

import (
	"testing"
	"time"
)

func TestExtractDate(t *testing.T) {
	ref := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	date := func(y int, m time.Month, d int) *time.Time {
		v := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return &v
	}

	tests := []struct {
		name string
		text string
		want *time.Time
	}{
		{"iso date", "Forms are due 2026-04-01 sharp", date(2026, time.April, 1)},
		{"month name with year", "Concert on March 14, 2026 at 6pm", date(2026, time.March, 14)},
		{"month name with ordinal", "RSVP by March 14th", date(2026, time.March, 14)},
		{"abbreviated month with period", "Due Apr. 3", date(2026, time.April, 3)},
		{"yearless date ahead of reference", "Picture day is Feb 20", date(2026, time.February, 20)},
		{"yearless date over 30 days behind rolls forward", "Recap from Jan 15", date(2027, time.January, 15)},
		{"slash date without year", "Game on 3/14", date(2026, time.March, 14)},
		{"slash date with two digit year", "Due 3/14/26", date(2026, time.March, 14)},
		{"slash date with four digit year", "Tournament 5/2/2027", date(2027, time.May, 2)},
		{"slash with invalid month skipped", "Ratio was 13/14 this season", nil},
		{"overflow day rejected", "Party on February 30, 2026", nil},
		{"iso wins over month name", "2026-05-01 was the update, see you June 9", date(2026, time.May, 1)},
		{"relative phrases stay unresolved", "See you this Friday!", nil},
		{"no date", "Welcome back everyone", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractDate(tt.text, ref)
			switch {
			case got == nil && tt.want == nil:
			case got == nil || tt.want == nil:
				t.Errorf("ExtractDate(%q) = %v, want %v", tt.text, got, tt.want)
			case !got.Equal(*tt.want):
				t.Errorf("ExtractDate(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractDateReturnsUTCMidnight(t *testing.T) {
	ref := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	got := ExtractDate("due 2026-04-01", ref)
	if got == nil {
		t.Fatal("expected a date")
	}
	if got.Hour() != 0 || got.Minute() != 0 || got.Location() != time.UTC {
		t.Errorf("expected UTC midnight, got %v", got)
	}
}
