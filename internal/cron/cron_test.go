package cron

import (
	"testing"
	"time"
)

func TestNextDailyNineUTC(t *testing.T) {
	// Before 09:00 the next fire is today; at or after 09:00 it is tomorrow.
	before := time.Date(2026, 3, 10, 8, 59, 0, 0, time.UTC)
	next, err := Next("0 9 * * *", before)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	next, err = Next("0 9 * * *", at)
	if err != nil {
		t.Fatal(err)
	}
	want = time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v (strictly after)", next, want)
	}
}

func TestParseRejectsNonFiveField(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "* * * * * *", "@daily", "61 * * * *"} {
		if _, err := Parse(expr); err == nil {
			t.Errorf("Parse(%q) accepted", expr)
		}
	}
	if _, err := Parse("*/5 * * * *"); err != nil {
		t.Errorf("Parse(*/5 * * * *) = %v", err)
	}
}
