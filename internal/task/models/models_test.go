package models

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to TaskStatus }{
		{StatusPending, StatusInProgress},
		{StatusPending, StatusBlocked},
		{StatusInProgress, StatusReview},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusBlocked},
		{StatusReview, StatusInProgress},
		{StatusReview, StatusCompleted},
		{StatusCompleted, StatusReview},
		{StatusBlocked, StatusPending},
		{StatusBlocked, StatusInProgress},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to TaskStatus }{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusReview},
		{StatusPending, StatusPending},
		{StatusReview, StatusBlocked},
		{StatusReview, StatusPending},
		{StatusCompleted, StatusInProgress},
		{StatusCompleted, StatusPending},
		{StatusBlocked, StatusCompleted},
		{StatusBlocked, StatusReview},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestPatternDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"1m":      time.Minute,
		"5m":      5 * time.Minute,
		"10m":     10 * time.Minute,
		"15m":     15 * time.Minute,
		"30m":     30 * time.Minute,
		"1h":      time.Hour,
		"daily":   24 * time.Hour,
		"weekly":  7 * 24 * time.Hour,
		"monthly": 30 * 24 * time.Hour,
	}
	for pattern, want := range cases {
		if got := PatternDuration(pattern); got != want {
			t.Errorf("PatternDuration(%q) = %v, want %v", pattern, got, want)
		}
	}

	// Unknown patterns fall back to daily.
	if got := PatternDuration("fortnightly"); got != 24*time.Hour {
		t.Errorf("unknown pattern: got %v, want daily", got)
	}
}

func TestNextDue(t *testing.T) {
	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	completed := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	withDue := &Task{DueDate: &due, RecurrencePattern: "daily"}
	if got := withDue.NextDue(completed); !got.Equal(due.Add(24 * time.Hour)) {
		t.Errorf("next due with due date: got %v", got)
	}

	withoutDue := &Task{RecurrencePattern: "weekly"}
	if got := withoutDue.NextDue(completed); !got.Equal(completed.Add(7 * 24 * time.Hour)) {
		t.Errorf("next due without due date: got %v", got)
	}
}

func TestRootID(t *testing.T) {
	root := &Task{ID: 10}
	if root.RootID() != 10 {
		t.Errorf("root task should be its own root")
	}

	rootID := int64(10)
	successor := &Task{ID: 11, RecurringRootID: &rootID}
	if successor.RootID() != 10 {
		t.Errorf("successor should point at the chain root")
	}
}

func TestValidHandle(t *testing.T) {
	valid := []string{"@ada", "@ada-lovelace", "@user_1", "@a"}
	for _, h := range valid {
		if !ValidHandle(h) {
			t.Errorf("expected %q to be valid", h)
		}
	}
	invalid := []string{"ada", "@Ada", "@ada.lovelace", "@", "@ada lovelace", ""}
	for _, h := range invalid {
		if ValidHandle(h) {
			t.Errorf("expected %q to be invalid", h)
		}
	}
}

func TestValidSlug(t *testing.T) {
	if !ValidSlug("roadmap-2025") {
		t.Error("expected slug to be valid")
	}
	for _, s := range []string{"", "Roadmap", "road_map", "road map"} {
		if ValidSlug(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}
