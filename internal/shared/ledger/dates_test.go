package ledger

import (
	"testing"
	"time"
)

func TestParseDateLegacyFormat(t *testing.T) {
	got := ParseDate("/Date(1672531200000)/")
	if got == nil {
		t.Fatal("Expected parsed time, got nil")
	}
	want := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestParseDateLegacyWithZone(t *testing.T) {
	// Zone suffix shifts presentation only, the instant stays the same
	got := ParseDate("/Date(1672531200000+1300)/")
	if got == nil {
		t.Fatal("Expected parsed time, got nil")
	}
	want := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected instant %v, got %v", want, got)
	}
	_, offset := got.Zone()
	if offset != 13*3600 {
		t.Errorf("Expected +1300 zone offset, got %d seconds", offset)
	}
}

func TestParseDateLegacyNegativeZone(t *testing.T) {
	got := ParseDate("/Date(1672531200000-0500)/")
	if got == nil {
		t.Fatal("Expected parsed time, got nil")
	}
	_, offset := got.Zone()
	if offset != -5*3600 {
		t.Errorf("Expected -0500 zone offset, got %d seconds", offset)
	}
}

func TestParseDateLegacyPreEpoch(t *testing.T) {
	got := ParseDate("/Date(-86400000)/")
	if got == nil {
		t.Fatal("Expected parsed time, got nil")
	}
	want := time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestParseDateRFC3339(t *testing.T) {
	got := ParseDate("2024-06-15T10:30:00Z")
	if got == nil {
		t.Fatal("Expected parsed time, got nil")
	}
	want := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestParseDateBareDateTime(t *testing.T) {
	got := ParseDate("2024-06-15T10:30:00")
	if got == nil {
		t.Fatal("Expected parsed time, got nil")
	}
	want := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestParseDateDateOnly(t *testing.T) {
	got := ParseDate("2024-06-15")
	if got == nil {
		t.Fatal("Expected parsed time, got nil")
	}
	if got.Year() != 2024 || got.Month() != 6 || got.Day() != 15 {
		t.Errorf("Expected 2024-06-15, got %v", got)
	}
}

func TestParseDateInvalid(t *testing.T) {
	for _, raw := range []string{"", "  ", "not-a-date", "/Date()/", "/Date(abc)/", "15/06/2024"} {
		if got := ParseDate(raw); got != nil {
			t.Errorf("Expected nil for %q, got %v", raw, got)
		}
	}
}
