package admission

import (
	"testing"
	"time"
)

func TestDischargeTime(t *testing.T) {
	now := time.Date(2026, 5, 4, 13, 45, 10, 0, time.UTC)
	tests := []struct {
		date, clock string
		want        time.Time
	}{
		{"", "", now},
		{"2026-05-01", "", time.Date(2026, 5, 1, 13, 45, 10, 0, time.UTC)},
		{"", "08:15", time.Date(2026, 5, 4, 8, 15, 0, 0, time.UTC)},
		{"2026-05-02", "23:59", time.Date(2026, 5, 2, 23, 59, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := dischargeTime(tt.date, tt.clock, now)
		if err != nil {
			t.Fatalf("dischargeTime(%q, %q): %v", tt.date, tt.clock, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("dischargeTime(%q, %q) = %v, want %v", tt.date, tt.clock, got, tt.want)
		}
	}
	if _, err := dischargeTime("2026-13-01", "", now); err == nil {
		t.Error("expected error for bad date")
	}
}
