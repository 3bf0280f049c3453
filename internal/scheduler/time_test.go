package scheduler

import (
	"testing"
	"time"
)

func TestParseTimeSpec(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantDur time.Duration
		wantErr bool
	}{
		{"HH:MM:SS", "02:30:00", 2*time.Hour + 30*time.Minute, false},
		{"MM:SS", "10:30", 10*time.Minute + 30*time.Second, false},
		{"minutes only", "90", 90 * time.Minute, false},
		{"days-hours", "2-12", 60 * time.Hour, false},
		{"days-HH:MM", "1-02:30", 26*time.Hour + 30*time.Minute, false},
		{"days-HH:MM:SS", "1-00:00:01", 24*time.Hour + time.Second, false},
		{"empty", "", 0, false},
		{"unlimited", "UNLIMITED", 0, false},
		{"garbage", "soon", 0, true},
		{"too many parts", "1:2:3:4", 0, true},
		{"bad days", "x-01:00:00", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimeSpec(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimeSpec(%q) error = %v; wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.wantDur {
				t.Errorf("ParseTimeSpec(%q) = %v; want %v", tt.input, got, tt.wantDur)
			}
		})
	}
}

func TestFormatTimeSpec(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, ""},
		{90 * time.Second, "00:01:30"},
		{3 * time.Hour, "03:00:00"},
		{26*time.Hour + 5*time.Minute, "1-02:05:00"},
	}
	for _, tt := range tests {
		if got := FormatTimeSpec(tt.in); got != tt.want {
			t.Errorf("FormatTimeSpec(%v) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
