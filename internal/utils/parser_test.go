package utils

import (
	"testing"
	"time"
)

func TestParseSizeToMB(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"2048K", 2, false},
		{"1500k", 2, false},
		{"500M", 500, false},
		{"10G", 10240, false},
		{"2gb", 2048, false},
		{"1T", 1048576, false},
		{"ten", 0, true},
		{"10X", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSizeToMB(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSizeToMB(%q) error = %v; wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSizeToMB(%q) = %d; want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"2h", 2 * time.Hour, false},
		{"1h30m", 90 * time.Minute, false},
		{"04:00:00", 4 * time.Hour, false},
		{"2:30", 150 * time.Minute, false},
		{"", 0, true},
		{"1:2:3:4", 0, true},
		{"1:-5", 0, true},
		{"00:00:90", 90 * time.Second, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v; wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v; want %v", tt.input, got, tt.want)
			}
		})
	}
}
