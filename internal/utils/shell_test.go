package utils

import "testing"

func TestEscapeSingleQuotes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"echo hi", "echo hi"},
		{"echo 'hi'", `echo '\''hi'\''`},
		{"it's", `it'\''s`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := EscapeSingleQuotes(tt.input); got != tt.want {
				t.Errorf("EscapeSingleQuotes(%q) = %q; want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "''"},
		{"/scratch/run-1", "/scratch/run-1"},
		{"/data/my dir", "'/data/my dir'"},
		{"~/proj", "~/proj"},
		{"~/my proj", "~/'my proj'"},
		{"a;rm -rf", "'a;rm -rf'"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ShellQuote(tt.input); got != tt.want {
				t.Errorf("ShellQuote(%q) = %q; want %q", tt.input, got, tt.want)
			}
		})
	}
}
