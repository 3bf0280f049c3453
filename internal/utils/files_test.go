package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsSqf(t *testing.T) {
	tests := map[string]bool{
		"/images/pytorch.sqsh":   true,
		"/images/PYTORCH.SQSH":   true,
		"base.sqf":               true,
		"env.squashfs":           true,
		"/images/pytorch.sif":    false,
		"/images/sqsh/readme.md": false,
	}
	for path, want := range tests {
		if got := IsSqf(path); got != want {
			t.Errorf("IsSqf(%q) = %v; want %v", path, got, want)
		}
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := map[string]string{
		"~":             home,
		"~/.ssh/id_rsa": filepath.Join(home, ".ssh/id_rsa"),
		"/etc/hosts":    "/etc/hosts",
		"~alice/x":      "~alice/x",
	}
	for in, want := range tests {
		if got := ExpandHome(in); got != want {
			t.Errorf("ExpandHome(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "clusters.json")
	if err := os.WriteFile(file, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if !FileExists(file) {
		t.Errorf("FileExists(%q) = false", file)
	}
	if FileExists(dir) {
		t.Errorf("FileExists(%q) = true for a directory", dir)
	}
	if FileExists(filepath.Join(dir, "missing")) {
		t.Error("FileExists on a missing path = true")
	}
}
