package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.log")
	l, err := New(Config{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.WithFields(String("cluster", "alpha")).Info("connected", Int("port", 22))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	for _, want := range []string{`"msg":"connected"`, `"cluster":"alpha"`, `"port":22`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log output %q missing %s", data, want)
		}
	}
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.log")
	l, err := New(Config{Level: "chatty", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Debug("hidden")
	l.Info("shown")
	_ = l.Sync()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "hidden") {
		t.Errorf("debug line written at info level: %q", data)
	}
	if !strings.Contains(string(data), "shown") {
		t.Errorf("info line missing: %q", data)
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := Nop()
	if OrNop(l) != l {
		t.Error("OrNop should return the given logger")
	}
}
