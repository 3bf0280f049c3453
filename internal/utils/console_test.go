package utils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func captureConsole(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	oldOut, oldErr, oldNoColor := stdout, stderr, color.NoColor
	stdout, stderr, color.NoColor = &out, &errOut, true
	t.Cleanup(func() {
		stdout, stderr, color.NoColor = oldOut, oldErr, oldNoColor
		QuietMode, DebugMode = false, false
	})
	return &out, &errOut
}

func TestPrinters(t *testing.T) {
	out, errOut := captureConsole(t)

	PrintSuccess("Submitted batch job %d", 4242)
	PrintWarning("host key for %s not verified", "login1")
	PrintDebug("hidden")

	if got := out.String(); !strings.Contains(got, "[SG]") || !strings.Contains(got, "Submitted batch job 4242") {
		t.Errorf("stdout = %q", got)
	}
	if got := errOut.String(); !strings.Contains(got, "[WARN] host key for login1 not verified") {
		t.Errorf("stderr = %q", got)
	}
	if strings.Contains(errOut.String(), "hidden") {
		t.Error("PrintDebug printed without DebugMode")
	}
}

func TestQuietMode(t *testing.T) {
	out, errOut := captureConsole(t)
	QuietMode = true

	PrintMessage("progress")
	PrintNote("note")
	PrintError("boom")

	if out.Len() != 0 {
		t.Errorf("quiet stdout = %q", out.String())
	}
	if !strings.Contains(errOut.String(), "boom") {
		t.Errorf("errors must still print in quiet mode, got %q", errOut.String())
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{1536, "1.50 KB"},
		{5 << 30, "5.00 GB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q; want %q", tt.in, got, tt.want)
		}
	}
	if got := FormatMB(2048); got != "2.00 GB" {
		t.Errorf("FormatMB(2048) = %q", got)
	}
}

func TestStyleStateNoColor(t *testing.T) {
	captureConsole(t)
	if got := StyleState("RUNNING"); got != "RUNNING" {
		t.Errorf("StyleState without color = %q", got)
	}
}
