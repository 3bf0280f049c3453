package cmd

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/slurmgate/slurmgate/internal/scheduler"
	"github.com/slurmgate/slurmgate/internal/utils"
)

func TestParseParsable(t *testing.T) {
	out := "JobID|JobName|State|ExitCode\n" +
		"4242|train|COMPLETED|0:0\n" +
		"4242.batch|batch|COMPLETED|0:0\n" +
		"\n" +
		"4243|short|FAILED\n"

	header, rows := parseParsable(out)
	if strings.Join(header, ",") != "JobID,JobName,State,ExitCode" {
		t.Fatalf("header = %v", header)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows; want 3", len(rows))
	}
	if rows[1]["JobID"] != "4242.batch" || rows[1]["State"] != "COMPLETED" {
		t.Errorf("row 1 = %v", rows[1])
	}
	if _, ok := rows[2]["ExitCode"]; ok {
		t.Errorf("short row should not carry ExitCode: %v", rows[2])
	}
}

func TestParseParsableWithoutHeader(t *testing.T) {
	for _, out := range []string{"", "sacct: error: Problem talking to the database", "JobID|State\n"} {
		header, rows := parseParsable(out)
		if header != nil || len(rows) != 0 {
			t.Errorf("parseParsable(%q) = %v, %v; want no rows", out, header, rows)
		}
		if rows == nil {
			t.Errorf("parseParsable(%q) rows should be empty, not nil", out)
		}
	}
}

func TestScriptBody(t *testing.T) {
	tests := []struct{ in, want string }{
		{"#!/bin/bash\necho hi\n", "echo hi\n"},
		{"echo hi\n", "echo hi\n"},
		{"#!/bin/sh", ""},
		{"# comment\necho hi", "# comment\necho hi"},
	}
	for _, tt := range tests {
		if got := scriptBody(tt.in); got != tt.want {
			t.Errorf("scriptBody(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseJobID(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"4242", 4242, false},
		{"4242_3", 4242, false},
		{"4242.batch", 4242, false},
		{" 17 ", 17, false},
		{"0", 0, true},
		{"-5", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseJobID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseJobID(%q) error = %v; wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("parseJobID(%q) = %d; want %d", tt.in, got, tt.want)
		}
	}
}

func TestRunLines(t *testing.T) {
	input := "hostname\n\n  # comment\n  nvidia-smi  \n"
	var got []string
	err := runLines(context.Background(), strings.NewReader(input), func(line string) error {
		got = append(got, line)
		return nil
	})
	if err != nil {
		t.Fatalf("runLines error: %v", err)
	}
	if strings.Join(got, "|") != "hostname|nvidia-smi" {
		t.Errorf("steps = %q", got)
	}
}

func TestRunLinesStopsOnFailure(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	step := func(line string) error {
		calls++
		return boom
	}

	keepOnFailure = false
	if err := runLines(context.Background(), strings.NewReader("a\nb\n"), step); !errors.Is(err, boom) {
		t.Fatalf("runLines error = %v; want boom", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d; want 1", calls)
	}

	calls = 0
	keepOnFailure = true
	defer func() { keepOnFailure = false }()
	if err := runLines(context.Background(), strings.NewReader("a\nb\n"), step); err != nil {
		t.Fatalf("runLines with --keep-going error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d; want 2", calls)
	}
}

func TestRunLinesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := runLines(ctx, strings.NewReader("a\n"), func(string) error {
		return context.Canceled
	})
	if err != nil {
		t.Errorf("runLines on cancelled context = %v; want nil", err)
	}
}

func TestStyleJobState(t *testing.T) {
	saved := color.NoColor
	color.NoColor = false
	t.Cleanup(func() { color.NoColor = saved })

	tests := []struct {
		state scheduler.JobState
		label string
		want  string
	}{
		{scheduler.JobRunning, "RUNNING", utils.StyleState("RUNNING")},
		{scheduler.JobPending, "PENDING", utils.StyleState("PENDING")},
		{scheduler.JobCompleted, "COMPLETED", utils.StyleState("COMPLETED")},
		{scheduler.JobPreempted, "PREEMPTED", utils.StyleError("PREEMPTED")},
		{scheduler.JobBootFail, "BOOT_FAIL", utils.StyleError("BOOT_FAIL")},
		{scheduler.JobCancelled, "CANCELLED by 1000", utils.StyleError("CANCELLED by 1000")},
	}
	for _, tt := range tests {
		if got := styleJobState(tt.state, tt.label); got != tt.want {
			t.Errorf("styleJobState(%s, %q) = %q; want %q", tt.state, tt.label, got, tt.want)
		}
	}
	if styleJobState(scheduler.JobPreempted, "PREEMPTED") == "PREEMPTED" {
		t.Error("terminal states should be colored")
	}
}

func TestIsImagePath(t *testing.T) {
	tests := []struct {
		image string
		want  bool
	}{
		{"/images/pytorch.sqsh", true},
		{"~/images/custom.img", true},
		{"images/local.squashfs", true},
		{"nvcr.io#nvidia/pytorch:24.01-py3", false},
		{"ubuntu:22.04", false},
	}
	for _, tt := range tests {
		if got := isImagePath(tt.image); got != tt.want {
			t.Errorf("isImagePath(%q) = %v; want %v", tt.image, got, tt.want)
		}
	}
}
