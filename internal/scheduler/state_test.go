package scheduler

import "testing"

func TestParseJobState(t *testing.T) {
	tests := []struct {
		in   string
		want JobState
	}{
		{"RUNNING", JobRunning},
		{"running", JobRunning},
		{"PD", JobPending},
		{"CANCELLED by 1000", JobCancelled},
		{"COMPLETED+", JobCompleted},
		{"OOM", JobOutOfMemory},
		{"SPECIAL_EXIT", JobUnknown},
		{"", JobUnknown},
	}
	for _, tt := range tests {
		if got := ParseJobState(tt.in); got != tt.want {
			t.Errorf("ParseJobState(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestJobStateIsTerminal(t *testing.T) {
	for _, s := range []JobState{JobCompleted, JobFailed, JobCancelled, JobTimeout} {
		if !s.IsTerminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
	for _, s := range []JobState{JobPending, JobRunning, JobSuspended, JobUnknown} {
		if s.IsTerminal() {
			t.Errorf("%v should not be terminal", s)
		}
	}
}

func TestJobIsLive(t *testing.T) {
	var nilJob *Job
	if nilJob.IsLive() {
		t.Error("nil job is not live")
	}
	if !(&Job{State: JobPending}).IsLive() || (&Job{State: JobCompleting}).IsLive() {
		t.Error("only RUNNING and PENDING jobs are live")
	}
}

func TestParseNodeState(t *testing.T) {
	tests := []struct {
		in   string
		want NodeState
	}{
		{"idle", NodeIdle},
		{"IDLE*", NodeIdle},
		{"mix~", NodeMixed},
		{"alloc#", NodeAllocated},
		{"drained+maint", NodeDrained},
		{"down$", NodeDown},
		{"mixed-", NodeMixed},
		{"weird", NodeUnknown},
	}
	for _, tt := range tests {
		if got := ParseNodeState(tt.in); got != tt.want {
			t.Errorf("ParseNodeState(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParsePartitionState(t *testing.T) {
	tests := []struct {
		in   string
		want PartitionState
	}{
		{"up", PartitionUp},
		{"UP", PartitionUp},
		{"down*", PartitionDown},
		{"drain", PartitionDrain},
		{"inact", PartitionUnknown},
	}
	for _, tt := range tests {
		if got := ParsePartitionState(tt.in); got != tt.want {
			t.Errorf("ParsePartitionState(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}
