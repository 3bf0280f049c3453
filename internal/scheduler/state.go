package scheduler

import "strings"

// JobState is the closed set of Slurm job states.
type JobState string

const (
	JobPending     JobState = "PENDING"
	JobRunning     JobState = "RUNNING"
	JobSuspended   JobState = "SUSPENDED"
	JobCompleting  JobState = "COMPLETING"
	JobCompleted   JobState = "COMPLETED"
	JobCancelled   JobState = "CANCELLED"
	JobFailed      JobState = "FAILED"
	JobTimeout     JobState = "TIMEOUT"
	JobNodeFail    JobState = "NODE_FAIL"
	JobPreempted   JobState = "PREEMPTED"
	JobBootFail    JobState = "BOOT_FAIL"
	JobDeadline    JobState = "DEADLINE"
	JobOutOfMemory JobState = "OUT_OF_MEMORY"
	JobConfiguring JobState = "CONFIGURING"
	JobRequeued    JobState = "REQUEUED"
	JobStopped     JobState = "STOPPED"
	JobUnknown     JobState = "UNKNOWN"
)

var jobStateCodes = map[string]JobState{
	"PD":  JobPending,
	"R":   JobRunning,
	"S":   JobSuspended,
	"CG":  JobCompleting,
	"CD":  JobCompleted,
	"CA":  JobCancelled,
	"F":   JobFailed,
	"TO":  JobTimeout,
	"NF":  JobNodeFail,
	"PR":  JobPreempted,
	"BF":  JobBootFail,
	"DL":  JobDeadline,
	"OOM": JobOutOfMemory,
	"CF":  JobConfiguring,
	"RQ":  JobRequeued,
	"ST":  JobStopped,
}

var knownJobStates = map[JobState]bool{
	JobPending: true, JobRunning: true, JobSuspended: true, JobCompleting: true,
	JobCompleted: true, JobCancelled: true, JobFailed: true, JobTimeout: true,
	JobNodeFail: true, JobPreempted: true, JobBootFail: true, JobDeadline: true,
	JobOutOfMemory: true, JobConfiguring: true, JobRequeued: true, JobStopped: true,
}

// ParseJobState maps a squeue/scontrol/sacct state to a JobState. Long
// names and two-letter codes are accepted; sacct suffixes such as
// "CANCELLED by 1000" and trailing "+" are dropped.
func ParseJobState(s string) JobState {
	s = strings.ToUpper(strings.TrimSpace(s))
	if i := strings.IndexAny(s, " +"); i >= 0 {
		s = s[:i]
	}
	if st, ok := jobStateCodes[s]; ok {
		return st
	}
	if knownJobStates[JobState(s)] {
		return JobState(s)
	}
	return JobUnknown
}

// IsTerminal reports whether the job can no longer run.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobCompleted, JobCancelled, JobFailed, JobTimeout, JobNodeFail,
		JobPreempted, JobBootFail, JobDeadline, JobOutOfMemory:
		return true
	}
	return false
}

// NodeState is the closed set of base node states.
type NodeState string

const (
	NodeIdle        NodeState = "idle"
	NodeAllocated   NodeState = "allocated"
	NodeMixed       NodeState = "mixed"
	NodeCompleting  NodeState = "completing"
	NodeDown        NodeState = "down"
	NodeDrained     NodeState = "drained"
	NodeDraining    NodeState = "draining"
	NodeFail        NodeState = "fail"
	NodeFailing     NodeState = "failing"
	NodeFuture      NodeState = "future"
	NodeMaint       NodeState = "maint"
	NodeReserved    NodeState = "reserved"
	NodePlanned     NodeState = "planned"
	NodePoweredDown NodeState = "powered_down"
	NodeUnknown     NodeState = "unknown"
)

var nodeStateAliases = map[string]NodeState{
	"idle":         NodeIdle,
	"alloc":        NodeAllocated,
	"allocated":    NodeAllocated,
	"mix":          NodeMixed,
	"mixed":        NodeMixed,
	"comp":         NodeCompleting,
	"completing":   NodeCompleting,
	"down":         NodeDown,
	"drain":        NodeDrained,
	"drained":      NodeDrained,
	"drng":         NodeDraining,
	"draining":     NodeDraining,
	"fail":         NodeFail,
	"failg":        NodeFailing,
	"failing":      NodeFailing,
	"futr":         NodeFuture,
	"future":       NodeFuture,
	"maint":        NodeMaint,
	"resv":         NodeReserved,
	"reserved":     NodeReserved,
	"plnd":         NodePlanned,
	"planned":      NodePlanned,
	"powered_down": NodePoweredDown,
	"powerdown":    NodePoweredDown,
}

// nodeStateFlags are the suffix markers sinfo appends to a state
// (not responding, powered down, powering up, ...).
const nodeStateFlags = "*~#!%$@^-"

// ParseNodeState maps a sinfo node state to a NodeState. Flag suffixes and
// "+FLAG" qualifiers are ignored.
func ParseNodeState(s string) NodeState {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.Index(s, "+"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, nodeStateFlags)
	if st, ok := nodeStateAliases[s]; ok {
		return st
	}
	return NodeUnknown
}

// PartitionState is the closed set of partition availability states.
type PartitionState string

const (
	PartitionUp       PartitionState = "up"
	PartitionDown     PartitionState = "down"
	PartitionDrain    PartitionState = "drain"
	PartitionInactive PartitionState = "inactive"
	PartitionUnknown  PartitionState = "unknown"
)

// ParsePartitionState maps sinfo %a output to a PartitionState.
func ParsePartitionState(s string) PartitionState {
	switch st := PartitionState(strings.ToLower(strings.TrimRight(strings.TrimSpace(s), nodeStateFlags))); st {
	case PartitionUp, PartitionDown, PartitionDrain, PartitionInactive:
		return st
	}
	return PartitionUnknown
}
