// Package scheduler turns Slurm command output into typed records and
// renders structured requests into Slurm command lines.
package scheduler

import (
	"time"
)

// SchedulerInfo holds information about a cluster's Slurm installation
type SchedulerInfo struct {
	Type      string `json:"type"`      // Always "SLURM"
	Version   string `json:"version"`   // Version reported by sinfo --version
	Available bool   `json:"available"` // Whether the scheduler answered
}

// Partition is one row of sinfo output after merging rows of the same name.
type Partition struct {
	Name           string         `json:"name"`
	State          PartitionState `json:"state"`
	TotalNodes     int            `json:"total_nodes"`
	AvailableNodes int            `json:"available_nodes"` // idle component of A/I/O/T
	TotalCpus      int            `json:"total_cpus"`
	AvailableCpus  int            `json:"available_cpus"` // idle component of A/I/O/T
	MaxTime        string         `json:"max_time,omitempty"`
	Default        bool           `json:"default"`
	HasGpus        bool           `json:"has_gpus"`
	GpuTypes       []string       `json:"gpu_types"`
	TotalGpus      int            `json:"total_gpus"`
	AvailableGpus  int            `json:"available_gpus"` // filled only by GPU summaries
}

// Node is a compute node as reported by sinfo --Node.
type Node struct {
	Name              string        `json:"name"`
	State             NodeState     `json:"state"`
	RawState          string        `json:"raw_state"`
	CpusTotal         int           `json:"cpus_total"`
	CpusAllocated     int           `json:"cpus_allocated"`
	CpusAvailable     int           `json:"cpus_available"`
	MemoryTotalMB     int64         `json:"memory_total_mb"`
	MemoryAllocatedMB int64         `json:"memory_allocated_mb"`
	MemoryAvailableMB int64         `json:"memory_available_mb"`
	Partitions        []string      `json:"partitions"`
	Gpus              []GpuResource `json:"gpus,omitempty"`
	Features          []string      `json:"features,omitempty"`
}

// Job is a queued or finished job.
type Job struct {
	ID            int        `json:"job_id"`
	Name          string     `json:"name,omitempty"`
	User          string     `json:"user"`
	State         JobState   `json:"state"`
	RawState      string     `json:"raw_state"`
	Partition     string     `json:"partition"`
	NodeList      string     `json:"nodes,omitempty"`
	NumNodes      int        `json:"num_nodes,omitempty"`
	NumCpus       int        `json:"num_cpus,omitempty"`
	NumGpus       int        `json:"num_gpus"`
	Memory        string     `json:"memory,omitempty"`
	TimeLimit     string     `json:"time_limit,omitempty"`
	TimeUsed      string     `json:"time_used,omitempty"`
	TimeRemaining string     `json:"time_remaining,omitempty"`
	SubmitTime    *time.Time `json:"submit_time,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	WorkDir       string     `json:"work_dir,omitempty"`
	StdoutPath    string     `json:"stdout_path,omitempty"`
	StderrPath    string     `json:"stderr_path,omitempty"`
	ExitCode      *int       `json:"exit_code,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// IsLive reports whether the job still holds or waits for resources.
func (j *Job) IsLive() bool {
	return j != nil && (j.State == JobRunning || j.State == JobPending)
}

// GpuResource is one GPU entry decoded from a GRES string.
type GpuResource struct {
	Type     string `json:"type"`  // Normalized model, "gpu" when unknown
	Count    int    `json:"count"` // GPUs per node
	MemoryGB int    `json:"memory_gb,omitempty"`
}

// GpuStats counts GPUs in one bucket of a GpuSummary.
type GpuStats struct {
	Total     int      `json:"total"`
	Allocated int      `json:"allocated"`
	Available int      `json:"available"`
	Types     []string `json:"types,omitempty"`
}

// GpuSummary aggregates GPU availability across node rows.
// Mixed nodes count half their GPUs as allocated; this is an estimate.
type GpuSummary struct {
	Total       int                  `json:"total_gpus"`
	Allocated   int                  `json:"allocated_gpus"`
	Available   int                  `json:"available_gpus"`
	ByPartition map[string]*GpuStats `json:"by_partition"`
	ByType      map[string]*GpuStats `json:"by_type"`
}

// ContainerSpec selects a Pyxis container for srun/sbatch.
type ContainerSpec struct {
	Image     string `json:"image,omitempty"`
	Mounts    string `json:"mounts,omitempty"`     // Falls back to the cluster's configured mounts
	MountHome bool   `json:"mount_home,omitempty"` // Home is not mounted unless set
	Workdir   string `json:"workdir,omitempty"`
}

// JobSubmission describes a batch job to render and submit.
type JobSubmission struct {
	Script           string        `json:"script"` // Body of the batch script
	Name             string        `json:"job_name,omitempty"`
	Partition        string        `json:"partition,omitempty"`
	Account          string        `json:"account,omitempty"`
	Nodes            int           `json:"nodes,omitempty"`
	Ntasks           int           `json:"ntasks,omitempty"`
	CpusPerTask      int           `json:"cpus_per_task,omitempty"`
	Memory           string        `json:"memory,omitempty"`
	TimeLimit        string        `json:"time_limit,omitempty"`
	Gpus             int           `json:"gpus,omitempty"` // Per node
	GpuType          string        `json:"gpu_type,omitempty"`
	GpusPerTask      int           `json:"gpus_per_task,omitempty"`
	Output           string        `json:"output_file,omitempty"`
	Error            string        `json:"error_file,omitempty"`
	WorkingDirectory string        `json:"working_directory,omitempty"`
	Array            string        `json:"array,omitempty"`
	Dependency       string        `json:"dependency,omitempty"`
	Container        ContainerSpec `json:"container,omitempty"`
	ContainerEnv     string        `json:"container_env,omitempty"` // Comma-separated KEY=VALUE
}

// JobFilter narrows a squeue listing.
type JobFilter struct {
	User      string
	Partition string
	State     string
}

// NodeFilter narrows a sinfo --Node listing.
type NodeFilter struct {
	Partition string
	State     string
}

// AccountingFilter narrows a sacct query.
type AccountingFilter struct {
	JobID  int
	User   string
	Start  string // e.g. "2024-01-01" or "now-7days"
	End    string
	Format string // Field list, defaults to DefaultAccountingFormat
}

// Resources are the allocation knobs shared by srun and salloc. Zero values
// fall back to the cluster's interactive defaults.
type Resources struct {
	Partition   string
	Account     string
	Nodes       int
	GpusPerNode *int // nil uses the default, 0 requests no GPUs
	TimeLimit   string
}

// RunSpec describes one srun invocation.
type RunSpec struct {
	Command          string
	Resources        Resources
	Container        ContainerSpec
	WorkingDirectory string
	Timeout          time.Duration
}

// AllocationSpec describes a salloc request.
type AllocationSpec struct {
	Resources Resources
	JobName   string
}

// ContainerImage is a squashfs image found on the cluster.
type ContainerImage struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size_bytes"`
	Modified time.Time `json:"modified_time"`
}
