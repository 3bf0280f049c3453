package scheduler

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/slurmgate/slurmgate/internal/config"
	"github.com/slurmgate/slurmgate/internal/logger"
	"github.com/slurmgate/slurmgate/internal/remote"
	"github.com/slurmgate/slurmgate/internal/utils"
)

const (
	// MinExecTimeout floors the timeout of srun commands, which queue
	// before they run.
	MinExecTimeout = 300 * time.Second

	// AllocationTimeout bounds salloc --no-shell.
	AllocationTimeout = 120 * time.Second

	// DefaultAccountingFormat is the sacct field list used when none is given.
	DefaultAccountingFormat = "JobID,JobName,Partition,State,ExitCode,Elapsed,MaxRSS,MaxVMSize,NCPUS"

	// scriptDir holds rendered batch scripts until sbatch has read them.
	scriptDir = "/tmp"

	// gpusPerNodeVersion is the first Slurm release that accepts --gpus-per-node.
	gpusPerNodeVersion = "v19.5.0"
)

// Remote is the part of remote.Transport the orchestrator uses.
type Remote interface {
	Host() string
	Execute(ctx context.Context, command string, opts remote.ExecOptions) (*remote.CommandResult, error)
	WriteFile(ctx context.Context, path string, data []byte, opts remote.WriteOptions) error
	Delete(ctx context.Context, path string) error
}

// Slurm drives the Slurm CLI on one cluster node.
type Slurm struct {
	remote Remote
	cfg    *config.ClusterConfig
	log    *logger.Logger

	mu            sync.Mutex
	versionProbed bool
	version       string
}

// NewSlurm creates an orchestrator that runs commands through r.
func NewSlurm(r Remote, cfg *config.ClusterConfig, log *logger.Logger) *Slurm {
	return &Slurm{
		remote: r,
		cfg:    cfg,
		log:    logger.OrNop(log).Named("slurm").WithFields(logger.String("host", r.Host())),
	}
}

func (s *Slurm) exec(ctx context.Context, command string, timeout time.Duration) (*remote.CommandResult, error) {
	return s.remote.Execute(ctx, command, remote.ExecOptions{Timeout: timeout})
}

// listing runs a read-only query. A non-zero exit is logged and reported
// as ok=false so callers return empty results.
func (s *Slurm) listing(ctx context.Context, command string) (string, bool, error) {
	res, err := s.exec(ctx, command, 0)
	if err != nil {
		return "", false, err
	}
	if !res.Success() {
		s.log.Error("scheduler query failed",
			logger.String("command", command),
			logger.Int("exit_code", res.ExitCode),
			logger.String("stderr", strings.TrimSpace(res.Stderr)))
		return "", false, nil
	}
	return res.Stdout, true, nil
}

// Partitions lists every partition.
func (s *Slurm) Partitions(ctx context.Context) ([]Partition, error) {
	out, ok, err := s.listing(ctx, fmt.Sprintf("sinfo -h -o '%s'", PartitionFormat))
	if err != nil || !ok {
		return []Partition{}, err
	}
	return ParsePartitions(out), nil
}

// Nodes lists compute nodes.
func (s *Slurm) Nodes(ctx context.Context, filter NodeFilter) ([]Node, error) {
	cmd := fmt.Sprintf("sinfo -N -h -o '%s'", NodeFormat)
	if filter.Partition != "" {
		cmd += " -p " + utils.ShellQuote(filter.Partition)
	}
	if filter.State != "" {
		cmd += " -t " + utils.ShellQuote(filter.State)
	}
	out, ok, err := s.listing(ctx, cmd)
	if err != nil || !ok {
		return []Node{}, err
	}
	return ParseNodes(out), nil
}

// GpuAvailability summarizes GPUs, optionally for one partition.
func (s *Slurm) GpuAvailability(ctx context.Context, partition string) (*GpuSummary, error) {
	cmd := fmt.Sprintf("sinfo -h -o '%s' --Node", GpuSummaryFormat)
	if partition != "" {
		cmd += " -p " + utils.ShellQuote(partition)
	}
	out, _, err := s.listing(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return ParseGpuSummary(out), nil
}

// Jobs lists queued and running jobs.
func (s *Slurm) Jobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	cmd := fmt.Sprintf("squeue -h -o '%s'", JobFormat)
	if filter.User != "" {
		cmd += " -u " + utils.ShellQuote(filter.User)
	}
	if filter.Partition != "" {
		cmd += " -p " + utils.ShellQuote(filter.Partition)
	}
	if filter.State != "" {
		cmd += " -t " + utils.ShellQuote(filter.State)
	}
	out, ok, err := s.listing(ctx, cmd)
	if err != nil || !ok {
		return []Job{}, err
	}
	return ParseJobs(out), nil
}

// JobDetail returns one job, or nil when the scheduler does not know it.
// Any other scontrol failure, such as an unreachable controller, is an
// error: callers must not mistake it for a finished job.
func (s *Slurm) JobDetail(ctx context.Context, jobID int) (*Job, error) {
	cmd := fmt.Sprintf("scontrol show job %d", jobID)
	res, err := s.exec(ctx, cmd, 0)
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		if strings.Contains(res.Stderr, invalidJobID) {
			return nil, nil
		}
		fe := remote.NewCommandFailureError(s.remote.Host(), cmd, fmt.Errorf("exit code %d", res.ExitCode))
		fe.Stdout, fe.Stderr = res.Stdout, strings.TrimSpace(res.Stderr)
		return nil, fe
	}
	return ParseJobDetail(res.Stdout, res.Stderr)
}

// Submit renders sub as a batch script, submits it and returns the job id.
// The script is removed whatever the outcome.
func (s *Slurm) Submit(ctx context.Context, sub *JobSubmission) (int, error) {
	script := RenderBatchScript(sub, ScriptDefaults{
		Partition:  s.cfg.DefaultPartition,
		Account:    s.cfg.DefaultAccount,
		Mounts:     s.cfg.ContainerMounts(),
		LegacyGres: sub.Gpus > 0 && s.legacyGres(ctx),
	})

	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	path := fmt.Sprintf("%s/.slurmgate_job_%s.sh", scriptDir, id)
	if err := s.remote.WriteFile(ctx, path, []byte(script), remote.WriteOptions{Mode: 0o755}); err != nil {
		return 0, err
	}
	defer func() {
		// The caller's context may already be done; cleanup gets its own.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := s.remote.Delete(cleanupCtx, path); err != nil {
			s.log.Warn("failed to remove batch script", logger.String("path", path), logger.Error(err))
		}
	}()

	cmd := "sbatch " + path
	res, err := s.exec(ctx, cmd, 0)
	if err != nil {
		return 0, err
	}
	if !res.Success() {
		return 0, NewAllocationError("sbatch", strings.TrimSpace(res.Combined()), fmt.Errorf("exit code %d", res.ExitCode))
	}
	jobID, err := ParseSubmitID(res.Stdout)
	if err != nil {
		return 0, err
	}
	s.log.Info("job submitted", logger.Int("job_id", jobID), logger.String("name", sub.Name))
	return jobID, nil
}

// Cancel cancels a job, optionally delivering signal instead of killing it.
func (s *Slurm) Cancel(ctx context.Context, jobID int, signal string) (bool, error) {
	cmd := fmt.Sprintf("scancel %d", jobID)
	if signal != "" {
		cmd += " --signal=" + utils.ShellQuote(signal)
	}
	return s.succeeds(ctx, cmd)
}

// Hold prevents a pending job from starting.
func (s *Slurm) Hold(ctx context.Context, jobID int) (bool, error) {
	return s.succeeds(ctx, fmt.Sprintf("scontrol hold %d", jobID))
}

// Release lets a held job start.
func (s *Slurm) Release(ctx context.Context, jobID int) (bool, error) {
	return s.succeeds(ctx, fmt.Sprintf("scontrol release %d", jobID))
}

func (s *Slurm) succeeds(ctx context.Context, cmd string) (bool, error) {
	res, err := s.exec(ctx, cmd, 0)
	if err != nil {
		return false, err
	}
	if !res.Success() {
		s.log.Warn("scheduler command failed", logger.String("command", cmd), logger.String("stderr", strings.TrimSpace(res.Stderr)))
	}
	return res.Success(), nil
}

// Accounting runs sacct and returns its parsable output, or stderr when
// sacct fails.
func (s *Slurm) Accounting(ctx context.Context, filter AccountingFilter) (string, error) {
	var b strings.Builder
	b.WriteString("sacct")
	if filter.JobID > 0 {
		fmt.Fprintf(&b, " -j %d", filter.JobID)
	}
	if filter.User != "" {
		b.WriteString(" -u " + utils.ShellQuote(filter.User))
	}
	if filter.Start != "" {
		b.WriteString(" -S " + utils.ShellQuote(filter.Start))
	}
	if filter.End != "" {
		b.WriteString(" -E " + utils.ShellQuote(filter.End))
	}
	format := firstNonEmpty(filter.Format, DefaultAccountingFormat)
	b.WriteString(" -o " + utils.ShellQuote(format))
	b.WriteString(" --parsable2")

	res, err := s.exec(ctx, b.String(), 0)
	if err != nil {
		return "", err
	}
	if res.Success() {
		return res.Stdout, nil
	}
	return res.Stderr, nil
}

// resolved is a Resources value with the interactive defaults applied.
type resolved struct {
	partition string
	account   string
	nodes     int
	gpus      int
	timeLimit string
}

func (s *Slurm) resolve(r Resources) resolved {
	out := resolved{
		partition: firstNonEmpty(r.Partition, s.cfg.InteractivePartition),
		account:   firstNonEmpty(r.Account, s.cfg.InteractiveAccount),
		nodes:     r.Nodes,
		timeLimit: firstNonEmpty(r.TimeLimit, s.cfg.InteractiveDefaultTime),
		gpus:      s.cfg.DefaultGpus(),
	}
	if out.nodes <= 0 {
		out.nodes = 1
	}
	if r.GpusPerNode != nil {
		out.gpus = *r.GpusPerNode
	}
	return out
}

// allocationArgs renders the account, partition, node, time and GPU flags.
func (s *Slurm) allocationArgs(ctx context.Context, r resolved) []string {
	var args []string
	if r.account != "" {
		args = append(args, "-A", utils.ShellQuote(r.account))
	}
	args = append(args,
		"-p", utils.ShellQuote(r.partition),
		"-N", strconv.Itoa(r.nodes),
		"-t", utils.ShellQuote(r.timeLimit))
	if r.gpus > 0 {
		args = append(args, gpuFlag("", r.gpus, s.legacyGres(ctx)))
	}
	return args
}

// wrapCommand renders `bash -c '<command>'`, changing into dir first when set.
func wrapCommand(command, dir string) string {
	if dir != "" {
		command = "cd " + utils.ShellQuote(dir) + " && " + command
	}
	return "bash -c '" + utils.EscapeSingleQuotes(command) + "'"
}

func (s *Slurm) execTimeout(explicit time.Duration) time.Duration {
	if explicit > 0 {
		return explicit
	}
	if t := s.cfg.CommandTimeoutDuration(); t > MinExecTimeout {
		return t
	}
	return MinExecTimeout
}

func (s *Slurm) containerArgs(c ContainerSpec) []string {
	flags := containerFlags(c, s.cfg.ContainerMounts())
	for i, f := range flags {
		if name, value, ok := strings.Cut(f, "="); ok {
			flags[i] = name + "=" + utils.ShellQuote(value)
		}
	}
	return flags
}

// Run executes a one-shot command through srun. Its exit code is reported
// in the result, not as an error.
func (s *Slurm) Run(ctx context.Context, spec RunSpec) (*remote.CommandResult, error) {
	args := []string{"srun"}
	args = append(args, s.allocationArgs(ctx, s.resolve(spec.Resources))...)
	args = append(args, s.containerArgs(spec.Container)...)
	args = append(args, wrapCommand(spec.Command, spec.WorkingDirectory))

	return s.exec(ctx, strings.Join(args, " "), s.execTimeout(spec.Timeout))
}

// Allocate requests an allocation with salloc --no-shell and returns its
// job id.
func (s *Slurm) Allocate(ctx context.Context, spec AllocationSpec) (int, error) {
	args := []string{"salloc", "--no-shell"}
	args = append(args, s.allocationArgs(ctx, s.resolve(spec.Resources))...)
	if spec.JobName != "" {
		args = append(args, "-J", utils.ShellQuote(spec.JobName))
	}

	res, err := s.exec(ctx, strings.Join(args, " "), AllocationTimeout)
	if err != nil {
		return 0, err
	}
	if !res.Success() {
		return 0, NewAllocationError("salloc", strings.TrimSpace(res.Combined()), fmt.Errorf("exit code %d", res.ExitCode))
	}
	jobID, err := ParseAllocationID(res.Combined())
	if err != nil {
		return 0, err
	}
	s.log.Info("allocation granted", logger.Int("job_id", jobID), logger.String("name", spec.JobName))
	return jobID, nil
}

// RunInAllocation runs a command inside an existing allocation.
func (s *Slurm) RunInAllocation(ctx context.Context, jobID int, spec RunSpec) (*remote.CommandResult, error) {
	args := []string{fmt.Sprintf("srun --jobid=%d", jobID)}
	args = append(args, s.containerArgs(spec.Container)...)
	args = append(args, wrapCommand(spec.Command, spec.WorkingDirectory))

	return s.exec(ctx, strings.Join(args, " "), s.execTimeout(spec.Timeout))
}

// ContainerImages lists .sqsh images under dir (the cluster's image_dir
// when empty), newest first.
func (s *Slurm) ContainerImages(ctx context.Context, dir, pattern string) ([]ContainerImage, error) {
	dir = firstNonEmpty(dir, s.cfg.ImageDir)
	if dir == "" {
		return []ContainerImage{}, nil
	}

	cmd := "find " + utils.ShellQuote(dir) + " -maxdepth 2"
	if pattern != "" {
		cmd += " -name '" + utils.EscapeSingleQuotes(pattern) + "'"
	}
	cmd += ` -name '*.sqsh' -type f -printf '%p|%s|%T@\n' 2>/dev/null | sort -t'|' -k3 -rn`

	out, ok, err := s.listing(ctx, cmd)
	if err != nil || !ok {
		return []ContainerImage{}, err
	}

	images := []ContainerImage{}
	for _, parts := range splitRows(out, 3) {
		path := parts[0]
		size, _ := strconv.ParseInt(parts[1], 10, 64)
		mtime, _ := strconv.ParseFloat(parts[2], 64)
		sec, frac := math.Modf(mtime)
		images = append(images, ContainerImage{
			Name:     path[strings.LastIndex(path, "/")+1:],
			Path:     path,
			Size:     size,
			Modified: time.Unix(int64(sec), int64(frac*1e9)),
		})
	}
	return images, nil
}

// ValidateContainerImage reports whether path is a readable squashfs image.
func (s *Slurm) ValidateContainerImage(ctx context.Context, path string) (bool, error) {
	quoted := utils.ShellQuote(path)
	res, err := s.exec(ctx, "test -r "+quoted+" && file "+quoted, 0)
	if err != nil {
		return false, err
	}
	if !res.Success() {
		return false, nil
	}
	return strings.Contains(strings.ToLower(res.Stdout), "squashfs") || utils.IsSqf(path), nil
}

// Version returns the Slurm release reported by sinfo --version.
func (s *Slurm) Version(ctx context.Context) (string, error) {
	res, err := s.exec(ctx, "sinfo --version", 0)
	if err != nil {
		return "", err
	}
	if !res.Success() {
		return "", NewParseError("sinfo --version", strings.TrimSpace(res.Stderr), "scheduler did not report a version")
	}

	// Output looks like "slurm 23.02.6"
	versionStr := strings.TrimSpace(res.Stdout)
	parts := strings.Fields(versionStr)
	if len(parts) >= 2 {
		return parts[1], nil
	}
	return versionStr, nil
}

// Info describes the scheduler installation.
func (s *Slurm) Info(ctx context.Context) *SchedulerInfo {
	info := &SchedulerInfo{Type: "SLURM"}
	if v, err := s.Version(ctx); err == nil {
		info.Version = v
		info.Available = true
	}
	return info
}

// legacyGres reports whether the cluster's Slurm predates --gpus-per-node.
// The version is queried once; an unknown version counts as modern.
func (s *Slurm) legacyGres(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.versionProbed {
		v, err := s.Version(ctx)
		if err != nil && ctx.Err() != nil {
			return false
		}
		s.version = v
		s.versionProbed = true
	}
	canonical := CanonicalVersion(s.version)
	return canonical != "" && semver.Compare(canonical, gpusPerNodeVersion) < 0
}

// CanonicalVersion turns a Slurm release such as "23.02.6" into the
// semver form "v23.2.6". It returns "" when v is not a release number.
func CanonicalVersion(v string) string {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(v), "v"), ".")
	if len(parts) == 0 || len(parts) > 3 {
		return ""
	}
	for i, p := range parts {
		// Drop suffixes such as "-1" in "20.11.9-1"
		if idx := strings.IndexAny(p, "-+"); idx >= 0 && i == len(parts)-1 {
			p = p[:idx]
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return ""
		}
		parts[i] = strconv.Itoa(n)
	}
	canonical := semver.Canonical("v" + strings.Join(parts, "."))
	if !semver.IsValid(canonical) {
		return ""
	}
	return canonical
}
