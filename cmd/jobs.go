package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slurmgate/slurmgate/internal/cluster"
	"github.com/slurmgate/slurmgate/internal/scheduler"
	"github.com/slurmgate/slurmgate/internal/utils"
)

var (
	jobUser      string
	cancelSignal string
	submission   scheduler.JobSubmission
	history      scheduler.AccountingFilter
)

var jobsCmd = &cobra.Command{
	Use:     "jobs",
	Aliases: []string{"squeue"},
	Short:   "List queued and running jobs",
	Example: `  slurmgate jobs                   # All jobs
  slurmgate jobs -u alice -t RUNNING`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(ctx context.Context, nc *cluster.NodeConnection) error {
			jobs, err := nc.Slurm.Jobs(ctx, scheduler.JobFilter{User: jobUser, Partition: filterPartition, State: filterState})
			if err != nil {
				return err
			}
			return emit(jobs, func() *table {
				t := &table{Header: []string{"Job ID", "Name", "User", "State", "Partition", "Nodes", "Time", "Limit", "Node List"}}
				for _, j := range jobs {
					t.add(strconv.Itoa(j.ID), j.Name, j.User, styleJobState(j.State, string(j.State)), j.Partition,
						strconv.Itoa(j.NumNodes), orDash(j.TimeUsed), orDash(j.TimeLimit), orDash(j.NodeList))
				}
				return t
			})
		})
	},
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect, submit and control a single job",
}

var jobShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show the details of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseJobID(args[0])
		if err != nil {
			return err
		}
		return withNode(cmd, func(ctx context.Context, nc *cluster.NodeConnection) error {
			job, err := nc.Slurm.JobDetail(ctx, id)
			if err != nil {
				return err
			}
			if job == nil {
				return fmt.Errorf("job %d not found", id)
			}
			return emit(job, func() *table {
				t := &table{Header: []string{"Field", "Value"}}
				t.add("Job ID", strconv.Itoa(job.ID))
				t.add("Name", job.Name)
				t.add("User", job.User)
				t.add("State", styleJobState(job.State, job.RawState))
				t.add("Partition", job.Partition)
				t.add("Nodes", fmt.Sprintf("%d (%s)", job.NumNodes, orDash(job.NodeList)))
				t.add("CPUs", strconv.Itoa(job.NumCpus))
				t.add("GPUs", strconv.Itoa(job.NumGpus))
				t.add("Memory", orDash(job.Memory))
				t.add("Time Used", orDash(job.TimeUsed))
				t.add("Time Limit", orDash(job.TimeLimit))
				t.add("Time Remaining", orDash(job.TimeRemaining))
				t.add("Work Dir", orDash(job.WorkDir))
				t.add("Stdout", orDash(job.StdoutPath))
				t.add("Stderr", orDash(job.StderrPath))
				if job.ExitCode != nil {
					t.add("Exit Code", strconv.Itoa(*job.ExitCode))
				}
				if job.Reason != "" {
					t.add("Reason", job.Reason)
				}
				return t
			})
		})
	},
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit <script>",
	Short: "Submit a local script with sbatch",
	Long: `Submit a local script with sbatch.

The script body is uploaded to the cluster with the #SBATCH directives built
from the flags. A leading shebang line in the local file is dropped; the
generated script always runs under /bin/bash.`,
	Example: `  slurmgate job submit train.sh -p gpu --gpus 4 -t 12:00:00
  slurmgate job submit job.sh --image /images/pytorch.sqsh --container-env "A=1,B=2"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read script: %w", err)
		}
		sub := submission
		sub.Script = scriptBody(string(data))
		if strings.TrimSpace(sub.Script) == "" {
			return fmt.Errorf("script %s is empty", args[0])
		}
		if sub.Memory != "" {
			if _, err := utils.ParseSizeToMB(sub.Memory); err != nil {
				return err
			}
		}
		return withNode(cmd, func(ctx context.Context, nc *cluster.NodeConnection) error {
			if err := checkImage(ctx, nc, sub.Container.Image); err != nil {
				return err
			}
			id, err := nc.Slurm.Submit(ctx, &sub)
			if err != nil {
				return err
			}
			if !tableOutput() {
				return emit(map[string]int{"job_id": id}, nil)
			}
			if utils.QuietMode {
				fmt.Println(id)
				return nil
			}
			utils.PrintSuccess("Submitted batch job %s", utils.StyleNumber(id))
			return nil
		})
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job or send it a signal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return jobControl(cmd, args[0], "Cancelled", func(ctx context.Context, s *scheduler.Slurm, id int) (bool, error) {
			return s.Cancel(ctx, id, cancelSignal)
		})
	},
}

var jobHoldCmd = &cobra.Command{
	Use:   "hold <job-id>",
	Short: "Hold a pending job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return jobControl(cmd, args[0], "Held", func(ctx context.Context, s *scheduler.Slurm, id int) (bool, error) {
			return s.Hold(ctx, id)
		})
	},
}

var jobReleaseCmd = &cobra.Command{
	Use:   "release <job-id>",
	Short: "Release a held job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return jobControl(cmd, args[0], "Released", func(ctx context.Context, s *scheduler.Slurm, id int) (bool, error) {
			return s.Release(ctx, id)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"sacct"},
	Short:   "Show accounting records (sacct)",
	Example: `  slurmgate history -u alice -S now-7days
  slurmgate history -j 4242 --format JobID,State,Elapsed`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(ctx context.Context, nc *cluster.NodeConnection) error {
			out, err := nc.Slurm.Accounting(ctx, history)
			if err != nil {
				return err
			}
			header, rows := parseParsable(out)
			if !tableOutput() {
				return emit(rows, nil)
			}
			if len(rows) == 0 {
				fmt.Print(out)
				return nil
			}
			t := &table{Header: header}
			for _, row := range rows {
				cells := make([]string, len(header))
				for i, h := range header {
					cells[i] = row[h]
				}
				t.add(cells...)
			}
			t.render(os.Stdout)
			return nil
		})
	},
}

// parseParsable splits sacct --parsable2 output into its header and one
// map per row. Output without a header line (sacct errors) yields no rows.
func parseParsable(out string) ([]string, []map[string]string) {
	rows := []map[string]string{}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 || !strings.Contains(lines[0], "|") {
		return nil, rows
	}
	header := strings.Split(lines[0], "|")
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "|")
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(fields) {
				row[h] = fields[i]
			}
		}
		rows = append(rows, row)
	}
	return header, rows
}

// scriptBody drops a leading shebang line.
func scriptBody(script string) string {
	if strings.HasPrefix(script, "#!") {
		if _, rest, ok := strings.Cut(script, "\n"); ok {
			return rest
		}
		return ""
	}
	return script
}

// styleJobState colors label by state. Jobs that ended any way other than
// COMPLETED are red.
func styleJobState(state scheduler.JobState, label string) string {
	if state.IsTerminal() && state != scheduler.JobCompleted {
		return utils.StyleError(label)
	}
	return utils.StyleState(label)
}

func parseJobID(s string) (int, error) {
	id, err := scheduler.BaseJobID(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return id, nil
}

func jobControl(cmd *cobra.Command, arg, verb string, op func(context.Context, *scheduler.Slurm, int) (bool, error)) error {
	id, err := parseJobID(arg)
	if err != nil {
		return err
	}
	return withNode(cmd, func(ctx context.Context, nc *cluster.NodeConnection) error {
		done, err := op(ctx, nc.Slurm, id)
		if err != nil {
			return err
		}
		if !done {
			return fmt.Errorf("scheduler refused the request for job %d", id)
		}
		utils.PrintSuccess("%s job %s", verb, utils.StyleNumber(id))
		return nil
	})
}

func init() {
	jf := jobsCmd.Flags()
	jf.StringVarP(&jobUser, "user", "u", "", "Only jobs of this user")
	jf.StringVarP(&filterPartition, "partition", "p", "", "Only jobs in this partition")
	jf.StringVarP(&filterState, "state", "t", "", "Only jobs in this state (PENDING, RUNNING, ...)")

	sf := jobSubmitCmd.Flags()
	sf.StringVarP(&submission.Name, "job-name", "J", "", "Job name")
	sf.StringVarP(&submission.Partition, "partition", "p", "", "Partition (default: the cluster's default_partition)")
	sf.StringVarP(&submission.Account, "account", "A", "", "Account (default: the cluster's default_account)")
	sf.IntVarP(&submission.Nodes, "nodes", "N", 0, "Number of nodes")
	sf.IntVar(&submission.Ntasks, "ntasks", 0, "Number of tasks")
	sf.IntVar(&submission.CpusPerTask, "cpus-per-task", 0, "CPUs per task")
	sf.StringVar(&submission.Memory, "mem", "", "Memory per node (e.g. 64G)")
	sf.StringVarP(&submission.TimeLimit, "time", "t", "", "Time limit (e.g. 4:00:00 or 1-00:00:00)")
	sf.IntVar(&submission.Gpus, "gpus", 0, "GPUs per node")
	sf.StringVar(&submission.GpuType, "gpu-type", "", "GPU model (e.g. a100)")
	sf.IntVar(&submission.GpusPerTask, "gpus-per-task", 0, "GPUs per task")
	sf.StringVar(&submission.Output, "output-file", "", "Stdout path pattern")
	sf.StringVar(&submission.Error, "error-file", "", "Stderr path pattern")
	sf.StringVar(&submission.WorkingDirectory, "chdir", "", "Working directory on the cluster")
	sf.StringVar(&submission.Array, "array", "", "Job array spec (e.g. 0-9%2)")
	sf.StringVar(&submission.Dependency, "dependency", "", "Dependency spec (e.g. afterok:123)")
	addContainerFlags(jobSubmitCmd, &submission.Container)
	sf.StringVar(&submission.ContainerEnv, "container-env", "", "Comma-separated KEY=VALUE exported before the body")

	jobCancelCmd.Flags().StringVar(&cancelSignal, "signal", "", "Send this signal instead of cancelling (e.g. SIGUSR1)")

	hf := historyCmd.Flags()
	hf.IntVarP(&history.JobID, "job", "j", 0, "Only this job")
	hf.StringVarP(&history.User, "user", "u", "", "Only jobs of this user")
	hf.StringVarP(&history.Start, "start", "S", "", "Start time (e.g. 2024-01-01 or now-7days)")
	hf.StringVarP(&history.End, "end", "E", "", "End time")
	hf.StringVar(&history.Format, "format", "", "sacct field list (default "+scheduler.DefaultAccountingFormat+")")

	jobCmd.AddCommand(jobShowCmd, jobSubmitCmd, jobCancelCmd, jobHoldCmd, jobReleaseCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(historyCmd)
}
