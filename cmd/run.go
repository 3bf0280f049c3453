package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/slurmgate/slurmgate/internal/cluster"
	"github.com/slurmgate/slurmgate/internal/remote"
	"github.com/slurmgate/slurmgate/internal/scheduler"
	"github.com/slurmgate/slurmgate/internal/session"
	"github.com/slurmgate/slurmgate/internal/utils"
)

var (
	runSpec       scheduler.RunSpec
	runGpus       int
	sessionName   string
	sessionRes    scheduler.Resources
	sessionGpus   int
	sessionImage  scheduler.ContainerSpec
	stepTimeout   time.Duration
	keepOnFailure bool
)

var runCmd = &cobra.Command{
	Use:   "run -- <command>",
	Short: "Run a one-shot command through srun",
	Long: `Run a one-shot command through srun.

The command gets its own allocation, which ends with the command. Its exit
code becomes the exit code of slurmgate.`,
	Example: `  slurmgate run -- nvidia-smi
  slurmgate run -p gpu --gpus 1 --image /images/pytorch.sqsh -- python train.py`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := runSpec
		spec.Command = strings.Join(args, " ")
		if cmd.Flags().Changed("gpus") {
			gpus := runGpus
			spec.Resources.GpusPerNode = &gpus
		}
		var res *remote.CommandResult
		err := withNode(cmd, func(ctx context.Context, nc *cluster.NodeConnection) error {
			if err := checkImage(ctx, nc, spec.Container.Image); err != nil {
				return err
			}
			var err error
			res, err = nc.Slurm.Run(ctx, spec)
			return err
		})
		if err != nil {
			return err
		}
		if err := emitResult(res); err != nil {
			return err
		}
		if !res.Success() {
			return &exitCodeError{code: res.ExitCode}
		}
		return nil
	},
}

var interactiveCmd = &cobra.Command{
	Use:     "interactive",
	Aliases: []string{"i"},
	Short:   "Hold an allocation and run stdin lines inside it",
	Long: `Hold an allocation and run stdin lines inside it.

Each line read from stdin runs as one srun step in the same allocation. The
allocation is cancelled on EOF or on interrupt.`,
	Example: `  slurmgate interactive -p gpu --gpus 1
  printf 'hostname\nnvidia-smi\n' | slurmgate interactive`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := session.Spec{Name: sessionName, Resources: sessionRes, Container: sessionImage}
		if cmd.Flags().Changed("gpus") {
			gpus := sessionGpus
			spec.Resources.GpusPerNode = &gpus
		}
		return withNode(cmd, func(ctx context.Context, nc *cluster.NodeConnection) error {
			if err := checkImage(ctx, nc, spec.Container.Image); err != nil {
				return err
			}
			s, err := nc.Sessions.Start(ctx, spec)
			if err != nil {
				return err
			}
			utils.PrintSuccess("Session %s started on job %s (%s)",
				utils.StyleName(s.ID), utils.StyleNumber(s.JobID), orDash(s.NodeList))
			defer func() {
				ended, err := nc.Sessions.End(context.WithoutCancel(ctx), s.ID)
				if err != nil {
					utils.PrintWarning("Failed to end session %s: %v", s.ID, err)
					return
				}
				if !ended {
					utils.PrintWarning("scancel refused job %d; cancel it with 'slurmgate job cancel %d'", s.JobID, s.JobID)
					return
				}
				utils.PrintMessage("Session %s ended", utils.StyleName(s.ID))
			}()
			if utils.IsInteractiveShell() {
				utils.PrintHint("Type commands to run on %s; Ctrl-D ends the session", orDash(s.NodeList))
			}
			return runLines(ctx, os.Stdin, func(line string) error {
				utils.PrintDebug("Running %s", utils.StyleCommand(line))
				res, err := nc.Sessions.Exec(ctx, s.ID, line, remote.ExecOptions{Timeout: stepTimeout})
				if err != nil {
					return err
				}
				return emitResult(res)
			})
		})
	},
}

// runLines calls step for every non-blank, non-comment line of r until EOF
// or until ctx is done. A failing step stops the loop unless
// --keep-going is set.
func runLines(ctx context.Context, r io.Reader, step func(line string) error) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if err := step(line); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if !keepOnFailure {
					return err
				}
				utils.PrintError("%v", err)
			}
		}
	}
}

// emitResult prints a command result. Table output streams stdout and
// stderr as-is.
func emitResult(res *remote.CommandResult) error {
	if !tableOutput() {
		return emit(res, nil)
	}
	fmt.Fprint(os.Stdout, res.Stdout)
	fmt.Fprint(os.Stderr, res.Stderr)
	if !res.Success() {
		utils.PrintDebug("Exit code %d", res.ExitCode)
	}
	return nil
}

// addResourceFlags binds the allocation flags shared by run and
// interactive.
func addResourceFlags(cmd *cobra.Command, res *scheduler.Resources, gpus *int) {
	f := cmd.Flags()
	f.StringVarP(&res.Partition, "partition", "p", "", "Partition")
	f.StringVarP(&res.Account, "account", "A", "", "Account")
	f.IntVarP(&res.Nodes, "nodes", "N", 0, "Number of nodes")
	f.IntVar(gpus, "gpus", 0, "GPUs per node (default: the cluster's default)")
	f.StringVarP(&res.TimeLimit, "time", "t", "", "Time limit")
}

// addContainerFlags binds the pyxis container flags.
func addContainerFlags(cmd *cobra.Command, spec *scheduler.ContainerSpec) {
	f := cmd.Flags()
	f.StringVar(&spec.Image, "image", "", "Container image (.sqsh) to run in")
	f.StringVar(&spec.Mounts, "mounts", "", "Container mounts (default: the cluster's container_mounts)")
	f.BoolVar(&spec.MountHome, "mount-home", false, "Mount the home directory into the container")
	f.StringVar(&spec.Workdir, "container-workdir", "", "Working directory inside the container")
}

func init() {
	runCmd.Flags().SetInterspersed(false)
	addResourceFlags(runCmd, &runSpec.Resources, &runGpus)
	addContainerFlags(runCmd, &runSpec.Container)
	runCmd.Flags().StringVar(&runSpec.WorkingDirectory, "chdir", "", "Working directory on the cluster")
	runCmd.Flags().DurationVar(&runSpec.Timeout, "timeout", 0, "Command timeout (default: the cluster's command_timeout)")

	addResourceFlags(interactiveCmd, &sessionRes, &sessionGpus)
	addContainerFlags(interactiveCmd, &sessionImage)
	interactiveCmd.Flags().StringVar(&sessionName, "name", "", "Session name")
	interactiveCmd.Flags().DurationVar(&stepTimeout, "timeout", 0, "Timeout of each line (default: the cluster's command_timeout)")
	interactiveCmd.Flags().BoolVar(&keepOnFailure, "keep-going", false, "Keep reading lines after a command fails to run")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(interactiveCmd)
}
