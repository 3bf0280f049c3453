package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/common/version"
	"github.com/spf13/cobra"

	"github.com/slurmgate/slurmgate/internal/config"
	"github.com/slurmgate/slurmgate/internal/scheduler"
	"github.com/slurmgate/slurmgate/internal/utils"
)

var (
	debugMode    bool
	quietMode    bool
	settingsPath string
	clustersPath string
	clusterName  string
	nodeSpec     string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:           "slurmgate",
	Short:         "slurmgate: run Slurm jobs and interactive sessions on remote clusters over SSH.",
	SilenceErrors: true,
	SilenceUsage:  true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Step 1: Built-in defaults
		config.LoadDefaults()

		// Step 2: Settings file and SLURMGATE_* environment
		if err := config.InitViper(settingsPath); err != nil {
			utils.PrintDebug("Error reading config file: %v", err)
		}
		config.LoadFromViper()

		// Step 3: Command-line flags (highest priority)
		if clustersPath != "" {
			config.Global.ClustersConfig = clustersPath
		}
		if cmd.Flags().Changed("output") {
			config.Global.Output = outputFormat
		}
		if err := validateOutputFormat(config.Global.Output); err != nil {
			return err
		}

		utils.QuietMode = quietMode
		if debugMode {
			utils.DebugMode = true
			config.Global.Debug = true
			config.Global.Log.Level = "debug"
			utils.PrintDebug("Debug mode enabled")
			utils.PrintDebug("slurmgate Version: %s", utils.StyleInfo(config.VERSION))
			if used := config.UsedConfigFile(); used != "" {
				utils.PrintDebug("Settings file: %s", used)
			}
			if config.Global.ClustersConfig != "" {
				utils.PrintDebug("Clusters config: %s", config.Global.ClustersConfig)
			}
		}
		return nil
	},
}

// exitCodeError carries a remote command's exit code out of a command so
// deferred cleanup runs before the process exits.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("remote command exited with code %d", e.code)
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(reportError(err))
	}
}

// reportError prints err the way its kind calls for and returns the
// process exit code.
func reportError(err error) int {
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	// Scheduler rejections carry the scheduler's own message; print it
	// rather than the wrapped chain.
	var ae *scheduler.AllocationError
	if errors.As(err, &ae) && strings.TrimSpace(ae.Output) != "" {
		utils.PrintError("%s", strings.TrimSpace(ae.Output))
		return 1
	}
	if config.IsConfigurationError(err) || errors.Is(err, config.ErrNoClustersConfig) {
		utils.PrintError("%v", err)
		if errors.Is(err, config.ErrNoClustersConfig) {
			utils.PrintHint("Point --clusters or $%s at a clusters document", config.ClustersConfigEnv)
		}
		return 2
	}
	utils.PrintError("%v", err)
	return 1
}

func init() {
	if version.Version == "" {
		version.Version = config.VERSION
	}
	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Print("slurmgate") + "\n")

	// Subcommands are attached to rootCmd in their respective init() functions
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&debugMode, "debug", false, "Enable debug mode with verbose output")
	pf.BoolVarP(&quietMode, "quiet", "q", false, "Only print results, warnings and errors")
	pf.StringVar(&settingsPath, "config", "", "Settings file (default: search ~/.config/slurmgate, ~/.slurmgate, /etc/slurmgate, .)")
	pf.StringVar(&clustersPath, "clusters", "", "Clusters config file (default: $"+config.ClustersConfigEnv+" or clusters.{json,yaml,toml})")
	pf.StringVarP(&clusterName, "cluster", "c", "", "Cluster name (default: the document's default_cluster)")
	pf.StringVarP(&nodeSpec, "node", "n", "", "Node role, role:index or hostname (default: the cluster's default role)")
	pf.StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json or yaml")

	_ = rootCmd.RegisterFlagCompletionFunc("cluster", clusterNameCompletion)
	_ = rootCmd.RegisterFlagCompletionFunc("node", nodeSpecCompletion)
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return outputFormats, cobra.ShellCompDirectiveNoFileComp
	})
}

func validateOutputFormat(format string) error {
	for _, f := range outputFormats {
		if f == format {
			return nil
		}
	}
	return fmt.Errorf("invalid output format %q (use one of: %s)", format, strings.Join(outputFormats, ", "))
}
