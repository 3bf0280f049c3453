package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/slurmgate/slurmgate/internal/cluster"
	"github.com/slurmgate/slurmgate/internal/config"
	"github.com/slurmgate/slurmgate/internal/utils"
)

// configKeys is the list of known settings keys for shell completion
var configKeys = []string{
	"clusters_config",
	"default_cluster",
	"output",
	"log.level",
	"log.format",
	"log.output",
	"server.listen_addr",
	"server.sweep_interval",
}

// configKeysCompletion returns settings keys for shell completion
func configKeysCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	switch len(args) {
	case 0:
		return configKeys, cobra.ShellCompDirectiveNoFileComp
	case 1:
		return configValueCompletion(args[0]), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

// configValueCompletion returns suggested values for a settings key
func configValueCompletion(key string) []string {
	switch key {
	case "output":
		return outputFormats
	case "log.level":
		return []string{"debug", "info", "warn", "error"}
	case "log.format":
		return []string{"console", "json"}
	case "log.output":
		return []string{"stderr", "stdout"}
	case "server.sweep_interval":
		return []string{"1m", "5m", "15m"}
	default:
		return nil
	}
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage slurmgate settings",
	Long: `Manage slurmgate settings.

Settings priority (highest to lowest):
  1. Command-line flags
  2. Environment variables (SLURMGATE_*)
  3. Settings file (~/.config/slurmgate/config.yaml, ~/.slurmgate, /etc/slurmgate, .)
  4. Defaults

Clusters are described in a separate document (clusters.json, .yaml or .toml)
found through --clusters, $` + config.ClustersConfigEnv + ` or clusters_config.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.Settings()
		if !tableOutput() {
			return emit(settings, nil)
		}

		fmt.Println(utils.StyleTitle("Settings File:"))
		if used := config.UsedConfigFile(); used != "" {
			fmt.Printf("  %s %s\n", used, utils.StyleSuccess("(in use)"))
		} else {
			fmt.Printf("  %s (use 'slurmgate config save' to create)\n", utils.StyleWarning("No settings file found"))
		}
		fmt.Println()

		fmt.Println(utils.StyleTitle("Clusters Document:"))
		if path, err := config.FindClustersConfig(config.Global.ClustersConfig); err == nil {
			fmt.Printf("  %s\n", path)
		} else {
			fmt.Printf("  %s\n", utils.StyleWarning("not found"))
			fmt.Println("  Searched:")
			for _, c := range config.ClustersConfigCandidates() {
				fmt.Printf("    - %s\n", c)
			}
		}
		fmt.Println()

		fmt.Println(utils.StyleTitle("Current Settings:"))
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(settings); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
		fmt.Println()

		fmt.Println(utils.StyleTitle("Environment Variable Overrides:"))
		found := false
		for _, env := range os.Environ() {
			if strings.HasPrefix(env, config.EnvPrefix+"_") {
				fmt.Printf("  %s\n", env)
				found = true
			}
		}
		if !found {
			fmt.Printf("  %s\n", utils.StyleInfo("none"))
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file path",
	Long: `Print the settings file in use, or the user settings path that
'slurmgate config save' writes to when none is loaded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if used := config.UsedConfigFile(); used != "" {
			fmt.Println(used)
			return nil
		}
		path, err := config.GetUserConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
		fmt.Println(path)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a settings value",
	Example: `  slurmgate config get default_cluster
  slurmgate config get server.listen_addr`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: configKeysCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		value := viper.Get(args[0])
		if value == nil {
			return fmt.Errorf("unknown settings key: %s", args[0])
		}
		fmt.Println(value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a settings value and save it",
	Example: `  slurmgate config set default_cluster alpha
  slurmgate config set output json
  slurmgate config set server.sweep_interval 10m`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: configKeysCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := validateSetting(key, value); err != nil {
			return err
		}
		viper.Set(key, value)
		path, err := config.SaveConfig()
		if err != nil {
			return err
		}
		utils.PrintSuccess("Set %s = %s", utils.StyleInfo(key), utils.StyleInfo(value))
		utils.PrintNote("Settings saved to: %s", utils.StylePath(path))
		return nil
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Write the effective settings to the user settings file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.SaveConfig()
		if err != nil {
			return err
		}
		utils.PrintSuccess("Settings saved to: %s", utils.StylePath(path))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the clusters document",
	Long: `Load the clusters document, validate every cluster and print a
summary. No connection is made.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mc, err := loadClusters()
		if err != nil {
			return err
		}
		if _, err := cluster.NewManager(mc); err != nil {
			return err
		}
		fmt.Printf("%s Clusters document: %s\n", utils.StyleSuccess("✓"), mc.Source)
		for _, name := range mc.Names() {
			cfg, _ := mc.Cluster(name)
			def := ""
			if name == mc.DefaultCluster {
				def = " " + utils.StyleInfo("(default)")
			}
			fmt.Printf("%s %s%s: %s\n", utils.StyleSuccess("✓"), utils.StyleName(name), def, formatRoles(cfg.Nodes))
		}
		utils.PrintSuccess("Configuration is valid")
		return nil
	},
}

// validateSetting rejects values LoadFromViper would silently ignore.
func validateSetting(key, value string) error {
	known := false
	for _, k := range configKeys {
		if k == key {
			known = true
			break
		}
	}
	if !known {
		utils.PrintWarning("'%s' is not a standard settings key", key)
	}

	switch key {
	case "output":
		return validateOutputFormat(value)
	case "server.sweep_interval":
		if d, err := utils.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("invalid duration %q (use e.g. 5m, 1h or 00:05:00)", value)
		}
	case "log.format":
		if value != "console" && value != "json" {
			return fmt.Errorf("invalid log format %q (use console or json)", value)
		}
	}
	return nil
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSaveCmd)
	configCmd.AddCommand(configValidateCmd)

	rootCmd.AddCommand(configCmd)
}
